package chatformat

import "strings"

// headerTokens are the framing tokens of the header-style dialog formats
// used from Llama 3 onwards.
type headerTokens struct {
	headerStart string
	headerEnd   string
	endOfTurn   string
	endOfMsg    string
	pythonStart string
	pythonEnd   string
}

var llama3Tokens = headerTokens{
	headerStart: "<|start_header_id|>",
	headerEnd:   "<|end_header_id|>",
	endOfTurn:   "<|eot_id|>",
	endOfMsg:    "<|eom_id|>",
	pythonStart: "<|python_tag|>",
}

func renderLlama3(opts RenderOptions) (string, error) {
	return renderHeaderDialog(opts, llama3Tokens)
}

func renderHeaderDialog(opts RenderOptions, tok headerTokens) (string, error) {
	var b strings.Builder
	b.WriteString(BeginOfText)

	for _, m := range opts.Messages {
		writeHeader(&b, tok, normalizeRole(m.Role))
		b.WriteString(m.Content)

		if len(m.ToolCalls) == 0 {
			b.WriteString(tok.endOfTurn)
			continue
		}
		for _, tc := range m.ToolCalls {
			call, err := toolCallJSON(tc)
			if err != nil {
				return "", err
			}
			b.WriteString(tok.pythonStart)
			b.WriteString(call)
			b.WriteString(tok.pythonEnd)
		}
		// A tool call hands control back to the caller without ending the turn.
		b.WriteString(tok.endOfMsg)
	}

	if opts.AddGenerationPrompt {
		writeHeader(&b, tok, RoleAssistant)
	}
	return b.String(), nil
}

func writeHeader(b *strings.Builder, tok headerTokens, role string) {
	b.WriteString(tok.headerStart)
	b.WriteString(role)
	b.WriteString(tok.headerEnd)
	b.WriteString("\n\n")
}
