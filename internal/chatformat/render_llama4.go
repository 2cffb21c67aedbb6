package chatformat

var llama4Tokens = headerTokens{
	headerStart: "<|header_start|>",
	headerEnd:   "<|header_end|>",
	endOfTurn:   "<|eot|>",
	endOfMsg:    "<|eom|>",
	pythonStart: "<|python_start|>",
	pythonEnd:   "<|python_end|>",
}

func renderLlama4(opts RenderOptions) (string, error) {
	return renderHeaderDialog(opts, llama4Tokens)
}

// Tokens returns the special token literals a format emits, in the order
// they are documented.
func Tokens(f Format) []string {
	switch f {
	case FormatLlama2:
		return []string{llama2BOS, llama2EOS, llama2InstB, llama2InstE, "<<SYS>>", "<</SYS>>"}
	case FormatLlama3:
		return headerTokenList(llama3Tokens)
	case FormatLlama4:
		return headerTokenList(llama4Tokens)
	}
	return nil
}

func headerTokenList(tok headerTokens) []string {
	out := []string{BeginOfText, tok.headerStart, tok.headerEnd, tok.endOfTurn, tok.endOfMsg, tok.pythonStart}
	if tok.pythonEnd != "" {
		out = append(out, tok.pythonEnd)
	}
	return out
}
