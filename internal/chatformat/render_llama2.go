package chatformat

import "strings"

const (
	llama2BOS   = "<s>"
	llama2EOS   = "</s>"
	llama2InstB = "[INST]"
	llama2InstE = "[/INST]"
	llama2SysB  = "<<SYS>>\n"
	llama2SysE  = "\n<</SYS>>\n\n"
)

// renderLlama2 follows the chat-model convention: the system prompt is
// folded into the first user turn and each user/assistant pair is wrapped
// in its own BOS/EOS.
func renderLlama2(opts RenderOptions) (string, error) {
	var b strings.Builder

	msgs := opts.Messages
	system := ""
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		system = msgs[0].Content
		msgs = msgs[1:]
	}

	first := true
	open := false
	for _, m := range msgs {
		switch normalizeRole(m.Role) {
		case RoleUser, RoleIPython:
			if open {
				b.WriteString(" " + llama2InstE)
			}
			b.WriteString(llama2BOS)
			b.WriteString(llama2InstB + " ")
			if first && system != "" {
				b.WriteString(llama2SysB + strings.TrimSpace(system) + llama2SysE)
			}
			first = false
			b.WriteString(strings.TrimSpace(m.Content))
			open = true
		case RoleAssistant:
			if open {
				b.WriteString(" " + llama2InstE)
				open = false
			}
			b.WriteString(" " + strings.TrimSpace(m.Content) + " ")
			b.WriteString(llama2EOS)
		}
	}
	if open {
		b.WriteString(" " + llama2InstE)
	}
	return b.String(), nil
}
