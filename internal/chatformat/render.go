// Package chatformat turns dialogs into the raw prompt text each Llama
// generation was trained on.
package chatformat

import (
	"errors"
	"fmt"

	"github.com/oscarAI2/llam4/internal/sku"
)

// Format names a dialog encoding.
type Format string

const (
	FormatLlama2 Format = "llama2"
	FormatLlama3 Format = "llama3"
	FormatLlama4 Format = "llama4"
)

var (
	ErrUnknownRole   = errors.New("unknown message role")
	ErrUnknownFormat = errors.New("unknown dialog format")
)

// BeginOfText is the first token of every Llama 3 and Llama 4 prompt.
const BeginOfText = "<|begin_of_text|>"

// ForModel picks the dialog format a catalog model expects.
func ForModel(m sku.Model) Format {
	switch m.Family {
	case sku.FamilyLlama2:
		return FormatLlama2
	case sku.FamilyLlama4:
		return FormatLlama4
	case sku.FamilySafety:
		if v, ok := m.ArchArgs["vocab_size"].(int); ok && v > 200000 {
			return FormatLlama4
		}
		return FormatLlama3
	default:
		return FormatLlama3
	}
}

// Render encodes opts.Messages as a single prompt string.
func Render(opts RenderOptions) (string, error) {
	for i, m := range opts.Messages {
		if !validRole(m.Role) {
			return "", fmt.Errorf("message %d: %w: %q", i, ErrUnknownRole, m.Role)
		}
	}
	switch opts.Format {
	case FormatLlama2:
		return renderLlama2(opts)
	case FormatLlama3:
		return renderLlama3(opts)
	case FormatLlama4:
		return renderLlama4(opts)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

// Formatter renders dialogs for one fixed format.
type Formatter struct {
	Format Format
}

func NewFormatter(f Format) *Formatter { return &Formatter{Format: f} }

// Dialog renders messages, optionally leaving the assistant header open
// for generation.
func (f *Formatter) Dialog(messages []Message, addGenerationPrompt bool) (string, error) {
	return Render(RenderOptions{
		Format:              f.Format,
		Messages:            messages,
		AddGenerationPrompt: addGenerationPrompt,
	})
}
