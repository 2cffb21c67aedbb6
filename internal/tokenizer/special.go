package tokenizer

import (
	"fmt"
	"slices"

	"github.com/oscarAI2/llam4/internal/chatformat"
)

const (
	llama3NumReserved = 256
	llama4NumReserved = 2048
)

// Split patterns. Llama 3 shares the cl100k pre-tokenizer, Llama 4 the
// o200k one.
const (
	llama3Pattern = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`
	llama4Pattern = `[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+(?i:'s|'t|'re|'ve|'m|'ll|'d)?|` +
		`[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*(?i:'s|'t|'re|'ve|'m|'ll|'d)?|` +
		`\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n/]*|\s*[\r\n]+|\s+(?!\S)|\s+`
)

type vocabSpec struct {
	pattern string
	special []string
	bos     string
	eos     string
	stop    []string
}

func llama3Special() []string {
	named := []string{
		"<|begin_of_text|>",
		"<|end_of_text|>",
		"<|reserved_special_token_0|>",
		"<|reserved_special_token_1|>",
		"<|finetune_right_pad_id|>",
		"<|step_id|>",
		"<|start_header_id|>",
		"<|end_header_id|>",
		"<|eom_id|>",
		"<|eot_id|>",
		"<|python_tag|>",
	}
	return padReserved(named, llama3NumReserved, 2)
}

// Llama 4 special tokens are laid out in blocks; reserved slots inside a
// block keep the ids of the named tokens after them stable.
func llama4Special() []string {
	basic := []string{
		"<|begin_of_text|>",
		"<|end_of_text|>",
		"<|fim_prefix|>",
		"<|fim_middle|>",
		"<|fim_suffix|>",
	}
	textPostTrain := []string{
		"<|header_start|>",
		"<|header_end|>",
		"<|eom|>",
		"<|eot|>",
		"<|step|>",
	}
	textPostTrain = append(textPostTrain, reserved("text_post_train", 0, 6)...)
	textPostTrain = append(textPostTrain,
		"<|python_start|>",
		"<|python_end|>",
		"<|finetune_right_pad|>",
	)
	textPostTrain = append(textPostTrain, reserved("text_post_train", 6, 61)...)

	vision := []string{
		"<|image_start|>",
		"<|image_end|>",
		"<|vision_reserved_special_token_0|>",
		"<|vision_reserved_special_token_1|>",
		"<|tile_x_separator|>",
		"<|tile_y_separator|>",
		"<|vision_reserved_special_token_2|>",
		"<|vision_reserved_special_token_3|>",
		"<|vision_reserved_special_token_4|>",
		"<|vision_reserved_special_token_5|>",
		"<|image|>",
		"<|vision_reserved_special_token_6|>",
		"<|patch|>",
	}
	vision = append(vision, reserved("vision", 7, 1041)...)

	reasoning := reserved("reasoning", 0, 8)
	reasoning = append(reasoning, "<|reasoning_thinking_start|>", "<|reasoning_thinking_end|>")

	named := slices.Concat(basic, textPostTrain, vision, reasoning)
	return padReserved(named, llama4NumReserved, 0)
}

// reserved names count block-reserved tokens starting at index first.
func reserved(block string, first, count int) []string {
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("<|%s_reserved_special_token_%d|>", block, first+i)
	}
	return out
}

// padReserved fills named up to total with numbered reserved tokens.
func padReserved(named []string, total, firstIndex int) []string {
	out := make([]string, 0, total)
	out = append(out, named...)
	for i := firstIndex; len(out) < total; i++ {
		out = append(out, fmt.Sprintf("<|reserved_special_token_%d|>", i))
	}
	return out
}

func specFor(format chatformat.Format) (vocabSpec, error) {
	switch format {
	case chatformat.FormatLlama3:
		return vocabSpec{
			pattern: llama3Pattern,
			special: llama3Special(),
			bos:     "<|begin_of_text|>",
			eos:     "<|end_of_text|>",
			stop:    []string{"<|end_of_text|>", "<|eom_id|>", "<|eot_id|>"},
		}, nil
	case chatformat.FormatLlama4:
		return vocabSpec{
			pattern: llama4Pattern,
			special: llama4Special(),
			bos:     "<|begin_of_text|>",
			eos:     "<|end_of_text|>",
			stop:    []string{"<|eot|>", "<|eom|>", "<|end_of_text|>"},
		}, nil
	}
	return vocabSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
