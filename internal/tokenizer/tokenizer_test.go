package tokenizer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oscarAI2/llam4/internal/chatformat"
)

// writeByteVocab writes a tokenizer.model whose ranks are the 256 single
// bytes, so every byte encodes to its own value.
func writeByteVocab(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&b, "%s %d\n", base64.StdEncoding.EncodeToString([]byte{byte(i)}), i)
	}
	path := filepath.Join(t.TempDir(), "tokenizer.model")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return path
}

func TestLoadLlama4(t *testing.T) {
	t.Parallel()

	tok, err := Load(writeByteVocab(t), chatformat.FormatLlama4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tok.NWords() != 256+llama4NumReserved {
		t.Fatalf("NWords = %d", tok.NWords())
	}
	if tok.BOSID() != 256 {
		t.Fatalf("BOSID = %d", tok.BOSID())
	}
	id, ok := tok.SpecialID("<|eot|>")
	if !ok {
		t.Fatal("missing <|eot|>")
	}
	if stops := tok.StopTokens(); stops[0] != id {
		t.Fatalf("stop tokens = %v, want first %d", stops, id)
	}
}

func TestLlama4SpecialIDs(t *testing.T) {
	t.Parallel()

	tok, err := Load(writeByteVocab(t), chatformat.FormatLlama4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := len(llama4Special()); n != llama4NumReserved {
		t.Fatalf("special count = %d, want %d", n, llama4NumReserved)
	}
	base := tok.NWords() - llama4NumReserved
	for name, off := range map[string]int{
		"<|begin_of_text|>":            0,
		"<|header_start|>":             5,
		"<|eot|>":                      8,
		"<|python_start|>":             16,
		"<|python_end|>":               17,
		"<|finetune_right_pad|>":       18,
		"<|image_start|>":              80,
		"<|image|>":                    90,
		"<|patch|>":                    92,
		"<|reasoning_thinking_start|>": 1142,
		"<|reasoning_thinking_end|>":   1143,
		"<|reserved_special_token_0|>": 1144,
	} {
		id, ok := tok.SpecialID(name)
		if !ok {
			t.Fatalf("missing %s", name)
		}
		if id != base+off {
			t.Fatalf("%s = %d, want %d", name, id, base+off)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	tok, err := Load(writeByteVocab(t), chatformat.FormatLlama3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tok.NWords() != 256+llama3NumReserved {
		t.Fatalf("NWords = %d", tok.NWords())
	}

	ids := tok.Encode("hi", true, true)
	want := []int{tok.BOSID(), 'h', 'i', tok.EOSID()}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("Encode = %v, want %v", ids, want)
	}
	if got := tok.Decode(ids[1:3]); got != "hi" {
		t.Fatalf("Decode = %q", got)
	}
}

func TestEncodeTreatsSpecialLiteralsAsText(t *testing.T) {
	t.Parallel()

	tok, err := Load(writeByteVocab(t), chatformat.FormatLlama3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	plain := tok.Encode("<|eot_id|>", false, false)
	if len(plain) != len("<|eot_id|>") {
		t.Fatalf("expected byte-level encoding, got %v", plain)
	}

	eot, _ := tok.SpecialID("<|eot_id|>")
	dialog := tok.EncodeDialog("x<|eot_id|>")
	if fmt.Sprint(dialog) != fmt.Sprint([]int{'x', eot}) {
		t.Fatalf("EncodeDialog = %v", dialog)
	}
}

func TestReadRanksMalformed(t *testing.T) {
	t.Parallel()

	tests := []string{
		"",
		"aGk=\n",
		"!!! 1\n",
		"aGk= one\n",
	}
	for _, in := range tests {
		if _, err := ReadRanks(strings.NewReader(in)); !errors.Is(err, ErrMalformedModel) {
			t.Errorf("ReadRanks(%q): expected ErrMalformedModel, got %v", in, err)
		}
	}
}

func TestNewUnsupportedFormat(t *testing.T) {
	t.Parallel()

	if _, err := New(map[string]int{"a": 0}, chatformat.FormatLlama2); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSplitRuns(t *testing.T) {
	t.Parallel()

	in := []rune(strings.Repeat("a", 5) + strings.Repeat(" ", 3))
	parts := splitRuns(in, 2)
	if strings.Join(parts, "") != string(in) {
		t.Fatalf("split lost data: %q", parts)
	}
	for _, p := range parts {
		if strings.Contains(p, "aaa") || strings.Contains(p, "   ") {
			t.Fatalf("run longer than limit in %q", parts)
		}
	}
}
