package promptformat

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/oscarAI2/llam4/internal/sku"
)

func render(t *testing.T, id string) string {
	t.Helper()
	m, err := sku.Resolve(id)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	var buf bytes.Buffer
	if err := Render(&buf, m); err != nil {
		t.Fatalf("render %s: %v", id, err)
	}
	return buf.String()
}

func TestRenderLlama4(t *testing.T) {
	t.Parallel()

	out := render(t, "Llama-4-Scout-17B-16E")
	for _, want := range []string{
		"<|begin_of_text|>",
		"| `<|header_start|>` |",
		"<|header_start|>assistant<|header_end|>",
		"## 2. Tool Calling",
		`{"name":"get_weather","parameters":{"city":"San Francisco"}}`,
		"This is a pretrained model.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderInstructStopTokens(t *testing.T) {
	t.Parallel()

	out := render(t, "Llama3.1-8B-Instruct")
	if !strings.Contains(out, "<|start_header_id|>") {
		t.Fatalf("missing llama3 header:\n%s", out)
	}
	if !strings.Contains(out, "stops at `<|eot_id|>` or `<|eom_id|>`") {
		t.Fatalf("missing stop tokens:\n%s", out)
	}
}

func TestRenderLlama2HasNoToolExample(t *testing.T) {
	t.Parallel()

	out := render(t, "Llama-2-7b-chat")
	if !strings.Contains(out, "[INST]") || strings.Contains(out, "Tool Calling") {
		t.Fatalf("unexpected llama2 document:\n%s", out)
	}
}

func TestRenderSafetyModel(t *testing.T) {
	t.Parallel()

	m, err := sku.Resolve("Llama-Guard-3-1B")
	if err != nil {
		t.Fatal(err)
	}
	if err := Render(&bytes.Buffer{}, m); !errors.Is(err, ErrNoPromptFormat) {
		t.Fatalf("expected ErrNoPromptFormat, got %v", err)
	}
}
