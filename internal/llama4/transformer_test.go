package llama4

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/oscarAI2/llam4/internal/checkpoint"
	"github.com/oscarAI2/llam4/internal/quant"
)

func TestParseModelArgsDefaults(t *testing.T) {
	t.Parallel()

	a, err := ParseModelArgs([]byte(`{"dim": 8, "n_layers": 2, "n_heads": 2, "n_kv_heads": 1, "vocab_size": 4,
		"moe_args": {"num_experts": 2, "top_k": 1}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.MultipleOf != 256 || a.RopeTheta != 500000 {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if a.MoE.InterleaveMoELayerStep != 1 || a.NumExperts() != 2 || a.KVHeads() != 1 {
		t.Fatalf("moe = %+v kv = %d", a.MoE, a.KVHeads())
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	base := ModelArgs{Dim: 8, NLayers: 1, NHeads: 2, VocabSize: 4}
	tests := map[string]func(*ModelArgs){
		"heads":      func(a *ModelArgs) { a.NHeads = 3 },
		"kv heads":   func(a *ModelArgs) { a.NKVHeads = 3 },
		"no vocab":   func(a *ModelArgs) { a.VocabSize = 0 },
		"no experts": func(a *ModelArgs) { a.MoE = &MoEArgs{InterleaveMoELayerStep: 1} },
		"top k":      func(a *ModelArgs) { a.MoE = &MoEArgs{NumExperts: 2, TopK: 3, InterleaveMoELayerStep: 1} },
	}
	for name, mutate := range tests {
		a := base
		mutate(&a)
		if err := a.Validate(); !errors.Is(err, ErrInvalidArgs) {
			t.Errorf("%s: expected ErrInvalidArgs, got %v", name, err)
		}
	}
}

func TestFFNHiddenDim(t *testing.T) {
	t.Parallel()

	a := ModelArgs{Dim: 4096, MultipleOf: 1024, FFNDimMultiplier: 1.3}
	// 4*4096*2/3 = 10922, *1.3 = 14198, rounded up to 1024.
	if got := a.FFNHiddenDim(); got != 14336 {
		t.Fatalf("FFNHiddenDim = %d, want 14336", got)
	}
}

func tinyMoEArgs() ModelArgs {
	return ModelArgs{
		Dim: 4, NLayers: 2, NHeads: 2, NKVHeads: 1, VocabSize: 8, MultipleOf: 4,
		MoE: &MoEArgs{NumExperts: 2, InterleaveMoELayerStep: 2},
	}
}

func TestTransformerLayout(t *testing.T) {
	t.Parallel()

	m, err := NewTransformer(tinyMoEArgs(), checkpoint.Parallel{Size: 2, Rank: 1})
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	shapes := map[string][]int{}
	for _, p := range m.Params() {
		shapes[p.Name] = p.Shape
	}
	// hidden = 2*16/3 = 10 -> 12, split over two ranks.
	checks := map[string][]int{
		"tok_embeddings.weight":                        {4, 4},
		"layers.0.attention.wk.weight":                 {2, 4},
		"layers.0.feed_forward.w1.weight":              {6, 4},
		"layers.1.feed_forward.experts.moe_w_out_eF_D": {2, 6, 4},
		"layers.1.feed_forward.w_out_shared_DF.weight": {4, 6},
		"output.weight":                                {4, 4},
	}
	for name, want := range checks {
		got, ok := shapes[name]
		if !ok {
			t.Fatalf("missing %s", name)
		}
		if len(got) != len(want) {
			t.Fatalf("%s shape %v, want %v", name, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("%s shape %v, want %v", name, got, want)
			}
		}
	}
	if _, ok := shapes["layers.1.feed_forward.w1.weight"]; ok {
		t.Fatal("moe layer has a dense ffn")
	}
	if m.NumParams() <= 0 {
		t.Fatal("expected parameters")
	}
}

func TestTransformerRejectsUnevenSplit(t *testing.T) {
	t.Parallel()

	if _, err := NewTransformer(tinyMoEArgs(), checkpoint.Parallel{Size: 3}); err == nil {
		t.Fatal("expected error for 2 heads over 3 ranks")
	}
}

func TestLoadStateDictAndQuantize(t *testing.T) {
	t.Parallel()

	m, err := NewTransformer(tinyMoEArgs(), checkpoint.Parallel{Size: 1})
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	w1, err := checkpoint.FromFloat32(checkpoint.BF16, []int{12, 4}, make([]float32, 48))
	if err != nil {
		t.Fatal(err)
	}
	norm, err := checkpoint.FromFloat32(checkpoint.BF16, []int{4}, []float32{1, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := m.LoadStateDict(checkpoint.StateDict{
		"layers.0.feed_forward.w1.weight": w1,
		"norm.weight":                     norm,
		"rope.freqs":                      norm,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rep.Unexpected) != 1 || rep.Unexpected[0] != "rope.freqs" {
		t.Fatalf("unexpected = %v", rep.Unexpected)
	}
	if len(rep.Missing) != len(m.Params())-2 {
		t.Fatalf("missing %d of %d", len(rep.Missing), len(m.Params()))
	}

	if err := m.Quantize(context.Background(), quant.ModeFP8Mixed); err != nil {
		t.Fatalf("quantize: %v", err)
	}
	q, _ := m.Param("layers.0.feed_forward.w1.weight")
	if q.DType != checkpoint.F8E4M3 {
		t.Fatalf("w1 dtype = %s", q.DType)
	}
	if _, ok := m.Param("layers.0.feed_forward.w1.weight" + quant.ScaleSuffix); !ok {
		t.Fatal("missing scale tensor")
	}
	if n, _ := m.Param("norm.weight"); n.DType != checkpoint.BF16 {
		t.Fatalf("norm quantized to %s", n.DType)
	}
	if err := m.Quantize(context.Background(), quant.ModeInt4Mixed); !errors.Is(err, quant.ErrUnsupportedMode) {
		t.Fatalf("requantize: expected ErrUnsupportedMode, got %v", err)
	}
}

func TestLoadStateDictShapeMismatch(t *testing.T) {
	t.Parallel()

	m, err := NewTransformer(tinyMoEArgs(), checkpoint.Parallel{Size: 1})
	if err != nil {
		t.Fatal(err)
	}
	bad, _ := checkpoint.FromFloat32(checkpoint.F32, []int{3}, []float32{1, 2, 3})
	_, err = m.LoadStateDict(checkpoint.StateDict{"norm.weight": bad})
	if !errors.Is(err, checkpoint.ErrShape) || !strings.Contains(err.Error(), "norm.weight") {
		t.Fatalf("expected shape error, got %v", err)
	}
}
