package llama4

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/oscarAI2/llam4/internal/checkpoint"
	"github.com/oscarAI2/llam4/internal/quant"
)

// ParamSpec is the rank-local shape of one parameter.
type ParamSpec struct {
	Name  string
	Shape []int
}

// Transformer is the rank-local parameter table of a Llama 4 text model.
// It holds weights; it does not run them.
type Transformer struct {
	Args     ModelArgs
	Parallel checkpoint.Parallel
	Mode     quant.Mode

	specs  []ParamSpec
	index  map[string]int
	params checkpoint.StateDict
}

// LoadReport lists keys a non-strict load skipped.
type LoadReport struct {
	Missing    []string
	Unexpected []string
}

// NewTransformer lays out the parameters rank p.Rank owns.
func NewTransformer(args ModelArgs, p checkpoint.Parallel) (*Transformer, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if p.Size < 1 || p.Rank < 0 || p.Rank >= p.Size {
		return nil, fmt.Errorf("llama4: invalid model parallel rank %d of %d", p.Rank, p.Size)
	}
	specs, err := layout(args, p.Size)
	if err != nil {
		return nil, err
	}
	t := &Transformer{
		Args:     args,
		Parallel: p,
		Mode:     quant.ModeBF16,
		specs:    specs,
		index:    make(map[string]int, len(specs)),
		params:   checkpoint.StateDict{},
	}
	for i, s := range specs {
		t.index[s.Name] = i
	}
	return t, nil
}

func split(n, size int, what string) (int, error) {
	if n%size != 0 {
		return 0, fmt.Errorf("llama4: %s %d not divisible by model parallel size %d", what, n, size)
	}
	return n / size, nil
}

func layout(a ModelArgs, mp int) ([]ParamSpec, error) {
	hd := a.headDim()
	heads, err := split(a.NHeads, mp, "n_heads")
	if err != nil {
		return nil, err
	}
	// Resharding repeats key/value heads when there are fewer than ranks.
	kv := max(a.KVHeads()/mp, 1)
	vocab, err := split(a.VocabSize, mp, "vocab_size")
	if err != nil {
		return nil, err
	}
	hidden, err := split(a.FFNHiddenDim(), mp, "ffn hidden dim")
	if err != nil {
		return nil, err
	}
	d := a.Dim

	specs := []ParamSpec{{"tok_embeddings.weight", []int{vocab, d}}}
	for i := range a.NLayers {
		p := fmt.Sprintf("layers.%d.", i)
		specs = append(specs,
			ParamSpec{p + "attention.wq.weight", []int{heads * hd, d}},
			ParamSpec{p + "attention.wk.weight", []int{kv * hd, d}},
			ParamSpec{p + "attention.wv.weight", []int{kv * hd, d}},
			ParamSpec{p + "attention.wo.weight", []int{d, heads * hd}},
			ParamSpec{p + "attention_norm.weight", []int{d}},
			ParamSpec{p + "ffn_norm.weight", []int{d}},
		)
		if !a.IsMoELayer(i) {
			specs = append(specs,
				ParamSpec{p + "feed_forward.w1.weight", []int{hidden, d}},
				ParamSpec{p + "feed_forward.w2.weight", []int{d, hidden}},
				ParamSpec{p + "feed_forward.w3.weight", []int{hidden, d}},
			)
			continue
		}
		e := a.MoE.NumExperts
		specs = append(specs,
			ParamSpec{p + "feed_forward.router_DE", []int{d, e}},
			ParamSpec{p + "feed_forward.experts.moe_w_in_eD_F", []int{e, d, hidden}},
			ParamSpec{p + "feed_forward.experts.moe_w_swiglu_eD_F", []int{e, d, hidden}},
			ParamSpec{p + "feed_forward.experts.moe_w_out_eF_D", []int{e, hidden, d}},
			ParamSpec{p + "feed_forward.w_in_shared_FD.weight", []int{hidden, d}},
			ParamSpec{p + "feed_forward.w_swiglu_FD.weight", []int{hidden, d}},
			ParamSpec{p + "feed_forward.w_out_shared_DF.weight", []int{d, hidden}},
		)
	}
	specs = append(specs,
		ParamSpec{"norm.weight", []int{d}},
		ParamSpec{"output.weight", []int{vocab, d}},
	)
	return specs, nil
}

// Params returns the parameter layout in construction order.
func (t *Transformer) Params() []ParamSpec { return t.specs }

// Param returns a loaded weight.
func (t *Transformer) Param(name string) (*checkpoint.Tensor, bool) {
	w, ok := t.params[name]
	return w, ok
}

// NumParams counts the rank-local elements of the layout.
func (t *Transformer) NumParams() int {
	n := 0
	for _, s := range t.specs {
		c := 1
		for _, d := range s.Shape {
			c *= d
		}
		n += c
	}
	return n
}

// LoadStateDict copies matching weights in. It is not strict: absent and
// unknown keys are reported, shape mismatches are errors. A checkpoint
// whose feed-forward weights are already quantized sets Mode; their
// "<key>.scale" companions are loaded alongside.
func (t *Transformer) LoadStateDict(sd checkpoint.StateDict) (LoadReport, error) {
	var rep LoadReport
	mode, err := quant.DetectMode(sd)
	if err != nil {
		return rep, err
	}
	if mode != quant.ModeBF16 && t.Mode != quant.ModeBF16 && mode != t.Mode {
		return rep, fmt.Errorf("%w: model holds %s weights, checkpoint is %s", quant.ErrUnsupportedMode, t.Mode, mode)
	}

	for _, key := range sd.Keys() {
		w := sd[key]
		if base, ok := strings.CutSuffix(key, quant.ScaleSuffix); ok && mode != quant.ModeBF16 {
			if i, ok := t.index[base]; ok && quant.ShouldQuantize(base, mode) {
				if want := quant.ScaleShape(t.specs[i].Shape); !slices.Equal(w.Shape, want) {
					return rep, fmt.Errorf("%w: %s is %v, model expects %v", checkpoint.ErrShape, key, w.Shape, want)
				}
				t.params[key] = w
				continue
			}
		}
		i, ok := t.index[key]
		if !ok {
			rep.Unexpected = append(rep.Unexpected, key)
			continue
		}
		want := t.specs[i].Shape
		if mode != quant.ModeBF16 && quant.ShouldQuantize(key, mode) && w.DType == quant.WeightDType(mode) {
			want = quant.WeightShape(want, mode)
		}
		if !slices.Equal(w.Shape, want) {
			return rep, fmt.Errorf("%w: %s is %v, model expects %v", checkpoint.ErrShape, key, w.Shape, want)
		}
		t.params[key] = w
	}
	for _, s := range t.specs {
		if _, ok := t.params[s.Name]; !ok {
			rep.Missing = append(rep.Missing, s.Name)
		}
	}
	sort.Strings(rep.Unexpected)
	if mode != quant.ModeBF16 {
		t.Mode = mode
	}
	return rep, nil
}

// Quantize converts the loaded feed-forward and expert weights to mode.
// Weights loaded already quantized to mode are kept.
func (t *Transformer) Quantize(ctx context.Context, mode quant.Mode) error {
	if mode == quant.ModeBF16 {
		return nil
	}
	if t.Mode != quant.ModeBF16 && t.Mode != mode {
		return fmt.Errorf("%w: already quantized to %s", quant.ErrUnsupportedMode, t.Mode)
	}
	out, err := quant.QuantizeStateDict(ctx, t.params, mode)
	if err != nil {
		return err
	}
	t.params = out
	t.Mode = mode
	return nil
}
