// Package llama4 constructs a rank-local Llama 4 model from a checkpoint
// directory: process group setup, params.json, tokenizer, resharded and
// optionally quantized weights.
package llama4

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var ErrInvalidArgs = errors.New("llama4: invalid model args")

type MoEArgs struct {
	NumExperts             int     `json:"num_experts"`
	CapacityFactor         float64 `json:"capacity_factor,omitempty"`
	AutoScaleF             bool    `json:"auto_scale_F,omitempty"`
	TopK                   int     `json:"top_k,omitempty"`
	InterleaveMoELayerStep int     `json:"interleave_moe_layer_step,omitempty"`
}

type QuantizationArgs struct {
	Scheme           string `json:"scheme,omitempty"`
	GroupSize        int    `json:"group_size,omitempty"`
	SpinquantEnabled bool   `json:"spinquant,omitempty"`
}

// ModelArgs mirrors params.json. MaxSeqLen and MaxBatchSize come from the
// caller, not the checkpoint.
type ModelArgs struct {
	Dim               int     `json:"dim"`
	NLayers           int     `json:"n_layers"`
	NHeads            int     `json:"n_heads"`
	NKVHeads          int     `json:"n_kv_heads,omitempty"`
	HeadDim           int     `json:"head_dim,omitempty"`
	VocabSize         int     `json:"vocab_size"`
	MultipleOf        int     `json:"multiple_of,omitempty"`
	FFNDimMultiplier  float64 `json:"ffn_dim_multiplier,omitempty"`
	FFNExp            float64 `json:"ffn_exp,omitempty"`
	NormEps           float64 `json:"norm_eps,omitempty"`
	RopeTheta         float64 `json:"rope_theta,omitempty"`
	UseScaledRope     bool    `json:"use_scaled_rope,omitempty"`
	RopeScalingFactor float64 `json:"rope_scaling_factor,omitempty"`
	RopeHighFreq      float64 `json:"rope_high_freq_factor,omitempty"`
	NoPELayerInterval int     `json:"nope_layer_interval,omitempty"`
	UseQKNorm         bool    `json:"use_qk_norm,omitempty"`
	AttnChunkSize     int     `json:"attention_chunk_size,omitempty"`
	AttnTemperature   bool    `json:"attn_temperature_tuning,omitempty"`

	MoE          *MoEArgs          `json:"moe_args,omitempty"`
	Quantization *QuantizationArgs `json:"quantization_args,omitempty"`

	MaxBatchSize int `json:"max_batch_size"`
	MaxSeqLen    int `json:"max_seq_len"`
}

// ParseModelArgs decodes params.json and applies defaults.
func ParseModelArgs(data []byte) (ModelArgs, error) {
	var a ModelArgs
	if err := json.Unmarshal(data, &a); err != nil {
		return ModelArgs{}, fmt.Errorf("parse params.json: %w", err)
	}
	if a.MultipleOf == 0 {
		a.MultipleOf = 256
	}
	if a.NormEps == 0 {
		a.NormEps = 1e-5
	}
	if a.RopeTheta == 0 {
		a.RopeTheta = 500000
	}
	if a.MoE != nil && a.MoE.InterleaveMoELayerStep == 0 {
		a.MoE.InterleaveMoELayerStep = 1
	}
	return a, nil
}

// KVHeads is n_kv_heads, defaulting to n_heads.
func (a ModelArgs) KVHeads() int {
	if a.NKVHeads > 0 {
		return a.NKVHeads
	}
	return a.NHeads
}

func (a ModelArgs) headDim() int {
	if a.HeadDim > 0 {
		return a.HeadDim
	}
	return a.Dim / a.NHeads
}

// NumExperts is 0 for dense models.
func (a ModelArgs) NumExperts() int {
	if a.MoE == nil {
		return 0
	}
	return a.MoE.NumExperts
}

// IsMoELayer reports whether layer i routes through experts.
func (a ModelArgs) IsMoELayer(i int) bool {
	return a.MoE != nil && a.MoE.NumExperts > 0 && (i+1)%a.MoE.InterleaveMoELayerStep == 0
}

// FFNHiddenDim is the SwiGLU hidden size before model parallel splitting.
func (a ModelArgs) FFNHiddenDim() int {
	hidden := 4 * a.Dim
	if a.FFNExp > 0 {
		hidden = int(a.FFNExp * float64(a.Dim))
	}
	hidden = 2 * hidden / 3
	if a.FFNDimMultiplier > 0 {
		hidden = int(a.FFNDimMultiplier * float64(hidden))
	}
	m := a.MultipleOf
	if m <= 0 {
		m = 1
	}
	return m * ((hidden + m - 1) / m)
}

func (a ModelArgs) Validate() error {
	switch {
	case a.Dim <= 0:
		return fmt.Errorf("%w: dim=%d", ErrInvalidArgs, a.Dim)
	case a.NLayers <= 0:
		return fmt.Errorf("%w: n_layers=%d", ErrInvalidArgs, a.NLayers)
	case a.NHeads <= 0:
		return fmt.Errorf("%w: n_heads=%d", ErrInvalidArgs, a.NHeads)
	case a.VocabSize <= 0:
		return fmt.Errorf("%w: vocab_size=%d", ErrInvalidArgs, a.VocabSize)
	case a.HeadDim == 0 && a.Dim%a.NHeads != 0:
		return fmt.Errorf("%w: dim %d not divisible by n_heads %d", ErrInvalidArgs, a.Dim, a.NHeads)
	case a.NKVHeads < 0 || (a.NKVHeads > 0 && a.NHeads%a.NKVHeads != 0):
		return fmt.Errorf("%w: n_heads %d not divisible by n_kv_heads %d", ErrInvalidArgs, a.NHeads, a.NKVHeads)
	case a.MaxSeqLen < 0 || a.MaxBatchSize < 0:
		return fmt.Errorf("%w: max_seq_len=%d max_batch_size=%d", ErrInvalidArgs, a.MaxSeqLen, a.MaxBatchSize)
	}
	if a.MoE != nil {
		if a.MoE.NumExperts <= 0 {
			return fmt.Errorf("%w: moe_args.num_experts=%d", ErrInvalidArgs, a.MoE.NumExperts)
		}
		if a.MoE.InterleaveMoELayerStep < 1 {
			return fmt.Errorf("%w: moe_args.interleave_moe_layer_step=%d", ErrInvalidArgs, a.MoE.InterleaveMoELayerStep)
		}
		if a.MoE.TopK > a.MoE.NumExperts {
			return fmt.Errorf("%w: moe_args.top_k %d exceeds %d experts", ErrInvalidArgs, a.MoE.TopK, a.MoE.NumExperts)
		}
	}
	return nil
}
