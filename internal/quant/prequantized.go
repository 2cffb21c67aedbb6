package quant

import (
	"fmt"
	"slices"

	"github.com/oscarAI2/llam4/internal/checkpoint"
)

// WeightDType is the on-disk dtype of a quantized weight under mode.
func WeightDType(mode Mode) checkpoint.DType {
	switch mode {
	case ModeFP8Mixed:
		return checkpoint.F8E4M3
	case ModeInt4Mixed:
		return checkpoint.U8
	}
	return checkpoint.BF16
}

// WeightShape is the stored shape of a weight of full-precision shape
// under mode. int4 packs two values per byte along the last dim.
func WeightShape(shape []int, mode Mode) []int {
	out := slices.Clone(shape)
	if mode == ModeInt4Mixed && len(out) > 0 {
		out[len(out)-1] = (out[len(out)-1] + 1) / 2
	}
	return out
}

// ScaleShape is the shape of the per-row scale of a weight.
func ScaleShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	return slices.Clone(shape[:len(shape)-1])
}

// modeOf reports the mode a quantizable tensor is already stored in.
func modeOf(t *checkpoint.Tensor) (Mode, bool) {
	switch t.DType {
	case checkpoint.F8E4M3:
		return ModeFP8Mixed, true
	case checkpoint.U8:
		return ModeInt4Mixed, true
	}
	return ModeBF16, false
}

// DetectMode reports the mode sd was quantized with, or bf16 for a full
// precision state dict. Quantized weights must carry a scale and all of
// them must agree.
func DetectMode(sd checkpoint.StateDict) (Mode, error) {
	found := ModeBF16
	for _, key := range sd.Keys() {
		if !ShouldQuantize(key, ModeFP8Mixed) {
			continue
		}
		m, ok := modeOf(sd[key])
		if !ok {
			continue
		}
		if _, ok := sd[key+ScaleSuffix]; !ok {
			return "", fmt.Errorf("%w: %s is %s without %s", ErrUnsupportedMode, key, sd[key].DType, key+ScaleSuffix)
		}
		if found != ModeBF16 && found != m {
			return "", fmt.Errorf("%w: checkpoint mixes %s and %s weights", ErrUnsupportedMode, found, m)
		}
		found = m
	}
	return found, nil
}
