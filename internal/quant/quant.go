// Package quant implements the weight quantization modes accepted by
// llama-model: rowwise FP8 (e4m3fn) and rowwise symmetric int4 for the
// feed-forward and expert weights, leaving everything else in bf16.
package quant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oscarAI2/llam4/internal/checkpoint"
)

type Mode string

const (
	ModeBF16      Mode = "bf16"
	ModeFP8Mixed  Mode = "fp8_mixed"
	ModeInt4Mixed Mode = "int4_mixed"
)

var ErrUnsupportedMode = errors.New("quant: unsupported quantization mode")

// Modes lists the accepted values in help-text order.
func Modes() []Mode { return []Mode{ModeBF16, ModeFP8Mixed, ModeInt4Mixed} }

// ParseMode accepts the mode names case-insensitively. An empty string
// means bf16.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBF16:
		return ModeBF16, nil
	case ModeFP8Mixed:
		return ModeFP8Mixed, nil
	case ModeInt4Mixed:
		return ModeInt4Mixed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}

// ScaleSuffix names the companion tensor holding per-row scales.
const ScaleSuffix = ".scale"

// Quantized is a weight stored at reduced precision with one float32
// scale per row. Rows are every dim but the last.
type Quantized struct {
	Mode   Mode
	Weight *checkpoint.Tensor
	Scale  *checkpoint.Tensor
	Cols   int
}

// Scheme quantizes one tensor.
type Scheme interface {
	Name() string
	Quantize(t *checkpoint.Tensor) (*Quantized, error)
}

// SchemeFor returns the scheme of a mixed mode. bf16 has none.
func SchemeFor(m Mode) (Scheme, error) {
	switch m {
	case ModeFP8Mixed:
		return fp8Rowwise{}, nil
	case ModeInt4Mixed:
		return int4Rowwise{}, nil
	}
	return nil, fmt.Errorf("%w: %q has no scheme", ErrUnsupportedMode, m)
}

var quantizableRegex = regexp.MustCompile(
	`feed_forward\.(w1|w2|w3|w13)\.weight|` +
		`feed_forward\.experts\.|` +
		`feed_forward\.(w_in_shared_FD|w_out_shared_DF|w_swiglu_FD)`)

// ShouldQuantize reports whether key is converted under mode. Only
// feed-forward and routed expert matrices are; attention, norms and
// embeddings keep full precision.
func ShouldQuantize(key string, mode Mode) bool {
	if mode != ModeFP8Mixed && mode != ModeInt4Mixed {
		return false
	}
	if strings.HasSuffix(key, ScaleSuffix) {
		return false
	}
	return quantizableRegex.MatchString(key)
}

// QuantizeStateDict returns a copy of sd with every quantizable matrix
// replaced by its quantized weight and a "<key>.scale" tensor. Weights
// already stored in mode are kept with their scales.
func QuantizeStateDict(ctx context.Context, sd checkpoint.StateDict, mode Mode) (checkpoint.StateDict, error) {
	if mode == ModeBF16 {
		return sd, nil
	}
	scheme, err := SchemeFor(mode)
	if err != nil {
		return nil, err
	}
	have, err := DetectMode(sd)
	if err != nil {
		return nil, err
	}
	if have != ModeBF16 && have != mode {
		return nil, fmt.Errorf("%w: weights are already %s, cannot convert to %s", ErrUnsupportedMode, have, mode)
	}

	out := make(checkpoint.StateDict, len(sd))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, key := range sd.Keys() {
		t := sd[key]
		if !ShouldQuantize(key, mode) || len(t.Shape) < 2 {
			out[key] = t
			continue
		}
		if _, ok := modeOf(t); ok {
			out[key] = t
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			q, err := scheme.Quantize(t)
			if err != nil {
				return fmt.Errorf("%s %s: %w", scheme.Name(), key, err)
			}
			mu.Lock()
			out[key] = q.Weight
			out[key+ScaleSuffix] = q.Scale
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// rows views t as a matrix of rows x cols float32 values.
func rows(t *checkpoint.Tensor) ([]float32, int, int, error) {
	if len(t.Shape) < 2 {
		return nil, 0, 0, fmt.Errorf("quant: need a matrix, have %s", t)
	}
	vals, err := t.Float32s()
	if err != nil {
		return nil, 0, 0, err
	}
	cols := t.Shape[len(t.Shape)-1]
	if cols == 0 {
		return nil, 0, 0, fmt.Errorf("quant: empty rows in %s", t)
	}
	return vals, len(vals) / cols, cols, nil
}

func rowShape(t *checkpoint.Tensor) []int {
	return append([]int(nil), t.Shape[:len(t.Shape)-1]...)
}

// DequantizeRow reconstructs row i as float32.
func (q *Quantized) DequantizeRow(i int) ([]float32, error) {
	scales, err := q.Scale.Float32s()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(scales) {
		return nil, fmt.Errorf("quant: row %d out of range [0, %d)", i, len(scales))
	}
	s := scales[i]
	out := make([]float32, q.Cols)
	switch q.Mode {
	case ModeFP8Mixed:
		row := q.Weight.Data[i*q.Cols : (i+1)*q.Cols]
		for j, b := range row {
			out[j] = fromE4M3(b) * s
		}
	case ModeInt4Mixed:
		stride := (q.Cols + 1) / 2
		row := q.Weight.Data[i*stride : (i+1)*stride]
		for j := range out {
			out[j] = float32(unpackInt4(row, j)) * s
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, q.Mode)
	}
	return out, nil
}
