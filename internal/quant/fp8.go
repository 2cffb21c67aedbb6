package quant

import (
	"math"

	"github.com/oscarAI2/llam4/internal/checkpoint"
)

// fp8Max is the largest finite e4m3fn value.
const fp8Max = 448.0

type fp8Rowwise struct{}

func (fp8Rowwise) Name() string { return "fp8_rowwise" }

func (fp8Rowwise) Quantize(t *checkpoint.Tensor) (*Quantized, error) {
	return QuantizeFP8Rowwise(t)
}

// QuantizeFP8Rowwise scales each row so its largest magnitude maps to 448
// and stores the result as e4m3fn bytes.
func QuantizeFP8Rowwise(t *checkpoint.Tensor) (*Quantized, error) {
	vals, nrows, cols, err := rows(t)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(vals))
	scales := make([]float32, nrows)
	for r := range nrows {
		row := vals[r*cols : (r+1)*cols]
		scale := absMax(row) / fp8Max
		if scale == 0 {
			scale = 1
		}
		scales[r] = scale
		for j, v := range row {
			data[r*cols+j] = toE4M3(v / scale)
		}
	}
	w, err := checkpoint.NewTensor(checkpoint.F8E4M3, t.Shape, data)
	if err != nil {
		return nil, err
	}
	s, err := checkpoint.FromFloat32(checkpoint.F32, rowShape(t), scales)
	if err != nil {
		return nil, err
	}
	return &Quantized{Mode: ModeFP8Mixed, Weight: w, Scale: s, Cols: cols}, nil
}

func absMax(row []float32) float32 {
	var m float32
	for _, v := range row {
		if a := float32(math.Abs(float64(v))); a > m {
			m = a
		}
	}
	return m
}

// toE4M3 rounds f to nearest even e4m3fn, saturating at +-448.
func toE4M3(f float32) uint8 {
	var sign uint8
	if math.Signbit(float64(f)) {
		sign = 0x80
		f = -f
	}
	switch {
	case math.IsNaN(float64(f)):
		return 0x7F
	case f == 0:
		return sign
	case f >= fp8Max:
		return sign | 0x7E
	}

	_, e := math.Frexp(float64(f))
	exp := e - 1
	if exp < -6 {
		// Subnormal: multiples of 2^-9. k == 8 is the smallest normal.
		k := math.RoundToEven(float64(f) * 512)
		return sign | uint8(k)
	}
	m := math.RoundToEven((float64(f)/math.Ldexp(1, exp) - 1) * 8)
	if m == 8 {
		m = 0
		exp++
	}
	biased := exp + 7
	if biased > 15 || (biased == 15 && m == 7) {
		return sign | 0x7E
	}
	return sign | uint8(biased)<<3 | uint8(m)
}

func fromE4M3(b uint8) float32 {
	sign := float32(1)
	if b&0x80 != 0 {
		sign = -1
	}
	e := int(b>>3) & 0xF
	m := float64(b & 0x7)
	switch {
	case e == 0xF && m == 7:
		return float32(math.NaN())
	case e == 0:
		return sign * float32(m*math.Ldexp(1, -9))
	}
	return sign * float32((1+m/8)*math.Ldexp(1, e-7))
}
