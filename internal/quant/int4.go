package quant

import (
	"math"

	"github.com/oscarAI2/llam4/internal/checkpoint"
)

const int4Max = 7

type int4Rowwise struct{}

func (int4Rowwise) Name() string { return "int4_rowwise" }

func (int4Rowwise) Quantize(t *checkpoint.Tensor) (*Quantized, error) {
	return QuantizeInt4Rowwise(t)
}

// QuantizeInt4Rowwise maps each row symmetrically onto [-8, 7] with
// scale max|x|/7 and packs two values per byte, low nibble first. Odd
// rows are padded with a zero nibble.
func QuantizeInt4Rowwise(t *checkpoint.Tensor) (*Quantized, error) {
	vals, nrows, cols, err := rows(t)
	if err != nil {
		return nil, err
	}
	stride := (cols + 1) / 2
	data := make([]byte, nrows*stride)
	scales := make([]float32, nrows)
	for r := range nrows {
		row := vals[r*cols : (r+1)*cols]
		scale := absMax(row) / int4Max
		if scale == 0 {
			scale = 1
		}
		scales[r] = scale
		packed := data[r*stride : (r+1)*stride]
		for j, v := range row {
			q := math.RoundToEven(float64(v / scale))
			q = math.Max(-8, math.Min(int4Max, q))
			packInt4(packed, j, int8(q))
		}
	}

	shape := append(rowShape(t), stride)
	w, err := checkpoint.NewTensor(checkpoint.U8, shape, data)
	if err != nil {
		return nil, err
	}
	s, err := checkpoint.FromFloat32(checkpoint.F32, rowShape(t), scales)
	if err != nil {
		return nil, err
	}
	return &Quantized{Mode: ModeInt4Mixed, Weight: w, Scale: s, Cols: cols}, nil
}

func packInt4(row []byte, j int, v int8) {
	nib := uint8(v) & 0x0F
	if j%2 == 0 {
		row[j/2] = row[j/2]&0xF0 | nib
	} else {
		row[j/2] = row[j/2]&0x0F | nib<<4
	}
}

func unpackInt4(row []byte, j int) int8 {
	b := row[j/2]
	if j%2 == 1 {
		b >>= 4
	}
	return int8(b<<4) >> 4
}
