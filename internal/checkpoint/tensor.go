package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

// DType is a safetensors dtype tag.
type DType string

const (
	F64    DType = "F64"
	F32    DType = "F32"
	F16    DType = "F16"
	BF16   DType = "BF16"
	F8E4M3 DType = "F8_E4M3"
	I64    DType = "I64"
	I32    DType = "I32"
	I8     DType = "I8"
	U8     DType = "U8"
	Bool   DType = "BOOL"
)

// Size is the width of one element in bytes, or 0 for unknown dtypes.
func (d DType) Size() int {
	switch d {
	case F64, I64:
		return 8
	case F32, I32:
		return 4
	case F16, BF16:
		return 2
	case F8E4M3, I8, U8, Bool:
		return 1
	}
	return 0
}

var ErrShape = errors.New("checkpoint: shape mismatch")

// Tensor is a dense row-major tensor kept as raw little-endian bytes.
// Resharding only moves bytes, so values are never decoded unless asked.
type Tensor struct {
	DType DType
	Shape []int
	Data  []byte
}

// StateDict maps parameter names to tensors.
type StateDict map[string]*Tensor

func NewTensor(dtype DType, shape []int, data []byte) (*Tensor, error) {
	esz := dtype.Size()
	if esz == 0 {
		return nil, fmt.Errorf("checkpoint: unsupported dtype %q", dtype)
	}
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n*esz {
		return nil, fmt.Errorf("%w: %v %s needs %d bytes, have %d", ErrShape, shape, dtype, n*esz, len(data))
	}
	return &Tensor{DType: dtype, Shape: slices.Clone(shape), Data: data}, nil
}

// FromFloat32 encodes values as dtype. Only float dtypes are supported.
func FromFloat32(dtype DType, shape []int, values []float32) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, fmt.Errorf("%w: %v holds %d values, have %d", ErrShape, shape, n, len(values))
	}
	var data []byte
	switch dtype {
	case F32:
		data = make([]byte, 4*n)
		for i, v := range values {
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
		}
	case BF16:
		data = make([]byte, 2*n)
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[2*i:], f32ToBF16(v))
		}
	default:
		return nil, fmt.Errorf("checkpoint: cannot encode float32 as %s", dtype)
	}
	return &Tensor{DType: dtype, Shape: slices.Clone(shape), Data: data}, nil
}

func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{DType: t.DType, Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.DType, t.Shape)
}

// Float32s decodes the tensor into float32 values.
func (t *Tensor) Float32s() ([]float32, error) {
	n := t.NumElements()
	out := make([]float32, n)
	switch t.DType {
	case F32:
		for i := range n {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
	case BF16:
		for i := range n {
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(t.Data[i*2:]))
		}
	case F16:
		for i := range n {
			out[i] = fp16ToFloat32(binary.LittleEndian.Uint16(t.Data[i*2:]))
		}
	default:
		return nil, fmt.Errorf("checkpoint: cannot decode %s as float32", t.DType)
	}
	return out, nil
}

// Reshape returns a view with a new shape. At most one dim may be -1.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n := t.NumElements()
	out := slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range out {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("%w: more than one -1 in %v", ErrShape, shape)
			}
			infer = i
		case d <= 0:
			return nil, fmt.Errorf("%w: invalid dim %d in %v", ErrShape, d, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || n%known != 0 {
			return nil, fmt.Errorf("%w: cannot view %v as %v", ErrShape, t.Shape, shape)
		}
		out[infer] = n / known
		known *= out[infer]
	}
	if known != n {
		return nil, fmt.Errorf("%w: cannot view %v as %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{DType: t.DType, Shape: out, Data: t.Data}, nil
}

// normDim resolves a negative dim against rank.
func normDim(dim, rank int) (int, error) {
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		return 0, fmt.Errorf("%w: dim out of range for rank %d", ErrShape, rank)
	}
	return dim, nil
}

// blocks splits the shape around dim: outer*size*inner elements.
func blocks(shape []int, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for _, d := range shape[:dim] {
		outer *= d
	}
	for _, d := range shape[dim+1:] {
		inner *= d
	}
	return outer, shape[dim], inner
}

// Concat joins tensors along dim. All other dims and the dtype must match.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("%w: concat of nothing", ErrShape)
	}
	first := tensors[0]
	d, err := normDim(dim, len(first.Shape))
	if err != nil {
		return nil, err
	}

	total := 0
	for _, t := range tensors {
		if t.DType != first.DType || len(t.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("%w: concat %s with %s", ErrShape, first, t)
		}
		for i := range t.Shape {
			if i != d && t.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("%w: concat %s with %s on dim %d", ErrShape, first, t, d)
			}
		}
		total += t.Shape[d]
	}

	esz := first.DType.Size()
	shape := slices.Clone(first.Shape)
	shape[d] = total
	outer, _, inner := blocks(shape, d)
	data := make([]byte, 0, outer*total*inner*esz)
	for o := range outer {
		for _, t := range tensors {
			step := t.Shape[d] * inner * esz
			data = append(data, t.Data[o*step:(o+1)*step]...)
		}
	}
	return &Tensor{DType: first.DType, Shape: shape, Data: data}, nil
}

// Narrow copies length entries of dim starting at start.
func (t *Tensor) Narrow(dim, start, length int) (*Tensor, error) {
	d, err := normDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	if start < 0 || length < 0 || start+length > t.Shape[d] {
		return nil, fmt.Errorf("%w: narrow [%d:%d] of dim %d in %s", ErrShape, start, start+length, d, t)
	}
	esz := t.DType.Size()
	outer, size, inner := blocks(t.Shape, d)
	shape := slices.Clone(t.Shape)
	shape[d] = length
	data := make([]byte, 0, outer*length*inner*esz)
	for o := range outer {
		base := (o*size + start) * inner * esz
		data = append(data, t.Data[base:base+length*inner*esz]...)
	}
	return &Tensor{DType: t.DType, Shape: shape, Data: data}, nil
}

// Split cuts dim into consecutive pieces of the given sizes.
func (t *Tensor) Split(sizes []int, dim int) ([]*Tensor, error) {
	d, err := normDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	sum := 0
	for _, s := range sizes {
		sum += s
	}
	if sum != t.Shape[d] {
		return nil, fmt.Errorf("%w: split sizes %v do not cover dim %d of %s", ErrShape, sizes, d, t)
	}
	out := make([]*Tensor, 0, len(sizes))
	start := 0
	for _, s := range sizes {
		part, err := t.Narrow(d, start, s)
		if err != nil {
			return nil, err
		}
		out = append(out, part)
		start += s
	}
	return out, nil
}

// Chunk splits dim into n pieces of ceil(size/n); the last may be
// shorter and fewer than n pieces come back when size is small.
func (t *Tensor) Chunk(n, dim int) ([]*Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: chunk count %d", ErrShape, n)
	}
	d, err := normDim(dim, len(t.Shape))
	if err != nil {
		return nil, err
	}
	size := t.Shape[d]
	step := (size + n - 1) / n
	var sizes []int
	for rem := size; rem > 0; rem -= step {
		sizes = append(sizes, min(step, rem))
	}
	return t.Split(sizes, d)
}

// RepeatRows tiles the whole tensor n times along dim 0.
func (t *Tensor) RepeatRows(n int) (*Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: repeat count %d", ErrShape, n)
	}
	if n == 1 {
		return t, nil
	}
	parts := make([]*Tensor, n)
	for i := range parts {
		parts[i] = t
	}
	return Concat(parts, 0)
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: invalid dim %d", ErrShape, d)
		}
		if d != 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("%w: tensor too large", ErrShape)
		}
		n *= d
	}
	return n, nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// f32ToBF16 rounds to nearest even.
func f32ToBF16(f float32) uint16 {
	bits := math.Float32bits(f)
	if math.IsNaN(float64(f)) {
		return uint16(bits>>16) | 0x40
	}
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return uint16((bits + rounding) >> 16)
}

func fp16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
