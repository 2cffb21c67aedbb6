package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/goccy/go-json"
)

// maxHeaderLen guards against reading a garbage length prefix.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType DType
	Shape []int
	Start int64
	End   int64
}

// File is an opened safetensors header. Tensor bytes are read on demand.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string
}

type tensorHeader struct {
	DType       DType   `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	headerLen, err := readU64(f)
	if err != nil {
		return nil, fmt.Errorf("%s: read header length: %w", path, err)
	}
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("%s: header length %d too large", path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%s: parse header: %w", path, err)
	}

	var meta map[string]string
	if m, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, fmt.Errorf("%s: parse metadata: %w", path, err)
		}
		delete(raw, "__metadata__")
	}

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	dataStart := int64(8 + headerLen)
	dataLen := st.Size() - dataStart

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		if th.DataOffsets[1] > dataLen {
			return nil, fmt.Errorf("tensor %s: data_offsets end %d past %d data bytes", name, th.DataOffsets[1], dataLen)
		}
		esz := th.DType.Size()
		if esz == 0 {
			return nil, fmt.Errorf("tensor %s: unsupported dtype %q", name, th.DType)
		}
		n, err := numElements(th.Shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if want := int64(n) * int64(esz); th.DataOffsets[1]-th.DataOffsets[0] != want {
			return nil, fmt.Errorf("%w: tensor %s %v %s needs %d bytes, offsets span %d",
				ErrShape, name, th.Shape, th.DType, want, th.DataOffsets[1]-th.DataOffsets[0])
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return &File{
		Path:      path,
		DataStart: dataStart,
		Tensors:   tensors,
		Metadata:  meta,
	}, nil
}

// Names returns tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *File) ReadTensor(name string) (*Tensor, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return f.readTensorAt(file, name)
}

func (f *File) readTensorAt(r io.ReaderAt, name string) (*Tensor, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	buf := make([]byte, info.End-info.Start)
	if _, err := r.ReadAt(buf, f.DataStart+info.Start); err != nil {
		return nil, fmt.Errorf("read tensor %s: %w", name, err)
	}
	t, err := NewTensor(info.DType, info.Shape, buf)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return t, nil
}

// Load reads every tensor of a safetensors file.
func Load(path string) (StateDict, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	sd := make(StateDict, len(f.Tensors))
	for _, name := range f.Names() {
		t, err := f.readTensorAt(file, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sd[name] = t
	}
	return sd, nil
}

// Save writes sd as a safetensors file. Tensors are laid out in name
// order and the header is space padded to an 8 byte boundary.
func Save(path string, sd StateDict, metadata map[string]string) error {
	names := sd.Keys()

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var offset int64
	for _, name := range names {
		t := sd[name]
		end := offset + int64(len(t.Data))
		header[name] = tensorHeader{DType: t.DType, Shape: slices.Clone(t.Shape), DataOffsets: []int64{offset, end}}
		offset = end
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if pad := len(hb) % 8; pad != 0 {
		hb = append(hb, []byte("        ")[:8-pad]...)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, 1<<20)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	_, err = w.Write(lenBuf[:])
	if err == nil {
		_, err = w.Write(hb)
	}
	for _, name := range names {
		if err != nil {
			break
		}
		_, err = w.Write(sd[name].Data)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Keys returns the state dict names in sorted order.
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
