// Package checkpoint reads and writes safetensors files and maps their
// tensors onto a model.Model.
package checkpoint

import "bufio"
import "bytes"
import "encoding/binary"
import "encoding/json"
import "io"
import "math"
import "os"
import "path/filepath"
import "sort"

import "github.com/cockroachdb/errors"

import "github.com/neurlang/ablation/device"
import "github.com/neurlang/ablation/parallel"

// ErrFormat is returned for malformed or unsupported safetensors content.
var ErrFormat = errors.New("malformed safetensors")

const metadataKey = "__metadata__"

// header size limit used by the reference implementation
const maxHeader = 100 << 20

// Entry is one tensor of a checkpoint. Float dtypes are decoded into Data;
// every other dtype keeps its bytes in Raw and is written back unchanged.
type Entry struct {
	DType string
	Shape []int
	Data  []float32
	Raw   []byte
}

// Len is the number of elements. Decode rejects shapes whose size
// overflows int.
func (e *Entry) Len() int {
	n := 1
	for _, s := range e.Shape {
		n *= s
	}
	return n
}

// File is a decoded safetensors checkpoint
type File struct {
	Metadata map[string]string
	Tensors  map[string]*Entry
}

type tensorHeader struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Names lists the tensor names in sorted order
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadFile reads a safetensors file
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return f, nil
}

// Decode parses a safetensors image held in memory.
func Decode(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, errors.Wrapf(ErrFormat, "file too small: %d bytes", len(data))
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeader || headerLen+8 > uint64(len(data)) {
		return nil, errors.Wrapf(ErrFormat, "header length %d exceeds file size %d", headerLen, len(data))
	}
	body := data[8+headerLen:]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse header"), ErrFormat)
	}

	f := &File{Tensors: make(map[string]*Entry, len(raw))}
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &f.Metadata); err != nil {
				return nil, errors.Mark(errors.Wrap(err, "parse metadata"), ErrFormat)
			}
			continue
		}
		var h tensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "parse tensor %s", name), ErrFormat)
		}
		size, ok := dtypeSize[h.DType]
		if !ok {
			return nil, errors.Wrapf(ErrFormat, "tensor %s: unknown dtype %q", name, h.DType)
		}
		e := &Entry{DType: h.DType, Shape: h.Shape}
		if e.Shape == nil {
			e.Shape = []int{}
		}
		n := size
		for _, s := range e.Shape {
			if s < 0 {
				return nil, errors.Wrapf(ErrFormat, "tensor %s: negative dimension in %v", name, e.Shape)
			}
			if s > 0 && n > math.MaxInt/s {
				return nil, errors.Wrapf(ErrFormat, "tensor %s: shape %v overflows", name, e.Shape)
			}
			n *= s
		}
		begin, end := h.DataOffsets[0], h.DataOffsets[1]
		if begin < 0 || begin > end || end > len(body) {
			return nil, errors.Wrapf(ErrFormat, "tensor %s: offsets %v outside data of %d bytes", name, h.DataOffsets, len(body))
		}
		if end-begin != n {
			return nil, errors.Wrapf(ErrFormat, "tensor %s: %s%v needs %d bytes, has %d",
				name, e.DType, e.Shape, n, end-begin)
		}
		e.Raw = body[begin:end]
		f.Tensors[name] = e
	}

	names := f.Names()
	parallel.ForEach(len(names), device.HostThreads(), func(i int) {
		e := f.Tensors[names[i]]
		if !IsFloat(e.DType) {
			e.Raw = append([]byte(nil), e.Raw...)
			return
		}
		e.Data = make([]float32, e.Len())
		decode(e.DType, e.Raw, e.Data)
		e.Raw = nil
	})
	return f, nil
}

// Encode writes f in safetensors layout. Tensors are laid out in name order;
// float tensors are encoded back to their own dtype.
func (f *File) Encode(w io.Writer) error {
	names := f.Names()
	blobs := make([][]byte, len(names))
	err := parallel.ForEachErr(len(names), device.HostThreads(), func(i int) error {
		e := f.Tensors[names[i]]
		size, ok := dtypeSize[e.DType]
		if !ok {
			return errors.Wrapf(ErrFormat, "tensor %s: unknown dtype %q", names[i], e.DType)
		}
		if !IsFloat(e.DType) {
			if len(e.Raw) != e.Len()*size {
				return errors.Wrapf(ErrFormat, "tensor %s: %d raw bytes for %s%v", names[i], len(e.Raw), e.DType, e.Shape)
			}
			blobs[i] = e.Raw
			return nil
		}
		if len(e.Data) != e.Len() {
			return errors.Wrapf(ErrFormat, "tensor %s: %d values for shape %v", names[i], len(e.Data), e.Shape)
		}
		blobs[i] = make([]byte, e.Len()*size)
		encode(e.DType, e.Data, blobs[i])
		return nil
	})
	if err != nil {
		return err
	}

	header := make(map[string]interface{}, len(names)+1)
	if len(f.Metadata) > 0 {
		header[metadataKey] = f.Metadata
	}
	offset := 0
	for i, name := range names {
		e := f.Tensors[name]
		shape := e.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = tensorHeader{DType: e.DType, Shape: shape, DataOffsets: [2]int{offset, offset + len(blobs[i])}}
		offset += len(blobs[i])
	}
	js, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encode header")
	}
	if pad := len(js) % 8; pad != 0 {
		js = append(js, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	bw := bufio.NewWriter(w)
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(js)))
	bw.Write(prefix[:])
	bw.Write(js)
	for _, b := range blobs {
		bw.Write(b)
	}
	return bw.Flush()
}

// WriteFile writes f to path, replacing it atomically.
func (f *File) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	err = f.Encode(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
