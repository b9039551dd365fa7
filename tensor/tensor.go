// Package tensor implements shaped float32 tensors stored on a device.
//
// The trailing axis is the feature axis: a tensor of shape [a, b, D] is
// treated as a*b rows of length D by the numeric code built on top of it.
package tensor

import "math"

import "github.com/cockroachdb/errors"
import "gonum.org/v1/gonum/floats"

import "github.com/neurlang/ablation/device"

// ErrShape is returned when data does not fit the requested shape
var ErrShape = errors.New("bad tensor shape")

// ErrZeroNorm is returned when normalizing a vector of zero length
var ErrZeroNorm = errors.New("zero norm")

// Tensor is a shaped float32 array whose storage lives on one device.
type Tensor struct {
	shape []int
	buf   device.Buffer
}

func numel(shape []int) (int, error) {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return 0, errors.Wrapf(ErrShape, "negative dimension in %v", shape)
		}
		if s > 0 && n > math.MaxInt/s {
			return 0, errors.Wrapf(ErrShape, "shape %v overflows", shape)
		}
		n *= s
	}
	return n, nil
}

// New returns a host tensor backed by data. The data is not copied.
func New(data []float32, shape ...int) (*Tensor, error) {
	return FromBuffer(device.NewHostBuffer(data), shape...)
}

// MustNew is like New but panics on error.
func MustNew(data []float32, shape ...int) *Tensor {
	t, err := New(data, shape...)
	if err != nil {
		panic(err.Error())
	}
	return t
}

// FromBuffer wraps buf as a tensor of the given shape.
func FromBuffer(buf device.Buffer, shape ...int) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != buf.Len() {
		return nil, errors.Wrapf(ErrShape, "shape %v needs %d elements, have %d", shape, n, buf.Len())
	}
	return &Tensor{shape: append([]int(nil), shape...), buf: buf}, nil
}

// Upload stores data as a tensor on device d. On the host the data is used
// without copying.
func Upload(r *device.Registry, d device.Device, data []float32, shape ...int) (*Tensor, error) {
	if d == device.Host {
		return New(data, shape...)
	}
	b, err := r.Backend(d)
	if err != nil {
		return nil, err
	}
	buf, err := b.Alloc(len(data))
	if err != nil {
		return nil, err
	}
	t, err := FromBuffer(buf, shape...)
	if err == nil {
		err = buf.Write(data)
	}
	if err != nil {
		buf.Free()
		return nil, err
	}
	return t, nil
}

// Shape returns a copy of the shape
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Rank is the number of axes
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim is the length of the trailing axis, or 0 for a scalar.
func (t *Tensor) Dim() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[len(t.shape)-1]
}

// Rows is the number of trailing-axis vectors, the product of the leading axes.
func (t *Tensor) Rows() int {
	if len(t.shape) == 0 {
		return 1
	}
	n := 1
	for _, s := range t.shape[:len(t.shape)-1] {
		n *= s
	}
	return n
}

// Len is the total number of elements
func (t *Tensor) Len() int {
	return t.buf.Len()
}

// Device reports where the storage lives
func (t *Tensor) Device() device.Device {
	return t.buf.Device()
}

// Buffer returns the storage
func (t *Tensor) Buffer() device.Buffer {
	return t.buf
}

// Host returns a fresh host copy of the elements in row-major order.
func (t *Tensor) Host() ([]float32, error) {
	return device.HostCopy(t.buf)
}

// To returns the tensor on device d. When t already lives on d, t itself is
// returned; otherwise the result is a copy the caller must Free.
func (t *Tensor) To(r *device.Registry, d device.Device) (*Tensor, error) {
	buf, err := r.Relocate(t.buf, d)
	if err != nil {
		return nil, err
	}
	if buf == t.buf {
		return t, nil
	}
	return &Tensor{shape: t.Shape(), buf: buf}, nil
}

// Free releases the storage.
func (t *Tensor) Free() error {
	return t.buf.Free()
}

// Assign overwrites the contents of dst with those of src. Both must have
// the same shape; they may live on different devices.
func Assign(dst, src *Tensor) error {
	if !sameShape(dst.shape, src.shape) {
		return errors.Wrapf(ErrShape, "assign %v into %v", src.shape, dst.shape)
	}
	data, err := device.HostView(src.buf)
	if err != nil {
		return err
	}
	return dst.buf.Write(data)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Transpose2D returns the transpose of a row-major rows x cols matrix.
func Transpose2D(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return out
}

// Normalize scales v in place to unit euclidean norm. The norm is
// accumulated in float64.
func Normalize(v []float32) error {
	wide := make([]float64, len(v))
	for i, x := range v {
		wide[i] = float64(x)
	}
	norm := floats.Norm(wide, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return errors.Wrapf(ErrZeroNorm, "cannot normalize vector with norm %v", norm)
	}
	floats.Scale(1/norm, wide)
	for i, x := range wide {
		v[i] = float32(x)
	}
	return nil
}
