package checkpoint

import "github.com/cockroachdb/errors"

import "github.com/neurlang/ablation/device"
import "github.com/neurlang/ablation/tensor"

// DefaultDirectionTensor is the tensor name looked up in a direction file
const DefaultDirectionTensor = "direction"

// LoadDirection reads the vector called name from the safetensors file at
// path. When the file holds a single tensor the name may be empty or absent.
// Leading axes of length one are squeezed away. With normalize set the
// vector is scaled to unit norm.
func LoadDirection(r *device.Registry, path, name string, normalize bool, dev device.Device) (*tensor.Tensor, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, ok := f.Tensors[name]
	if !ok && len(f.Tensors) == 1 {
		for only := range f.Tensors {
			name, e, ok = only, f.Tensors[only], true
		}
	}
	if !ok {
		return nil, errors.WithHintf(errors.Newf("%s: no tensor %q", path, name),
			"tensors in the file: %v", f.Names())
	}
	if !IsFloat(e.DType) {
		return nil, errors.Wrapf(ErrFormat, "%s: direction %s has dtype %s", path, name, e.DType)
	}
	shape := e.Shape
	for len(shape) > 1 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 1 {
		return nil, errors.Wrapf(ErrFormat, "%s: direction %s must be a vector, has shape %v", path, name, e.Shape)
	}
	data := e.Data
	if normalize {
		if err := tensor.Normalize(data); err != nil {
			return nil, errors.Wrapf(err, "%s: direction %s", path, name)
		}
	}
	return tensor.Upload(r, dev, data, shape...)
}
