package device

import "github.com/cockroachdb/errors"

// Opener opens the backend of a device
type Opener func(Device) (Backend, error)

// Registry opens backends on first use and keeps them until Close.
// A Registry is not safe for concurrent use.
type Registry struct {
	open     Opener
	backends map[Device]Backend
}

// NewRegistry returns a registry that opens real devices.
func NewRegistry() *Registry {
	return NewRegistryWith(Open)
}

// NewRegistryWith returns a registry that opens devices with open.
func NewRegistryWith(open Opener) *Registry {
	return &Registry{open: open, backends: make(map[Device]Backend)}
}

// Backend returns the backend of d, opening it if needed.
func (r *Registry) Backend(d Device) (Backend, error) {
	if b, ok := r.backends[d]; ok {
		return b, nil
	}
	b, err := r.open(d)
	if err != nil {
		return nil, err
	}
	r.backends[d] = b
	return b, nil
}

// Relocate returns buf copied onto device to. When buf already lives on to,
// buf itself is returned and nothing is allocated.
func (r *Registry) Relocate(buf Buffer, to Device) (Buffer, error) {
	if buf.Device() == to {
		return buf, nil
	}
	b, err := r.Backend(to)
	if err != nil {
		return nil, err
	}
	src, err := HostCopy(buf)
	if err != nil {
		return nil, err
	}
	dst, err := b.Alloc(len(src))
	if err != nil {
		return nil, err
	}
	if err := dst.Write(src); err != nil {
		dst.Free()
		return nil, errors.Wrapf(err, "relocate %s -> %s", buf.Device(), to)
	}
	return dst, nil
}

// Close closes every opened backend.
func (r *Registry) Close() (err error) {
	for d, b := range r.backends {
		err = errors.CombineErrors(err, b.Close())
		delete(r.backends, d)
	}
	return err
}

// HostView returns the contents of buf on the host. Host buffers are
// returned without copying, so the result must be treated as read-only.
func HostView(buf Buffer) ([]float32, error) {
	if hb, ok := buf.(*HostBuffer); ok {
		return hb.data, nil
	}
	return HostCopy(buf)
}

// HostCopy returns a fresh host copy of buf.
func HostCopy(buf Buffer) ([]float32, error) {
	out := make([]float32, buf.Len())
	if err := buf.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
