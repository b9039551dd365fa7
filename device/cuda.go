//go:build cuda

package device

import "strconv"
import "unsafe"

import "github.com/cockroachdb/errors"
import "gorgonia.org/cu"

const float32Size = int64(unsafe.Sizeof(float32(0)))

type cudaBackend struct {
	dev Device
	ctx cu.CUContext
}

func openCUDA(ordinal int) (Backend, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "cuda"), ErrDevice)
	}
	if ordinal >= n {
		return nil, errors.WithHint(
			errors.Wrapf(ErrDevice, "cuda:%d requested, %d devices present", ordinal, n),
			"run `ablate devices` to list them")
	}
	dev, err := cu.GetDevice(ordinal)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "cuda:%d: get device", ordinal), ErrDevice)
	}
	ctx, err := dev.MakeContext(cu.SchedAuto)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "cuda:%d: create context", ordinal), ErrDevice)
	}
	// Lock context for thread safety
	if err := ctx.Lock(); err != nil {
		ctx.Destroy()
		return nil, errors.Mark(errors.Wrapf(err, "cuda:%d: lock context", ordinal), ErrDevice)
	}
	return &cudaBackend{dev: Device{Kind: CUDA, Ordinal: ordinal}, ctx: ctx}, nil
}

func (c *cudaBackend) Device() Device {
	return c.dev
}

func (c *cudaBackend) Alloc(n int) (Buffer, error) {
	buf := &cudaBuffer{b: c, n: n}
	if n == 0 {
		return buf, nil
	}
	if err := cu.SetCurrentContext(c.ctx); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s: set context", c.dev), ErrDevice)
	}
	ptr, err := cu.MemAlloc(int64(n) * float32Size)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s: alloc %d floats", c.dev, n), ErrDevice)
	}
	buf.ptr = ptr
	return buf, nil
}

func (c *cudaBackend) Close() error {
	c.ctx.Unlock()
	return c.ctx.Destroy()
}

type cudaBuffer struct {
	b   *cudaBackend
	ptr cu.DevicePtr
	n   int
}

func (b *cudaBuffer) Device() Device {
	return b.b.dev
}

func (b *cudaBuffer) Len() int {
	return b.n
}

func (b *cudaBuffer) Read(dst []float32) error {
	if err := checkLen(b, len(dst), "read"); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	if err := cu.SetCurrentContext(b.b.ctx); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s: set context", b.b.dev), ErrDevice)
	}
	err := cu.MemcpyDtoH(unsafe.Pointer(&dst[0]), b.ptr, int64(b.n)*float32Size)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s: copy to host", b.b.dev), ErrDevice)
	}
	return nil
}

func (b *cudaBuffer) Write(src []float32) error {
	if err := checkLen(b, len(src), "write"); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	if err := cu.SetCurrentContext(b.b.ctx); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s: set context", b.b.dev), ErrDevice)
	}
	err := cu.MemcpyHtoD(b.ptr, unsafe.Pointer(&src[0]), int64(b.n)*float32Size)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s: copy to device", b.b.dev), ErrDevice)
	}
	return nil
}

func (b *cudaBuffer) Free() error {
	if b.n == 0 || b.ptr == 0 {
		return nil
	}
	err := cu.MemFree(b.ptr)
	b.ptr = 0
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s: free", b.b.dev), ErrDevice)
	}
	return nil
}

// CUDAInfo lists the CUDA devices visible to the driver.
func CUDAInfo() ([]Info, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "cuda"), ErrDevice)
	}
	var out []Info
	for d := 0; d < n; d++ {
		name, _ := cu.Device(d).Name()
		mem, _ := cu.Device(d).TotalMem()
		maj, _ := cu.Device(d).Attribute(cu.ComputeCapabilityMajor)
		min, _ := cu.Device(d).Attribute(cu.ComputeCapabilityMinor)
		out = append(out, Info{
			Device: Device{Kind: CUDA, Ordinal: d},
			Name:   name,
			Vendor: "NVIDIA",
			Memory: int64(mem),
			SIMD:   "sm_" + strconv.Itoa(maj) + strconv.Itoa(min),
		})
	}
	return out, nil
}
