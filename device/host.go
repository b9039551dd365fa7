package device

import "runtime"

import "github.com/klauspost/cpuid/v2"

// HostBuffer is a Buffer kept in host memory.
type HostBuffer struct {
	dev  Device
	data []float32
}

// NewHostBuffer wraps data without copying it.
func NewHostBuffer(data []float32) *HostBuffer {
	return &HostBuffer{dev: Host, data: data}
}

// Float32s returns the backing slice. Writes to it are writes to the buffer.
func (b *HostBuffer) Float32s() []float32 {
	return b.data
}

func (b *HostBuffer) Device() Device {
	return b.dev
}

func (b *HostBuffer) Len() int {
	return len(b.data)
}

func (b *HostBuffer) Read(dst []float32) error {
	if err := checkLen(b, len(dst), "read"); err != nil {
		return err
	}
	copy(dst, b.data)
	return nil
}

func (b *HostBuffer) Write(src []float32) error {
	if err := checkLen(b, len(src), "write"); err != nil {
		return err
	}
	copy(b.data, src)
	return nil
}

func (b *HostBuffer) Free() error {
	b.data = nil
	return nil
}

type hostBackend struct {
	dev Device
}

func (h hostBackend) Device() Device {
	return h.dev
}

func (h hostBackend) Alloc(n int) (Buffer, error) {
	return &HostBuffer{dev: h.dev, data: make([]float32, n)}, nil
}

func (h hostBackend) Close() error {
	return nil
}

// Emulated returns a backend that keeps its buffers in host memory while
// reporting d as their device. Relocation between d and the host then copies
// exactly like it would for a real accelerator.
func Emulated(d Device) Backend {
	return hostBackend{dev: d}
}

// HostThreads is the number of logical cores of the host CPU, at least 1.
func HostThreads() int {
	n := cpuid.CPU.LogicalCores
	if n < 1 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Info describes a compute device.
type Info struct {
	Device        Device
	Name          string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	Memory        int64 // bytes, 0 when unknown
	SIMD          string
	Features      []string
}

// HostInfo describes the host CPU.
func HostInfo() Info {
	simd := "generic"
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ):
		simd = "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3):
		simd = "avx2"
	case cpuid.CPU.Supports(cpuid.ASIMD):
		simd = "neon"
	}
	return Info{
		Device:        Host,
		Name:          cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  HostThreads(),
		SIMD:          simd,
		Features:      cpuid.CPU.FeatureSet(),
	}
}
