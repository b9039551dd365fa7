// Package device describes the memory spaces tensors live in and moves float32 buffers between them.
package device

import "fmt"
import "strconv"
import "strings"

import "github.com/cockroachdb/errors"

// ErrDevice is returned when a device cannot be opened or a transfer to or from it fails.
var ErrDevice = errors.New("device error")

// Kind is the class of a compute device
type Kind uint8

const (
	CPU Kind = iota
	CUDA
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Device identifies one memory space. Devices are comparable and usable as map keys.
type Device struct {
	Kind    Kind
	Ordinal int
}

// Host is the memory space of the CPU
var Host = Device{Kind: CPU}

func (d Device) String() string {
	if d.Kind == CPU && d.Ordinal == 0 {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Ordinal)
}

// Parse parses "cpu", "cuda" and "cuda:N".
func Parse(s string) (Device, error) {
	name, ord, hasOrd := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	var d Device
	switch name {
	case "cpu":
		d.Kind = CPU
	case "cuda", "gpu":
		d.Kind = CUDA
	default:
		return Device{}, errors.WithHint(
			errors.Wrapf(ErrDevice, "unknown device %q", s),
			"use cpu, cuda or cuda:N")
	}
	if hasOrd {
		n, err := strconv.Atoi(ord)
		if err != nil || n < 0 {
			return Device{}, errors.Wrapf(ErrDevice, "bad device ordinal in %q", s)
		}
		d.Ordinal = n
	}
	if d.Kind == CPU && d.Ordinal != 0 {
		return Device{}, errors.Wrapf(ErrDevice, "there is only one cpu device, got %q", s)
	}
	return d, nil
}

// Buffer is float32 storage resident on one device.
type Buffer interface {

	// Device reports where the buffer lives
	Device() Device

	// Len is the number of float32 elements
	Len() int

	// Read copies the whole buffer into dst on the host. len(dst) must equal Len().
	Read(dst []float32) error

	// Write copies src from the host into the buffer. len(src) must equal Len().
	Write(src []float32) error

	// Free releases the storage. The buffer must not be used afterwards.
	Free() error
}

// Backend allocates buffers on a single device.
type Backend interface {
	Device() Device
	Alloc(n int) (Buffer, error)
	Close() error
}

// Open opens the backend for d.
func Open(d Device) (Backend, error) {
	switch d.Kind {
	case CPU:
		if d.Ordinal != 0 {
			return nil, errors.Wrapf(ErrDevice, "no such device %s", d)
		}
		return hostBackend{dev: Host}, nil
	case CUDA:
		return openCUDA(d.Ordinal)
	}
	return nil, errors.Wrapf(ErrDevice, "no backend for %s", d)
}

func checkLen(b Buffer, n int, op string) error {
	if n != b.Len() {
		return errors.Wrapf(ErrDevice, "%s %s: %d elements into a buffer of %d", op, b.Device(), n, b.Len())
	}
	return nil
}
