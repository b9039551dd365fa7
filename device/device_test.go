package device

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for in, want := range map[string]Device{
		"cpu":     Host,
		" CPU ":   Host,
		"cpu:0":   Host,
		"cuda":    {Kind: CUDA},
		"cuda:3":  {Kind: CUDA, Ordinal: 3},
		"gpu:1":   {Kind: CUDA, Ordinal: 1},
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "tpu", "cuda:x", "cuda:-1", "cpu:1"} {
		_, err := Parse(in)
		assert.True(t, errors.Is(err, ErrDevice), in)
	}
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "cpu", Host.String())
	assert.Equal(t, "cuda:2", Device{Kind: CUDA, Ordinal: 2}.String())
}

func TestHostBufferLengthChecked(t *testing.T) {
	b := NewHostBuffer([]float32{1, 2, 3})
	dst := make([]float32, 3)
	require.NoError(t, b.Read(dst))
	assert.Equal(t, []float32{1, 2, 3}, dst)

	assert.True(t, errors.Is(b.Read(make([]float32, 2)), ErrDevice))
	assert.True(t, errors.Is(b.Write(make([]float32, 4)), ErrDevice))
}

func TestRelocate(t *testing.T) {
	gpu := Device{Kind: CUDA, Ordinal: 0}
	var opened []Device
	r := NewRegistryWith(func(d Device) (Backend, error) {
		opened = append(opened, d)
		if d == Host {
			return Open(d)
		}
		return Emulated(d), nil
	})
	defer r.Close()

	src := NewHostBuffer([]float32{1, 2, 3})

	same, err := r.Relocate(src, Host)
	require.NoError(t, err)
	assert.Same(t, Buffer(src), same)

	moved, err := r.Relocate(src, gpu)
	require.NoError(t, err)
	assert.Equal(t, gpu, moved.Device())
	got, err := HostCopy(moved)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)

	// the copy is independent of its source
	src.Float32s()[0] = 9
	got, err = HostCopy(moved)
	require.NoError(t, err)
	assert.Equal(t, float32(1), got[0])

	_, err = r.Relocate(moved, gpu)
	require.NoError(t, err)
	assert.Equal(t, []Device{gpu}, opened, "backends are opened once")
}

func TestOpenCPUOrdinal(t *testing.T) {
	_, err := Open(Device{Kind: CPU, Ordinal: 1})
	assert.True(t, errors.Is(err, ErrDevice))
}

func TestHostInfo(t *testing.T) {
	info := HostInfo()
	assert.Equal(t, Host, info.Device)
	assert.GreaterOrEqual(t, info.LogicalCores, 1)
	assert.NotEmpty(t, info.SIMD)
}
