//go:build !cuda

package device

import "github.com/cockroachdb/errors"

func openCUDA(ordinal int) (Backend, error) {
	return nil, errors.WithHint(
		errors.Wrapf(ErrDevice, "cuda:%d: built without cuda support", ordinal),
		"rebuild with -tags cuda")
}

// CUDAInfo lists the CUDA devices visible to the driver. Without the cuda
// build tag there are none.
func CUDAInfo() ([]Info, error) {
	return nil, nil
}
