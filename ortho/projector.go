// Package ortho removes a direction from the outputs of transformer weight matrices.
//
// Orthogonalize works on a single matrix; Apply walks the residual-stream
// writers of a model and edits them in place.
package ortho

import "github.com/cockroachdb/errors"
import "gonum.org/v1/gonum/blas"
import "gonum.org/v1/gonum/blas/blas32"

import "github.com/neurlang/ablation/device"
import "github.com/neurlang/ablation/model"
import "github.com/neurlang/ablation/tensor"

// ErrShapeMismatch is returned when the direction length differs from the matrix feature axis.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrDimensionMismatch is ErrShapeMismatch seen from the model: the direction
// does not have the model's hidden dimension.
var ErrDimensionMismatch = ErrShapeMismatch

// ErrMissingAttribute is returned by Apply when the model lacks an expected weight.
var ErrMissingAttribute = model.ErrMissingAttribute

// Orthogonalize returns a copy of matrix where each row r, taken along the
// trailing axis, is replaced by r - strength*(r·direction)*direction.
//
// The projection is not divided by direction·direction, so a row loses
// exactly its component along direction only when direction has unit norm.
// If direction lives on another device than matrix, a temporary copy is
// moved next to matrix first. The result lives on matrix's device.
func Orthogonalize(r *device.Registry, matrix, direction *tensor.Tensor, strength float32) (*tensor.Tensor, error) {
	if matrix == nil || direction == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil operand")
	}
	if direction.Rank() != 1 {
		return nil, errors.Wrapf(ErrShapeMismatch, "direction must be a vector, has shape %v", direction.Shape())
	}
	if matrix.Rank() == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "matrix is a scalar")
	}
	if direction.Len() != matrix.Dim() {
		return nil, errors.Wrapf(ErrShapeMismatch, "direction has %d elements, matrix %v has rows of %d",
			direction.Len(), matrix.Shape(), matrix.Dim())
	}

	dir, err := direction.To(r, matrix.Device())
	if err != nil {
		return nil, err
	}
	if dir != direction {
		defer dir.Free()
	}

	// TODO: run gemv/ger through cuBLAS (gorgonia.org/cu/blas) for CUDA
	// buffers instead of staging them through host memory.
	m, err := matrix.Host()
	if err != nil {
		return nil, err
	}
	d, err := device.HostView(dir.Buffer())
	if err != nil {
		return nil, err
	}

	project(m, matrix.Rows(), matrix.Dim(), d, strength)

	return tensor.Upload(r, matrix.Device(), m, matrix.Shape()...)
}

// project computes m -= strength * (m d) dᵀ for the row-major rows x cols matrix m.
func project(m []float32, rows, cols int, d []float32, strength float32) {
	if rows == 0 || cols == 0 {
		return
	}
	a := blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: m}
	x := blas32.Vector{N: cols, Data: d, Inc: 1}
	s := blas32.Vector{N: rows, Data: make([]float32, rows), Inc: 1}

	blas32.Gemv(blas.NoTrans, 1, a, x, 0, s)
	blas32.Ger(-strength, s, x, a)
}
