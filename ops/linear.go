// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/blocksparse/backends"
	"github.com/gomlx/blocksparse/sparse"
	"github.com/gomlx/blocksparse/types/tensors"
)

// Dsd computes the dense product of a sparse left and a dense right operand:
// dense[M,N] = sparse[M,K] x dense[K,N]. Transpose either operand with T()
// before the call; orientation is resolved here, before shape validation.
func Dsd(backend backends.Backend, lhs *sparse.Matrix, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	lhsOp, err := lhs.AsOperand()
	if err != nil {
		return nil, err
	}
	rhsOp, err := denseOperand(rhs)
	if err != nil {
		return nil, err
	}
	device, err := sameDevice(lhs.Device(), rhs.Device())
	if err != nil {
		return nil, err
	}
	if err := checkContraction(lhsOp, rhsOp); err != nil {
		return nil, err
	}
	flat, err := backend.Matmul(backends.MatmulDSD, lhsOp, rhsOp, nil)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flat, lhsOp.OperandRows(), rhsOp.OperandCols()).
		ToDevice(device), nil
}

// Dds computes the dense product of a dense left and a sparse right operand:
// dense[M,N] = dense[M,K] x sparse[K,N].
func Dds(backend backends.Backend, lhs *tensors.Tensor, rhs *sparse.Matrix) (*tensors.Tensor, error) {
	lhsOp, err := denseOperand(lhs)
	if err != nil {
		return nil, err
	}
	rhsOp, err := rhs.AsOperand()
	if err != nil {
		return nil, err
	}
	device, err := sameDevice(lhs.Device(), rhs.Device())
	if err != nil {
		return nil, err
	}
	if err := checkContraction(lhsOp, rhsOp); err != nil {
		return nil, err
	}
	flat, err := backend.Matmul(backends.MatmulDDS, lhsOp, rhsOp, nil)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flat, lhsOp.OperandRows(), rhsOp.OperandCols()).
		ToDevice(device), nil
}

// Sdd computes the dense x dense product restricted to the given output
// topology: sparse[M,N] = dense[M,K] x dense[K,N], materializing only the
// blocks present in topology. The topology's own block payload is ignored.
func Sdd(backend backends.Backend, lhs, rhs *tensors.Tensor, topology *sparse.Matrix) (*sparse.Matrix, error) {
	lhsOp, err := denseOperand(lhs)
	if err != nil {
		return nil, err
	}
	rhsOp, err := denseOperand(rhs)
	if err != nil {
		return nil, err
	}
	device, err := sameDevice(lhs.Device(), rhs.Device())
	if err != nil {
		return nil, err
	}
	if err := checkContraction(lhsOp, rhsOp); err != nil {
		return nil, err
	}
	topoOp, err := checkTopology(topology, lhsOp.OperandRows(), rhsOp.OperandCols(), device)
	if err != nil {
		return nil, err
	}
	flat, err := backend.Matmul(backends.MatmulSDD, lhsOp, rhsOp, topoOp)
	if err != nil {
		return nil, err
	}
	return sparseResult(topology, flat, device), nil
}

// Ssd computes the sparse x dense product restricted to the given output
// topology: sparse[M,N] = sparse[M,K] x dense[K,N].
func Ssd(backend backends.Backend, lhs *sparse.Matrix, rhs *tensors.Tensor, topology *sparse.Matrix) (*sparse.Matrix, error) {
	lhsOp, err := lhs.AsOperand()
	if err != nil {
		return nil, err
	}
	rhsOp, err := denseOperand(rhs)
	if err != nil {
		return nil, err
	}
	device, err := sameDevice(lhs.Device(), rhs.Device())
	if err != nil {
		return nil, err
	}
	if err := checkContraction(lhsOp, rhsOp); err != nil {
		return nil, err
	}
	topoOp, err := checkTopology(topology, lhsOp.OperandRows(), rhsOp.OperandCols(), device)
	if err != nil {
		return nil, err
	}
	if topology.BlockSize() != lhs.BlockSize() {
		return nil, errors.Wrapf(sparse.ErrTopology,
			"output topology blocking %d doesn't match operand blocking %d",
			topology.BlockSize(), lhs.BlockSize())
	}
	flat, err := backend.Matmul(backends.MatmulSSD, lhsOp, rhsOp, topoOp)
	if err != nil {
		return nil, err
	}
	return sparseResult(topology, flat, device), nil
}

// Dss computes the full dense product of two sparse operands:
// dense[M,N] = sparse[M,K] x sparse[K,N]. Every block of the conceptual
// product is computed; the density of the result is irrelevant to its
// format.
func Dss(backend backends.Backend, lhs, rhs *sparse.Matrix) (*tensors.Tensor, error) {
	lhsOp, err := lhs.AsOperand()
	if err != nil {
		return nil, err
	}
	rhsOp, err := rhs.AsOperand()
	if err != nil {
		return nil, err
	}
	device, err := sameDevice(lhs.Device(), rhs.Device())
	if err != nil {
		return nil, err
	}
	if err := checkContraction(lhsOp, rhsOp); err != nil {
		return nil, err
	}
	if lhs.BlockSize() != rhs.BlockSize() {
		return nil, errors.Wrapf(sparse.ErrTopology,
			"sparse operand blockings don't match, %d v. %d", lhs.BlockSize(), rhs.BlockSize())
	}
	flat, err := backend.Matmul(backends.MatmulDSS, lhsOp, rhsOp, nil)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flat, lhsOp.OperandRows(), rhsOp.OperandCols()).
		ToDevice(device), nil
}

// checkContraction validates the post-transpose contraction dimensions.
func checkContraction(lhs, rhs backends.Operand) error {
	if lhs.OperandCols() != rhs.OperandRows() {
		return errors.Wrapf(sparse.ErrShape,
			"contraction dimension mismatch, left is [%dx%d] and right is [%dx%d]",
			lhs.OperandRows(), lhs.OperandCols(), rhs.OperandRows(), rhs.OperandCols())
	}
	return nil
}

// checkTopology validates an output topology against the product shape and
// the operands' device, and resolves it to the backend representation.
func checkTopology(topology *sparse.Matrix, outRows, outCols int, device backends.DeviceNum) (*backends.SparseOperand, error) {
	if !topology.IsContiguous() {
		return nil, errors.Wrapf(sparse.ErrState, "output topology must be contiguous")
	}
	topoOp, err := topology.AsOperand()
	if err != nil {
		return nil, err
	}
	if topology.Rows() != outRows || topology.Cols() != outCols {
		return nil, errors.Wrapf(sparse.ErrShape,
			"output topology shape [%dx%d] doesn't match product shape [%dx%d]",
			topology.Rows(), topology.Cols(), outRows, outCols)
	}
	if outRows%topology.BlockSize() != 0 || outCols%topology.BlockSize() != 0 {
		return nil, errors.Wrapf(sparse.ErrTopology,
			"product shape [%dx%d] is not divisible by the output topology blocking %d",
			outRows, outCols, topology.BlockSize())
	}
	if topology.Device() != device {
		return nil, errors.Wrapf(sparse.ErrDeviceMismatch,
			"output topology on %s, operands on %s", topology.Device(), device)
	}
	return topoOp, nil
}

// sparseResult wraps the backend's block payload in a Matrix with the
// topology's structure. The index buffers are shared with the topology.
func sparseResult(topology *sparse.Matrix, flat []float16.Float16, device backends.DeviceNum) *sparse.Matrix {
	blocks := tensors.FromFlatDataAndDimensions(flat,
		topology.NumBlocks(), topology.BlockSize(), topology.BlockSize()).ToDevice(device)
	return sparse.NewUnchecked(topology.Shape(), blocks,
		topology.RowIndices(), topology.ColIndices(), topology.RowOffsets())
}
