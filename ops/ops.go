// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops exposes the dense<->sparse structural conversions and the five
// block-sparse matrix multiplication entry points over sparse.Matrix and
// tensors.Tensor operands.
//
// The matmul names follow the usual block-sparse kernel convention -- output
// kind first, then left, then right operand kind (Dense or Sparse): Dsd is
// dense = sparse x dense, Sdd is sparse = dense x dense restricted to a given
// output topology, and so on.
//
// The dispatch layer validates shapes, orientation, blocking and device
// placement, and delegates all floating-point arithmetic to the
// kernel-execution service (backends.Backend). Operations are synchronous
// from the caller's perspective; a backend may still enqueue work on an
// accelerator stream, in which case stream ordering is the backend's
// contract and cross-stream ordering the caller's concern.
package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/blocksparse/backends"
	"github.com/gomlx/blocksparse/sparse"
	"github.com/gomlx/blocksparse/types/tensors"
)

// denseOperand resolves a dense tensor into the backend operand
// representation: stored-frame dimensions and buffer, orientation explicit.
func denseOperand(t *tensors.Tensor) (*backends.DenseOperand, error) {
	if t.Rank() != 2 {
		return nil, errors.Wrapf(sparse.ErrDimensionality,
			"matmul operands must be rank-2, got rank %d (shape=%s)", t.Rank(), t.Shape())
	}
	if t.DType() != dtypes.Float16 {
		return nil, errors.Wrapf(sparse.ErrDType, "expected a Float16 dense operand, got %s", t.DType())
	}
	rows, cols := t.Shape().Dim(0), t.Shape().Dim(1)
	if t.IsTransposed() {
		// Stored frame is the reverse of the logical shape.
		rows, cols = cols, rows
	}
	return &backends.DenseOperand{
		Rows:       rows,
		Cols:       cols,
		Transposed: t.IsTransposed(),
		Data:       t.Float16Data(),
	}, nil
}

// sameDevice checks that both operands live on the same device and returns
// it.
func sameDevice(aDevice, bDevice backends.DeviceNum) (backends.DeviceNum, error) {
	if aDevice != bDevice {
		return 0, errors.Wrapf(sparse.ErrDeviceMismatch,
			"operands on different devices, %s v. %s", aDevice, bDevice)
	}
	return aDevice, nil
}
