// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import "github.com/pkg/errors"

// Error kinds surfaced by this library. Every error returned by package
// sparse and package ops wraps exactly one of these sentinels with context;
// match with errors.Is. Failures are reported at the point of detection and
// never retried or downgraded to warnings.
var (
	// ErrStructural marks a malformed block store: wrong rank, count,
	// divisibility or capacity of the blocks/index/offset buffers.
	ErrStructural = errors.New("sparse: malformed block store")

	// ErrDType marks a buffer with the wrong element type. Block data must be
	// 16-bit float, block indices 16-bit int and row offsets 32-bit int.
	ErrDType = errors.New("sparse: wrong buffer element type")

	// ErrDeviceMismatch marks buffers or operands spanning inconsistent
	// devices.
	ErrDeviceMismatch = errors.New("sparse: buffers on inconsistent devices")

	// ErrState marks an operation that requires a contiguous (non-transposed)
	// matrix, like View.
	ErrState = errors.New("sparse: matrix is not contiguous")

	// ErrDimensionality marks an operation that requires a rank-2 shape,
	// like T or the matmuls.
	ErrDimensionality = errors.New("sparse: operation requires a rank-2 shape")

	// ErrShape marks a contraction-dimension or reshape mismatch.
	ErrShape = errors.New("sparse: shape mismatch")

	// ErrTopology marks an output topology or sparse operand pair with
	// incompatible block sizes.
	ErrTopology = errors.New("sparse: incompatible block sizes")

	// ErrUnsupported marks explicitly unimplemented functionality, like
	// forcing contiguity on a transposed matrix.
	ErrUnsupported = errors.New("sparse: operation not implemented")
)
