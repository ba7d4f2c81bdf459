// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/blocksparse/types/shapes"
	"github.com/gomlx/blocksparse/types/tensors"
)

// Fixed buffer dtypes of the BCSR format.
const (
	dtypeBlocks  = dtypes.Float16
	dtypeIndices = dtypes.Int16
	dtypeOffsets = dtypes.Int32
)

// Validate checks the structural and type invariants of a block store against
// the declared logical shape, stopping at the first failure.
//
// blocks is normalized to rank-3 [nnz, blockSize, blockSize]: a rank-1 input
// is read as nnz blocks of size 1x1, and leading batch axes of a higher-rank
// input are flattened. The returned tensor is the normalized blocks header
// (sharing the input's storage); the input buffers are never mutated.
//
// This is a lightweight structural/type contract check: it does not verify
// that block coordinates are non-duplicated or sorted, nor that the index
// buffers agree with the offsets. Deep, value-level validation is a future
// extension point.
//
// The error wraps ErrStructural, ErrDType or ErrDeviceMismatch depending on
// which invariant failed.
func Validate(shape shapes.Shape, blocks, rowIndices, colIndices, rowOffsets *tensors.Tensor) (*tensors.Tensor, error) {
	if shape.Rank() < 2 {
		return nil, errors.Wrapf(ErrStructural,
			"expected a matrix shape with rank >= 2, got %s", shape)
	}

	// Normalize blocks to [nnz, blockSize, blockSize].
	if blocks.Rank() == 1 {
		var err error
		blocks, err = blocks.Reshape(blocks.Size(), 1, 1)
		if err != nil {
			return nil, errors.Wrapf(ErrStructural, "cannot normalize rank-1 blocks: %v", err)
		}
	}
	if blocks.Rank() < 2 {
		return nil, errors.Wrapf(ErrStructural,
			"expected 3D blocks (nnz, block, block), got rank %d", blocks.Rank())
	}
	blockShape := blocks.Shape()
	if blockShape.Dim(-2) != blockShape.Dim(-1) {
		return nil, errors.Wrapf(ErrStructural,
			"expected square blocking, got block shape [%d %d]", blockShape.Dim(-2), blockShape.Dim(-1))
	}
	blockSize := blockShape.Dim(-1)
	if blocks.Rank() != 3 {
		// Flatten leading batch axes; the original extents are preserved in
		// the shape argument.
		if blockSize == 0 {
			return nil, errors.Wrapf(ErrStructural, "blocks have a zero-sized block axis (shape=%s)", blockShape)
		}
		nnz := blocks.Size() / (blockSize * blockSize)
		var err error
		blocks, err = blocks.Reshape(nnz, blockSize, blockSize)
		if err != nil {
			return nil, errors.Wrapf(ErrStructural, "cannot normalize blocks to rank-3: %v", err)
		}
	}

	if blockSize == 0 || shape.Dim(-2)%blockSize != 0 || shape.Dim(-1)%blockSize != 0 {
		return nil, errors.Wrapf(ErrStructural,
			"matrix shape must be divisible by blocking, got shape %s with [%d %d] blocking",
			shape, blockSize, blockSize)
	}

	if shape.Size() < blocks.Size() {
		return nil, errors.Wrapf(ErrStructural,
			"number of nonzeros exceeds matrix capacity (%d v. %d)", blocks.Size(), shape.Size())
	}

	if rowIndices.Rank() != 1 {
		return nil, errors.Wrapf(ErrStructural,
			"expected rank-1 rowIndices, got rank %d", rowIndices.Rank())
	}
	if colIndices.Rank() != 1 {
		return nil, errors.Wrapf(ErrStructural,
			"expected rank-1 colIndices, got rank %d", colIndices.Rank())
	}
	if rowOffsets.Rank() != 1 {
		return nil, errors.Wrapf(ErrStructural,
			"expected rank-1 rowOffsets, got rank %d", rowOffsets.Rank())
	}

	numBlocks := blocks.Shape().Dim(0)
	if rowIndices.Size() != numBlocks {
		return nil, errors.Wrapf(ErrStructural,
			"expected 1 index per nonzero block, got %d rowIndices for %d blocks",
			rowIndices.Size(), numBlocks)
	}
	if colIndices.Size() != numBlocks {
		return nil, errors.Wrapf(ErrStructural,
			"expected 1 index per nonzero block, got %d colIndices for %d blocks",
			colIndices.Size(), numBlocks)
	}

	blockRows := 1
	for _, dim := range shape.Dimensions[:shape.Rank()-1] {
		blockRows *= dim
	}
	blockRows /= blockSize
	if rowOffsets.Size() != blockRows+1 {
		return nil, errors.Wrapf(ErrStructural,
			"expected one offset per block row plus one, got %d offsets with %d block rows",
			rowOffsets.Size(), blockRows)
	}

	device := blocks.Device()
	for _, buffer := range []*tensors.Tensor{rowIndices, colIndices, rowOffsets} {
		if buffer.Device() != device {
			return nil, errors.Wrapf(ErrDeviceMismatch,
				"expected data & meta-data on a common device, got blocks on %s, rowIndices on %s, colIndices on %s and rowOffsets on %s",
				blocks.Device(), rowIndices.Device(), colIndices.Device(), rowOffsets.Device())
		}
	}

	if shape.DType != dtypeBlocks {
		return nil, errors.Wrapf(ErrDType, "expected a Float16 matrix, got %s", shape.DType)
	}
	if blocks.DType() != dtypeBlocks {
		return nil, errors.Wrapf(ErrDType, "expected Float16 blocks, got %s", blocks.DType())
	}
	if rowIndices.DType() != dtypeIndices {
		return nil, errors.Wrapf(ErrDType, "expected Int16 rowIndices, got %s", rowIndices.DType())
	}
	if colIndices.DType() != dtypeIndices {
		return nil, errors.Wrapf(ErrDType, "expected Int16 colIndices, got %s", colIndices.DType())
	}
	if rowOffsets.DType() != dtypeOffsets {
		return nil, errors.Wrapf(ErrDType, "expected Int32 rowOffsets, got %s", rowOffsets.DType())
	}
	return blocks, nil
}
