// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/gomlx/blocksparse/types/shapes"
	"github.com/gomlx/blocksparse/types/tensors"
	"github.com/gomlx/blocksparse/types/xslices"
)

// RowIndicesFromOffsets reconstructs, for each nonzero block, the block-row
// it belongs to: block i (by position in colIndices) is assigned the unique
// row r with rowOffsets[r] <= i < rowOffsets[r+1], found by binary search
// over the monotone offsets. O(numBlocks * log(blockRows)).
//
// This is needed whenever an external producer emits only column indices and
// offsets, e.g. when building a synthetic topology from per-row block counts.
//
// rowOffsets must be a valid CSR row pointer for the given shape and
// blocking: rank-1 Int32, monotone non-decreasing, starting at 0 and ending
// at the number of blocks; violations return ErrStructural (or ErrDType for
// wrong buffer types). The returned tensor is [numBlocks] Int16 on the host.
func RowIndicesFromOffsets(shape shapes.Shape, blocks, rowOffsets, colIndices *tensors.Tensor) (*tensors.Tensor, error) {
	if rowOffsets.Rank() != 1 {
		return nil, errors.Wrapf(ErrStructural, "expected rank-1 rowOffsets, got rank %d", rowOffsets.Rank())
	}
	if colIndices.Rank() != 1 {
		return nil, errors.Wrapf(ErrStructural, "expected rank-1 colIndices, got rank %d", colIndices.Rank())
	}
	if rowOffsets.DType() != dtypeOffsets {
		return nil, errors.Wrapf(ErrDType, "expected Int32 rowOffsets, got %s", rowOffsets.DType())
	}
	if colIndices.DType() != dtypeIndices {
		return nil, errors.Wrapf(ErrDType, "expected Int16 colIndices, got %s", colIndices.DType())
	}

	offsets := rowOffsets.Int32Data()
	numBlocks := colIndices.Size()
	blockRows := len(offsets) - 1
	if blockRows < 1 {
		return nil, errors.Wrapf(ErrStructural, "rowOffsets must have at least 2 entries, got %d", len(offsets))
	}
	if offsets[0] != 0 {
		return nil, errors.Wrapf(ErrStructural, "rowOffsets must start at 0, got %d", offsets[0])
	}
	if int(xslices.Last(offsets)) != numBlocks {
		return nil, errors.Wrapf(ErrStructural,
			"rowOffsets must end at the number of blocks, got %d for %d blocks", xslices.Last(offsets), numBlocks)
	}
	for r := 0; r < blockRows; r++ {
		if offsets[r+1] < offsets[r] {
			return nil, errors.Wrapf(ErrStructural,
				"rowOffsets must be monotone non-decreasing, got %d after %d at row %d",
				offsets[r+1], offsets[r], r)
		}
	}
	_ = blocks // The block payload doesn't participate, only the topology.

	rowIndices := make([]int16, numBlocks)
	for i := 0; i < numBlocks; i++ {
		// First row whose end offset is past block i.
		r := sort.Search(blockRows, func(r int) bool { return int(offsets[r+1]) > i })
		rowIndices[i] = int16(r)
	}
	return tensors.FromFlatDataAndDimensions(rowIndices, numBlocks), nil
}
