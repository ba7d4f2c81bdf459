// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/blocksparse/types/shapes"
	"github.com/gomlx/blocksparse/types/tensors"
)

func TestRowIndicesFromOffsets(t *testing.T) {
	// 3 block rows: 2 blocks in row 0, none in row 1, 3 in row 2.
	shape := shapes.Make(dtypes.Float16, 6, 10)
	blocks := tensors.FromFlatDataAndDimensions(make([]float16.Float16, 5*2*2), 5, 2, 2)
	rowOffsets := tensors.FromFlatDataAndDimensions([]int32{0, 2, 2, 5}, 4)
	colIndices := tensors.FromFlatDataAndDimensions([]int16{0, 3, 1, 2, 4}, 5)

	rowIndices, err := RowIndicesFromOffsets(shape, blocks, rowOffsets, colIndices)
	require.NoError(t, err)
	require.Equal(t, []int16{0, 0, 2, 2, 2}, rowIndices.Int16Data())

	// The result closes the loop: the full five-buffer set validates.
	_, err = Validate(shape, blocks, rowIndices, colIndices, rowOffsets)
	require.NoError(t, err)
}

func TestRowIndicesFromOffsetsEmptyRows(t *testing.T) {
	shape := shapes.Make(dtypes.Float16, 8, 8)
	blocks := tensors.FromFlatDataAndDimensions(make([]float16.Float16, 2*2*2), 2, 2, 2)
	rowOffsets := tensors.FromFlatDataAndDimensions([]int32{0, 0, 0, 2, 2}, 5)
	colIndices := tensors.FromFlatDataAndDimensions([]int16{1, 2}, 2)

	rowIndices, err := RowIndicesFromOffsets(shape, blocks, rowOffsets, colIndices)
	require.NoError(t, err)
	require.Equal(t, []int16{2, 2}, rowIndices.Int16Data())
}

func TestRowIndicesFromOffsetsRejectsBadPointer(t *testing.T) {
	shape := shapes.Make(dtypes.Float16, 6, 10)
	blocks := tensors.FromFlatDataAndDimensions(make([]float16.Float16, 5*2*2), 5, 2, 2)
	colIndices := tensors.FromFlatDataAndDimensions([]int16{0, 3, 1, 2, 4}, 5)

	// Doesn't start at 0.
	rowOffsets := tensors.FromFlatDataAndDimensions([]int32{1, 2, 2, 5}, 4)
	_, err := RowIndicesFromOffsets(shape, blocks, rowOffsets, colIndices)
	require.ErrorIs(t, err, ErrStructural)

	// Doesn't end at the number of blocks.
	rowOffsets = tensors.FromFlatDataAndDimensions([]int32{0, 2, 2, 4}, 4)
	_, err = RowIndicesFromOffsets(shape, blocks, rowOffsets, colIndices)
	require.ErrorIs(t, err, ErrStructural)

	// Not monotone.
	rowOffsets = tensors.FromFlatDataAndDimensions([]int32{0, 3, 2, 5}, 4)
	_, err = RowIndicesFromOffsets(shape, blocks, rowOffsets, colIndices)
	require.ErrorIs(t, err, ErrStructural)

	// Wrong offsets dtype.
	badOffsets := tensors.FromFlatDataAndDimensions([]int16{0, 2, 2, 5}, 4)
	_, err = RowIndicesFromOffsets(shape, blocks, badOffsets, colIndices)
	require.ErrorIs(t, err, ErrDType)
}
