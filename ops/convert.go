// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/blocksparse/sparse"
	"github.com/gomlx/blocksparse/types/shapes"
	"github.com/gomlx/blocksparse/types/tensors"
	"github.com/gomlx/blocksparse/types/xslices"
)

// ToSparse extracts the BCSR form of a rank-2 dense fp16 tensor: the tensor
// is partitioned into a grid of blockSize x blockSize tiles, and a tile is
// kept if and only if it contains at least one nonzero element (ANY-nonzero
// policy -- partially populated tiles are preserved).
//
// Blocks are emitted in row-major block order, so the row offsets are
// monotone and column indices are sorted within each row. The result resides
// on the same device as dense. O(rows*cols).
func ToSparse(dense *tensors.Tensor, blockSize int) (*sparse.Matrix, error) {
	if dense.Rank() != 2 {
		return nil, errors.Wrapf(sparse.ErrDimensionality,
			"ToSparse expects a rank-2 tensor, got rank %d", dense.Rank())
	}
	if dense.DType() != dtypes.Float16 {
		return nil, errors.Wrapf(sparse.ErrDType, "ToSparse expects a Float16 tensor, got %s", dense.DType())
	}
	rows, cols := dense.Shape().Dim(0), dense.Shape().Dim(1)
	if blockSize <= 0 || rows%blockSize != 0 || cols%blockSize != 0 {
		return nil, errors.Wrapf(sparse.ErrStructural,
			"matrix shape must be divisible by blocking, got %s with [%d %d] blocking",
			dense.Shape(), blockSize, blockSize)
	}

	blockRows, blockCols := rows/blockSize, cols/blockSize
	var blockData []float16.Float16
	var rowIndices, colIndices []int16
	rowOffsets := make([]int32, 0, blockRows+1)
	rowOffsets = append(rowOffsets, 0)
	for br := 0; br < blockRows; br++ {
		for bc := 0; bc < blockCols; bc++ {
			nonzero := false
		scan:
			for x := 0; x < blockSize; x++ {
				for y := 0; y < blockSize; y++ {
					if dense.At(br*blockSize+x, bc*blockSize+y).Float32() != 0 {
						nonzero = true
						break scan
					}
				}
			}
			if !nonzero {
				continue
			}
			for x := 0; x < blockSize; x++ {
				for y := 0; y < blockSize; y++ {
					blockData = append(blockData, dense.At(br*blockSize+x, bc*blockSize+y))
				}
			}
			rowIndices = append(rowIndices, int16(br))
			colIndices = append(colIndices, int16(bc))
		}
		rowOffsets = append(rowOffsets, int32(len(colIndices)))
	}

	numBlocks := len(colIndices)
	matrix, err := sparse.New(
		shapes.Make(dtypes.Float16, rows, cols),
		tensors.FromFlatDataAndDimensions(blockData, numBlocks, blockSize, blockSize).ToDevice(dense.Device()),
		tensors.FromFlatDataAndDimensions(rowIndices, numBlocks).ToDevice(dense.Device()),
		tensors.FromFlatDataAndDimensions(colIndices, numBlocks).ToDevice(dense.Device()),
		tensors.FromFlatDataAndDimensions(rowOffsets, blockRows+1).ToDevice(dense.Device()),
	)
	if err != nil {
		return nil, err
	}
	return matrix, nil
}

// ToDense materializes the sparse structure into a zero-filled dense tensor
// of the matrix's logical shape, scattering each stored block to its
// block-row/block-column region. A transposed matrix swaps the scatter
// target and transposes each block's contents -- block contents are stored
// in the non-transposed frame. O(nnz * blockSize^2).
func ToDense(m *sparse.Matrix) (*tensors.Tensor, error) {
	logical := m.Shape()
	out := tensors.FromShape(logical)
	outData := out.Float16Data()
	// Rank > 2 shapes (from View) scatter as [size/cols, cols].
	cols := logical.Dim(-1)

	bs := m.BlockSize()
	blocks := m.Blocks().Float16Data()
	rowIndices := m.RowIndices().Int16Data()
	colIndices := m.ColIndices().Int16Data()
	transposed := !m.IsContiguous()
	for i := 0; i < m.NumBlocks(); i++ {
		r, c := int(rowIndices[i]), int(colIndices[i])
		if transposed {
			r, c = c, r
		}
		for x := 0; x < bs; x++ {
			for y := 0; y < bs; y++ {
				sx, sy := x, y
				if transposed {
					sx, sy = y, x
				}
				outData[(r*bs+x)*cols+c*bs+y] = blocks[(i*bs+sx)*bs+sy]
			}
		}
	}
	return out.ToDevice(m.Device()), nil
}

// OnesLike returns a structural clone of the matrix with every block element
// set to 1: a mask of the sparsity pattern, built without touching the
// kernel-execution service. The index buffers are shared with the source.
func OnesLike(m *sparse.Matrix) *sparse.Matrix {
	ones := xslices.SliceWithValue(m.NNZ(), float16.Fromfloat32(1))
	blocks := tensors.FromFlatDataAndDimensions(ones, m.NumBlocks(), m.BlockSize(), m.BlockSize()).
		ToDevice(m.Device())
	storedShape := m.Shape()
	if !m.IsContiguous() {
		storedShape = storedShape.Reverse()
	}
	mask := sparse.NewUnchecked(storedShape, blocks, m.RowIndices(), m.ColIndices(), m.RowOffsets())
	if !m.IsContiguous() {
		// Safe: storedShape is rank-2 whenever the source is transposed.
		mask, _ = mask.T()
	}
	return mask
}
