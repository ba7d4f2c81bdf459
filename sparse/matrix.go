// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sparse implements Matrix, a matrix stored in block compressed
// sparse row (BCSR) format: a flat sequence of square fp16 tiles ("blocks")
// plus int16 block-row/block-column indices and an int32 CSR row-offset
// array, all at block granularity.
//
// A Matrix is immutable in shape and topology after construction, except for
// device transfer (ToDevice, which retags the buffers in place). T returns a
// lazily transposed view sharing the same block store; View reinterprets the
// logical shape of a contiguous matrix without moving data.
//
// Matrices sharing a block store (after T or View) must follow a
// single-writer discipline: concurrent mutation of the shared store from two
// goroutines is undefined, while read-only concurrent access -- e.g. two
// goroutines computing products from the same operand -- is safe.
package sparse

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/blocksparse/backends"
	"github.com/gomlx/blocksparse/types/shapes"
	"github.com/gomlx/blocksparse/types/tensors"
)

// Matrix is a matrix stored in BCSR format.
//
// The four buffers (blocks, row indices, column indices, row offsets) always
// describe the stored, non-transposed frame; a transposed Matrix is a view
// that reinterprets them.
type Matrix struct {
	// storedShape is the logical (uncompressed) shape in the frame of the
	// buffers, i.e. before applying transposed.
	storedShape shapes.Shape
	transposed  bool

	// blocks is [numBlocks, blockSize, blockSize] fp16.
	blocks *tensors.Tensor
	// rowIndices and colIndices are [numBlocks] int16, the block-row and
	// block-column of each stored block.
	rowIndices, colIndices *tensors.Tensor
	// rowOffsets is [blockRows+1] int32, the CSR row pointer at block
	// granularity.
	rowOffsets *tensors.Tensor
}

// New creates a Matrix from an already assembled block store and the declared
// logical shape, running the structural validation of Validate.
//
// shape must have dtype Float16 and rank >= 2 (rank > 2 arises from View).
// blocks may be rank-1 (read as 1x1 blocks) or have leading batch axes; it is
// normalized to [numBlocks, blockSize, blockSize].
func New(shape shapes.Shape, blocks, rowIndices, colIndices, rowOffsets *tensors.Tensor) (*Matrix, error) {
	normalized, err := Validate(shape, blocks, rowIndices, colIndices, rowOffsets)
	if err != nil {
		return nil, err
	}
	return &Matrix{
		storedShape: shape.Clone(),
		blocks:      normalized,
		rowIndices:  rowIndices,
		colIndices:  colIndices,
		rowOffsets:  rowOffsets,
	}, nil
}

// NewUnchecked creates a Matrix without validation. blocks must already be
// rank-3 [numBlocks, blockSize, blockSize]. Intended for structures already
// validated, like the outputs of package ops.
func NewUnchecked(shape shapes.Shape, blocks, rowIndices, colIndices, rowOffsets *tensors.Tensor) *Matrix {
	return &Matrix{
		storedShape: shape.Clone(),
		blocks:      blocks,
		rowIndices:  rowIndices,
		colIndices:  colIndices,
		rowOffsets:  rowOffsets,
	}
}

// Validate re-runs the structural validation against the current block store.
// Construction already validates; this is the hook for on-demand re-checks
// (and, eventually, for deep value-level validation).
func (m *Matrix) Validate() error {
	_, err := Validate(m.storedShape, m.blocks, m.rowIndices, m.colIndices, m.rowOffsets)
	return err
}

// Shape returns the logical (uncompressed, post-transpose) shape.
func (m *Matrix) Shape() shapes.Shape {
	if m.transposed {
		return m.storedShape.Reverse()
	}
	return m.storedShape.Clone()
}

// DType of the matrix elements. Always Float16 for a validated matrix.
func (m *Matrix) DType() dtypes.DType { return m.storedShape.DType }

// Rank of the logical shape.
func (m *Matrix) Rank() int { return m.storedShape.Rank() }

// Rows is the leading dimension of the logical shape.
func (m *Matrix) Rows() int { return m.Shape().Dim(0) }

// Cols is the trailing dimension of the logical shape.
func (m *Matrix) Cols() int { return m.Shape().Dim(-1) }

// NNZ is the number of stored nonzero elements, i.e. NumBlocks * BlockSize^2.
func (m *Matrix) NNZ() int { return m.blocks.Size() }

// NumBlocks is the number of stored nonzero blocks.
func (m *Matrix) NumBlocks() int { return m.blocks.Shape().Dim(0) }

// BlockSize is the side of the square blocks.
func (m *Matrix) BlockSize() int { return m.blocks.Shape().Dim(-1) }

// BlockRows is the number of block rows in the stored frame, i.e.
// len(RowOffsets())-1.
func (m *Matrix) BlockRows() int { return m.rowOffsets.Size() - 1 }

// IsContiguous returns whether the matrix is in its stored orientation, i.e.
// not a transposed view.
func (m *Matrix) IsContiguous() bool { return !m.transposed }

// Device returns the residency tag of the block data buffer.
func (m *Matrix) Device() backends.DeviceNum { return m.blocks.Device() }

// Blocks returns the [NumBlocks, BlockSize, BlockSize] fp16 block buffer, in
// the stored frame.
func (m *Matrix) Blocks() *tensors.Tensor { return m.blocks }

// RowIndices returns the [NumBlocks] int16 block-row index buffer, in the
// stored frame.
func (m *Matrix) RowIndices() *tensors.Tensor { return m.rowIndices }

// ColIndices returns the [NumBlocks] int16 block-column index buffer, in the
// stored frame.
func (m *Matrix) ColIndices() *tensors.Tensor { return m.colIndices }

// RowOffsets returns the [BlockRows+1] int32 CSR row pointer, in the stored
// frame.
func (m *Matrix) RowOffsets() *tensors.Tensor { return m.rowOffsets }

// T returns a lazily transposed view: a new Matrix sharing the same block
// store, with the logical shape reversed. No data is moved; the stored
// row/column indices are reinterpreted as column/row indices, and block
// contents are read transposed, by every consumer.
//
// It returns ErrDimensionality if the logical shape has rank != 2.
func (m *Matrix) T() (*Matrix, error) {
	if m.Rank() != 2 {
		return nil, errors.Wrapf(ErrDimensionality,
			"T expects a rank-2 matrix, but this matrix is rank %d", m.Rank())
	}
	return &Matrix{
		storedShape: m.storedShape.Clone(),
		transposed:  !m.transposed,
		blocks:      m.blocks,
		rowIndices:  m.rowIndices,
		colIndices:  m.colIndices,
		rowOffsets:  m.rowOffsets,
	}, nil
}

// View returns a Matrix over the same block store with the logical shape
// reinterpreted as dimensions.
//
// The matrix must be contiguous (ErrState otherwise). The trailing dimension
// cannot change -- it is the compressed axis encoding the block-column
// structure -- and the total element count must be preserved (ErrShape
// otherwise).
func (m *Matrix) View(dimensions ...int) (*Matrix, error) {
	if !m.IsContiguous() {
		return nil, errors.Wrapf(ErrState, "View requires a contiguous matrix")
	}
	if len(dimensions) < 2 {
		return nil, errors.Wrapf(ErrShape, "View requires rank >= 2, got %v", dimensions)
	}
	newShape := shapes.Make(m.storedShape.DType, dimensions...)
	if newShape.Dim(-1) != m.storedShape.Dim(-1) {
		return nil, errors.Wrapf(ErrShape,
			"can't change view on compressed dimension, %d v. %d", m.storedShape.Dim(-1), newShape.Dim(-1))
	}
	if newShape.Size() != m.storedShape.Size() {
		return nil, errors.Wrapf(ErrShape,
			"mismatch in number of elements of matrix and new shape, %d v. %d",
			m.storedShape.Size(), newShape.Size())
	}
	return &Matrix{
		storedShape: newShape,
		blocks:      m.blocks,
		rowIndices:  m.rowIndices,
		colIndices:  m.colIndices,
		rowOffsets:  m.rowOffsets,
	}, nil
}

// Clone deep-copies all four buffers, returning an independent Matrix with
// the same orientation.
func (m *Matrix) Clone() *Matrix {
	return &Matrix{
		storedShape: m.storedShape.Clone(),
		transposed:  m.transposed,
		blocks:      m.blocks.Clone(),
		rowIndices:  m.rowIndices.Clone(),
		colIndices:  m.colIndices.Clone(),
		rowOffsets:  m.rowOffsets.Clone(),
	}
}

// ToDevice moves all four buffers to the given device, in place. It is a
// no-op for buffers already resident there. It returns the matrix itself.
func (m *Matrix) ToDevice(device backends.DeviceNum) *Matrix {
	m.blocks.ToDevice(device)
	m.rowIndices.ToDevice(device)
	m.colIndices.ToDevice(device)
	m.rowOffsets.ToDevice(device)
	return m
}

// Contiguous would materialize a transposed matrix into stored order.
// It returns ErrUnsupported for a transposed matrix; for a contiguous matrix
// it returns the matrix itself.
func (m *Matrix) Contiguous() (*Matrix, error) {
	if m.transposed {
		return nil, errors.Wrapf(ErrUnsupported, "Contiguous of a transposed matrix is not yet implemented")
	}
	return m, nil
}

// Grad returns the gradient associated with the block data, wrapped in a
// Matrix with the same topology and logical shape (transposition included),
// or ok=false if no gradient was associated.
func (m *Matrix) Grad() (grad *Matrix, ok bool) {
	gradBlocks := m.blocks.Grad()
	if gradBlocks == nil {
		return nil, false
	}
	grad = &Matrix{
		storedShape: m.storedShape.Clone(),
		transposed:  m.transposed,
		blocks:      gradBlocks,
		rowIndices:  m.rowIndices,
		colIndices:  m.colIndices,
		rowOffsets:  m.rowOffsets,
	}
	return grad, true
}

// Memory returns the bytes used by the four buffers.
func (m *Matrix) Memory() uintptr {
	return m.blocks.Memory() + m.rowIndices.Memory() + m.colIndices.Memory() + m.rowOffsets.Memory()
}

// String implements fmt.Stringer.
func (m *Matrix) String() string {
	return fmt.Sprintf("sparse.Matrix<%s, blocks=%dx%d², %s, %s>",
		m.Shape(), m.NumBlocks(), m.BlockSize(), m.Device(), humanize.Bytes(uint64(m.Memory())))
}

// AsOperand resolves the matrix into the backend operand representation:
// stored-frame dimensions and buffers with the orientation made explicit.
//
// The matrix must be rank 2 (ErrDimensionality otherwise); reshape rank-2
// with View before dispatching.
func (m *Matrix) AsOperand() (*backends.SparseOperand, error) {
	if m.Rank() != 2 {
		return nil, errors.Wrapf(ErrDimensionality,
			"matmul operands must be rank-2, got rank %d (shape=%s)", m.Rank(), m.Shape())
	}
	return &backends.SparseOperand{
		Rows:       m.storedShape.Dim(0),
		Cols:       m.storedShape.Dim(1),
		BlockSize:  m.BlockSize(),
		Transposed: m.transposed,
		Blocks:     m.blocks.Float16Data(),
		RowIndices: m.rowIndices.Int16Data(),
		ColIndices: m.colIndices.Int16Data(),
		RowOffsets: m.rowOffsets.Int32Data(),
	}, nil
}
