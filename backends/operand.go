// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/x448/float16"

// MatmulMode selects which block-sparse matrix multiplication a Backend must
// execute. The three letters name the output, left and right operand kinds
// (Dense or Sparse), following the usual block-sparse kernel naming: e.g.
// MatmulDSD computes a Dense output from a Sparse left and a Dense right
// operand.
type MatmulMode int

const (
	MatmulInvalid MatmulMode = iota

	// MatmulDSD computes dense = sparse x dense.
	MatmulDSD

	// MatmulDDS computes dense = dense x sparse.
	MatmulDDS

	// MatmulSDD computes sparse = dense x dense, restricted to the output
	// topology.
	MatmulSDD

	// MatmulSSD computes sparse = sparse x dense, restricted to the output
	// topology.
	MatmulSSD

	// MatmulDSS computes dense = sparse x sparse.
	MatmulDSS
)

// String implements fmt.Stringer.
func (m MatmulMode) String() string {
	switch m {
	case MatmulDSD:
		return "dsd"
	case MatmulDDS:
		return "dds"
	case MatmulSDD:
		return "sdd"
	case MatmulSSD:
		return "ssd"
	case MatmulDSS:
		return "dss"
	default:
		return "invalid"
	}
}

// SparseOutput returns whether the mode produces a sparse (topology-restricted)
// output.
func (m MatmulMode) SparseOutput() bool {
	return m == MatmulSDD || m == MatmulSSD
}

// OperandKind discriminates the Operand sum type.
type OperandKind int

const (
	// KindDense marks a DenseOperand.
	KindDense OperandKind = iota
	// KindSparse marks a SparseOperand.
	KindSparse
)

// Operand is the sum type over {DenseOperand, SparseOperand} passed to
// Backend.Matmul. It is sealed: only the two operand structs implement it.
type Operand interface {
	Kind() OperandKind

	// OperandRows and OperandCols are the logical dimensions after applying
	// the operand's Transposed flag, i.e. the dimensions the multiplication
	// sees.
	OperandRows() int
	OperandCols() int
}

// DenseOperand carries a dense, row-major fp16 buffer.
//
// Rows and Cols describe the stored layout; when Transposed is set the
// multiplication reads the operand as its transpose without the buffer having
// been rearranged.
type DenseOperand struct {
	Rows, Cols int
	Transposed bool
	Data       []float16.Float16
}

// Kind implements Operand.
func (o *DenseOperand) Kind() OperandKind { return KindDense }

// OperandRows implements Operand.
func (o *DenseOperand) OperandRows() int {
	if o.Transposed {
		return o.Cols
	}
	return o.Rows
}

// OperandCols implements Operand.
func (o *DenseOperand) OperandCols() int {
	if o.Transposed {
		return o.Rows
	}
	return o.Cols
}

// At reads element (i, j) in the post-transpose frame.
func (o *DenseOperand) At(i, j int) float16.Float16 {
	if o.Transposed {
		i, j = j, i
	}
	return o.Data[i*o.Cols+j]
}

// SparseOperand carries the resolved BCSR buffers of a sparse operand, or of
// an output topology (in which case Blocks may be nil).
//
// Rows, Cols and the index buffers describe the stored, non-transposed frame.
// When Transposed is set, the stored row/column indices are read as
// column/row indices and every block's contents must be read transposed; the
// buffers themselves are never rearranged.
type SparseOperand struct {
	Rows, Cols int
	BlockSize  int
	Transposed bool

	Blocks     []float16.Float16 // nnz * BlockSize * BlockSize values.
	RowIndices []int16
	ColIndices []int16
	RowOffsets []int32
}

// Kind implements Operand.
func (o *SparseOperand) Kind() OperandKind { return KindSparse }

// OperandRows implements Operand.
func (o *SparseOperand) OperandRows() int {
	if o.Transposed {
		return o.Cols
	}
	return o.Rows
}

// OperandCols implements Operand.
func (o *SparseOperand) OperandCols() int {
	if o.Transposed {
		return o.Rows
	}
	return o.Cols
}

// NumBlocks returns the number of stored nonzero blocks.
func (o *SparseOperand) NumBlocks() int { return len(o.ColIndices) }

// BlockCoords returns the block-row and block-column of stored block i in the
// post-transpose frame.
func (o *SparseOperand) BlockCoords(i int) (row, col int) {
	row, col = int(o.RowIndices[i]), int(o.ColIndices[i])
	if o.Transposed {
		row, col = col, row
	}
	return
}

// BlockAt reads element (x, y) of stored block i in the post-transpose frame.
// Block contents are stored in the non-transposed frame, so a transposed read
// swaps the intra-block coordinates.
func (o *SparseOperand) BlockAt(i, x, y int) float16.Float16 {
	if o.Transposed {
		x, y = y, x
	}
	return o.Blocks[(i*o.BlockSize+x)*o.BlockSize+y]
}
