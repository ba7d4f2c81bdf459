// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/gomlx/blocksparse/backends"
)

// Matmul implements backends.Backend.
//
// All kernels read fp16 through the operand accessors (which apply the
// orientation) and accumulate in float32, converting back to fp16 only when
// storing -- the same discipline the larger fp16 gemm kernels use.
func (b *Backend) Matmul(mode backends.MatmulMode, lhs, rhs backends.Operand, topology *backends.SparseOperand) ([]float16.Float16, error) {
	if mode.SparseOutput() != (topology != nil) {
		if topology == nil {
			return nil, errors.Errorf("simplego.Matmul(%s): mode requires an output topology", mode)
		}
		return nil, errors.Errorf("simplego.Matmul(%s): mode takes no output topology", mode)
	}
	if lhs.OperandCols() != rhs.OperandRows() {
		return nil, errors.Errorf("simplego.Matmul(%s): contraction dimension mismatch, %d v. %d",
			mode, lhs.OperandCols(), rhs.OperandRows())
	}
	klog.V(2).Infof("simplego.Matmul(%s): [%dx%d] x [%dx%d]",
		mode, lhs.OperandRows(), lhs.OperandCols(), rhs.OperandRows(), rhs.OperandCols())

	switch mode {
	case backends.MatmulDSD:
		sparseLhs, denseRhs, err := sparseDensePair(mode, lhs, rhs)
		if err != nil {
			return nil, err
		}
		return b.matmulDSD(sparseLhs, denseRhs), nil
	case backends.MatmulDDS:
		denseLhs, ok := lhs.(*backends.DenseOperand)
		if !ok {
			return nil, errors.Errorf("simplego.Matmul(%s): left operand must be dense", mode)
		}
		sparseRhs, ok := rhs.(*backends.SparseOperand)
		if !ok {
			return nil, errors.Errorf("simplego.Matmul(%s): right operand must be sparse", mode)
		}
		return b.matmulDDS(denseLhs, sparseRhs), nil
	case backends.MatmulSDD:
		denseLhs, ok := lhs.(*backends.DenseOperand)
		if !ok {
			return nil, errors.Errorf("simplego.Matmul(%s): left operand must be dense", mode)
		}
		denseRhs, ok := rhs.(*backends.DenseOperand)
		if !ok {
			return nil, errors.Errorf("simplego.Matmul(%s): right operand must be dense", mode)
		}
		return b.matmulSDD(denseLhs, denseRhs, topology), nil
	case backends.MatmulSSD:
		sparseLhs, denseRhs, err := sparseDensePair(mode, lhs, rhs)
		if err != nil {
			return nil, err
		}
		if sparseLhs.BlockSize != topology.BlockSize {
			return nil, errors.Errorf("simplego.Matmul(%s): operand blocking %d doesn't match topology blocking %d",
				mode, sparseLhs.BlockSize, topology.BlockSize)
		}
		return b.matmulSSD(sparseLhs, denseRhs, topology), nil
	case backends.MatmulDSS:
		sparseLhs, ok := lhs.(*backends.SparseOperand)
		if !ok {
			return nil, errors.Errorf("simplego.Matmul(%s): left operand must be sparse", mode)
		}
		sparseRhs, ok := rhs.(*backends.SparseOperand)
		if !ok {
			return nil, errors.Errorf("simplego.Matmul(%s): right operand must be sparse", mode)
		}
		if sparseLhs.BlockSize != sparseRhs.BlockSize {
			return nil, errors.Errorf("simplego.Matmul(%s): operand blockings don't match, %d v. %d",
				mode, sparseLhs.BlockSize, sparseRhs.BlockSize)
		}
		return b.matmulDSS(sparseLhs, sparseRhs), nil
	default:
		return nil, errors.Errorf("simplego.Matmul: invalid mode %d", mode)
	}
}

func sparseDensePair(mode backends.MatmulMode, lhs, rhs backends.Operand) (*backends.SparseOperand, *backends.DenseOperand, error) {
	sparseLhs, ok := lhs.(*backends.SparseOperand)
	if !ok {
		return nil, nil, errors.Errorf("simplego.Matmul(%s): left operand must be sparse", mode)
	}
	denseRhs, ok := rhs.(*backends.DenseOperand)
	if !ok {
		return nil, nil, errors.Errorf("simplego.Matmul(%s): right operand must be dense", mode)
	}
	return sparseLhs, denseRhs, nil
}

// blockRowGroups returns, per logical (post-transpose) block-row, the stored
// block positions that land on it. Works for transposed operands too, where
// the CSR offsets index the wrong axis.
func blockRowGroups(op *backends.SparseOperand) [][]int {
	numRows := op.OperandRows() / op.BlockSize
	groups := make([][]int, numRows)
	for i := 0; i < op.NumBlocks(); i++ {
		r, _ := op.BlockCoords(i)
		groups[r] = append(groups[r], i)
	}
	return groups
}

// blockColGroups is the column-wise counterpart of blockRowGroups.
func blockColGroups(op *backends.SparseOperand) [][]int {
	numCols := op.OperandCols() / op.BlockSize
	groups := make([][]int, numCols)
	for i := 0; i < op.NumBlocks(); i++ {
		_, c := op.BlockCoords(i)
		groups[c] = append(groups[c], i)
	}
	return groups
}

func toFloat16(acc []float32) []float16.Float16 {
	out := make([]float16.Float16, len(acc))
	for i, v := range acc {
		out[i] = float16.Fromfloat32(v)
	}
	return out
}

// matmulDSD computes dense[M,N] = sparse[M,K] x dense[K,N].
// Parallelized over logical block-rows of the sparse operand: each worker
// owns a disjoint stripe of output rows.
func (b *Backend) matmulDSD(lhs *backends.SparseOperand, rhs *backends.DenseOperand) []float16.Float16 {
	m, n := lhs.OperandRows(), rhs.OperandCols()
	bs := lhs.BlockSize
	acc := make([]float32, m*n)
	groups := blockRowGroups(lhs)
	b.parallelFor(len(groups), func(r int) {
		for _, i := range groups[r] {
			_, c := lhs.BlockCoords(i)
			for x := 0; x < bs; x++ {
				outBase := (r*bs + x) * n
				for k := 0; k < bs; k++ {
					a := lhs.BlockAt(i, x, k).Float32()
					if a == 0 {
						continue
					}
					rhsRow := c*bs + k
					for j := 0; j < n; j++ {
						acc[outBase+j] += a * rhs.At(rhsRow, j).Float32()
					}
				}
			}
		}
	})
	return toFloat16(acc)
}

// matmulDDS computes dense[M,N] = dense[M,K] x sparse[K,N].
// Parallelized over logical block-columns of the sparse operand: each worker
// owns a disjoint stripe of output columns.
func (b *Backend) matmulDDS(lhs *backends.DenseOperand, rhs *backends.SparseOperand) []float16.Float16 {
	m, n := lhs.OperandRows(), rhs.OperandCols()
	bs := rhs.BlockSize
	acc := make([]float32, m*n)
	groups := blockColGroups(rhs)
	b.parallelFor(len(groups), func(c int) {
		for _, i := range groups[c] {
			k0, _ := rhs.BlockCoords(i)
			for x := 0; x < bs; x++ {
				contractIdx := k0*bs + x
				for y := 0; y < bs; y++ {
					v := rhs.BlockAt(i, x, y).Float32()
					if v == 0 {
						continue
					}
					outCol := c*bs + y
					for row := 0; row < m; row++ {
						acc[row*n+outCol] += lhs.At(row, contractIdx).Float32() * v
					}
				}
			}
		}
	})
	return toFloat16(acc)
}

// matmulSDD computes the blocks of the output topology for
// sparse[M,N] = dense[M,K] x dense[K,N]. Only the blocks present in the
// topology are materialized; each is an independent task.
func (b *Backend) matmulSDD(lhs, rhs *backends.DenseOperand, topology *backends.SparseOperand) []float16.Float16 {
	bs := topology.BlockSize
	contractSize := lhs.OperandCols()
	out := make([]float16.Float16, topology.NumBlocks()*bs*bs)
	b.parallelFor(topology.NumBlocks(), func(i int) {
		r, c := topology.BlockCoords(i)
		for x := 0; x < bs; x++ {
			row := r*bs + x
			for y := 0; y < bs; y++ {
				col := c*bs + y
				var sum float32
				for k := 0; k < contractSize; k++ {
					sum += lhs.At(row, k).Float32() * rhs.At(k, col).Float32()
				}
				out[(i*bs+x)*bs+y] = float16.Fromfloat32(sum)
			}
		}
	})
	return out
}

// matmulSSD computes the blocks of the output topology for
// sparse[M,N] = sparse[M,K] x dense[K,N].
func (b *Backend) matmulSSD(lhs *backends.SparseOperand, rhs *backends.DenseOperand, topology *backends.SparseOperand) []float16.Float16 {
	bs := topology.BlockSize
	lhsRows := blockRowGroups(lhs)
	out := make([]float16.Float16, topology.NumBlocks()*bs*bs)
	b.parallelFor(topology.NumBlocks(), func(i int) {
		r, c := topology.BlockCoords(i)
		acc := make([]float32, bs*bs)
		for _, li := range lhsRows[r] {
			_, k0 := lhs.BlockCoords(li)
			for x := 0; x < bs; x++ {
				for k := 0; k < bs; k++ {
					a := lhs.BlockAt(li, x, k).Float32()
					if a == 0 {
						continue
					}
					rhsRow := k0*bs + k
					for y := 0; y < bs; y++ {
						acc[x*bs+y] += a * rhs.At(rhsRow, c*bs+y).Float32()
					}
				}
			}
		}
		outBase := i * bs * bs
		for xy, v := range acc {
			out[outBase+xy] = float16.Fromfloat32(v)
		}
	})
	return out
}

// matmulDSS computes dense[M,N] = sparse[M,K] x sparse[K,N]. Every block of
// the conceptual product is computed; the output is dense regardless of its
// density. Parallelized over logical block-rows of the left operand.
func (b *Backend) matmulDSS(lhs, rhs *backends.SparseOperand) []float16.Float16 {
	m, n := lhs.OperandRows(), rhs.OperandCols()
	bs := lhs.BlockSize
	acc := make([]float32, m*n)
	lhsRows := blockRowGroups(lhs)
	rhsRows := blockRowGroups(rhs)
	b.parallelFor(len(lhsRows), func(r int) {
		for _, i := range lhsRows[r] {
			_, k0 := lhs.BlockCoords(i)
			for _, j := range rhsRows[k0] {
				_, c := rhs.BlockCoords(j)
				for x := 0; x < bs; x++ {
					outBase := (r*bs + x) * n
					for k := 0; k < bs; k++ {
						a := lhs.BlockAt(i, x, k).Float32()
						if a == 0 {
							continue
						}
						for y := 0; y < bs; y++ {
							acc[outBase+c*bs+y] += a * rhs.BlockAt(j, k, y).Float32()
						}
					}
				}
			}
		}
	})
	return toFloat16(acc)
}
