// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"math/rand"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/blocksparse/sparse"
	"github.com/gomlx/blocksparse/types/shapes"
	"github.com/gomlx/blocksparse/types/tensors"
)

func f16(v float32) float16.Float16 { return float16.Fromfloat32(v) }

// randDense returns a rows x cols fp16 tensor with normal random values.
func randDense(rng *rand.Rand, rows, cols int) *tensors.Tensor {
	data := make([]float16.Float16, rows*cols)
	for i := range data {
		data[i] = f16(float32(rng.NormFloat64()))
	}
	return tensors.FromFlatDataAndDimensions(data, rows, cols)
}

// denseAndSparse builds a random dense matrix with exactly
// round(sparsity*numBlocks) zeroed blocks at the given blocking, and its
// sparse form.
func denseAndSparse(t *testing.T, rng *rand.Rand, rows, cols int, sparsity float64, blocking int) (*tensors.Tensor, *sparse.Matrix) {
	t.Helper()
	dense := randDense(rng, rows, cols)
	blockRows, blockCols := rows/blocking, cols/blocking
	numBlocks := blockRows * blockCols
	numZero := int(sparsity * float64(numBlocks))
	for _, blockIdx := range rng.Perm(numBlocks)[:numZero] {
		br, bc := blockIdx/blockCols, blockIdx%blockCols
		for x := 0; x < blocking; x++ {
			for y := 0; y < blocking; y++ {
				dense.Set(br*blocking+x, bc*blocking+y, f16(0))
			}
		}
	}
	matrix, err := ToSparse(dense, blocking)
	require.NoError(t, err)
	return dense, matrix
}

// refMatmul is the reference dense product: fp32 accumulation over the fp16
// inputs (respecting transposed views), rounded to fp16 at store.
func refMatmul(a, b *tensors.Tensor) *tensors.Tensor {
	m, k := a.Shape().Dim(0), a.Shape().Dim(1)
	n := b.Shape().Dim(1)
	out := tensors.FromShape(shapes.Make(dtypes.Float16, m, n))
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for kk := 0; kk < k; kk++ {
				sum += a.At(i, kk).Float32() * b.At(kk, j).Float32()
			}
			out.Set(i, j, f16(sum))
		}
	}
	return out
}

// maskedRefMatmul is refMatmul restricted to the sparsity pattern of the
// given topology, the reference for the sparse-output ops.
func maskedRefMatmul(t *testing.T, a, b *tensors.Tensor, topology *sparse.Matrix) *tensors.Tensor {
	t.Helper()
	mask := must.M1(ToDense(OnesLike(topology)))
	out := refMatmul(a, b)
	data := out.Float16Data()
	maskData := mask.Float16Data()
	for i := range data {
		if maskData[i].Float32() == 0 {
			data[i] = f16(0)
		}
	}
	return out
}

// requireAllClose compares fp16 tensors elementwise within a tolerance
// suited to fp16 products: |got-want| <= 1e-2 + 2e-2*|want|.
func requireAllClose(t *testing.T, want, got *tensors.Tensor) {
	t.Helper()
	require.True(t, want.Shape().EqualDimensions(got.Shape()),
		"shapes differ: %s v. %s", want.Shape(), got.Shape())
	rows, cols := want.Shape().Dim(0), want.Shape().Dim(1)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			w := want.At(i, j).Float32()
			g := got.At(i, j).Float32()
			diff := w - g
			if diff < 0 {
				diff = -diff
			}
			limit := 1e-2 + 2e-2*abs32(w)
			if diff > limit {
				t.Fatalf("element (%d,%d) differs: want %g, got %g (|diff|=%g > %g)", i, j, w, g, diff, limit)
			}
		}
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
