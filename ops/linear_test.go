// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/blocksparse/backends"
	"github.com/gomlx/blocksparse/backends/simplego"
	"github.com/gomlx/blocksparse/sparse"
	"github.com/gomlx/blocksparse/types/shapes"
	"github.com/gomlx/blocksparse/types/tensors"
)

// matmulSizes is the shared problem matrix for the five matmul ops. Each case
// runs under every combination of operand transposes.
var matmulSizes = []struct {
	m, k, n, blocking int
	sparsity          float64
}{
	{16, 16, 16, 4, 0.0},
	{32, 32, 32, 8, 0.5},
	{64, 32, 16, 8, 0.75},
	{128, 64, 32, 16, 0.5},
}

var transposeCombos = []struct {
	name       string
	lhs, rhs   bool
}{
	{"NN", false, false},
	{"TN", true, false},
	{"NT", false, true},
	{"TT", true, true},
}

func caseName(m, k, n, blocking int, sparsity float64, combo string) string {
	return fmt.Sprintf("m%d_k%d_n%d_b%d_s%.2f/%s", m, k, n, blocking, sparsity, combo)
}

// sparseOperandPair builds a rows x cols sparse operand (and its dense
// equivalent) with the requested logical shape. When trans is set the pair is
// built at the reversed shape and transposed, exercising the lazy-transpose
// path through the kernels.
func sparseOperandPair(t *testing.T, rng *rand.Rand, rows, cols int, sparsity float64, blocking int, trans bool) (*tensors.Tensor, *sparse.Matrix) {
	t.Helper()
	if trans {
		dense, matrix := denseAndSparse(t, rng, cols, rows, sparsity, blocking)
		return must.M1(dense.T()), must.M1(matrix.T())
	}
	return denseAndSparse(t, rng, rows, cols, sparsity, blocking)
}

// denseOperandMaybeT builds a rows x cols dense operand, through a transposed
// view when trans is set.
func denseOperandMaybeT(rng *rand.Rand, rows, cols int, trans bool) *tensors.Tensor {
	if trans {
		return must.M1(randDense(rng, cols, rows).T())
	}
	return randDense(rng, rows, cols)
}

func TestDsd(t *testing.T) {
	backend := simplego.New("")
	for _, sz := range matmulSizes {
		for _, combo := range transposeCombos {
			t.Run(caseName(sz.m, sz.k, sz.n, sz.blocking, sz.sparsity, combo.name), func(t *testing.T) {
				rng := rand.New(rand.NewSource(1))
				lhsDense, lhsSparse := sparseOperandPair(t, rng, sz.m, sz.k, sz.sparsity, sz.blocking, combo.lhs)
				rhs := denseOperandMaybeT(rng, sz.k, sz.n, combo.rhs)
				got, err := Dsd(backend, lhsSparse, rhs)
				require.NoError(t, err)
				requireAllClose(t, refMatmul(lhsDense, rhs), got)
			})
		}
	}
}

func TestDds(t *testing.T) {
	backend := simplego.New("")
	for _, sz := range matmulSizes {
		for _, combo := range transposeCombos {
			t.Run(caseName(sz.m, sz.k, sz.n, sz.blocking, sz.sparsity, combo.name), func(t *testing.T) {
				rng := rand.New(rand.NewSource(2))
				lhs := denseOperandMaybeT(rng, sz.m, sz.k, combo.lhs)
				rhsDense, rhsSparse := sparseOperandPair(t, rng, sz.k, sz.n, sz.sparsity, sz.blocking, combo.rhs)
				got, err := Dds(backend, lhs, rhsSparse)
				require.NoError(t, err)
				requireAllClose(t, refMatmul(lhs, rhsDense), got)
			})
		}
	}
}

func TestSdd(t *testing.T) {
	backend := simplego.New("")
	for _, sz := range matmulSizes {
		for _, combo := range transposeCombos {
			t.Run(caseName(sz.m, sz.k, sz.n, sz.blocking, sz.sparsity, combo.name), func(t *testing.T) {
				rng := rand.New(rand.NewSource(3))
				lhs := denseOperandMaybeT(rng, sz.m, sz.k, combo.lhs)
				rhs := denseOperandMaybeT(rng, sz.k, sz.n, combo.rhs)
				_, topology := denseAndSparse(t, rng, sz.m, sz.n, sz.sparsity, sz.blocking)
				got, err := Sdd(backend, lhs, rhs, topology)
				require.NoError(t, err)
				require.Equal(t, topology.NumBlocks(), got.NumBlocks())
				requireAllClose(t, maskedRefMatmul(t, lhs, rhs, topology), must.M1(ToDense(got)))
			})
		}
	}
}

func TestSsd(t *testing.T) {
	backend := simplego.New("")
	for _, sz := range matmulSizes {
		for _, combo := range transposeCombos {
			t.Run(caseName(sz.m, sz.k, sz.n, sz.blocking, sz.sparsity, combo.name), func(t *testing.T) {
				rng := rand.New(rand.NewSource(4))
				lhsDense, lhsSparse := sparseOperandPair(t, rng, sz.m, sz.k, sz.sparsity, sz.blocking, combo.lhs)
				rhs := denseOperandMaybeT(rng, sz.k, sz.n, combo.rhs)
				_, topology := denseAndSparse(t, rng, sz.m, sz.n, sz.sparsity, sz.blocking)
				got, err := Ssd(backend, lhsSparse, rhs, topology)
				require.NoError(t, err)
				requireAllClose(t, maskedRefMatmul(t, lhsDense, rhs, topology), must.M1(ToDense(got)))
			})
		}
	}
}

func TestDss(t *testing.T) {
	backend := simplego.New("")
	for _, sz := range matmulSizes {
		for _, combo := range transposeCombos {
			t.Run(caseName(sz.m, sz.k, sz.n, sz.blocking, sz.sparsity, combo.name), func(t *testing.T) {
				rng := rand.New(rand.NewSource(5))
				lhsDense, lhsSparse := sparseOperandPair(t, rng, sz.m, sz.k, sz.sparsity, sz.blocking, combo.lhs)
				rhsDense, rhsSparse := sparseOperandPair(t, rng, sz.k, sz.n, sz.sparsity, sz.blocking, combo.rhs)
				got, err := Dss(backend, lhsSparse, rhsSparse)
				require.NoError(t, err)
				requireAllClose(t, refMatmul(lhsDense, rhsDense), got)
			})
		}
	}
}

// TestDsdEndToEnd is the full-pipeline agreement case: convert, multiply and
// compare against the dense reference at a realistic MoE-style blocking.
func TestDsdEndToEnd(t *testing.T) {
	backend := simplego.New("")
	rng := rand.New(rand.NewSource(6))
	lhsDense, lhsSparse := denseAndSparse(t, rng, 256, 256, 0.5, 128)
	rhs := randDense(rng, 256, 128)
	got, err := Dsd(backend, lhsSparse, rhs)
	require.NoError(t, err)
	requireAllClose(t, refMatmul(lhsDense, rhs), got)
}

// TestMatmulShapesLarge verifies the output shape contracts at sizes too big
// for an elementwise reference check.
func TestMatmulShapesLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large shapes in -short mode")
	}
	backend := simplego.New("")
	rng := rand.New(rand.NewSource(7))
	for _, sz := range []struct {
		m, k, n, blocking int
	}{
		{512, 256, 128, 64},
		{2048, 1024, 512, 128},
	} {
		_, lhsSparse := denseAndSparse(t, rng, sz.m, sz.k, 0.95, sz.blocking)
		rhs := randDense(rng, sz.k, sz.n)
		out, err := Dsd(backend, lhsSparse, rhs)
		require.NoError(t, err)
		require.Equal(t, []int{sz.m, sz.n}, out.Shape().Dimensions)

		lhs := randDense(rng, sz.m, sz.k)
		_, topology := denseAndSparse(t, rng, sz.m, sz.n, 0.95, sz.blocking)
		sparseOut, err := Sdd(backend, lhs, rhs, topology)
		require.NoError(t, err)
		require.Equal(t, []int{sz.m, sz.n}, sparseOut.Shape().Dimensions)
		require.Equal(t, topology.NumBlocks(), sparseOut.NumBlocks())
	}
}

func TestMatmulErrors(t *testing.T) {
	backend := simplego.New("")
	rng := rand.New(rand.NewSource(8))
	_, lhsSparse := denseAndSparse(t, rng, 16, 16, 0.5, 4)
	rhs := randDense(rng, 16, 8)

	// Contraction dimension mismatch.
	_, err := Dsd(backend, lhsSparse, randDense(rng, 8, 8))
	require.ErrorIs(t, err, sparse.ErrShape)

	// Operands on different devices.
	moved := randDense(rng, 16, 8).ToDevice(backends.DeviceNum(0))
	_, err = Dsd(backend, lhsSparse, moved)
	require.ErrorIs(t, err, sparse.ErrDeviceMismatch)

	// Rank > 2 operands are not matmul operands.
	view := must.M1(lhsSparse.View(2, 8, 16))
	_, err = Dsd(backend, view, rhs)
	require.ErrorIs(t, err, sparse.ErrDimensionality)
	_, err = Dds(backend, tensors.FromShape(shapes.Make(dtypes.Float16, 2, 8, 16)), lhsSparse)
	require.ErrorIs(t, err, sparse.ErrDimensionality)

	// Non-fp16 dense operand.
	_, err = Dds(backend, tensors.FromShape(shapes.Make(dtypes.Float32, 16, 16)), lhsSparse)
	require.ErrorIs(t, err, sparse.ErrDType)
}

func TestTopologyErrors(t *testing.T) {
	backend := simplego.New("")
	rng := rand.New(rand.NewSource(9))
	lhs := randDense(rng, 16, 16)
	rhs := randDense(rng, 16, 16)
	_, topology := denseAndSparse(t, rng, 16, 16, 0.5, 4)

	// Transposed topologies are rejected before anything else.
	_, err := Sdd(backend, lhs, rhs, must.M1(topology.T()))
	require.ErrorIs(t, err, sparse.ErrState)

	// Topology shape must match the product shape.
	_, wrongShape := denseAndSparse(t, rng, 16, 8, 0.5, 4)
	_, err = Sdd(backend, lhs, rhs, wrongShape)
	require.ErrorIs(t, err, sparse.ErrShape)

	// Topology on a different device than the operands.
	movedTopology := topology.Clone().ToDevice(backends.DeviceNum(0))
	_, err = Sdd(backend, lhs, rhs, movedTopology)
	require.ErrorIs(t, err, sparse.ErrDeviceMismatch)

	// Sparse operand and topology blockings must agree.
	_, lhsSparse := denseAndSparse(t, rng, 16, 16, 0.5, 4)
	_, coarseTopology := denseAndSparse(t, rng, 16, 16, 0.5, 8)
	_, err = Ssd(backend, lhsSparse, rhs, coarseTopology)
	require.ErrorIs(t, err, sparse.ErrTopology)

	// Same for the two operands of a sparse-sparse product.
	_, coarseRhs := denseAndSparse(t, rng, 16, 16, 0.5, 8)
	_, err = Dss(backend, lhsSparse, coarseRhs)
	require.ErrorIs(t, err, sparse.ErrTopology)
}
