// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape := Make(dtypes.Float16, 4, 3, 2)
	require.True(t, shape.Ok())
	require.Equal(t, 3, shape.Rank())
	require.Equal(t, 4*3*2, shape.Size())
	require.Equal(t, 2*4*3*2, int(shape.Memory()))
	require.Equal(t, 2, shape.Dim(-1))
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, "(Float16)[4 3 2]", shape.String())

	require.Panics(t, func() { Make(dtypes.Float16, 4, -1) })
	require.Equal(t, 0, Make(dtypes.Float16, 4, 0).Size())
	require.Panics(t, func() { shape.Dim(3) })
}

func TestReverse(t *testing.T) {
	shape := Make(dtypes.Float16, 256, 512)
	reversed := shape.Reverse()
	require.Equal(t, []int{512, 256}, reversed.Dimensions)
	// Original left untouched.
	require.Equal(t, []int{256, 512}, shape.Dimensions)
	require.True(t, shape.Equal(reversed.Reverse()))
}

func TestCheckDims(t *testing.T) {
	shape := Make(dtypes.Float16, 128, 256)
	require.NoError(t, shape.CheckDims(128, 256))
	require.NoError(t, shape.CheckDims(128, UncheckedAxis))
	require.Error(t, shape.CheckDims(128))
	require.Error(t, shape.CheckDims(128, 512))
	require.NoError(t, shape.Check(dtypes.Float16, 128, 256))
	require.Error(t, shape.Check(dtypes.Int16, 128, 256))
	require.Panics(t, func() { shape.AssertDims(1, 1) })
	require.Panics(t, func() { shape.AssertRank(3) })
}
