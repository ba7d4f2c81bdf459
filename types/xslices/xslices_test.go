// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAt(t *testing.T) {
	s := []int{10, 20, 30}
	require.Equal(t, 30, At(s, -1))
	require.Equal(t, 20, At(s, 1))
	require.Equal(t, 30, Last(s))
}

func TestFillAndIota(t *testing.T) {
	s := make([]int32, 4)
	FillSlice(s, int32(7))
	require.Equal(t, []int32{7, 7, 7, 7}, s)
	require.Equal(t, []int16{0, 1, 2, 3}, Iota(int16(0), 4))
	require.Equal(t, []float64{2.5, 2.5}, SliceWithValue(2, 2.5))
}

func TestMapAndMax(t *testing.T) {
	require.Equal(t, []int{2, 4, 6}, Map([]int{1, 2, 3}, func(v int) int { return 2 * v }))
	require.Equal(t, 9, Max([]int{3, 9, 1}))
}
