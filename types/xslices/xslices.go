// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provides missing functionality to the standard slices
// package.
package xslices

import (
	"golang.org/x/exp/constraints"
)

// At returns the element at the given index, where index can be negative, in
// which case it counts from the end of the slice.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	return slice[index]
}

// FillSlice sets all elements of the slice to the given value.
func FillSlice[T any](slice []T, value T) {
	for ii := range slice {
		slice[ii] = value
	}
}

// SliceWithValue returns a newly allocated slice of the given size, with all
// elements set to value.
func SliceWithValue[T any](size int, value T) []T {
	slice := make([]T, size)
	FillSlice(slice, value)
	return slice
}

// Iota returns a slice of the given size with values {start, start+1, ...}.
func Iota[T constraints.Integer | constraints.Float](start T, size int) []T {
	slice := make([]T, size)
	value := start
	for ii := range slice {
		slice[ii] = value
		value += 1
	}
	return slice
}

// Map applies fn to each element of in, returning the new slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Max returns the largest element of the slice. It panics on an empty slice.
func Max[T constraints.Ordered](slice []T) (max T) {
	max = slice[0]
	for _, value := range slice[1:] {
		if value > max {
			max = value
		}
	}
	return
}

// Last returns the last element of the slice. It panics on an empty slice.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}
