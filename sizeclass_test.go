// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeClassesAreSortedAndCoverMaxSize(t *testing.T) {
	for i := 1; i < numSizes; i++ {
		require.Greater(t, sizes[i], sizes[i-1])
	}
	require.Equal(t, MaxSize, sizes[numSizes-1])
}

func TestSizeToClassNeverUndersizes(t *testing.T) {
	for size := 1; size <= MaxSize; size++ {
		si := sizeToClass(size)
		require.GreaterOrEqual(t, sizes[si], size, "size class for %d", size)
		if si > 0 {
			require.Less(t, sizes[si-1], size, "class %d should be minimal for %d", si, size)
		}
	}
}

func TestBunchCountIsPowerOfTwoAndBounded(t *testing.T) {
	for si := 0; si < numSizes; si++ {
		bc := bunchCount(si)
		require.LessOrEqual(t, bc, maxBunchCount)
		require.LessOrEqual(t, bc*sizes[si], maxBunchSize)
		require.Equal(t, bc&(bc-1), 0, "bunchCount(%d)=%d not a power of two", si, bc)
	}
}

func TestBunchMarkerIndexSaturatesAtTwo(t *testing.T) {
	for si := 0; si < numSizes; si++ {
		bc := bunchCount(si)
		require.Equal(t, 0, bunchMarkerIndex(0, si))
		require.Equal(t, 1, bunchMarkerIndex(bc, si))
		require.Equal(t, 2, bunchMarkerIndex(2*bc, si))
		require.Equal(t, 2, bunchMarkerIndex(100*bc+1, si))
	}
}

func TestRoundup(t *testing.T) {
	cases := []struct{ n, m, want int }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{63, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
	}
	for _, c := range cases {
		require.Equal(t, c.want, roundup(c.n, c.m), "roundup(%d,%d)", c.n, c.m)
	}
}
