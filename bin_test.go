// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinAllocateDeallocateRoundTrip(t *testing.T) {
	si := sizeToClass(96)
	var taken []*node
	for i := 0; i < 500; i++ {
		n := bins[si].allocateNode(si)
		require.NotNil(t, n)
		taken = append(taken, n)
	}
	seen := map[*node]bool{}
	for _, n := range taken {
		require.False(t, seen[n], "bin handed out the same node twice")
		seen[n] = true
	}
	for _, n := range taken {
		bins[si].deallocateNode(si, n)
	}
}

func TestBinPromotesFullBunchesToFreeBunchList(t *testing.T) {
	si := sizeToClass(48)
	bc := bunchCount(si)

	var taken []*node
	for i := 0; i < bc*3; i++ {
		taken = append(taken, bins[si].allocateNode(si))
	}
	for _, n := range taken {
		bins[si].deallocateNode(si, n)
	}

	bins[si].freeBunchLock.Lock()
	numBunches := bins[si].numBunches
	bins[si].freeBunchLock.Unlock()
	require.Greater(t, numBunches, 0, "expected at least one bunch to have been promoted")
}

func TestBinAllocateBunchReturnsFullBunch(t *testing.T) {
	si := sizeToClass(192)
	bc := bunchCount(si)
	bunch := bins[si].allocateBunch(si)
	require.NotNil(t, bunch)

	count := 1
	for n := bunch.next; n != nil; n = n.next {
		count++
	}
	require.Equal(t, bc, count)

	bins[si].freeBunchLock.Lock()
	bins[si].deallocateBunchLocked(bunch)
	bins[si].freeBunchLock.Unlock()
}
