// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestBlockHeaderFromInteriorMatchesAnyOffset(t *testing.T) {
	si := sizeToClass(64)
	n := cacheAllocate(si)
	require.NotNil(t, n)
	defer cacheDeallocate(si, n)

	base := uintptr(unsafe.Pointer(n)) &^ uintptr(blockSize-1)
	hdr := blockHeaderFromInterior(unsafe.Pointer(n))
	require.Equal(t, base, uintptr(unsafe.Pointer(hdr)))
	require.Equal(t, int32(si), hdr.sizeIndex)

	// Any interior pointer within the same block recovers the same
	// header, including one that is not the node's start.
	interior := unsafe.Pointer(uintptr(unsafe.Pointer(n)) + 8)
	require.Equal(t, hdr, blockHeaderFromInterior(interior))
}

func TestCarveOffsetIsAlignedForItsSizeClass(t *testing.T) {
	for _, size := range sizes {
		offset := carveOffset(size)
		require.Zero(t, offset%8)
		if size%16 == 0 {
			require.Zero(t, offset%16)
		}
		if size%64 == 0 {
			require.Zero(t, offset%64)
		}
	}
}

func TestCarveBlockPopulatesBinAndSkipsPageBoundaries(t *testing.T) {
	si := sizeToClass(256)
	// Full bunches move from the node list to the bunch list while a
	// block is carved, so count free nodes on both lists.
	freeInBin := func() int {
		bins[si].freeNodeLock.Lock()
		defer bins[si].freeNodeLock.Unlock()
		bins[si].freeBunchLock.Lock()
		defer bins[si].freeBunchLock.Unlock()
		return bins[si].numNodes + bins[si].numBunches*bunchCount(si)
	}
	before := freeInBin()

	megablocks.allocateBlock(si)

	after := freeInBin()
	require.Greater(t, after, before)

	// The node list is delimited by numNodes, not by a nil link.
	n := bins[si].freeNodes
	for i := 0; i < bins[si].numNodes; i++ {
		require.NotZero(t, uintptr(unsafe.Pointer(n))&(uintptr(pageSize-1)), "node starts on a page boundary")
		n = n.next
	}
}
