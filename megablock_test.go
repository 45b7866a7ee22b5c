// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMegablockListStaysSortedByAddress(t *testing.T) {
	si := sizeToClass(3072) // each call claims one whole block, whatever the class
	for i := 0; i < 64; i++ {
		megablocks.allocateBlock(si)
	}

	megablocks.mu.Lock()
	defer megablocks.mu.Unlock()
	for i := 1; i < len(megablocks.list); i++ {
		require.Greater(t, megablocks.list[i].alignedStart, megablocks.list[i-1].alignedStart)
	}
}

func TestMegablockBlockBaseIsBlockAligned(t *testing.T) {
	megablocks.mu.Lock()
	defer megablocks.mu.Unlock()
	for _, mb := range megablocks.list {
		for bi := 0; bi < mb.numBlocks; bi++ {
			addr := uintptr(mb.blockBase(bi))
			require.Zero(t, addr&uintptr(blockSize-1), "block %d of megablock at %#x is not block-aligned", bi, mb.alignedStart)
		}
	}
}

func TestMegablockOwnedBlockClassesAreValid(t *testing.T) {
	megablocks.mu.Lock()
	defer megablocks.mu.Unlock()
	for _, mb := range megablocks.list {
		for _, si := range mb.blockClass {
			if si == -1 {
				continue
			}
			require.GreaterOrEqual(t, int(si), 0)
			require.Less(t, int(si), numSizes)
		}
	}
}
