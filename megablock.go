// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"
)

// megablockData describes one reservation from the page provider,
// carved into BLOCK_SIZE-aligned blocks. The manager's own slice is
// what keeps these alive; blockHeader.mblockID is a non-owning
// back-reference (spec §9, "cyclic / back-referenced structures").
type megablockData struct {
	actualStart  uintptr
	actualPages  int
	alignedStart uintptr
	numBlocks    int
	unusedBlocks int32
	blockClass   []int8 // per-block size-class index, -1 if unowned
}

func (mb *megablockData) blockBase(bi int) unsafe.Pointer {
	return unsafe.Pointer(mb.alignedStart + uintptr(bi)*blockSize)
}

// megablockManager owns the sorted, process-wide list of megablocks.
// A slice sorted by alignedStart stands in for the original's
// hand-rolled address-sorted doubly-linked list; both satisfy the
// "Megablock list invariant" of spec §8 (strictly increasing start
// addresses, count equals list length) with simpler Go code.
type megablockManager struct {
	mu   sync.Mutex
	list []*megablockData
}

var megablocks megablockManager

// addrRange is one megablock's carved-block address span, published for
// lock-free lookup by ownsAddress. Deallocate/Memsize/Reallocate must
// tell a block-owned pointer from a fallback-owned one without trusting
// whatever bytes happen to sit at the masked address — freshly mapped
// pages are zero-filled regardless of which subsystem reserved them, so
// a plausible-looking blockHeader.sizeIndex there proves nothing.
type addrRange struct {
	start, end uintptr // end is exclusive
}

var megablockRanges atomic.Value // []addrRange, sorted by start

func init() {
	megablockRanges.Store([]addrRange{})
}

// publishRangesLocked snapshots the current megablock list into
// megablockRanges. Caller must hold m.mu.
func (m *megablockManager) publishRangesLocked() {
	ranges := make([]addrRange, len(m.list))
	for i, mb := range m.list {
		ranges[i] = addrRange{start: mb.alignedStart, end: mb.alignedStart + uintptr(mb.numBlocks)*blockSize}
	}
	megablockRanges.Store(ranges)
}

// ownsAddress reports whether addr falls within some megablock's
// carved-block span, without taking any lock.
func ownsAddress(addr uintptr) bool {
	ranges := megablockRanges.Load().([]addrRange)
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].end > addr })
	return i < len(ranges) && addr >= ranges[i].start && addr < ranges[i].end
}

// allocateBlock claims one unused block from some megablock for size
// class si, carving it and pushing its nodes onto bin si. Mirrors
// allocate_block in ThreadHeap.cpp, including growing the megablock
// list on demand.
func (m *megablockManager) allocateBlock(si int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		idx := -1
		for i, mb := range m.list {
			if mb.unusedBlocks > 0 {
				idx = i
				break
			}
		}
		if idx < 0 {
			m.addMegablockLocked()
			continue
		}

		mb := m.list[idx]
		bi := -1
		for i, si2 := range mb.blockClass {
			if si2 == -1 {
				bi = i
				break
			}
		}
		if bi < 0 {
			// Bookkeeping says this megablock has an unused block but
			// none was found; treat it as exhausted and keep scanning.
			mb.unusedBlocks = 0
			continue
		}

		mb.blockClass[bi] = int8(si)
		mb.unusedBlocks--
		carveBlock(mb.blockBase(bi), si, idx, bi)
		return
	}
}

// addMegablockLocked reserves a new megablock from the page provider.
// Caller must hold m.mu. Mirrors add_megablock, including the
// retry-halving quirk noted in spec §9(ii): on success mid-loop the
// already-halved numBlocks is kept, not restored to the original
// target.
func (m *megablockManager) addMegablockLocked() {
	numBlocks := minBlocksPerMegablock + len(m.list)*stepBlocksPerMegablock
	if numBlocks > maxBlocksPerMegablock {
		numBlocks = maxBlocksPerMegablock
	}

	actualPages := pagesPerBlock*numBlocks + (pagesPerBlock - 1)
	base, err := reservePageBlock(actualPages, true)
	if err != nil {
		for numBlocks != minBlocksPerMegablock {
			tracef("threadheap: addMegablock: unable to reserve %d blocks (%d pages): %v", numBlocks, actualPages, err)
			numBlocks = (minBlocksPerMegablock + numBlocks) >> 1
			actualPages = pagesPerBlock*numBlocks + (pagesPerBlock - 1)
			base, err = reservePageBlock(actualPages, true)
			if err == nil {
				break
			}
		}
		if err != nil {
			fatalf("threadheap: addMegablock: unable to reserve a megablock of any acceptable size: %v", err)
		}
	}

	alignment := base & (blockSize - 1)
	var alignedStart uintptr
	if alignment == 0 {
		alignedStart = base
	} else {
		alignedStart = base + (blockSize - alignment)
	}

	mb := &megablockData{
		actualStart:  base,
		actualPages:  actualPages,
		alignedStart: alignedStart,
		numBlocks:    numBlocks,
		unusedBlocks: int32(numBlocks),
		blockClass:   make([]int8, numBlocks),
	}
	for i := range mb.blockClass {
		mb.blockClass[i] = -1
	}

	pos := len(m.list)
	for i, other := range m.list {
		if other.alignedStart > mb.alignedStart {
			pos = i
			break
		}
	}
	m.list = append(m.list, nil)
	copy(m.list[pos+1:], m.list[pos:])
	m.list[pos] = mb
	m.publishRangesLocked()
}

// teardown returns every reservation to the page provider and clears
// the list, as deinitialize() does to MegaBlockData::lowest.
func (m *megablockManager) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mb := range m.list {
		if err := releasePageBlock(mb.actualStart, mb.actualPages); err != nil {
			tracef("threadheap: teardown: releasePageBlock failed: %v", err)
		}
	}
	m.list = nil
	m.publishRangesLocked()
}
