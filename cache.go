// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"runtime"
	"sync"
	_ "unsafe" // for go:linkname
)

// maxProcs bounds the per-P slice. 1024 Ps is far beyond anything a
// real GOMAXPROCS setting would reach; the pack's internal/pool
// (gomlx-go-xla) package uses the same fixed-array approach, sized to
// 4096 there because its per-P slot is a single pointer rather than
// one group per size class.
const maxProcs = 1024

// runtime_procPin and runtime_procUnpin pin the calling goroutine to
// its current P and return its id, exactly as sync.Pool uses them
// internally. This is the same linkname trick the retrieved pack's
// internal/pool package (gomlx-go-xla) uses to build a per-P
// structure without an OS-thread-local-storage primitive, which Go
// does not expose to user code. See SPEC_FULL.md §4.5 for why this is
// the Go-idiomatic stand-in for "per-OS-thread cache".
//
//go:linkname runtime_procPin sync.runtime_procPin
func runtime_procPin() int

//go:linkname runtime_procUnpin sync.runtime_procUnpin
func runtime_procUnpin()

// perPBin is one {count, freeNodes, markers} group for one P for one
// size class, the Go analogue of ThreadHeap's PerThreadPerBin.
type perPBin struct {
	mu        sync.Mutex // guards against a P-count change racing a pinned access; uncontended in the common case
	numNodes  int
	freeNodes *node
	markers   [2]*node

	_ [24]byte // pad to a cache line so adjacent size classes don't false-share
}

// perPCache holds one perPBin per size class for one P slot.
type perPCache struct {
	bin [numSizes]perPBin
}

var perP [maxProcs]perPCache

// withPinnedCache runs fn against the calling goroutine's pinned
// per-P cache for size class si. fn MUST NOT block: no shared-bin
// lock (bin.freeNodeLock/freeBunchLock), no megablockManager.mu, and
// no syscall (reservePageBlock) may be reached from inside fn. The
// runtime increments mp.locks across runtime_procPin/runtime_procUnpin
// to keep this goroutine's P from being taken away from it; parking
// (what a contended sync.Mutex does on its slow path) while mp.locks
// is nonzero makes the scheduler throw "schedule: holding locks". Only
// the uncontended, bounded-length pb.mu critical section is safe here.
func withPinnedCache(si int, fn func(*perPBin)) {
	pid := runtime_procPin()
	if pid >= maxProcs {
		runtime_procUnpin()
		fatalf("threadheap: GOMAXPROCS exceeds the %d procs this allocator supports", maxProcs)
	}
	pb := &perP[pid].bin[si]
	pb.mu.Lock()
	fn(pb)
	pb.mu.Unlock()
	runtime_procUnpin()
}

// cacheAllocate implements PerThread::allocate: pop a node from the
// pinned cache if any; on a miss, unpin first, pull a whole bunch from
// the shared bin (which may lock freeBunchLock, grow a megablock, and
// mmap), and only then re-pin to install the remainder and hand back
// the bunch's head node.
func cacheAllocate(si int) *node {
	if n := popFromPinnedCache(si); n != nil {
		return n
	}

	bc := bins[si].allocateBunch(si)
	return installBunchIntoPinnedCache(si, bc)
}

func popFromPinnedCache(si int) *node {
	var result *node
	withPinnedCache(si, func(pb *perPBin) {
		if pb.numNodes == 0 {
			return
		}
		pb.numNodes--
		head := pb.freeNodes
		pb.freeNodes = head.next
		result = head
	})
	return result
}

// installBunchIntoPinnedCache hands the bunch's head node back to the
// caller and splices the remainder onto whatever the pinned cache
// already holds. The cache may be non-empty here: the goroutine was
// unpinned (and possibly migrated to a different P) while bins[si].
// allocateBunch ran, and another goroutine sharing that P slot may have
// refilled it in the meantime.
func installBunchIntoPinnedCache(si int, bc *bunch) *node {
	result := bunchToNode(bc)
	rest := bc.next
	restCount := bunchCount(si) - 1
	if restCount == 0 {
		return result
	}

	withPinnedCache(si, func(pb *perPBin) {
		if pb.freeNodes == nil {
			pb.freeNodes = rest
			pb.numNodes += restCount
			return
		}
		tail := rest
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = pb.freeNodes
		pb.freeNodes = rest
		pb.numNodes += restCount
	})
	return result
}

// cacheDeallocate implements PerThread::deallocate: push locally, and
// once 2*bunchCount nodes accumulate, detach the oldest bunch under
// the pin, then unpin before handing it to the bin under
// freeBunchLock.
func cacheDeallocate(si int, n *node) {
	var detached *bunch
	withPinnedCache(si, func(pb *perPBin) {
		idx := bunchMarkerIndex(pb.numNodes, si)
		pb.numNodes++
		n.next = pb.freeNodes
		pb.freeNodes = n
		if idx != 2 {
			pb.markers[idx] = n
			return
		}

		bc := bunchCount(si)
		detached = nodeToBunch(pb.markers[0])
		pb.markers[0] = pb.markers[1]
		pb.markers[1] = n
		pb.numNodes -= bc
	})

	if detached != nil {
		bins[si].freeBunchLock.Lock()
		bins[si].deallocateBunchLocked(detached)
		bins[si].freeBunchLock.Unlock()
	}
}

// flushPBinLocked drains one per-P bin back to its bin: bunches first
// while at least bunchCount nodes remain, then any remainder one node
// at a time, mirroring PerThread's destructor.
func flushPBinLocked(si int, pb *perPBin) {
	bc := bunchCount(si)
	for pb.numNodes >= bc {
		pb.numNodes -= bc
		detached := nodeToBunch(pb.markers[0])
		bins[si].freeBunchLock.Lock()
		bins[si].deallocateBunchLocked(detached)
		bins[si].freeBunchLock.Unlock()
		pb.markers[0] = pb.markers[1]
	}

	if pb.numNodes > 0 {
		bins[si].freeNodeLock.Lock()
		for pb.numNodes > 0 {
			n := pb.freeNodes
			pb.freeNodes = n.next
			bins[si].deallocateNodeLocked(si, n)
			pb.numNodes--
		}
		bins[si].freeNodeLock.Unlock()
	}
}

// flushAllCaches drains every P slot's every size class back to the
// bins. Go's P count does not shrink the way an OS thread count does,
// so this (called from Deinitialize, and available directly as Flush)
// stands in for the original's per-thread-exit drain.
func flushAllCaches() {
	for p := range perP {
		for si := range perP[p].bin {
			pb := &perP[p].bin[si]
			pb.mu.Lock()
			flushPBinLocked(si, pb)
			pb.mu.Unlock()
		}
	}
}

// Flush drains the calling goroutine's pinned per-P cache back to the
// shared bins, across every size class. Call it before a goroutine
// that pinned itself with runtime.LockOSThread exits, if you want that
// P's cached nodes to be available to other Ps immediately rather
// than waiting for Deinitialize.
func Flush() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pid := runtime_procPin()
	runtime_procUnpin()
	if pid >= maxProcs {
		return
	}
	for si := range perP[pid].bin {
		pb := &perP[pid].bin[si]
		pb.mu.Lock()
		flushPBinLocked(si, pb)
		pb.mu.Unlock()
	}
}
