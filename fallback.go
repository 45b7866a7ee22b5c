// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"sync"
	"unsafe"
)

// fallbackHeap is the small value-type vtable described in spec §4.6
// and §9 ("dynamic dispatch through function pointers... model as a
// value-type carrying the four operations"). It is swapped wholesale
// by SetFallbackHeap, under generalLock, and is not safe to swap
// concurrently with allocation — matching the original's own contract.
type fallbackHeap struct {
	allocate    func(size int) unsafe.Pointer
	deallocate  func(p unsafe.Pointer)
	reallocate  func(p unsafe.Pointer, size int) unsafe.Pointer
	memsize     func(p unsafe.Pointer) int
	pageAligned bool
}

var fallback = fallbackHeap{
	allocate:    wrapperAllocate,
	deallocate:  wrapperDeallocate,
	reallocate:  nil,
	memsize:     wrapperMemsize,
	pageAligned: false,
}

// wrappedAllocate/wrappedDeallocate are the malloc/free-shaped pair
// the wrapper in wrapperAllocate/wrapperDeallocate sits on top of. Per
// original_source/.../ThreadHeap.cpp the default here is the platform
// allocator (malloc/free); this port has no dependency-free equivalent
// of malloc, so the default goes straight to the page provider instead
// — the same substitution cznic-memory's own newPage makes for its
// big-allocation path — with its own page-count bookkeeping so it can
// still be called back with just a pointer, like free() can.
var (
	wrappedAllocate   func(size int) unsafe.Pointer = defaultMallocLike
	wrappedDeallocate func(p unsafe.Pointer)         = defaultFreeLike
)

var (
	defaultAllocMu  sync.Mutex
	defaultAllocLen = map[uintptr]int{} // base -> numPages, for defaultFreeLike
)

func defaultMallocLike(size int) unsafe.Pointer {
	numPages := (size + pageSize - 1) / pageSize
	base, err := reservePageBlock(numPages, true)
	if err != nil {
		return nil
	}

	defaultAllocMu.Lock()
	defaultAllocLen[base] = numPages
	defaultAllocMu.Unlock()
	return unsafe.Pointer(base)
}

func defaultFreeLike(p unsafe.Pointer) {
	if p == nil {
		return
	}
	base := uintptr(p)

	defaultAllocMu.Lock()
	numPages, ok := defaultAllocLen[base]
	delete(defaultAllocLen, base)
	defaultAllocMu.Unlock()

	if !ok {
		tracef("threadheap: fallback default free: unknown base %#x", base)
		return
	}
	if err := releasePageBlock(base, numPages); err != nil {
		tracef("threadheap: fallback default free: releasePageBlock failed: %v", err)
	}
}

// wrapperAllocate implements fallback_wrapper_allocate: it prefixes
// the requested block with two pointer-sized words recording the raw
// base and the requested size, so deallocate/memsize are
// self-describing even when wrappedAllocate is not.
func wrapperAllocate(size int) unsafe.Pointer {
	extra := pageSize + int(pointerSize)*2 - 1
	base := wrappedAllocate(size + extra)
	if base == nil {
		fatalf("threadheap: fallback allocate: out of memory")
	}

	addr := uintptr(base)
	rv := (addr + uintptr(extra)) &^ uintptr(pageSize-1)
	words := (*[2]uintptr)(unsafe.Pointer(rv - 2*pointerSize))
	words[0] = addr
	words[1] = uintptr(size)
	return unsafe.Pointer(rv)
}

func wrapperDeallocate(p unsafe.Pointer) {
	if p == nil {
		return
	}
	words := (*[2]uintptr)(unsafe.Pointer(uintptr(p) - 2*pointerSize))
	wrappedDeallocate(unsafe.Pointer(words[0]))
}

func wrapperMemsize(p unsafe.Pointer) int {
	words := (*[2]uintptr)(unsafe.Pointer(uintptr(p) - 2*pointerSize))
	return int(words[1])
}

// SetFallbackHeap swaps the fallback vtable used for requests larger
// than MaxSize. NOT thread-safe with concurrent Allocate/Deallocate
// calls; call it during setup only, per spec §4.6.
//
// If memsize is nil or pageAligned is false, allocate/deallocate/
// memsize are instead served by a 2-pointer-prefixed wrapper around
// the supplied allocate/deallocate, at the cost of one extra page of
// headroom per allocation, exactly as the original's set_fallback_heap
// does.
func SetFallbackHeap(
	allocate func(size int) unsafe.Pointer,
	deallocate func(p unsafe.Pointer),
	reallocate func(p unsafe.Pointer, size int) unsafe.Pointer,
	memsize func(p unsafe.Pointer) int,
	pageAligned bool,
) {
	generalLock.Lock()
	defer generalLock.Unlock()

	if memsize == nil || !pageAligned {
		wrappedAllocate = allocate
		wrappedDeallocate = deallocate
		fallback = fallbackHeap{
			allocate:    wrapperAllocate,
			deallocate:  wrapperDeallocate,
			reallocate:  nil,
			memsize:     wrapperMemsize,
			pageAligned: false,
		}
		return
	}

	fallback = fallbackHeap{
		allocate:    allocate,
		deallocate:  deallocate,
		reallocate:  reallocate,
		memsize:     memsize,
		pageAligned: pageAligned,
	}
}
