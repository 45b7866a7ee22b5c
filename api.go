// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"sync"
	"unsafe"
)

// generalLock guards Initialize/Deinitialize/SetFallbackHeap against
// each other and against the initialized check in the public entry
// points. It is not on the hot allocate/deallocate path.
var generalLock sync.Mutex

var initialized bool

// Initialize prepares the size-class tables. It is idempotent and safe
// to call more than once; callers that never call it get the same
// tables lazily built on first use via initOnce.
func Initialize() {
	generalLock.Lock()
	defer generalLock.Unlock()
	initLocked()
}

func initLocked() {
	if initialized {
		return
	}
	buildSizeClassTables()
	initialized = true
}

var initOnce sync.Once

func ensureInitialized() {
	initOnce.Do(Initialize)
}

// Deinitialize releases every megablock back to the OS and drains all
// per-P caches. It is meant for tests and for short-lived processes
// that want to report a clean bill to a leak checker; it is not safe
// to call while any goroutine might still be allocating or
// deallocating.
func Deinitialize() {
	generalLock.Lock()
	defer generalLock.Unlock()

	flushAllCaches()
	megablocks.teardown()
	// Every node on the bins' lists lived in a megablock just released.
	for si := range bins {
		b := &bins[si]
		b.freeNodeLock.Lock()
		b.freeNodes, b.numNodes, b.markers = nil, 0, [2]*node{}
		b.freeNodeLock.Unlock()
		b.freeBunchLock.Lock()
		b.freeBunches, b.numBunches = nil, 0
		b.freeBunchLock.Unlock()
	}
	initialized = false
	initOnce = sync.Once{}
}

// Allocate returns a pointer to at least size bytes, or nil if size is
// 0. Requests larger than MaxSize are forwarded to the fallback heap.
func Allocate(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	ensureInitialized()

	if size > MaxSize {
		return fallback.allocate(size)
	}

	si := sizeToClass(size)
	n := cacheAllocate(si)
	return unsafe.Pointer(n)
}

// AllocateCachelineAligned is like Allocate but guarantees the result
// is aligned to CacheLineSize. Every size class whose byte size is a
// multiple of CacheLineSize already satisfies this (buildSizeClassTables
// verifies it at Initialize time), so for size <= MaxSize this is
// Allocate with the request rounded up to such a class; above MaxSize
// it forwards to the fallback heap, which is always page-aligned.
func AllocateCachelineAligned(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	ensureInitialized()

	if size > MaxSize {
		return fallback.allocate(size)
	}

	rounded := roundup(size, CacheLineSize)
	if rounded > MaxSize {
		return fallback.allocate(size)
	}
	si := sizeToClass(rounded)
	n := cacheAllocate(si)
	return unsafe.Pointer(n)
}

// Deallocate frees a pointer previously returned by Allocate,
// AllocateCachelineAligned, or Reallocate. p may be nil.
func Deallocate(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if !ownedByBlock(p) {
		fallback.deallocate(p)
		return
	}

	hdr := blockHeaderFromInterior(p)
	si := int(hdr.sizeIndex)
	cacheDeallocate(si, (*node)(p))
}

// Memsize reports the usable size of the allocation containing p,
// which may be larger than the size originally requested since
// allocations are rounded up to a size class.
func Memsize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	if !ownedByBlock(p) {
		return fallback.memsize(p)
	}

	hdr := blockHeaderFromInterior(p)
	return sizes[hdr.sizeIndex]
}

// Reallocate resizes the allocation at p to size bytes, copying the
// lesser of the old usable size and the new size and freeing the old
// allocation, as realloc(3) does. A size that fits p's usable size and
// maps to the same size class returns p unchanged. A nil p behaves like
// Allocate; a zero size behaves like Deallocate and returns nil.
func Reallocate(p unsafe.Pointer, size int) unsafe.Pointer {
	if p == nil {
		return Allocate(size)
	}
	if size <= 0 {
		Deallocate(p)
		return nil
	}

	oldSize := Memsize(p)
	if !ownedByBlock(p) && fallback.reallocate != nil {
		return fallback.reallocate(p, size)
	}

	if size <= oldSize && sizeToClassSafe(size) == sizeToClassSafe(oldSize) {
		return p
	}

	np := Allocate(size)
	if np == nil {
		return nil
	}
	n := oldSize
	if size < n {
		n = size
	}
	copyBytes(np, p, n)
	Deallocate(p)
	return np
}

func sizeToClassSafe(size int) int {
	if size > MaxSize {
		return -1
	}
	return sizeToClass(size)
}

func copyBytes(dst, src unsafe.Pointer, n int) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

// ownedByBlock reports whether p was carved from one of our blocks (as
// opposed to having come from the fallback heap). It checks p's
// address against the published megablock ranges rather than trusting
// whatever bytes sit at the masked blockHeader address: freshly mapped
// pages are zero-filled regardless of which subsystem reserved them, so
// a masked read alone cannot tell a block-owned pointer from a
// fallback-owned one that merely lands on a zeroed sizeIndex==0.
func ownedByBlock(p unsafe.Pointer) bool {
	return ownsAddress(uintptr(p))
}

// Malloc, Calloc, Free, Realloc, and UsableSize are byte-slice
// convenience wrappers around the pointer API, for callers that would
// rather not hold unsafe.Pointer themselves (see spec §4.6's
// byte-slice overlay requirement).

// Malloc returns a byte slice of length size backed by a fresh
// allocation; its contents are uninitialized.
func Malloc(size int) []byte {
	p := Allocate(size)
	if p == nil {
		return nil
	}
	if trace {
		tracef("threadheap: Malloc(%d) -> %p", size, p)
	}
	return unsafe.Slice((*byte)(p), size)
}

// Calloc is Malloc followed by a zero-fill, mirroring calloc(3).
func Calloc(n, size int) []byte {
	total := n * size
	b := Malloc(total)
	for i := range b {
		b[i] = 0
	}
	return b
}

// Free releases a slice previously returned by Malloc, Calloc, or
// Realloc. Freeing a nil or empty slice is a no-op.
func Free(b []byte) {
	if len(b) == 0 {
		return
	}
	Deallocate(unsafe.Pointer(&b[0]))
}

// Realloc resizes b to size bytes, preserving its contents up to the
// lesser of the old and new lengths.
func Realloc(b []byte, size int) []byte {
	if len(b) == 0 {
		return Malloc(size)
	}
	p := Reallocate(unsafe.Pointer(&b[0]), size)
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), size)
}

// UsableSize reports the usable size backing b, which may exceed
// len(b) when b was produced by a size class larger than requested.
func UsableSize(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return Memsize(unsafe.Pointer(&b[0]))
}
