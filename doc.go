// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package threadheap implements a multi-tier, thread-caching general
// purpose allocator.
//
// The allocator is organized in five cooperating tiers: a per-P cache
// (the Go analogue of a per-OS-thread cache), a process-wide bin per
// size class, a block carved from a megablock, the megablock manager
// that reserves address space from the OS, and a fallback heap used for
// anything larger than the largest size class.
//
// Changelog
//
// 2012-07-11 Ported from the original C++ ThreadHeap to a standalone Go
// package, trading OS-thread-local storage (unavailable to Go code) for
// per-P caches pinned the same way the runtime pins sync.Pool shards.
package threadheap

import "unsafe"

// pointerSize is the size in bytes of a machine word on this platform.
const pointerSize = unsafe.Sizeof(uintptr(0))
