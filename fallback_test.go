// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestDefaultFallbackAllocateDeallocate(t *testing.T) {
	size := MaxSize + 1
	p := fallback.allocate(size)
	require.NotNil(t, p)
	require.Equal(t, size, fallback.memsize(p))

	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = byte(i)
	}
	for i, v := range b {
		require.Equal(t, byte(i), v)
	}

	fallback.deallocate(p)
}

func TestSetFallbackHeapWithoutMemsizeUsesWrapper(t *testing.T) {
	var mu sync.Mutex
	freed := map[uintptr]int{}
	allocated := map[uintptr][]byte{}

	alloc := func(size int) unsafe.Pointer {
		buf := make([]byte, size)
		p := unsafe.Pointer(&buf[0])
		mu.Lock()
		allocated[uintptr(p)] = buf
		mu.Unlock()
		return p
	}
	dealloc := func(p unsafe.Pointer) {
		mu.Lock()
		freed[uintptr(p)]++
		delete(allocated, uintptr(p))
		mu.Unlock()
	}

	prev := fallback
	defer func() { fallback = prev }()

	SetFallbackHeap(alloc, dealloc, nil, nil, false)

	size := 777
	p := fallback.allocate(size)
	require.NotNil(t, p)
	require.Equal(t, size, fallback.memsize(p))

	fallback.deallocate(p)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, len(freed), "user-supplied deallocate must be invoked exactly once")
}

func TestSetFallbackHeapPageAlignedUsesCallerDirectly(t *testing.T) {
	var gotSize int
	alloc := func(size int) unsafe.Pointer {
		gotSize = size
		buf := make([]byte, size)
		return unsafe.Pointer(&buf[0])
	}
	memsize := func(p unsafe.Pointer) int { return gotSize }
	freed := false
	dealloc := func(p unsafe.Pointer) { freed = true }

	prev := fallback
	defer func() { fallback = prev }()

	SetFallbackHeap(alloc, dealloc, nil, memsize, true)

	p := fallback.allocate(4096)
	require.Equal(t, 4096, fallback.memsize(p))
	fallback.deallocate(p)
	require.True(t, freed)
}
