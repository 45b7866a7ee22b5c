// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2012 The ThreadHeap Authors.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package threadheap

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// reservePageBlock reserves numPages pages of address space. If enabled
// is true the pages are committed (backed by RAM on first touch); if
// false they are reserved but not yet usable, matching
// AddressSpaceManagement::allocate_page_block's enabled parameter.
func reservePageBlock(numPages int, enabled bool) (uintptr, error) {
	size := numPages * pageSize
	prot := syscall.PROT_READ | syscall.PROT_WRITE
	if !enabled {
		prot = syscall.PROT_NONE
	}
	flags := syscall.MAP_PRIVATE | syscall.MAP_ANON
	b, err := syscall.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return 0, err
	}

	addr := uintptr(unsafe.Pointer(&b[0]))
	if addr&uintptr(pageSize-1) != 0 {
		fatalf("threadheap: mmap returned a non-page-aligned address")
	}
	return addr, nil
}

func releasePageBlock(base uintptr, numPages int) error {
	size := numPages * pageSize
	_, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, base, uintptr(size), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// disablePages decommits pages within a region previously returned by
// reservePageBlock, keeping the address range reserved. Not on any
// allocation/deallocation hot path; reserved for the inert
// high-address path and exercised only by tests.
func disablePages(base uintptr, numPages int) error {
	size := numPages * pageSize
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

// enablePages re-commits a previously disabled range.
func enablePages(base uintptr, numPages int) error {
	size := numPages * pageSize
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

// resetPages hints to the OS that the backing storage for this range
// may be discarded until the next write, without changing protection.
func resetPages(base uintptr, numPages int) {
	size := numPages * pageSize
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	_ = unix.Madvise(b, unix.MADV_FREE)
}
