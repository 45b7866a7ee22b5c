// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2012 The ThreadHeap Authors.

package threadheap

import (
	"errors"
	"os"
	"sync"
	"syscall"
)

// handleMap recovers the file-mapping handle for an address returned
// by reservePageBlock, since Windows needs it back to unmap.
var (
	handleMu  sync.Mutex
	handleMap = map[uintptr]syscall.Handle{}
)

func reservePageBlock(numPages int, enabled bool) (uintptr, error) {
	size := numPages * pageSize
	flProtect := uint32(syscall.PAGE_READWRITE)
	if !enabled {
		flProtect = syscall.PAGE_NOACCESS
	}
	dwDesiredAccess := uint32(syscall.FILE_MAP_WRITE)

	maxSizeHigh := uint32(int64(size) >> 32)
	maxSizeLow := uint32(int64(size) & 0xFFFFFFFF)
	h, errno := syscall.CreateFileMapping(syscall.Handle(^uintptr(0)), nil, flProtect, maxSizeHigh, maxSizeLow, nil)
	if h == 0 {
		return 0, os.NewSyscallError("CreateFileMapping", errno)
	}

	addr, errno := syscall.MapViewOfFile(h, dwDesiredAccess, 0, 0, uintptr(size))
	if addr == 0 {
		syscall.CloseHandle(h)
		return 0, os.NewSyscallError("MapViewOfFile", errno)
	}

	if addr&uintptr(pageSize-1) != 0 {
		fatalf("threadheap: MapViewOfFile returned a non-page-aligned address")
	}

	handleMu.Lock()
	handleMap[addr] = h
	handleMu.Unlock()
	return addr, nil
}

func releasePageBlock(base uintptr, numPages int) error {
	if err := syscall.UnmapViewOfFile(base); err != nil {
		return err
	}

	handleMu.Lock()
	handle, ok := handleMap[base]
	if ok {
		delete(handleMap, base)
	}
	handleMu.Unlock()
	if !ok {
		return errors.New("threadheap: unknown base address")
	}
	return os.NewSyscallError("CloseHandle", syscall.CloseHandle(handle))
}

// disablePages decommits pages. Windows requires VirtualFree with
// MEM_DECOMMIT against memory obtained through VirtualAlloc, which our
// reservePageBlock does not use (it maps a pagefile-backed section
// instead); decommit is therefore approximated by dropping the page
// protection to PAGE_NOACCESS.
func disablePages(base uintptr, numPages int) error {
	size := uintptr(numPages * pageSize)
	var oldProtect uint32
	return syscall.VirtualProtect(base, size, syscall.PAGE_NOACCESS, &oldProtect)
}

func enablePages(base uintptr, numPages int) error {
	size := uintptr(numPages * pageSize)
	var oldProtect uint32
	return syscall.VirtualProtect(base, size, syscall.PAGE_READWRITE, &oldProtect)
}

// resetPages has no cheap equivalent for a mapped-view-backed region
// on Windows without VirtualAlloc's MEM_RESET (which needs a
// VirtualAlloc-backed region); it is a no-op here, which is within the
// spec's "not required for the core" allowance.
func resetPages(base uintptr, numPages int) {}
