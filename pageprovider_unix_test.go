// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package threadheap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// These scaffold the (currently inert) high-address path's use of
// disablePages/enablePages/resetPages against a real reservation, per
// SPEC_FULL §6.1. None of the three are on the allocate/deallocate hot
// path; this only confirms the page-provider calls themselves succeed
// against pages this process actually owns.
func TestDisableEnableResetPagesRoundTrip(t *testing.T) {
	const numPages = 4
	base, err := reservePageBlock(numPages, true)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, releasePageBlock(base, numPages))
	}()

	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), numPages*pageSize)
	for i := range b {
		b[i] = 0xAB
	}

	require.NoError(t, disablePages(base, numPages))
	require.NoError(t, enablePages(base, numPages))

	b = unsafe.Slice((*byte)(unsafe.Pointer(base)), numPages*pageSize)
	for i := range b {
		b[i] = 0xCD
	}

	resetPages(base, numPages)
}
