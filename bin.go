// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadheap

import "sync"

// bin holds the process-wide free-node and free-bunch lists for one
// size class. The two lists are independently locked so node and
// bunch traffic can proceed in parallel; per spec §5, when both locks
// are needed the order is always node-then-bunch.
type bin struct {
	freeNodeLock sync.Mutex
	markers      [2]*node
	freeNodes    *node
	numNodes     int

	_ [48]byte // keep the two lock groups on separate cache lines

	freeBunchLock sync.Mutex
	freeBunches   *bunch
	numBunches    int

	_ [56]byte
}

var bins [numSizes]bin

// allocateNode implements the GENERIC_ALLOCATE / bunch-splitting path
// of allocate_node: pop a free node if any, else split a bunch into a
// node plus a tail, else carve a new block and retry. megablocks.
// allocateBlock is never called while freeNodeLock is held: carving a
// fresh block re-enters this same bin through deallocateNode, and
// sync.Mutex is not reentrant.
func (b *bin) allocateNode(si int) *node {
	for {
		b.freeNodeLock.Lock()
		if b.numNodes > 0 {
			b.numNodes--
			head := b.freeNodes
			b.freeNodes = head.next
			b.freeNodeLock.Unlock()
			return head
		}

		b.freeBunchLock.Lock()
		if b.numBunches > 0 {
			b.numBunches--
			oldHead := b.freeBunches
			b.freeBunches = oldHead.nextBunch
			b.freeBunchLock.Unlock()

			b.freeNodes = oldHead.next
			b.numNodes = bunchCount(si) - 1
			b.freeNodeLock.Unlock()
			return bunchToNode(oldHead)
		}
		b.freeBunchLock.Unlock()
		b.freeNodeLock.Unlock()

		megablocks.allocateBlock(si)
	}
}

// deallocateNode implements GENERIC_DEALLOCATE for the node list: push
// at head, and once 2*bunchCount nodes have accumulated, detach the
// oldest bunch and hand it to the bunch list.
func (b *bin) deallocateNode(si int, n *node) {
	b.freeNodeLock.Lock()
	b.deallocateNodeLocked(si, n)
	b.freeNodeLock.Unlock()
}

func (b *bin) deallocateNodeLocked(si int, n *node) {
	idx := bunchMarkerIndex(b.numNodes, si)
	b.numNodes++
	n.next = b.freeNodes
	b.freeNodes = n
	if idx != 2 {
		b.markers[idx] = n
		return
	}

	bc := bunchCount(si)
	detached := nodeToBunch(b.markers[0])
	b.markers[0] = b.markers[1]
	b.markers[1] = n
	b.numNodes -= bc

	b.freeBunchLock.Lock()
	detached.nextBunch = b.freeBunches
	b.freeBunches = detached
	b.numBunches++
	b.freeBunchLock.Unlock()
	updateThresholdForBunches(si, b.numBunches)
}

// allocateBunch pops a whole bunch off the free-bunch list, carving a
// new block first if the list is empty.
func (b *bin) allocateBunch(si int) *bunch {
	b.freeBunchLock.Lock()
	if b.numBunches == 0 {
		b.freeBunchLock.Unlock()
		megablocks.allocateBlock(si)
		return b.allocateBunch(si)
	}

	head := b.freeBunches
	b.freeBunches = head.nextBunch
	b.numBunches--
	b.freeBunchLock.Unlock()

	// The bunch's last node may still link on into nodes that are not
	// part of it; cut the chain after bunchCount nodes.
	last := bunchToNode(head)
	for i := 1; i < bunchCount(si); i++ {
		last = last.next
	}
	last.next = nil
	return head
}

// deallocateBunchLocked pushes a whole bunch back onto the free-bunch
// list. Caller must already hold b.freeBunchLock (both call sites, in
// cache.go, enter it themselves).
func (b *bin) deallocateBunchLocked(bc *bunch) {
	bc.nextBunch = b.freeBunches
	b.freeBunches = bc
	b.numBunches++
}
