/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package index

import (
	"fmt"

	"stratadb/internal/storage/disk"
)

// internalPage interprets a tree page as a sorted array of
// (key, child page id) slots. Slot 0's key is unused: its child holds
// everything below the key in slot 1. Size counts children, so a page
// with size n has n-1 meaningful keys.
//
// Any move or copy that transfers a child pointer also rewrites that
// child's parent pointer through the buffer pool, keeping the back-
// pointer invariant intact across splits, merges and rotations.
type internalPage struct {
	treePage
}

// initInternal formats a zeroed page as an empty internal page.
func initInternal(p *disk.Page, keySize int, id, parent disk.PageID, maxSize int) *internalPage {
	if maxSize >= maxInternalSlots(keySize) {
		panic(fmt.Sprintf("index: internal max size %d needs capacity %d, page holds %d slots",
			maxSize, maxSize+1, maxInternalSlots(keySize)))
	}
	t := asTreePage(p, keySize)
	t.put32(offPageType, pageTypeInternal)
	t.setSize(0)
	t.setMaxSize(maxSize)
	t.setPageID(id)
	t.setParentID(parent)
	return &internalPage{treePage: t}
}

func (n *internalPage) slotWidth() int { return n.keySize + 4 }

func (n *internalPage) slot(i int) []byte {
	off := internalSlotsOff + i*n.slotWidth()
	return n.page.Data()[off : off+n.slotWidth()]
}

// keyAt returns the key in slot i (meaningless for i == 0). The slice
// aliases the page.
func (n *internalPage) keyAt(i int) []byte {
	if i < 0 || i >= n.size() {
		panic(fmt.Sprintf("index: internal %d key index %d out of range [0,%d)", n.pageID(), i, n.size()))
	}
	return n.slot(i)[:n.keySize]
}

func (n *internalPage) setKeyAt(i int, key []byte) {
	if i < 0 || i >= n.size() {
		panic(fmt.Sprintf("index: internal %d key index %d out of range [0,%d)", n.pageID(), i, n.size()))
	}
	copy(n.slot(i)[:n.keySize], key)
}

// valueAt returns the child page id in slot i.
func (n *internalPage) valueAt(i int) disk.PageID {
	if i < 0 || i >= n.size() {
		panic(fmt.Sprintf("index: internal %d value index %d out of range [0,%d)", n.pageID(), i, n.size()))
	}
	return disk.PageID(n.get32(internalSlotsOff + i*n.slotWidth() + n.keySize))
}

func (n *internalPage) setValueAt(i int, child disk.PageID) {
	n.put32(internalSlotsOff+i*n.slotWidth()+n.keySize, int32(child))
}

// valueIndex returns the slot holding the given child, or -1.
func (n *internalPage) valueIndex(child disk.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.valueAt(i) == child {
			return i
		}
	}
	return -1
}

// lookup returns the child to descend into for key: the child of the
// largest slot key <= key, or slot 0's child when key sorts before every
// slot key. Binary search over slots [1, size).
func (n *internalPage) lookup(key []byte, cmp Comparator) disk.PageID {
	lo, hi := 1, n.size()-1
	target := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if cmp(n.keyAt(mid), key) <= 0 {
			target = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return n.valueAt(target)
}

// populateNewRoot initializes a fresh root after the old root split: old
// child in slot 0, separator key and new child in slot 1.
func (n *internalPage) populateNewRoot(oldChild disk.PageID, key []byte, newChild disk.PageID) {
	n.setSize(2)
	n.setValueAt(0, oldChild)
	n.setKeyAt(1, key)
	n.setValueAt(1, newChild)
}

// insertNodeAfter places (key, newChild) immediately after oldChild's
// slot, preserving order after a child split.
func (n *internalPage) insertNodeAfter(oldChild disk.PageID, key []byte, newChild disk.PageID) {
	i := n.valueIndex(oldChild)
	if i < 0 {
		panic(fmt.Sprintf("index: internal %d has no child %d", n.pageID(), oldChild))
	}
	n.shiftRight(i + 1)
	n.incSize(1)
	n.setKeyAt(i+1, key)
	n.setValueAt(i+1, newChild)
}

// shiftRight opens a hole at slot i. Size is not adjusted.
func (n *internalPage) shiftRight(i int) {
	w := n.slotWidth()
	start := internalSlotsOff + i*w
	end := internalSlotsOff + n.size()*w
	copy(n.page.Data()[start+w:end+w], n.page.Data()[start:end])
}

// remove deletes slot i, closing the hole.
func (n *internalPage) remove(i int) {
	if i < 0 || i >= n.size() {
		panic(fmt.Sprintf("index: internal %d remove index %d out of range [0,%d)", n.pageID(), i, n.size()))
	}
	w := n.slotWidth()
	start := internalSlotsOff + i*w
	end := internalSlotsOff + n.size()*w
	copy(n.page.Data()[start:end-w], n.page.Data()[start+w:end])
	n.incSize(-1)
}

// removeAndReturnOnlyChild collapses a single-child root, returning the
// child that becomes the new root.
func (n *internalPage) removeAndReturnOnlyChild() disk.PageID {
	if n.size() != 1 {
		panic(fmt.Sprintf("index: internal %d has %d children, expected 1", n.pageID(), n.size()))
	}
	child := n.valueAt(0)
	n.setSize(0)
	return child
}

// moveHalfTo moves the upper half of the slots (keys included) to an
// empty recipient during a split, re-parenting the transferred children.
func (n *internalPage) moveHalfTo(dst *internalPage, pool *disk.BufferPool) {
	start := n.size() / 2
	count := n.size() - start
	n.copyRangeTo(dst, start, count, pool)
	n.setSize(start)
}

// moveAllTo appends every slot to the left sibling during a merge. The
// parent's separator key comes down as the key of this page's first
// child, preserving the search order across the seam.
func (n *internalPage) moveAllTo(dst *internalPage, middleKey []byte, pool *disk.BufferPool) {
	dst.copyLastFrom(middleKey, n.valueAt(0), pool)
	n.copyRangeTo(dst, 1, n.size()-1, pool)
	n.setSize(0)
}

func (n *internalPage) copyRangeTo(dst *internalPage, start, count int, pool *disk.BufferPool) {
	w := n.slotWidth()
	srcOff := internalSlotsOff + start*w
	dstOff := internalSlotsOff + dst.size()*w
	copy(dst.page.Data()[dstOff:dstOff+count*w], n.page.Data()[srcOff:srcOff+count*w])
	dst.incSize(count)
	for i := dst.size() - count; i < dst.size(); i++ {
		dst.adoptChild(dst.valueAt(i), pool)
	}
}

// moveFirstToEndOf rotates this page's first child to the end of the
// left sibling: the parent's separator key comes down with the child,
// and the key freed by the shift (slot 1's) is returned to go up.
func (n *internalPage) moveFirstToEndOf(dst *internalPage, middleKey []byte, pool *disk.BufferPool) []byte {
	pushed := make([]byte, n.keySize)
	copy(pushed, n.keyAt(1))
	dst.copyLastFrom(middleKey, n.valueAt(0), pool)
	n.remove(0)
	return pushed
}

// moveLastToFrontOf rotates this page's last child to the front of the
// right sibling: the parent's separator key comes down onto the
// recipient's old first child, and this page's last key is returned to
// go up.
func (n *internalPage) moveLastToFrontOf(dst *internalPage, middleKey []byte, pool *disk.BufferPool) []byte {
	last := n.size() - 1
	pushed := make([]byte, n.keySize)
	copy(pushed, n.keyAt(last))
	dst.copyFirstFrom(middleKey, n.valueAt(last), pool)
	n.incSize(-1)
	return pushed
}

// copyLastFrom appends (key, child), re-parenting the child.
func (n *internalPage) copyLastFrom(key []byte, child disk.PageID, pool *disk.BufferPool) {
	i := n.size()
	n.incSize(1)
	n.setKeyAt(i, key)
	n.setValueAt(i, child)
	n.adoptChild(child, pool)
}

// copyFirstFrom prepends child in slot 0 and gives the shifted old first
// child the pulled-down key, re-parenting the new child.
func (n *internalPage) copyFirstFrom(middleKey []byte, child disk.PageID, pool *disk.BufferPool) {
	n.shiftRight(0)
	n.incSize(1)
	n.setValueAt(0, child)
	n.setKeyAt(1, middleKey)
	n.adoptChild(child, pool)
}

// adoptChild rewrites a child's parent pointer to this page.
func (n *internalPage) adoptChild(child disk.PageID, pool *disk.BufferPool) {
	page, err := pool.FetchPage(child)
	if err != nil {
		panic(fmt.Sprintf("index: fetch child %d for re-parent: %v", child, err))
	}
	asTreePage(page, n.keySize).setParentID(n.pageID())
	pool.UnpinPage(child, true)
}
