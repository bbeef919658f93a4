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

// leafPage interprets a tree page as a sorted array of (key, RID) slots
// plus the next-leaf link threading leaves into key order. The caller
// holds the page's latch in the appropriate mode.
type leafPage struct {
	treePage
}

// initLeaf formats a zeroed page as an empty leaf.
func initLeaf(p *disk.Page, keySize int, id, parent disk.PageID, maxSize int) *leafPage {
	if maxSize >= maxLeafSlots(keySize) {
		panic(fmt.Sprintf("index: leaf max size %d needs capacity %d, page holds %d slots",
			maxSize, maxSize+1, maxLeafSlots(keySize)))
	}
	t := asTreePage(p, keySize)
	t.put32(offPageType, pageTypeLeaf)
	t.setSize(0)
	t.setMaxSize(maxSize)
	t.setPageID(id)
	t.setParentID(parent)
	l := &leafPage{treePage: t}
	l.setNextPageID(disk.InvalidPageID)
	return l
}

func (l *leafPage) nextPageID() disk.PageID      { return disk.PageID(l.get32(offNextPageID)) }
func (l *leafPage) setNextPageID(id disk.PageID) { l.put32(offNextPageID, int32(id)) }

func (l *leafPage) slotWidth() int { return l.keySize + ridSize }

func (l *leafPage) slot(i int) []byte {
	off := leafSlotsOff + i*l.slotWidth()
	return l.page.Data()[off : off+l.slotWidth()]
}

// keyAt returns the key in slot i. The slice aliases the page; callers
// that outlive the latch must copy it.
func (l *leafPage) keyAt(i int) []byte {
	if i < 0 || i >= l.size() {
		panic(fmt.Sprintf("index: leaf %d key index %d out of range [0,%d)", l.pageID(), i, l.size()))
	}
	return l.slot(i)[:l.keySize]
}

// valueAt returns the record id in slot i.
func (l *leafPage) valueAt(i int) RID {
	if i < 0 || i >= l.size() {
		panic(fmt.Sprintf("index: leaf %d value index %d out of range [0,%d)", l.pageID(), i, l.size()))
	}
	return decodeRID(l.slot(i)[l.keySize:])
}

func (l *leafPage) setSlot(i int, key []byte, rid RID) {
	s := l.slot(i)
	copy(s[:l.keySize], key)
	encodeRID(s[l.keySize:], rid)
}

// keyIndex finds the first slot whose key is >= key (lower bound).
func (l *leafPage) keyIndex(key []byte, cmp Comparator) int {
	lo, hi := 0, l.size()-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if cmp(l.keyAt(mid), key) >= 0 {
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// lookup finds the record id stored under key.
func (l *leafPage) lookup(key []byte, cmp Comparator) (RID, bool) {
	i := l.keyIndex(key, cmp)
	if i < l.size() && cmp(l.keyAt(i), key) == 0 {
		return l.valueAt(i), true
	}
	return RID{}, false
}

// insert places (key, rid) in sorted position and returns the new size.
// The caller checks for duplicates and splits afterwards if the leaf
// reached its max size.
func (l *leafPage) insert(key []byte, rid RID, cmp Comparator) int {
	i := l.keyIndex(key, cmp)
	l.shiftRight(i)
	l.setSlot(i, key, rid)
	l.incSize(1)
	return l.size()
}

// shiftRight opens a hole at slot i by moving slots [i, size) one to the
// right. Size is not adjusted.
func (l *leafPage) shiftRight(i int) {
	w := l.slotWidth()
	start := leafSlotsOff + i*w
	end := leafSlotsOff + l.size()*w
	copy(l.page.Data()[start+w:end+w], l.page.Data()[start:end])
}

// remove deletes slot i, closing the hole.
func (l *leafPage) remove(i int) {
	if i < 0 || i >= l.size() {
		panic(fmt.Sprintf("index: leaf %d remove index %d out of range [0,%d)", l.pageID(), i, l.size()))
	}
	w := l.slotWidth()
	start := leafSlotsOff + i*w
	end := leafSlotsOff + l.size()*w
	copy(l.page.Data()[start:end-w], l.page.Data()[start+w:end])
	l.incSize(-1)
}

// removeRecord deletes key if present and returns the resulting size; an
// unchanged size signals the key was absent.
func (l *leafPage) removeRecord(key []byte, cmp Comparator) int {
	i := l.keyIndex(key, cmp)
	if i < l.size() && cmp(l.keyAt(i), key) == 0 {
		l.remove(i)
	}
	return l.size()
}

// moveHalfTo moves the upper half of the entries to an empty recipient
// during a split. The caller splices the leaf linked list.
func (l *leafPage) moveHalfTo(dst *leafPage) {
	start := l.size() / 2
	n := l.size() - start
	l.copyRangeTo(dst, start, n)
	l.setSize(start)
}

// moveAllTo appends every entry to the recipient during a merge. The
// caller splices the leaf linked list past this page.
func (l *leafPage) moveAllTo(dst *leafPage) {
	l.copyRangeTo(dst, 0, l.size())
	l.setSize(0)
}

func (l *leafPage) copyRangeTo(dst *leafPage, start, n int) {
	w := l.slotWidth()
	srcOff := leafSlotsOff + start*w
	dstOff := leafSlotsOff + dst.size()*w
	copy(dst.page.Data()[dstOff:dstOff+n*w], l.page.Data()[srcOff:srcOff+n*w])
	dst.incSize(n)
}

// moveFirstToEndOf lends this page's first entry to the left sibling.
func (l *leafPage) moveFirstToEndOf(dst *leafPage) {
	dst.copyLastFrom(l.keyAt(0), l.valueAt(0))
	l.remove(0)
}

// moveLastToFrontOf lends this page's last entry to the right sibling.
func (l *leafPage) moveLastToFrontOf(dst *leafPage) {
	last := l.size() - 1
	key, rid := l.keyAt(last), l.valueAt(last)
	dst.copyFirstFrom(key, rid)
	l.incSize(-1)
}

func (l *leafPage) copyLastFrom(key []byte, rid RID) {
	l.setSlot(l.size(), key, rid)
	l.incSize(1)
}

func (l *leafPage) copyFirstFrom(key []byte, rid RID) {
	l.shiftRight(0)
	l.setSlot(0, key, rid)
	l.incSize(1)
}
