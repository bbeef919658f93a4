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

/*
B+-Tree Page Layout
===================

Tree pages reinterpret a buffer-pool page's byte area as a typed record.
All multi-byte fields are little-endian. The shared header:

	offset  0  pageType      int32   1 = leaf, 2 = internal
	offset  4  size          int32   number of occupied slots
	offset  8  maxSize       int32   configured logical capacity
	offset 12  pageID        int32   this page's id
	offset 16  parentPageID  int32   owning internal page, -1 for the root

Leaf pages extend the header with nextPageID (int32 at offset 20) and
store slots of (key, RID) from offset 24; internal pages store slots of
(key, child page id) from offset 20, with slot 0's key unused (the
"less than first key" child).

Byte reinterpretation is confined to this file and the two page adapters
(leaf_page.go, internal_page.go); the tree logic above them never touches
raw offsets.
*/
package index

import (
	"encoding/binary"
	"fmt"

	"stratadb/internal/storage/disk"
)

const (
	pageTypeInvalid  int32 = 0
	pageTypeLeaf     int32 = 1
	pageTypeInternal int32 = 2

	offPageType   = 0
	offSize       = 4
	offMaxSize    = 8
	offPageID     = 12
	offParentID   = 16
	offNextPageID = 20 // leaf only

	internalSlotsOff = 20
	leafSlotsOff     = 24
)

// treePage provides header access over a latched, pinned buffer-pool
// page. It carries the key width so slot arithmetic needs no lookups.
type treePage struct {
	page    *disk.Page
	keySize int
}

func (t treePage) get32(off int) int32 {
	return int32(binary.LittleEndian.Uint32(t.page.Data()[off : off+4]))
}

func (t treePage) put32(off int, v int32) {
	binary.LittleEndian.PutUint32(t.page.Data()[off:off+4], uint32(v))
}

func (t treePage) pageType() int32            { return t.get32(offPageType) }
func (t treePage) isLeaf() bool               { return t.pageType() == pageTypeLeaf }
func (t treePage) size() int                  { return int(t.get32(offSize)) }
func (t treePage) setSize(n int)              { t.put32(offSize, int32(n)) }
func (t treePage) incSize(delta int)          { t.setSize(t.size() + delta) }
func (t treePage) maxSize() int               { return int(t.get32(offMaxSize)) }
func (t treePage) setMaxSize(n int)           { t.put32(offMaxSize, int32(n)) }
func (t treePage) pageID() disk.PageID        { return disk.PageID(t.get32(offPageID)) }
func (t treePage) setPageID(id disk.PageID)   { t.put32(offPageID, int32(id)) }
func (t treePage) parentID() disk.PageID      { return disk.PageID(t.get32(offParentID)) }
func (t treePage) setParentID(id disk.PageID) { t.put32(offParentID, int32(id)) }
func (t treePage) isRoot() bool               { return t.parentID() == disk.InvalidPageID }

// minSize is the minimum occupancy for a non-root page; the root may
// shrink to a single child (internal) or empty (leaf) before the tree
// collapses.
func (t treePage) minSize() int {
	if t.isRoot() {
		if t.isLeaf() {
			return 1
		}
		return 2
	}
	return (t.maxSize() + 1) / 2
}

// asTreePage wraps a page without checking its type; the caller has just
// fetched a page whose id came from a parent slot or the root pointer.
func asTreePage(p *disk.Page, keySize int) treePage {
	return treePage{page: p, keySize: keySize}
}

func (t treePage) asLeaf() *leafPage {
	if t.pageType() != pageTypeLeaf {
		panic(fmt.Sprintf("index: page %d is not a leaf (type %d)", t.pageID(), t.pageType()))
	}
	return &leafPage{treePage: t}
}

func (t treePage) asInternal() *internalPage {
	if t.pageType() != pageTypeInternal {
		panic(fmt.Sprintf("index: page %d is not internal (type %d)", t.pageID(), t.pageType()))
	}
	return &internalPage{treePage: t}
}

// maxLeafSlots returns how many (key, RID) slots fit a page for the
// given key width.
func maxLeafSlots(keySize int) int {
	return (disk.PageSize - leafSlotsOff) / (keySize + ridSize)
}

// maxInternalSlots returns how many (key, child) slots fit a page for
// the given key width.
func maxInternalSlots(keySize int) int {
	return (disk.PageSize - internalSlotsOff) / (keySize + 4)
}
