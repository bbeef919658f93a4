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
Concurrent B+-Tree
==================

The tree maps fixed-width keys to record ids. Leaves hold the records and
thread into a singly linked list in key order; internal pages route
searches. All pages live in the buffer pool and are addressed by page id;
no in-memory pointers cross pages, so eviction is always safe.

Latch Crabbing:
===============

Every operation descends from the root, latching hand-over-hand:

  - Searches read-latch the child, then release the parent. At most two
    latches are ever held, and two readers never block each other.
  - Inserts and deletes write-latch downward, keeping the chain of
    ancestors in the operation's page set. As soon as a child is "safe" -
    it can absorb the operation without splitting (insert) or without
    merging or borrowing (delete) - every ancestor latch is released, and
    the structural change that may follow is confined to the retained
    chain.

A tree-level root latch acts as the parent of the root page, so the root
page id changes (first leaf, root split, root collapse) under the same
discipline. Latches are always acquired top-down and released either on a
safe crab or in bulk at operation end, so no two operations ever hold two
latches in opposite orders.

Split and Merge:
================

A leaf that reaches its max size after an insert splits: the upper half
moves to a fresh leaf, spliced into the leaf chain, and the first key of
the new leaf goes up into the parent. Parents overflowing their max split
the same way, up to a fresh root.

A non-root page that falls below its min size after a delete merges with
a sibling when their combined entries fit one page, otherwise borrows a
boundary entry; internal pages rotate through the parent's separator key.
An empty root leaf and a single-child internal root collapse the tree.
*/
package index

import (
	"fmt"
	"sync"

	"stratadb/internal/logging"
	"stratadb/internal/metrics"
	"stratadb/internal/storage/disk"
)

// Config carries the tree's static parameters.
type Config struct {
	// Name identifies the index in the header page.
	Name string

	// KeySize is the fixed key width in bytes (4, 8, 16, 32 or 64).
	KeySize int

	// Comparator orders keys; CompareBytes when nil.
	Comparator Comparator

	// LeafMaxSize and InternalMaxSize bound page occupancy; zero picks
	// the page capacity for the key width.
	LeafMaxSize     int
	InternalMaxSize int
}

// BPlusTree is a concurrent B+-tree index over a buffer pool.
type BPlusTree struct {
	name            string
	pool            *disk.BufferPool
	cmp             Comparator
	keySize         int
	leafMaxSize     int
	internalMaxSize int
	log             *logging.Logger

	// rootMu is the tree-level root latch: the virtual parent of the
	// root page. It guards rootPageID and serializes root replacement
	// against descents.
	rootMu     sync.RWMutex
	rootPageID disk.PageID
}

// NewBPlusTree opens (or creates) the named index on the pool. A root
// recorded in the header page from a previous run is picked up, so an
// index on a file-backed pool survives reopen.
func NewBPlusTree(pool *disk.BufferPool, cfg Config) (*BPlusTree, error) {
	if !ValidKeyWidth(cfg.KeySize) {
		return nil, fmt.Errorf("index %q: unsupported key width %d", cfg.Name, cfg.KeySize)
	}
	if cfg.Name == "" || len(cfg.Name) > headerNameSize {
		return nil, fmt.Errorf("index name %q must be 1..%d bytes", cfg.Name, headerNameSize)
	}
	cmp := cfg.Comparator
	if cmp == nil {
		cmp = CompareBytes
	}
	// One slot above max size stays reserved in both page kinds: a page
	// may transiently hold maxSize+1 entries between an insert and the
	// split it triggers.
	leafMax := cfg.LeafMaxSize
	if leafMax == 0 {
		leafMax = maxLeafSlots(cfg.KeySize) - 1
	}
	internalMax := cfg.InternalMaxSize
	if internalMax == 0 {
		internalMax = maxInternalSlots(cfg.KeySize) - 1
	}
	if leafMax < 2 || leafMax >= maxLeafSlots(cfg.KeySize) {
		return nil, fmt.Errorf("index %q: leaf max size %d out of range [2,%d]", cfg.Name, leafMax, maxLeafSlots(cfg.KeySize)-1)
	}
	if internalMax < 3 || internalMax >= maxInternalSlots(cfg.KeySize) {
		return nil, fmt.Errorf("index %q: internal max size %d out of range [3,%d]", cfg.Name, internalMax, maxInternalSlots(cfg.KeySize)-1)
	}

	t := &BPlusTree{
		name:            cfg.Name,
		pool:            pool,
		cmp:             cmp,
		keySize:         cfg.KeySize,
		leafMaxSize:     leafMax,
		internalMaxSize: internalMax,
		rootPageID:      disk.InvalidPageID,
		log:             logging.NewLogger("btree"),
	}

	// Recover the persisted root, registering the index on first open.
	header, err := t.fetchHeader()
	if err != nil {
		return nil, err
	}
	if root, ok := header.getRootID(t.name); ok {
		t.rootPageID = root
		pool.UnpinPage(disk.HeaderPageID, false)
	} else {
		header.insertRecord(t.name, disk.InvalidPageID)
		pool.UnpinPage(disk.HeaderPageID, true)
	}
	return t, nil
}

// Name returns the index name.
func (t *BPlusTree) Name() string { return t.name }

// KeySize returns the fixed key width.
func (t *BPlusTree) KeySize() int { return t.keySize }

// IsEmpty reports whether the tree holds no keys.
func (t *BPlusTree) IsEmpty() bool {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.rootPageID == disk.InvalidPageID
}

// RootPageID returns the current root page id (InvalidPageID when empty).
func (t *BPlusTree) RootPageID() disk.PageID {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.rootPageID
}

func (t *BPlusTree) fetchHeader() (*headerPage, error) {
	page, err := t.pool.FetchPage(disk.HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("index %q: fetch header page: %w", t.name, err)
	}
	return asHeaderPage(page), nil
}

// updateRootPageID persists the root page id into the header page,
// inserting the record when insertRecord is true. Caller holds rootMu.
func (t *BPlusTree) updateRootPageID(insertRecord bool) {
	header, err := t.fetchHeader()
	if err != nil {
		// Header page 0 is fetched at open; losing it mid-operation
		// means the pool is wedged beyond this operation's control.
		panic(err)
	}
	if insertRecord {
		header.insertRecord(t.name, t.rootPageID)
	} else {
		header.updateRecord(t.name, t.rootPageID)
	}
	t.pool.UnpinPage(disk.HeaderPageID, true)
}

func (t *BPlusTree) checkKey(key []byte) error {
	if len(key) != t.keySize {
		return fmt.Errorf("index %q: key width %d, want %d", t.name, len(key), t.keySize)
	}
	return nil
}

// insertSafe reports whether a page can absorb an insertion without
// splitting. A leaf splits when an insert brings it to max size, so it
// is safe only below maxSize-1; an internal page splits only above max.
func insertSafe(tp treePage) bool {
	if tp.isLeaf() {
		return tp.size() < tp.maxSize()-1
	}
	return tp.size() < tp.maxSize()
}

// deleteSafe reports whether a page can absorb a deletion without
// merging or borrowing.
func deleteSafe(tp treePage) bool {
	return tp.size() > (tp.maxSize()+1)/2
}

// findLeafRead descends with read-latch crabbing and returns the target
// leaf, read-latched and pinned. leftmost ignores the key and follows
// slot-0 children. Returns nil when the tree is empty.
func (t *BPlusTree) findLeafRead(key []byte, leftmost bool) *disk.Page {
	t.rootMu.RLock()
	if t.rootPageID == disk.InvalidPageID {
		t.rootMu.RUnlock()
		return nil
	}
	page, err := t.pool.FetchPage(t.rootPageID)
	if err != nil {
		t.rootMu.RUnlock()
		t.log.Warn("fetch root failed", "error", err)
		return nil
	}
	page.RLatch()
	t.rootMu.RUnlock()

	for {
		tp := asTreePage(page, t.keySize)
		if tp.isLeaf() {
			return page
		}
		node := tp.asInternal()
		var childID disk.PageID
		if leftmost {
			childID = node.valueAt(0)
		} else {
			childID = node.lookup(key, t.cmp)
		}
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			page.RUnlatch()
			t.pool.UnpinPage(page.ID(), false)
			t.log.Warn("fetch child failed", "page", childID, "error", err)
			return nil
		}
		child.RLatch()
		page.RUnlatch()
		t.pool.UnpinPage(page.ID(), false)
		page = child
	}
}

// findLeafWrite descends with write-latch crabbing for op (insert or
// delete), accumulating the latched chain in ps. The caller must already
// hold the root latch via ps and have checked the tree is non-empty.
// Returns the target leaf, write-latched, pinned and recorded in ps.
func (t *BPlusTree) findLeafWrite(key []byte, op opType, ps *pageSet) (*disk.Page, error) {
	page, err := t.pool.FetchPage(t.rootPageID)
	if err != nil {
		return nil, err
	}
	page.WLatch()
	ps.add(page)

	for {
		tp := asTreePage(page, t.keySize)
		if tp.isLeaf() {
			return page, nil
		}
		childID := tp.asInternal().lookup(key, t.cmp)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			return nil, err
		}
		child.WLatch()
		ps.add(child)

		childTP := asTreePage(child, t.keySize)
		safe := false
		switch op {
		case opInsert:
			safe = insertSafe(childTP)
		case opDelete:
			safe = deleteSafe(childTP)
		}
		if safe {
			ps.releaseAncestors(child)
		}
		page = child
	}
}

// GetValue returns the record id stored under key.
func (t *BPlusTree) GetValue(key []byte) (RID, bool) {
	if err := t.checkKey(key); err != nil {
		t.log.Warn("lookup rejected", "error", err)
		return RID{}, false
	}
	metrics.Storage().TreeLookups.Add(1)

	page := t.findLeafRead(key, false)
	if page == nil {
		return RID{}, false
	}
	leaf := asTreePage(page, t.keySize).asLeaf()
	rid, found := leaf.lookup(key, t.cmp)
	page.RUnlatch()
	t.pool.UnpinPage(page.ID(), false)
	return rid, found
}

// Insert adds (key, rid); false if the key already exists. Duplicate
// keys are not supported.
func (t *BPlusTree) Insert(key []byte, rid RID) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}
	metrics.Storage().TreeInserts.Add(1)

	ps := newPageSet(t)
	ps.lockRoot()

	if t.rootPageID == disk.InvalidPageID {
		err := t.startNewTree(key, rid)
		ps.release(false)
		return err == nil, err
	}

	page, err := t.findLeafWrite(key, opInsert, ps)
	if err != nil {
		ps.release(false)
		return false, err
	}
	leaf := asTreePage(page, t.keySize).asLeaf()

	if _, exists := leaf.lookup(key, t.cmp); exists {
		ps.release(false)
		return false, nil
	}

	leaf.insert(key, rid, t.cmp)
	if leaf.size() >= leaf.maxSize() {
		t.splitLeaf(leaf, ps)
	}
	ps.release(true)
	return true, nil
}

// startNewTree creates the first leaf as the root. Caller holds rootMu.
func (t *BPlusTree) startNewTree(key []byte, rid RID) error {
	page, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("index %q: allocate root: %w", t.name, err)
	}
	leaf := initLeaf(page, t.keySize, page.ID(), disk.InvalidPageID, t.leafMaxSize)
	leaf.insert(key, rid, t.cmp)
	t.rootPageID = page.ID()
	t.updateRootPageID(false)
	t.pool.UnpinPage(page.ID(), true)
	return nil
}

// splitLeaf moves the upper half of a full leaf to a new page, splices
// the leaf chain, and pushes the separator into the parent. A pool
// exhausted here is a soft failure: the split is skipped and the leaf
// temporarily holds max size entries.
func (t *BPlusTree) splitLeaf(leaf *leafPage, ps *pageSet) {
	newPage, err := t.pool.NewPage()
	if err != nil {
		t.log.Warn("leaf split skipped", "leaf", leaf.pageID(), "error", err)
		return
	}
	metrics.Storage().TreeSplits.Add(1)

	newLeaf := initLeaf(newPage, t.keySize, newPage.ID(), leaf.parentID(), t.leafMaxSize)
	leaf.moveHalfTo(newLeaf)
	newLeaf.setNextPageID(leaf.nextPageID())
	leaf.setNextPageID(newLeaf.pageID())

	t.insertIntoParent(leaf.treePage, newLeaf.keyAt(0), newLeaf.treePage, ps)
	t.pool.UnpinPage(newPage.ID(), true)
}

// splitInternal splits an overflowing internal page the same way; the
// transferred children are re-parented as they move.
func (t *BPlusTree) splitInternal(node *internalPage, ps *pageSet) {
	newPage, err := t.pool.NewPage()
	if err != nil {
		t.log.Warn("internal split skipped", "page", node.pageID(), "error", err)
		return
	}
	metrics.Storage().TreeSplits.Add(1)

	newNode := initInternal(newPage, t.keySize, newPage.ID(), node.parentID(), t.internalMaxSize)
	node.moveHalfTo(newNode, t.pool)

	t.insertIntoParent(node.treePage, newNode.keyAt(0), newNode.treePage, ps)
	t.pool.UnpinPage(newPage.ID(), true)
}

// insertIntoParent hooks a split's new right page into the tree. The old
// page's unsafe ancestors are write-latched in ps, so the parent (or the
// root latch, when old is the root) is already owned by this operation.
func (t *BPlusTree) insertIntoParent(old treePage, key []byte, newRight treePage, ps *pageSet) {
	if old.isRoot() {
		rootPage, err := t.pool.NewPage()
		if err != nil {
			t.log.Warn("root split skipped", "error", err)
			return
		}
		root := initInternal(rootPage, t.keySize, rootPage.ID(), disk.InvalidPageID, t.internalMaxSize)
		root.populateNewRoot(old.pageID(), key, newRight.pageID())
		old.setParentID(root.pageID())
		newRight.setParentID(root.pageID())
		t.rootPageID = root.pageID()
		t.updateRootPageID(false)
		t.pool.UnpinPage(rootPage.ID(), true)
		return
	}

	parentPage, err := t.pool.FetchPage(old.parentID())
	if err != nil {
		panic(fmt.Sprintf("index %q: fetch parent %d: %v", t.name, old.parentID(), err))
	}
	parent := asTreePage(parentPage, t.keySize).asInternal()
	parent.insertNodeAfter(old.pageID(), key, newRight.pageID())
	if parent.size() > parent.maxSize() {
		t.splitInternal(parent, ps)
	}
	t.pool.UnpinPage(parentPage.ID(), true)
}

// Remove deletes key; false if absent.
func (t *BPlusTree) Remove(key []byte) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}
	metrics.Storage().TreeRemoves.Add(1)

	ps := newPageSet(t)
	ps.lockRoot()

	if t.rootPageID == disk.InvalidPageID {
		ps.release(false)
		return false, nil
	}

	page, err := t.findLeafWrite(key, opDelete, ps)
	if err != nil {
		ps.release(false)
		return false, err
	}
	leaf := asTreePage(page, t.keySize).asLeaf()

	oldSize := leaf.size()
	if leaf.removeRecord(key, t.cmp) == oldSize {
		ps.release(false)
		return false, nil
	}

	if leaf.size() < leaf.minSize() {
		t.coalesceOrRedistribute(leaf.treePage, ps)
	}
	ps.release(true)
	return true, nil
}

// coalesceOrRedistribute restores the occupancy invariant for an
// underflowing page. The page and every ancestor that may underflow in
// turn are write-latched in ps. The sibling is write-latched with a
// try-latch: the write-latched parent fences descending operations out
// of it, but a leaf-chain scan may already hold it, and blocking on a
// scan that advances toward this operation's latches would deadlock.
// On contention the underflow is simply left in place; the logical key
// set is unaffected and a later delete gets another chance.
func (t *BPlusTree) coalesceOrRedistribute(node treePage, ps *pageSet) {
	if node.isRoot() {
		t.adjustRoot(node, ps)
		return
	}

	parentPage, err := t.pool.FetchPage(node.parentID())
	if err != nil {
		panic(fmt.Sprintf("index %q: fetch parent %d: %v", t.name, node.parentID(), err))
	}
	parent := asTreePage(parentPage, t.keySize).asInternal()

	idx := parent.valueIndex(node.pageID())
	if idx < 0 {
		panic(fmt.Sprintf("index %q: page %d missing from parent %d", t.name, node.pageID(), parentPage.ID()))
	}
	sibIdx := idx - 1
	if idx == 0 {
		sibIdx = 1
	}
	sibPage, err := t.pool.FetchPage(parent.valueAt(sibIdx))
	if err != nil {
		panic(fmt.Sprintf("index %q: fetch sibling %d: %v", t.name, parent.valueAt(sibIdx), err))
	}
	if !sibPage.TryWLatch() {
		t.log.Debug("rebalance skipped, sibling contended", "page", node.pageID(), "sibling", sibPage.ID())
		t.pool.UnpinPage(sibPage.ID(), false)
		t.pool.UnpinPage(parentPage.ID(), false)
		return
	}
	sibling := asTreePage(sibPage, t.keySize)

	if node.size()+sibling.size() <= node.maxSize() {
		t.coalesce(node, sibling, parent, idx, sibIdx, ps)
	} else {
		t.redistribute(node, sibling, parent, idx, sibIdx)
		sibPage.WUnlatch()
		t.pool.UnpinPage(sibPage.ID(), true)
	}
	t.pool.UnpinPage(parentPage.ID(), true)

	if parent.size() < parent.minSize() {
		t.coalesceOrRedistribute(parent.treePage, ps)
	}
}

// coalesce merges the right page of the (node, sibling) pair into the
// left and drops the right page's separator from the parent. The merged-
// away page is deleted once the operation's latches are released.
func (t *BPlusTree) coalesce(node, sibling treePage, parent *internalPage, idx, sibIdx int, ps *pageSet) {
	metrics.Storage().TreeMerges.Add(1)

	left, right := sibling, node
	rightSlot := idx
	if sibIdx > idx {
		left, right = node, sibling
		rightSlot = sibIdx
	}

	if node.isLeaf() {
		l, r := left.asLeaf(), right.asLeaf()
		r.moveAllTo(l)
		l.setNextPageID(r.nextPageID())
	} else {
		right.asInternal().moveAllTo(left.asInternal(), parent.keyAt(rightSlot), t.pool)
	}
	parent.remove(rightSlot)

	// The sibling carries one pin and the try-latch from the caller; the
	// merged-away page may be either the sibling or the latched node
	// tracked in ps.
	sibling.page.WUnlatch()
	t.pool.UnpinPage(sibling.pageID(), true)
	ps.markDeleted(right.pageID())
}

// redistribute borrows one boundary entry from the sibling and rewrites
// the parent's separator. Internal pages rotate through the separator:
// it comes down with the moved child and the freed key goes up.
func (t *BPlusTree) redistribute(node, sibling treePage, parent *internalPage, idx, sibIdx int) {
	if node.isLeaf() {
		n, s := node.asLeaf(), sibling.asLeaf()
		if sibIdx < idx {
			// Left sibling lends its last entry; node's first key changes.
			s.moveLastToFrontOf(n)
			parent.setKeyAt(idx, n.keyAt(0))
		} else {
			// Right sibling lends its first entry; its first key changes.
			s.moveFirstToEndOf(n)
			parent.setKeyAt(sibIdx, s.keyAt(0))
		}
		return
	}

	n, s := node.asInternal(), sibling.asInternal()
	if sibIdx < idx {
		pushed := s.moveLastToFrontOf(n, parent.keyAt(idx), t.pool)
		parent.setKeyAt(idx, pushed)
	} else {
		pushed := s.moveFirstToEndOf(n, parent.keyAt(sibIdx), t.pool)
		parent.setKeyAt(sibIdx, pushed)
	}
}

// adjustRoot collapses the tree when the root underflows: an empty root
// leaf empties the tree; a single-child internal root promotes its child.
// Caller holds rootMu via ps.
func (t *BPlusTree) adjustRoot(root treePage, ps *pageSet) {
	if root.isLeaf() {
		if root.size() == 0 {
			ps.markDeleted(root.pageID())
			t.rootPageID = disk.InvalidPageID
			t.updateRootPageID(false)
		}
		return
	}
	if root.size() > 1 {
		return
	}

	childID := root.asInternal().removeAndReturnOnlyChild()
	childPage, err := t.pool.FetchPage(childID)
	if err != nil {
		panic(fmt.Sprintf("index %q: fetch new root %d: %v", t.name, childID, err))
	}
	asTreePage(childPage, t.keySize).setParentID(disk.InvalidPageID)
	t.pool.UnpinPage(childID, true)

	ps.markDeleted(root.pageID())
	t.rootPageID = childID
	t.updateRootPageID(false)
}
