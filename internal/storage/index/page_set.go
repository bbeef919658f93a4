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
	"stratadb/internal/storage/disk"
)

// opType tags a descent with the operation it serves; it selects the
// latch mode and the safety predicate for crabbing.
type opType int

const (
	opSearch opType = iota
	opInsert
	opDelete
)

// pageSet is the operation-scoped tracker for a single tree operation:
// the chain of pages currently write-latched (root-most first), whether
// the tree-level root latch is held, and the pages scheduled for
// deletion once their latches and pins are gone.
//
// Search descents crab read latches hand-over-hand and never accumulate
// more than one page, so only write operations carry a pageSet.
type pageSet struct {
	tree    *BPlusTree
	pages   []*disk.Page
	hasRoot bool
	deleted []disk.PageID
}

func newPageSet(t *BPlusTree) *pageSet {
	return &pageSet{tree: t}
}

// lockRoot takes the tree-level root latch, the virtual parent of the
// root page. It pins the root page id against concurrent change until
// the descent proves the root safe.
func (ps *pageSet) lockRoot() {
	ps.tree.rootMu.Lock()
	ps.hasRoot = true
}

func (ps *pageSet) unlockRoot() {
	if ps.hasRoot {
		ps.hasRoot = false
		ps.tree.rootMu.Unlock()
	}
}

// add records a write-latched, pinned page.
func (ps *pageSet) add(p *disk.Page) {
	ps.pages = append(ps.pages, p)
}

// releaseAncestors drops every latch above keep once keep is known safe:
// the root latch and all pages except keep, unlatched and unpinned clean
// (a released ancestor was never modified).
func (ps *pageSet) releaseAncestors(keep *disk.Page) {
	ps.unlockRoot()
	retained := ps.pages[:0]
	for _, p := range ps.pages {
		if p == keep {
			retained = append(retained, p)
			continue
		}
		p.WUnlatch()
		ps.tree.pool.UnpinPage(p.ID(), false)
	}
	ps.pages = retained
}

// markDeleted schedules a page for deletion after release. The page may
// still be latched and pinned by this operation; DeletePage would refuse
// it now.
func (ps *pageSet) markDeleted(id disk.PageID) {
	ps.deleted = append(ps.deleted, id)
}

// release ends the operation: every remaining latch is dropped, pages
// are unpinned with the given dirty flag, and deferred deletions run.
func (ps *pageSet) release(dirty bool) {
	ps.unlockRoot()
	for _, p := range ps.pages {
		id := p.ID()
		p.WUnlatch()
		ps.tree.pool.UnpinPage(id, dirty)
	}
	ps.pages = ps.pages[:0]
	for _, id := range ps.deleted {
		if err := ps.tree.pool.DeletePage(id); err != nil {
			ps.tree.log.Warn("deferred page delete failed", "page", id, "error", err)
		}
	}
	ps.deleted = ps.deleted[:0]
}
