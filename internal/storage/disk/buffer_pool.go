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
Buffer Pool
===========

The buffer pool mediates every page access: callers never touch the disk
manager directly. It owns a fixed array of frames, a free list, a page
table mapping page id to frame, and an LRU-K replacer ranking eviction
candidates.

	┌──────────────────────────────────────────────────────────────┐
	│                       Buffer Pool                            │
	│  ┌─────────────────────────────────────────────────────────┐ │
	│  │ Page Table: extendible hash, PageID -> FrameID          │ │
	│  └─────────────────────────────────────────────────────────┘ │
	│  ┌─────────────────────────────────────────────────────────┐ │
	│  │ Frames: [0] [1] [2] ... [poolSize-1]                    │ │
	│  │ each one page's bytes + id, pin count, dirty, latch     │ │
	│  └─────────────────────────────────────────────────────────┘ │
	│  ┌──────────────┐  ┌───────────────────────────────────────┐ │
	│  │ Free list    │  │ LRU-K replacer (evictable frames)     │ │
	│  └──────────────┘  └───────────────────────────────────────┘ │
	└──────────────────────────────────────────────────────────────┘

Frame acquisition tries the free list first, then asks the replacer for a
victim; a dirty victim is flushed before reuse. The pool mutex is held
across the entire body of every public method, disk I/O included. Coarse,
but correct, and the per-page latches taken by the B+-tree outside the
pool mutex keep readers and writers of page contents concurrent.

Invariants the tests pin down: a page id is mapped iff exactly one frame
holds its bytes; pin count > 0 implies not evictable; the dirty flag is
monotonic within a pin lifetime (unpinning clean never clears it).
*/
package disk

import (
	"errors"
	"sync"

	"stratadb/internal/logging"
	"stratadb/internal/metrics"
)

// pageTableBucketSize is the bucket capacity of the page table's
// extendible hash directory.
const pageTableBucketSize = 8

// Errors surfaced by the pool.
var (
	// ErrPoolExhausted means every frame is pinned; no page could be
	// brought in. Callers may retry after contention eases.
	ErrPoolExhausted = errors.New("buffer pool exhausted: all frames pinned")

	// ErrPageNotFound means the page id is not resident in the pool.
	ErrPageNotFound = errors.New("page not in buffer pool")

	// ErrPagePinned means the operation needs an unpinned page.
	ErrPagePinned = errors.New("page is pinned")
)

// BufferPool manages poolSize frames over a DiskManager.
type BufferPool struct {
	mu        sync.Mutex
	poolSize  int
	frames    []*Page
	pageTable *ExtendibleHashTable[PageID, FrameID]
	replacer  *LRUKReplacer
	freeList  []FrameID
	disk      DiskManager
	log       *logging.Logger
}

// Stats is a point-in-time snapshot of pool occupancy. Cumulative
// counters (hits, misses, evictions) live in internal/metrics.
type Stats struct {
	PoolSize    int
	UsedFrames  int
	DirtyPages  int
	PinnedPages int
	FreeFrames  int
	Evictable   int
}

// NewBufferPool creates a pool of poolSize frames with an LRU-K replacer
// of parameter k. All frames start on the free list.
func NewBufferPool(poolSize, k int, dm DiskManager) *BufferPool {
	bp := &BufferPool{
		poolSize:  poolSize,
		frames:    make([]*Page, poolSize),
		pageTable: NewExtendibleHashTable[PageID, FrameID](pageTableBucketSize, HashPageID),
		replacer:  NewLRUKReplacer(poolSize, k),
		freeList:  make([]FrameID, 0, poolSize),
		disk:      dm,
		log:       logging.NewLogger("bufferpool"),
	}
	for i := 0; i < poolSize; i++ {
		bp.frames[i] = newFrame()
		bp.freeList = append(bp.freeList, FrameID(i))
	}
	return bp
}

// PoolSize returns the number of frames.
func (bp *BufferPool) PoolSize() int { return bp.poolSize }

// DiskManager returns the backing disk manager.
func (bp *BufferPool) DiskManager() DiskManager { return bp.disk }

// acquireFrame produces an empty frame: free list first, else an evicted
// victim with its old page flushed (if dirty) and unmapped. Caller holds
// the pool mutex.
func (bp *BufferPool) acquireFrame() (FrameID, error) {
	if n := len(bp.freeList); n > 0 {
		id := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return id, nil
	}

	frameID, ok := bp.replacer.Evict()
	if !ok {
		return 0, ErrPoolExhausted
	}
	metrics.Storage().PoolEvictions.Add(1)

	victim := bp.frames[frameID]
	if victim.id != InvalidPageID {
		if victim.dirty {
			if err := bp.disk.WritePage(victim.id, victim.data[:]); err != nil {
				return 0, err
			}
			metrics.Storage().DiskWrites.Add(1)
		}
		bp.pageTable.Remove(victim.id)
	}
	victim.reset()
	return frameID, nil
}

// pinFrame wires a freshly filled frame into the pool's bookkeeping:
// mapped, access recorded, pinned (non-evictable). Caller holds the pool
// mutex.
func (bp *BufferPool) pinFrame(frameID FrameID, pageID PageID) {
	bp.pageTable.Insert(pageID, frameID)
	bp.replacer.RecordAccess(frameID)
	bp.replacer.SetEvictable(frameID, false)
}

// NewPage allocates a fresh page id and returns its zeroed frame, pinned.
// Returns ErrPoolExhausted when every frame is pinned.
func (bp *BufferPool) NewPage() (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	pageID, err := bp.disk.AllocatePage()
	if err != nil {
		bp.freeList = append(bp.freeList, frameID)
		return nil, err
	}
	metrics.Storage().PagesAllocated.Add(1)

	page := bp.frames[frameID]
	page.id = pageID
	page.pinCount = 1
	page.dirty = false
	bp.pinFrame(frameID, pageID)
	return page, nil
}

// FetchPage returns the page pinned, reading it from disk if it is not
// resident. Returns ErrPoolExhausted when every frame is pinned.
func (bp *BufferPool) FetchPage(pageID PageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameID, ok := bp.pageTable.Find(pageID); ok {
		metrics.Storage().PoolHits.Add(1)
		page := bp.frames[frameID]
		page.pinCount++
		bp.replacer.RecordAccess(frameID)
		bp.replacer.SetEvictable(frameID, false)
		return page, nil
	}
	metrics.Storage().PoolMisses.Add(1)

	frameID, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	page := bp.frames[frameID]
	if err := bp.disk.ReadPage(pageID, page.data[:]); err != nil {
		bp.freeList = append(bp.freeList, frameID)
		return nil, err
	}
	metrics.Storage().DiskReads.Add(1)

	page.id = pageID
	page.pinCount = 1
	page.dirty = false
	bp.pinFrame(frameID, pageID)
	return page, nil
}

// UnpinPage drops one pin. The dirty flag is ORed in, never cleared: a
// clean unpin after a dirty one must not lose the write. Reports false if
// the page is not resident or already unpinned.
func (bp *BufferPool) UnpinPage(pageID PageID, dirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable.Find(pageID)
	if !ok {
		return false
	}
	page := bp.frames[frameID]
	if page.pinCount <= 0 {
		return false
	}
	page.pinCount--
	if dirty {
		page.dirty = true
	}
	if page.pinCount == 0 {
		bp.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes the page to disk regardless of its dirty flag and
// clears the flag. Returns ErrPageNotFound if the page is not resident.
func (bp *BufferPool) FlushPage(pageID PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable.Find(pageID)
	if !ok {
		return ErrPageNotFound
	}
	page := bp.frames[frameID]
	if err := bp.disk.WritePage(pageID, page.data[:]); err != nil {
		return err
	}
	metrics.Storage().DiskWrites.Add(1)
	metrics.Storage().PageFlushes.Add(1)
	page.dirty = false
	return nil
}

// FlushAllPages writes every resident page to disk.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, page := range bp.frames {
		if page.id == InvalidPageID {
			continue
		}
		if err := bp.disk.WritePage(page.id, page.data[:]); err != nil {
			return err
		}
		metrics.Storage().DiskWrites.Add(1)
		metrics.Storage().PageFlushes.Add(1)
		page.dirty = false
	}
	return nil
}

// DeletePage evicts the page and returns its frame to the free list.
// Deleting a non-resident page succeeds trivially; a pinned page returns
// ErrPagePinned. The page id is handed back to the allocator (a no-op
// for the monotonic allocators).
func (bp *BufferPool) DeletePage(pageID PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable.Find(pageID)
	if !ok {
		return nil
	}
	page := bp.frames[frameID]
	if page.pinCount > 0 {
		return ErrPagePinned
	}
	if page.dirty {
		if err := bp.disk.WritePage(pageID, page.data[:]); err != nil {
			return err
		}
		metrics.Storage().DiskWrites.Add(1)
	}
	bp.pageTable.Remove(pageID)
	bp.replacer.Remove(frameID)
	page.reset()
	bp.freeList = append(bp.freeList, frameID)
	bp.disk.DeallocatePage(pageID)
	metrics.Storage().PagesDeleted.Add(1)
	return nil
}

// Stats snapshots pool occupancy.
func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	s := Stats{
		PoolSize:   bp.poolSize,
		FreeFrames: len(bp.freeList),
		Evictable:  bp.replacer.Size(),
	}
	for _, page := range bp.frames {
		if page.id == InvalidPageID {
			continue
		}
		s.UsedFrames++
		if page.dirty {
			s.DirtyPages++
		}
		if page.pinCount > 0 {
			s.PinnedPages++
		}
	}
	return s
}

// Close flushes all pages and closes the disk manager. Leaked pins are
// loudly reported: a pinned page at shutdown means some operation failed
// to unpin on an exit path.
func (bp *BufferPool) Close() error {
	if err := bp.FlushAllPages(); err != nil {
		return err
	}
	bp.mu.Lock()
	for _, page := range bp.frames {
		if page.id != InvalidPageID && page.pinCount > 0 {
			bp.log.Error("page still pinned at shutdown", "page", page.id, "pins", page.pinCount)
		}
	}
	bp.mu.Unlock()
	if err := bp.disk.Sync(); err != nil {
		return err
	}
	return bp.disk.Close()
}
