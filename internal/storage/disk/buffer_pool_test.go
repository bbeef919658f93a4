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

package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pinned pool refuses new pages; one unpin frees exactly one frame, and
// an evicted clean page reads back zeroed because it was never written.
func TestBufferPoolPinningAndEviction(t *testing.T) {
	pool := NewBufferPool(10, 5, NewMemoryDiskManager())

	for i := 0; i < 10; i++ {
		p, err := pool.NewPage()
		require.NoError(t, err)
		assert.Equal(t, PageID(i+1), p.ID())
	}

	_, err := pool.NewPage()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.True(t, pool.UnpinPage(3, false))
	p, err := pool.NewPage()
	require.NoError(t, err)
	assert.Equal(t, PageID(11), p.ID())

	// Page 3 was clean when evicted, so its frame's bytes were dropped
	// without a write; fetching it re-reads a never-written page.
	require.True(t, pool.UnpinPage(10, false))
	fetched, err := pool.FetchPage(3)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, PageSize), fetched.Data())
}

func TestBufferPoolFlushPersists(t *testing.T) {
	dm := NewMemoryDiskManager()
	pool := NewBufferPool(4, 2, dm)

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()
	pattern := []byte("strata flush pattern")
	copy(p.Data(), pattern)

	require.True(t, pool.UnpinPage(id, true))
	require.NoError(t, pool.FlushPage(id))

	buf := make([]byte, PageSize)
	require.NoError(t, dm.ReadPage(id, buf))
	assert.Equal(t, pattern, buf[:len(pattern)])
}

// Eviction of a dirty page must write it; a later fetch returns the
// modified bytes even though the page left the pool in between.
func TestBufferPoolDirtyEvictionWritesBack(t *testing.T) {
	pool := NewBufferPool(2, 2, NewMemoryDiskManager())

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()
	copy(p.Data(), "dirty bytes")
	require.True(t, pool.UnpinPage(id, true))

	// Force the dirty page out with two fresh pinned pages.
	p2, err := pool.NewPage()
	require.NoError(t, err)
	p3, err := pool.NewPage()
	require.NoError(t, err)
	pool.UnpinPage(p2.ID(), false)
	pool.UnpinPage(p3.ID(), false)

	fetched, err := pool.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("dirty bytes"), fetched.Data()[:11])
	pool.UnpinPage(id, false)
}

// The dirty flag is monotonic within a pin lifetime: a clean unpin after
// a dirty one must not clear it.
func TestBufferPoolDirtyFlagSticks(t *testing.T) {
	pool := NewBufferPool(4, 2, NewMemoryDiskManager())

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()

	_, err = pool.FetchPage(id)
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(id, true))
	require.True(t, pool.UnpinPage(id, false))
	assert.True(t, p.IsDirty())

	// Unpinning an already-unpinned or unknown page fails.
	assert.False(t, pool.UnpinPage(id, false))
	assert.False(t, pool.UnpinPage(999, false))
}

func TestBufferPoolDeletePage(t *testing.T) {
	pool := NewBufferPool(4, 2, NewMemoryDiskManager())

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()

	assert.ErrorIs(t, pool.DeletePage(id), ErrPagePinned)

	require.True(t, pool.UnpinPage(id, true))
	require.NoError(t, pool.DeletePage(id))

	// Deleting a non-resident page succeeds trivially.
	require.NoError(t, pool.DeletePage(id))

	// The frame is reusable immediately.
	for i := 0; i < 4; i++ {
		_, err := pool.NewPage()
		require.NoError(t, err)
	}
}

// Page-table bijection: every frame holding a page is mapped to by
// exactly that page id and no other.
func TestBufferPoolPageTableBijection(t *testing.T) {
	pool := NewBufferPool(8, 2, NewMemoryDiskManager())

	for i := 0; i < 12; i++ {
		p, err := pool.NewPage()
		require.NoError(t, err)
		pool.UnpinPage(p.ID(), i%2 == 0)
	}
	for i := 0; i < 6; i++ {
		p, err := pool.FetchPage(PageID(i))
		require.NoError(t, err)
		pool.UnpinPage(p.ID(), false)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	seen := make(map[PageID]FrameID)
	for idx, frame := range pool.frames {
		if frame.id == InvalidPageID {
			continue
		}
		mapped, ok := pool.pageTable.Find(frame.id)
		require.Truef(t, ok, "frame %d holds page %d but the table misses it", idx, frame.id)
		require.Equal(t, FrameID(idx), mapped)
		_, dup := seen[frame.id]
		require.Falsef(t, dup, "page %d held by two frames", frame.id)
		seen[frame.id] = mapped
	}
	require.Equal(t, pool.pageTable.Len(), len(seen))
}

func TestBufferPoolFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pages")
	dm, err := NewFileDiskManager(path)
	require.NoError(t, err)
	pool := NewBufferPool(4, 2, dm)

	p, err := pool.NewPage()
	require.NoError(t, err)
	id := p.ID()
	copy(p.Data(), "survives reopen")
	pool.UnpinPage(id, true)
	require.NoError(t, pool.Close())

	dm2, err := NewFileDiskManager(path)
	require.NoError(t, err)
	pool2 := NewBufferPool(4, 2, dm2)
	fetched, err := pool2.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives reopen"), fetched.Data()[:15])
	pool2.UnpinPage(id, false)

	// Allocation resumes past the persisted pages.
	next, err := pool2.NewPage()
	require.NoError(t, err)
	assert.Greater(t, next.ID(), id)
	pool2.UnpinPage(next.ID(), false)
	require.NoError(t, pool2.Close())
}
