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
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratadb/internal/storage/disk"
)

const testKeyWidth = 8

func newTestTree(t *testing.T, leafMax, internalMax int) (*BPlusTree, *disk.BufferPool) {
	t.Helper()
	pool := disk.NewBufferPool(64, 2, disk.NewMemoryDiskManager())
	tree, err := NewBPlusTree(pool, Config{
		Name:            "test",
		KeySize:         testKeyWidth,
		LeafMaxSize:     leafMax,
		InternalMaxSize: internalMax,
	})
	require.NoError(t, err)
	return tree, pool
}

func insertInt(t *testing.T, tree *BPlusTree, v int64) {
	t.Helper()
	ok, err := tree.Insert(KeyFromInteger(testKeyWidth, v), RIDFromInteger(v))
	require.NoError(t, err)
	require.Truef(t, ok, "insert %d", v)
}

func removeInt(t *testing.T, tree *BPlusTree, v int64) {
	t.Helper()
	ok, err := tree.Remove(KeyFromInteger(testKeyWidth, v))
	require.NoError(t, err)
	require.Truef(t, ok, "remove %d", v)
}

func collectKeys(t *testing.T, tree *BPlusTree) []int64 {
	t.Helper()
	var keys []int64
	it := tree.Begin()
	defer it.Close()
	for ; !it.IsEnd(); it.Next() {
		keys = append(keys, IntegerFromKey(it.Key()))
	}
	return keys
}

// Small fan-out forces multi-level splits; removing everything must
// cascade merges until the tree is empty again.
func TestBPlusTreeSequentialInsertRemove(t *testing.T) {
	tree, pool := newTestTree(t, 3, 3)

	for v := int64(1); v <= 8; v++ {
		insertInt(t, tree, v)
	}
	for v := int64(1); v <= 8; v++ {
		rid, found := tree.GetValue(KeyFromInteger(testKeyWidth, v))
		require.Truef(t, found, "key %d", v)
		assert.Equal(t, RIDFromInteger(v), rid)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, collectKeys(t, tree))

	for v := int64(1); v <= 8; v++ {
		removeInt(t, tree, v)
	}
	assert.True(t, tree.IsEmpty())
	assert.Equal(t, disk.InvalidPageID, tree.RootPageID())
	assert.Empty(t, collectKeys(t, tree))
	assert.Zero(t, pool.Stats().PinnedPages)
}

func TestBPlusTreeDuplicatesAndMisses(t *testing.T) {
	tree, pool := newTestTree(t, 3, 3)

	insertInt(t, tree, 7)
	ok, err := tree.Insert(KeyFromInteger(testKeyWidth, 7), NewRID(9, 9))
	require.NoError(t, err)
	assert.False(t, ok, "duplicate insert must fail")

	// The original value is untouched.
	rid, found := tree.GetValue(KeyFromInteger(testKeyWidth, 7))
	require.True(t, found)
	assert.Equal(t, RIDFromInteger(7), rid)

	ok, err = tree.Remove(KeyFromInteger(testKeyWidth, 99))
	require.NoError(t, err)
	assert.False(t, ok, "removing an absent key must fail")

	_, found = tree.GetValue(KeyFromInteger(testKeyWidth, 99))
	assert.False(t, found)

	// Lookup on an empty tree.
	removeInt(t, tree, 7)
	_, found = tree.GetValue(KeyFromInteger(testKeyWidth, 7))
	assert.False(t, found)
	assert.Zero(t, pool.Stats().PinnedPages)
}

// Random interleavings of insert and remove over distinct keys: the tree
// matches a model map, iteration stays sorted and duplicate-free, and no
// pin leaks.
func TestBPlusTreeRandomizedAgainstModel(t *testing.T) {
	tree, pool := newTestTree(t, 4, 4)
	rng := rand.New(rand.NewSource(42))

	model := make(map[int64]bool)
	const universe = 400
	for op := 0; op < 4000; op++ {
		v := int64(rng.Intn(universe))
		key := KeyFromInteger(testKeyWidth, v)
		if rng.Intn(2) == 0 {
			ok, err := tree.Insert(key, RIDFromInteger(v))
			require.NoError(t, err)
			assert.Equal(t, !model[v], ok, "insert %d", v)
			model[v] = true
		} else {
			ok, err := tree.Remove(key)
			require.NoError(t, err)
			assert.Equal(t, model[v], ok, "remove %d", v)
			delete(model, v)
		}
	}

	keys := collectKeys(t, tree)
	assert.Len(t, keys, len(model))
	for i, k := range keys {
		assert.True(t, model[k], "iterated key %d not in model", k)
		if i > 0 {
			assert.Less(t, keys[i-1], k, "iteration out of order")
		}
	}
	for v := range model {
		_, found := tree.GetValue(KeyFromInteger(testKeyWidth, v))
		assert.Truef(t, found, "model key %d", v)
	}
	assert.Zero(t, pool.Stats().PinnedPages)
	checkTreeInvariants(t, tree)
}

// checkTreeInvariants walks the whole tree: sizes within bounds, parent
// back-pointers correct, and the leaf chain covering every key in order.
func checkTreeInvariants(t *testing.T, tree *BPlusTree) {
	t.Helper()
	root := tree.RootPageID()
	if root == disk.InvalidPageID {
		return
	}

	type item struct {
		id     disk.PageID
		parent disk.PageID
	}
	queue := []item{{root, disk.InvalidPageID}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		page, err := tree.pool.FetchPage(cur.id)
		require.NoError(t, err)
		tp := asTreePage(page, tree.keySize)

		assert.Equal(t, cur.parent, tp.parentID(), "parent pointer of page %d", cur.id)
		assert.LessOrEqual(t, tp.size(), tp.maxSize(), "page %d overflow", cur.id)
		if !tp.isRoot() {
			assert.GreaterOrEqual(t, tp.size(), 1, "page %d empty", cur.id)
		}
		if !tp.isLeaf() {
			node := tp.asInternal()
			for i := 0; i < node.size(); i++ {
				queue = append(queue, item{node.valueAt(i), cur.id})
			}
		}
		tree.pool.UnpinPage(cur.id, false)
	}
}

func TestBPlusTreeDescendingInsert(t *testing.T) {
	tree, pool := newTestTree(t, 3, 3)
	for v := int64(100); v >= 1; v-- {
		insertInt(t, tree, v)
	}
	keys := collectKeys(t, tree)
	require.Len(t, keys, 100)
	for i, k := range keys {
		assert.Equal(t, int64(i+1), k)
	}
	checkTreeInvariants(t, tree)
	assert.Zero(t, pool.Stats().PinnedPages)
}

// BeginAt is full-scan by design: it starts at the first key regardless
// of the argument.
func TestBPlusTreeBeginAtScansFromStart(t *testing.T) {
	tree, _ := newTestTree(t, 3, 3)
	for v := int64(1); v <= 10; v++ {
		insertInt(t, tree, v)
	}
	it := tree.BeginAt(KeyFromInteger(testKeyWidth, 5))
	defer it.Close()
	require.False(t, it.IsEnd())
	assert.Equal(t, int64(1), IntegerFromKey(it.Key()))
}

func TestIteratorEndDereferencePanics(t *testing.T) {
	tree, _ := newTestTree(t, 3, 3)
	it := tree.Begin()
	require.True(t, it.IsEnd())
	assert.PanicsWithValue(t, ErrEndIterator, func() { it.Key() })
	assert.PanicsWithValue(t, ErrEndIterator, func() { it.Value() })
	it.Close()
}

func TestIteratorEarlyClose(t *testing.T) {
	tree, pool := newTestTree(t, 3, 3)
	for v := int64(1); v <= 20; v++ {
		insertInt(t, tree, v)
	}
	it := tree.Begin()
	for i := 0; i < 5; i++ {
		require.False(t, it.IsEnd())
		it.Next()
	}
	it.Close()
	it.Close() // idempotent
	assert.Zero(t, pool.Stats().PinnedPages)
}

// The root recorded in the header page survives closing and reopening a
// file-backed pool.
func TestBPlusTreeReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.pages")

	dm, err := disk.NewFileDiskManager(path)
	require.NoError(t, err)
	pool := disk.NewBufferPool(32, 2, dm)
	tree, err := NewBPlusTree(pool, Config{Name: "users", KeySize: testKeyWidth, LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)
	for v := int64(1); v <= 50; v++ {
		insertInt(t, tree, v)
	}
	require.NoError(t, pool.Close())

	dm2, err := disk.NewFileDiskManager(path)
	require.NoError(t, err)
	pool2 := disk.NewBufferPool(32, 2, dm2)
	tree2, err := NewBPlusTree(pool2, Config{Name: "users", KeySize: testKeyWidth, LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)

	assert.Equal(t, tree.RootPageID(), tree2.RootPageID())
	for v := int64(1); v <= 50; v++ {
		rid, found := tree2.GetValue(KeyFromInteger(testKeyWidth, v))
		require.Truef(t, found, "key %d after reopen", v)
		assert.Equal(t, RIDFromInteger(v), rid)
	}
	require.NoError(t, pool2.Close())
}

func TestBPlusTreeBulkLoadFiles(t *testing.T) {
	tree, _ := newTestTree(t, 4, 4)
	dir := t.TempDir()

	loadPath := filepath.Join(dir, "load.txt")
	require.NoError(t, os.WriteFile(loadPath, []byte("5 3 9\n1 7\n"), 0644))
	require.NoError(t, tree.InsertFromFile(loadPath))
	assert.Equal(t, []int64{1, 3, 5, 7, 9}, collectKeys(t, tree))

	rid, found := tree.GetValue(KeyFromInteger(testKeyWidth, 9))
	require.True(t, found)
	assert.Equal(t, RIDFromInteger(9), rid)

	unloadPath := filepath.Join(dir, "unload.txt")
	require.NoError(t, os.WriteFile(unloadPath, []byte("3 7"), 0644))
	require.NoError(t, tree.RemoveFromFile(unloadPath))
	assert.Equal(t, []int64{1, 5, 9}, collectKeys(t, tree))
}

func TestBPlusTreeDraw(t *testing.T) {
	tree, _ := newTestTree(t, 3, 3)
	insertInt(t, tree, 1)
	path := filepath.Join(t.TempDir(), "tree.dot")
	require.NoError(t, tree.Draw(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "digraph")
}

func TestBPlusTreeRejectsBadConfig(t *testing.T) {
	pool := disk.NewBufferPool(8, 2, disk.NewMemoryDiskManager())
	_, err := NewBPlusTree(pool, Config{Name: "x", KeySize: 7})
	assert.Error(t, err)
	_, err = NewBPlusTree(pool, Config{Name: "", KeySize: 8})
	assert.Error(t, err)
	_, err = NewBPlusTree(pool, Config{Name: "x", KeySize: 8, LeafMaxSize: 1})
	assert.Error(t, err)

	tree, err := NewBPlusTree(pool, Config{Name: "x", KeySize: 8})
	require.NoError(t, err)
	_, err = tree.Insert(make([]byte, 4), RID{})
	assert.Error(t, err, "key width mismatch")
}
