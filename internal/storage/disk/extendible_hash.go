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
Extendible Hashing
==================

ExtendibleHashTable is the buffer pool's page table (page id -> frame id)
and a general concurrent map. Unlike a plain hash map that rehashes
everything when it grows, an extendible hash table grows incrementally by
splitting one bucket at a time.

Structure:

	┌───────────── directory (2^D entries) ─────────────┐
	│  00  │  01  │  10  │  11  │                       │
	└──┬───────┬──────┬───────┬─────────────────────────┘
	   │       │      │       │
	   ▼       ▼      ▼       ▼
	 bucket  bucket bucket  bucket      each with local depth d <= D
	 (d=1)   (d=2)  (d=1)   (d=2)

An entry at directory index i points to the bucket whose keys hash to i's
low d bits; exactly 2^(D-d) directory entries alias each bucket. A full
bucket splits: if its local depth already equals the global depth the
directory doubles first, then the bucket's entries redistribute on the new
high bit and the aliasing directory entries rewire. Splits cascade when
every redistributed key lands in the same half.

Keys are hashed by xxhash over a caller-supplied fixed-width encoding; the
low bits of a well-mixed 64-bit hash index the directory directly.

References:

  - Fagin, Nievergelt, Pippenger, Strong: "Extendible Hashing — A Fast
    Access Method for Dynamic Files" (1979)
  - "Database Internals" by Alex Petrov, Chapter 2
*/
package disk

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashFunc maps a key to a 64-bit hash. The table masks the low bits, so
// the function must mix well; use the Hash* helpers below.
type HashFunc[K comparable] func(K) uint64

// HashPageID hashes a page id for use as a page-table key.
func HashPageID(id PageID) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	return xxhash.Sum64(b[:])
}

// HashInt hashes an int key.
func HashInt(k int) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return xxhash.Sum64(b[:])
}

// HashString hashes a string key.
func HashString(k string) uint64 {
	return xxhash.Sum64String(k)
}

type hashEntry[K comparable, V any] struct {
	key   K
	value V
}

// hashBucket is a bounded bag of entries sharing the low `depth` hash bits.
type hashBucket[K comparable, V any] struct {
	depth   int
	entries []hashEntry[K, V]
}

func (b *hashBucket[K, V]) find(key K) (V, bool) {
	for i := range b.entries {
		if b.entries[i].key == key {
			return b.entries[i].value, true
		}
	}
	var zero V
	return zero, false
}

func (b *hashBucket[K, V]) remove(key K) bool {
	for i := range b.entries {
		if b.entries[i].key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// insert overwrites an existing key, appends if there is room, and
// reports false if the bucket is full.
func (b *hashBucket[K, V]) insert(key K, value V, capacity int) bool {
	for i := range b.entries {
		if b.entries[i].key == key {
			b.entries[i].value = value
			return true
		}
	}
	if len(b.entries) >= capacity {
		return false
	}
	b.entries = append(b.entries, hashEntry[K, V]{key: key, value: value})
	return true
}

// ExtendibleHashTable is a mutex-guarded extendible hash map. Bucket
// capacity is fixed at construction; the table grows by splitting, so an
// insert always succeeds.
type ExtendibleHashTable[K comparable, V any] struct {
	mu          sync.Mutex
	bucketSize  int
	globalDepth int
	numBuckets  int
	dir         []*hashBucket[K, V]
	hash        HashFunc[K]
}

// NewExtendibleHashTable creates a table with the given bucket capacity.
// The directory starts at global depth 0 with a single empty bucket.
func NewExtendibleHashTable[K comparable, V any](bucketSize int, hash HashFunc[K]) *ExtendibleHashTable[K, V] {
	return &ExtendibleHashTable[K, V]{
		bucketSize: bucketSize,
		numBuckets: 1,
		dir:        []*hashBucket[K, V]{{}},
		hash:       hash,
	}
}

// indexOf masks the hash by the global depth. Caller holds mu.
func (t *ExtendibleHashTable[K, V]) indexOf(key K) uint64 {
	return t.hash(key) & (uint64(1)<<t.globalDepth - 1)
}

// Find returns the value stored under key.
func (t *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].find(key)
}

// Remove deletes key and reports whether it was present.
func (t *ExtendibleHashTable[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].remove(key)
}

// Insert stores value under key, overwriting any previous value. A full
// bucket is split, doubling the directory when needed; splits cascade
// until the insert fits.
func (t *ExtendibleHashTable[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := t.indexOf(key)
		bucket := t.dir[idx]
		if bucket.insert(key, value, t.bucketSize) {
			return
		}
		t.splitBucket(bucket, idx)
	}
}

// splitBucket splits the full bucket aliased at directory index idx.
// Caller holds mu.
func (t *ExtendibleHashTable[K, V]) splitBucket(old *hashBucket[K, V], idx uint64) {
	if old.depth == t.globalDepth {
		// Directory is at capacity for this bucket: double it, with each
		// new entry aliasing the bucket of its low-half twin.
		t.dir = append(t.dir, t.dir...)
		t.globalDepth++
	}

	newBucket := &hashBucket[K, V]{depth: old.depth + 1}
	t.numBuckets++
	old.depth++

	// Keys whose new high bit is set move to the new bucket.
	baseDepth := old.depth - 1
	baseIndex := idx & (uint64(1)<<baseDepth - 1)
	newTarget := baseIndex | uint64(1)<<baseDepth
	mask := uint64(1)<<old.depth - 1

	kept := old.entries[:0]
	for _, e := range old.entries {
		if t.hash(e.key)&mask == newTarget {
			newBucket.entries = append(newBucket.entries, e)
		} else {
			kept = append(kept, e)
		}
	}
	old.entries = kept

	// Rewire the directory entries that now belong to the new bucket.
	for i := range t.dir {
		if t.dir[i] == old && uint64(i)&mask == newTarget {
			t.dir[i] = newBucket
		}
	}
}

// GlobalDepth returns the directory's global depth.
func (t *ExtendibleHashTable[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// LocalDepth returns the local depth of the bucket at directory index i,
// or -1 if i is out of range.
func (t *ExtendibleHashTable[K, V]) LocalDepth(i int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.dir) {
		return -1
	}
	return t.dir[i].depth
}

// NumBuckets returns the number of distinct buckets.
func (t *ExtendibleHashTable[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numBuckets
}

// Len returns the number of stored entries.
func (t *ExtendibleHashTable[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[*hashBucket[K, V]]struct{}, t.numBuckets)
	n := 0
	for _, b := range t.dir {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		n += len(b.entries)
	}
	return n
}
