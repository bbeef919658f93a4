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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Frames touched fewer than K times have infinite backward distance and
// go first, ordered by their first access; among frames with K accesses
// the oldest K-th-most-recent access loses.
func TestLRUKEvictionOrder(t *testing.T) {
	r := NewLRUKReplacer(8, 2)

	for _, f := range []FrameID{2, 1, 3, 4, 5, 6} {
		r.RecordAccess(f)
	}
	for f := FrameID(1); f <= 6; f++ {
		r.SetEvictable(f, true)
	}
	require.Equal(t, 6, r.Size())

	r.RecordAccess(1)
	r.RecordAccess(2)

	want := []FrameID{3, 4, 5, 6, 2, 1}
	for _, expected := range want {
		victim, ok := r.Evict()
		require.True(t, ok)
		assert.Equal(t, expected, victim)
	}
	_, ok := r.Evict()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())
}

func TestLRUKSingleReaccess(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(3)
	for f := FrameID(1); f <= 3; f++ {
		r.SetEvictable(f, true)
	}
	r.RecordAccess(1)

	// Frames 2 and 3 have infinite distance; frame 1's is finite. The
	// earlier-first-touched infinite frame goes first.
	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(2), victim)
}

func TestLRUKEvictRespectsEvictable(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, true)
	// Frame 1 stays pinned.

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(0), victim)

	_, ok = r.Evict()
	assert.False(t, ok, "non-evictable frame must never be returned")
}

func TestLRUKSetEvictable(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	// Untracked frames are a no-op and must not create entries.
	r.SetEvictable(3, true)
	assert.Equal(t, 0, r.Size())
	_, ok := r.Evict()
	assert.False(t, ok)

	r.RecordAccess(3)
	r.SetEvictable(3, true)
	assert.Equal(t, 1, r.Size())

	// Repeating the same flag leaves the count alone.
	r.SetEvictable(3, true)
	assert.Equal(t, 1, r.Size())

	r.SetEvictable(3, false)
	assert.Equal(t, 0, r.Size())
}

func TestLRUKRemove(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	r.RecordAccess(1)
	r.SetEvictable(1, true)
	r.Remove(1)
	assert.Equal(t, 0, r.Size())

	// Removing an untracked frame is a no-op.
	r.Remove(1)

	// Removing a tracked non-evictable frame is a caller bug.
	r.RecordAccess(2)
	assert.Panics(t, func() { r.Remove(2) })
}

func TestLRUKOutOfRangeFrame(t *testing.T) {
	r := NewLRUKReplacer(4, 2)
	assert.Panics(t, func() { r.RecordAccess(4) })
	assert.Panics(t, func() { r.SetEvictable(-1, true) })
}
