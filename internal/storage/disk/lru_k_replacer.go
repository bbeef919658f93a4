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
LRU-K Page Replacement
======================

The replacer chooses which buffer-pool frame to evict. Simple LRU has a
well-known failure mode for database workloads: one sequential scan
flushes the whole pool, evicting hot pages in favor of pages that will
never be touched again. LRU-K (O'Neil, O'Neil, Weikum, 1993) fixes this
by ranking frames on their K-th most recent access instead of their most
recent one.

Each tracked frame keeps the timestamps of its last K accesses (logical
time: a counter incremented per access). A frame's backward K-distance is
current time minus its K-th most recent timestamp; frames with fewer than
K recorded accesses have infinite distance. Evict picks the evictable
frame with the greatest distance, breaking ties by the earliest
first-recorded access (classical LRU). A page touched once by a scan has
infinite distance and goes first; a hot page's distance stays small.

The replacer only ranks frames; pin state lives in the buffer pool, which
marks frames evictable exactly when their pin count reaches zero.
*/
package disk

import (
	"fmt"
	"math"
	"sync"
)

type lruKFrame struct {
	// history holds up to k access timestamps, oldest first.
	history   []uint64
	evictable bool
}

// LRUKReplacer tracks up to a fixed number of frames and evicts by
// largest backward K-distance among the evictable ones.
type LRUKReplacer struct {
	mu        sync.Mutex
	k         int
	capacity  int
	timestamp uint64
	curSize   int // count of tracked frames with evictable == true
	frames    map[FrameID]*lruKFrame
}

// NewLRUKReplacer creates a replacer for numFrames frames with parameter k.
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	if numFrames <= 0 {
		panic("lruk: replacer size must be positive")
	}
	if k < 1 {
		panic("lruk: k must be at least 1")
	}
	return &LRUKReplacer{
		k:        k,
		capacity: numFrames,
		frames:   make(map[FrameID]*lruKFrame, numFrames),
	}
}

func (r *LRUKReplacer) checkFrame(id FrameID) {
	if id < 0 || int(id) >= r.capacity {
		panic(fmt.Sprintf("lruk: frame id %d out of range [0,%d)", id, r.capacity))
	}
}

// RecordAccess stamps an access on the frame, creating its record on
// first touch and keeping only the last K timestamps.
func (r *LRUKReplacer) RecordAccess(id FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrame(id)

	f := r.frames[id]
	if f == nil {
		f = &lruKFrame{history: make([]uint64, 0, r.k+1)}
		r.frames[id] = f
	}
	f.history = append(f.history, r.timestamp)
	if len(f.history) > r.k {
		f.history = f.history[1:]
	}
	r.timestamp++
}

// SetEvictable flags whether the frame may be evicted, adjusting the
// evictable count only on a state change. Untracked frames are a no-op:
// the replacer never creates a record here.
func (r *LRUKReplacer) SetEvictable(id FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrame(id)

	f := r.frames[id]
	if f == nil || f.evictable == evictable {
		return
	}
	f.evictable = evictable
	if evictable {
		r.curSize++
	} else {
		r.curSize--
	}
}

// Evict removes and returns the evictable frame with the largest backward
// K-distance, ties broken by earliest first access. Returns false when no
// frame is evictable.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curSize == 0 {
		return 0, false
	}

	victim := FrameID(-1)
	var maxDistance uint64
	earliest := uint64(math.MaxUint64)

	for id, f := range r.frames {
		if !f.evictable {
			continue
		}
		distance := uint64(math.MaxUint64)
		if len(f.history) >= r.k {
			distance = r.timestamp - f.history[len(f.history)-r.k]
		}
		better := distance > maxDistance
		if !better && distance == maxDistance && f.history[0] < earliest {
			better = true
		}
		if better || victim < 0 {
			victim = id
			maxDistance = distance
			earliest = f.history[0]
		}
	}

	delete(r.frames, victim)
	r.curSize--
	return victim, true
}

// Remove erases a tracked frame. The frame must be evictable; removing a
// pinned (non-evictable) frame is a caller bug.
func (r *LRUKReplacer) Remove(id FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrame(id)

	f := r.frames[id]
	if f == nil {
		return
	}
	if !f.evictable {
		panic(fmt.Sprintf("lruk: remove of non-evictable frame %d", id))
	}
	delete(r.frames, id)
	r.curSize--
}

// Size returns the number of evictable tracked frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.curSize
}
