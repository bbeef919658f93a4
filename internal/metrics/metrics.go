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
Package metrics exposes StrataDB storage metrics.

Counters are lock-free atomics incremented on the hot paths (buffer pool,
B+-tree) and exposed in Prometheus text format:

	stratadb_pool_hits_total 12345
	stratadb_pool_misses_total 321
	stratadb_tree_splits_total 17

Serve starts a /metrics HTTP endpoint when an address is configured;
WritePrometheus renders to any writer (the shell's `stats` command uses
it directly).
*/
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// StorageMetrics holds cumulative counters for the storage engine.
type StorageMetrics struct {
	// Buffer pool
	PoolHits       atomic.Uint64
	PoolMisses     atomic.Uint64
	PoolEvictions  atomic.Uint64
	PageFlushes    atomic.Uint64
	DiskReads      atomic.Uint64
	DiskWrites     atomic.Uint64
	PagesAllocated atomic.Uint64
	PagesDeleted   atomic.Uint64

	// B+-tree
	TreeInserts atomic.Uint64
	TreeRemoves atomic.Uint64
	TreeLookups atomic.Uint64
	TreeSplits  atomic.Uint64
	TreeMerges  atomic.Uint64
}

var (
	storage     *StorageMetrics
	storageOnce sync.Once
)

// Storage returns the process-wide storage metrics.
func Storage() *StorageMetrics {
	storageOnce.Do(func() {
		storage = &StorageMetrics{}
	})
	return storage
}

// HitRate returns the buffer pool hit rate in percent.
func (m *StorageMetrics) HitRate() float64 {
	hits := m.PoolHits.Load()
	total := hits + m.PoolMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// WritePrometheus renders all counters in Prometheus text format.
func (m *StorageMetrics) WritePrometheus(w io.Writer) {
	counters := []struct {
		name  string
		help  string
		value uint64
	}{
		{"stratadb_pool_hits_total", "Buffer pool page-table hits", m.PoolHits.Load()},
		{"stratadb_pool_misses_total", "Buffer pool page-table misses", m.PoolMisses.Load()},
		{"stratadb_pool_evictions_total", "Frames evicted by the replacer", m.PoolEvictions.Load()},
		{"stratadb_page_flushes_total", "Explicit page flushes", m.PageFlushes.Load()},
		{"stratadb_disk_reads_total", "Pages read from the disk manager", m.DiskReads.Load()},
		{"stratadb_disk_writes_total", "Pages written to the disk manager", m.DiskWrites.Load()},
		{"stratadb_pages_allocated_total", "Page ids allocated", m.PagesAllocated.Load()},
		{"stratadb_pages_deleted_total", "Pages deleted", m.PagesDeleted.Load()},
		{"stratadb_tree_inserts_total", "B+-tree insert operations", m.TreeInserts.Load()},
		{"stratadb_tree_removes_total", "B+-tree remove operations", m.TreeRemoves.Load()},
		{"stratadb_tree_lookups_total", "B+-tree point lookups", m.TreeLookups.Load()},
		{"stratadb_tree_splits_total", "B+-tree page splits", m.TreeSplits.Load()},
		{"stratadb_tree_merges_total", "B+-tree page merges", m.TreeMerges.Load()},
	}
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value)
	}
}

// Serve exposes /metrics on addr. It blocks; run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		Storage().WritePrometheus(w)
	})
	return http.ListenAndServe(addr, mux)
}
