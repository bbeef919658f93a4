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
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"stratadb/internal/logging"
)

// DiskManager moves whole pages between memory and a block-addressed
// backing store, and hands out page ids. All calls are synchronous and
// blocking; the buffer pool serializes them behind its own mutex.
type DiskManager interface {
	// ReadPage reads the page into buf, which must be PageSize bytes.
	// Reading a page that was never written yields a zeroed buffer, so
	// freshly allocated pages are readable before their first write.
	ReadPage(id PageID, buf []byte) error

	// WritePage writes buf, which must be PageSize bytes, to the page.
	WritePage(id PageID, buf []byte) error

	// AllocatePage reserves a fresh page id. Ids are monotonic; a
	// deallocated id is not reused.
	AllocatePage() (PageID, error)

	// DeallocatePage releases a page id. With a monotonic allocator this
	// is a no-op; it exists so a free-list allocator can slot in later.
	DeallocatePage(id PageID)

	// Sync flushes OS buffers to stable storage.
	Sync() error

	// Close releases the underlying resources.
	Close() error
}

// FileDiskManager stores pages in a single file, page i at byte offset
// i*PageSize. It is safe for concurrent use.
type FileDiskManager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	nextPage PageID
	log      *logging.Logger
}

var _ DiskManager = (*FileDiskManager)(nil)

// NewFileDiskManager opens (or creates) the page file at path. The next
// page id to allocate is derived from the file size, so an existing store
// keeps allocating past its last page.
func NewFileDiskManager(path string) (*FileDiskManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open page file %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "stat page file %s", path)
	}
	// Page 0 is the header page: readable and writable from the start,
	// never handed out by the allocator.
	pages := (info.Size() + PageSize - 1) / PageSize
	if pages < 1 {
		pages = 1
	}
	return &FileDiskManager{
		file:     file,
		path:     path,
		nextPage: PageID(pages),
		log:      logging.NewLogger("disk"),
	}, nil
}

// Path returns the page file path.
func (d *FileDiskManager) Path() string { return d.path }

// ReadPage implements DiskManager. A short read or a read past the end of
// the file zero-fills the remainder: those bytes were never written.
func (d *FileDiskManager) ReadPage(id PageID, buf []byte) error {
	if id < 0 {
		return errors.Errorf("read invalid page id %d", id)
	}
	n, err := d.file.ReadAt(buf[:PageSize], int64(id)*PageSize)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "read page %d", id)
	}
	if n < PageSize {
		d.log.Debug("short read, zero-filling", "page", id, "read", n)
		for i := n; i < PageSize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

// WritePage implements DiskManager.
func (d *FileDiskManager) WritePage(id PageID, buf []byte) error {
	if id < 0 {
		return errors.Errorf("write invalid page id %d", id)
	}
	if _, err := d.file.WriteAt(buf[:PageSize], int64(id)*PageSize); err != nil {
		return errors.Wrapf(err, "write page %d", id)
	}
	return nil
}

// AllocatePage implements DiskManager.
func (d *FileDiskManager) AllocatePage() (PageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextPage
	d.nextPage++
	return id, nil
}

// DeallocatePage implements DiskManager. Monotonic allocator: no-op.
func (d *FileDiskManager) DeallocatePage(id PageID) {}

// Sync implements DiskManager.
func (d *FileDiskManager) Sync() error {
	return errors.Wrap(d.file.Sync(), "sync page file")
}

// Close implements DiskManager.
func (d *FileDiskManager) Close() error {
	return d.file.Close()
}

// MemoryDiskManager keeps pages in a map. It backs tests and the shell's
// throwaway mode; semantics match FileDiskManager, including zeroed reads
// of never-written pages.
type MemoryDiskManager struct {
	mu       sync.RWMutex
	pages    map[PageID][]byte
	nextPage PageID
}

var _ DiskManager = (*MemoryDiskManager)(nil)

// NewMemoryDiskManager creates an empty in-memory store. As with the
// file manager, page 0 stays reserved for the header page.
func NewMemoryDiskManager() *MemoryDiskManager {
	return &MemoryDiskManager{pages: make(map[PageID][]byte), nextPage: 1}
}

// ReadPage implements DiskManager.
func (d *MemoryDiskManager) ReadPage(id PageID, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stored, ok := d.pages[id]
	if !ok {
		for i := range buf[:PageSize] {
			buf[i] = 0
		}
		return nil
	}
	copy(buf[:PageSize], stored)
	return nil
}

// WritePage implements DiskManager.
func (d *MemoryDiskManager) WritePage(id PageID, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.pages[id]
	if !ok {
		stored = make([]byte, PageSize)
		d.pages[id] = stored
	}
	copy(stored, buf[:PageSize])
	return nil
}

// AllocatePage implements DiskManager.
func (d *MemoryDiskManager) AllocatePage() (PageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextPage
	d.nextPage++
	return id, nil
}

// DeallocatePage implements DiskManager.
func (d *MemoryDiskManager) DeallocatePage(id PageID) {}

// Sync implements DiskManager.
func (d *MemoryDiskManager) Sync() error { return nil }

// Close implements DiskManager.
func (d *MemoryDiskManager) Close() error { return nil }
