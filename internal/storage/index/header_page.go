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
	"bytes"
	"encoding/binary"

	"stratadb/internal/storage/disk"
)

// headerPage interprets the distinguished page at disk.HeaderPageID as a
// table of (index name, root page id) records. Every root change flushes
// through the buffer pool by unpinning the header dirty, so the root
// survives reopen.
//
// Layout: record count (int32 at offset 0), then fixed records of a
// 32-byte zero-padded name and an int32 root page id.
type headerPage struct {
	page *disk.Page
}

const (
	headerNameSize   = 32
	headerRecordSize = headerNameSize + 4
	headerRecordsOff = 4
	headerMaxRecords = (disk.PageSize - headerRecordsOff) / headerRecordSize
)

func asHeaderPage(p *disk.Page) *headerPage {
	return &headerPage{page: p}
}

func (h *headerPage) recordCount() int {
	return int(int32(binary.LittleEndian.Uint32(h.page.Data()[0:4])))
}

func (h *headerPage) setRecordCount(n int) {
	binary.LittleEndian.PutUint32(h.page.Data()[0:4], uint32(n))
}

func (h *headerPage) record(i int) []byte {
	off := headerRecordsOff + i*headerRecordSize
	return h.page.Data()[off : off+headerRecordSize]
}

func (h *headerPage) findRecord(name string) int {
	padded := paddedName(name)
	for i := 0; i < h.recordCount(); i++ {
		if bytes.Equal(h.record(i)[:headerNameSize], padded[:]) {
			return i
		}
	}
	return -1
}

func paddedName(name string) [headerNameSize]byte {
	var padded [headerNameSize]byte
	copy(padded[:], name)
	return padded
}

// getRootID returns the root page id recorded for the named index.
func (h *headerPage) getRootID(name string) (disk.PageID, bool) {
	i := h.findRecord(name)
	if i < 0 {
		return disk.InvalidPageID, false
	}
	rec := h.record(i)
	return disk.PageID(int32(binary.LittleEndian.Uint32(rec[headerNameSize:]))), true
}

// insertRecord adds a new (name, root) record; false if the name exists,
// is too long, or the page is full.
func (h *headerPage) insertRecord(name string, root disk.PageID) bool {
	if len(name) > headerNameSize || h.findRecord(name) >= 0 || h.recordCount() >= headerMaxRecords {
		return false
	}
	n := h.recordCount()
	h.setRecordCount(n + 1)
	rec := h.record(n)
	padded := paddedName(name)
	copy(rec[:headerNameSize], padded[:])
	binary.LittleEndian.PutUint32(rec[headerNameSize:], uint32(root))
	return true
}

// updateRecord rewrites the root of an existing record; false if absent.
func (h *headerPage) updateRecord(name string, root disk.PageID) bool {
	i := h.findRecord(name)
	if i < 0 {
		return false
	}
	binary.LittleEndian.PutUint32(h.record(i)[headerNameSize:], uint32(root))
	return true
}

// deleteRecord removes a record; false if absent.
func (h *headerPage) deleteRecord(name string) bool {
	i := h.findRecord(name)
	if i < 0 {
		return false
	}
	n := h.recordCount()
	for j := i; j < n-1; j++ {
		copy(h.record(j), h.record(j+1))
	}
	h.setRecordCount(n - 1)
	return true
}
