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
Package index implements StrataDB's concurrent B+-tree: fixed-width keys
mapped to record identifiers, stored in buffer-pool pages and traversed
under latch crabbing.

This file defines the key and value types. Keys are fixed-width byte
strings (4, 8, 16, 32 or 64 bytes) compared by a pluggable Comparator;
values are record identifiers locating a row on a data page.
*/
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"stratadb/internal/storage/disk"
)

// KeyWidths are the supported fixed key sizes in bytes.
var KeyWidths = []int{4, 8, 16, 32, 64}

// ValidKeyWidth reports whether w is a supported key width.
func ValidKeyWidth(w int) bool {
	for _, k := range KeyWidths {
		if k == w {
			return true
		}
	}
	return false
}

// Comparator is a total order on fixed-width keys: negative, zero or
// positive as a sorts before, equal to, or after b.
type Comparator func(a, b []byte) int

// CompareBytes is the default byte-wise comparator.
func CompareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

// NewCollatingComparator orders keys as text under the collation rules of
// the given language. Keys are the zero-padded UTF-8 bytes of the text;
// trailing zero bytes are stripped before collation.
func NewCollatingComparator(tag language.Tag) Comparator {
	c := collate.New(tag)
	return func(a, b []byte) int {
		return c.Compare(bytes.TrimRight(a, "\x00"), bytes.TrimRight(b, "\x00"))
	}
}

// KeyFromInteger encodes v into a width-sized key. The encoding is
// big-endian with the sign bit flipped, so byte-wise comparison of the
// keys matches signed integer order. Width-4 keys hold the low 32 bits
// (order-preserving for values that fit).
func KeyFromInteger(width int, v int64) []byte {
	key := make([]byte, width)
	if width < 8 {
		binary.BigEndian.PutUint32(key[:4], uint32(v)^(1<<31))
		return key
	}
	binary.BigEndian.PutUint64(key[:8], uint64(v)^(1<<63))
	return key
}

// IntegerFromKey decodes a key produced by KeyFromInteger.
func IntegerFromKey(key []byte) int64 {
	if len(key) < 8 {
		return int64(int32(binary.BigEndian.Uint32(key[:4]) ^ (1 << 31)))
	}
	return int64(binary.BigEndian.Uint64(key[:8]) ^ (1 << 63))
}

// RID identifies a record: the data page holding it and the slot within
// that page. It encodes to ridSize bytes.
type RID struct {
	PageID disk.PageID
	Slot   uint32
}

const ridSize = 8

// NewRID builds a record id.
func NewRID(pageID disk.PageID, slot uint32) RID {
	return RID{PageID: pageID, Slot: slot}
}

// RIDFromInteger derives a record id from a 64-bit integer, upper half
// as page id and lower half as slot. The bulk loaders use it to give
// every loaded key a distinct, reconstructible value.
func RIDFromInteger(v int64) RID {
	return RID{PageID: disk.PageID(v >> 32), Slot: uint32(v & 0xFFFFFFFF)}
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot)
}

func encodeRID(buf []byte, r RID) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], r.Slot)
}

func decodeRID(buf []byte) RID {
	return RID{
		PageID: disk.PageID(binary.LittleEndian.Uint32(buf[0:4])),
		Slot:   binary.LittleEndian.Uint32(buf[4:8]),
	}
}
