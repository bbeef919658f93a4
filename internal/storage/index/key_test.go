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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"stratadb/internal/storage/disk"
)

// Byte-wise comparison of encoded keys must match signed integer order,
// negatives included.
func TestKeyFromIntegerOrdering(t *testing.T) {
	values := []int64{-1 << 40, -5, -1, 0, 1, 5, 1 << 40}
	for _, width := range []int{8, 16, 32, 64} {
		for i := 1; i < len(values); i++ {
			a := KeyFromInteger(width, values[i-1])
			b := KeyFromInteger(width, values[i])
			assert.Negativef(t, CompareBytes(a, b), "width %d: %d vs %d", width, values[i-1], values[i])
			assert.Equal(t, values[i], IntegerFromKey(b))
		}
	}

	// Width 4 holds 32-bit values.
	a := KeyFromInteger(4, -3)
	b := KeyFromInteger(4, 3)
	assert.Negative(t, CompareBytes(a, b))
	assert.Equal(t, int64(-3), IntegerFromKey(a))
	assert.Len(t, a, 4)
}

func TestCollatingComparator(t *testing.T) {
	cmp := NewCollatingComparator(language.English)

	pad := func(s string) []byte {
		key := make([]byte, 16)
		copy(key, s)
		return key
	}
	assert.Negative(t, cmp(pad("apple"), pad("banana")))
	assert.Positive(t, cmp(pad("pear"), pad("apple")))
	assert.Zero(t, cmp(pad("kiwi"), pad("kiwi")))
	// Case folds ahead of byte order: "a" < "B" under collation, unlike
	// byte-wise comparison.
	assert.Negative(t, cmp(pad("a"), pad("B")))
}

func TestRIDEncoding(t *testing.T) {
	rid := NewRID(77, 12345)
	buf := make([]byte, ridSize)
	encodeRID(buf, rid)
	assert.Equal(t, rid, decodeRID(buf))

	derived := RIDFromInteger(0x00000007_0000002A)
	assert.Equal(t, disk.PageID(7), derived.PageID)
	assert.Equal(t, uint32(42), derived.Slot)
	assert.Equal(t, "(7,42)", derived.String())
}

func TestValidKeyWidth(t *testing.T) {
	for _, w := range KeyWidths {
		assert.True(t, ValidKeyWidth(w))
	}
	assert.False(t, ValidKeyWidth(0))
	assert.False(t, ValidKeyWidth(7))
	require.Equal(t, []int{4, 8, 16, 32, 64}, KeyWidths)
}
