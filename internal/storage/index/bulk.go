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
	"bufio"
	"fmt"
	"os"
	"strconv"

	"stratadb/internal/storage/disk"
)

// InsertFromFile loads whitespace-separated 64-bit integers from path,
// inserting each as a key with a record id derived from the same value
// (upper half page id, lower half slot).
func (t *BPlusTree) InsertFromFile(path string) error {
	return t.scanIntegers(path, func(v int64) error {
		_, err := t.Insert(KeyFromInteger(t.keySize, v), RIDFromInteger(v))
		return err
	})
}

// RemoveFromFile removes every whitespace-separated 64-bit integer key
// listed in path.
func (t *BPlusTree) RemoveFromFile(path string) error {
	return t.scanIntegers(path, func(v int64) error {
		_, err := t.Remove(KeyFromInteger(t.keySize, v))
		return err
	})
}

func (t *BPlusTree) scanIntegers(path string, fn func(int64) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		v, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			return fmt.Errorf("index %q: bad integer %q in %s: %w", t.name, scanner.Text(), path, err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Print logs every page breadth-first: id, size and kind. A debugging
// aid; it takes no latches, so run it quiesced.
func (t *BPlusTree) Print() {
	root := t.RootPageID()
	if root == disk.InvalidPageID {
		t.log.Info("empty tree", "index", t.name)
		return
	}
	queue := []disk.PageID{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		page, err := t.pool.FetchPage(id)
		if err != nil {
			t.log.Error("print fetch failed", "page", id, "error", err)
			return
		}
		tp := asTreePage(page, t.keySize)
		kind := "internal"
		if tp.isLeaf() {
			kind = "leaf"
		} else {
			node := tp.asInternal()
			for i := 0; i < node.size(); i++ {
				queue = append(queue, node.valueAt(i))
			}
		}
		t.log.Info("page", "id", id, "size", tp.size(), "kind", kind)
		t.pool.UnpinPage(id, false)
	}
}

// Draw writes a DOT graph of the tree to path. Currently a placeholder
// digraph so downstream tooling has a stable file to consume.
func (t *BPlusTree) Draw(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "digraph %s {\n", t.name)
	fmt.Fprintf(w, "}\n")
	return w.Flush()
}
