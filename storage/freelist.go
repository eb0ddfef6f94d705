/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import "github.com/google/btree"

// freeRegion is one vacated heap region, ordered by size so the tree gives
// us smallest-first iteration for a first-fit search.
type freeRegion struct {
	size   int
	offset int64
}

func (a freeRegion) Less(than btree.Item) bool {
	b := than.(freeRegion)
	if a.size != b.size {
		return a.size < b.size
	}
	return a.offset < b.offset
}

// freeList tracks heap regions vacated by upsert-with-growth, scoped to one
// open SlotFile handle. It is best-effort, in-memory only, and reset on
// Load and on Defragment - the spec explicitly calls this out as
// unpersisted, process/handle-local bookkeeping rather than durable state.
type freeList struct {
	tree *btree.BTree
}

func newFreeList() *freeList {
	return &freeList{tree: btree.New(32)}
}

// add records that a region of the given size starting at offset is no
// longer referenced by any live slot entry.
func (f *freeList) add(size int, offset int64) {
	if size <= 0 {
		return
	}
	f.tree.ReplaceOrInsert(freeRegion{size: size, offset: offset})
}

// takeFit removes and returns the smallest region whose size is >= need,
// per the corrected first-fit rule documented in §4.2.1: size >= needed, not
// size > needed.
func (f *freeList) takeFit(need int) (int64, int, bool) {
	var found *freeRegion
	f.tree.AscendGreaterOrEqual(freeRegion{size: need, offset: -1}, func(item btree.Item) bool {
		r := item.(freeRegion)
		found = &r
		return false
	})
	if found == nil {
		return 0, 0, false
	}
	f.tree.Delete(*found)
	return found.offset, found.size, true
}

func (f *freeList) reset() {
	f.tree.Clear(false)
}
