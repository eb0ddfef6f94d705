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

import (
	"encoding/binary"
	"fmt"

	"github.com/mar-db/mardb/dberr"
	"github.com/mar-db/mardb/value"
)

const (
	slotFileHeaderLen    = 8
	initialSlotCapacity  = 10
	heapOffsetFieldWidth = 5
	payloadLenFieldWidth = 3
)

func slotEntrySize(arity int) int {
	return arity*cordSize + heapOffsetFieldWidth + payloadLenFieldWidth
}

// slotEntry is one parsed directory row.
type slotEntry struct {
	cords  []int64
	offset int64
	length int
}

// SlotFile is the per-table data file: a header, a fixed-size slot
// directory, and a heap of case payloads. It holds the entire file's bytes
// in memory and mutates them with offset arithmetic, matching how
// backend.Store treats files as whole objects rather than seekable streams.
type SlotFile struct {
	raw      []byte
	tableID  uint16
	arity    int
	capacity int
	count    int
	free     *freeList
}

// NewSlotFile creates an empty slot file for tableID with slot_count = 0 and
// a zero-filled directory of initialSlotCapacity entries.
func NewSlotFile(tableID uint16, arity int) *SlotFile {
	f := &SlotFile{
		tableID:  tableID,
		arity:    arity,
		capacity: initialSlotCapacity,
		count:    0,
		free:     newFreeList(),
	}
	dirLen := slotEntrySize(arity) * f.capacity
	f.raw = make([]byte, slotFileHeaderLen+dirLen)
	f.writeHeader()
	return f
}

// LoadSlotFile parses raw (as read whole from a backend.Store) into a
// SlotFile. The free-space tracker always starts empty: it is handle-local,
// best-effort bookkeeping, never persisted to disk.
func LoadSlotFile(raw []byte) (*SlotFile, error) {
	if len(raw) < slotFileHeaderLen {
		return nil, dberr.Wrap(dberr.Malformed, "storage.LoadSlotFile", fmt.Errorf("file shorter than header (%d bytes)", len(raw)))
	}
	f := &SlotFile{
		raw:      raw,
		tableID:  binary.BigEndian.Uint16(raw[0:2]),
		arity:    int(binary.BigEndian.Uint16(raw[2:4])),
		capacity: int(binary.BigEndian.Uint16(raw[4:6])),
		count:    int(binary.BigEndian.Uint16(raw[6:8])),
		free:     newFreeList(),
	}
	dirEnd := slotFileHeaderLen + slotEntrySize(f.arity)*f.capacity
	if len(raw) < dirEnd {
		return nil, dberr.Wrap(dberr.Malformed, "storage.LoadSlotFile", fmt.Errorf("file shorter than declared directory (%d bytes)", dirEnd))
	}
	if f.count > f.capacity {
		return nil, dberr.Wrap(dberr.Malformed, "storage.LoadSlotFile", fmt.Errorf("slot_count %d exceeds slot_capacity %d", f.count, f.capacity))
	}
	return f, nil
}

func (f *SlotFile) writeHeader() {
	binary.BigEndian.PutUint16(f.raw[0:2], f.tableID)
	binary.BigEndian.PutUint16(f.raw[2:4], uint16(f.arity))
	binary.BigEndian.PutUint16(f.raw[4:6], uint16(f.capacity))
	binary.BigEndian.PutUint16(f.raw[6:8], uint16(f.count))
}

// Bytes returns the file's current on-disk representation, ready to hand to
// a backend.Store.
func (f *SlotFile) Bytes() []byte { return f.raw }

func (f *SlotFile) TableID() uint16 { return f.tableID }
func (f *SlotFile) Arity() int      { return f.arity }
func (f *SlotFile) SlotCount() int  { return f.count }

func (f *SlotFile) directoryOffset(i int) int {
	return slotFileHeaderLen + i*slotEntrySize(f.arity)
}

func (f *SlotFile) heapStart() int {
	return slotFileHeaderLen + slotEntrySize(f.arity)*f.capacity
}

func (f *SlotFile) readEntry(i int) slotEntry {
	off := f.directoryOffset(i)
	cords := make([]int64, f.arity)
	for c := 0; c < f.arity; c++ {
		cords[c] = int64(int16(binary.BigEndian.Uint16(f.raw[off+c*cordSize:])))
	}
	base := off + f.arity*cordSize
	heapOff := get40(f.raw[base : base+heapOffsetFieldWidth])
	length := get24(f.raw[base+heapOffsetFieldWidth : base+heapOffsetFieldWidth+payloadLenFieldWidth])
	return slotEntry{cords: cords, offset: int64(heapOff), length: length}
}

func (f *SlotFile) writeEntry(i int, e slotEntry) {
	off := f.directoryOffset(i)
	for c := 0; c < f.arity; c++ {
		binary.BigEndian.PutUint16(f.raw[off+c*cordSize:], uint16(int16(e.cords[c])))
	}
	base := off + f.arity*cordSize
	put40(f.raw[base:base+heapOffsetFieldWidth], uint64(e.offset))
	put24(f.raw[base+heapOffsetFieldWidth:base+heapOffsetFieldWidth+payloadLenFieldWidth], e.length)
}

func put40(dst []byte, v uint64) {
	for i := 0; i < 5; i++ {
		dst[4-i] = byte(v >> (8 * i))
	}
}

func get40(src []byte) uint64 {
	var v uint64
	for i := 0; i < 5; i++ {
		v = v<<8 | uint64(src[i])
	}
	return v
}

func put24(dst []byte, v int) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

func get24(src []byte) int {
	return int(src[0])<<16 | int(src[1])<<8 | int(src[2])
}

func cordsEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// findIndex returns the directory index of the live entry matching cords,
// or -1.
func (f *SlotFile) findIndex(cords []int64) int {
	for i := 0; i < f.count; i++ {
		e := f.readEntry(i)
		if cordsEqual(e.cords, cords) {
			return i
		}
	}
	return -1
}

// Find returns the record at cords, if any.
func (f *SlotFile) Find(cords []int64) (Case, bool, error) {
	i := f.findIndex(cords)
	if i < 0 {
		return Case{}, false, nil
	}
	e := f.readEntry(i)
	if int(e.offset)+e.length > len(f.raw) {
		return Case{}, false, dberr.Wrap(dberr.Malformed, "storage.Find", fmt.Errorf("slot entry %d points past end of file", i))
	}
	c, err := decodeCase(f.raw[e.offset:int(e.offset)+e.length], f.arity)
	if err != nil {
		return Case{}, false, err
	}
	return c, true, nil
}

// ScanAll returns every live record in directory order.
func (f *SlotFile) ScanAll() ([]Case, error) {
	out := make([]Case, 0, f.count)
	for i := 0; i < f.count; i++ {
		e := f.readEntry(i)
		if int(e.offset)+e.length > len(f.raw) {
			return nil, dberr.Wrap(dberr.Malformed, "storage.ScanAll", fmt.Errorf("slot entry %d points past end of file", i))
		}
		c, err := decodeCase(f.raw[e.offset:int(e.offset)+e.length], f.arity)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Insert writes c, overwriting any existing record with the same cords
// (upsert semantics). It returns CapacityExceeded if a new directory entry
// is needed but the directory is full.
func (f *SlotFile) Insert(c Case) error {
	if len(c.Cords) != f.arity {
		return dberr.Wrap(dberr.Malformed, "storage.Insert", fmt.Errorf("cord tuple has %d elements, table arity is %d", len(c.Cords), f.arity))
	}

	encoded, err := encodeCase(c, reservedTrailer)
	if err != nil {
		return err
	}
	needed := len(encoded)

	existing := f.findIndex(c.Cords)

	if existing >= 0 {
		e := f.readEntry(existing)
		if e.length >= needed {
			f.writeAt(e.offset, encoded)
			e.length = needed
			f.writeEntry(existing, e)
			return nil
		}
		// Doesn't fit in place: place elsewhere and free the old region.
		newOffset := f.place(needed)
		f.writeAt(newOffset, encoded)
		f.free.add(e.length, e.offset)
		e.offset = newOffset
		e.length = needed
		f.writeEntry(existing, e)
		return nil
	}

	if f.count >= f.capacity {
		return dberr.Wrap(dberr.CapacityExceeded, "storage.Insert", fmt.Errorf("slot directory full (%d entries)", f.capacity))
	}

	newOffset := f.place(needed)
	f.writeAt(newOffset, encoded)
	f.writeEntry(f.count, slotEntry{cords: c.Cords, offset: newOffset, length: needed})
	f.count++
	f.writeHeader()
	return nil
}

// place returns a heap offset with at least `needed` bytes available after
// it, reusing a free region if one fits (smallest first-fit) or else
// growing the file.
func (f *SlotFile) place(needed int) int64 {
	if offset, _, ok := f.free.takeFit(needed); ok {
		return offset
	}
	offset := int64(len(f.raw))
	return offset
}

// writeAt stores data at offset, extending the file if it runs past the
// current end.
func (f *SlotFile) writeAt(offset int64, data []byte) {
	end := int(offset) + len(data)
	if end > len(f.raw) {
		grown := make([]byte, end)
		copy(grown, f.raw)
		f.raw = grown
	}
	copy(f.raw[offset:end], data)
}

// Defragment builds a fresh slot file containing the same live records with
// no vacated heap regions, by replaying ScanAll through Insert on an empty
// file. The free-space tracker of the returned file starts empty.
func (f *SlotFile) Defragment() (*SlotFile, error) {
	records, err := f.ScanAll()
	if err != nil {
		return nil, err
	}
	fresh := NewSlotFile(f.tableID, f.arity)
	for _, r := range records {
		if err := fresh.Insert(r); err != nil {
			return nil, err
		}
	}
	return fresh, nil
}

// ensurePortableValue is a defensive check used by the engine before
// encoding: non-portable tags should be rejected at the API boundary with a
// clear error rather than surfacing as a codec failure deep in Insert.
func ensurePortableValue(v value.Value) error {
	_, _, err := value.EncodeBody(v)
	if err != nil {
		return err
	}
	return nil
}
