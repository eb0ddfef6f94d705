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
	"math"

	"github.com/mar-db/mardb/dberr"
	"github.com/mar-db/mardb/value"
)

// caseMarker opens every case record on disk.
const caseMarker = 0xF8

// cordSize is the fixed on-disk width of one coordinate: a 2-byte signed
// big-endian integer, per the slot directory's cord range invariant.
const cordSize = 2

const minCord = math.MinInt16
const maxCord = math.MaxInt16

// reservedTrailer is the default padding appended after a case's value
// bytes, left zero-filled so a later upsert can grow in place.
const reservedTrailer = 10

// A Case is one coordinate tuple and its payload, the unit a table stores.
// Cords holds exactly the table's arity int16-range values.
type Case struct {
	Cords []int64
	Val   value.Value
}

// encodeCase writes marker | cord_block | value_byte | value_length(3, BE) |
// value_bytes | 0x00 * reserved into a single buffer.
func encodeCase(c Case, reserved int) ([]byte, error) {
	for _, cord := range c.Cords {
		if cord < minCord || cord > maxCord {
			return nil, dberr.Wrap(dberr.Malformed, "storage.encodeCase", fmt.Errorf("cord %d out of range [%d, %d]", cord, minCord, maxCord))
		}
	}

	cordBlock := make([]byte, len(c.Cords)*cordSize)
	for i, cord := range c.Cords {
		binary.BigEndian.PutUint16(cordBlock[i*cordSize:], uint16(int16(cord)))
	}

	valEnc, err := value.EncodeWithLenWidth(c.Val, 3)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(cordBlock)+len(valEnc)+reserved)
	out = append(out, caseMarker)
	out = append(out, cordBlock...)
	out = append(out, valEnc...)
	out = append(out, make([]byte, reserved)...)
	return out, nil
}

// decodeCase is the inverse of encodeCase. data must hold exactly one case's
// bytes, optionally followed by reserved zero padding; decodeCase stops
// reading once the value body ends and ignores any trailer.
func decodeCase(data []byte, arity int) (Case, error) {
	if len(data) < 1 {
		return Case{}, dberr.Wrap(dberr.Malformed, "storage.decodeCase", fmt.Errorf("empty slot"))
	}
	pos := 0
	if data[0] == caseMarker {
		pos = 1
	}
	cordBlockLen := arity * cordSize
	if pos+cordBlockLen > len(data) {
		return Case{}, dberr.Wrap(dberr.Malformed, "storage.decodeCase", fmt.Errorf("cord block runs past slot"))
	}
	cords := make([]int64, arity)
	for i := 0; i < arity; i++ {
		cords[i] = int64(int16(binary.BigEndian.Uint16(data[pos+i*cordSize:])))
	}
	pos += cordBlockLen

	v, _, err := value.DecodeWithLenWidth(data[pos:], 3)
	if err != nil {
		return Case{}, err
	}
	return Case{Cords: cords, Val: v}, nil
}

// caseByteLen returns the number of bytes encodeCase(c, reserved) would
// produce, without actually building the value body twice.
func caseByteLen(valEncLen int, arity int, reserved int) int {
	return 1 + arity*cordSize + valEncLen + reserved
}

// reservedZeros counts the trailing 0x00 padding bytes after a value ends.
func reservedZeros(data []byte, arity int) (int, error) {
	pos := 0
	if len(data) > 0 && data[0] == caseMarker {
		pos = 1
	}
	headerLen := pos + arity*cordSize + 1 + 3
	if len(data) < headerLen {
		return 0, dberr.Wrap(dberr.Malformed, "storage.reservedZeros", fmt.Errorf("slot too short to hold a case header"))
	}
	lenPos := pos + arity*cordSize + 1
	n := int(data[lenPos])<<16 | int(data[lenPos+1])<<8 | int(data[lenPos+2])
	bodyEnd := lenPos + 3 + n
	if bodyEnd > len(data) {
		return 0, dberr.Wrap(dberr.Malformed, "storage.reservedZeros", fmt.Errorf("value body runs past slot"))
	}
	zeros := 0
	for bodyEnd+zeros < len(data) && data[bodyEnd+zeros] == 0 {
		zeros++
	}
	return zeros, nil
}
