/*
Copyright (C) 2023  Carl-Philip Hänsch

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

// Package value implements the typed payload codec that cases carry on disk:
// every value is a single type byte followed by a length-prefixed body. The
// tag space below is fixed and must never be renumbered - it is the on-disk
// contract - even for tags this package refuses to encode or decode.
package value

// Tag identifies the wire type of a Value. The numbering mirrors the source
// database's byte-to-type table one for one, including the gaps where a tag
// is reserved for a non-portable runtime type.
type Tag byte

const (
	TagString     Tag = 0x01
	TagInt        Tag = 0x02
	TagFloat      Tag = 0x03
	TagBool       Tag = 0x04
	TagMap        Tag = 0x05
	TagList       Tag = 0x06
	TagTuple      Tag = 0x07
	TagSet        Tag = 0x08
	TagFrozenSet  Tag = 0x09
	TagBytes      Tag = 0x0A
	TagByteBuffer Tag = 0x0B
	TagComplex    Tag = 0x0C
	TagNull       Tag = 0x0D
	TagDeque      Tag = 0x0E
	TagDefaultMap Tag = 0x0F
	TagOrderedMap Tag = 0x10
	TagCounter    Tag = 0x11
	TagChainMap   Tag = 0x12
	TagTypedArray Tag = 0x13
	TagDate       Tag = 0x14
	TagDateTime   Tag = 0x15
	TagTime       Tag = 0x16
	TagDuration   Tag = 0x17
	TagDecimal    Tag = 0x18
	TagUUID       Tag = 0x19
	TagRegex      Tag = 0x1A // non-portable: compiled regex object
	TagRegexMatch Tag = 0x1B // non-portable: regex match object
	TagStringIO   Tag = 0x1C // non-portable: live text stream buffer
	TagBytesIO    Tag = 0x1D // non-portable: live byte stream buffer
	TagPath       Tag = 0x1E
	TagEnum       Tag = 0x1F
	TagFlag       Tag = 0x20
	TagRational   Tag = 0x21
	TagMemoryView Tag = 0x22 // non-portable: memoryview object
	TagWeakRef    Tag = 0x23 // non-portable: weak reference
	TagWeakProxy  Tag = 0x24 // non-portable: weak proxy
	TagFunction   Tag = 0x25 // non-portable: live function object
	TagGenerator  Tag = 0x26 // non-portable: live generator object
	TagCoroutine  Tag = 0x27 // non-portable: live coroutine object
	TagModule     Tag = 0x28 // non-portable: module reference
)

// portable reports whether tag has a defined, bit-compatible encode/decode
// implementation in this package. The non-portable tags stay reserved so
// that portable data written by any implementation of this format remains
// byte-compatible, but this package never produces or consumes their bodies.
func (t Tag) portable() bool {
	switch t {
	case TagRegex, TagRegexMatch, TagStringIO, TagBytesIO,
		TagMemoryView, TagWeakRef, TagWeakProxy,
		TagFunction, TagGenerator, TagCoroutine, TagModule:
		return false
	default:
		return true
	}
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "unknown"
}

var tagNames = map[Tag]string{
	TagString: "string", TagInt: "int", TagFloat: "float", TagBool: "bool",
	TagMap: "map", TagList: "list", TagTuple: "tuple", TagSet: "set",
	TagFrozenSet: "frozenset", TagBytes: "bytes", TagByteBuffer: "bytebuffer",
	TagComplex: "complex", TagNull: "null", TagDeque: "deque",
	TagDefaultMap: "defaultmap", TagOrderedMap: "orderedmap", TagCounter: "counter",
	TagChainMap: "chainmap", TagTypedArray: "typedarray", TagDate: "date",
	TagDateTime: "datetime", TagTime: "time", TagDuration: "duration",
	TagDecimal: "decimal", TagUUID: "uuid", TagRegex: "regex",
	TagRegexMatch: "regexmatch", TagStringIO: "stringio", TagBytesIO: "bytesio",
	TagPath: "path", TagEnum: "enum", TagFlag: "flag", TagRational: "rational",
	TagMemoryView: "memoryview", TagWeakRef: "weakref", TagWeakProxy: "weakproxy",
	TagFunction: "function", TagGenerator: "generator", TagCoroutine: "coroutine",
	TagModule: "module",
}
