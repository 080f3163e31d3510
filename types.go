// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import "encoding/binary"

// Type is a TIFF/EXIF IFD entry type code (spec.md §3).
type Type uint16

const (
	TypeByte      Type = 1
	TypeASCII     Type = 2
	TypeShort     Type = 3
	TypeLong      Type = 4
	TypeRational  Type = 5
	TypeSByte     Type = 6
	TypeUndefined Type = 7
	TypeSShort    Type = 8
	TypeSLong     Type = 9
	TypeSRational Type = 10
	TypeFloat     Type = 11
	TypeDouble    Type = 12
	TypeIFD       Type = 13
)

// typeSize is the on-disk size in bytes of a single value of the given type.
// Unknown types report 0, so the walker computes a total size of 0 for such
// an entry and takes its value field as inline.
var typeSize = [...]uint32{
	0, // no type 0
	1, // TypeByte
	1, // TypeASCII
	2, // TypeShort
	4, // TypeLong
	8, // TypeRational
	1, // TypeSByte
	1, // TypeUndefined
	2, // TypeSShort
	4, // TypeSLong
	8, // TypeSRational
	4, // TypeFloat
	8, // TypeDouble
	4, // TypeIFD
}

// elementSize returns the size in bytes of one value of type t, or 0 if t is unknown.
func elementSize(t Type) uint32 {
	if int(t) < 0 || int(t) >= len(typeSize) {
		return 0
	}
	return typeSize[t]
}

// IFDEntry is the decoded form of a 12-byte on-disk IFD entry, before the
// walker has resolved whether the value field is inline or an offset.
type IFDEntry struct {
	Tag        uint16
	Type       Type
	Count      uint32
	ValueField [4]byte
}

// total returns count * element-size(type), the byte length of the
// entry's full value. A count that would overflow a reasonable file is
// rejected by the caller before this is used to size a read.
func (e IFDEntry) total() uint64 {
	return uint64(e.Count) * uint64(elementSize(e.Type))
}

// IFDItem is a decoded IFD entry captured into a ResultStore (spec.md §3).
//
// Invariant: Payload is non-nil iff the on-disk entry used out-of-line
// storage (total > 4) or Type is ASCII, except that a zero-length value and
// a value larger than the walker's size limit (Options.LimitTagSize) both
// leave Payload nil. Payload, when present, is either a
// fresh copy read from the source or a slice into an owned decrypted
// buffer (§4.5) — it is never a window into caller-owned memory.
type IFDItem struct {
	ByteOrder binary.ByteOrder
	Tag       uint16
	Type      Type
	Count     uint32
	Inline    [4]byte
	Payload   []byte

	// Charset selects the decoding applied by Str when Payload contains
	// bytes outside of valid UTF-8. Zero value is CharsetUTF8.
	Charset Charset
}

// Charset selects how the Str accessor decodes a byte payload that isn't
// already clean UTF-8/ASCII.
type Charset int

const (
	// CharsetUTF8 makes Str treat invalid non-ASCII bytes as opaque: the
	// accessor keeps them unmodified (spec.md §9 default string decoding).
	CharsetUTF8 Charset = iota
	// CharsetWindows1252 decodes payload bytes as Windows-1252, the
	// upgrade path spec.md §9 invites for files that embed legacy 8-bit
	// encodings instead of ASCII/UTF-8.
	CharsetWindows1252
)

// toBytes4 encodes v in the given byte order as a 4-byte array, the shape
// of an IFD entry's inline value field.
func toBytes4(v uint32, order binary.ByteOrder) [4]byte {
	var b [4]byte
	order.PutUint32(b[:], v)
	return b
}
