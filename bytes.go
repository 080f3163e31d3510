// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"encoding/binary"
	"math"
)

// Component 1 — byte primitives (spec.md §4.1).
//
// These operate on an in-memory slice at a given offset and never touch a
// Cursor; out-of-bounds reads fail with KindBounds rather than KindIO,
// matching the distinction spec.md §4.1/§4.2 draws between a byte-primitive
// read and a cursor read.

func readU16(b []byte, offset int, order binary.ByteOrder) (uint16, error) {
	if offset < 0 || offset+2 > len(b) {
		return 0, newBoundsError(offset, 2, len(b)-offset)
	}
	return order.Uint16(b[offset : offset+2]), nil
}

func readU32(b []byte, offset int, order binary.ByteOrder) (uint32, error) {
	if offset < 0 || offset+4 > len(b) {
		return 0, newBoundsError(offset, 4, len(b)-offset)
	}
	return order.Uint32(b[offset : offset+4]), nil
}

func readI32(b []byte, offset int, order binary.ByteOrder) (int32, error) {
	v, err := readU32(b, offset, order)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// readR64 reads a signed 32-bit numerator followed by an unsigned 32-bit
// denominator and returns numerator/denominator as a double. A zero
// denominator yields a non-finite value (+Inf/-Inf/NaN for a zero
// numerator), surfaced to the caller rather than treated as an error —
// spec.md §4.1.
func readR64(b []byte, offset int, order binary.ByteOrder) (float64, error) {
	num, err := readI32(b, offset, order)
	if err != nil {
		return 0, err
	}
	den, err := readU32(b, offset+4, order)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		switch {
		case num > 0:
			return math.Inf(1), nil
		case num < 0:
			return math.Inf(-1), nil
		default:
			return math.NaN(), nil
		}
	}
	return float64(num) / float64(den), nil
}

// toBytes encodes n in the given byte order, the inverse of readU32.
func toBytes(n uint32, order binary.ByteOrder) []byte {
	b := make([]byte, 4)
	order.PutUint32(b, n)
	return b
}
