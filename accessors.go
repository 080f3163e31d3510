// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Component 7 — typed accessors (spec.md §4.7). All accessors are
// infallible at the type level: they return the zero value / empty slice
// when Payload is absent and the accessor requires it, rather than an
// error, matching spec.md's "infallible at the type level" rule.

// U16 decodes the first 2 inline bytes as a u16.
func (it IFDItem) U16() uint16 {
	return it.ByteOrder.Uint16(it.Inline[:2])
}

// U32 decodes the 4 inline bytes as a u32.
func (it IFDItem) U32() uint32 {
	return it.ByteOrder.Uint32(it.Inline[:4])
}

// Raw returns Payload if present, else the 4 inline bytes.
func (it IFDItem) Raw() []byte {
	if it.Payload != nil {
		return it.Payload
	}
	return it.Inline[:]
}

// Size returns the Count field, decoded as a u32 (the element count, not
// a byte length).
func (it IFDItem) Size() uint32 { return it.Count }

// windows1252Decoder is shared across Str calls the way the teacher shares
// one charmap decoder per IPTC decoder instance (metadecoder_iptc.go);
// charmap decoders hold no mutable state worth pooling per-call here, so
// a single package-level instance is safe to reuse.
var windows1252Decoder = charmap.Windows1252.NewDecoder()

// Str decodes Payload as a string, dropping one trailing NUL if present.
// EXIF strings are nominally ASCII; when Payload contains bytes outside
// valid UTF-8 and Charset is CharsetWindows1252, it is redecoded via
// golang.org/x/text the way the teacher's IPTC decoder upgrades its own
// legacy 8-bit fields (metadecoder_iptc.go) — the string-decoding upgrade
// spec.md §9 invites. Otherwise the raw bytes are kept verbatim.
func (it IFDItem) Str() string {
	if it.Payload == nil {
		return ""
	}
	b := it.Payload
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	if it.Charset == CharsetWindows1252 && !utf8.Valid(b) {
		if decoded, err := windows1252Decoder.Bytes(b); err == nil {
			return string(decoded)
		}
	}
	return string(b)
}

// U16s decodes Payload as repeated u16 values.
func (it IFDItem) U16s() []uint16 {
	if it.Payload == nil {
		return nil
	}
	n := len(it.Payload) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = it.ByteOrder.Uint16(it.Payload[i*2:])
	}
	return out
}

// U32s decodes Payload as repeated u32 values.
func (it IFDItem) U32s() []uint32 {
	if it.Payload == nil {
		return nil
	}
	n := len(it.Payload) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = it.ByteOrder.Uint32(it.Payload[i*4:])
	}
	return out
}

// R64s decodes Payload as repeated (i32 numerator, u32 denominator) pairs,
// each yielding a double (spec.md §4.1's r64, applied per element).
func (it IFDItem) R64s() []float64 {
	if it.Payload == nil {
		return nil
	}
	n := len(it.Payload) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := readR64(it.Payload, i*8, it.ByteOrder)
		if err != nil {
			continue
		}
		out[i] = v
	}
	return out
}
