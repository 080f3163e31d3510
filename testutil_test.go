// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"encoding/binary"
	"io"
)

// zeroPrefixReader is an io.ReadSeeker that reads as `zeros` zero bytes
// followed by tail, without actually allocating the zero run — used by
// tests that exercise a pre-positioner's large fixed offsets (CR3's
// 0x1A00002 byte skip) without materializing megabytes of padding.
type zeroPrefixReader struct {
	zeros int64
	tail  []byte
	pos   int64
}

func (z *zeroPrefixReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = z.pos + offset
	case io.SeekEnd:
		abs = z.zeros + int64(len(z.tail)) + offset
	}
	z.pos = abs
	return abs, nil
}

func (z *zeroPrefixReader) Read(p []byte) (int, error) {
	if z.pos < z.zeros {
		n := int64(len(p))
		if z.pos+n > z.zeros {
			n = z.zeros - z.pos
		}
		for i := int64(0); i < n; i++ {
			p[i] = 0
		}
		z.pos += n
		return int(n), nil
	}
	idx := z.pos - z.zeros
	if idx >= int64(len(z.tail)) {
		return 0, io.EOF
	}
	n := copy(p, z.tail[idx:])
	z.pos += int64(n)
	return n, nil
}

// entrySpec describes one IFD entry for buildIFD: either an inline value
// (Payload nil) or an out-of-line one, whose bytes are appended after the
// IFD itself and whose offset is patched into the value field.
type entrySpec struct {
	tag     uint16
	typ     Type
	count   uint32
	inline  [4]byte
	payload []byte
}

func appendU16(b []byte, order binary.ByteOrder, v uint16) []byte {
	var buf [2]byte
	order.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendU32(b []byte, order binary.ByteOrder, v uint32) []byte {
	var buf [4]byte
	order.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

// buildIFD assembles one on-disk IFD: a 2-byte count, 12 bytes per entry,
// a 4-byte next-IFD pointer, and any out-of-line payloads appended right
// after. selfOffset is the absolute file offset this IFD's first byte
// (the count) will occupy once embedded in a larger stream — needed to
// compute correct out-of-line payload offsets.
func buildIFD(order binary.ByteOrder, selfOffset int, next uint32, entries []entrySpec) []byte {
	headerLen := 2 + 12*len(entries) + 4
	var out []byte
	out = appendU16(out, order, uint16(len(entries)))

	var payloads []byte
	for _, e := range entries {
		valueField := e.inline
		if e.payload != nil {
			off := uint32(selfOffset + headerLen + len(payloads))
			valueField = toBytes4(off, order)
			payloads = append(payloads, e.payload...)
		}
		out = appendU16(out, order, e.tag)
		out = appendU16(out, order, uint16(e.typ))
		out = appendU32(out, order, e.count)
		out = append(out, valueField[:]...)
	}
	out = appendU32(out, order, next)
	out = append(out, payloads...)
	return out
}

// buildTIFFFile wraps ifd0 (built with selfOffset 8) in a minimal TIFF
// header: byte-order marker, magic 42, and a fixed IFD0 offset of 8.
func buildTIFFFile(order binary.ByteOrder, ifd0 []byte) []byte {
	var header []byte
	if order == binary.LittleEndian {
		header = append(header, 'I', 'I')
	} else {
		header = append(header, 'M', 'M')
	}
	header = appendU16(header, order, tiffMagic42)
	header = appendU32(header, order, 8)
	return append(header, ifd0...)
}
