// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"bytes"
	"io"
)

// Component 8 (RAF) — the Fuji RAF header pre-positioner (spec.md §6),
// grounded on original_source/examples/raf.rs: part 0 reads the camera's
// own IFD0/IFD1 pair directly after a fixed skip, part 1 reads a second,
// independent TIFF structure (Fuji's "CFA header") reached after a
// different fixed skip plus a forward scan for the TIFF magic.
var rafMagicLE = [4]byte{'I', 'I', 0x2A, 0x00}

const (
	rafPart0Skip = 148
	rafPart1Skip = 164
)

// SeekHeaderRAF positions r at the start of the TIFF header selected by
// part, per spec.md §6:
//   - part 0: skip 148 bytes.
//   - part 1: skip 164 bytes, then scan forward for the TIFF magic
//     `49 49 2A 00` and rewind 4 bytes to land on it.
//
// Fails with PartNotDefined for part outside 0..1.
func SeekHeaderRAF(r io.ReadSeeker, part int) error {
	switch part {
	case 0:
		if _, err := r.Seek(rafPart0Skip, io.SeekStart); err != nil {
			return newIOError(err)
		}
		return nil
	case 1:
		if _, err := r.Seek(rafPart1Skip, io.SeekStart); err != nil {
			return newIOError(err)
		}
		return scanForRAFMagic(r)
	default:
		return newPartNotDefinedError(part)
	}
}

func scanForRAFMagic(r io.ReadSeeker) error {
	const chunk = 4096
	window := make([]byte, 0, chunk+3)
	buf := make([]byte, chunk)

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			window = append(window, buf[:n]...)
			if idx := bytes.Index(window, rafMagicLE[:]); idx >= 0 {
				trailing := int64(len(window) - idx)
				if _, err := r.Seek(-trailing, io.SeekCurrent); err != nil {
					return newIOError(err)
				}
				return nil
			}
			if len(window) > len(rafMagicLE)-1 {
				window = window[len(window)-(len(rafMagicLE)-1):]
			}
		}
		if rerr == io.EOF {
			return newScanFailedError(rafMagicLE[:])
		}
		if rerr != nil {
			return newIOError(rerr)
		}
	}
}
