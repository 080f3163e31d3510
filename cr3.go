// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"bytes"
	"io"
)

// Component 8 (CR3) — the ISO/BMFF box pre-positioner (spec.md §6),
// grounded on original_source/examples/cr3.rs: the reference driver seeks
// parts 0/1/2/4 of a CR3 file to read IFD0, a secondary image IFD, battery
// info, and color data respectively, parts 0-2 from the CMTx boxes and
// part 4 from the offset-marker scan below. This module matches the literal four-byte-tag scan the original
// performs rather than a real ISO/BMFF box parser, since spec.md §6
// pins that exact (non-conformant but sufficient) strategy.

var cr3BoxTags = [][4]byte{
	{'C', 'M', 'T', '1'},
	{'C', 'M', 'T', '2'},
	{'C', 'M', 'T', '3'},
}

const cr3Part3Offset = 0x1A00002

var cr3OffsetMarker = [4]byte{0x7C, 0x92, 0x00, 0x00}

// SeekHeaderCR3 positions r at the start of the TIFF header selected by
// part, per spec.md §6:
//   - part 0, 1, 2: scan for the literal ASCII tag `CMT1`, `CMT2`, `CMT3`
//     and position just after the matched tag.
//   - part 3, 4: seek to offset 0x1A00002 and count occurrences of the
//     4-byte sequence `7C 92 00 00`, positioning just after the 1st and
//     2nd respectively.
//
// Fails with PartNotDefined for part outside 0..4.
func SeekHeaderCR3(r io.ReadSeeker, part int) error {
	switch {
	case part >= 0 && part <= 2:
		return seekCR3Box(r, cr3BoxTags[part])
	case part == 3 || part == 4:
		return seekCR3OffsetMarker(r, part-3+1)
	default:
		return newPartNotDefinedError(part)
	}
}

func seekCR3Box(r io.ReadSeeker, tag [4]byte) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return newIOError(err)
	}

	const chunk = 4096
	window := make([]byte, 0, chunk+3)
	buf := make([]byte, chunk)

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			window = append(window, buf[:n]...)
			if idx := bytes.Index(window, tag[:]); idx >= 0 {
				// Position the stream at the first byte after the tag.
				// window may extend past the match by bytes already
				// consumed from r, so seek relative to the match's
				// distance from the end of window.
				trailing := int64(len(window) - idx - len(tag))
				if _, err := r.Seek(-trailing, io.SeekCurrent); err != nil {
					return newIOError(err)
				}
				return nil
			}
			if len(window) > len(tag)-1 {
				window = window[len(window)-(len(tag)-1):]
			}
		}
		if rerr == io.EOF {
			return newScanFailedError(tag[:])
		}
		if rerr != nil {
			return newIOError(rerr)
		}
	}
}

func seekCR3OffsetMarker(r io.ReadSeeker, occurrence int) error {
	if _, err := r.Seek(cr3Part3Offset, io.SeekStart); err != nil {
		return newIOError(err)
	}

	const chunk = 4096
	window := make([]byte, 0, chunk+3)
	buf := make([]byte, chunk)
	seen := 0

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			window = append(window, buf[:n]...)
			for {
				idx := bytes.Index(window, cr3OffsetMarker[:])
				if idx < 0 {
					break
				}
				seen++
				if seen == occurrence {
					trailing := int64(len(window) - idx - len(cr3OffsetMarker))
					if _, err := r.Seek(-trailing, io.SeekCurrent); err != nil {
						return newIOError(err)
					}
					return nil
				}
				window = window[idx+len(cr3OffsetMarker):]
			}
			if len(window) > len(cr3OffsetMarker)-1 {
				window = window[len(window)-(len(cr3OffsetMarker)-1):]
			}
		}
		if rerr == io.EOF {
			return newScanFailedError(cr3OffsetMarker[:])
		}
		if rerr != nil {
			return newIOError(rerr)
		}
	}
}
