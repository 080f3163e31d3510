// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import "io"

// Component 8 (JPEG) — the JFIF/EXIF envelope pre-positioner (spec.md §6),
// generalized from the teacher's imagedecoder_jpg.go segment loop: that
// decoder walked every JPEG segment looking for APP1/APP13/APPn payloads
// to hand off to per-source decoders. This module only needs the single
// fact the core contract requires: where the TIFF header starts.

// SeekHeaderJPEG positions r at the start of the embedded TIFF header and
// returns, per spec.md §6:
//   - JFIF (`FF D8 FF E0`): skip 30 bytes past the SOI.
//   - EXIF (`FF D8` + any other APP marker): skip 12 bytes past the SOI.
//
// r must be positioned at the start of the file. Fails with
// InvalidJpegHeader if the first two bytes are not the SOI marker 0xFFD8.
func SeekHeaderJPEG(r io.ReadSeeker) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return newIOError(err)
	}

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return newIOError(err)
	}

	soi := uint16(head[0])<<8 | uint16(head[1])
	if soi != 0xFFD8 {
		return newInvalidJpegHeaderError(soi)
	}

	marker := uint16(head[2])<<8 | uint16(head[3])

	var skip int64
	switch marker {
	case 0xFFE0:
		// JFIF: SOI + APP0 marker + a 16-byte APP0 segment ("JFIF\0",
		// version, density, thumbnail size) = 20 bytes, then APP1 marker +
		// length + "Exif\0\0" = 30 bytes total from the start of the file.
		skip = 30
	default:
		// EXIF (or any other APPn carrying a TIFF payload): SOI + APP1
		// marker + length + "Exif\0\0" = 12 bytes total.
		skip = 12
	}

	if _, err := r.Seek(skip, io.SeekStart); err != nil {
		return newIOError(err)
	}
	return nil
}
