// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/selexif/selexif"
)

// crossEntrySpec/crossBuildIFD/wrapJPEGExif build a minimal real JPEG with
// an APP1 Exif segment, so this module's own walk can be checked against
// github.com/rwcarlsen/goexif/exif as an independent reference decoder —
// the same role the teacher's benchmarks give that dependency
// (imagemeta_test.go), carried forward here as a correctness cross-check
// per SPEC_FULL.md's domain stack wiring for it.

type crossEntrySpec struct {
	tag     uint16
	typ     selexif.Type
	count   uint32
	inline  uint32
	payload []byte
}

func crossBuildIFD(order binary.ByteOrder, selfOffset int, entries []crossEntrySpec) []byte {
	headerLen := 2 + 12*len(entries) + 4
	var out []byte
	out = appendU16(out, order, uint16(len(entries)))

	var payloads []byte
	for _, e := range entries {
		var valueField [4]byte
		if e.payload != nil {
			off := uint32(selfOffset + headerLen + len(payloads))
			order.PutUint32(valueField[:], off)
			payloads = append(payloads, e.payload...)
		} else {
			order.PutUint32(valueField[:], e.inline)
		}
		out = appendU16(out, order, e.tag)
		out = appendU16(out, order, uint16(e.typ))
		out = appendU32(out, order, e.count)
		out = append(out, valueField[:]...)
	}
	out = appendU32(out, order, 0)
	out = append(out, payloads...)
	return out
}

// wrapJPEGExif wraps tiffBytes (a full TIFF header + IFD0 stream) in a
// minimal JPEG: SOI, an APP1 "Exif\0\0" segment carrying tiffBytes, and an
// EOI. This is the on-disk shape both SeekHeaderJPEG and goexif's
// newAppSec/exifReader expect.
func wrapJPEGExif(tiffBytes []byte) []byte {
	var app1 []byte
	app1 = append(app1, 'E', 'x', 'i', 'f', 0, 0)
	app1 = append(app1, tiffBytes...)

	segLen := len(app1) + 2 // length field counts itself
	var out []byte
	out = append(out, 0xFF, 0xD8) // SOI
	out = append(out, 0xFF, 0xE1) // APP1
	out = appendU16(out, binary.BigEndian, uint16(segLen))
	out = append(out, app1...)
	out = append(out, 0xFF, 0xD9) // EOI
	return out
}

func TestCrossCheckAgainstGoexif(t *testing.T) {
	c := qt.New(t)

	order := binary.LittleEndian
	ifd0 := crossBuildIFD(order, 8, []crossEntrySpec{
		{tag: 0x010F, typ: selexif.TypeASCII, count: 6, payload: []byte("Canon\x00")},
		{tag: 0x0110, typ: selexif.TypeASCII, count: 7, payload: []byte("EOS R5\x00")},
	})
	file := buildTIFFFile(order, ifd0)
	jpegBytes := wrapJPEGExif(file)

	// This module's own walk, driven by the JPEG pre-positioner.
	r := bytes.NewReader(jpegBytes)
	c.Assert(selexif.SeekHeaderJPEG(r), qt.IsNil)
	result, err := selexif.Parse(selexif.Options{
		R: r,
		Paths: []selexif.PathDecl{
			{Path: selexif.RootPath(0), Tags: []selexif.TagRef{
				{Tag: 0x010F, Name: "Make"},
				{Tag: 0x0110, Name: "Model"},
			}},
		},
	})
	c.Assert(err, qt.IsNil)

	makeItem, ok := result.Store.Get(0, 0x010F)
	c.Assert(ok, qt.IsTrue)
	modelItem, ok := result.Store.Get(0, 0x0110)
	c.Assert(ok, qt.IsTrue)

	// goexif's independent decode of the very same bytes.
	x, err := exif.Decode(bytes.NewReader(jpegBytes))
	c.Assert(err, qt.IsNil)

	wantMake, err := x.Get(exif.Make)
	c.Assert(err, qt.IsNil)
	wantModel, err := x.Get(exif.Model)
	c.Assert(err, qt.IsNil)

	// goexif's StringVal keeps the raw ASCII bytes (including any trailing
	// NUL padding); this module's Str() drops one trailing NUL, so both
	// are trimmed to the common substance before comparing.
	trim := func(s string) string {
		for len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return s
	}

	c.Assert(makeItem.Str(), qt.Equals, trim(wantMake.StringVal()))
	c.Assert(modelItem.Str(), qt.Equals, trim(wantModel.StringVal()))
}
