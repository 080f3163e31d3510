// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"
)

// FuzzParse mirrors the teacher's imagemeta_fuzz_test.go FuzzDecodeJPG/etc
// harness: feed arbitrary bytes through the public entry point and fail
// only on a panic or an error this package doesn't know how to produce.
// The teacher seeds from testdata/images fixtures; this module has no
// binary sample files, so it seeds from the same synthetic TIFF blobs the
// rest of the test suite builds with testutil_test.go's helpers.
func FuzzParse(f *testing.F) {
	order := binary.LittleEndian

	f.Add(buildTIFFFile(order, buildIFD(order, 8, 0, []entrySpec{
		{tag: 0x0112, typ: TypeShort, count: 1, inline: toBytes4(1, order)},
	})))
	f.Add(buildTIFFFile(order, buildIFD(order, 8, 0, []entrySpec{
		{tag: 0x010F, typ: TypeASCII, count: 6, payload: []byte("Canon\x00")},
		{tag: 0x8769, typ: TypeLong, count: 1, inline: toBytes4(8, order)}, // self-referential sub-IFD pointer
	})))
	f.Add([]byte{'I', 'I', 0x2A, 0x00, 8, 0, 0, 0}) // header with no IFD0 bytes following
	f.Add([]byte{'M', 'M', 0x00, 0x2A, 0, 0, 0, 8})
	f.Add([]byte{0, 0, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		paths := []PathDecl{
			{Path: RootPath(0), Tags: []TagRef{
				{Tag: 0x0112, Name: "Orientation"},
				{Tag: 0x010F, Name: "Make"},
			}},
			{Path: RootPath(0).Sub(0x8769, 0), Tags: []TagRef{{Tag: 0x829A, Name: "ExposureTime"}}},
		}

		_, err := Parse(Options{
			R:       bytes.NewReader(data),
			Paths:   paths,
			Timeout: 200 * time.Millisecond,
		})
		if err == nil {
			return
		}
		var perr *Error
		if errors.As(err, &perr) {
			return
		}
		if strings.Contains(err.Error(), "timed out") || strings.Contains(err.Error(), "no reader provided") {
			return
		}
		t.Fatalf("unexpected error type from Parse: %v (%T)", err, err)
	})
}
