// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error conditions spec.md §7 enumerates.
type Kind int

const (
	// KindBounds is raised when a byte-primitive read (component 1) would
	// read past the end of the slice it was handed.
	KindBounds Kind = iota
	// KindIO is raised when the underlying source returns a short read,
	// a seek error, or a read that would exceed the declared length.
	KindIO
	// KindInvalidTiffHeader is raised when the two bytes at a TIFF header
	// position are neither "II" nor "MM".
	KindInvalidTiffHeader
	// KindInvalidJpegHeader is raised when a JPEG pre-positioner is asked
	// to open data not beginning with 0xFFD8.
	KindInvalidJpegHeader
	// KindInvalidJpegTail is raised when JPEG segment scanning runs past
	// the data without reaching a terminating SOS/EOI marker.
	KindInvalidJpegTail
	// KindTagNotFound is raised when a rule-engine Jump or TagItem task
	// required a tag absent from the current IFD and not marked optional.
	KindTagNotFound
	// KindFieldNotFound is raised when a rule-engine Condition or
	// Offset(PrevField) task references a field not yet captured.
	KindFieldNotFound
	// KindInvalidByteOrder is raised when a rule-engine Tiff task finds
	// neither "II" nor "MM" at a nested frame.
	KindInvalidByteOrder
	// KindScanFailed is raised when a rule-engine Scan task reaches the
	// end of its substrate without matching its marker.
	KindScanFailed
	// KindValueTypeMismatch is raised when a typed accessor is asked for
	// a type the captured value cannot produce.
	KindValueTypeMismatch
	// KindPartNotDefined is raised when a format pre-positioner receives
	// a part index outside its declared range.
	KindPartNotDefined
)

func (k Kind) String() string {
	switch k {
	case KindBounds:
		return "Bounds"
	case KindIO:
		return "Io"
	case KindInvalidTiffHeader:
		return "InvalidTiffHeader"
	case KindInvalidJpegHeader:
		return "InvalidJpegHeader"
	case KindInvalidJpegTail:
		return "InvalidJpegTail"
	case KindTagNotFound:
		return "TagNotFound"
	case KindFieldNotFound:
		return "FieldNotFound"
	case KindInvalidByteOrder:
		return "InvalidByteOrder"
	case KindScanFailed:
		return "ScanFailed"
	case KindValueTypeMismatch:
		return "ValueTypeMismatch"
	case KindPartNotDefined:
		return "PartNotDefined"
	default:
		return "Unknown"
	}
}

// Error is the single error type the package returns. It carries the kind
// of failure plus whatever detail (an offset, a tag id, a marker) explains
// it, mirroring the teacher's InvalidFormatError wrapper but with a typed
// Kind instead of a single catch-all sentinel.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, &Error{Kind: KindTagNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func newBoundsError(offset, need, have int) error {
	return newErr(KindBounds, "need %d bytes at offset %d, have %d", need, offset, have)
}

func newIOError(err error) error {
	return &Error{Kind: KindIO, Err: err}
}

func newInvalidTiffHeaderError(b [2]byte) error {
	return newErr(KindInvalidTiffHeader, "invalid TIFF byte-order marker %#02x%02x", b[0], b[1])
}

func newInvalidJpegHeaderError(got uint16) error {
	return newErr(KindInvalidJpegHeader, "expected SOI 0xffd8, got %#04x", got)
}

func newInvalidJpegTailError(got uint16) error {
	return newErr(KindInvalidJpegTail, "expected EOI 0xffd9, got %#04x", got)
}

func newTagNotFoundError(tag uint16) error {
	return newErr(KindTagNotFound, "tag %#04x not found in current IFD", tag)
}

func newFieldNotFoundError(name string) error {
	return newErr(KindFieldNotFound, "field %q not captured yet", name)
}

func newInvalidByteOrderError(got uint16) error {
	return newErr(KindInvalidByteOrder, "invalid byte-order marker %#04x", got)
}

func newScanFailedError(marker []byte) error {
	return newErr(KindScanFailed, "marker %x not found", marker)
}

func newValueTypeMismatchError(want string) error {
	return newErr(KindValueTypeMismatch, "value cannot be read as %s", want)
}

func newPartNotDefinedError(part int) error {
	return newErr(KindPartNotDefined, "part %d is not defined", part)
}

// IsKind reports whether err is a *Error of the given kind, unwrapping
// through any wrapping chain the way the teacher's IsInvalidFormat does
// for its single error type.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
