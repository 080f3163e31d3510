// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"encoding/binary"
	"errors"
	"io"
)

var errShortRead = errors.New("short read")

// Cursor wraps a seekable byte source with an address bias that translates
// container-relative offsets into stream positions (spec.md §3 "Cursor",
// §4.2). It generalizes the teacher's streamReader (io.go) with the one
// field spec.md §4.2 adds: address_bias.
//
// Not safe for concurrent use — a parse call owns its Cursor exclusively
// for its duration (spec.md §5).
type Cursor struct {
	r         io.ReadSeeker
	byteOrder binary.ByteOrder

	bias int64

	buf   []byte
	saved []int64
}

// NewCursor wraps r for reading with the given byte order. The byte order
// is normally overwritten once the TIFF header is read (§4.4).
func NewCursor(r io.ReadSeeker, order binary.ByteOrder) *Cursor {
	return &Cursor{r: r, byteOrder: order}
}

func (c *Cursor) otherByteOrder() binary.ByteOrder {
	if c.byteOrder == binary.BigEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Bias returns the cursor's current address bias.
func (c *Cursor) Bias() int64 { return c.bias }

// SetBias sets the cursor's address bias and returns the previous value.
// Callers must restore the previous bias on the way out of a descent —
// spec.md §9 "Address bias vs init-pos bias" treats this as a stack
// discipline, not a field to be casually mutated.
func (c *Cursor) SetBias(b int64) (prev int64) {
	prev = c.bias
	c.bias = b
	return prev
}

// pos returns the current stream position, ignoring bias.
func (c *Cursor) pos() int64 {
	n, _ := c.r.Seek(0, io.SeekCurrent)
	return n
}

// Pos is the exported form of pos, used by callers that need to record an
// absolute stream offset (e.g. the embedded-JPEG detector).
func (c *Cursor) Pos() int64 { return c.pos() }

// SeekAbsolute positions the cursor at addr+bias from the container
// origin. It does not reference the current position, making it
// idempotent — spec.md §4.2's ordering guarantee.
func (c *Cursor) SeekAbsolute(addr int64) error {
	_, err := c.r.Seek(addr+c.bias, io.SeekStart)
	if err != nil {
		return newIOError(err)
	}
	return nil
}

// SeekRelative moves by a signed delta from the current position.
func (c *Cursor) SeekRelative(delta int64) error {
	_, err := c.r.Seek(delta, io.SeekCurrent)
	if err != nil {
		return newIOError(err)
	}
	return nil
}

// SavePos pushes the current position onto the cursor's LIFO save stack
// and returns it, for "descend, read payload, come back" sequences.
func (c *Cursor) SavePos() int64 {
	p := c.pos()
	c.saved = append(c.saved, p)
	return p
}

// RestorePos pops the most recently saved position and seeks to it.
func (c *Cursor) RestorePos() error {
	if len(c.saved) == 0 {
		return newIOError(errors.New("restore without matching save"))
	}
	p := c.saved[len(c.saved)-1]
	c.saved = c.saved[:len(c.saved)-1]
	_, err := c.r.Seek(p, io.SeekStart)
	if err != nil {
		return newIOError(err)
	}
	return nil
}

// Preserve runs f with the cursor at its current position, then restores
// that position regardless of how f returns.
func (c *Cursor) Preserve(f func() error) error {
	pos := c.pos()
	err := f()
	if _, serr := c.r.Seek(pos, io.SeekStart); serr != nil && err == nil {
		err = newIOError(serr)
	}
	return err
}

func (c *Cursor) allocateBuf(n int) {
	if n > cap(c.buf) {
		c.buf = make([]byte, n)
	}
	c.buf = c.buf[:n]
}

// Read reads exactly n bytes and advances the position. The returned
// slice is only valid until the next Read/Peek/ReadVec call.
func (c *Cursor) Read(n int) ([]byte, error) {
	c.allocateBuf(n)
	nn, err := io.ReadFull(c.r, c.buf)
	if err != nil {
		return nil, newIOError(err)
	}
	if nn != n {
		return nil, newIOError(errShortRead)
	}
	return c.buf, nil
}

// Peek reads n bytes then rewinds by n, leaving the position unchanged.
func (c *Cursor) Peek(n int) ([]byte, error) {
	pos := c.pos()
	b, err := c.Read(n)
	if err != nil {
		// Best-effort rewind even on a short read, so callers can retry
		// a smaller peek without losing their place.
		c.r.Seek(pos, io.SeekStart)
		return nil, err
	}
	cp := append([]byte(nil), b...)
	if _, serr := c.r.Seek(pos, io.SeekStart); serr != nil {
		return nil, newIOError(serr)
	}
	return cp, nil
}

// ReadVec reads exactly n bytes into a fresh owned buffer.
func (c *Cursor) ReadVec(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	nn, err := io.ReadFull(c.r, b)
	if err != nil {
		return nil, newIOError(err)
	}
	if nn != n {
		return nil, newIOError(errShortRead)
	}
	return b, nil
}

func (c *Cursor) read2() (uint16, error) {
	b, err := c.Read(2)
	if err != nil {
		return 0, err
	}
	return c.byteOrder.Uint16(b), nil
}

func (c *Cursor) read4() (uint32, error) {
	b, err := c.Read(4)
	if err != nil {
		return 0, err
	}
	return c.byteOrder.Uint32(b), nil
}
