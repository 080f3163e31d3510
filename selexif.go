// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// errStopWalking is panicked by the walker when a configured limit is
// exceeded, mirroring the teacher's ErrStopWalking/errStop short-circuit
// (imagemeta.go Decode). It is recovered at the Parse boundary and never
// surfaces as a returned error: hitting a limit ends the walk early, it
// does not fail it.
var errStopWalking = fmt.Errorf("stop walking: limit reached")

// Options configures a Parse call (spec.md §6 "parse(source, path_list,
// sony_decrypt_hint?)"), generalizing the teacher's Options (imagemeta.go).
type Options struct {
	// R is the reader positioned at the start of a TIFF header. The format
	// pre-positioners (jpeg.go, cr3.go, raf.go) exist to get an
	// io.ReadSeeker into this state; Parse itself never sniffs format.
	R io.ReadSeeker

	// Paths declares every IFD path the caller wants visited and the tags
	// to capture at each (spec.md §4.3).
	Paths []PathDecl

	// SonyHint optionally identifies the SR2Private outer/inner paths
	// (spec.md §4.5, §6).
	SonyHint *SonyHint

	// Warnf is called for non-fatal diagnostics. The walker reports one: an
	// out-of-line payload skipped for exceeding LimitTagSize. Maker-note
	// dialect detection, SR2Private decryption and the LimitNumTags stop
	// are not reported through it. Defaulted to a no-op, exactly like the
	// teacher's Options.Warnf.
	Warnf func(string, ...any)

	// Timeout bounds the wall-clock time Parse will spend walking. Zero
	// disables the bound. Mirrors the teacher's Options.Timeout and its
	// goroutine/select/time.After implementation.
	Timeout time.Duration

	// LimitNumTags caps the number of entries captured into the result
	// store before the walk stops early. Zero selects the default.
	LimitNumTags uint32

	// LimitTagSize caps the number of bytes read for any single
	// out-of-line payload; a larger entry is skipped (Payload left nil)
	// rather than failing the walk. Zero selects the default.
	LimitTagSize uint32
}

const (
	defaultLimitNumTags  = 5000
	defaultLimitTagSize  = 10_000_000
	defaultInitialIFDIdx = 0
)

// Result is the outcome of a Parse call: the captured entries plus the
// byte order of the top-level TIFF header, matching spec.md §6's
// `(result_store, is_little_endian)` contract.
type Result struct {
	Store          *ResultStore
	IsLittleEndian bool
}

// Parse walks opts.R per the declared path set and returns the captured
// entries. It is the package's single entry point, generalizing the
// teacher's Decode (imagemeta.go) from "decode everything the Source
// bitmask allows" to spec.md's declarative selective walk.
func Parse(opts Options) (result Result, err error) {
	if opts.R == nil {
		return result, fmt.Errorf("no reader provided")
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}
	if opts.LimitNumTags == 0 {
		opts.LimitNumTags = defaultLimitNumTags
	}
	if opts.LimitTagSize == 0 {
		opts.LimitTagSize = defaultLimitTagSize
	}

	// errFromRecover also absorbs errStopWalking into a nil error: hitting
	// a limit ends the walk early, it does not fail it, regardless of
	// which of the two paths below recovers the panic.
	errFromRecover := func(r any) error {
		if r == nil {
			return nil
		}
		if e, ok := r.(error); ok {
			if e == errStopWalking {
				return nil
			}
			return e
		}
		return fmt.Errorf("unknown panic: %v", r)
	}

	idx := NewPathIndex(opts.Paths...)

	// store is wired into the named return before the walk starts, the
	// same way the teacher's Decode wires base.result = &result
	// (imagemeta.go): a stop-walking panic unwinds straight past the
	// w.Walk call below, but result.Store already points at whatever was
	// captured before the limit tripped, instead of discarding it.
	store := NewResultStore()
	result.Store = store

	run := func() error {
		c := NewCursor(opts.R, binary.BigEndian)
		// Offsets inside the TIFF are relative to its header, wherever the
		// pre-positioner left R.
		c.SetBias(c.Pos())
		ifd0Offset, herr := ReadTIFFHeader(c)
		if herr != nil {
			return herr
		}

		store.setLittleEndian(c.byteOrder == binary.LittleEndian)
		result.IsLittleEndian = store.IsLittleEndian()

		w := NewWalker(c, idx, store, opts.Warnf, opts.SonyHint)
		w.maxTags = opts.LimitNumTags
		w.maxTagSize = opts.LimitTagSize

		if werr := c.SeekAbsolute(int64(ifd0Offset)); werr != nil {
			return werr
		}
		return w.Walk(RootPath(defaultInitialIFDIdx))
	}

	if opts.Timeout > 0 {
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errFromRecover(r)
				}
			}()
			done <- run()
		}()
		select {
		case <-time.After(opts.Timeout):
			return result, fmt.Errorf("parse timed out after %s", opts.Timeout)
		case rerr := <-done:
			return result, rerr
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = errFromRecover(r)
		}
	}()
	err = run()
	return result, err
}
