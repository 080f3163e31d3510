// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
)

// Component 9 — the rule engine (spec.md §4.8), an alternative front-end
// translated from original_source/src/parser.rs's ExifTask tree. Where the
// original re-slices a whole in-memory buffer per descent
// (`&self.buffer[self.offset..]`), this port keeps the package's streaming
// Cursor (spec.md §4.2): each descending task saves the cursor position
// before recursing and restores it afterward, the stream equivalent of the
// original's independent child-Parser-per-descent, so that sibling tasks in
// the same list see the position they would have seen in the original.

// RuleTask is one node of a rule tree. The concrete task types below are
// the only implementations.
type RuleTask interface{ isRuleTask() }

// Tiff establishes a TIFF frame at the cursor's current position: reads
// byte order, skips the magic without checking it, reads the IFD0 offset,
// and runs Inner there. A JPEG preface fix applies first: if the two bytes
// at the current position are the JPEG SOI marker, 12 bytes (SOI, APP1
// marker, length and "Exif\0\0") are
// skipped before the header is read (spec.md §4.8 "JPEG preface fixup").
type Tiff struct{ Inner []RuleTask }

// Jump reads the value of Tag from the current IFD's cached entries as a
// u32 offset and runs Inner there. If Optional and Tag is absent, Inner is
// skipped rather than failing.
type Jump struct {
	Tag      uint16
	Optional bool
	Inner    []RuleTask
}

// JumpNext seeks to the next-IFD offset captured from the current IFD's
// trailer and runs Inner there.
type JumpNext struct{ Inner []RuleTask }

// OffsetKind selects how Offset computes its relocation.
type OffsetKind int

const (
	OffsetBytes OffsetKind = iota
	OffsetAddress
	OffsetPrevField
)

// Offset relocates the cursor and runs Inner there. Bytes relocates by a
// signed delta from the current frame's base offset (OffsetBytes(0) is a
// no-op short-circuit: Inner runs in place, per spec.md §9 / SPEC_FULL §4,
// matching the original's `OffsetType::Bytes(0)` fast path). Address reads
// a u32 at the current position and jumps there. PrevField relocates by
// the value of a previously captured field, added to the frame's base
// offset.
type Offset struct {
	Kind  OffsetKind
	Bytes int64
	Field string
	Inner []RuleTask
}

// Scan locates the first occurrence of Marker at or after the current
// position, optionally records its absolute position under Name, and runs
// Inner there.
type Scan struct {
	Marker []byte
	Name   string
	Inner  []RuleTask
}

// CondOp is a Condition comparison operator.
type CondOp int

const (
	CondLT CondOp = iota
	CondEQ
	CondGT
	CondExist
)

// Condition branches on a previously captured field: Field compared
// against Target via Op (ignored for CondExist, which only tests
// presence). Left runs when the condition holds, Right otherwise.
type Condition struct {
	Op     CondOp
	Field  string
	Target uint32
	Left   []RuleTask
	Right  []RuleTask
}

// SonyDecrypt reads offset/length/key from the named tags of the current
// IFD's cached entries, decrypts the region per spec.md §4.5, and runs
// Inner over the plaintext as a new cursor substrate.
type SonyDecrypt struct {
	OffsetTag, LenTag, KeyTag uint16
	Inner                     []RuleTask
}

// TagItem captures the inline value of Tag from the current IFD's cached
// entries under Name (u16 or u32 depending on ValueIsU16), and optionally
// its Count field under LenName. Optional suppresses the TagNotFound error
// when Tag is absent.
type TagItem struct {
	Tag        uint16
	Name       string
	LenName    string // empty to skip
	Optional   bool
	ValueIsU16 bool
}

// OffsetItemType selects the scalar type OffsetItem reads.
type OffsetItemType int

const (
	OffsetItemU16 OffsetItemType = iota
	OffsetItemU32
	OffsetItemR64
	OffsetItemString
)

// OffsetItem reads a scalar of Type at the current frame's base offset
// plus Offset·sizeof(Type), and captures it under Name.
type OffsetItem struct {
	Offset int
	Name   string
	Type   OffsetItemType
}

func (Tiff) isRuleTask()        {}
func (Jump) isRuleTask()        {}
func (JumpNext) isRuleTask()    {}
func (Offset) isRuleTask()      {}
func (Scan) isRuleTask()        {}
func (Condition) isRuleTask()   {}
func (SonyDecrypt) isRuleTask() {}
func (TagItem) isRuleTask()     {}
func (OffsetItem) isRuleTask()  {}

// RuleValueKind discriminates a RuleValue's payload.
type RuleValueKind int

const (
	RuleValueU16 RuleValueKind = iota
	RuleValueU32
	RuleValueR64
	RuleValueStr
)

// RuleValue is a named value captured by the rule engine, distinct from
// ResultStore's IFDItem because the rule engine projects directly into
// named scalars rather than raw IFD entries (spec.md §4.8).
type RuleValue struct {
	Kind RuleValueKind
	U16  uint16
	U32  uint32
	R64  float64
	Str  string
}

// AsU32 widens the value to u32 for Condition/PrevField arithmetic, as the
// original's `Value::u32()`/`Value::usize()` conversions do.
func (v RuleValue) AsU32() (uint32, bool) {
	switch v.Kind {
	case RuleValueU16:
		return uint32(v.U16), true
	case RuleValueU32:
		return v.U32, true
	default:
		return 0, false
	}
}

// RuleContent is the rule engine's output: a flat map from field name to
// captured value, built up across the whole task tree.
type RuleContent map[string]RuleValue

// ruleFrame is one coordinate frame of the rule engine: the position a
// group of sibling tasks shares, plus (if the group needed it) the cached
// IFD entries and next-IFD offset, mirroring the original parser's
// per-invocation `entries`/`next_offset`/`offset` fields.
type ruleFrame struct {
	base       int64
	entries    map[uint16]IFDEntry
	nextOffset uint32
	haveNext   bool
}

// RunRule executes tasks at the cursor's current position, the entry
// point for the rule-engine front-end.
func RunRule(c *Cursor, tasks []RuleTask, content RuleContent, warnf func(string, ...any)) error {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return runRuleTasks(c, tasks, content, warnf)
}

func needsIFDCache(tasks []RuleTask) bool {
	for _, t := range tasks {
		switch t.(type) {
		case Jump, TagItem, SonyDecrypt:
			return true
		}
	}
	return false
}

// runRuleTasks establishes one frame (caching IFD entries if any task in
// tasks needs them) and runs every task in order against it.
func runRuleTasks(c *Cursor, tasks []RuleTask, content RuleContent, warnf func(string, ...any)) error {
	// frame.base is kept in the bias-relative coordinate system (i.e. what
	// the original parser calls `self.offset`, a position within the
	// current logical buffer), so that every SeekAbsolute(frame.base + …)
	// below applies the cursor's bias exactly once.
	frame := &ruleFrame{base: c.Pos() - c.Bias()}

	if needsIFDCache(tasks) {
		count, err := c.read2()
		if err != nil {
			return err
		}
		rawBase := c.Pos()
		frame.base = rawBase - c.Bias()
		frame.entries = make(map[uint16]IFDEntry, count)
		for i := 0; i < int(count); i++ {
			b, err := c.Read(entrySize)
			if err != nil {
				return err
			}
			order := c.byteOrder
			e := IFDEntry{
				Tag:   order.Uint16(b[0:2]),
				Type:  Type(order.Uint16(b[2:4])),
				Count: order.Uint32(b[4:8]),
			}
			copy(e.ValueField[:], b[8:12])
			frame.entries[e.Tag] = e
		}
		next, err := c.read4()
		if err != nil {
			return err
		}
		frame.nextOffset = next
		frame.haveNext = true

		if err := c.SeekRelative(rawBase - c.Pos()); err != nil {
			return err
		}
	}

	for _, t := range tasks {
		if err := runRuleTask(c, frame, t, content, warnf); err != nil {
			return err
		}
	}
	return nil
}

func runRuleTask(c *Cursor, frame *ruleFrame, task RuleTask, content RuleContent, warnf func(string, ...any)) error {
	switch t := task.(type) {
	case Tiff:
		return withSavedPosition(c, func() error {
			if peeked, err := c.Peek(2); err == nil && bytes.Equal(peeked, []byte{0xFF, 0xD8}) {
				if err := c.SeekRelative(12); err != nil {
					return err
				}
			}
			savedBias := c.Bias()
			c.SetBias(c.Pos())
			ifd0Offset, err := readNestedTiffHeader(c)
			if err != nil {
				return err
			}
			if err := c.SeekAbsolute(int64(ifd0Offset)); err != nil {
				return err
			}
			if err := runRuleTasks(c, t.Inner, content, warnf); err != nil {
				return err
			}
			c.SetBias(savedBias)
			return nil
		})

	case Jump:
		entry, ok := frame.entries[t.Tag]
		if !ok {
			if t.Optional {
				return nil
			}
			return newTagNotFoundError(t.Tag)
		}
		offset := c.byteOrder.Uint32(entry.ValueField[:])
		return withSavedPosition(c, func() error {
			if err := c.SeekAbsolute(int64(offset)); err != nil {
				return err
			}
			return runRuleTasks(c, t.Inner, content, warnf)
		})

	case JumpNext:
		if !frame.haveNext {
			return newErr(KindTagNotFound, "no next-IFD offset captured in this frame")
		}
		return withSavedPosition(c, func() error {
			if err := c.SeekAbsolute(int64(frame.nextOffset)); err != nil {
				return err
			}
			return runRuleTasks(c, t.Inner, content, warnf)
		})

	case Offset:
		if t.Kind == OffsetBytes && t.Bytes == 0 {
			for _, inner := range t.Inner {
				if err := runRuleTask(c, frame, inner, content, warnf); err != nil {
					return err
				}
			}
			return nil
		}
		return withSavedPosition(c, func() error {
			var target int64
			switch t.Kind {
			case OffsetBytes:
				target = frame.base + t.Bytes
			case OffsetAddress:
				if err := c.SeekAbsolute(frame.base); err != nil {
					return err
				}
				v, err := c.read4()
				if err != nil {
					return err
				}
				target = int64(v)
			case OffsetPrevField:
				fv, ok := content[t.Field]
				if !ok {
					return newFieldNotFoundError(t.Field)
				}
				n, ok := fv.AsU32()
				if !ok {
					return newValueTypeMismatchError("u32")
				}
				target = frame.base + int64(n)
			}
			if err := c.SeekAbsolute(target); err != nil {
				return err
			}
			return runRuleTasks(c, t.Inner, content, warnf)
		})

	case Scan:
		return withSavedPosition(c, func() error {
			if err := c.SeekAbsolute(frame.base); err != nil {
				return err
			}
			streamPos, err := scanForMarker(c, t.Marker)
			if err != nil {
				return err
			}
			if t.Name != "" {
				// Recorded in the frame's own coordinate system (minus
				// bias), matching the original's buffer-relative
				// `tiff_offset`.
				content[t.Name] = RuleValue{Kind: RuleValueU32, U32: uint32(streamPos - c.Bias())}
			}
			if err := c.SeekRelative(streamPos - c.Pos()); err != nil {
				return err
			}
			return runRuleTasks(c, t.Inner, content, warnf)
		})

	case Condition:
		result := false
		switch t.Op {
		case CondExist:
			_, result = content[t.Field]
		default:
			fv, ok := content[t.Field]
			if !ok {
				return newFieldNotFoundError(t.Field)
			}
			n, ok := fv.AsU32()
			if !ok {
				return newValueTypeMismatchError("u32")
			}
			switch t.Op {
			case CondLT:
				result = n < t.Target
			case CondEQ:
				result = n == t.Target
			case CondGT:
				result = n > t.Target
			}
		}
		branch := t.Right
		if result {
			branch = t.Left
		}
		for _, inner := range branch {
			if err := runRuleTask(c, frame, inner, content, warnf); err != nil {
				return err
			}
		}
		return nil

	case SonyDecrypt:
		offEntry, ok := frame.entries[t.OffsetTag]
		if !ok {
			return newTagNotFoundError(t.OffsetTag)
		}
		lenEntry, ok := frame.entries[t.LenTag]
		if !ok {
			return newTagNotFoundError(t.LenTag)
		}
		keyEntry, ok := frame.entries[t.KeyTag]
		if !ok {
			return newTagNotFoundError(t.KeyTag)
		}
		order := c.byteOrder
		offset := int64(order.Uint32(offEntry.ValueField[:]))
		length := order.Uint32(lenEntry.ValueField[:])
		key := order.Uint32(keyEntry.ValueField[:])

		return withSavedPosition(c, func() error {
			savedBias := c.Bias()
			if err := c.SeekAbsolute(offset); err != nil {
				return err
			}
			ciphertext, err := c.ReadVec(int(length))
			if err != nil {
				return err
			}
			c.SetBias(savedBias)

			plaintext := sonyDecrypt(ciphertext, key, order)
			innerCursor := NewCursor(bytes.NewReader(plaintext), order)
			innerCursor.SetBias(-offset)
			if err := innerCursor.SeekAbsolute(offset); err != nil {
				return err
			}
			return runRuleTasks(innerCursor, t.Inner, content, warnf)
		})

	case TagItem:
		entry, ok := frame.entries[t.Tag]
		if !ok {
			if t.Optional {
				return nil
			}
			return newTagNotFoundError(t.Tag)
		}
		if t.ValueIsU16 {
			content[t.Name] = RuleValue{Kind: RuleValueU16, U16: c.byteOrder.Uint16(entry.ValueField[:2])}
		} else {
			content[t.Name] = RuleValue{Kind: RuleValueU32, U32: c.byteOrder.Uint32(entry.ValueField[:])}
		}
		if t.LenName != "" {
			content[t.LenName] = RuleValue{Kind: RuleValueU32, U32: entry.Count}
		}
		return nil

	case OffsetItem:
		return withSavedPosition(c, func() error {
			size := int64(offsetItemSize(t.Type))
			if err := c.SeekAbsolute(frame.base + int64(t.Offset)*size); err != nil {
				return err
			}
			v, err := readOffsetItemValue(c, t.Type)
			if err != nil {
				return err
			}
			content[t.Name] = v
			return nil
		})
	}
	return nil
}

// readNestedTiffHeader mirrors parser.rs's ExifTask::Tiff handling: it
// reads the 2-byte byte-order marker at the cursor's current position and
// the u32 at the following offset+4, skipping the 2-byte magic in between
// without validating it. This is deliberately looser than the core's
// ReadTIFFHeader (walker.go), which is the strict top-level precondition
// every format pre-positioner feeds into; the rule engine's Tiff task can
// establish a frame anywhere a caller's task tree names one, and the
// original never checks the magic there. A bad byte-order marker raises
// KindInvalidByteOrder, distinct from the core's KindInvalidTiffHeader.
func readNestedTiffHeader(c *Cursor) (ifd0Offset uint32, err error) {
	b, err := c.Read(2)
	if err != nil {
		return 0, err
	}
	marker := uint16(b[0])<<8 | uint16(b[1])
	switch marker {
	case tiffByteOrderLE:
		c.byteOrder = binary.LittleEndian
	case tiffByteOrderBE:
		c.byteOrder = binary.BigEndian
	default:
		return 0, newInvalidByteOrderError(marker)
	}
	if _, err := c.read2(); err != nil {
		return 0, err
	}
	return c.read4()
}

func offsetItemSize(t OffsetItemType) int {
	switch t {
	case OffsetItemU16:
		return 2
	case OffsetItemR64:
		return 8
	case OffsetItemString:
		return 1
	default:
		return 4
	}
}

// readOffsetItemValue reads one scalar of the given type at the cursor's
// current position. The String case intentionally differs from the §4.7
// str() accessor: it stops at the first NUL (not "strip one trailing
// NUL") and trims surrounding whitespace, matching the original's
// `read_value_from_offset` exactly (SPEC_FULL §4).
func readOffsetItemValue(c *Cursor, t OffsetItemType) (RuleValue, error) {
	switch t {
	case OffsetItemU16:
		v, err := c.read2()
		if err != nil {
			return RuleValue{}, err
		}
		return RuleValue{Kind: RuleValueU16, U16: v}, nil
	case OffsetItemU32:
		v, err := c.read4()
		if err != nil {
			return RuleValue{}, err
		}
		return RuleValue{Kind: RuleValueU32, U32: v}, nil
	case OffsetItemR64:
		b, err := c.Read(8)
		if err != nil {
			return RuleValue{}, err
		}
		v, err := readR64(b, 0, c.byteOrder)
		if err != nil {
			return RuleValue{}, err
		}
		return RuleValue{Kind: RuleValueR64, R64: v}, nil
	case OffsetItemString:
		const maxStringScan = 256
		buf := make([]byte, maxStringScan)
		n, _ := io.ReadFull(c.r, buf)
		b := buf[:n]
		if idx := bytes.IndexByte(b, 0); idx >= 0 {
			b = b[:idx]
		}
		return RuleValue{Kind: RuleValueStr, Str: strings.TrimSpace(string(b))}, nil
	default:
		return RuleValue{}, newValueTypeMismatchError("offset item type")
	}
}

// scanForMarker locates the first occurrence of marker at or after the
// cursor's current position and returns its absolute stream position,
// leaving the cursor position unspecified (callers reposition explicitly).
func scanForMarker(c *Cursor, marker []byte) (int64, error) {
	windowStart := c.Pos()
	var window []byte
	buf := make([]byte, 4096)

	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			window = append(window, buf[:n]...)
			if idx := bytes.Index(window, marker); idx >= 0 {
				return windowStart + int64(idx), nil
			}
			if trim := len(window) - (len(marker) - 1); trim > 0 {
				window = window[trim:]
				windowStart += int64(trim)
			}
		}
		if err != nil {
			return 0, newScanFailedError(marker)
		}
	}
}

// withSavedPosition runs f with the cursor free to move, then restores the
// cursor's position (not bias) to what it was on entry, the streaming
// equivalent of the original parser's "each descent gets its own Parser
// struct, the caller's is untouched".
func withSavedPosition(c *Cursor, f func() error) error {
	c.SavePos()
	err := f()
	if rerr := c.RestorePos(); err == nil {
		err = rerr
	}
	return err
}
