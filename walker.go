// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"bytes"
	"encoding/binary"
)

// Component 4 — the IFD walker (spec.md §4.4), generalized from the
// teacher's metadecoder_exif.go decodeTag/decodeTags/decodeTagsAt, which
// walked every tag in every IFD unconditionally. This walker instead
// drives entirely off a PathIndex: it captures only requested
// (path, tag) pairs and descends only into paths the caller declared,
// which is the selective-parsing contract spec.md §1 calls the system's
// defining value.

const (
	tiffByteOrderLE = 0x4949 // "II"
	tiffByteOrderBE = 0x4d4d // "MM"
	tiffMagic42     = 42

	// maxNextIFDOffset is the sanity cap spec.md §4.4 step 3 and §9 carry
	// forward from the original implementation: a next-IFD offset at or
	// above this is treated as garbage rather than followed. spec.md's
	// own Design Notes flag this as empirically motivated and suggest a
	// file-size bound would be more principled; the cap is kept as-is
	// per the Open Question's explicit instruction to carry it forward.
	maxNextIFDOffset = 0xFFFFFF

	entrySize = 12
)

// ReadTIFFHeader reads the 2-byte byte-order marker, the 2-byte 0x002A
// magic, and the 4-byte IFD0 offset from c, sets c's byte order, and
// returns the IFD0 offset (relative to the start of the header, i.e. to
// be seeked via SeekAbsolute with the header start as bias). This is the
// shared precondition of every format in spec.md §6: JPEG/CR3/RAF/DNG all
// eventually land the cursor here after their pre-positioner runs.
func ReadTIFFHeader(c *Cursor) (ifd0Offset uint32, err error) {
	b, err := c.Read(2)
	if err != nil {
		return 0, err
	}
	var order [2]byte
	copy(order[:], b)
	marker := uint16(order[0])<<8 | uint16(order[1])
	switch marker {
	case tiffByteOrderLE:
		c.byteOrder = binary.LittleEndian
	case tiffByteOrderBE:
		c.byteOrder = binary.BigEndian
	default:
		return 0, newInvalidTiffHeaderError(order)
	}

	magic, err := c.read2()
	if err != nil {
		return 0, err
	}
	if magic != tiffMagic42 {
		return 0, newErr(KindInvalidTiffHeader, "expected magic 42, got %d", magic)
	}

	return c.read4()
}

// Walker drives the recursive IFD traversal of spec.md §4.4 over a
// Cursor, guided by a PathIndex, depositing captured entries into a
// ResultStore.
type Walker struct {
	c     *Cursor
	idx   *PathIndex
	store *ResultStore
	warnf func(string, ...any)

	// sonyHint, if set, names the (outer, inner) path ids that trigger an
	// SR2Private decrypt once the outer IFD's entries have all been
	// captured (spec.md §4.5, §6 "sony_decrypt_hint").
	sonyHint *SonyHint

	// maxTags and maxTagSize enforce Options.LimitNumTags/LimitTagSize
	// (selexif.go). Zero means "use the walker's own defaults", set by
	// Parse before the walk starts. Exceeding maxTags panics with
	// errStopWalking, recovered at the Parse boundary, the same
	// short-circuit idiom the teacher uses for its own tag-count limit
	// (imagemeta.go Decode's ShouldHandleTag wrapper).
	maxTags    uint32
	maxTagSize uint32
	tagCount   uint32
}

// SonyHint selects which declared path identifies the SR2Private outer
// IFD and which the inner walk target, per spec.md §6.
type SonyHint struct {
	OuterPathID int
	InnerPathID int
}

// NewWalker returns a Walker over c, driven by idx, depositing results
// into store.
func NewWalker(c *Cursor, idx *PathIndex, store *ResultStore, warnf func(string, ...any), hint *SonyHint) *Walker {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &Walker{c: c, idx: idx, store: store, warnf: warnf, sonyHint: hint}
}

type pendingDescent struct {
	addr int64
	path IFDPath
}

func (w *Walker) tagCountLimit() uint32 {
	if w.maxTags == 0 {
		return defaultLimitNumTags
	}
	return w.maxTags
}

func (w *Walker) tagSizeLimit() uint32 {
	if w.maxTagSize == 0 {
		return defaultLimitTagSize
	}
	return w.maxTagSize
}

// Walk parses one IFD at the cursor's current position (the entry count)
// and recurses per spec.md §4.4. Precondition: the cursor is positioned at
// the first byte of the IFD. Postcondition: the cursor has consumed the
// full IFD (count + 12*count entries + 4-byte next pointer); every
// requested (path, tag) the IFD produced is in the result store; every
// scheduled sub-IFD descent has completed.
func (w *Walker) Walk(path IFDPath) error {
	pathID, registered := w.idx.ID(path)

	count, err := w.c.read2()
	if err != nil {
		return err
	}

	var pending []pendingDescent

	for i := 0; i < int(count); i++ {
		entry, err := w.readEntry()
		if err != nil {
			return err
		}

		total := entry.total()
		var payload []byte
		if total > 4 || entry.Type == TypeASCII {
			if total > uint64(w.tagSizeLimit()) {
				w.warnf("skipping tag %#04x: payload %d bytes exceeds limit", entry.Tag, total)
			} else {
				w.c.SavePos()
				if err := w.c.SeekAbsolute(int64(w.c.byteOrder.Uint32(entry.ValueField[:]))); err != nil {
					return err
				}
				payload, err = w.c.ReadVec(int(total))
				if err != nil {
					return err
				}
				if err := w.c.RestorePos(); err != nil {
					return err
				}
			}
		}

		if registered {
			if _, want := w.idx.WantsTag(pathID, entry.Tag); want {
				w.tagCount++
				if w.tagCount > w.tagCountLimit() {
					panic(errStopWalking)
				}
				item := IFDItem{
					ByteOrder: w.c.byteOrder,
					Tag:       entry.Tag,
					Type:      entry.Type,
					Count:     entry.Count,
					Inline:    entry.ValueField,
					Payload:   payload,
				}
				w.store.set(pathID, entry.Tag, item)
			}
		}

		if err := w.scheduleDescents(path, entry, payload, &pending); err != nil {
			return err
		}
	}

	next, err := w.c.read4()
	if err != nil {
		return err
	}

	if w.sonyHint != nil && registered && pathID == w.sonyHint.OuterPathID {
		if err := w.maybeDecryptSR2Private(pathID); err != nil {
			return err
		}
	}

	if next != 0 && uint32(next) < maxNextIFDOffset {
		nextPath := path.nextSibling()
		if w.idx.HasPrefix(nextPath) {
			if err := w.c.SeekAbsolute(int64(next)); err != nil {
				return err
			}
			if err := w.Walk(nextPath); err != nil {
				return err
			}
		}
	}

	for _, pd := range pending {
		savedBias := w.c.Bias()
		if err := w.c.SeekAbsolute(pd.addr); err != nil {
			return err
		}
		if err := w.descendWithDetection(pd.path); err != nil {
			return err
		}
		w.c.SetBias(savedBias)
	}

	return nil
}

// readEntry reads one 12-byte on-disk IFD entry.
func (w *Walker) readEntry() (IFDEntry, error) {
	b, err := w.c.Read(entrySize)
	if err != nil {
		return IFDEntry{}, err
	}
	order := w.c.byteOrder
	var e IFDEntry
	e.Tag = order.Uint16(b[0:2])
	e.Type = Type(order.Uint16(b[2:4]))
	e.Count = order.Uint32(b[4:8])
	copy(e.ValueField[:], b[8:12])
	return e, nil
}

// scheduleDescents implements spec.md §4.4 step 2d: an entry whose
// (path || [tag, 0]) is registered schedules a descent; if it is
// additionally a LONG array with count > 1, it is DNG's SubIFDs
// convention and each element schedules its own descent at instance
// i*100.
func (w *Walker) scheduleDescents(path IFDPath, entry IFDEntry, payload []byte, pending *[]pendingDescent) error {
	if w.sonyHint != nil {
		// The SR2Private inner IFD is walked only over its decrypted buffer
		// (maybeDecryptSR2Private), never by a plain descent into ciphertext.
		if childID, ok := w.idx.HasExtension(path, entry.Tag, 0); ok && childID == w.sonyHint.InnerPathID {
			return nil
		}
	}

	if entry.Type == TypeLong && entry.Count > 1 {
		if _, ok := w.idx.HasExtension(path, entry.Tag, 0); ok {
			order := w.c.byteOrder
			for i := uint32(0); i < entry.Count; i++ {
				addr, err := readU32(payload, int(i)*4, order)
				if err != nil {
					return err
				}
				instance := uint16(i * 100)
				if _, ok := w.idx.HasExtension(path, entry.Tag, instance); ok {
					*pending = append(*pending, pendingDescent{addr: int64(addr), path: path.Sub(entry.Tag, instance)})
				}
			}
			return nil
		}
	}

	if _, ok := w.idx.HasExtension(path, entry.Tag, 0); ok {
		addr := w.c.byteOrder.Uint32(entry.ValueField[:])
		*pending = append(*pending, pendingDescent{addr: int64(addr), path: path.Sub(entry.Tag, 0)})
	}
	return nil
}

// Maker-note dialect table (spec.md §4.4, §6). Each entry names the
// 4-byte magic prefix, the number of bytes to skip past it before the
// IFD proper begins, and whether the note's own offsets are relative to
// a base established at (or just past) that prefix.
type makerNoteDialect struct {
	magic     [4]byte
	skip      int64
	biasBase  bool
	biasExtra int64
}

var makerNoteDialects = []makerNoteDialect{
	{magic: [4]byte{'P', 'a', 'n', 'a'}, skip: 12, biasBase: false},
	{magic: [4]byte{'O', 'L', 'Y', 'M'}, skip: 12, biasBase: true, biasExtra: 0},
	{magic: [4]byte{'N', 'i', 'k', 'o'}, skip: 18, biasBase: true, biasExtra: 10},
}

// descendWithDetection implements spec.md §4.4 step 4: at a scheduled
// descent, detect an embedded JPEG header or a maker-note dialect before
// recursing into the walk proper.
func (w *Walker) descendWithDetection(path IFDPath) error {
	if peeked, err := w.c.Peek(2); err == nil && bytes.Equal(peeked, []byte{0xFF, 0xD8}) {
		// Embedded JPEG: SOI + APP1 marker + length + "Exif\0\0" = 12 bytes, then
		// the embedded TIFF header's offsets are relative to whatever
		// comes right after that preamble.
		if err := w.c.SeekRelative(12); err != nil {
			return err
		}
		w.c.SetBias(w.c.Pos())
		// 4-byte pad then the 4-byte IFD0 offset of the embedded TIFF.
		if _, err := w.c.read4(); err != nil {
			return err
		}
		ifdOffset, err := w.c.read4()
		if err != nil {
			return err
		}
		if err := w.c.SeekAbsolute(int64(ifdOffset)); err != nil {
			return err
		}
		return w.Walk(path)
	}

	if peeked, err := w.c.Peek(4); err == nil {
		for _, d := range makerNoteDialects {
			if bytes.Equal(peeked, d.magic[:]) {
				if d.biasBase {
					w.c.SetBias(w.c.Pos() + d.biasExtra)
				}
				if err := w.c.SeekRelative(d.skip); err != nil {
					return err
				}
				return w.Walk(path)
			}
		}
	}

	return w.Walk(path)
}
