// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"bytes"
	"encoding/binary"
)

// Component 5 — Sony SR2Private decryption (spec.md §4.5). Grounded on
// original_source/src/parser.rs's sony_decrypt, translated from its
// whole-buffer model onto this package's Cursor/ResultStore abstractions:
// the ciphertext is still read as one contiguous region, but the inner
// walk runs over a fresh in-memory Cursor instead of re-slicing the
// original parser's backing buffer.

const (
	sonyTagSR2Offset = 0x7200
	sonyTagSR2Length = 0x7201
	sonyTagSR2Key    = 0x7221

	sr2PadWords = 128
)

// sonyPad generates the 128-word u32 keystream from key, per spec.md
// §4.5 steps 1-4.
func sonyPad(key uint32) [sr2PadWords]uint32 {
	var pad [sr2PadWords]uint32

	for i := 0; i < 4; i++ {
		key = key*48828125 + 1
		pad[i] = key
	}
	pad[3] = (pad[3] << 1) | ((pad[0] ^ pad[2]) >> 31)
	for i := 4; i < 127; i++ {
		pad[i] = ((pad[i-4] ^ pad[i-2]) << 1) | ((pad[i-3] ^ pad[i-1]) >> 31)
	}
	for i := range pad {
		pad[i] = byteswap32(pad[i])
	}
	return pad
}

func byteswap32(v uint32) uint32 {
	return (v&0x000000ff)<<24 | (v&0x0000ff00)<<8 | (v&0x00ff0000)>>8 | (v&0xff000000)>>24
}

// sonyDecrypt transforms ciphertext into plaintext, per spec.md §4.5's
// rolling-index stream cipher. ciphertext's length must be a multiple of
// 4; a short final word is left untouched the way the original
// implementation drops a partial trailing word.
func sonyDecrypt(ciphertext []byte, key uint32, order binary.ByteOrder) []byte {
	pad := sonyPad(key)
	plain := make([]byte, len(ciphertext))
	copy(plain, ciphertext)

	p := uint32(127)
	n := len(plain) / 4
	for i := 0; i < n; i++ {
		pad[p&127] = pad[(p+1)&127] ^ pad[(p+65)&127]
		word := order.Uint32(plain[i*4 : i*4+4])
		order.PutUint32(plain[i*4:i*4+4], word^pad[p&127])
		p++
	}
	return plain
}

// maybeDecryptSR2Private implements the walker-side half of spec.md §4.5:
// once the outer IFD (identified by pathID) has had all its entries
// captured, look for the three SR2Private tags; if all three are present,
// decrypt the region and invoke the walker over the plaintext at the
// pre-declared inner path.
func (w *Walker) maybeDecryptSR2Private(pathID int) error {
	offsetItem, ok := w.store.Get(pathID, sonyTagSR2Offset)
	if !ok {
		return nil
	}
	lengthItem, ok := w.store.Get(pathID, sonyTagSR2Length)
	if !ok {
		return nil
	}
	keyItem, ok := w.store.Get(pathID, sonyTagSR2Key)
	if !ok {
		return nil
	}

	offset := int64(offsetItem.U32())
	length := lengthItem.U32()
	key := keyItem.U32()

	savedBias := w.c.Bias()
	if err := w.c.SeekAbsolute(offset); err != nil {
		return err
	}
	ciphertext, err := w.c.ReadVec(int(length))
	if err != nil {
		return err
	}
	w.c.SetBias(savedBias)

	plaintext := sonyDecrypt(ciphertext, key, w.c.byteOrder)

	innerCursor := NewCursor(bytes.NewReader(plaintext), w.c.byteOrder)
	innerCursor.SetBias(-offset)

	innerPath := w.idx.Path(w.sonyHint.InnerPathID)
	innerWalker := NewWalker(innerCursor, w.idx, w.store, w.warnf, nil)
	return innerWalker.Walk(innerPath)
}
