// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package selexif

import (
	"encoding/binary"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
)

func TestResultStoreSetGet(t *testing.T) {
	c := qt.New(t)

	s := NewResultStore()
	c.Assert(s.Len(), qt.Equals, 0)

	item := IFDItem{ByteOrder: binary.BigEndian, Tag: 0x010F, Inline: [4]byte{'A', 'B', 0, 0}}
	s.set(0, 0x010F, item)

	got, ok := s.Get(0, 0x010F)
	c.Assert(ok, qt.IsTrue)
	if diff := cmp.Diff(item, got); diff != "" {
		t.Fatalf("IFDItem mismatch (-want +got):\n%s", diff)
	}
	c.Assert(s.Len(), qt.Equals, 1)

	_, ok = s.Get(0, 0x9999)
	c.Assert(ok, qt.IsFalse)

	// Same tag, different path: coexists.
	s.set(1, 0x010F, item)
	c.Assert(s.Len(), qt.Equals, 2)

	// Same (path, tag): overwrite.
	s.set(0, 0x010F, IFDItem{Tag: 0x010F, Count: 9})
	updated, ok := s.Get(0, 0x010F)
	c.Assert(ok, qt.IsTrue)
	c.Assert(updated.Count, qt.Equals, uint32(9))
	c.Assert(s.Len(), qt.Equals, 2)
}

func TestResultStoreLittleEndian(t *testing.T) {
	c := qt.New(t)

	s := NewResultStore()
	c.Assert(s.IsLittleEndian(), qt.IsFalse)
	s.setLittleEndian(true)
	c.Assert(s.IsLittleEndian(), qt.IsTrue)
}

func TestResultStoreAll(t *testing.T) {
	c := qt.New(t)

	s := NewResultStore()
	s.set(0, 1, IFDItem{Tag: 1})
	s.set(0, 2, IFDItem{Tag: 2})
	s.set(1, 1, IFDItem{Tag: 1})

	seen := map[storeKey]bool{}
	s.All(func(pathID int, tag uint16, item IFDItem) {
		seen[storeKey{pathID, tag}] = true
	})
	c.Assert(len(seen), qt.Equals, 3)
}
