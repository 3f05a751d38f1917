package disk

import (
	"sort"
	"sync/atomic"

	"github.com/downfa11-org/cursus-queue/pkg/types"
)

// The sparse index holds the byte position of every indexSpacing-th
// sequence. Slots fill in order, so the filled slots form a prefix.

func (s *Store) indexSlot(slot int) *int64 {
	if slot < 0 || slot >= s.indexCount {
		return nil
	}
	b, err := s.file.Bytes(s.indexOffset+int64(slot)*types.IndexEntrySize, types.IndexEntrySize)
	if err != nil {
		return nil
	}
	return word64(b, 0)
}

func (s *Store) indexRecord(seq, pos int64) {
	spacing := int64(s.indexSpacing)
	if seq%spacing != 0 {
		return
	}
	if p := s.indexSlot(int(seq / spacing)); p != nil {
		atomic.StoreInt64(p, pos)
	}
}

// indexedSlots counts the filled prefix of the index by binary search.
func (s *Store) indexedSlots() int {
	return sort.Search(s.indexCount, func(i int) bool {
		p := s.indexSlot(i)
		return p == nil || atomic.LoadInt64(p) == 0
	})
}

// nearestIndexed returns the closest indexed (position, sequence) at or
// before seq, falling back to the start of the data region.
func (s *Store) nearestIndexed(seq int64) (int64, int64) {
	slot := int(seq / int64(s.indexSpacing))
	if filled := s.indexedSlots(); slot >= filled {
		slot = filled - 1
	}
	if slot < 0 {
		return s.dataOffset, 0
	}
	return atomic.LoadInt64(s.indexSlot(slot)), int64(slot) * int64(s.indexSpacing)
}
