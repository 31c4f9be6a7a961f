// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package txnlog

// Slots hands out the log slots of a logs segment. It is used only by the
// server and is not safe for concurrent use.
type Slots struct {
	mem      []byte
	capacity int
	free     []uint64
}

// NewSlots divides mem into as many slots of capacity records as fit.
func NewSlots(mem []byte, capacity int) *Slots {
	size := uint64(SlotSize(capacity))
	n := uint64(len(mem)) / size
	s := &Slots{mem: mem, capacity: capacity, free: make([]uint64, 0, n)}
	for i := n; i > 0; i-- {
		s.free = append(s.free, (i-1)*size)
	}
	return s
}

// Acquire takes a free slot and resets it for txnID. It returns false when
// every slot is in use.
func (s *Slots) Acquire(txnID uint64) (uint64, bool) {
	if len(s.free) == 0 {
		return 0, false
	}
	off := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.Log(off).Reset(txnID)
	return off, true
}

// Release returns the slot at off to the free list.
func (s *Slots) Release(off uint64) {
	s.free = append(s.free, off)
}

// Log returns the log in the slot at off.
func (s *Slots) Log(off uint64) *Log {
	return At(s.mem, off, s.capacity)
}

// Free returns the number of unused slots.
func (s *Slots) Free() int { return len(s.free) }

// Capacity returns the number of records per slot.
func (s *Slots) Capacity() int { return s.capacity }
