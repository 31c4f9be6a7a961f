// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package store

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/molecula/objectdb/errors"
)

const (
	HeapMagic   uint32 = 0x4f424a48 // "OBJH"
	HeapVersion uint32 = 1

	// HeapHeaderSize is the size of the header at the start of the data
	// segment: magic u32, version u32, next_offset u64, next_id u64,
	// capacity u64.
	HeapHeaderSize = 32

	heapNextOffsetPos = 8
	heapNextIDPos     = 16
	heapCapacityPos   = 24
)

// Heap allocates object space in the data segment. The allocation cursor and
// the id counter live in the segment header and are advanced atomically so
// that every process mapping the segment shares them.
type Heap struct {
	mem []byte
}

// InitHeap writes a fresh header over mem. It is called once, by the server,
// on a newly created data segment.
func InitHeap(mem []byte) (*Heap, error) {
	if len(mem) < HeapHeaderSize {
		return nil, errors.New(ErrInvalidHeap, fmt.Sprintf("data segment too small: %d bytes", len(mem)))
	}
	binary.LittleEndian.PutUint32(mem[0:], HeapMagic)
	binary.LittleEndian.PutUint32(mem[4:], HeapVersion)
	binary.LittleEndian.PutUint64(mem[heapCapacityPos:], uint64(len(mem)))
	h := &Heap{mem: mem}
	atomic.StoreUint64(h.word(heapNextOffsetPos), HeapHeaderSize)
	atomic.StoreUint64(h.word(heapNextIDPos), 1)
	return h, nil
}

// OpenHeap validates the header of an already initialized data segment.
func OpenHeap(mem []byte) (*Heap, error) {
	if len(mem) < HeapHeaderSize {
		return nil, errors.New(ErrInvalidHeap, fmt.Sprintf("data segment too small: %d bytes", len(mem)))
	}
	if magic := binary.LittleEndian.Uint32(mem[0:]); magic != HeapMagic {
		return nil, errors.New(ErrInvalidHeap, fmt.Sprintf("bad heap magic %#x", magic))
	}
	if v := binary.LittleEndian.Uint32(mem[4:]); v != HeapVersion {
		return nil, errors.New(ErrInvalidHeap, fmt.Sprintf("unsupported heap version %d", v))
	}
	if c := binary.LittleEndian.Uint64(mem[heapCapacityPos:]); c > uint64(len(mem)) {
		return nil, errors.New(ErrInvalidHeap, fmt.Sprintf("heap capacity %d exceeds mapping size %d", c, len(mem)))
	}
	return &Heap{mem: mem}, nil
}

// word returns the header field at pos. The segment is page aligned so the
// field is 8-byte aligned.
func (h *Heap) word(pos int) *uint64 {
	return (*uint64)(unsafe.Pointer(&h.mem[pos]))
}

// Capacity returns the total size of the segment, header included.
func (h *Heap) Capacity() uint64 {
	return binary.LittleEndian.Uint64(h.mem[heapCapacityPos:])
}

// Used returns the number of bytes allocated so far, header included.
func (h *Heap) Used() uint64 {
	return atomic.LoadUint64(h.word(heapNextOffsetPos))
}

// Allocate reserves size bytes rounded up to 8 and returns their offset.
func (h *Heap) Allocate(size uint64) (Offset, error) {
	aligned := (size + 7) &^ 7
	capacity := h.Capacity()
	next := h.word(heapNextOffsetPos)
	for {
		cur := atomic.LoadUint64(next)
		end := cur + aligned
		if end > capacity || end < cur {
			return InvalidOffset, NewErrHeapFull(size, capacity)
		}
		if atomic.CompareAndSwapUint64(next, cur, end) {
			return Offset(cur), nil
		}
	}
}

// NextID hands out a new object id.
func (h *Heap) NextID() ID {
	return ID(atomic.AddUint64(h.word(heapNextIDPos), 1) - 1)
}

// IDHighWater returns the smallest id that has not been handed out.
func (h *Heap) IDHighWater() ID {
	return ID(atomic.LoadUint64(h.word(heapNextIDPos)))
}

// ReserveID makes sure id is never handed out by NextID.
func (h *Heap) ReserveID(id ID) {
	next := h.word(heapNextIDPos)
	for {
		cur := atomic.LoadUint64(next)
		if uint64(id) < cur || atomic.CompareAndSwapUint64(next, cur, uint64(id)+1) {
			return
		}
	}
}

// Bytes returns the whole segment.
func (h *Heap) Bytes() []byte { return h.mem }
