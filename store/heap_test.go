// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package store_test

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_Allocate(t *testing.T) {
	mem := make([]byte, 256)
	h, err := store.InitHeap(mem)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), h.Capacity())
	assert.Equal(t, uint64(store.HeapHeaderSize), h.Used())

	off, err := h.Allocate(5)
	require.NoError(t, err)
	assert.Equal(t, store.Offset(store.HeapHeaderSize), off)

	off, err = h.Allocate(8)
	require.NoError(t, err)
	assert.Equal(t, store.Offset(store.HeapHeaderSize+8), off, "allocations are 8 byte aligned")

	_, err = h.Allocate(1024)
	require.True(t, errors.Is(err, store.ErrHeapFull), err)

	// A failed allocation leaves the cursor alone.
	assert.Equal(t, uint64(store.HeapHeaderSize+16), h.Used())
}

func TestHeap_ConcurrentAllocate(t *testing.T) {
	h, err := store.InitHeap(make([]byte, 1<<20))
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[store.Offset]bool)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				off, err := h.Allocate(24)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[off] {
					t.Errorf("offset %d allocated twice", off)
				}
				seen[off] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}

func TestHeap_IDs(t *testing.T) {
	h, err := store.InitHeap(make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, store.ID(1), h.NextID())
	assert.Equal(t, store.ID(2), h.NextID())
	h.ReserveID(10)
	assert.Equal(t, store.ID(11), h.NextID())
	h.ReserveID(3)
	assert.Equal(t, store.ID(12), h.IDHighWater())
}

func TestOpenHeap(t *testing.T) {
	mem := make([]byte, 128)
	_, err := store.OpenHeap(mem)
	require.True(t, errors.Is(err, store.ErrInvalidHeap), err)

	h, err := store.InitHeap(mem)
	require.NoError(t, err)
	_, err = h.Allocate(16)
	require.NoError(t, err)

	other, err := store.OpenHeap(mem)
	require.NoError(t, err)
	assert.Equal(t, h.Used(), other.Used())

	_, err = store.OpenHeap(make([]byte, 8))
	require.True(t, errors.Is(err, store.ErrInvalidHeap), err)
}

func TestObjectAt(t *testing.T) {
	mem := make([]byte, 256)
	_, err := store.InitHeap(mem)
	require.NoError(t, err)

	put := func(off int, id, numRefs, payloadSize uint64) {
		binary.LittleEndian.PutUint64(mem[off:], id)
		binary.LittleEndian.PutUint32(mem[off+8:], 1)
		binary.LittleEndian.PutUint64(mem[off+12:], numRefs)
		binary.LittleEndian.PutUint64(mem[off+20:], payloadSize)
	}

	put(32, 1, 2, 20)
	obj, err := store.ObjectAt(mem, 32)
	require.NoError(t, err)
	assert.Equal(t, store.ID(1), obj.ID())
	assert.Equal(t, 2, obj.NumReferences())
	assert.Equal(t, uint64(20), obj.PayloadSize())
	assert.Len(t, obj.Image(), store.ObjectHeaderSize+20)

	tests := []struct {
		name    string
		off     store.Offset
		numRefs uint64
		size    uint64
	}{
		{name: "Invalid", off: store.InvalidOffset},
		{name: "HeaderPastEnd", off: 240},
		{name: "PayloadPastEnd", off: 64, size: 1000},
		{name: "RefsExceedPayload", off: 64, numRefs: 3, size: 16},
		{name: "HugeRefs", off: 64, numRefs: 1 << 62, size: 16},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.off == 64 {
				put(64, 2, test.numRefs, test.size)
			}
			_, err := store.ObjectAt(mem, test.off)
			require.True(t, errors.Is(err, store.ErrInvalidObject), err)
		})
	}
}

func TestOverlay(t *testing.T) {
	base := store.NewLocators(make([]byte, 8*store.LocatorSize))
	base.Set(1, 100)
	o := store.NewOverlay(base)
	o.Set(1, 200)
	o.Set(2, 300)
	assert.Equal(t, store.Offset(200), o.Get(1))
	assert.Equal(t, store.Offset(300), o.Get(2))
	assert.Equal(t, store.Offset(100), base.Get(1))
	assert.Equal(t, store.InvalidOffset, base.Get(2))
	assert.Equal(t, store.InvalidOffset, base.Get(100))
}
