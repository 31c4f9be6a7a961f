// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/messages"
	"github.com/molecula/objectdb/store"
	"github.com/molecula/objectdb/txnlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txnFixture struct {
	heap     *store.Heap
	locators *store.Locators
	m        *txnManager
}

func newTxnFixture(t *testing.T, slots int) *txnFixture {
	t.Helper()
	heap, err := store.InitHeap(make([]byte, 1<<16))
	require.NoError(t, err)
	locators := store.NewLocators(make([]byte, 64*store.LocatorSize))
	s := txnlog.NewSlots(make([]byte, slots*txnlog.SlotSize(16)), 16)
	return &txnFixture{heap: heap, locators: locators, m: newTxnManager(s, locators, 0)}
}

// store returns a store writing into t's log over a snapshot of the shared
// locators with refs applied.
func (f *txnFixture) store(t *txn, refs []messages.LogRef) *store.Store {
	o := store.NewOverlay(f.locators)
	for _, r := range refs {
		txnlog.Apply(f.m.slots.Log(r.LogOffset), o)
	}
	return store.New(f.heap, o, f.m.slots.Log(t.slot))
}

// commit decides t the way the server does, without validators.
func (f *txnFixture) commit(tb testing.TB, t *txn) bool {
	recs, err := f.m.records(t, f.heap)
	require.NoError(tb, err)
	if _, ok := f.m.conflicts(t, recs); ok {
		f.m.finish(t)
		return false
	}
	ts, err := f.m.commitTimestamp()
	require.NoError(tb, err)
	f.m.committed(t, recs, ts)
	return true
}

func (f *txnFixture) begin(tb testing.TB) (*txn, *store.Store) {
	t, refs, err := f.m.begin("test")
	require.NoError(tb, err)
	return t, f.store(t, refs)
}

func TestTxnManager(t *testing.T) {
	t.Run("Timestamps", func(t *testing.T) {
		f := newTxnFixture(t, 4)
		t1, _ := f.begin(t)
		t2, _ := f.begin(t)
		assert.Equal(t, uint64(1), t1.id)
		assert.Equal(t, uint64(2), t2.id)
		ts, err := f.m.commitTimestamp()
		require.NoError(t, err)
		assert.Equal(t, uint64(3), ts)
	})

	t.Run("Conflict", func(t *testing.T) {
		f := newTxnFixture(t, 4)
		t0, st := f.begin(t)
		a, err := st.Create(store.InvalidID, 1, 0, []byte("a"))
		require.NoError(t, err)
		require.True(t, f.commit(t, t0))

		t1, st1 := f.begin(t)
		t2, st2 := f.begin(t)
		_, err = st1.Update(a.ID(), []byte("1"))
		require.NoError(t, err)
		_, err = st2.Update(a.ID(), []byte("2"))
		require.NoError(t, err)
		assert.True(t, f.commit(t, t1))
		assert.False(t, f.commit(t, t2))

		// t1's write is applied once nothing older is active.
		assert.Empty(t, f.m.pending)
		p, err := store.New(f.heap, f.locators, nil).Open(a.ID())
		require.NoError(t, err)
		assert.Equal(t, "1", string(p.Data()))
		assert.Equal(t, 0, f.m.lastWrite.Len())
	})

	t.Run("BeginAfterCommitDoesNotConflict", func(t *testing.T) {
		f := newTxnFixture(t, 4)
		t0, st := f.begin(t)
		a, err := st.Create(store.InvalidID, 1, 0, []byte("a"))
		require.NoError(t, err)
		hold, _ := f.begin(t) // keeps t0's log pending
		require.True(t, f.commit(t, t0))
		require.Len(t, f.m.pending, 1)

		t1, refs, err := f.m.begin("test")
		require.NoError(t, err)
		if diff := cmp.Diff([]messages.LogRef{{CommitTimestamp: 3, LogOffset: t0.slot}}, refs); diff != "" {
			t.Fatalf("refs mismatch (-want +got):\n%s", diff)
		}
		st1 := f.store(t1, refs)
		_, err = st1.Update(a.ID(), []byte("b"))
		require.NoError(t, err)
		assert.True(t, f.commit(t, t1))

		// Shared locators still show the state hold began with.
		assert.Equal(t, store.InvalidOffset, f.locators.Get(a.ID()))
		f.m.finish(hold)
		assert.Empty(t, f.m.pending)
		p, err := store.New(f.heap, f.locators, nil).Open(a.ID())
		require.NoError(t, err)
		assert.Equal(t, "b", string(p.Data()))
		assert.Equal(t, 4, f.m.slots.Free())
	})

	t.Run("NoLogSlot", func(t *testing.T) {
		f := newTxnFixture(t, 1)
		t1, _ := f.begin(t)
		_, _, err := f.m.begin("test")
		require.True(t, errors.Is(err, ErrNoLogSlot))
		f.m.finish(t1)
		f.m.finish(t1) // no-op
		assert.Equal(t, 1, f.m.slots.Free())
	})

	t.Run("MalformedLog", func(t *testing.T) {
		f := newTxnFixture(t, 2)
		t1, _ := f.begin(t)
		l := f.m.slots.Log(t1.slot)
		l.Append(store.ID(3), store.InvalidOffset, store.Offset(1000), store.OpCreate, store.InvalidID)
		_, err := f.m.records(t1, f.heap)
		require.Error(t, err)

		t2, _ := f.begin(t)
		f.m.slots.Log(t2.slot).Reset(99)
		_, err = f.m.records(t2, f.heap)
		require.True(t, errors.Is(err, ErrMalformedTxnLog))

		t3 := &txn{id: t2.id, slot: t2.slot}
		f.m.slots.Log(t3.slot).Reset(t3.id)
		f.m.slots.Log(t3.slot).Append(store.ID(1000), store.InvalidOffset, store.InvalidOffset, store.OpDelete, store.ID(1000))
		_, err = f.m.records(t3, f.heap)
		require.True(t, errors.Is(err, ErrMalformedTxnLog))
	})

	t.Run("View", func(t *testing.T) {
		f := newTxnFixture(t, 4)
		t0, st := f.begin(t)
		a, err := st.Create(store.InvalidID, 1, 0, []byte("a"))
		require.NoError(t, err)
		hold, _ := f.begin(t)
		require.True(t, f.commit(t, t0))

		t1, st1 := f.begin(t)
		b, err := st1.Create(store.InvalidID, 1, 0, []byte("b"))
		require.NoError(t, err)
		recs, err := f.m.records(t1, f.heap)
		require.NoError(t, err)

		view := f.m.view(f.heap, recs)
		for _, id := range []store.ID{a.ID(), b.ID()} {
			_, err := view.Open(id)
			assert.NoError(t, err)
		}
		_, err = view.Create(store.InvalidID, 1, 0, nil)
		assert.True(t, errors.Is(err, store.ErrReadOnly))
		f.m.finish(hold)
		f.m.finish(t1)
	})

	t.Run("ActiveSessions", func(t *testing.T) {
		f := newTxnFixture(t, 4)
		_, _, err := f.m.begin("b")
		require.NoError(t, err)
		_, _, err = f.m.begin("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"a:2", "b:1"}, f.m.activeSessions())
	})
}

func TestHashUint64(t *testing.T) {
	assert.Equal(t, uint32(7), hashUint64(7))
	assert.NotEqual(t, hashUint64(1<<40), hashUint64(1<<41))
	h := &uint64Hasher{}
	assert.True(t, h.Equal(3, 3))
	assert.False(t, h.Equal(3, 4))
}
