// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"sync"
	"testing"

	"github.com/molecula/objectdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// recorder replaces a ring's executor and records the tags it runs.
type recorder struct {
	mu   sync.Mutex
	tags []Tag
	fail map[Tag]int32
}

func hook(r *Ring) *recorder {
	rec := &recorder{fail: make(map[Tag]int32)}
	r.exec = func(sqe SQE) int32 {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.tags = append(rec.tags, sqe.Tag)
		if res, ok := rec.fail[sqe.Tag]; ok {
			return res
		}
		if sqe.Op == OpFdatasync {
			return 0
		}
		n := 0
		for _, iov := range sqe.Iovecs {
			n += len(iov)
		}
		return int32(n)
	}
	return rec
}

func (rec *recorder) executed() []Tag {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]Tag(nil), rec.tags...)
}

func TestRing(t *testing.T) {
	t.Run("CompletionsInOrder", func(t *testing.T) {
		r := NewRing(8)
		defer r.Close()
		hook(r)

		var sqes []SQE
		for i := uint64(1); i <= 5; i++ {
			sqes = append(sqes, SQE{Op: OpPwritev, Iovecs: [][]byte{make([]byte, i)}, Tag: NewTag(TagTxn, i)})
		}
		require.NoError(t, r.Submit(sqes))
		r.Wait(5)
		for i := uint64(1); i <= 5; i++ {
			cqe, ok := r.Peek()
			require.True(t, ok)
			assert.Equal(t, NewTag(TagTxn, i), cqe.Tag)
			assert.Equal(t, int32(i), cqe.Res)
			r.MarkSeen()
		}
		_, ok := r.Peek()
		assert.False(t, ok)
	})

	t.Run("LinkCancelsRestOfChain", func(t *testing.T) {
		r := NewRing(8)
		defer r.Close()
		rec := hook(r)
		a, b, c := NewTag(TagDecision, 1), NewTag(TagSync, 1), NewTag(TagTxn, 2)
		rec.fail[a] = -int32(unix.ENOSPC)

		require.NoError(t, r.Submit([]SQE{
			{Op: OpPwritev, Tag: a, Flags: FlagLink},
			{Op: OpFdatasync, Tag: b},
			{Op: OpPwritev, Tag: c},
		}))
		r.Wait(3)

		var got []CQE
		for {
			cqe, ok := r.Peek()
			if !ok {
				break
			}
			got = append(got, cqe)
			r.MarkSeen()
		}
		assert.Equal(t, []CQE{
			{Tag: a, Res: -int32(unix.ENOSPC)},
			{Tag: b, Res: -int32(unix.ECANCELED)},
			{Tag: c, Res: 0},
		}, got)
		assert.Equal(t, []Tag{a, c}, rec.executed())
	})

	t.Run("QueueFull", func(t *testing.T) {
		r := NewRing(2)
		defer r.Close()
		hook(r)
		err := r.Submit([]SQE{{Op: OpFdatasync}, {Op: OpFdatasync}, {Op: OpFdatasync}})
		assert.True(t, errors.Is(err, ErrQueueFull))

		// Unseen completions still occupy the ring.
		require.NoError(t, r.Submit([]SQE{{Op: OpFdatasync}, {Op: OpFdatasync}}))
		r.Wait(2)
		assert.True(t, errors.Is(r.Submit([]SQE{{Op: OpFdatasync}}), ErrQueueFull))
		r.MarkSeen()
		assert.NoError(t, r.Submit([]SQE{{Op: OpFdatasync}}))
	})

	t.Run("Closed", func(t *testing.T) {
		r := NewRing(2)
		r.Close()
		r.Close()
		assert.True(t, errors.Is(r.Submit([]SQE{{Op: OpFdatasync}}), ErrRingClosed))
	})
}

func TestAsyncWriteBatch(t *testing.T) {
	r := NewRing(8)
	defer r.Close()
	rec := hook(r)
	bad := NewTag(TagTxn, 2)
	rec.fail[bad] = -int32(unix.EIO)

	b := NewAsyncWriteBatch(r)
	require.NoError(t, b.AddPwritev(0, 0, [][]byte{[]byte("one")}, NewTag(TagTxn, 1), 0))
	require.NoError(t, b.AddPwritev(0, 3, [][]byte{[]byte("two")}, bad, 0))
	require.NoError(t, b.AddFdatasync(0, NewTag(TagSync, 0), 0))
	b.AddDecision(Decision{TxnID: 1, CommitTS: 4, Committed: true})
	assert.Equal(t, 3, b.Queued())

	require.NoError(t, b.SubmitOperationBatch(true))
	assert.Equal(t, 0, b.Queued())
	assert.Equal(t, 3, b.Pending())
	assert.True(t, errors.Is(b.Reset(), ErrBatchNotDrained))

	cqe, err := b.ValidateNextCompletion()
	require.NoError(t, err)
	assert.Equal(t, int32(3), cqe.Res)

	_, err = b.ValidateNextCompletion()
	require.True(t, errors.Is(err, ErrIOFailure))
	assert.Contains(t, err.Error(), "pwritev(txn 2)")

	cqes, err := b.ValidateAll()
	require.NoError(t, err)
	assert.Len(t, cqes, 1)
	assert.Len(t, b.Decisions(), 1)

	require.NoError(t, b.Reset())
	assert.Empty(t, b.Decisions())
	_, err = b.ValidateNextCompletion()
	assert.True(t, errors.Is(err, ErrBatchNotDrained))
}

func TestTag(t *testing.T) {
	tag := NewTag(TagDecision, 77)
	assert.Equal(t, TagDecision, tag.Kind())
	assert.Equal(t, uint64(77), tag.Value())
	assert.Equal(t, "fdatasync(3)", NewTag(TagSync, 3).String())
}
