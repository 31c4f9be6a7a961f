// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
	"github.com/molecula/objectdb/store"
	"github.com/molecula/objectdb/syswrap"
	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func mustOpenWriter(t *testing.T, cfg WriterConfig) *Writer {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	meta, err := OpenMetaStore(filepath.Join(cfg.Dir, MetaFileName))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	w, err := OpenWriter(cfg, meta)
	require.NoError(t, err)
	return w
}

func txn(id uint64, objs ...store.ID) TxnRecord {
	t := TxnRecord{TxnID: id}
	for _, o := range objs {
		t.Ops = append(t.Ops, TxnOp{Op: store.OpCreate, ID: o, Image: []byte{byte(o), 1, 2, 3}})
	}
	return t
}

func TestWriter(t *testing.T) {
	t.Run("RecoverCommitted", func(t *testing.T) {
		w := mustOpenWriter(t, WriterConfig{})
		dir := w.cfg.Dir

		require.NoError(t, w.AppendTxn(txn(1, 10, 11)))
		require.NoError(t, w.AppendTxn(txn(2, 12)))
		del := TxnRecord{TxnID: 4, Ops: []TxnOp{{Op: store.OpDelete, ID: 10, DeletedID: 10}}}
		require.NoError(t, w.AppendTxn(del))
		w.AppendDecision(Decision{TxnID: 1, CommitTS: 3, Committed: true})
		w.AppendDecision(Decision{TxnID: 2, CommitTS: 5})
		w.AppendDecision(Decision{TxnID: 4, CommitTS: 6, Committed: true})
		require.NoError(t, w.Flush(true))
		require.NoError(t, w.Close())

		rec, err := Recover(dir, logger.NewLogfLogger(t))
		require.NoError(t, err)
		exp := []CommittedTxn{
			{TxnRecord: txn(1, 10, 11), CommitTS: 3},
			{TxnRecord: del, CommitTS: 6},
		}
		if diff := cmp.Diff(exp, rec.Txns); diff != "" {
			t.Fatalf("recovered transactions (-want +got):\n%s", diff)
		}
		assert.Equal(t, uint64(6), rec.LastTimestamp)
		assert.Equal(t, 1, rec.Aborted)
		assert.Equal(t, 0, rec.Unresolved)
	})

	t.Run("UndecidedIsNotRecovered", func(t *testing.T) {
		w := mustOpenWriter(t, WriterConfig{})
		require.NoError(t, w.AppendTxn(txn(7, 1)))
		require.NoError(t, w.Close())

		rec, err := Recover(w.cfg.Dir, nil)
		require.NoError(t, err)
		assert.Empty(t, rec.Txns)
		assert.Equal(t, 1, rec.Unresolved)
	})

	t.Run("Rotation", func(t *testing.T) {
		open := syswrap.FileCount()
		w := mustOpenWriter(t, WriterConfig{FileSize: 128, QueueDepth: 4})
		for i := uint64(1); i <= 20; i++ {
			require.NoError(t, w.AppendTxn(txn(2*i-1, store.ID(i))))
			w.AppendDecision(Decision{TxnID: 2*i - 1, CommitTS: 2 * i, Committed: true})
			if i%3 == 0 {
				require.NoError(t, w.Flush(true))
			}
		}
		require.NoError(t, w.Close())

		paths, err := ListLogFiles(w.cfg.Dir)
		require.NoError(t, err)
		assert.Greater(t, len(paths), 2)

		rec, err := Recover(w.cfg.Dir, nil)
		require.NoError(t, err)
		require.Len(t, rec.Txns, 20)
		for i, ct := range rec.Txns {
			assert.Equal(t, uint64(2*(i+1)), ct.CommitTS)
		}
		// Rotated files are closed once their sync completes.
		assert.Equal(t, open, syswrap.FileCount())
	})

	t.Run("RecordTooLarge", func(t *testing.T) {
		w := mustOpenWriter(t, WriterConfig{FileSize: 64})
		defer w.Close()
		err := w.AppendTxn(TxnRecord{TxnID: 1, Ops: []TxnOp{{Op: store.OpCreate, ID: 1, Image: make([]byte, 100)}}})
		assert.True(t, errors.Is(err, ErrRecordTooLarge))
	})

	t.Run("ReopenStartsNewFile", func(t *testing.T) {
		dir := t.TempDir()
		meta, err := OpenMetaStore(filepath.Join(dir, MetaFileName))
		require.NoError(t, err)
		defer meta.Close()

		w, err := OpenWriter(WriterConfig{Dir: dir}, meta)
		require.NoError(t, err)
		first := w.File()
		require.NoError(t, w.Close())

		w, err = OpenWriter(WriterConfig{Dir: dir}, meta)
		require.NoError(t, err)
		defer w.Close()
		assert.NotEqual(t, first, w.File())
		assert.Equal(t, LogFileName(1), filepath.Base(w.File()))
	})
}

// A decision must never be written before the transaction record it refers
// to, and the durability barrier must follow the decision.
func TestWriterOrdering(t *testing.T) {
	w := mustOpenWriter(t, WriterConfig{Engine: EngineGoroutine})
	rec := hook(w.ring.(*Ring))

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, w.AppendTxn(txn(i, store.ID(i))))
		w.AppendDecision(Decision{TxnID: i, CommitTS: 10 + i, Committed: true})
	}
	require.NoError(t, w.Flush(true))

	tags := rec.executed()
	require.Len(t, tags, 6)
	for i := 0; i < 4; i++ {
		assert.Equal(t, NewTag(TagTxn, uint64(i+1)), tags[i])
	}
	assert.Equal(t, NewTag(TagDecision, 4), tags[4])
	assert.Equal(t, TagSync, tags[5].Kind())
	require.NoError(t, w.Close())
}

func TestWriterFlushFailure(t *testing.T) {
	w := mustOpenWriter(t, WriterConfig{Engine: EngineGoroutine})
	rec := hook(w.ring.(*Ring))
	rec.fail[NewTag(TagDecision, 1)] = -int32(unix.ENOSPC)

	require.NoError(t, w.AppendTxn(txn(1, 1)))
	w.AppendDecision(Decision{TxnID: 1, CommitTS: 2, Committed: true})
	err := w.Flush(true)
	require.True(t, errors.Is(err, ErrIOFailure))

	// The sync linked to the failed decision write never ran.
	tags := rec.executed()
	assert.Equal(t, []Tag{NewTag(TagTxn, 1), NewTag(TagDecision, 1)}, tags)

	// The batch is usable again.
	require.NoError(t, w.Flush(true))
	require.NoError(t, w.Close())
}

func TestReadLogFilePadding(t *testing.T) {
	w := &Writer{file: &LogFile{direct: true}}
	one := w.pad(EncodeTxn(txn(1, 5)))
	two := w.pad(EncodeDecisions([]Decision{{TxnID: 1, CommitTS: 2, Committed: true}}))
	require.Len(t, one, directio.BlockSize)
	require.True(t, directio.IsAligned(one))

	path := filepath.Join(t.TempDir(), LogFileName(0))
	require.NoError(t, os.WriteFile(path, append(one, two...), 0600))

	entries, err := ReadLogFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindTxn, entries[0].Kind)
	assert.Equal(t, KindDecision, entries[1].Kind)
	assert.Equal(t, int64(directio.BlockSize), entries[1].Offset)
}

func TestRecoverTornTail(t *testing.T) {
	w := mustOpenWriter(t, WriterConfig{})
	require.NoError(t, w.AppendTxn(txn(1, 1)))
	w.AppendDecision(Decision{TxnID: 1, CommitTS: 2, Committed: true})
	require.NoError(t, w.Flush(true))
	require.NoError(t, w.AppendTxn(txn(3, 2)))
	require.NoError(t, w.Flush(true))
	path := w.File()
	require.NoError(t, w.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-3))

	buf := logger.NewBufferLogger()
	rec, err := Recover(w.cfg.Dir, buf)
	require.NoError(t, err)
	require.Len(t, rec.Txns, 1)
	assert.Contains(t, buf.String(), "ignoring torn tail")

	// The same damage in an older file is fatal.
	require.NoError(t, os.WriteFile(filepath.Join(w.cfg.Dir, LogFileName(99)), nil, 0600))
	_, err = Recover(w.cfg.Dir, nil)
	assert.True(t, errors.Is(err, ErrCorruptRecord))
}

func TestLogFileName(t *testing.T) {
	assert.Equal(t, "00000000000000000042.log", LogFileName(42))
	seq, ok := ParseLogFileName("00000000000000000042.log")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), seq)
	_, ok = ParseLogFileName("meta.db")
	assert.False(t, ok)
}

func TestMetaStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetaFileName)
	m, err := OpenMetaStore(path)
	require.NoError(t, err)
	seq, err := m.NextLogSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)
	require.NoError(t, m.SetNextLogSeq(9))
	require.NoError(t, m.SetLastTimestamp(1234))
	require.NoError(t, m.Close())

	m, err = OpenMetaStore(path)
	require.NoError(t, err)
	defer m.Close()
	seq, err = m.NextLogSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seq)
	ts, err := m.LastTimestamp()
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), ts)
}
