// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"os"
	"path/filepath"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
	"github.com/molecula/objectdb/persistence"
	"github.com/molecula/objectdb/store"
)

// recoverHeap replays the committed transactions found in dir onto an empty
// heap, in commit order.
func recoverHeap(dir string, heap *store.Heap, locators *store.Locators, log logger.Logger) (*persistence.Recovery, error) {
	rec, err := persistence.Recover(dir, log)
	if err != nil {
		return nil, err
	}
	objects := 0
	for _, t := range rec.Txns {
		for i, op := range t.Ops {
			switch op.Op {
			case store.OpCreate, store.OpUpdate:
				id, err := store.Restore(heap, locators, op.Image)
				if err != nil {
					return nil, errors.Wrapf(err, "restoring op %d of transaction %d", i, t.TxnID)
				}
				if id != op.ID {
					return nil, errors.Newf(ErrMalformedTxnLog, "op %d of transaction %d restores object %d, want %d", i, t.TxnID, id, op.ID)
				}
			case store.OpDelete:
				if uint64(op.ID) >= uint64(locators.Len()) {
					return nil, store.NewErrLocatorsExhausted(op.ID, locators.Len())
				}
				locators.Set(op.ID, store.InvalidOffset)
				heap.ReserveID(op.ID)
			default:
				return nil, errors.Newf(ErrMalformedTxnLog, "op %d of transaction %d: unknown operation %d", i, t.TxnID, op.Op)
			}
			objects++
		}
	}
	if rec.Files > 0 {
		log.Infof("recovered %d transactions (%d changes) from %d log files, %d aborted, %d undecided",
			len(rec.Txns), objects, rec.Files, rec.Aborted, rec.Unresolved)
	}
	return rec, nil
}

// compact writes every live object as committed transactions to the
// current log file and removes the log files before it. The id high-water
// mark is carried by a delete of the last id handed out when that object is
// gone, so ids are never reused after a restart. It returns the last
// timestamp used.
func compact(dir string, w *persistence.Writer, heap *store.Heap, locators *store.Locators, ts uint64, maxRecord int64, log logger.Logger) (uint64, error) {
	first, ok := persistence.ParseLogFileName(filepath.Base(w.File()))
	if !ok {
		return ts, errors.Errorf("unexpected log file name %s", w.File())
	}

	var (
		t    persistence.TxnRecord
		size int64
		txns int
	)
	flushTxn := func() error {
		if len(t.Ops) == 0 {
			return nil
		}
		if err := w.AppendTxn(t); err != nil {
			return err
		}
		ts++
		w.AppendDecision(persistence.Decision{TxnID: t.TxnID, CommitTS: ts, Committed: true})
		t, size = persistence.TxnRecord{}, 0
		txns++
		return nil
	}
	add := func(op persistence.TxnOp) error {
		n := persistence.TxnOpSize(op)
		if len(t.Ops) > 0 && size+n > maxRecord {
			if err := flushTxn(); err != nil {
				return err
			}
		}
		if len(t.Ops) == 0 {
			ts++
			t.TxnID = ts
		}
		t.Ops = append(t.Ops, op)
		size += n
		return nil
	}

	high := heap.IDHighWater()
	for id := store.ID(1); id < high && uint64(id) < uint64(locators.Len()); id++ {
		off := locators.Get(id)
		if off == store.InvalidOffset {
			continue
		}
		obj, err := store.ObjectAt(heap.Bytes(), off)
		if err != nil {
			return ts, errors.Wrapf(err, "reading object %d", id)
		}
		if err := add(persistence.TxnOp{Op: store.OpCreate, ID: id, Image: obj.Image()}); err != nil {
			return ts, err
		}
	}
	if last := high - 1; last > store.InvalidID && locators.Get(last) == store.InvalidOffset {
		if err := add(persistence.TxnOp{Op: store.OpDelete, ID: last, DeletedID: last}); err != nil {
			return ts, err
		}
	}
	if err := flushTxn(); err != nil {
		return ts, err
	}
	if err := w.Flush(true); err != nil {
		return ts, err
	}

	paths, err := persistence.ListLogFiles(dir)
	if err != nil {
		return ts, err
	}
	removed := 0
	for _, path := range paths {
		if seq, ok := persistence.ParseLogFileName(filepath.Base(path)); ok && seq < first {
			if err := os.Remove(path); err != nil {
				return ts, errors.Wrapf(err, "removing %s", path)
			}
			removed++
		}
	}
	log.Infof("compacted log into %d transactions, removed %d old log files", txns, removed)
	return ts, nil
}
