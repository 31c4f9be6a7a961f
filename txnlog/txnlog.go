// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package txnlog implements the per-transaction mutation log. Logs live in
// fixed-size slots of the shared logs segment: the client appends to the
// slot it was given when the transaction began and the server reads it back
// when the transaction commits.
package txnlog

import (
	"encoding/binary"
	"fmt"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/store"
)

const (
	// HeaderSize is the size of a slot header: txn id u64, count u64.
	HeaderSize = 16

	// RecordSize is the size of one record: locator, old offset, new offset,
	// deleted id and operation, each a u64.
	RecordSize = 40
)

// SlotSize returns the size of a slot holding capacity records.
func SlotSize(capacity int) int {
	return HeaderSize + capacity*RecordSize
}

// Record describes one locator change.
type Record struct {
	Locator   store.ID
	OldOffset store.Offset
	NewOffset store.Offset
	Operation store.Operation
	DeletedID store.ID
}

func (r Record) String() string {
	return fmt.Sprintf("%s locator=%d old=%d new=%d deleted=%d", r.Operation, r.Locator, r.OldOffset, r.NewOffset, r.DeletedID)
}

var _ store.Recorder = (*Log)(nil)

// Log is a view of one slot. Appending does no locking: a slot belongs to
// exactly one transaction at a time.
type Log struct {
	buf []byte
}

// At returns the log in the slot starting at offset in mem.
func At(mem []byte, offset uint64, capacity int) *Log {
	size := uint64(SlotSize(capacity))
	errors.AssertPrecondition(offset+size <= uint64(len(mem)), "log slot out of bounds")
	return &Log{buf: mem[offset : offset+size : offset+size]}
}

// Reset empties the log and assigns it to txnID.
func (l *Log) Reset(txnID uint64) {
	binary.LittleEndian.PutUint64(l.buf[0:], txnID)
	binary.LittleEndian.PutUint64(l.buf[8:], 0)
}

func (l *Log) TxnID() uint64 { return binary.LittleEndian.Uint64(l.buf[0:]) }

func (l *Log) Len() int { return int(binary.LittleEndian.Uint64(l.buf[8:])) }

func (l *Log) Capacity() int { return (len(l.buf) - HeaderSize) / RecordSize }

// Append adds a record. Running out of room is a bug in the caller and
// panics.
func (l *Log) Append(locator store.ID, oldOffset, newOffset store.Offset, op store.Operation, deletedID store.ID) {
	n := l.Len()
	errors.AssertInvariant(n < l.Capacity(), fmt.Sprintf("transaction log is full (%d records)", n))
	rec := l.buf[HeaderSize+n*RecordSize:]
	binary.LittleEndian.PutUint64(rec[0:], uint64(locator))
	binary.LittleEndian.PutUint64(rec[8:], uint64(oldOffset))
	binary.LittleEndian.PutUint64(rec[16:], uint64(newOffset))
	binary.LittleEndian.PutUint64(rec[24:], uint64(deletedID))
	binary.LittleEndian.PutUint64(rec[32:], uint64(op))
	binary.LittleEndian.PutUint64(l.buf[8:], uint64(n+1))
}

// Record returns record i.
func (l *Log) Record(i int) Record {
	errors.AssertPrecondition(i >= 0 && i < l.Len(), "log record out of range")
	rec := l.buf[HeaderSize+i*RecordSize:]
	return Record{
		Locator:   store.ID(binary.LittleEndian.Uint64(rec[0:])),
		OldOffset: store.Offset(binary.LittleEndian.Uint64(rec[8:])),
		NewOffset: store.Offset(binary.LittleEndian.Uint64(rec[16:])),
		DeletedID: store.ID(binary.LittleEndian.Uint64(rec[24:])),
		Operation: store.Operation(binary.LittleEndian.Uint64(rec[32:])),
	}
}

// Records returns a copy of every record in append order.
func (l *Log) Records() []Record {
	n := l.Len()
	errors.AssertInvariant(n <= l.Capacity(), "corrupt transaction log count")
	out := make([]Record, n)
	for i := range out {
		out[i] = l.Record(i)
	}
	return out
}

// Apply replays l onto locators in record order.
func Apply(l *Log, locators store.LocatorTable) {
	for i, n := 0, l.Len(); i < n; i++ {
		r := l.Record(i)
		locators.Set(r.Locator, r.NewOffset)
	}
}
