// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/cespare/xxhash"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
	"github.com/ncw/directio"
)

// Entry is one record read back from a log file.
type Entry struct {
	File     string
	Offset   int64
	Kind     RecordKind
	Txn      *TxnRecord
	Decision *Decision
}

// ReadLogFile returns the records of the file at path in file order. Zero
// bytes where a header should start are padding; the reader moves to the
// next block boundary, and stops when the boundary itself is zero. On a
// corrupt record it returns the entries read so far along with an error.
func ReadLogFile(path string) ([]Entry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	var entries []Entry
	off := int64(0)
	for off+4 <= int64(len(buf)) {
		if binary.LittleEndian.Uint32(buf[off:]) == 0 {
			if off%directio.BlockSize == 0 {
				break
			}
			off = (off/directio.BlockSize + 1) * directio.BlockSize
			continue
		}
		e, n, err := readRecord(path, buf, off)
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
		off += n
	}
	return entries, nil
}

func readRecord(path string, buf []byte, off int64) (Entry, int64, error) {
	if int64(len(buf))-off < RecordHeaderSize {
		return Entry{}, 0, NewErrCorruptRecord(path, off, "truncated header")
	}
	hdr := buf[off : off+RecordHeaderSize]
	if magic := binary.LittleEndian.Uint32(hdr); magic != RecordMagic {
		return Entry{}, 0, NewErrCorruptRecord(path, off, "bad magic")
	}
	kind := RecordKind(hdr[4])
	length := int64(binary.LittleEndian.Uint32(hdr[5:]))
	sum := binary.LittleEndian.Uint64(hdr[9:])
	if int64(len(buf))-off-RecordHeaderSize < length {
		return Entry{}, 0, NewErrCorruptRecord(path, off, "truncated body")
	}
	body := buf[off+RecordHeaderSize : off+RecordHeaderSize+length]
	if xxhash.Sum64(body) != sum {
		return Entry{}, 0, NewErrCorruptRecord(path, off, "checksum mismatch")
	}

	e := Entry{File: path, Offset: off, Kind: kind}
	switch kind {
	case KindTxn:
		t, ok := decodeTxn(body)
		if !ok {
			return Entry{}, 0, NewErrCorruptRecord(path, off, "malformed transaction")
		}
		e.Txn = &t
	case KindDecision:
		d, ok := decodeDecision(body)
		if !ok {
			return Entry{}, 0, NewErrCorruptRecord(path, off, "malformed decision")
		}
		e.Decision = &d
	default:
		return Entry{}, 0, NewErrCorruptRecord(path, off, "unknown record kind")
	}
	return e, RecordHeaderSize + length, nil
}

// CommittedTxn is a transaction whose commit decision reached the log.
type CommittedTxn struct {
	TxnRecord
	CommitTS uint64
}

// Recovery is the state reconstructed from a log directory.
type Recovery struct {
	// Txns holds the committed transactions in commit order.
	Txns []CommittedTxn

	// LastTimestamp is the largest transaction id or commit timestamp seen.
	LastTimestamp uint64

	Files   int
	Aborted int
	// Unresolved counts transaction records without a decision.
	Unresolved int
}

// Recover reads every log file in dir. A corrupt record at the end of the
// newest file is a write that was in flight at a crash; it and anything
// after it are ignored. Corruption anywhere else is an error.
func Recover(dir string, log logger.Logger) (*Recovery, error) {
	if log == nil {
		log = logger.NopLogger
	}
	paths, err := ListLogFiles(dir)
	if err != nil {
		return nil, err
	}

	rec := &Recovery{Files: len(paths)}
	txns := make(map[uint64]*TxnRecord)
	for i, path := range paths {
		entries, err := ReadLogFile(path)
		if err != nil {
			if i != len(paths)-1 || !errors.Is(err, ErrCorruptRecord) {
				return nil, err
			}
			log.Warnf("ignoring torn tail of %s: %v", path, err)
		}
		for _, e := range entries {
			switch e.Kind {
			case KindTxn:
				txns[e.Txn.TxnID] = e.Txn
				if e.Txn.TxnID > rec.LastTimestamp {
					rec.LastTimestamp = e.Txn.TxnID
				}
			case KindDecision:
				d := e.Decision
				if d.CommitTS > rec.LastTimestamp {
					rec.LastTimestamp = d.CommitTS
				}
				t, ok := txns[d.TxnID]
				if !ok {
					log.Warnf("decision for unknown transaction %d in %s", d.TxnID, path)
					continue
				}
				delete(txns, d.TxnID)
				if !d.Committed {
					rec.Aborted++
					continue
				}
				rec.Txns = append(rec.Txns, CommittedTxn{TxnRecord: *t, CommitTS: d.CommitTS})
			}
		}
	}
	rec.Unresolved = len(txns)
	sort.Slice(rec.Txns, func(i, j int) bool { return rec.Txns[i].CommitTS < rec.Txns[j].CommitTS })
	return rec, nil
}
