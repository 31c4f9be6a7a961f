// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/molecula/objectdb/store"
	"github.com/ncw/directio"
)

// Record header layout, little endian:
//
//	magic    u32
//	kind     u8
//	length   u32 (body length)
//	checksum u64 (xxhash64 of the body)
const (
	RecordMagic      uint32 = 0x4c42444f // "ODBL"
	RecordHeaderSize        = 17
)

// RecordKind identifies the body of a record.
type RecordKind uint8

const (
	KindTxn RecordKind = iota + 1
	KindDecision
)

func (k RecordKind) String() string {
	switch k {
	case KindTxn:
		return "txn"
	case KindDecision:
		return "decision"
	}
	return "unknown"
}

// TxnOp is one change of a persisted transaction. Image holds the complete
// object (header and payload) for creates and updates.
type TxnOp struct {
	Op        store.Operation
	ID        store.ID
	DeletedID store.ID
	Image     []byte
}

// TxnRecord is a transaction as written to the log.
type TxnRecord struct {
	TxnID uint64
	Ops   []TxnOp
}

func appendHeader(b []byte, kind RecordKind, body []byte) []byte {
	var hdr [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], RecordMagic)
	hdr[4] = byte(kind)
	binary.LittleEndian.PutUint32(hdr[5:], uint32(len(body)))
	binary.LittleEndian.PutUint64(hdr[9:], xxhash.Sum64(body))
	b = append(b, hdr[:]...)
	return append(b, body...)
}

const (
	txnHeaderSize   = 12
	txnOpHeaderSize = 21
)

// TxnOpSize returns the number of body bytes op takes in a txn record.
func TxnOpSize(op TxnOp) int64 { return txnOpHeaderSize + int64(len(op.Image)) }

// MaxTxnOpsSize returns how many op bytes one txn record may carry and still
// fit, padded, in a log file of fileSize bytes.
func MaxTxnOpsSize(fileSize int64) int64 {
	return fileSize - RecordHeaderSize - txnHeaderSize - directio.BlockSize
}

// EncodeTxn returns the record for t.
func EncodeTxn(t TxnRecord) []byte {
	size := int64(txnHeaderSize)
	for _, op := range t.Ops {
		size += TxnOpSize(op)
	}
	body := make([]byte, 0, size)
	body = binary.LittleEndian.AppendUint64(body, t.TxnID)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(t.Ops)))
	for _, op := range t.Ops {
		body = append(body, byte(op.Op))
		body = binary.LittleEndian.AppendUint64(body, uint64(op.ID))
		body = binary.LittleEndian.AppendUint64(body, uint64(op.DeletedID))
		body = binary.LittleEndian.AppendUint32(body, uint32(len(op.Image)))
		body = append(body, op.Image...)
	}
	return appendHeader(nil, KindTxn, body)
}

// EncodeDecisions returns one record per decision, concatenated.
func EncodeDecisions(ds []Decision) []byte {
	var b []byte
	for _, d := range ds {
		body := make([]byte, 0, 17)
		body = binary.LittleEndian.AppendUint64(body, d.TxnID)
		body = binary.LittleEndian.AppendUint64(body, d.CommitTS)
		if d.Committed {
			body = append(body, 1)
		} else {
			body = append(body, 0)
		}
		b = appendHeader(b, KindDecision, body)
	}
	return b
}

func decodeTxn(body []byte) (TxnRecord, bool) {
	if len(body) < 12 {
		return TxnRecord{}, false
	}
	t := TxnRecord{TxnID: binary.LittleEndian.Uint64(body)}
	n := binary.LittleEndian.Uint32(body[8:])
	body = body[12:]
	for i := uint32(0); i < n; i++ {
		if len(body) < 21 {
			return TxnRecord{}, false
		}
		op := TxnOp{
			Op:        store.Operation(body[0]),
			ID:        store.ID(binary.LittleEndian.Uint64(body[1:])),
			DeletedID: store.ID(binary.LittleEndian.Uint64(body[9:])),
		}
		size := binary.LittleEndian.Uint32(body[17:])
		body = body[21:]
		if uint64(len(body)) < uint64(size) {
			return TxnRecord{}, false
		}
		op.Image = append([]byte(nil), body[:size]...)
		body = body[size:]
		t.Ops = append(t.Ops, op)
	}
	return t, len(body) == 0
}

func decodeDecision(body []byte) (Decision, bool) {
	if len(body) != 17 {
		return Decision{}, false
	}
	return Decision{
		TxnID:     binary.LittleEndian.Uint64(body),
		CommitTS:  binary.LittleEndian.Uint64(body[8:]),
		Committed: body[16] == 1,
	}, true
}
