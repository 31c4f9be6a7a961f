// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package messages defines the session protocol spoken between clients and
// the server, and its transport over a local packet socket.
package messages

import (
	"fmt"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/internal/wire"
	"github.com/molecula/objectdb/segment"
)

// Event is the kind of a message.
type Event uint8

const (
	// Client to server.
	EventConnect Event = iota + 1
	EventConnectPing
	EventConnectDDL
	EventBeginTxn
	EventCommitTxn
	EventRollbackTxn

	// Server to client, in reply to COMMIT_TXN.
	EventDecideTxnCommit
	EventDecideTxnAbort
	EventDecideTxnRollbackForError

	// EventRequestFailed rejects a request the server could not serve.
	EventRequestFailed
)

var eventNames = map[Event]string{
	EventConnect:                   "CONNECT",
	EventConnectPing:               "CONNECT_PING",
	EventConnectDDL:                "CONNECT_DDL",
	EventBeginTxn:                  "BEGIN_TXN",
	EventCommitTxn:                 "COMMIT_TXN",
	EventRollbackTxn:               "ROLLBACK_TXN",
	EventDecideTxnCommit:           "DECIDE_TXN_COMMIT",
	EventDecideTxnAbort:            "DECIDE_TXN_ABORT",
	EventDecideTxnRollbackForError: "DECIDE_TXN_ROLLBACK_FOR_ERROR",
	EventRequestFailed:             "REQUEST_FAILED",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("EVENT(%d)", uint8(e))
}

// IsConnect reports whether e opens a session.
func (e Event) IsConnect() bool {
	return e == EventConnect || e == EventConnectPing || e == EventConnectDDL
}

// IsDecision reports whether e answers a commit request.
func (e Event) IsDecision() bool {
	return e == EventDecideTxnCommit || e == EventDecideTxnAbort || e == EventDecideTxnRollbackForError
}

const ErrMalformedMessage errors.Code = "MalformedMessage"

// Prefixes of DECIDE_TXN_ROLLBACK_FOR_ERROR messages the server sends for
// its own checks. Validators define their own.
const (
	SchemaChangeSignature       = "Schema change outside a DDL session"
	PersistenceFailureSignature = "Durable log write failed"
)

// LogRef points at a committed transaction log the client must apply.
type LogRef struct {
	CommitTimestamp uint64
	LogOffset       uint64
}

// TxnInfo is the server's reply to BEGIN_TXN.
type TxnInfo struct {
	TxnID       uint64
	LogOffset   uint64
	LogsToApply []LogRef
}

// SessionInfo accompanies the CONNECT reply. Segments lists the kinds of the
// descriptors passed with the reply, in order.
type SessionInfo struct {
	LogCapacity uint32
	Segments    []segment.Kind
}

// Message is one protocol message.
type Message struct {
	Event        Event
	TxnID        uint64
	Txn          *TxnInfo
	Session      *SessionInfo
	ErrorMessage string
}

// MarshalBinary encodes m.
func (m *Message) MarshalBinary() ([]byte, error) {
	var b []byte
	b = wire.AppendVarint(b, 1, uint64(m.Event))
	if m.TxnID != 0 {
		b = wire.AppendVarint(b, 2, m.TxnID)
	}
	if m.Txn != nil {
		b = wire.AppendBytes(b, 3, encodeTxnInfo(m.Txn))
	}
	if m.Session != nil {
		b = wire.AppendBytes(b, 4, encodeSessionInfo(m.Session))
	}
	if m.ErrorMessage != "" {
		b = wire.AppendString(b, 5, m.ErrorMessage)
	}
	return b, nil
}

// UnmarshalBinary decodes b into m.
func (m *Message) UnmarshalBinary(b []byte) error {
	*m = Message{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Event = Event(d.Varint())
		case 2:
			m.TxnID = d.Varint()
		case 3:
			info, err := decodeTxnInfo(d.Bytes())
			if err != nil {
				return err
			}
			m.Txn = info
		case 4:
			info, err := decodeSessionInfo(d.Bytes())
			if err != nil {
				return err
			}
			m.Session = info
		case 5:
			m.ErrorMessage = d.String()
		default:
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return errors.New(ErrMalformedMessage, err.Error())
	}
	if m.Event == 0 {
		return errors.New(ErrMalformedMessage, "message has no event")
	}
	return nil
}

func encodeTxnInfo(t *TxnInfo) []byte {
	var b []byte
	b = wire.AppendVarint(b, 1, t.TxnID)
	b = wire.AppendVarint(b, 2, t.LogOffset)
	for _, ref := range t.LogsToApply {
		var r []byte
		r = wire.AppendVarint(r, 1, ref.CommitTimestamp)
		r = wire.AppendVarint(r, 2, ref.LogOffset)
		b = wire.AppendBytes(b, 3, r)
	}
	return b
}

func decodeTxnInfo(b []byte) (*TxnInfo, error) {
	t := &TxnInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			t.TxnID = d.Varint()
		case 2:
			t.LogOffset = d.Varint()
		case 3:
			var ref LogRef
			rd := wire.NewDecoder(d.Bytes())
			for rd.Next() {
				switch rd.Field() {
				case 1:
					ref.CommitTimestamp = rd.Varint()
				case 2:
					ref.LogOffset = rd.Varint()
				default:
					rd.Skip()
				}
			}
			if err := rd.Err(); err != nil {
				return nil, errors.New(ErrMalformedMessage, err.Error())
			}
			t.LogsToApply = append(t.LogsToApply, ref)
		default:
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return nil, errors.New(ErrMalformedMessage, err.Error())
	}
	return t, nil
}

func encodeSessionInfo(s *SessionInfo) []byte {
	var b []byte
	b = wire.AppendVarint(b, 1, uint64(s.LogCapacity))
	kinds := make([]uint64, len(s.Segments))
	for i, k := range s.Segments {
		kinds[i] = uint64(k)
	}
	b = wire.AppendPacked(b, 2, kinds)
	return b
}

func decodeSessionInfo(b []byte) (*SessionInfo, error) {
	s := &SessionInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			s.LogCapacity = uint32(d.Varint())
		case 2:
			for _, k := range d.Packed() {
				s.Segments = append(s.Segments, segment.Kind(k))
			}
		default:
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return nil, errors.New(ErrMalformedMessage, err.Error())
	}
	return s, nil
}
