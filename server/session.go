// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/molecula/objectdb/catalog"
	"github.com/molecula/objectdb/logger"
	"github.com/molecula/objectdb/messages"
	"github.com/molecula/objectdb/segment"
	"github.com/molecula/objectdb/store"
)

// session serves one client connection on its own goroutine.
type session struct {
	id     string
	server *Server
	conn   *messages.Conn
	logger logger.Logger

	ping bool
	ddl  bool
	txn  *txn
}

func newSession(s *Server, conn *messages.Conn) *session {
	id := uuid.New().String()
	return &session{
		id:     id,
		server: s,
		conn:   conn,
		logger: s.logger.WithPrefix(fmt.Sprintf("[session %s] ", id[:8])),
	}
}

// isCatalogType reports whether objects of typ describe the schema.
func isCatalogType(typ store.Type) bool {
	switch typ {
	case catalog.TypeTable, catalog.TypeField, catalog.TypeRelationship, catalog.TypeIndex:
		return true
	}
	return false
}

// run performs the handshake and then serves requests until the client
// disconnects. A transaction left open is rolled back.
func (ss *session) run() {
	defer func() {
		if ss.txn != nil {
			ss.logger.Debugf("rolling back transaction %d of disconnected client", ss.txn.id)
			ss.server.rollback(ss.txn)
			ss.txn = nil
		}
	}()

	if !ss.handshake() {
		return
	}
	for {
		m, fds, err := ss.conn.Recv()
		if err != nil {
			if !messages.IsPeerDisconnect(err) {
				ss.logger.Warnf("receiving: %v", err)
			}
			return
		}
		messages.CloseFDs(fds)
		if err := ss.handle(m); err != nil {
			if !messages.IsPeerDisconnect(err) {
				ss.logger.Warnf("replying to %s: %v", m.Event, err)
			}
			return
		}
	}
}

// handshake answers the connect request with the session info and the
// segment descriptors.
func (ss *session) handshake() bool {
	m, fds, err := ss.conn.Recv()
	if err != nil {
		if !messages.IsPeerDisconnect(err) {
			ss.logger.Warnf("receiving connect request: %v", err)
		}
		return false
	}
	messages.CloseFDs(fds)
	if !m.Event.IsConnect() {
		ss.logger.Warnf("expected a connect request, got %s", m.Event)
		ss.fail(fmt.Sprintf("expected a connect request, got %s", m.Event))
		return false
	}
	ss.ping = m.Event == messages.EventConnectPing
	ss.ddl = m.Event == messages.EventConnectDDL

	reply := &messages.Message{
		Event: messages.EventConnect,
		Session: &messages.SessionInfo{
			LogCapacity: uint32(ss.server.config.LogCapacity),
			Segments:    segment.Kinds,
		},
	}
	if err := ss.conn.Send(reply, ss.server.segmentFDs()...); err != nil {
		ss.logger.Warnf("sending segments: %v", err)
		return false
	}
	CounterSessionsOpened.WithLabelValues(sessionType(m.Event)).Inc()
	ss.logger.Debugf("%s session established", sessionType(m.Event))
	return true
}

func sessionType(e messages.Event) string {
	switch e {
	case messages.EventConnectPing:
		return "ping"
	case messages.EventConnectDDL:
		return "ddl"
	}
	return "regular"
}

func (ss *session) handle(m *messages.Message) error {
	switch m.Event {
	case messages.EventBeginTxn:
		if ss.ping {
			return ss.fail("ping sessions cannot open transactions")
		}
		if ss.txn != nil {
			return ss.fail(fmt.Sprintf("transaction %d is already open", ss.txn.id))
		}
		t, refs, err := ss.server.begin(ss)
		if err != nil {
			ss.logger.Warnf("beginning transaction: %v", err)
			return ss.fail(err.Error())
		}
		ss.txn = t
		return ss.conn.Send(&messages.Message{
			Event: messages.EventBeginTxn,
			TxnID: t.id,
			Txn: &messages.TxnInfo{
				TxnID:       t.id,
				LogOffset:   t.slot,
				LogsToApply: refs,
			},
		})

	case messages.EventCommitTxn:
		if ss.txn == nil || ss.txn.id != m.TxnID {
			return ss.fail(fmt.Sprintf("transaction %d is not open", m.TxnID))
		}
		t := ss.txn
		ss.txn = nil
		d := ss.server.commit(t, ss)
		ss.logger.Debugf("transaction %d: %s", t.id, d.event)
		return ss.conn.Send(&messages.Message{Event: d.event, TxnID: t.id, ErrorMessage: d.message})

	case messages.EventRollbackTxn:
		if ss.txn == nil || ss.txn.id != m.TxnID {
			ss.logger.Debugf("ignoring rollback of unknown transaction %d", m.TxnID)
			return nil
		}
		ss.server.rollback(ss.txn)
		ss.txn = nil
		return nil
	}
	return ss.fail(fmt.Sprintf("unexpected %s", m.Event))
}

// fail rejects the current request.
func (ss *session) fail(msg string) error {
	return ss.conn.Send(&messages.Message{Event: messages.EventRequestFailed, ErrorMessage: msg})
}
