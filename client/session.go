// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package client runs sessions and transactions against an objectdb server.
//
// A Session connects over the server's packet socket and maps the shared
// segments. Each transaction reads through a private copy-on-write view of
// the locator table and records its changes in a log slot the server
// assigned; the server decides the commit.
package client

import (
	"context"
	"fmt"

	"github.com/molecula/objectdb/catalog"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
	"github.com/molecula/objectdb/messages"
	"github.com/molecula/objectdb/segment"
	"github.com/molecula/objectdb/store"
	"github.com/molecula/objectdb/syswrap"
	"github.com/molecula/objectdb/txnlog"
)

// Session is one connection to the server. It is not safe for concurrent
// use.
type Session struct {
	opts   Options
	logger logger.Logger

	conn        *messages.Conn
	segments    map[segment.Kind]*segment.Segment
	heap        *store.Heap
	logCapacity int
	fields      *catalog.FieldCache

	txn *transaction
}

// transaction is the state of the open transaction.
type transaction struct {
	id       uint64
	locators []byte // private mapping
	log      *txnlog.Log
	store    *store.Store
	events   []TriggerEvent
}

// NewSession returns a Session that is not yet connected.
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	return &Session{opts: opts, logger: opts.Logger}
}

// Begin connects to the server and maps the shared segments.
func (s *Session) Begin(ctx context.Context) (err error) {
	if s.conn != nil {
		return errors.New(ErrSessionAlreadyOpen, "session is already open")
	}
	name := s.opts.InstanceName

	conn, err := messages.Dial(ctx, name)
	if err != nil {
		return NewErrConnectionFailed(name, err)
	}
	segs := make(map[segment.Kind]*segment.Segment)
	defer func() {
		if err != nil {
			for _, seg := range segs {
				seg.Close()
			}
			conn.Close()
		}
	}()

	if err := conn.Send(&messages.Message{Event: s.opts.SessionType.connectEvent()}); err != nil {
		return handshakeError(name, err)
	}
	m, fds, err := conn.Recv()
	if err != nil {
		return handshakeError(name, err)
	}
	if m.Event != messages.EventConnect || m.Session == nil {
		messages.CloseFDs(fds)
		if m.Event == messages.EventRequestFailed {
			return NewErrConnectionFailed(name, NewErrRequestFailed(s.opts.SessionType.connectEvent(), m.ErrorMessage))
		}
		return NewErrConnectionFailed(name, errors.Errorf("unexpected %s reply", m.Event))
	}
	if len(fds) != len(m.Session.Segments) {
		messages.CloseFDs(fds)
		return NewErrConnectionFailed(name, errors.Errorf("got %d descriptors for %d segments", len(fds), len(m.Session.Segments)))
	}
	for i, kind := range m.Session.Segments {
		seg, err := segment.Attach(kind, fds[i])
		if err != nil {
			messages.CloseFDs(fds[i:])
			return err
		}
		segs[kind] = seg
	}
	for _, kind := range segment.Kinds {
		if segs[kind] == nil {
			return NewErrConnectionFailed(name, errors.Errorf("server did not send the %s segment", kind))
		}
	}

	// The locator segment is only ever mapped privately, per transaction.
	if err := segs[segment.Data].Map(); err != nil {
		return err
	}
	if err := segs[segment.Logs].Map(); err != nil {
		return err
	}
	heap, err := store.OpenHeap(segs[segment.Data].Bytes())
	if err != nil {
		return err
	}

	s.conn = conn
	s.segments = segs
	s.heap = heap
	s.logCapacity = int(m.Session.LogCapacity)
	s.logger.Debugf("%s session open on %s", s.opts.SessionType, messages.Addr(name).Name)
	return nil
}

// handshakeError classifies a failure while connecting. A server at its
// session limit accepts the connection and closes it straight away.
func handshakeError(name string, err error) error {
	if messages.IsPeerDisconnect(err) {
		return errors.Newf(ErrSessionLimitExceeded, "server %s refused the session", name)
	}
	return NewErrConnectionFailed(name, err)
}

// End unmaps the segments and disconnects.
func (s *Session) End() error {
	if s.conn == nil {
		return errors.New(ErrSessionNotOpen, "session is not open")
	}
	if s.txn != nil {
		return errors.Newf(ErrTransactionInProgress, "transaction %d is still open", s.txn.id)
	}
	var err error
	for kind, seg := range s.segments {
		if cerr := seg.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(s.segments, kind)
	}
	if cerr := s.conn.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "closing connection")
	}
	s.conn, s.heap, s.fields = nil, nil, nil
	return err
}

// IsOpen reports whether Begin has succeeded and End has not been called.
func (s *Session) IsOpen() bool { return s.conn != nil }

// BeginTransaction starts a transaction. Its snapshot is the database as of
// the server's reply.
func (s *Session) BeginTransaction() error {
	if s.conn == nil {
		return errors.New(ErrSessionNotOpen, "session is not open")
	}
	if s.txn != nil {
		return errors.Newf(ErrTransactionInProgress, "transaction %d is already open", s.txn.id)
	}
	if s.opts.SessionType == SessionPing {
		return errors.New(ErrPingSessionTransaction, "ping sessions cannot open transactions")
	}

	var t *transaction
	err := withPrivateMapping(s.segments[segment.Locators], func(mem []byte) (err error) {
		t, err = s.begin(mem)
		return err
	})
	if err != nil {
		return err
	}
	s.txn = t
	return nil
}

// munmap releases private locator views.
var munmap = syswrap.Munmap

// withPrivateMapping maps seg privately and hands the view to fn. The view
// is released unless fn succeeds, including when fn panics.
func withPrivateMapping(seg *segment.Segment, fn func(mem []byte) error) error {
	mem, err := seg.MapPrivate()
	if err != nil {
		return err
	}
	kept := false
	defer func() {
		if !kept {
			munmap(mem)
		}
	}()
	if err := fn(mem); err != nil {
		return err
	}
	kept = true
	return nil
}

// begin asks the server for a transaction whose locators live in mem.
func (s *Session) begin(mem []byte) (*transaction, error) {
	m, err := s.roundTrip(&messages.Message{Event: messages.EventBeginTxn})
	if err != nil {
		return nil, err
	}
	switch m.Event {
	case messages.EventBeginTxn:
	case messages.EventRequestFailed:
		return nil, NewErrRequestFailed(messages.EventBeginTxn, m.ErrorMessage)
	default:
		errors.Unreachable(fmt.Sprintf("unexpected %s reply to %s", m.Event, messages.EventBeginTxn))
	}
	info := m.Txn
	errors.AssertInvariant(info != nil, "BEGIN_TXN reply without transaction info")

	logs := s.segments[segment.Logs].Bytes()
	locators := store.NewLocators(mem)
	for _, ref := range info.LogsToApply {
		txnlog.Apply(txnlog.At(logs, ref.LogOffset, s.logCapacity), locators)
	}

	t := &transaction{
		id:       info.TxnID,
		locators: mem,
		log:      txnlog.At(logs, info.LogOffset, s.logCapacity),
	}
	errors.AssertInvariant(t.log.TxnID() == t.id, "log slot was not reset for the transaction")
	t.store = store.New(s.heap, locators, t.log)
	if s.opts.CommitTrigger != nil {
		t.store.OnChange(func(op store.Operation, typ store.Type, id store.ID) {
			if !typ.IsSystem() {
				t.events = append(t.events, TriggerEvent{Op: op, Type: typ, ID: id})
			}
		})
	}
	if s.opts.SessionType == SessionRegular && s.fields == nil {
		fields, err := catalog.BuildFieldCache(t.store)
		if err != nil {
			s.rollback(t)
			return nil, errors.Wrap(err, "building field cache")
		}
		s.fields = fields
	}
	return t, nil
}

// roundTrip sends m and waits for the reply.
func (s *Session) roundTrip(m *messages.Message) (*messages.Message, error) {
	if err := s.conn.Send(m); err != nil {
		return nil, NewErrConnectionFailed(s.opts.InstanceName, err)
	}
	reply, fds, err := s.conn.Recv()
	if err != nil {
		return nil, NewErrConnectionFailed(s.opts.InstanceName, err)
	}
	messages.CloseFDs(fds)
	return reply, nil
}

// Commit asks the server to commit the open transaction. A transaction that
// changed nothing is rolled back instead.
func (s *Session) Commit() error {
	if s.conn == nil {
		return errors.New(ErrSessionNotOpen, "session is not open")
	}
	t := s.txn
	if t == nil {
		return errors.New(ErrTransactionNotOpen, "no transaction is open")
	}
	defer s.endTransaction()

	if t.log.Len() == 0 {
		return s.rollback(t)
	}

	m, err := s.roundTrip(&messages.Message{Event: messages.EventCommitTxn, TxnID: t.id})
	if err != nil {
		return err
	}
	if m.Event == messages.EventRequestFailed {
		return NewErrRequestFailed(messages.EventCommitTxn, m.ErrorMessage)
	}
	if !m.Event.IsDecision() {
		errors.Unreachable(fmt.Sprintf("unexpected %s reply to %s", m.Event, messages.EventCommitTxn))
	}
	switch m.Event {
	case messages.EventDecideTxnAbort:
		return errors.Newf(ErrTransactionUpdateConflict, "transaction %d conflicts with a concurrent commit", t.id)
	case messages.EventDecideTxnRollbackForError:
		return rollbackError(m.ErrorMessage)
	}
	if s.opts.CommitTrigger != nil && len(t.events) > 0 {
		s.opts.CommitTrigger(t.events)
	}
	return nil
}

// Rollback abandons the open transaction.
func (s *Session) Rollback() error {
	if s.conn == nil {
		return errors.New(ErrSessionNotOpen, "session is not open")
	}
	t := s.txn
	if t == nil {
		return errors.New(ErrTransactionNotOpen, "no transaction is open")
	}
	defer s.endTransaction()
	return s.rollback(t)
}

// rollback tells the server t is over. There is no reply.
func (s *Session) rollback(t *transaction) error {
	if err := s.conn.Send(&messages.Message{Event: messages.EventRollbackTxn, TxnID: t.id}); err != nil {
		return NewErrConnectionFailed(s.opts.InstanceName, err)
	}
	return nil
}

func (s *Session) endTransaction() {
	if s.txn == nil {
		return
	}
	if err := syswrap.Munmap(s.txn.locators); err != nil {
		s.logger.Errorf("unmapping locators of transaction %d: %v", s.txn.id, err)
	}
	s.txn = nil
}

// Store returns the object store of the open transaction, or nil.
func (s *Session) Store() *store.Store {
	if s.txn == nil {
		return nil
	}
	return s.txn.store
}

// TransactionID returns the id of the open transaction, or zero.
func (s *Session) TransactionID() uint64 {
	if s.txn == nil {
		return 0
	}
	return s.txn.id
}

// FieldCache returns the value-linked relationship fields found by the
// first transaction of a regular session.
func (s *Session) FieldCache() *catalog.FieldCache { return s.fields }
