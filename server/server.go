// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package server hosts the shared object heap. It owns the shared segments,
// accepts client sessions over a local packet socket, decides transaction
// commits and persists them to the durable log. The Command type wraps a
// Server for the `objectdb server` subcommand.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/molecula/objectdb/constraint"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
	"github.com/molecula/objectdb/messages"
	"github.com/molecula/objectdb/persistence"
	"github.com/molecula/objectdb/segment"
	"github.com/molecula/objectdb/store"
	"github.com/molecula/objectdb/txnlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Server is a running object database instance.
type Server struct {
	config     *Config
	logger     logger.Logger
	validators []constraint.Validator

	// mu serializes transaction decisions and guards everything below it.
	mu       sync.Mutex
	segments map[segment.Kind]*segment.Segment
	heap     *store.Heap
	locators *store.Locators
	txns     *txnManager
	sessions int
	closed   bool

	meta   *persistence.MetaStore
	writer *persistence.Writer

	ln      *net.UnixListener
	metrics *http.Server
	conns   map[*messages.Conn]struct{}

	eg     *errgroup.Group
	cancel context.CancelFunc
}

// ServerOption is a functional option type for Server.
type ServerOption func(s *Server) error

func OptServerConfig(c *Config) ServerOption {
	return func(s *Server) error {
		s.config = c
		return nil
	}
}

func OptServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

// OptServerValidators adds validators run against every commit, after the
// conflict check and the built-in unique constraint validator.
func OptServerValidators(v ...constraint.Validator) ServerOption {
	return func(s *Server) error {
		s.validators = append(s.validators, v...)
		return nil
	}
}

// NewServer returns a Server that is not yet open.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		config:     NewConfig(),
		logger:     logger.NopLogger,
		validators: []constraint.Validator{constraint.Unique{}},
		segments:   make(map[segment.Kind]*segment.Segment),
		conns:      make(map[*messages.Conn]struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open creates the shared segments, recovers the durable log and starts
// listening. It does not accept sessions until Serve is called.
func (s *Server) Open() (err error) {
	c := s.config
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	sizes := map[segment.Kind]int64{
		segment.Data:     int64(c.DataSize),
		segment.Locators: int64(c.MaxObjects) * store.LocatorSize,
		segment.Logs:     int64(c.LogSlots) * int64(txnlog.SlotSize(c.LogCapacity)),
	}
	for _, kind := range segment.Kinds {
		seg, err := segment.Create(kind, c.Name, sizes[kind])
		if err != nil {
			return err
		}
		s.segments[kind] = seg
	}
	if s.heap, err = store.InitHeap(s.segments[segment.Data].Bytes()); err != nil {
		return err
	}
	s.locators = store.NewLocators(s.segments[segment.Locators].Bytes())
	slots := txnlog.NewSlots(s.segments[segment.Logs].Bytes(), c.LogCapacity)

	var ts uint64
	if c.DataDir != "" {
		if ts, err = s.openStorage(); err != nil {
			return err
		}
	} else {
		s.logger.Warnf("no data directory configured: commits are not durable")
	}
	s.txns = newTxnManager(slots, s.locators, ts)

	if s.ln, err = messages.Listen(c.Name); err != nil {
		return err
	}
	s.logger.Infof("listening on %s (data %s, %d objects, %d log slots of %d records)",
		messages.Addr(c.Name).Name, c.DataSize, c.MaxObjects, slots.Free(), c.LogCapacity)
	return nil
}

// openStorage recovers the log in the data directory and opens a writer
// on a new log file. It returns the last timestamp in use.
func (s *Server) openStorage() (uint64, error) {
	c := s.config
	dir := c.DataDir
	meta, err := persistence.OpenMetaStore(filepath.Join(dir, persistence.MetaFileName))
	if err != nil {
		return 0, err
	}
	s.meta = meta

	rec, err := recoverHeap(dir, s.heap, s.locators, s.logger)
	if err != nil {
		return 0, errors.Wrap(err, "recovering")
	}
	ts, err := meta.LastTimestamp()
	if err != nil {
		return 0, errors.Wrap(err, "reading last timestamp")
	}
	if rec.LastTimestamp > ts {
		ts = rec.LastTimestamp
	}

	engine, err := persistence.ParseEngine(c.Storage.IOEngine)
	if err != nil {
		return 0, err
	}
	s.writer, err = persistence.OpenWriter(persistence.WriterConfig{
		Dir:        dir,
		FileSize:   int64(c.Storage.FileSize),
		QueueDepth: c.Storage.QueueDepth,
		Direct:     c.Storage.DirectIO,
		Engine:     engine,
		Logger:     s.logger.WithPrefix("[log] "),
	}, meta)
	if err != nil {
		return 0, err
	}
	if len(rec.Txns) > 0 {
		if ts, err = compact(dir, s.writer, s.heap, s.locators, ts, persistence.MaxTxnOpsSize(int64(c.Storage.FileSize)), s.logger); err != nil {
			return 0, errors.Wrap(err, "compacting log")
		}
	}
	return ts, nil
}

// Serve accepts sessions until Close is called.
func (s *Server) Serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	if s.closed || s.ln == nil {
		s.mu.Unlock()
		cancel()
		return errors.New(ErrServerClosed, "server is not open")
	}
	s.eg, s.cancel = eg, cancel
	s.mu.Unlock()

	if s.config.MetricsBind != "" {
		s.startMetrics(eg)
	}

	eg.Go(func() error {
		<-ctx.Done()
		s.ln.Close()
		return nil
	})
	eg.Go(func() error {
		for {
			conn, err := s.ln.AcceptUnix()
			if err != nil {
				if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
					return nil
				}
				return errors.Wrap(err, "accepting")
			}
			s.accept(eg, conn)
		}
	})
	return eg.Wait()
}

func (s *Server) startMetrics(eg *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: s.config.MetricsBind, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.metrics = srv
	s.mu.Unlock()
	eg.Go(func() error {
		s.logger.Infof("serving metrics on %s", s.config.MetricsBind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "serving metrics")
		}
		return nil
	})
}

// accept starts a session for conn, or closes conn right away when the
// session limit has been reached.
func (s *Server) accept(eg *errgroup.Group, uc *net.UnixConn) {
	conn := messages.NewConn(uc)
	s.mu.Lock()
	if s.closed || (s.config.MaxSessions > 0 && s.sessions >= s.config.MaxSessions) {
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			CounterSessionsRejected.Inc()
			s.logger.Warnf("session limit of %d reached, refusing connection", s.config.MaxSessions)
		}
		conn.Close()
		return
	}
	s.sessions++
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	GaugeActiveSessions.Inc()

	eg.Go(func() error {
		defer func() {
			conn.Close()
			s.mu.Lock()
			s.sessions--
			delete(s.conns, conn)
			s.mu.Unlock()
			GaugeActiveSessions.Dec()
		}()
		newSession(s, conn).run()
		return nil
	})
}

// Close stops accepting sessions, disconnects every client, waits for the
// session goroutines and releases the segments and the log.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	for conn := range s.conns {
		conn.CloseRead()
	}
	if s.metrics != nil {
		s.metrics.Close()
	}
	if s.txns != nil {
		if active := s.txns.activeSessions(); len(active) > 0 {
			s.logger.Infof("closing with open transactions: %v", active)
		}
	}
	eg, cancel := s.eg, s.cancel
	s.mu.Unlock()

	var err error
	if eg != nil {
		cancel()
		err = eg.Wait()
	}
	if cerr := s.closeResources(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Server) closeResources() error {
	var err error
	keep := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	if s.ln != nil {
		s.ln.Close()
	}
	if s.writer != nil {
		keep(s.writer.Close())
		s.writer = nil
	}
	if s.meta != nil {
		if s.txns != nil {
			keep(s.meta.SetLastTimestamp(s.txns.ts))
		}
		keep(s.meta.Close())
		s.meta = nil
	}
	for kind, seg := range s.segments {
		keep(seg.Close())
		delete(s.segments, kind)
	}
	return err
}

// Name returns the instance name clients connect to.
func (s *Server) Name() string { return s.config.Name }

// Stats is a snapshot of the server's transaction state.
type Stats struct {
	Sessions     int
	Active       int
	Pending      int
	FreeSlots    int
	HeapUsed     uint64
	HeapCapacity uint64
	Timestamp    uint64
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Sessions:     s.sessions,
		Active:       len(s.txns.active),
		Pending:      len(s.txns.pending),
		FreeSlots:    s.txns.slots.Free(),
		HeapUsed:     s.heap.Used(),
		HeapCapacity: s.heap.Capacity(),
		Timestamp:    s.txns.ts,
	}
}

const ErrServerClosed errors.Code = "ServerClosed"

// decision is the server's answer to a commit request.
type decision struct {
	event   messages.Event
	message string
}

// commit decides t. The whole decision, including the durable write, runs
// under the server lock so commit timestamps reach the log in order.
func (s *Server) commit(t *txn, session *session) decision {
	start := time.Now()
	defer func() { HistogramCommitDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.txns.records(t, s.heap)
	if err != nil {
		// A client that corrupts its log cannot be trusted with its
		// transaction; drop it.
		s.txns.finish(t)
		session.logger.Errorf("rejecting commit of transaction %d: %v", t.id, err)
		return decision{event: messages.EventRequestFailed, message: err.Error()}
	}
	if len(recs) == 0 {
		s.txns.finish(t)
		CounterTransactionsCommitted.Inc()
		return decision{event: messages.EventDecideTxnCommit}
	}

	if s.writer != nil {
		if err := s.writer.AppendTxn(s.txnRecord(t, recs)); err != nil {
			return s.persistenceFailure(t, session, err)
		}
	}

	if loc, ok := s.txns.conflicts(t, recs); ok {
		session.logger.Debugf("transaction %d conflicts on locator %d", t.id, loc)
		s.abort(t)
		CounterTransactionsAborted.WithLabelValues(abortConflict).Inc()
		return decision{event: messages.EventDecideTxnAbort}
	}

	if !session.ddl {
		if id, ok := s.schemaChange(recs); ok {
			s.abort(t)
			CounterTransactionsAborted.WithLabelValues(abortSchema).Inc()
			return decision{
				event:   messages.EventDecideTxnRollbackForError,
				message: fmt.Sprintf("%s: object %d", messages.SchemaChangeSignature, id),
			}
		}
	}

	view := s.txns.view(s.heap, recs)
	for _, v := range s.validators {
		if err := v.Validate(view, recs); err != nil {
			session.logger.Debugf("transaction %d failed validation: %v", t.id, err)
			s.abort(t)
			CounterTransactionsAborted.WithLabelValues(abortConstraint).Inc()
			return decision{event: messages.EventDecideTxnRollbackForError, message: err.Error()}
		}
	}

	ts, err := s.txns.commitTimestamp()
	if err != nil {
		return s.persistenceFailure(t, session, err)
	}
	if s.writer != nil {
		s.writer.AppendDecision(persistence.Decision{TxnID: t.id, CommitTS: ts, Committed: true})
		if err := s.writer.Flush(true); err != nil {
			return s.persistenceFailure(t, session, err)
		}
	}
	s.txns.committed(t, recs, ts)
	GaugePendingLogs.Set(float64(len(s.txns.pending)))
	CounterTransactionsCommitted.Inc()
	return decision{event: messages.EventDecideTxnCommit}
}

// abort ends t and, when its record was logged, logs the abort decision.
// The decision is written by the next flush.
func (s *Server) abort(t *txn) {
	if s.writer != nil {
		s.writer.AppendDecision(persistence.Decision{TxnID: t.id})
	}
	s.txns.finish(t)
}

func (s *Server) persistenceFailure(t *txn, session *session, err error) decision {
	session.logger.Errorf("persisting transaction %d: %v", t.id, err)
	s.txns.finish(t)
	CounterTransactionsAborted.WithLabelValues(abortPersistence).Inc()
	return decision{
		event:   messages.EventDecideTxnRollbackForError,
		message: fmt.Sprintf("%s: %v", messages.PersistenceFailureSignature, err),
	}
}

// schemaChange returns the first catalog object changed by recs.
func (s *Server) schemaChange(recs []txnlog.Record) (store.ID, bool) {
	for _, r := range recs {
		off := r.NewOffset
		if r.Operation == store.OpDelete {
			off = r.OldOffset
		}
		obj, err := store.ObjectAt(s.heap.Bytes(), off)
		if err != nil {
			continue
		}
		if isCatalogType(obj.Type()) {
			return r.Locator, true
		}
	}
	return store.InvalidID, false
}

// txnRecord builds the durable form of a transaction: full images of
// created and updated objects, and the ids of deleted ones.
func (s *Server) txnRecord(t *txn, recs []txnlog.Record) persistence.TxnRecord {
	rec := persistence.TxnRecord{TxnID: t.id, Ops: make([]persistence.TxnOp, 0, len(recs))}
	for _, r := range recs {
		op := persistence.TxnOp{Op: r.Operation, ID: r.Locator, DeletedID: r.DeletedID}
		if r.Operation != store.OpDelete {
			// records() has validated the object.
			obj, _ := store.ObjectAt(s.heap.Bytes(), r.NewOffset)
			op.Image = obj.Image()
		}
		rec.Ops = append(rec.Ops, op)
	}
	return rec
}

func (s *Server) begin(session *session) (*txn, []messages.LogRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, errors.New(ErrServerClosed, "server is closing")
	}
	t, refs, err := s.txns.begin(session.id)
	if err != nil {
		return nil, nil, err
	}
	CounterTransactionsBegun.Inc()
	return t, refs, nil
}

func (s *Server) rollback(t *txn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns.finish(t)
	CounterTransactionsRolledBack.Inc()
}

// segmentFDs returns the segment descriptors in transfer order.
func (s *Server) segmentFDs() []int {
	fds := make([]int, len(segment.Kinds))
	for i, kind := range segment.Kinds {
		fds[i] = s.segments[kind].Fd()
	}
	return fds
}
