// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
	"github.com/ncw/directio"
)

const (
	DefaultFileSize   = 64 << 20
	DefaultQueueDepth = 64
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	Dir        string
	FileSize   int64
	QueueDepth int

	// Direct opens log files with O_DIRECT. Every record is then padded to
	// a whole number of directio.BlockSize blocks.
	Direct bool

	// Engine selects the submission queue implementation.
	Engine Engine

	Logger logger.Logger
}

// Engine names a Queue implementation.
type Engine string

const (
	// EngineAuto uses io_uring when the kernel supports it and the
	// goroutine ring otherwise.
	EngineAuto      Engine = "auto"
	EngineIOURing   Engine = "io_uring"
	EngineGoroutine Engine = "goroutine"
)

// ParseEngine accepts the names used in configuration. The empty string
// selects EngineAuto.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(s); e {
	case "", EngineAuto:
		return EngineAuto, nil
	case EngineIOURing, EngineGoroutine:
		return e, nil
	}
	return "", errors.Newf(ErrEngineUnavailable, "unknown io engine %q", s)
}

// openQueue returns the queue for engine.
func openQueue(engine Engine, depth int, log logger.Logger) (Queue, error) {
	switch engine {
	case EngineGoroutine:
		return NewRing(depth), nil
	case EngineIOURing:
		r, err := NewURing(depth)
		if err != nil {
			return nil, errors.New(ErrEngineUnavailable, err.Error())
		}
		return r, nil
	case "", EngineAuto:
		r, err := NewURing(depth)
		if err != nil {
			log.Infof("io_uring unavailable, using goroutine ring: %v", err)
			return NewRing(depth), nil
		}
		return r, nil
	}
	return nil, errors.Newf(ErrEngineUnavailable, "unknown io engine %q", engine)
}

// Writer appends transaction and decision records to a sequence of log
// files. Transaction records are submitted as soon as they are appended;
// decisions are held until Flush, which writes them and then syncs the file.
// The decision write and the sync that follows it are linked and drained
// behind every earlier write, so a decision is never durable before the
// transaction record it refers to.
type Writer struct {
	mu sync.Mutex

	cfg    WriterConfig
	meta   *MetaStore
	ring   Queue
	batch  *AsyncWriteBatch
	file   *LogFile
	logger logger.Logger

	// decisions already submitted by a Flush that did not wait.
	flushed int
}

// OpenWriter starts a new log file in cfg.Dir. Existing log files are never
// appended to; recovery reads them before the writer is opened.
func OpenWriter(cfg WriterConfig, meta *MetaStore) (*Writer, error) {
	if cfg.FileSize <= 0 {
		cfg.FileSize = DefaultFileSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.QueueDepth < 4 {
		return nil, errors.Errorf("queue depth %d is too small", cfg.QueueDepth)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NopLogger
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, errors.Wrapf(err, "creating log directory %s", cfg.Dir)
	}

	ring, err := openQueue(cfg.Engine, cfg.QueueDepth, cfg.Logger)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		cfg:    cfg,
		meta:   meta,
		ring:   ring,
		batch:  NewAsyncWriteBatch(ring),
		logger: cfg.Logger,
	}
	f, err := w.createFile()
	if err != nil {
		ring.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

func (w *Writer) createFile() (*LogFile, error) {
	seq, err := w.meta.NextLogSeq()
	if err != nil {
		return nil, errors.Wrap(err, "reading next log sequence")
	}
	if paths, err := ListLogFiles(w.cfg.Dir); err != nil {
		return nil, err
	} else if n := len(paths); n > 0 {
		if last, ok := ParseLogFileName(filepath.Base(paths[n-1])); ok && last >= seq {
			seq = last + 1
		}
	}
	f, err := CreateLogFile(w.cfg.Dir, seq, w.cfg.FileSize, w.cfg.Direct)
	if err != nil {
		return nil, err
	}
	if err := w.meta.SetNextLogSeq(seq + 1); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "saving next log sequence")
	}
	w.logger.Debugf("opened log file %s", f.Path())
	return f, nil
}

// pad returns rec in a buffer suitable for the current file. Rotation keeps
// the open mode, so the buffer also suits the file that follows.
func (w *Writer) pad(rec []byte) []byte {
	if !w.file.Direct() {
		return rec
	}
	n := (len(rec) + directio.BlockSize - 1) / directio.BlockSize * directio.BlockSize
	buf := directio.AlignedBlock(n)
	copy(buf, rec)
	return buf
}

// reserve returns the file and offset at which n bytes are to be written,
// rotating to a new file when the current one lacks the space. The old
// file is synced and handed to the batch, which closes it once the sync has
// completed.
func (w *Writer) reserve(n int64) (*LogFile, int64, error) {
	if n > w.cfg.FileSize {
		return nil, 0, NewErrRecordTooLarge(n, w.cfg.FileSize)
	}
	if w.file.RemainingSpace() < n {
		if err := w.room(1); err != nil {
			return nil, 0, err
		}
		if err := w.batch.AddFdatasync(w.file.Fd(), NewTag(TagSync, w.file.Seq()), FlagDrain); err != nil {
			return nil, 0, err
		}
		old := w.file
		f, err := w.createFile()
		if err != nil {
			return nil, 0, err
		}
		w.batch.AddFileToClose(old)
		w.file = f
	}
	return w.file, w.file.Allocate(n), nil
}

// room makes sure n more operations fit into the ring, waiting for the
// operations already submitted when they do not.
func (w *Writer) room(n int) error {
	if w.batch.Queued()+w.batch.Pending()+n <= w.ring.Depth() {
		return nil
	}
	if err := w.batch.SubmitOperationBatch(true); err != nil {
		return err
	}
	_, err := w.batch.ValidateAll()
	return err
}

// AppendTxn queues the record for t and submits it without waiting. When
// the ring is full the record stays queued and goes out with the next
// submission.
func (w *Writer) AppendTxn(t TxnRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := w.pad(EncodeTxn(t))
	if err := w.room(2); err != nil {
		return err
	}
	f, off, err := w.reserve(int64(len(buf)))
	if err != nil {
		return err
	}
	if err := w.batch.AddPwritev(f.Fd(), off, [][]byte{buf}, NewTag(TagTxn, t.TxnID), 0); err != nil {
		return err
	}
	if err := w.batch.SubmitOperationBatch(false); err != nil && !errors.Is(err, ErrQueueFull) {
		return err
	}
	return nil
}

// AppendDecision attaches d to the current batch. It is written by the next
// Flush.
func (w *Writer) AppendDecision(d Decision) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batch.AddDecision(d)
}

// Flush writes the decisions appended since the last flush followed by a
// linked fdatasync. The decision write is drained behind every earlier
// operation. With wait set it returns once everything submitted so
// far is durable, reporting the first failed operation.
func (w *Writer) Flush(wait bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ds := w.batch.Decisions()[w.flushed:]; len(ds) > 0 {
		buf := w.pad(EncodeDecisions(ds))
		if err := w.room(3); err != nil {
			return err
		}
		f, off, err := w.reserve(int64(len(buf)))
		if err != nil {
			return err
		}
		last := ds[len(ds)-1].TxnID
		if err := w.batch.AddPwritev(f.Fd(), off, [][]byte{buf}, NewTag(TagDecision, last), FlagLink|FlagDrain); err != nil {
			return err
		}
		if err := w.batch.AddFdatasync(f.Fd(), NewTag(TagSync, f.Seq()), 0); err != nil {
			return err
		}
		w.flushed = len(w.batch.Decisions())
	} else if w.batch.Queued() > 0 || w.batch.Pending() > 0 {
		if err := w.room(1); err != nil {
			return err
		}
		if err := w.batch.AddFdatasync(w.file.Fd(), NewTag(TagSync, w.file.Seq()), FlagDrain); err != nil {
			return err
		}
	}

	if err := w.batch.SubmitOperationBatch(wait); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	_, verr := w.batch.ValidateAll()
	w.flushed = 0
	if err := w.batch.Reset(); err != nil && verr == nil {
		verr = err
	}
	return verr
}

// File returns the path of the log file currently being written.
func (w *Writer) File() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Path()
}

// Close flushes outstanding records and closes the current file.
func (w *Writer) Close() error {
	err := w.Flush(true)
	w.ring.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
