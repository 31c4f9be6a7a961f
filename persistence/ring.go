// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"fmt"
	"sync"

	"github.com/molecula/objectdb/errors"
	"golang.org/x/sys/unix"
)

// OpCode is the kind of a queued operation.
type OpCode uint8

const (
	OpPwritev OpCode = iota + 1
	OpFdatasync
)

// Flags modify how an operation is executed.
type Flags uint8

const (
	// FlagLink ties an operation to the next one in the same submission:
	// the next operation only runs if this one succeeds and is otherwise
	// completed with -ECANCELED.
	FlagLink Flags = 1 << iota

	// FlagDrain holds an operation back until every operation submitted
	// before it has completed.
	FlagDrain
)

// Tag correlates an operation with its completion. The high byte holds the
// operation kind and the rest a caller-chosen value such as a txn id.
type Tag uint64

const (
	TagTxn      uint8 = 1
	TagDecision uint8 = 2
	TagSync     uint8 = 5
)

func NewTag(kind uint8, value uint64) Tag {
	return Tag(uint64(kind)<<56 | value&(1<<56-1))
}

func (t Tag) Kind() uint8   { return uint8(t >> 56) }
func (t Tag) Value() uint64 { return uint64(t) & (1<<56 - 1) }

func (t Tag) String() string {
	switch t.Kind() {
	case TagTxn:
		return fmt.Sprintf("pwritev(txn %d)", t.Value())
	case TagDecision:
		return fmt.Sprintf("pwritev(decisions %d)", t.Value())
	case TagSync:
		return fmt.Sprintf("fdatasync(%d)", t.Value())
	}
	return fmt.Sprintf("op(%d, %d)", t.Kind(), t.Value())
}

// SQE is a submission queue entry.
type SQE struct {
	Op     OpCode
	Fd     int
	Offset int64
	Iovecs [][]byte
	Tag    Tag
	Flags  Flags
}

// CQE is a completion queue entry. Res is the number of bytes written, zero,
// or a negated errno.
type CQE struct {
	Tag Tag
	Res int32
}

// Queue is a submission/completion queue pair of fixed depth. Completions
// stay queued, and keep counting against the depth, until they are marked
// seen.
type Queue interface {
	Depth() int

	// Submit queues sqes for execution. Operations joined with FlagLink
	// form a chain that runs in order.
	Submit(sqes []SQE) error

	// Wait blocks until at least n completions are queued or nothing more
	// is in flight.
	Wait(n int)

	// Peek returns the oldest unseen completion.
	Peek() (CQE, bool)

	// MarkSeen releases the oldest completion.
	MarkSeen()

	// Close waits for the operations already submitted and releases the
	// queue.
	Close()
}

// completions is the completion side shared by the Queue implementations.
type completions struct {
	depth int

	mu       sync.Mutex
	cond     *sync.Cond
	cq       []CQE
	inflight int
	closed   bool
}

func (c *completions) init(depth int) {
	c.depth = depth
	c.cond = sync.NewCond(&c.mu)
}

func (c *completions) Depth() int { return c.depth }

// reserve accounts for n new operations. c.mu must be held.
func (c *completions) reserve(n int) error {
	if c.closed {
		return errors.New(ErrRingClosed, "ring closed")
	}
	if c.inflight+len(c.cq)+n > c.depth {
		return NewErrQueueFull(c.depth)
	}
	c.inflight += n
	return nil
}

func (c *completions) post(cqe CQE) {
	c.mu.Lock()
	c.cq = append(c.cq, cqe)
	c.inflight--
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *completions) Wait(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.cq) < n && c.inflight > 0 {
		c.cond.Wait()
	}
}

func (c *completions) Peek() (CQE, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cq) == 0 {
		return CQE{}, false
	}
	return c.cq[0], true
}

func (c *completions) MarkSeen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cq) > 0 {
		c.cq = c.cq[1:]
	}
}

// Ring is the Queue used where io_uring is unavailable. Submitted operations
// run in submission order on a single worker goroutine, so a completion is
// posted only after every earlier operation has completed.
type Ring struct {
	completions
	exec func(SQE) int32

	subs chan []SQE
	done chan struct{}
}

// NewRing starts a ring with room for depth operations.
func NewRing(depth int) *Ring {
	r := &Ring{
		exec: execute,
		subs: make(chan []SQE, depth),
		done: make(chan struct{}),
	}
	r.init(depth)
	go r.run()
	return r
}

func (r *Ring) Submit(sqes []SQE) error {
	if len(sqes) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reserve(len(sqes)); err != nil {
		return err
	}
	r.subs <- append([]SQE(nil), sqes...)
	return nil
}

// Close stops the worker after it finishes the operations already
// submitted.
func (r *Ring) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.subs)
	r.mu.Unlock()
	<-r.done
}

func (r *Ring) run() {
	defer close(r.done)
	for sqes := range r.subs {
		canceled := false
		for _, sqe := range sqes {
			res := -int32(unix.ECANCELED)
			if !canceled {
				res = r.exec(sqe)
			}
			if sqe.Flags&FlagLink != 0 {
				canceled = canceled || res < 0
			} else {
				canceled = false
			}

			r.post(CQE{Tag: sqe.Tag, Res: res})
		}
	}
}

func execute(sqe SQE) int32 {
	switch sqe.Op {
	case OpPwritev:
		want := 0
		for _, iov := range sqe.Iovecs {
			want += len(iov)
		}
		n, err := unix.Pwritev(sqe.Fd, sqe.Iovecs, sqe.Offset)
		if err != nil {
			return errnoResult(err)
		} else if n != want {
			return -int32(unix.EIO)
		}
		return int32(n)
	case OpFdatasync:
		if err := unix.Fdatasync(sqe.Fd); err != nil {
			return errnoResult(err)
		}
		return 0
	}
	return -int32(unix.EINVAL)
}

func errnoResult(err error) int32 {
	if errno, ok := err.(unix.Errno); ok {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}
