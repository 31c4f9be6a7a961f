// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"fmt"

	"github.com/molecula/objectdb/errors"
)

// Decision is the outcome of a transaction as recorded in the log.
type Decision struct {
	TxnID     uint64
	CommitTS  uint64
	Committed bool
}

// AsyncWriteBatch collects operations for a Ring and tracks their
// completions. Commit decisions waiting to be written and log files waiting
// to be closed are attached to the batch, so they are released only once
// the batch's operations have been validated. A batch belongs to a single
// writer and is not safe for concurrent use.
type AsyncWriteBatch struct {
	ring Queue

	sqes      []SQE
	submitted int

	decisions []Decision
	files     []*LogFile
}

func NewAsyncWriteBatch(ring Queue) *AsyncWriteBatch {
	return &AsyncWriteBatch{ring: ring}
}

func (b *AsyncWriteBatch) add(sqe SQE) error {
	if len(b.sqes) >= b.ring.Depth() {
		return NewErrQueueFull(b.ring.Depth())
	}
	b.sqes = append(b.sqes, sqe)
	return nil
}

// AddPwritev queues a scatter-gather write of iovecs at offset.
func (b *AsyncWriteBatch) AddPwritev(fd int, offset int64, iovecs [][]byte, tag Tag, flags Flags) error {
	return b.add(SQE{Op: OpPwritev, Fd: fd, Offset: offset, Iovecs: iovecs, Tag: tag, Flags: flags})
}

// AddFdatasync queues a durability barrier for fd.
func (b *AsyncWriteBatch) AddFdatasync(fd int, tag Tag, flags Flags) error {
	return b.add(SQE{Op: OpFdatasync, Fd: fd, Tag: tag, Flags: flags})
}

// AddDecision attaches a decision to the batch.
func (b *AsyncWriteBatch) AddDecision(d Decision) {
	b.decisions = append(b.decisions, d)
}

// Decisions returns the decisions attached to the batch.
func (b *AsyncWriteBatch) Decisions() []Decision { return b.decisions }

// AddFileToClose hands f to the batch, which closes it on Reset.
func (b *AsyncWriteBatch) AddFileToClose(f *LogFile) {
	b.files = append(b.files, f)
}

// Queued returns the number of operations not yet submitted.
func (b *AsyncWriteBatch) Queued() int { return len(b.sqes) }

// Pending returns the number of submitted operations whose completions have
// not been validated.
func (b *AsyncWriteBatch) Pending() int { return b.submitted }

// SubmitOperationBatch submits every queued operation. With wait set it
// blocks until all of the batch's submitted operations have completed.
func (b *AsyncWriteBatch) SubmitOperationBatch(wait bool) error {
	if err := b.ring.Submit(b.sqes); err != nil {
		return err
	}
	b.submitted += len(b.sqes)
	b.sqes = b.sqes[:0]
	if wait {
		b.ring.Wait(b.submitted)
	}
	return nil
}

// ValidateNextCompletion consumes the oldest completion, blocking until it
// is available, and fails if its result is negative. The completion is
// marked seen either way.
func (b *AsyncWriteBatch) ValidateNextCompletion() (CQE, error) {
	if b.submitted == 0 {
		return CQE{}, errors.New(ErrBatchNotDrained, "no submitted operations to validate")
	}
	b.ring.Wait(1)
	cqe, ok := b.ring.Peek()
	if !ok {
		return CQE{}, errors.New(ErrBatchNotDrained, "ring has no completion")
	}
	b.ring.MarkSeen()
	b.submitted--
	if cqe.Res < 0 {
		return cqe, NewErrIOFailure(cqe)
	}
	return cqe, nil
}

// ValidateAll consumes every pending completion and returns the first
// failure.
func (b *AsyncWriteBatch) ValidateAll() ([]CQE, error) {
	var cqes []CQE
	var first error
	for b.submitted > 0 {
		cqe, err := b.ValidateNextCompletion()
		cqes = append(cqes, cqe)
		if err != nil && first == nil {
			first = err
		}
	}
	return cqes, first
}

// Reset releases the decisions and closes the files attached to the batch.
// Every submitted operation must have been validated.
func (b *AsyncWriteBatch) Reset() error {
	if b.submitted > 0 || len(b.sqes) > 0 {
		return errors.New(ErrBatchNotDrained, fmt.Sprintf("%d operations still pending", b.submitted+len(b.sqes)))
	}
	b.decisions = b.decisions[:0]
	var err error
	for _, f := range b.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	b.files = b.files[:0]
	return err
}
