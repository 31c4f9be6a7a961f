// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

//go:build linux
// +build linux

package persistence

import (
	"github.com/iceber/iouring-go"
	"github.com/molecula/objectdb/errors"
	"golang.org/x/sys/unix"
)

// URing is a Queue backed by a kernel io_uring instance. FlagLink chains are
// submitted with IOSQE_IO_LINK and FlagDrain maps to IOSQE_IO_DRAIN, so the
// kernel enforces the ordering between linked and drained operations.
type URing struct {
	completions

	iour    *iouring.IOURing
	results chan iouring.Result
	done    chan struct{}
}

// uringOp travels with a request as its info and comes back on completion.
type uringOp struct {
	tag  Tag
	want int
}

// NewURing sets up an io_uring with room for depth operations. It fails
// where the kernel does not support io_uring.
func NewURing(depth int) (*URing, error) {
	iour, err := iouring.New(uint(depth))
	if err != nil {
		return nil, errors.Wrap(err, "setting up io_uring")
	}
	r := &URing{
		iour:    iour,
		results: make(chan iouring.Result, depth),
		done:    make(chan struct{}),
	}
	r.init(depth)
	go r.reap()
	return r, nil
}

// Submit hands sqes to the kernel. Each maximal run of FlagLink entries plus
// the entry terminating it is submitted as one linked chain.
func (r *URing) Submit(sqes []SQE) error {
	if len(sqes) == 0 {
		return nil
	}
	reqs := make([]iouring.PrepRequest, 0, len(sqes))
	for _, sqe := range sqes {
		req, err := prepare(sqe)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reserve(len(sqes)); err != nil {
		return err
	}
	start := 0
	for i, sqe := range sqes {
		if sqe.Flags&FlagLink != 0 && i < len(sqes)-1 {
			continue
		}
		if err := r.submitChain(reqs[start : i+1]); err != nil {
			// Nothing from start on reached the kernel.
			r.inflight -= len(sqes) - start
			return errors.Wrap(err, "submitting to io_uring")
		}
		start = i + 1
	}
	return nil
}

func (r *URing) submitChain(chain []iouring.PrepRequest) error {
	if len(chain) == 1 {
		_, err := r.iour.SubmitRequest(chain[0], r.results)
		return err
	}
	_, err := r.iour.SubmitLinkRequests(chain, r.results)
	return err
}

func prepare(sqe SQE) (iouring.PrepRequest, error) {
	op := &uringOp{tag: sqe.Tag}
	var req iouring.PrepRequest
	switch sqe.Op {
	case OpPwritev:
		for _, iov := range sqe.Iovecs {
			op.want += len(iov)
		}
		req = iouring.Pwritev(sqe.Fd, sqe.Iovecs, sqe.Offset)
	case OpFdatasync:
		req = iouring.Fdatasync(sqe.Fd)
	default:
		return nil, errors.Errorf("unknown op %d", sqe.Op)
	}
	req = req.WithInfo(op)
	if sqe.Flags&FlagDrain != 0 {
		req = req.WithDrain()
	}
	return req, nil
}

// reap turns kernel completions into CQEs until the results channel closes.
func (r *URing) reap() {
	defer close(r.done)
	for res := range r.results {
		op, _ := res.GetRequestInfo().(*uringOp)
		if op == nil {
			continue
		}
		r.post(CQE{Tag: op.tag, Res: completionResult(res, op)})
	}
}

func completionResult(res iouring.Result, op *uringOp) int32 {
	req, ok := res.(iouring.Request)
	if !ok {
		return -int32(unix.EIO)
	}
	n, err := req.GetRes()
	if err != nil {
		return -int32(unix.EIO)
	}
	if n >= 0 && op.want > 0 && n != op.want {
		return -int32(unix.EIO)
	}
	return int32(n)
}

// Close waits for every submitted operation to complete and tears the ring
// down.
func (r *URing) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for r.inflight > 0 {
		r.cond.Wait()
	}
	r.mu.Unlock()

	_ = r.iour.Close()
	close(r.results)
	<-r.done
}
