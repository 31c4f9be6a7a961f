// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"fmt"

	"github.com/molecula/objectdb/errors"
	"golang.org/x/sys/unix"
)

const (
	ErrIOFailure       errors.Code = "IOFailure"
	ErrQueueFull       errors.Code = "QueueFull"
	ErrRingClosed      errors.Code = "RingClosed"
	ErrCorruptRecord   errors.Code = "CorruptRecord"
	ErrRecordTooLarge  errors.Code = "RecordTooLarge"
	ErrBatchNotDrained errors.Code = "BatchNotDrained"

	ErrEngineUnavailable errors.Code = "EngineUnavailable"
)

// NewErrIOFailure reports a completion with a negative result.
func NewErrIOFailure(cqe CQE) error {
	return errors.New(
		ErrIOFailure,
		fmt.Sprintf("operation %s failed: %v", cqe.Tag, unix.Errno(-cqe.Res)),
	)
}

func NewErrQueueFull(depth int) error {
	return errors.New(
		ErrQueueFull,
		fmt.Sprintf("submission queue full (depth %d)", depth),
	)
}

func NewErrCorruptRecord(file string, offset int64, reason string) error {
	return errors.New(
		ErrCorruptRecord,
		fmt.Sprintf("corrupt record in %s at offset %d: %s", file, offset, reason),
	)
}

func NewErrRecordTooLarge(size, capacity int64) error {
	return errors.New(
		ErrRecordTooLarge,
		fmt.Sprintf("record of %d bytes does not fit in a log file of %d bytes", size, capacity),
	)
}
