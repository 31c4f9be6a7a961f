// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package store

import (
	"fmt"

	"github.com/molecula/objectdb/errors"
)

const (
	ErrNodeNotDisconnected     errors.Code = "NodeNotDisconnected"
	ErrObjectNotFound          errors.Code = "ObjectNotFound"
	ErrObjectAlreadyExists     errors.Code = "ObjectAlreadyExists"
	ErrInvalidObject           errors.Code = "InvalidObject"
	ErrInvalidHeap             errors.Code = "InvalidHeap"
	ErrHeapFull                errors.Code = "HeapFull"
	ErrLocatorsExhausted       errors.Code = "LocatorsExhausted"
	ErrReferenceSlotOutOfRange errors.Code = "ReferenceSlotOutOfRange"
	ErrReadOnly                errors.Code = "ReadOnly"
	ErrIDAlreadyUsed           errors.Code = "IDAlreadyUsed"
)

func NewErrNodeNotDisconnected(id ID) error {
	return errors.New(
		ErrNodeNotDisconnected,
		fmt.Sprintf("cannot delete object %d: it still has references, disconnect it from all relationships first", id),
	)
}

func NewErrObjectNotFound(id ID) error {
	return errors.New(
		ErrObjectNotFound,
		fmt.Sprintf("object %d not found", id),
	)
}

func NewErrObjectAlreadyExists(id ID) error {
	return errors.New(
		ErrObjectAlreadyExists,
		fmt.Sprintf("object %d already exists", id),
	)
}

func NewErrIDAlreadyUsed(id ID) error {
	return errors.New(
		ErrIDAlreadyUsed,
		fmt.Sprintf("object id %d was handed out before and cannot be reused", id),
	)
}

func NewErrInvalidObject(off Offset, reason string) error {
	return errors.New(
		ErrInvalidObject,
		fmt.Sprintf("invalid object at offset %d: %s", off, reason),
	)
}

func NewErrHeapFull(size, capacity uint64) error {
	return errors.New(
		ErrHeapFull,
		fmt.Sprintf("cannot allocate %d bytes: heap capacity %d exhausted", size, capacity),
	)
}

func NewErrLocatorsExhausted(id ID, n int) error {
	return errors.New(
		ErrLocatorsExhausted,
		fmt.Sprintf("object id %d exceeds the locator table size %d", id, n),
	)
}

func NewErrReferenceSlotOutOfRange(id ID, slot, n int) error {
	return errors.New(
		ErrReferenceSlotOutOfRange,
		fmt.Sprintf("reference slot %d out of range for object %d with %d references", slot, id, n),
	)
}

func NewErrReadOnly() error {
	return errors.New(ErrReadOnly, "store is read-only")
}
