// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package store implements the object heap shared between the server and its
// client sessions. Objects live in the data segment and are addressed
// indirectly through a locator table which maps an object id to the offset
// of the object's current version. Every mutation allocates a new version
// (copy-on-write) and is recorded so the server can validate and publish it.
package store

import "math"

// ID identifies an object. IDs are never reused.
type ID uint64

// InvalidID is the empty value of a reference slot.
const InvalidID ID = 0

// Type is the type tag of an object.
type Type uint32

// SystemTypeBase is the first of the types reserved for internal objects
// such as relationship anchors and catalog metadata.
const SystemTypeBase Type = math.MaxUint32 - 4095

// IsSystem reports whether t is reserved for internal objects.
func (t Type) IsSystem() bool { return t >= SystemTypeBase }

// Offset is a byte offset into the data segment.
type Offset uint64

// InvalidOffset marks a locator which is not present or deleted. Offset 0
// holds the heap header so it never addresses an object.
const InvalidOffset Offset = 0

// Operation is the kind of change a log record describes.
type Operation uint8

const (
	OpCreate Operation = iota + 1
	OpUpdate
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Recorder receives one call per locator change. It is implemented by the
// transaction log.
type Recorder interface {
	Append(locator ID, oldOffset, newOffset Offset, op Operation, deletedID ID)
}
