// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package store

import (
	"encoding/binary"

	"github.com/molecula/objectdb/errors"
)

// LocatorSize is the size of one locator entry.
const LocatorSize = 8

// LocatorTable maps object ids to heap offsets.
type LocatorTable interface {
	Len() int
	Get(id ID) Offset
	Set(id ID, off Offset)
}

// Locators is a LocatorTable over a mapped locator segment. Entry i holds
// the offset of object i.
type Locators struct {
	mem []byte
}

func NewLocators(mem []byte) *Locators {
	return &Locators{mem: mem}
}

func (l *Locators) Len() int { return len(l.mem) / LocatorSize }

// Get returns InvalidOffset for ids beyond the table.
func (l *Locators) Get(id ID) Offset {
	if uint64(id) >= uint64(l.Len()) {
		return InvalidOffset
	}
	return Offset(binary.LittleEndian.Uint64(l.mem[id*LocatorSize:]))
}

func (l *Locators) Set(id ID, off Offset) {
	errors.AssertPrecondition(uint64(id) < uint64(l.Len()), "locator id out of range")
	binary.LittleEndian.PutUint64(l.mem[id*LocatorSize:], uint64(off))
}

// Overlay is a LocatorTable which records writes in memory on top of a base
// table that is never modified.
type Overlay struct {
	base    LocatorTable
	changes map[ID]Offset
}

func NewOverlay(base LocatorTable) *Overlay {
	return &Overlay{base: base, changes: make(map[ID]Offset)}
}

func (o *Overlay) Len() int { return o.base.Len() }

func (o *Overlay) Get(id ID) Offset {
	if off, ok := o.changes[id]; ok {
		return off
	}
	return o.base.Get(id)
}

func (o *Overlay) Set(id ID, off Offset) {
	errors.AssertPrecondition(uint64(id) < uint64(o.Len()), "locator id out of range")
	o.changes[id] = off
}
