// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package store

import (
	"github.com/molecula/objectdb/errors"
)

// ChangeFunc is called after every create, update and delete made through
// Store's payload operations.
type ChangeFunc func(op Operation, typ Type, id ID)

// Store provides object operations for one transaction. Reads resolve ids
// through the transaction's locator table; writes allocate new object
// versions in the shared heap, install them in the locator table and record
// each change. A Store is not safe for concurrent use.
type Store struct {
	heap     *Heap
	locators LocatorTable
	log      Recorder
	onChange ChangeFunc

	// owned holds the offsets of versions allocated by this transaction.
	// Nobody else can observe them so they are modified in place.
	owned map[Offset]struct{}
}

// New returns a Store. A nil Recorder makes the store read-only.
func New(heap *Heap, locators LocatorTable, log Recorder) *Store {
	return &Store{
		heap:     heap,
		locators: locators,
		log:      log,
		owned:    make(map[Offset]struct{}),
	}
}

// OnChange registers fn to observe payload changes.
func (s *Store) OnChange(fn ChangeFunc) { s.onChange = fn }

// Locators returns the store's locator table.
func (s *Store) Locators() LocatorTable { return s.locators }

// Heap returns the store's heap.
func (s *Store) Heap() *Heap { return s.heap }

// GenerateID returns a fresh object id.
func (s *Store) GenerateID() (ID, error) {
	id := s.heap.NextID()
	if uint64(id) >= uint64(s.locators.Len()) {
		return InvalidID, NewErrLocatorsExhausted(id, s.locators.Len())
	}
	return id, nil
}

func (s *Store) object(id ID) (Object, bool, error) {
	off := s.locators.Get(id)
	if off == InvalidOffset {
		return Object{}, false, nil
	}
	obj, err := ObjectAt(s.heap.Bytes(), off)
	if err != nil {
		return Object{}, false, errors.Wrapf(err, "resolving object %d", id)
	}
	return obj, true, nil
}

// Open returns the current version of id, or a null Ptr if there is none.
func (s *Store) Open(id ID) (Ptr, error) {
	obj, ok, err := s.object(id)
	if err != nil || !ok {
		return Ptr{}, err
	}
	return newPtr(obj), nil
}

// allocate writes a new version and returns a view of it.
func (s *Store) allocate(id ID, typ Type, refs []ID, data []byte) (Object, error) {
	size := ObjectSize(len(refs), len(data))
	off, err := s.heap.Allocate(size)
	if err != nil {
		return Object{}, err
	}
	buf := s.heap.Bytes()[off : uint64(off)+size]
	writeObject(buf, id, typ, refs, data)
	s.owned[off] = struct{}{}
	return Object{off: off, buf: buf}, nil
}

func (s *Store) install(id ID, old, new Offset, op Operation, deleted ID) {
	s.locators.Set(id, new)
	s.log.Append(id, old, new, op, deleted)
}

func (s *Store) changed(op Operation, typ Type, id ID) {
	if s.onChange != nil {
		s.onChange(op, typ, id)
	}
}

// Create adds an object with numRefs empty reference slots. An InvalidID
// asks the store to generate one. An explicit id must lie at or above the
// id high-water mark.
func (s *Store) Create(id ID, typ Type, numRefs int, data []byte) (Ptr, error) {
	if s.log == nil {
		return Ptr{}, NewErrReadOnly()
	}
	generated := id == InvalidID
	if generated {
		var err error
		if id, err = s.GenerateID(); err != nil {
			return Ptr{}, err
		}
	} else if uint64(id) >= uint64(s.locators.Len()) {
		return Ptr{}, NewErrLocatorsExhausted(id, s.locators.Len())
	}
	if s.locators.Get(id) != InvalidOffset {
		return Ptr{}, NewErrObjectAlreadyExists(id)
	} else if id < s.heap.IDHighWater() && !generated {
		return Ptr{}, NewErrIDAlreadyUsed(id)
	}
	s.heap.ReserveID(id)

	obj, err := s.allocate(id, typ, make([]ID, numRefs), data)
	if err != nil {
		return Ptr{}, errors.Wrapf(err, "creating object %d", id)
	}
	s.install(id, InvalidOffset, obj.off, OpCreate, InvalidID)
	s.changed(OpCreate, typ, id)
	return newPtr(obj), nil
}

// Update replaces the data of id. The reference slots are carried over to
// the new version.
func (s *Store) Update(id ID, data []byte) (Ptr, error) {
	if s.log == nil {
		return Ptr{}, NewErrReadOnly()
	}
	old, ok, err := s.object(id)
	if err != nil {
		return Ptr{}, err
	} else if !ok {
		return Ptr{}, NewErrObjectNotFound(id)
	}

	obj, err := s.allocate(id, old.Type(), old.references(), data)
	if err != nil {
		return Ptr{}, errors.Wrapf(err, "updating object %d", id)
	}
	s.install(id, old.off, obj.off, OpUpdate, InvalidID)
	s.changed(OpUpdate, obj.Type(), id)
	return newPtr(obj), nil
}

// Remove deletes id. Every reference slot must be empty.
func (s *Store) Remove(id ID) error {
	if s.log == nil {
		return NewErrReadOnly()
	}
	obj, ok, err := s.object(id)
	if err != nil {
		return err
	} else if !ok {
		return NewErrObjectNotFound(id)
	}
	for i := 0; i < obj.NumReferences(); i++ {
		if obj.Reference(i) != InvalidID {
			return NewErrNodeNotDisconnected(id)
		}
	}
	typ := obj.Type()
	s.install(id, obj.off, InvalidOffset, OpDelete, id)
	s.changed(OpDelete, typ, id)
	return nil
}

// SetReference sets reference slot slot of id to target. A version created
// by this transaction is changed in place; otherwise a new version is made.
func (s *Store) SetReference(id ID, slot int, target ID) error {
	if s.log == nil {
		return NewErrReadOnly()
	}
	obj, ok, err := s.object(id)
	if err != nil {
		return err
	} else if !ok {
		return NewErrObjectNotFound(id)
	}
	if slot < 0 || slot >= obj.NumReferences() {
		return NewErrReferenceSlotOutOfRange(id, slot, obj.NumReferences())
	}
	if obj.Reference(slot) == target {
		return nil
	}

	if _, mine := s.owned[obj.off]; mine {
		obj.setReference(slot, target)
		return nil
	}

	refs := obj.references()
	refs[slot] = target
	next, err := s.allocate(id, obj.Type(), refs, obj.data())
	if err != nil {
		return errors.Wrapf(err, "setting reference %d of object %d", slot, id)
	}
	s.install(id, obj.off, next.off, OpUpdate, InvalidID)
	return nil
}

// FindFirst returns the live object of type typ with the lowest id, or a
// null Ptr.
func (s *Store) FindFirst(typ Type) (Ptr, error) {
	return s.scan(1, typ)
}

// FindNext returns the live object after p with the same type as p, or a
// null Ptr. Objects deleted since p was found are skipped.
func (s *Store) FindNext(p Ptr) (Ptr, error) {
	if p.IsNull() {
		return Ptr{}, nil
	}
	return s.scan(p.ID()+1, p.Type())
}

func (s *Store) scan(from ID, typ Type) (Ptr, error) {
	limit := s.heap.IDHighWater()
	if n := ID(s.locators.Len()); limit > n {
		limit = n
	}
	for id := from; id < limit; id++ {
		obj, ok, err := s.object(id)
		if err != nil {
			return Ptr{}, err
		} else if ok && obj.Type() == typ {
			return newPtr(obj), nil
		}
	}
	return Ptr{}, nil
}
