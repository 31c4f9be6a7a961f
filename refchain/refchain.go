// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package refchain links parents and children through reference slots.
//
// A parent points at a hidden anchor object, the anchor points back at the
// parent and at the first child, and the children form a doubly linked list
// through their next and prev slots. Every child also points at the anchor.
//
//	parent[FirstChildOffset] -> anchor
//	anchor[AnchorFirstChild] -> child1 <-> child2 <-> ... -> InvalidID
//	childN[ParentOffset]     -> anchor
//	anchor[AnchorParent]     -> parent
//
// New children are inserted at the head of the list. When the last child is
// disconnected the anchor is removed and the parent slot is cleared.
package refchain

import (
	"github.com/molecula/objectdb/store"
)

// Cardinality is the number of children a parent may have.
type Cardinality uint8

const (
	One Cardinality = iota + 1
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	}
	return "unknown"
}

// AnchorType is the type of anchor objects.
const AnchorType = store.SystemTypeBase

// Anchor reference slots.
const (
	AnchorFirstChild = 0
	AnchorParent     = 1

	anchorNumRefs = 2
)

// Relationship describes which reference slots of the parent and child
// types implement one relationship.
type Relationship struct {
	ParentType store.Type
	ChildType  store.Type

	// FirstChildOffset is the parent's slot pointing at the anchor.
	FirstChildOffset int
	// ParentOffset, NextChildOffset and PrevChildOffset are child slots.
	ParentOffset    int
	NextChildOffset int
	PrevChildOffset int

	Cardinality    Cardinality
	ParentRequired bool

	// ValueLinked relationships are also matched by a key field on each
	// side.
	ValueLinked bool
	ParentField uint16
	ChildField  uint16
}

// JoinFields returns the key field positions of a value-linked relationship.
func (r Relationship) JoinFields() (parent, child uint16, ok bool) {
	if !r.ValueLinked {
		return 0, 0, false
	}
	return r.ParentField, r.ChildField, true
}

// checkSlots reports the first of slots that p does not have.
func checkSlots(p store.Ptr, slots ...int) error {
	for _, slot := range slots {
		if slot < 0 || slot >= p.NumReferences() {
			return store.NewErrReferenceSlotOutOfRange(p.ID(), slot, p.NumReferences())
		}
	}
	return nil
}

func (r Relationship) childSlots() []int {
	return []int{r.ParentOffset, r.NextChildOffset, r.PrevChildOffset}
}

func open(st *store.Store, id store.ID) (store.Ptr, error) {
	p, err := st.Open(id)
	if err != nil {
		return store.Ptr{}, err
	} else if p.IsNull() {
		return store.Ptr{}, store.NewErrObjectNotFound(id)
	}
	return p, nil
}

// Connect makes child the first child of parent.
func Connect(st *store.Store, rel Relationship, parentID, childID store.ID) error {
	parent, err := open(st, parentID)
	if err != nil {
		return err
	}
	child, err := open(st, childID)
	if err != nil {
		return err
	}
	if parent.Type() != rel.ParentType {
		return NewErrInvalidRelationshipType(parentID, parent.Type(), rel.ParentType)
	}
	if child.Type() != rel.ChildType {
		return NewErrInvalidRelationshipType(childID, child.Type(), rel.ChildType)
	}
	if err := checkSlots(parent, rel.FirstChildOffset); err != nil {
		return err
	}
	if err := checkSlots(child, rel.childSlots()...); err != nil {
		return err
	}
	if child.Reference(rel.ParentOffset) != store.InvalidID {
		return NewErrChildAlreadyReferenced(childID)
	}

	first := store.InvalidID
	anchorID := parent.Reference(rel.FirstChildOffset)
	if anchorID == store.InvalidID {
		anchor, err := st.Create(store.InvalidID, AnchorType, anchorNumRefs, nil)
		if err != nil {
			return err
		}
		anchorID = anchor.ID()
		if err := st.SetReference(anchorID, AnchorParent, parentID); err != nil {
			return err
		}
		if err := st.SetReference(parentID, rel.FirstChildOffset, anchorID); err != nil {
			return err
		}
	} else {
		anchor, err := open(st, anchorID)
		if err != nil {
			return err
		}
		first = anchor.Reference(AnchorFirstChild)
		if rel.Cardinality == One && first != store.InvalidID {
			return NewErrSingleCardinalityViolation(parentID)
		}
	}

	if err := st.SetReference(childID, rel.ParentOffset, anchorID); err != nil {
		return err
	}
	if err := st.SetReference(childID, rel.NextChildOffset, first); err != nil {
		return err
	}
	if first != store.InvalidID {
		if err := st.SetReference(first, rel.PrevChildOffset, childID); err != nil {
			return err
		}
	}
	return st.SetReference(anchorID, AnchorFirstChild, childID)
}

// Disconnect unlinks child from its parent.
func Disconnect(st *store.Store, rel Relationship, childID store.ID) error {
	child, err := open(st, childID)
	if err != nil {
		return err
	}
	if child.Type() != rel.ChildType {
		return NewErrInvalidRelationshipType(childID, child.Type(), rel.ChildType)
	}
	if err := checkSlots(child, rel.childSlots()...); err != nil {
		return err
	}
	anchorID := child.Reference(rel.ParentOffset)
	if anchorID == store.InvalidID {
		return NewErrChildNotReferenced(childID)
	}
	prev := child.Reference(rel.PrevChildOffset)
	next := child.Reference(rel.NextChildOffset)

	if prev != store.InvalidID {
		err = st.SetReference(prev, rel.NextChildOffset, next)
	} else {
		err = st.SetReference(anchorID, AnchorFirstChild, next)
	}
	if err != nil {
		return err
	}
	if next != store.InvalidID {
		if err := st.SetReference(next, rel.PrevChildOffset, prev); err != nil {
			return err
		}
	}
	for _, slot := range rel.childSlots() {
		if err := st.SetReference(childID, slot, store.InvalidID); err != nil {
			return err
		}
	}

	if prev != store.InvalidID || next != store.InvalidID {
		return nil
	}
	return removeAnchor(st, rel, anchorID)
}

func removeAnchor(st *store.Store, rel Relationship, anchorID store.ID) error {
	anchor, err := open(st, anchorID)
	if err != nil {
		return err
	}
	if parentID := anchor.Reference(AnchorParent); parentID != store.InvalidID {
		if err := st.SetReference(parentID, rel.FirstChildOffset, store.InvalidID); err != nil {
			return err
		}
		if err := st.SetReference(anchorID, AnchorParent, store.InvalidID); err != nil {
			return err
		}
	}
	return st.Remove(anchorID)
}

// Parent returns the parent of child, or a null Ptr if child has none.
func Parent(st *store.Store, rel Relationship, childID store.ID) (store.Ptr, error) {
	child, err := open(st, childID)
	if err != nil {
		return store.Ptr{}, err
	}
	anchorID := child.Reference(rel.ParentOffset)
	if anchorID == store.InvalidID {
		return store.Ptr{}, nil
	}
	anchor, err := st.Open(anchorID)
	if err != nil {
		return store.Ptr{}, err
	} else if anchor.IsNull() || anchor.Type() != AnchorType {
		return store.Ptr{}, newErrBrokenChain(childID, "parent slot does not point at an anchor")
	}
	return open(st, anchor.Reference(AnchorParent))
}
