// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package refchain

import (
	"github.com/molecula/objectdb/store"
)

// Iterator walks the children of one parent. It reads the chain lazily, one
// child per call to Next.
type Iterator struct {
	st       *store.Store
	rel      Relationship
	parentID store.ID

	started bool
	steps   int
	cur     store.Ptr
	err     error
}

// Children returns an iterator over the children of parentID.
func Children(st *store.Store, rel Relationship, parentID store.ID) *Iterator {
	return &Iterator{st: st, rel: rel, parentID: parentID}
}

// Next advances to the next child and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.err != nil || (it.started && it.cur.IsNull()) {
		return false
	}

	var next store.ID
	if !it.started {
		it.started = true
		parent, err := open(it.st, it.parentID)
		if err != nil {
			it.err = err
			return false
		}
		anchorID := parent.Reference(it.rel.FirstChildOffset)
		if anchorID == store.InvalidID {
			return false
		}
		anchor, err := it.st.Open(anchorID)
		if err != nil {
			it.err = err
			return false
		} else if anchor.IsNull() {
			it.err = newErrBrokenChain(it.parentID, "anchor missing")
			return false
		}
		next = anchor.Reference(AnchorFirstChild)
	} else {
		next = it.cur.Reference(it.rel.NextChildOffset)
	}

	it.cur = store.Ptr{}
	if next == store.InvalidID {
		return false
	}
	if it.steps++; it.steps > it.st.Locators().Len() {
		it.err = newErrBrokenChain(next, "cycle")
		return false
	}
	p, err := it.st.Open(next)
	if err != nil {
		it.err = err
		return false
	} else if p.IsNull() {
		it.err = newErrBrokenChain(next, "child missing")
		return false
	}
	it.cur = p
	return true
}

// Ptr returns the current child.
func (it *Iterator) Ptr() store.Ptr { return it.cur }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Reset rewinds the iterator to the first child.
func (it *Iterator) Reset() {
	it.started = false
	it.steps = 0
	it.cur = store.Ptr{}
	it.err = nil
}

// All drains it.
func All(it *Iterator) ([]store.Ptr, error) {
	var out []store.Ptr
	for it.Next() {
		out = append(out, it.Ptr())
	}
	return out, it.Err()
}
