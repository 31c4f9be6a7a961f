// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/messages"
	"github.com/molecula/objectdb/store"
	"github.com/molecula/objectdb/txnlog"
)

const (
	ErrNoLogSlot         errors.Code = "NoLogSlot"
	ErrTxnNotActive      errors.Code = "TransactionNotActive"
	ErrMalformedTxnLog   errors.Code = "MalformedTransactionLog"
	ErrTimestampOverflow errors.Code = "TimestampOverflow"
)

// txn is a transaction between BEGIN_TXN and its decision or rollback.
type txn struct {
	id      uint64 // also the begin timestamp
	slot    uint64
	session string
}

// pendingLog is a committed log that has not been applied to the shared
// locators because some active transaction began before it committed.
type pendingLog struct {
	commitTS uint64
	slot     uint64
}

// txnManager hands out timestamps and log slots, decides conflicts and
// maintains the shared locator table. Timestamps come from one counter:
// a transaction's id is its begin timestamp, and its commit timestamp is
// drawn when the commit is decided. It is not safe for concurrent use; the
// server serializes access.
type txnManager struct {
	ts uint64

	slots    *txnlog.Slots
	locators *store.Locators

	active  map[uint64]*txn
	pending []pendingLog // commit order

	// lastWrite maps a locator to the commit timestamp of the last
	// committed transaction that changed it. Entries are dropped once no
	// active or future transaction can conflict with them.
	lastWrite *immutable.Map[uint64, uint64]
}

func newTxnManager(slots *txnlog.Slots, locators *store.Locators, ts uint64) *txnManager {
	return &txnManager{
		ts:        ts,
		slots:     slots,
		locators:  locators,
		active:    make(map[uint64]*txn),
		lastWrite: immutable.NewMap[uint64, uint64](&uint64Hasher{}),
	}
}

func (m *txnManager) next() (uint64, error) {
	if m.ts == ^uint64(0) {
		return 0, errors.New(ErrTimestampOverflow, "transaction timestamps exhausted")
	}
	m.ts++
	return m.ts, nil
}

// begin starts a transaction and returns it along with the committed logs
// its snapshot must apply, in commit order.
func (m *txnManager) begin(session string) (*txn, []messages.LogRef, error) {
	if m.slots.Free() == 0 {
		return nil, nil, errors.Newf(ErrNoLogSlot, "all %d transaction log slots are in use", len(m.pending)+len(m.active))
	}
	id, err := m.next()
	if err != nil {
		return nil, nil, err
	}
	slot, _ := m.slots.Acquire(id)
	t := &txn{id: id, slot: slot, session: session}
	m.active[id] = t

	refs := make([]messages.LogRef, len(m.pending))
	for i, p := range m.pending {
		refs[i] = messages.LogRef{CommitTimestamp: p.commitTS, LogOffset: p.slot}
	}
	return t, refs, nil
}

// records returns the log of t after checking that the client left it in a
// state the server can act on.
func (m *txnManager) records(t *txn, heap *store.Heap) ([]txnlog.Record, error) {
	l := m.slots.Log(t.slot)
	if l.TxnID() != t.id {
		return nil, errors.Newf(ErrMalformedTxnLog, "log slot belongs to transaction %d, not %d", l.TxnID(), t.id)
	}
	if n := l.Len(); n < 0 || n > l.Capacity() {
		return nil, errors.Newf(ErrMalformedTxnLog, "log of transaction %d holds %d records, capacity %d", t.id, n, l.Capacity())
	}
	recs := l.Records()
	for i, r := range recs {
		if r.Locator == store.InvalidID || uint64(r.Locator) >= uint64(m.locators.Len()) {
			return nil, errors.Newf(ErrMalformedTxnLog, "record %d: locator %d out of range", i, r.Locator)
		}
		switch r.Operation {
		case store.OpCreate, store.OpUpdate:
			obj, err := store.ObjectAt(heap.Bytes(), r.NewOffset)
			if err != nil {
				return nil, errors.Wrapf(err, "record %d", i)
			}
			if obj.ID() != r.Locator {
				return nil, errors.Newf(ErrMalformedTxnLog, "record %d: object at %d has id %d, want %d", i, r.NewOffset, obj.ID(), r.Locator)
			}
		case store.OpDelete:
			if r.NewOffset != store.InvalidOffset {
				return nil, errors.Newf(ErrMalformedTxnLog, "record %d: delete installs offset %d", i, r.NewOffset)
			}
		default:
			return nil, errors.Newf(ErrMalformedTxnLog, "record %d: unknown operation %d", i, r.Operation)
		}
	}
	return recs, nil
}

// conflicts reports whether a transaction that committed after t began
// wrote any locator in recs.
func (m *txnManager) conflicts(t *txn, recs []txnlog.Record) (store.ID, bool) {
	for _, r := range recs {
		if ts, ok := m.lastWrite.Get(uint64(r.Locator)); ok && ts > t.id {
			return r.Locator, true
		}
	}
	return store.InvalidID, false
}

// view returns a read-only store that sees the shared locators with every
// pending log and recs applied: the database as it would be after t
// commits.
func (m *txnManager) view(heap *store.Heap, recs []txnlog.Record) *store.Store {
	o := store.NewOverlay(m.locators)
	for _, p := range m.pending {
		txnlog.Apply(m.slots.Log(p.slot), o)
	}
	for _, r := range recs {
		o.Set(r.Locator, r.NewOffset)
	}
	return store.New(heap, o, nil)
}

// commitTimestamp draws the commit timestamp for t.
func (m *txnManager) commitTimestamp() (uint64, error) {
	return m.next()
}

// committed records t as committed at ts. Its log stays pending until every
// transaction that began before ts has finished.
func (m *txnManager) committed(t *txn, recs []txnlog.Record, ts uint64) {
	errors.AssertPrecondition(m.active[t.id] == t, "committing a transaction that is not active")
	for _, r := range recs {
		m.lastWrite = m.lastWrite.Set(uint64(r.Locator), ts)
	}
	m.pending = append(m.pending, pendingLog{commitTS: ts, slot: t.slot})
	delete(m.active, t.id)
	m.advance()
}

// finish ends t without committing it and frees its slot.
func (m *txnManager) finish(t *txn) {
	if m.active[t.id] != t {
		return
	}
	delete(m.active, t.id)
	m.slots.Release(t.slot)
	m.advance()
}

// oldest returns the begin timestamp of the oldest active transaction, or
// the next timestamp if there is none.
func (m *txnManager) oldest() uint64 {
	min := m.ts + 1
	for id := range m.active {
		if id < min {
			min = id
		}
	}
	return min
}

// advance applies, in commit order, every pending log that all active
// transactions already see, then recycles its slot.
func (m *txnManager) advance() {
	oldest := m.oldest()
	n := 0
	for _, p := range m.pending {
		if p.commitTS >= oldest {
			break
		}
		l := m.slots.Log(p.slot)
		txnlog.Apply(l, m.locators)
		for _, r := range l.Records() {
			if ts, ok := m.lastWrite.Get(uint64(r.Locator)); ok && ts == p.commitTS {
				m.lastWrite = m.lastWrite.Delete(uint64(r.Locator))
			}
		}
		m.slots.Release(p.slot)
		n++
	}
	m.pending = m.pending[n:]
}

// activeSessions returns the sessions with an open transaction, sorted.
func (m *txnManager) activeSessions() []string {
	var out []string
	for _, t := range m.active {
		out = append(out, fmt.Sprintf("%s:%d", t.session, t.id))
	}
	sort.Strings(out)
	return out
}

// uint64Hasher implements immutable.Hasher for uint64 keys.
type uint64Hasher struct{}

// Hash returns a hash for key.
func (h *uint64Hasher) Hash(key uint64) uint32 {
	return hashUint64(key)
}

// Equal returns true if a is equal to b.
func (h *uint64Hasher) Equal(a, b uint64) bool {
	return a == b
}

// hashUint64 returns a 32-bit hash for a 64-bit value.
func hashUint64(value uint64) uint32 {
	hash := value
	for value > 0xffffffff {
		value /= 0xffffffff
		hash ^= value
	}
	return uint32(hash)
}
