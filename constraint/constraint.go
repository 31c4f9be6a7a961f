// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package constraint holds the checks the server runs against a transaction
// before deciding to commit it.
package constraint

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/molecula/objectdb/catalog"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/store"
	"github.com/molecula/objectdb/txnlog"
)

const ErrUniqueViolation errors.Code = "UniqueConstraintViolation"

// UniqueViolationPrefix starts the message of every unique constraint
// violation. It travels to the client in DECIDE_TXN_ROLLBACK_FOR_ERROR.
const UniqueViolationPrefix = "Unique constraint violation"

func NewErrUniqueViolation(table string, fields []string, id, other store.ID) error {
	return errors.New(
		ErrUniqueViolation,
		fmt.Sprintf("%s: %s(%s) of object %d duplicates object %d",
			UniqueViolationPrefix, table, strings.Join(fields, ", "), id, other),
	)
}

// IsUniqueViolation reports whether msg is the message of a unique
// constraint violation.
func IsUniqueViolation(msg string) bool {
	return strings.HasPrefix(msg, UniqueViolationPrefix)
}

// Validator checks a transaction. st is a read-only view of the database as
// it would be if the transaction committed, and records is the
// transaction's log.
type Validator interface {
	Validate(st *store.Store, records []txnlog.Record) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(st *store.Store, records []txnlog.Record) error

func (f ValidatorFunc) Validate(st *store.Store, records []txnlog.Record) error {
	return f(st, records)
}

// Unique enforces unique fields and unique indexes declared in the catalog.
// Rows missing any of a key's fields are not checked for that key.
type Unique struct{}

var _ Validator = Unique{}

type uniqueKey struct {
	names     []string
	positions []uint16
}

func (Unique) Validate(st *store.Store, records []txnlog.Record) error {
	keys := make(map[store.Type][]uniqueKey)
	tables := make(map[store.Type]catalog.Table)
	checked := make(map[store.ID]struct{})

	for _, r := range records {
		if r.Operation == store.OpDelete {
			continue
		}
		if _, ok := checked[r.Locator]; ok {
			continue
		}
		checked[r.Locator] = struct{}{}

		p, err := st.Open(r.Locator)
		if err != nil {
			return err
		} else if p.IsNull() || p.Type().IsSystem() {
			continue
		}

		ks, ok := keys[p.Type()]
		if !ok {
			t, found, err := catalog.FindTable(st, p.Type())
			if err != nil {
				return err
			}
			if found {
				if ks, err = uniqueKeys(st, t); err != nil {
					return err
				}
				tables[p.Type()] = t
			}
			keys[p.Type()] = ks
		}
		for _, k := range ks {
			if err := checkKey(st, tables[p.Type()], k, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// uniqueKeys returns the single-field keys of unique fields followed by the
// keys of unique indexes.
func uniqueKeys(st *store.Store, t catalog.Table) ([]uniqueKey, error) {
	fields, err := catalog.ListFields(st, t.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[store.ID]catalog.Field, len(fields))
	var keys []uniqueKey
	for _, f := range fields {
		byID[f.ID] = f
		if f.Unique {
			keys = append(keys, uniqueKey{names: []string{f.Name}, positions: []uint16{f.Position}})
		}
	}

	indexes, err := catalog.ListIndexes(st, t.ID)
	if err != nil {
		return nil, err
	}
	for _, idx := range indexes {
		if !idx.Unique || len(idx.Fields) == 0 {
			continue
		}
		var k uniqueKey
		for _, id := range idx.Fields {
			f, ok := byID[id]
			if !ok {
				return nil, errors.Errorf("index %q of table %q refers to unknown field %d", idx.Name, t.Name, id)
			}
			k.names = append(k.names, f.Name)
			k.positions = append(k.positions, f.Position)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// keyValue returns the values of the key's fields in row, or false when any
// of them is absent.
func keyValue(row []byte, k uniqueKey) ([][]byte, bool, error) {
	vals := make([][]byte, len(k.positions))
	for i, pos := range k.positions {
		v, ok, err := catalog.RowField(row, pos)
		if err != nil || !ok {
			return nil, false, err
		}
		vals[i] = v
	}
	return vals, true, nil
}

func equalValues(a, b [][]byte) bool {
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func checkKey(st *store.Store, t catalog.Table, k uniqueKey, row store.Ptr) error {
	want, ok, err := keyValue(row.Data(), k)
	if err != nil {
		return errors.Wrapf(err, "decoding object %d", row.ID())
	} else if !ok {
		return nil
	}

	p, err := st.FindFirst(row.Type())
	for ; err == nil && !p.IsNull(); p, err = st.FindNext(p) {
		if p.ID() == row.ID() {
			continue
		}
		got, ok, err := keyValue(p.Data(), k)
		if err != nil {
			return errors.Wrapf(err, "decoding object %d", p.ID())
		}
		if ok && equalValues(want, got) {
			return NewErrUniqueViolation(t.Name, k.names, row.ID(), p.ID())
		}
	}
	return err
}
