// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package catalog stores schema metadata as system objects in the object
// store. Tables own chains of fields, indexes and relationships built with
// the same anchor protocol used for user data, so the catalog is traversed
// with refchain like any other relationship.
package catalog

import (
	"math"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/refchain"
	"github.com/molecula/objectdb/store"
)

// System types of catalog objects.
const (
	TypeField        store.Type = math.MaxUint32
	TypeTable        store.Type = math.MaxUint32 - 1
	TypeRelationship store.Type = math.MaxUint32 - 2
	TypeIndex        store.Type = math.MaxUint32 - 3
)

const (
	tableNumRefs        = 4
	fieldNumRefs        = 3
	relationshipNumRefs = 6
	indexNumRefs        = 3
)

// Relationships between catalog objects.
var (
	TableFields = refchain.Relationship{
		ParentType:       TypeTable,
		ChildType:        TypeField,
		FirstChildOffset: 0,
		ParentOffset:     0,
		NextChildOffset:  1,
		PrevChildOffset:  2,
		Cardinality:      refchain.Many,
		ParentRequired:   true,
	}
	// TableRelationshipsFrom links a table to the relationships where it is
	// the parent.
	TableRelationshipsFrom = refchain.Relationship{
		ParentType:       TypeTable,
		ChildType:        TypeRelationship,
		FirstChildOffset: 1,
		ParentOffset:     0,
		NextChildOffset:  1,
		PrevChildOffset:  2,
		Cardinality:      refchain.Many,
		ParentRequired:   true,
	}
	// TableRelationshipsTo links a table to the relationships where it is
	// the child.
	TableRelationshipsTo = refchain.Relationship{
		ParentType:       TypeTable,
		ChildType:        TypeRelationship,
		FirstChildOffset: 2,
		ParentOffset:     3,
		NextChildOffset:  4,
		PrevChildOffset:  5,
		Cardinality:      refchain.Many,
		ParentRequired:   true,
	}
	TableIndexes = refchain.Relationship{
		ParentType:       TypeTable,
		ChildType:        TypeIndex,
		FirstChildOffset: 3,
		ParentOffset:     0,
		NextChildOffset:  1,
		PrevChildOffset:  2,
		Cardinality:      refchain.Many,
		ParentRequired:   true,
	}
)

const (
	ErrTableNotFound errors.Code = "TableNotFound"
	ErrTableExists   errors.Code = "TableExists"
	ErrInvalidType   errors.Code = "InvalidTableType"
)

func NewErrTableNotFound(id store.ID) error {
	return errors.Newf(ErrTableNotFound, "table %d not found", id)
}

func NewErrTableExists(name string, typ store.Type) error {
	return errors.Newf(ErrTableExists, "a table of type %d already exists (creating %q)", typ, name)
}

// Table describes a table and the type of its rows.
type Table struct {
	ID   store.ID
	Name string
	Type store.Type
}

// Field describes one payload field of a table.
type Field struct {
	ID       store.ID
	Name     string
	Position uint16
	Unique   bool
}

// Relationship describes a relationship between two tables.
type Relationship struct {
	ID          store.ID
	Name        string
	ParentTable store.ID
	ChildTable  store.ID
	refchain.Relationship
}

// Index describes an index over one or more fields of a table.
type Index struct {
	ID     store.ID
	Name   string
	Unique bool
	Fields []store.ID
}

// CreateTable adds a table whose rows have type typ.
func CreateTable(st *store.Store, name string, typ store.Type) (Table, error) {
	if typ.IsSystem() {
		return Table{}, errors.Newf(ErrInvalidType, "type %d is reserved", typ)
	}
	if _, ok, err := FindTable(st, typ); err != nil {
		return Table{}, err
	} else if ok {
		return Table{}, NewErrTableExists(name, typ)
	}
	t := Table{Name: name, Type: typ}
	p, err := st.Create(store.InvalidID, TypeTable, tableNumRefs, encodeTable(t))
	if err != nil {
		return Table{}, errors.Wrapf(err, "creating table %q", name)
	}
	t.ID = p.ID()
	return t, nil
}

// AddField adds f to the table. f.ID is ignored.
func AddField(st *store.Store, tableID store.ID, f Field) (Field, error) {
	return addChild(st, TableFields, tableID, TypeField, fieldNumRefs, encodeField(f), func(id store.ID) Field {
		f.ID = id
		return f
	})
}

// AddIndex adds an index over fields, in order, to the table.
func AddIndex(st *store.Store, tableID store.ID, name string, unique bool, fields []store.ID) (Index, error) {
	idx := Index{Name: name, Unique: unique, Fields: fields}
	return addChild(st, TableIndexes, tableID, TypeIndex, indexNumRefs, encodeIndex(idx), func(id store.ID) Index {
		idx.ID = id
		return idx
	})
}

func addChild[T any](st *store.Store, rel refchain.Relationship, tableID store.ID, typ store.Type, numRefs int, payload []byte, result func(store.ID) T) (T, error) {
	var zero T
	if _, err := openTable(st, tableID); err != nil {
		return zero, err
	}
	p, err := st.Create(store.InvalidID, typ, numRefs, payload)
	if err != nil {
		return zero, err
	}
	if err := refchain.Connect(st, rel, tableID, p.ID()); err != nil {
		return zero, err
	}
	return result(p.ID()), nil
}

// AddRelationship links the parent and child tables with rel. The types in
// rel are taken from the tables.
func AddRelationship(st *store.Store, name string, parentTableID, childTableID store.ID, rel refchain.Relationship) (Relationship, error) {
	parent, err := openTable(st, parentTableID)
	if err != nil {
		return Relationship{}, err
	}
	child, err := openTable(st, childTableID)
	if err != nil {
		return Relationship{}, err
	}
	rel.ParentType, rel.ChildType = parent.Type, child.Type
	r := Relationship{Name: name, ParentTable: parentTableID, ChildTable: childTableID, Relationship: rel}

	p, err := st.Create(store.InvalidID, TypeRelationship, relationshipNumRefs, encodeRelationship(r))
	if err != nil {
		return Relationship{}, err
	}
	r.ID = p.ID()
	if err := refchain.Connect(st, TableRelationshipsFrom, parentTableID, r.ID); err != nil {
		return Relationship{}, err
	}
	if err := refchain.Connect(st, TableRelationshipsTo, childTableID, r.ID); err != nil {
		return Relationship{}, err
	}
	return r, nil
}

func openTable(st *store.Store, id store.ID) (Table, error) {
	p, err := st.Open(id)
	if err != nil {
		return Table{}, err
	} else if p.IsNull() || p.Type() != TypeTable {
		return Table{}, NewErrTableNotFound(id)
	}
	return decodeTable(p)
}

// ListTables returns every table in id order.
func ListTables(st *store.Store) ([]Table, error) {
	var tables []Table
	p, err := st.FindFirst(TypeTable)
	for ; err == nil && !p.IsNull(); p, err = st.FindNext(p) {
		t, err := decodeTable(p)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, err
}

// FindTable returns the table whose rows have type typ.
func FindTable(st *store.Store, typ store.Type) (Table, bool, error) {
	tables, err := ListTables(st)
	if err != nil {
		return Table{}, false, err
	}
	for _, t := range tables {
		if t.Type == typ {
			return t, true, nil
		}
	}
	return Table{}, false, nil
}

// listChildren decodes every child of tableID in rel, most recent first.
func listChildren[T any](st *store.Store, rel refchain.Relationship, tableID store.ID, decode func(store.Ptr) (T, error)) ([]T, error) {
	if _, err := openTable(st, tableID); err != nil {
		return nil, err
	}
	var out []T
	it := refchain.Children(st, rel, tableID)
	for it.Next() {
		v, err := decode(it.Ptr())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, it.Err()
}

// ListFields returns the fields of a table, most recently added first.
func ListFields(st *store.Store, tableID store.ID) ([]Field, error) {
	return listChildren(st, TableFields, tableID, decodeField)
}

// ListRelationshipsFrom returns the relationships in which the table is
// the parent.
func ListRelationshipsFrom(st *store.Store, tableID store.ID) ([]Relationship, error) {
	return listChildren(st, TableRelationshipsFrom, tableID, decodeRelationship)
}

// ListRelationshipsTo returns the relationships in which the table is the
// child.
func ListRelationshipsTo(st *store.Store, tableID store.ID) ([]Relationship, error) {
	return listChildren(st, TableRelationshipsTo, tableID, decodeRelationship)
}

func ListIndexes(st *store.Store, tableID store.ID) ([]Index, error) {
	return listChildren(st, TableIndexes, tableID, decodeIndex)
}

// FindIndex returns the index of the table whose leading field is at
// position.
func FindIndex(st *store.Store, tableID store.ID, position uint16) (Index, bool, error) {
	indexes, err := ListIndexes(st, tableID)
	if err != nil {
		return Index{}, false, err
	}
	for _, idx := range indexes {
		if len(idx.Fields) == 0 {
			continue
		}
		p, err := st.Open(idx.Fields[0])
		if err != nil {
			return Index{}, false, err
		} else if p.IsNull() {
			continue
		}
		f, err := decodeField(p)
		if err != nil {
			return Index{}, false, err
		}
		if f.Position == position {
			return idx, true, nil
		}
	}
	return Index{}, false, nil
}
