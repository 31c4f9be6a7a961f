// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"github.com/molecula/objectdb/store"
)

// LinkedField is a field of a table that joins it to another table through a
// value-linked relationship.
type LinkedField struct {
	Relationship store.ID
	Position     uint16
	// Parent is set when the table is the parent side of the relationship.
	Parent bool
}

// FieldCache maps a row type to the fields that take part in value-linked
// relationships. A session builds it once, on its first transaction.
type FieldCache struct {
	fields map[store.Type][]LinkedField
}

// BuildFieldCache reads the catalog visible to st.
func BuildFieldCache(st *store.Store) (*FieldCache, error) {
	c := &FieldCache{fields: make(map[store.Type][]LinkedField)}
	tables, err := ListTables(st)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		from, err := ListRelationshipsFrom(st, t.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range from {
			if pf, _, ok := r.JoinFields(); ok {
				c.fields[t.Type] = append(c.fields[t.Type], LinkedField{Relationship: r.ID, Position: pf, Parent: true})
			}
		}
		to, err := ListRelationshipsTo(st, t.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range to {
			if _, cf, ok := r.JoinFields(); ok {
				c.fields[t.Type] = append(c.fields[t.Type], LinkedField{Relationship: r.ID, Position: cf})
			}
		}
	}
	return c, nil
}

// Fields returns the linked fields of rows of type typ.
func (c *FieldCache) Fields(typ store.Type) []LinkedField {
	return c.fields[typ]
}

// IsLinked reports whether the field at position of typ is a join key.
func (c *FieldCache) IsLinked(typ store.Type, position uint16) bool {
	for _, f := range c.fields[typ] {
		if f.Position == position {
			return true
		}
	}
	return false
}

// Len returns the number of types with linked fields.
func (c *FieldCache) Len() int { return len(c.fields) }
