// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/internal/wire"
	"github.com/molecula/objectdb/refchain"
	"github.com/molecula/objectdb/store"
)

func encodeTable(t Table) []byte {
	var b []byte
	b = wire.AppendString(b, 1, t.Name)
	b = wire.AppendVarint(b, 2, uint64(t.Type))
	return b
}

func decodeTable(p store.Ptr) (Table, error) {
	t := Table{ID: p.ID()}
	d := wire.NewDecoder(p.Data())
	for d.Next() {
		switch d.Field() {
		case 1:
			t.Name = d.String()
		case 2:
			t.Type = store.Type(d.Varint())
		default:
			d.Skip()
		}
	}
	return t, errors.Wrapf(d.Err(), "decoding table %d", p.ID())
}

func encodeField(f Field) []byte {
	var b []byte
	b = wire.AppendString(b, 1, f.Name)
	b = wire.AppendVarint(b, 2, uint64(f.Position))
	b = wire.AppendBool(b, 3, f.Unique)
	return b
}

func decodeField(p store.Ptr) (Field, error) {
	f := Field{ID: p.ID()}
	d := wire.NewDecoder(p.Data())
	for d.Next() {
		switch d.Field() {
		case 1:
			f.Name = d.String()
		case 2:
			f.Position = uint16(d.Varint())
		case 3:
			f.Unique = d.Bool()
		default:
			d.Skip()
		}
	}
	return f, errors.Wrapf(d.Err(), "decoding field %d", p.ID())
}

func encodeRelationship(r Relationship) []byte {
	var b []byte
	b = wire.AppendString(b, 1, r.Name)
	b = wire.AppendVarint(b, 2, uint64(r.ParentTable))
	b = wire.AppendVarint(b, 3, uint64(r.ChildTable))
	b = wire.AppendVarint(b, 4, uint64(r.ParentType))
	b = wire.AppendVarint(b, 5, uint64(r.ChildType))
	b = wire.AppendVarint(b, 6, uint64(r.FirstChildOffset))
	b = wire.AppendVarint(b, 7, uint64(r.ParentOffset))
	b = wire.AppendVarint(b, 8, uint64(r.NextChildOffset))
	b = wire.AppendVarint(b, 9, uint64(r.PrevChildOffset))
	b = wire.AppendVarint(b, 10, uint64(r.Cardinality))
	b = wire.AppendBool(b, 11, r.ParentRequired)
	b = wire.AppendBool(b, 12, r.ValueLinked)
	b = wire.AppendVarint(b, 13, uint64(r.ParentField))
	b = wire.AppendVarint(b, 14, uint64(r.ChildField))
	return b
}

func decodeRelationship(p store.Ptr) (Relationship, error) {
	r := Relationship{ID: p.ID()}
	d := wire.NewDecoder(p.Data())
	for d.Next() {
		switch d.Field() {
		case 1:
			r.Name = d.String()
		case 2:
			r.ParentTable = store.ID(d.Varint())
		case 3:
			r.ChildTable = store.ID(d.Varint())
		case 4:
			r.ParentType = store.Type(d.Varint())
		case 5:
			r.ChildType = store.Type(d.Varint())
		case 6:
			r.FirstChildOffset = int(d.Varint())
		case 7:
			r.ParentOffset = int(d.Varint())
		case 8:
			r.NextChildOffset = int(d.Varint())
		case 9:
			r.PrevChildOffset = int(d.Varint())
		case 10:
			r.Cardinality = refchain.Cardinality(d.Varint())
		case 11:
			r.ParentRequired = d.Bool()
		case 12:
			r.ValueLinked = d.Bool()
		case 13:
			r.ParentField = uint16(d.Varint())
		case 14:
			r.ChildField = uint16(d.Varint())
		default:
			d.Skip()
		}
	}
	return r, errors.Wrapf(d.Err(), "decoding relationship %d", p.ID())
}

func encodeIndex(idx Index) []byte {
	var b []byte
	b = wire.AppendString(b, 1, idx.Name)
	b = wire.AppendBool(b, 2, idx.Unique)
	fields := make([]uint64, len(idx.Fields))
	for i, f := range idx.Fields {
		fields[i] = uint64(f)
	}
	b = wire.AppendPacked(b, 3, fields)
	return b
}

func decodeIndex(p store.Ptr) (Index, error) {
	idx := Index{ID: p.ID()}
	d := wire.NewDecoder(p.Data())
	for d.Next() {
		switch d.Field() {
		case 1:
			idx.Name = d.String()
		case 2:
			idx.Unique = d.Bool()
		case 3:
			for _, f := range d.Packed() {
				idx.Fields = append(idx.Fields, store.ID(f))
			}
		default:
			d.Skip()
		}
	}
	return idx, errors.Wrapf(d.Err(), "decoding index %d", p.ID())
}
