// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/molecula/objectdb/catalog"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/refchain"
	"github.com/molecula/objectdb/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopRecorder struct{}

func (nopRecorder) Append(store.ID, store.Offset, store.Offset, store.Operation, store.ID) {}

func newStore(tb testing.TB) *store.Store {
	tb.Helper()
	heap, err := store.InitHeap(make([]byte, 1<<20))
	require.NoError(tb, err)
	return store.New(heap, store.NewLocators(make([]byte, 4096*store.LocatorSize)), nopRecorder{})
}

// schema builds doctor(name, id) -1:N-> patient(name, doctor_id) where the
// relationship is value linked on doctor.id = patient.doctor_id.
func schema(t *testing.T, st *store.Store) (doctor, patient catalog.Table, rel catalog.Relationship) {
	t.Helper()
	var err error
	doctor, err = catalog.CreateTable(st, "doctor", 10)
	require.NoError(t, err)
	patient, err = catalog.CreateTable(st, "patient", 11)
	require.NoError(t, err)

	for _, f := range []catalog.Field{{Name: "name", Position: 0}, {Name: "id", Position: 1, Unique: true}} {
		_, err := catalog.AddField(st, doctor.ID, f)
		require.NoError(t, err)
	}
	for _, f := range []catalog.Field{{Name: "name", Position: 0}, {Name: "doctor_id", Position: 1}} {
		_, err := catalog.AddField(st, patient.ID, f)
		require.NoError(t, err)
	}

	rel, err = catalog.AddRelationship(st, "patients", doctor.ID, patient.ID, refchain.Relationship{
		FirstChildOffset: 0,
		ParentOffset:     0,
		NextChildOffset:  1,
		PrevChildOffset:  2,
		Cardinality:      refchain.Many,
		ValueLinked:      true,
		ParentField:      1,
		ChildField:       1,
	})
	require.NoError(t, err)
	return doctor, patient, rel
}

func TestCatalog(t *testing.T) {
	st := newStore(t)
	doctor, patient, rel := schema(t, st)

	tables, err := catalog.ListTables(st)
	require.NoError(t, err)
	if diff := cmp.Diff([]catalog.Table{doctor, patient}, tables); diff != "" {
		t.Fatal(diff)
	}

	fields, err := catalog.ListFields(st, doctor.ID)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "id", fields[0].Name, "most recent first")
	assert.True(t, fields[0].Unique)
	assert.Equal(t, "name", fields[1].Name)

	from, err := catalog.ListRelationshipsFrom(st, doctor.ID)
	require.NoError(t, err)
	if diff := cmp.Diff([]catalog.Relationship{rel}, from); diff != "" {
		t.Fatal(diff)
	}
	assert.Equal(t, store.Type(10), from[0].ParentType)
	assert.Equal(t, store.Type(11), from[0].ChildType)

	to, err := catalog.ListRelationshipsTo(st, patient.ID)
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, rel.ID, to[0].ID)

	none, err := catalog.ListRelationshipsTo(st, doctor.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	found, ok, err := catalog.FindTable(st, 11)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "patient", found.Name)

	_, err = catalog.CreateTable(st, "again", 11)
	assert.True(t, errors.Is(err, catalog.ErrTableExists), err)
	_, err = catalog.CreateTable(st, "system", catalog.TypeTable)
	assert.True(t, errors.Is(err, catalog.ErrInvalidType), err)
	_, err = catalog.ListFields(st, 9999)
	assert.True(t, errors.Is(err, catalog.ErrTableNotFound), err)
}

func TestFindIndex(t *testing.T) {
	st := newStore(t)
	doctor, _, _ := schema(t, st)

	fields, err := catalog.ListFields(st, doctor.ID)
	require.NoError(t, err)
	byName := map[string]catalog.Field{}
	for _, f := range fields {
		byName[f.Name] = f
	}

	byID, err := catalog.AddIndex(st, doctor.ID, "doctor_id", true, []store.ID{byName["id"].ID})
	require.NoError(t, err)
	compound, err := catalog.AddIndex(st, doctor.ID, "doctor_name_id", false, []store.ID{byName["name"].ID, byName["id"].ID})
	require.NoError(t, err)

	idx, ok, err := catalog.FindIndex(st, doctor.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(byID, idx); diff != "" {
		t.Fatal(diff)
	}

	idx, ok, err = catalog.FindIndex(st, doctor.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, compound.ID, idx.ID)

	_, ok, err = catalog.FindIndex(st, doctor.ID, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldCache(t *testing.T) {
	st := newStore(t)
	_, _, rel := schema(t, st)

	other, err := catalog.CreateTable(st, "clinic", 12)
	require.NoError(t, err)
	_, err = catalog.AddRelationship(st, "clinic_doctors", other.ID, rel.ParentTable, refchain.Relationship{
		FirstChildOffset: 1,
		ParentOffset:     1,
		NextChildOffset:  2,
		PrevChildOffset:  3,
		Cardinality:      refchain.Many,
	})
	require.NoError(t, err)

	cache, err := catalog.BuildFieldCache(st)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, []catalog.LinkedField{{Relationship: rel.ID, Position: 1, Parent: true}}, cache.Fields(10))
	assert.Equal(t, []catalog.LinkedField{{Relationship: rel.ID, Position: 1}}, cache.Fields(11))
	assert.Empty(t, cache.Fields(12))
	assert.True(t, cache.IsLinked(11, 1))
	assert.False(t, cache.IsLinked(11, 0))
}

func TestRowField(t *testing.T) {
	var row []byte
	row = catalog.AppendRowField(row, 0, []byte("house"))
	row = catalog.AppendRowField(row, 3, []byte{1, 2})

	v, ok, err := catalog.RowField(row, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2}, v)

	_, ok, err = catalog.RowField(row, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = catalog.RowField([]byte{0xff}, 0)
	assert.Error(t, err)
}
