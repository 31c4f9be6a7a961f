// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/molecula/objectdb/constraint"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/messages"
	"github.com/molecula/objectdb/segment"
	"github.com/molecula/objectdb/store"
	"github.com/molecula/objectdb/syswrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackError(t *testing.T) {
	tests := []struct {
		msg  string
		code errors.Code
	}{
		{constraint.UniqueViolationPrefix + " on person(name)", ErrUniqueConstraintViolation},
		{messages.SchemaChangeSignature + ": table 3", ErrSchemaChangeNotAllowed},
		{messages.PersistenceFailureSignature + ": disk full", ErrPersistenceFailure},
	}
	for _, test := range tests {
		err := rollbackError(test.msg)
		assert.True(t, errors.Is(err, test.code), "%q: got %v", test.msg, err)
		assert.Equal(t, test.msg, err.Error())
	}
	assert.Panics(t, func() { _ = rollbackError("the server is tired") })
}

func TestSessionType(t *testing.T) {
	assert.Equal(t, "regular", SessionRegular.String())
	assert.Equal(t, "ddl", SessionDDL.String())
	assert.Equal(t, "SessionType(9)", SessionType(9).String())

	assert.Equal(t, messages.EventConnect, SessionRegular.connectEvent())
	assert.Equal(t, messages.EventConnectPing, SessionPing.connectEvent())
	assert.Equal(t, messages.EventConnectDDL, SessionDDL.connectEvent())

	e := TriggerEvent{Op: store.OpUpdate, Type: 4, ID: 12}
	assert.Equal(t, "update 12 (type 4)", e.String())
}

func TestSession_NotOpen(t *testing.T) {
	s := NewSession(Options{InstanceName: "objectdb-missing-" + uuid.New().String()})
	assert.False(t, s.IsOpen())
	assert.Nil(t, s.Store())
	assert.Zero(t, s.TransactionID())

	for name, fn := range map[string]func() error{
		"End":              s.End,
		"BeginTransaction": s.BeginTransaction,
		"Commit":           s.Commit,
		"Rollback":         s.Rollback,
	} {
		err := fn()
		assert.True(t, errors.Is(err, ErrSessionNotOpen), "%s: got %v", name, err)
	}

	err := s.Begin(context.Background())
	require.True(t, errors.Is(err, ErrConnectionFailed), "got %v", err)
	assert.False(t, s.IsOpen())
}

func TestWaitForServer_GivesUp(t *testing.T) {
	name := "objectdb-missing-" + uuid.New().String()
	err := WaitForServer(context.Background(), name, 2, nil)
	assert.True(t, errors.Is(err, ErrConnectionFailed), "got %v", err)
}

// The private locator view must not outlive a failed begin, including one
// that trips an assertion.
func TestWithPrivateMapping(t *testing.T) {
	seg, err := segment.Create(segment.Locators, "private-view", 1<<16)
	require.NoError(t, err)
	defer seg.Close()

	var released [][]byte
	munmap = func(b []byte) error {
		released = append(released, b)
		return syswrap.Munmap(b)
	}
	defer func() { munmap = syswrap.Munmap }()

	var view []byte
	assert.Panics(t, func() {
		_ = withPrivateMapping(seg, func(mem []byte) error {
			view = mem
			errors.AssertInvariant(false, "log slot was not reset for the transaction")
			return nil
		})
	})
	require.Len(t, released, 1)
	assert.True(t, &view[0] == &released[0][0])

	err = withPrivateMapping(seg, func(mem []byte) error {
		view = mem
		return errors.New(ErrRequestFailed, "no slot")
	})
	require.True(t, errors.Is(err, ErrRequestFailed))
	require.Len(t, released, 2)
	assert.True(t, &view[0] == &released[1][0])

	require.NoError(t, withPrivateMapping(seg, func(mem []byte) error {
		view = mem
		return nil
	}))
	assert.Len(t, released, 2)
	require.NoError(t, syswrap.Munmap(view))
}
