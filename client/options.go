// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"fmt"

	"github.com/molecula/objectdb/logger"
	"github.com/molecula/objectdb/messages"
	"github.com/molecula/objectdb/store"
)

// SessionType selects what a session may do.
type SessionType int

const (
	// SessionRegular runs transactions over user data.
	SessionRegular SessionType = iota
	// SessionPing only checks that the server is up. It cannot open
	// transactions.
	SessionPing
	// SessionDDL may also change the catalog.
	SessionDDL
)

func (t SessionType) String() string {
	switch t {
	case SessionRegular:
		return "regular"
	case SessionPing:
		return "ping"
	case SessionDDL:
		return "ddl"
	}
	return fmt.Sprintf("SessionType(%d)", int(t))
}

func (t SessionType) connectEvent() messages.Event {
	switch t {
	case SessionPing:
		return messages.EventConnectPing
	case SessionDDL:
		return messages.EventConnectDDL
	}
	return messages.EventConnect
}

// TriggerEvent is one change made by a committed transaction.
type TriggerEvent struct {
	Op   store.Operation
	Type store.Type
	ID   store.ID
}

func (e TriggerEvent) String() string {
	return fmt.Sprintf("%s %d (type %d)", e.Op, e.ID, e.Type)
}

// Options configures a Session.
type Options struct {
	// InstanceName names the server to connect to. See messages.Addr.
	InstanceName string

	SessionType SessionType

	// CommitTrigger, when set, is called after every successful commit that
	// changed user objects, with the changes in the order they were made.
	// System objects (catalog entries and anchors) are not reported.
	CommitTrigger func(events []TriggerEvent)

	Logger logger.Logger
}
