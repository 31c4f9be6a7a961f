// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"strings"

	"github.com/molecula/objectdb/constraint"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/messages"
)

const (
	ErrSessionAlreadyOpen        errors.Code = "SessionAlreadyOpen"
	ErrSessionNotOpen            errors.Code = "SessionNotOpen"
	ErrTransactionInProgress     errors.Code = "TransactionInProgress"
	ErrTransactionNotOpen        errors.Code = "TransactionNotOpen"
	ErrPingSessionTransaction    errors.Code = "PingSessionTransaction"
	ErrSessionLimitExceeded      errors.Code = "SessionLimitExceeded"
	ErrConnectionFailed          errors.Code = "ConnectionFailed"
	ErrTransactionUpdateConflict errors.Code = "TransactionUpdateConflict"
	ErrUniqueConstraintViolation errors.Code = "UniqueConstraintViolation"
	ErrSchemaChangeNotAllowed    errors.Code = "SchemaChangeNotAllowed"
	ErrPersistenceFailure        errors.Code = "PersistenceFailure"
	ErrRequestFailed             errors.Code = "RequestFailed"
)

func NewErrConnectionFailed(name string, err error) error {
	return errors.New(ErrConnectionFailed, "connecting to "+name+": "+err.Error())
}

func NewErrRequestFailed(event messages.Event, msg string) error {
	return errors.Newf(ErrRequestFailed, "server rejected %s: %s", event, msg)
}

// rollbackError maps the message of a DECIDE_TXN_ROLLBACK_FOR_ERROR to an
// error. Messages the client does not know are a protocol bug.
func rollbackError(msg string) error {
	switch {
	case constraint.IsUniqueViolation(msg):
		return errors.New(ErrUniqueConstraintViolation, msg)
	case strings.HasPrefix(msg, messages.SchemaChangeSignature):
		return errors.New(ErrSchemaChangeNotAllowed, msg)
	case strings.HasPrefix(msg, messages.PersistenceFailureSignature):
		return errors.New(ErrPersistenceFailure, msg)
	}
	errors.Unreachable("unknown rollback reason: " + msg)
	return nil
}
