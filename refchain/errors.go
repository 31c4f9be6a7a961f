// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package refchain

import (
	"fmt"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/store"
)

const (
	ErrSingleCardinalityViolation errors.Code = "SingleCardinalityViolation"
	ErrChildAlreadyReferenced     errors.Code = "ChildAlreadyReferenced"
	ErrInvalidRelationshipType    errors.Code = "InvalidRelationshipType"
	ErrChildNotReferenced         errors.Code = "ChildNotReferenced"
	ErrBrokenChain                errors.Code = "BrokenChain"
)

func NewErrSingleCardinalityViolation(parent store.ID) error {
	return errors.New(
		ErrSingleCardinalityViolation,
		fmt.Sprintf("object %d already has a child in a relationship with cardinality one", parent),
	)
}

func NewErrChildAlreadyReferenced(child store.ID) error {
	return errors.New(
		ErrChildAlreadyReferenced,
		fmt.Sprintf("object %d is already connected to a parent in this relationship", child),
	)
}

func NewErrInvalidRelationshipType(id store.ID, got, want store.Type) error {
	return errors.New(
		ErrInvalidRelationshipType,
		fmt.Sprintf("object %d has type %d, relationship expects type %d", id, got, want),
	)
}

func NewErrChildNotReferenced(child store.ID) error {
	return errors.New(
		ErrChildNotReferenced,
		fmt.Sprintf("object %d is not connected to a parent in this relationship", child),
	)
}

func newErrBrokenChain(id store.ID, what string) error {
	return errors.New(
		ErrBrokenChain,
		fmt.Sprintf("reference chain broken at object %d: %s", id, what),
	)
}
