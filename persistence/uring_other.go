// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

//go:build !linux
// +build !linux

package persistence

import "github.com/molecula/objectdb/errors"

// URing is only available on linux.
type URing struct {
	completions
}

func NewURing(depth int) (*URing, error) {
	return nil, errors.New(ErrEngineUnavailable, "io_uring requires linux")
}

func (r *URing) Submit(sqes []SQE) error { return errors.New(ErrRingClosed, "ring closed") }
func (r *URing) Close()                  {}
