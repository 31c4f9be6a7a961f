// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ctl implements the objectdb subcommands. Each command is a struct
// holding its options and a Run method, so it can be driven from cobra or
// from tests.
package ctl

import "github.com/molecula/objectdb/errors"

const ErrUsage errors.Code = "Usage"
