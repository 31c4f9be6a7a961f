// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"github.com/molecula/objectdb/internal/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// Row payloads hold one length-delimited field per table field, numbered by
// field position plus one. Fields that are absent are null.

// AppendRowField appends the value of the field at position to a row
// payload.
func AppendRowField(b []byte, position uint16, value []byte) []byte {
	return wire.AppendBytes(b, protowire.Number(position)+1, value)
}

// RowField returns the value of the field at position in a row payload. The
// last occurrence wins.
func RowField(data []byte, position uint16) (value []byte, ok bool, err error) {
	d := wire.NewDecoder(data)
	for d.Next() {
		if d.Field() == protowire.Number(position)+1 {
			value, ok = d.Bytes(), true
		} else {
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return nil, false, err
	}
	return value, ok, nil
}
