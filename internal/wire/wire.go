// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package wire has small helpers over protowire for the hand-written
// encodings of protocol messages and catalog payloads.
package wire

import (
	"github.com/molecula/objectdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const ErrMalformed errors.Code = "MalformedEncoding"

func AppendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	return AppendVarint(b, num, protowire.EncodeBool(v))
}

func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func AppendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// AppendPacked writes vs as a packed repeated varint field.
func AppendPacked(b []byte, num protowire.Number, vs []uint64) []byte {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	return AppendBytes(b, num, packed)
}

// Decoder walks the fields of an encoded message. Errors are sticky: after
// the first one Next returns false and Err reports it.
type Decoder struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Next reads the next field tag.
func (d *Decoder) Next() bool {
	if d.err != nil || len(d.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.fail(n)
		return false
	}
	d.num, d.typ, d.b = num, typ, d.b[n:]
	return true
}

func (d *Decoder) Field() protowire.Number { return d.num }

func (d *Decoder) fail(n int) {
	d.err = errors.Newf(ErrMalformed, "field %d: %v", d.num, protowire.ParseError(n))
}

func (d *Decoder) expect(typ protowire.Type) bool {
	if d.typ != typ {
		d.err = errors.Newf(ErrMalformed, "field %d: unexpected wire type %d", d.num, d.typ)
		return false
	}
	return true
}

func (d *Decoder) Varint() uint64 {
	if d.err != nil || !d.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.fail(n)
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *Decoder) Bool() bool {
	return protowire.DecodeBool(d.Varint())
}

// Bytes returns a copy of a length-delimited field.
func (d *Decoder) Bytes() []byte {
	if d.err != nil || !d.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.fail(n)
		return nil
	}
	d.b = d.b[n:]
	return append([]byte(nil), v...)
}

func (d *Decoder) String() string {
	return string(d.Bytes())
}

// Packed reads a packed repeated varint field.
func (d *Decoder) Packed() []uint64 {
	packed := d.Bytes()
	var out []uint64
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			d.fail(n)
			return nil
		}
		out = append(out, v)
		packed = packed[n:]
	}
	return out
}

// Skip discards the current field's value.
func (d *Decoder) Skip() {
	if d.err != nil {
		return
	}
	n := protowire.ConsumeFieldValue(d.num, d.typ, d.b)
	if n < 0 {
		d.fail(n)
		return
	}
	d.b = d.b[n:]
}

func (d *Decoder) Err() error { return d.err }
