// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package store

import (
	"encoding/binary"
	"fmt"
)

// Object header layout, little endian and packed:
//
//	id           u64
//	type         u32
//	num_refs     u64
//	payload_size u64 (reference slots plus data)
//	refs         [num_refs]u64
//	data         [payload_size - num_refs*8]byte
const (
	objIDPos          = 0
	objTypePos        = 8
	objNumRefsPos     = 12
	objPayloadSizePos = 20

	ObjectHeaderSize = 28
)

// ObjectSize returns the number of heap bytes an object occupies before
// alignment.
func ObjectSize(numRefs, dataLen int) uint64 {
	return ObjectHeaderSize + uint64(numRefs)*8 + uint64(dataLen)
}

// Object is a validated view of an object inside the heap. It aliases shared
// memory and must not escape the package; callers get a Ptr instead.
type Object struct {
	off Offset
	buf []byte // header and payload
}

// ObjectAt returns the object stored at off in mem after checking that its
// header and payload lie inside mem and that the reference region fits in
// the payload.
func ObjectAt(mem []byte, off Offset) (Object, error) {
	if off == InvalidOffset {
		return Object{}, NewErrInvalidObject(off, "invalid offset")
	}
	if uint64(off) > uint64(len(mem)) || uint64(len(mem))-uint64(off) < ObjectHeaderSize {
		return Object{}, NewErrInvalidObject(off, "header out of bounds")
	}
	hdr := mem[off : uint64(off)+ObjectHeaderSize]
	numRefs := binary.LittleEndian.Uint64(hdr[objNumRefsPos:])
	payloadSize := binary.LittleEndian.Uint64(hdr[objPayloadSizePos:])
	if payloadSize > uint64(len(mem))-uint64(off)-ObjectHeaderSize {
		return Object{}, NewErrInvalidObject(off, fmt.Sprintf("payload size %d out of bounds", payloadSize))
	}
	if numRefs > payloadSize/8 {
		return Object{}, NewErrInvalidObject(off, fmt.Sprintf("%d references do not fit in payload of %d bytes", numRefs, payloadSize))
	}
	end := uint64(off) + ObjectHeaderSize + payloadSize
	return Object{off: off, buf: mem[off:end:end]}, nil
}

// writeObject lays out a new object in buf, which must be exactly
// ObjectSize(len(refs), len(data)) bytes long.
func writeObject(buf []byte, id ID, typ Type, refs []ID, data []byte) {
	binary.LittleEndian.PutUint64(buf[objIDPos:], uint64(id))
	binary.LittleEndian.PutUint32(buf[objTypePos:], uint32(typ))
	binary.LittleEndian.PutUint64(buf[objNumRefsPos:], uint64(len(refs)))
	binary.LittleEndian.PutUint64(buf[objPayloadSizePos:], uint64(len(refs)*8+len(data)))
	for i, ref := range refs {
		binary.LittleEndian.PutUint64(buf[ObjectHeaderSize+i*8:], uint64(ref))
	}
	copy(buf[ObjectHeaderSize+len(refs)*8:], data)
}

func (o Object) Offset() Offset { return o.off }
func (o Object) ID() ID         { return ID(binary.LittleEndian.Uint64(o.buf[objIDPos:])) }
func (o Object) Type() Type     { return Type(binary.LittleEndian.Uint32(o.buf[objTypePos:])) }

func (o Object) NumReferences() int {
	return int(binary.LittleEndian.Uint64(o.buf[objNumRefsPos:]))
}

func (o Object) PayloadSize() uint64 {
	return binary.LittleEndian.Uint64(o.buf[objPayloadSizePos:])
}

// Reference returns reference slot i. The caller checks the bounds.
func (o Object) Reference(i int) ID {
	return ID(binary.LittleEndian.Uint64(o.buf[ObjectHeaderSize+i*8:]))
}

func (o Object) setReference(i int, id ID) {
	binary.LittleEndian.PutUint64(o.buf[ObjectHeaderSize+i*8:], uint64(id))
}

func (o Object) references() []ID {
	refs := make([]ID, o.NumReferences())
	for i := range refs {
		refs[i] = o.Reference(i)
	}
	return refs
}

// data aliases the heap.
func (o Object) data() []byte {
	return o.buf[ObjectHeaderSize+o.NumReferences()*8:]
}

// Image returns a copy of the object's header and payload as stored in the
// heap.
func (o Object) Image() []byte {
	return append([]byte(nil), o.buf...)
}

// Ptr is a handle to one version of an object. It holds copies of the
// object's references and data, so it stays valid regardless of later
// changes to the heap.
type Ptr struct {
	id   ID
	typ  Type
	off  Offset
	refs []ID
	data []byte
}

func newPtr(o Object) Ptr {
	return Ptr{
		id:   o.ID(),
		typ:  o.Type(),
		off:  o.off,
		refs: o.references(),
		data: append([]byte(nil), o.data()...),
	}
}

// IsNull reports whether the handle refers to no object.
func (p Ptr) IsNull() bool { return p.id == InvalidID }

func (p Ptr) ID() ID             { return p.id }
func (p Ptr) Type() Type         { return p.typ }
func (p Ptr) Offset() Offset     { return p.off }
func (p Ptr) NumReferences() int { return len(p.refs) }

// Reference returns slot i, or InvalidID if i is out of range.
func (p Ptr) Reference(i int) ID {
	if i < 0 || i >= len(p.refs) {
		return InvalidID
	}
	return p.refs[i]
}

// References returns a copy of the reference slots.
func (p Ptr) References() []ID {
	return append([]ID(nil), p.refs...)
}

// Data returns a copy of the object's data.
func (p Ptr) Data() []byte {
	return append([]byte(nil), p.data...)
}

// HasReferences reports whether any slot is set.
func (p Ptr) HasReferences() bool {
	for _, r := range p.refs {
		if r != InvalidID {
			return true
		}
	}
	return false
}
