// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package segment manages the memfd-backed shared memory segments the
// server hands to its clients.
package segment

import (
	"fmt"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/syswrap"
	"golang.org/x/sys/unix"
)

// Kind identifies one of the shared segments.
type Kind uint8

const (
	Data Kind = iota + 1
	Locators
	Logs
)

// Kinds lists every segment kind in the order descriptors are transferred.
var Kinds = []Kind{Data, Locators, Logs}

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Locators:
		return "locators"
	case Logs:
		return "logs"
	}
	return fmt.Sprintf("segment(%d)", uint8(k))
}

const ErrSegment errors.Code = "SegmentError"

// Segment is one shared memory file and, optionally, a shared mapping of it.
type Segment struct {
	kind Kind
	fd   int
	size int64
	mem  []byte
}

// Create makes a new segment of size bytes and maps it shared.
func Create(kind Kind, name string, size int64) (*Segment, error) {
	fd, err := syswrap.MemfdCreate(fmt.Sprintf("%s_%s", name, kind), size)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s segment", kind)
	}
	s := &Segment{kind: kind, fd: fd, size: size}
	if err := s.Map(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// Attach takes ownership of a received descriptor without mapping it.
func Attach(kind Kind, fd int) (*Segment, error) {
	size, err := syswrap.FdSize(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "attaching %s segment", kind)
	}
	if size == 0 {
		return nil, errors.New(ErrSegment, fmt.Sprintf("%s segment is empty", kind))
	}
	return &Segment{kind: kind, fd: fd, size: size}, nil
}

// Map maps the whole segment shared. It is a no-op when already mapped.
func (s *Segment) Map() error {
	if s.mem != nil {
		return nil
	}
	mem, err := syswrap.Mmap(s.fd, int(s.size), syswrap.MapShared)
	if err != nil {
		return errors.Wrapf(err, "mapping %s segment", s.kind)
	}
	s.mem = mem
	return nil
}

// MapPrivate returns a new copy-on-write mapping of the segment. Pages the
// caller never writes keep reflecting the shared contents. The caller
// releases it with syswrap.Munmap.
func (s *Segment) MapPrivate() ([]byte, error) {
	mem, err := syswrap.Mmap(s.fd, int(s.size), syswrap.MapPrivate)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %s segment privately", s.kind)
	}
	return mem, nil
}

func (s *Segment) Kind() Kind    { return s.kind }
func (s *Segment) Fd() int       { return s.fd }
func (s *Segment) Size() int64   { return s.size }
func (s *Segment) Bytes() []byte { return s.mem }

// Close unmaps the segment and closes its descriptor.
func (s *Segment) Close() error {
	var err error
	if s.mem != nil {
		err = syswrap.Munmap(s.mem)
		s.mem = nil
	}
	if s.fd >= 0 {
		if cerr := unix.Close(s.fd); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing %s segment", s.kind)
		}
		s.fd = -1
	}
	return err
}
