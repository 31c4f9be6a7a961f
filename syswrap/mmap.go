// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package syswrap wraps the memory-mapping syscalls in order to impose a
// global in-process limit on the maximum number of active mmaps, and to give
// the rest of the module a single place to create shared-memory segments.
package syswrap

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var mapCount int64

var ErrMaxMapCountReached = errors.New("maximum map count reached")

// MaxMapCount default to slightly less than the typical
// default on Linux (65K). We want to leave some
// overhead for (e.g.) the Go runtime.
var MaxMapCount int64 = 60000

// MapMode selects how a mapping observes writes made through other mappings
// of the same file.
type MapMode int

const (
	// MapShared writes are visible to every process mapping the file.
	MapShared MapMode = iota
	// MapPrivate writes are copy-on-write and visible only to this mapping.
	MapPrivate
)

func (m MapMode) flags() int {
	if m == MapPrivate {
		return unix.MAP_PRIVATE
	}
	return unix.MAP_SHARED
}

// Mmap maps length bytes of fd read/write. It fails with
// ErrMaxMapCountReached when the process already holds MaxMapCount mappings.
func Mmap(fd int, length int, mode MapMode) ([]byte, error) {
	if n := atomic.AddInt64(&mapCount, 1); n > MaxMapCount {
		atomic.AddInt64(&mapCount, -1)
		return nil, ErrMaxMapCountReached
	}
	data, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, mode.flags())
	if err != nil {
		atomic.AddInt64(&mapCount, -1)
		return nil, errors.Wrapf(err, "mmap fd %d (%d bytes)", fd, length)
	}
	return data, nil
}

// Munmap unmaps b and decrements the map count. A nil slice is a no-op.
func Munmap(b []byte) error {
	if b == nil {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return errors.Wrap(err, "munmap")
	}
	atomic.AddInt64(&mapCount, -1)
	return nil
}

// MapCount returns the number of live mappings made through this package.
func MapCount() int64 {
	return atomic.LoadInt64(&mapCount)
}

// MemfdCreate creates an anonymous memory file of the given size. The
// descriptor is close-on-exec and can be passed to other processes over a
// unix socket.
func MemfdCreate(name string, size int64) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, errors.Wrapf(err, "memfd_create %s", name)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "truncating %s to %d", name, size)
	}
	return fd, nil
}

// FdSize returns the size of the file behind fd.
func FdSize(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, errors.Wrapf(err, "fstat fd %d", fd)
	}
	return st.Size, nil
}
