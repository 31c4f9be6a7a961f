// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package syswrap_test

import (
	"testing"

	"github.com/molecula/objectdb/syswrap"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSharedAndPrivateMappings(t *testing.T) {
	fd, err := syswrap.MemfdCreate("test", 4096)
	require.NoError(t, err)
	defer unix.Close(fd)

	size, err := syswrap.FdSize(fd)
	require.NoError(t, err)
	require.Equal(t, int64(4096), size)

	shared, err := syswrap.Mmap(fd, 4096, syswrap.MapShared)
	require.NoError(t, err)
	defer syswrap.Munmap(shared)

	other, err := syswrap.Mmap(fd, 4096, syswrap.MapShared)
	require.NoError(t, err)
	defer syswrap.Munmap(other)

	shared[10] = 42
	require.Equal(t, byte(42), other[10], "shared writes visible")

	private, err := syswrap.Mmap(fd, 4096, syswrap.MapPrivate)
	require.NoError(t, err)
	private[10] = 7
	require.Equal(t, byte(42), shared[10], "private write leaked")
	require.NoError(t, syswrap.Munmap(private))
}

func TestMaxMapCount(t *testing.T) {
	fd, err := syswrap.MemfdCreate("limit", 4096)
	require.NoError(t, err)
	defer unix.Close(fd)

	old := syswrap.MaxMapCount
	syswrap.MaxMapCount = syswrap.MapCount()
	defer func() { syswrap.MaxMapCount = old }()

	_, err = syswrap.Mmap(fd, 4096, syswrap.MapShared)
	require.Equal(t, syswrap.ErrMaxMapCountReached, err)
}
