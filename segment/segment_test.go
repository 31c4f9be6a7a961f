// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package segment_test

import (
	"testing"

	"github.com/molecula/objectdb/segment"
	"github.com/molecula/objectdb/syswrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSegment_PrivateView(t *testing.T) {
	seg, err := segment.Create(segment.Locators, "test", 1<<16)
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, "locators", seg.Kind().String())

	dup, err := unix.Dup(seg.Fd())
	require.NoError(t, err)
	attached, err := segment.Attach(segment.Locators, dup)
	require.NoError(t, err)
	defer attached.Close()
	assert.Equal(t, int64(1<<16), attached.Size())
	assert.Nil(t, attached.Bytes())

	seg.Bytes()[0] = 1
	view, err := attached.MapPrivate()
	require.NoError(t, err)
	assert.Equal(t, byte(1), view[0])

	// Untouched pages follow the shared contents, written pages do not.
	view[0] = 2
	seg.Bytes()[0] = 3
	seg.Bytes()[8192] = 4
	assert.Equal(t, byte(2), view[0])
	assert.Equal(t, byte(4), view[8192])
	require.NoError(t, syswrap.Munmap(view))

	require.NoError(t, attached.Map())
	assert.Equal(t, byte(3), attached.Bytes()[0])
}
