// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package syswrap

import (
	"os"
	"sync/atomic"

	"github.com/ncw/directio"
)

var fileCount int64

// OpenFile opens name, counting the handle until CloseFile. When direct is
// set the file is opened with O_DIRECT through directio, and every write to
// it must use buffers from directio.AlignedBlock.
func OpenFile(name string, flag int, perm os.FileMode, direct bool) (*os.File, error) {
	var f *os.File
	var err error
	if direct {
		f, err = directio.OpenFile(name, flag, perm)
	} else {
		f, err = os.OpenFile(name, flag, perm)
	}
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&fileCount, 1)
	return f, nil
}

// CloseFile decrements the global count of open files and closes the file.
func CloseFile(f *os.File) error {
	atomic.AddInt64(&fileCount, -1)
	return f.Close()
}

// FileCount returns the number of files opened through OpenFile and not
// yet closed.
func FileCount() int64 {
	return atomic.LoadInt64(&fileCount)
}
