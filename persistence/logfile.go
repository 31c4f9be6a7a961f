// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/syswrap"
)

const logFileExt = ".log"

// LogFileName returns the base name of the log file with sequence seq.
func LogFileName(seq uint64) string {
	return fmt.Sprintf("%020d%s", seq, logFileExt)
}

// ParseLogFileName returns the sequence number encoded in a log file name.
func ParseLogFileName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, logFileExt) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(name, logFileExt), 10, 64)
	return seq, err == nil
}

// ListLogFiles returns the paths of the log files in dir, oldest first.
func ListLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s", dir)
	}
	type seqPath struct {
		seq  uint64
		path string
	}
	var files []seqPath
	for _, e := range entries {
		if seq, ok := ParseLogFileName(e.Name()); ok && !e.IsDir() {
			files = append(files, seqPath{seq, filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// LogFile is the append-only file currently receiving records. Space is
// handed out with Allocate before the write is queued, so the file's offset
// runs ahead of the data actually on disk until the batch completes.
type LogFile struct {
	seq      uint64
	path     string
	f        *os.File
	offset   int64
	capacity int64
	direct   bool
}

// CreateLogFile creates the log file for seq in dir.
func CreateLogFile(dir string, seq uint64, capacity int64, direct bool) (*LogFile, error) {
	path := filepath.Join(dir, LogFileName(seq))
	f, err := syswrap.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600, direct)
	if err != nil {
		return nil, errors.Wrapf(err, "creating log file %s", path)
	}
	return &LogFile{
		seq:      seq,
		path:     path,
		f:        f,
		capacity: capacity,
		direct:   direct,
	}, nil
}

func (l *LogFile) Seq() uint64     { return l.seq }
func (l *LogFile) Path() string    { return l.path }
func (l *LogFile) Fd() int         { return int(l.f.Fd()) }
func (l *LogFile) Offset() int64   { return l.offset }
func (l *LogFile) Direct() bool    { return l.direct }
func (l *LogFile) Capacity() int64 { return l.capacity }

// RemainingSpace returns the bytes left before the file is full.
func (l *LogFile) RemainingSpace() int64 {
	return l.capacity - l.offset
}

// Allocate reserves n bytes and returns their offset.
func (l *LogFile) Allocate(n int64) int64 {
	errors.AssertPrecondition(n <= l.RemainingSpace(), "log file allocation exceeds remaining space")
	off := l.offset
	l.offset += n
	return off
}

func (l *LogFile) Close() error {
	return syswrap.CloseFile(l.f)
}
