// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"os"
	"path/filepath"
	"testing"
)

// TestReopenAppend makes sure the writer always appends to an existing
// file, both on open and after Reopen.
func TestReopenAppend(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "objectdb.log")
	if err := os.WriteFile(fname, []byte("line0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	f, err := NewFileWriter(fname)
	if err != nil {
		t.Fatalf("unable to open %s: %v", fname, err)
	}
	if _, err := f.Write([]byte("line1\n")); err != nil {
		t.Fatal(err)
	}
	if err := f.Reopen(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("line2\n")); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "line0\nline1\nline2\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestReopenMove simulates logrotate moving the file away.
func TestReopenMove(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "objectdb.log")
	f, err := NewFileWriter(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("before\n")); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(fname, fname+".1"); err != nil {
		t.Fatal(err)
	}
	if err := f.Reopen(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("after\n")); err != nil {
		t.Fatal(err)
	}

	if data, err := os.ReadFile(fname + ".1"); err != nil {
		t.Fatal(err)
	} else if string(data) != "before\n" {
		t.Fatalf("rotated file: %q", data)
	}
	if data, err := os.ReadFile(fname); err != nil {
		t.Fatal(err)
	} else if string(data) != "after\n" {
		t.Fatalf("new file: %q", data)
	}
}
