// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/molecula/objectdb"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/persistence"
)

// LogDumpCommand prints the records of durable log files.
type LogDumpCommand struct {
	// Path is a log file or a data directory.
	Path string

	// Ops prints one row per transaction op instead of one per record.
	Ops bool

	*objectdb.CmdIO
}

// NewLogDumpCommand returns a new instance of LogDumpCommand.
func NewLogDumpCommand(stdin io.Reader, stdout, stderr io.Writer) *LogDumpCommand {
	return &LogDumpCommand{
		CmdIO: objectdb.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run prints a table of the records found.
func (cmd *LogDumpCommand) Run(_ context.Context) error {
	if cmd.Path == "" {
		return errors.New(ErrUsage, "path required")
	}
	paths := []string{cmd.Path}
	if fi, err := os.Stat(cmd.Path); err != nil {
		return err
	} else if fi.IsDir() {
		if paths, err = persistence.ListLogFiles(cmd.Path); err != nil {
			return err
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.Stdout)
	t.Style().Format.Header = text.FormatDefault
	if cmd.Ops {
		t.AppendHeader(table.Row{"file", "offset", "txn", "op", "id", "deleted", "image"})
	} else {
		t.AppendHeader(table.Row{"file", "offset", "kind", "txn", "ops", "commit_ts", "committed"})
	}

	var failed error
	for _, path := range paths {
		entries, err := persistence.ReadLogFile(path)
		name := filepath.Base(path)
		for _, e := range entries {
			switch {
			case e.Kind == persistence.KindTxn && cmd.Ops:
				for _, op := range e.Txn.Ops {
					t.AppendRow(table.Row{name, e.Offset, e.Txn.TxnID, op.Op, op.ID, op.DeletedID, len(op.Image)})
				}
			case e.Kind == persistence.KindTxn:
				t.AppendRow(table.Row{name, e.Offset, e.Kind, e.Txn.TxnID, len(e.Txn.Ops), "", ""})
			case e.Kind == persistence.KindDecision && !cmd.Ops:
				d := e.Decision
				t.AppendRow(table.Row{name, e.Offset, e.Kind, d.TxnID, "", d.CommitTS, d.Committed})
			}
		}
		if err != nil {
			fmt.Fprintf(cmd.Stderr, "%s: %v\n", name, err)
			if failed == nil {
				failed = err
			}
		}
	}
	t.Render()
	return failed
}
