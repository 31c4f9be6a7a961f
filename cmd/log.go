// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/molecula/objectdb/ctl"
	"github.com/spf13/cobra"
)

func newLogCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect durable log files.",
	}
	logCmd.AddCommand(newLogDumpCommand(stdin, stdout, stderr))
	return logCmd
}

func newLogDumpCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewLogDumpCommand(stdin, stdout, stderr)
	dumpCmd := &cobra.Command{
		Use:   "dump <path>",
		Short: "Print the records of a log file or data directory.",
		Long: `dump prints one row per record found in the log file, or in every
log file of the data directory, at <path>.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cmd.Path = args[0]
			return cmd.Run(context.Background())
		},
	}
	dumpCmd.Flags().BoolVar(&cmd.Ops, "ops", false, "Print one row per transaction op.")
	return dumpCmd
}
