// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/molecula/objectdb/ctl"
	"github.com/spf13/cobra"
)

func newPingCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewPingCommand(stdin, stdout, stderr)
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that a server accepts sessions.",
		Long: `ping opens and closes a ping session against a running server.

With --retries it keeps trying until the server answers, which
is useful when waiting for a server to finish recovery.
`,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(context.Background())
		},
	}
	flags := pingCmd.Flags()
	flags.StringVar(&cmd.Name, "name", cmd.Name, "Instance name of the server.")
	flags.Uint64Var(&cmd.Retries, "retries", cmd.Retries, "Attempts after the first.")
	flags.DurationVar(&cmd.Timeout, "timeout", cmd.Timeout, "Time limit for the whole command.")
	return pingCmd
}
