// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"io"

	"github.com/molecula/objectdb/ctl"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/server"
	"github.com/spf13/cobra"
)

// Server is global so that tests can control and verify it.
var Server *server.Command

// newServeCmd creates an objectdb server and runs it with command line flags.
func newServeCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Server = server.NewCommand(stdin, stdout, stderr)
	serveCmd := &cobra.Command{
		Use:   "server",
		Short: "Run ObjectDB.",
		Long: `objectdb server runs ObjectDB.

It replays the durable log in the configured data directory,
compacts it, and then accepts client sessions on the
instance's socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Start & run the server.
			if err := Server.Start(); err != nil {
				return errors.Wrap(err, "running server")
			}

			return errors.Wrap(Server.Wait(), "waiting on server")
		},
	}

	// Attach flags to the command.
	ctl.BuildServerFlags(serveCmd, Server)
	return serveCmd
}
