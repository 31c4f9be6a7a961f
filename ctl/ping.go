// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/molecula/objectdb"
	"github.com/molecula/objectdb/client"
	"github.com/molecula/objectdb/server"
)

// PingCommand checks that a server is accepting sessions.
type PingCommand struct {
	// Name of the instance to ping.
	Name string

	// Retries is the number of attempts after the first. Zero pings once.
	Retries uint64

	// Timeout bounds the whole command.
	Timeout time.Duration

	*objectdb.CmdIO
}

// NewPingCommand returns a new instance of PingCommand.
func NewPingCommand(stdin io.Reader, stdout, stderr io.Writer) *PingCommand {
	return &PingCommand{
		Name:    server.DefaultName,
		Timeout: 10 * time.Second,
		CmdIO:   objectdb.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run opens and closes a ping session.
func (cmd *PingCommand) Run(ctx context.Context) error {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}
	start := time.Now()
	var err error
	if cmd.Retries > 0 {
		err = client.WaitForServer(ctx, cmd.Name, cmd.Retries, cmd.Logger())
	} else {
		err = client.Ping(ctx, cmd.Name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Stdout, "%s is up (%s)\n", cmd.Name, time.Since(start).Round(time.Microsecond))
	return nil
}
