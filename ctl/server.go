// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"github.com/molecula/objectdb/server"
	"github.com/spf13/cobra"
)

// BuildServerFlags attaches a set of flags to the command for a server instance.
func BuildServerFlags(cmd *cobra.Command, srv *server.Command) {
	flags := cmd.Flags()
	flags.StringVar(&srv.Config.Name, "name", srv.Config.Name, "Instance name clients connect to. Names starting with '/' or './' are socket paths.")
	flags.StringVarP(&srv.Config.DataDir, "data-dir", "d", srv.Config.DataDir, "Directory to store the durable log. Empty disables durability.")
	flags.Var(&srv.Config.DataSize, "data-size", "Size of the shared object heap.")
	flags.IntVar(&srv.Config.MaxObjects, "max-objects", srv.Config.MaxObjects, "Maximum number of object ids.")
	flags.IntVar(&srv.Config.LogCapacity, "log-capacity", srv.Config.LogCapacity, "Number of changes one transaction may make.")
	flags.IntVar(&srv.Config.LogSlots, "log-slots", srv.Config.LogSlots, "Number of transaction log slots.")
	flags.IntVar(&srv.Config.MaxSessions, "max-sessions", srv.Config.MaxSessions, "Maximum concurrent client sessions. Zero means no limit.")
	flags.StringVar(&srv.Config.MetricsBind, "metrics-bind", srv.Config.MetricsBind, "host:port serving Prometheus metrics. Empty disables the endpoint.")
	flags.StringVar(&srv.Config.LogPath, "log-path", srv.Config.LogPath, "Log path")
	flags.BoolVar(&srv.Config.Verbose, "verbose", srv.Config.Verbose, "Enable verbose logging")

	// Storage
	flags.Var(&srv.Config.Storage.FileSize, "storage.file-size", "Size at which a log file is rotated.")
	flags.BoolVar(&srv.Config.Storage.DirectIO, "storage.direct-io", srv.Config.Storage.DirectIO, "Write log files with O_DIRECT.")
	flags.IntVar(&srv.Config.Storage.QueueDepth, "storage.queue-depth", srv.Config.Storage.QueueDepth, "Depth of the log writer's submission queue.")
	flags.StringVar(&srv.Config.Storage.IOEngine, "storage.io-engine", srv.Config.Storage.IOEngine, "Log write engine: auto, io_uring or goroutine.")
}
