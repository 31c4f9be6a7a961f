// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/persistence"
	"github.com/molecula/objectdb/toml"
)

const (
	// DefaultName is the instance name clients connect to by default.
	DefaultName = "objectdb"

	// DefaultDataDir is the default data directory.
	DefaultDataDir = "~/.objectdb"
)

const ErrInvalidConfig errors.Code = "InvalidConfig"

// Config represents the configuration for the command.
type Config struct {
	// Name is the instance name. It selects the socket clients connect to:
	// names starting with "/" or "./" are socket paths, anything else is
	// an abstract socket name.
	Name string `toml:"name"`

	// DataDir is where the durable log and its metadata are kept. An empty
	// DataDir runs the server without durability.
	DataDir string `toml:"data-dir"`

	// DataSize is the size of the shared object heap.
	DataSize toml.ByteSize `toml:"data-size"`

	// MaxObjects bounds the number of object ids, and so the size of the
	// locator segment.
	MaxObjects int `toml:"max-objects"`

	// LogCapacity is the number of changes one transaction may make.
	LogCapacity int `toml:"log-capacity"`

	// LogSlots is the number of transaction logs in the logs segment. It
	// bounds the number of open plus committed-but-unapplied transactions.
	LogSlots int `toml:"log-slots"`

	// MaxSessions limits concurrent client sessions. Zero means no limit.
	MaxSessions int `toml:"max-sessions"`

	Storage struct {
		// FileSize is the size at which a log file is rotated.
		FileSize toml.ByteSize `toml:"file-size"`
		// DirectIO writes log files with O_DIRECT.
		DirectIO bool `toml:"direct-io"`
		// QueueDepth is the depth of the log writer's submission queue.
		QueueDepth int `toml:"queue-depth"`
		// IOEngine selects how log writes reach the kernel: "auto",
		// "io_uring" or "goroutine".
		IOEngine string `toml:"io-engine"`
	} `toml:"storage"`

	// MetricsBind is the host:port serving Prometheus metrics. Empty
	// disables the endpoint.
	MetricsBind string `toml:"metrics-bind"`

	// LogPath configures where the server writes logs.
	LogPath string `toml:"log-path"`

	// Verbose toggles verbose logging which can be useful for debugging.
	Verbose bool `toml:"verbose"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		Name:        DefaultName,
		DataDir:     DefaultDataDir,
		DataSize:    toml.ByteSize(256 << 20),
		MaxObjects:  1 << 20,
		LogCapacity: 1024,
		LogSlots:    256,
		MaxSessions: 64,
	}
	c.Storage.FileSize = toml.ByteSize(persistence.DefaultFileSize)
	c.Storage.QueueDepth = persistence.DefaultQueueDepth
	c.Storage.IOEngine = string(persistence.EngineAuto)
	return c
}

// Validate checks c and expands a leading "~/" in DataDir.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New(ErrInvalidConfig, "name is required")
	}
	if c.DataSize < 4096 {
		return errors.Newf(ErrInvalidConfig, "data-size %s is too small", c.DataSize)
	}
	if c.MaxObjects < 2 {
		return errors.Newf(ErrInvalidConfig, "max-objects must be at least 2, got %d", c.MaxObjects)
	}
	if c.LogCapacity < 1 {
		return errors.Newf(ErrInvalidConfig, "log-capacity must be positive, got %d", c.LogCapacity)
	}
	if c.LogSlots < 1 {
		return errors.Newf(ErrInvalidConfig, "log-slots must be positive, got %d", c.LogSlots)
	}
	if c.MaxSessions < 0 {
		return errors.Newf(ErrInvalidConfig, "max-sessions must not be negative, got %d", c.MaxSessions)
	}
	if c.Storage.QueueDepth < 4 {
		return errors.Newf(ErrInvalidConfig, "storage.queue-depth must be at least 4, got %d", c.Storage.QueueDepth)
	}
	if _, err := persistence.ParseEngine(c.Storage.IOEngine); err != nil {
		return errors.Newf(ErrInvalidConfig, "storage.io-engine: %v", err)
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(c.DataDir, prefix) {
		home := os.Getenv("HOME")
		if home == "" {
			return errors.New(ErrInvalidConfig, "data directory not specified and no home dir available")
		}
		c.DataDir = filepath.Join(home, strings.TrimPrefix(c.DataDir, prefix))
	}
	return nil
}

// MustValidate panics if c is invalid.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		panic(err)
	}
}
