// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server_test

import (
	"path/filepath"
	"testing"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/persistence"
	"github.com/molecula/objectdb/server"
	"github.com/molecula/objectdb/toml"
	gotoml "github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	c := server.NewConfig()
	assert.Equal(t, server.DefaultName, c.Name)
	assert.Equal(t, server.DefaultDataDir, c.DataDir)
	assert.Equal(t, toml.ByteSize(persistence.DefaultFileSize), c.Storage.FileSize)
	assert.Equal(t, persistence.DefaultQueueDepth, c.Storage.QueueDepth)
	assert.False(t, c.Storage.DirectIO)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("ExpandsHome", func(t *testing.T) {
		t.Setenv("HOME", "/home/objectdb")
		c := server.NewConfig()
		require.NoError(t, c.Validate())
		assert.Equal(t, filepath.Join("/home/objectdb", ".objectdb"), c.DataDir)
	})

	t.Run("NoHome", func(t *testing.T) {
		t.Setenv("HOME", "")
		c := server.NewConfig()
		assert.True(t, errors.Is(c.Validate(), server.ErrInvalidConfig))
	})

	for name, mod := range map[string]func(c *server.Config){
		"Name":       func(c *server.Config) { c.Name = "" },
		"DataSize":   func(c *server.Config) { c.DataSize = 100 },
		"MaxObjects": func(c *server.Config) { c.MaxObjects = 1 },
		"LogCap":     func(c *server.Config) { c.LogCapacity = 0 },
		"LogSlots":   func(c *server.Config) { c.LogSlots = 0 },
		"Sessions":   func(c *server.Config) { c.MaxSessions = -1 },
		"QueueDepth": func(c *server.Config) { c.Storage.QueueDepth = 2 },
		"IOEngine":   func(c *server.Config) { c.Storage.IOEngine = "epoll" },
	} {
		t.Run(name, func(t *testing.T) {
			c := server.NewConfig()
			c.DataDir = ""
			mod(c)
			err := c.Validate()
			assert.True(t, errors.Is(err, server.ErrInvalidConfig), "got %v", err)
			assert.Panics(t, c.MustValidate)
		})
	}
}

func TestConfig_TOML(t *testing.T) {
	src := `
name = "./objectdb.sock"
data-dir = "/var/lib/objectdb"
data-size = "64MiB"
max-sessions = 3

[storage]
file-size = "1MB"
direct-io = true
queue-depth = 16
io-engine = "goroutine"
`
	c := server.NewConfig()
	require.NoError(t, gotoml.Unmarshal([]byte(src), c))
	assert.Equal(t, "./objectdb.sock", c.Name)
	assert.Equal(t, "/var/lib/objectdb", c.DataDir)
	assert.Equal(t, toml.ByteSize(64<<20), c.DataSize)
	assert.Equal(t, 3, c.MaxSessions)
	assert.Equal(t, toml.ByteSize(1000000), c.Storage.FileSize)
	assert.True(t, c.Storage.DirectIO)
	assert.Equal(t, 16, c.Storage.QueueDepth)
	assert.Equal(t, "goroutine", c.Storage.IOEngine)
	// Unset keys keep their defaults.
	assert.Equal(t, 1024, c.LogCapacity)

	out, err := gotoml.Marshal(*c)
	require.NoError(t, err)
	assert.Contains(t, string(out), `data-dir = "/var/lib/objectdb"`)
}
