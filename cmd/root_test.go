// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/molecula/objectdb/cmd"
	"github.com/molecula/objectdb/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execNewRootCommand executes the objectdb root command with the given
// arguments and returns its combined output.
func execNewRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rc := cmd.NewRootCommand(nil, &out, &out)
	rc.SetArgs(args)
	err := rc.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	outStr, err := execNewRootCommand(t, "--help")
	require.NoError(t, err)
	for _, want := range []string{"Usage:", "Available Commands:", "--help", "server", "generate-config", "ping"} {
		assert.Contains(t, outStr, want)
	}
}

func TestServerHelp(t *testing.T) {
	outStr, err := execNewRootCommand(t, "server", "--help")
	require.NoError(t, err)
	assert.Contains(t, outStr, "Flags:")
	assert.Contains(t, outStr, "--storage.queue-depth")
}

func TestServerConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "objectdb.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
name = "from-file"
data-dir = "/tmp/file-dir"
data-size = "32MiB"
max-sessions = 7

[storage]
queue-depth = 16
`), 0600))

	t.Setenv("OBJECTDB_DATA_DIR", "/tmp/env-dir")
	t.Setenv("OBJECTDB_STORAGE_QUEUE_DEPTH", "32")

	// dry-run stops after the configuration is applied.
	_, err := execNewRootCommand(t, "server", "--dry-run", "-c", cfgPath, "--data-dir", "/tmp/flag-dir")
	require.EqualError(t, err, "dry run")

	c := cmd.Server.Config
	assert.Equal(t, "/tmp/flag-dir", c.DataDir)
	assert.Equal(t, 32, c.Storage.QueueDepth)
	assert.Equal(t, "from-file", c.Name)
	assert.Equal(t, toml.ByteSize(32<<20), c.DataSize)
	assert.Equal(t, 7, c.MaxSessions)
}

func TestServerConfig_InvalidOption(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "objectdb.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bind = \"localhost:10101\"\n"), 0600))
	_, err := execNewRootCommand(t, "server", "--dry-run", "-c", cfgPath)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid option in configuration file: bind"), err.Error())
}

func TestGenerateConfig(t *testing.T) {
	outStr, err := execNewRootCommand(t, "generate-config")
	require.NoError(t, err)
	assert.Contains(t, outStr, `name = "objectdb"`)
}

func TestLogDump_Args(t *testing.T) {
	_, err := execNewRootCommand(t, "log", "dump")
	require.Error(t, err)
}
