// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/molecula/objectdb/logger"
	"github.com/stretchr/testify/assert"
)

func TestStandardLogger(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.WithPrefix("[session 1] ").Infof("begin txn %d", 3)
	l.Errorf("boom")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO:  [session 1] begin txn 3")
	assert.Contains(t, out, "ERROR: boom")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestVerboseLogger(t *testing.T) {
	var buf bytes.Buffer
	logger.NewLogger(&buf, true).Debugf("shown %d", 1)
	assert.Contains(t, buf.String(), "DEBUG: shown 1")
}

func TestBufferLoggerPrefix(t *testing.T) {
	l := logger.NewBufferLogger()
	l.WithPrefix("a: ").Warnf("x")
	l.Infof("y")
	assert.Equal(t, "WARN:  a: x\nINFO:  y\n", l.String())
}
