// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/molecula/objectdb"
	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
)

// Command represents the state of the objectdb server command.
type Command struct {
	Server *Server

	// Configuration.
	Config *Config

	// Standard input/output
	*objectdb.CmdIO

	// Started will be closed once Command.Start is finished.
	Started chan struct{}
	// Done will be closed when Command.Close() is called
	Done chan struct{}

	serveErr chan error

	mu sync.Mutex // serializes Close

	logger  logger.Logger
	logFile *logger.FileWriter
	sighup  chan os.Signal
}

// NewCommand returns a new instance of Command.
func NewCommand(stdin io.Reader, stdout, stderr io.Writer) *Command {
	return &Command{
		Config: NewConfig(),

		CmdIO: objectdb.NewCmdIO(stdin, stdout, stderr),

		Started:  make(chan struct{}),
		Done:     make(chan struct{}),
		serveErr: make(chan error, 1),
	}
}

// Start opens the server and begins accepting sessions in the background.
func (m *Command) Start() (err error) {
	defer close(m.Started)

	if err := m.Config.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	if err := m.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	m.logger.Infof("%s", objectdb.VersionInfo())

	m.Server, err = NewServer(
		OptServerConfig(m.Config),
		OptServerLogger(m.logger),
	)
	if err != nil {
		return errors.Wrap(err, "creating server")
	}
	if err := m.Server.Open(); err != nil {
		return errors.Wrap(err, "opening server")
	}

	go func() {
		err := m.Server.Serve()
		if err != nil {
			m.logger.Errorf("serving: %v", err)
		}
		m.serveErr <- err
	}()
	return nil
}

// Wait waits for the server to be closed or interrupted.
func (m *Command) Wait() error {
	// First SIGTERM causes server to shut down gracefully.
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		m.logger.Infof("received signal '%s', gracefully shutting down...", sig.String())

		// Second signal causes a hard shutdown.
		go func() { <-c; os.Exit(1) }()
		return errors.Wrap(m.Close(), "closing command")
	case err := <-m.serveErr:
		m.serveErr <- err
		if cerr := m.Close(); err == nil {
			err = cerr
		}
		return err
	case <-m.Done:
		m.logger.Infof("server closed externally")
		return nil
	}
}

// Close shuts down the server.
func (m *Command) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.Done:
		return nil
	default:
	}
	var err error
	if m.Server != nil {
		err = m.Server.Close()
	}
	if m.sighup != nil {
		signal.Stop(m.sighup)
		close(m.sighup)
	}
	if m.logFile != nil {
		if lerr := m.logFile.Close(); lerr != nil && err == nil {
			err = errors.Wrap(lerr, "closing log")
		}
	}
	close(m.Done)
	return err
}

// setupLogger sets up the logger based on the configuration.
func (m *Command) setupLogger() error {
	var out io.Writer = m.Stderr
	if m.Config.LogPath != "" {
		f, err := logger.NewFileWriter(m.Config.LogPath)
		if err != nil {
			return errors.Wrap(err, "opening file")
		}
		m.logFile, out = f, f

		// reopen log file on SIGHUP
		m.sighup = make(chan os.Signal, 1)
		signal.Notify(m.sighup, syscall.SIGHUP)
		go func() {
			for range m.sighup {
				if err := f.Reopen(); err != nil {
					m.logger.Errorf("reopen: %v", err)
				}
			}
		}()
	}
	m.logger = logger.NewLogger(out, m.Config.Verbose)
	m.CmdIO.SetLogger(m.logger)
	return nil
}

// Logger returns the logger the server writes to.
func (m *Command) Logger() logger.Logger { return m.logger }
