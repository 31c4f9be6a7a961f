// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"context"
	"time"

	"github.com/molecula/objectdb/errors"
	"github.com/molecula/objectdb/logger"
	"github.com/sethvargo/go-retry"
)

// Ping opens and closes a ping session.
func Ping(ctx context.Context, name string) error {
	s := NewSession(Options{InstanceName: name, SessionType: SessionPing})
	if err := s.Begin(ctx); err != nil {
		return err
	}
	return s.End()
}

// WaitForServer pings the server for name until it answers, ctx is done or
// maxRetries attempts have failed. Only connection failures are retried.
func WaitForServer(ctx context.Context, name string, maxRetries uint64, log logger.Logger) error {
	if log == nil {
		log = logger.NopLogger
	}
	b := retry.WithMaxRetries(maxRetries, retry.WithCappedDuration(time.Second, retry.NewFibonacci(10*time.Millisecond)))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := Ping(ctx, name)
		if errors.Is(err, ErrConnectionFailed) {
			log.Debugf("waiting for server %s: %v", name, err)
			return retry.RetryableError(err)
		}
		return err
	})
}
