// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry runs units of work against the stores with bounded retry on
// transient lock contention.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

// ErrExhausted wraps the last failure once all attempts have been used.
var ErrExhausted = errors.New("retry attempts exhausted")

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how often and how long to wait between attempts.
// The zero value is usable and equals Default().
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	// Retryable decides whether a failure is worth another attempt.
	// Defaults to IsLockContention.
	Retryable func(error) bool
	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
}

// Default returns the policy used for all store writes.
func Default() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
	}
}

// WithInitialInterval returns a copy of p with a different first delay.
func (p Policy) WithInitialInterval(d time.Duration) Policy {
	p.InitialInterval = d
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.Retryable == nil {
		p.Retryable = IsLockContention
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// newBackOff returns a deterministic doubling schedule: d, 2d, 4d, ...
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.InitialInterval << 10
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are used up. The name is only used for logging.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	b := p.newBackOff()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !p.Retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		delay := b.NextBackOff()
		metrics.IncRetry(name)
		zap.S().Warnw("Lock contention, retrying",
			"operation", name,
			"attempt", attempt,
			"maxAttempts", p.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if sErr := p.Sleep(ctx, delay); sErr != nil {
			return zero, fmt.Errorf("%s interrupted: %w", name, sErr)
		}
	}

	zap.S().Errorw("Giving up after lock contention",
		"operation", name,
		"attempts", p.MaxAttempts,
		"error", lastErr,
	)
	return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, name, p.MaxAttempts, lastErr)
}

// Exec is Do for operations without a result.
func Exec(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
