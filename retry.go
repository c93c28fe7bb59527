// go-itla
// Copyright (c) 2025 The go-itla Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-itla.
//
// go-itla is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-itla is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-itla; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package itla

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig configures caller-side retry behavior. The engine itself
// never retries; RetryWithConfig is for callers that want to repeat
// operations failing with retryable errors.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first
	MaxAttempts int
	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between tries
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after each retry
	BackoffMultiplier float64
	// Jitter is the fraction of the wait randomized on each retry
	Jitter float64
	// RetryTimeout bounds the whole retry loop; zero means no bound
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      5 * time.Second,
	}
}

// RetryWithConfig runs fn until it succeeds, returns an error that is not
// retryable, runs out of attempts or ctx ends. The last error is returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := config.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}

		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}

		timer := time.NewTimer(withJitter(backoff, config.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		backoff = nextBackoff(backoff, config)
	}
	return lastErr
}

func nextBackoff(current time.Duration, config *RetryConfig) time.Duration {
	mult := config.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(current) * mult)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		next = config.MaxBackoff
	}
	return next
}

func withJitter(d time.Duration, jitter float64) time.Duration {
	if d <= 0 || jitter <= 0 {
		return max(d, 0)
	}
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(d) * jitter * (rand.Float64()*2 - 1) //nolint:gosec // backoff jitter
	return time.Duration(float64(d) + delta)
}
