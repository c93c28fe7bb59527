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

// Package transport provides internal retry and polling helpers shared by
// the connection engine and the transports
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted is returned by WithRetry when every attempt asked to retry.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrPollTimeout is returned by PollUntil when the deadline passes.
var ErrPollTimeout = errors.New("poll deadline exceeded")

// RetryOperation represents a function that can be retried
// Returns: data, shouldRetry, error
// - data: the result if successful
// - shouldRetry: true if the operation should be retried
// - error: any permanent error that should stop retries
type RetryOperation[T any] func() (T, bool, error)

// RetryConfig configures retry behavior
type RetryConfig struct {
	OnRetry       func() error
	OnRetryFailed func() error
	Description   string
	MaxRetries    int
	RetryDelay    time.Duration
}

// WithRetry executes an operation with retry logic
func WithRetry[T any](config RetryConfig, operation RetryOperation[T]) (T, error) {
	var zero T

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, shouldRetry, err := operation()
		if err != nil {
			return zero, err
		}

		if !shouldRetry {
			return result, nil
		}

		// If we should retry but we're at max attempts, break
		if attempt >= config.MaxRetries {
			break
		}

		if err := executeRetryCallback(config); err != nil {
			return zero, err
		}

		if config.RetryDelay > 0 {
			time.Sleep(config.RetryDelay)
		}
	}

	return handleRetriesExhausted[T](config)
}

// executeRetryCallback executes the retry callback if provided
func executeRetryCallback(config RetryConfig) error {
	if config.OnRetry != nil {
		return config.OnRetry()
	}
	return nil
}

// handleRetriesExhausted handles the case when all retries are exhausted
func handleRetriesExhausted[T any](config RetryConfig) (T, error) {
	var zero T

	if config.OnRetryFailed != nil {
		if failErr := config.OnRetryFailed(); failErr != nil {
			return zero, failErr
		}
	}

	if config.Description != "" {
		return zero, errors.Join(ErrRetriesExhausted, errors.New(config.Description))
	}
	return zero, ErrRetriesExhausted
}

// PollUntil repeats operation every interval until it stops asking to retry,
// returns an error, the timeout elapses or ctx is done. The operation always
// runs at least once.
func PollUntil[T any](ctx context.Context, timeout, interval time.Duration, operation RetryOperation[T]) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)

	for {
		result, shouldRetry, err := operation()
		if err != nil {
			return zero, err
		}

		if !shouldRetry {
			return result, nil
		}

		if !time.Now().Add(interval).Before(deadline) {
			return zero, ErrPollTimeout
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
