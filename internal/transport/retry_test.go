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

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	retries := 0
	got, err := WithRetry(RetryConfig{
		MaxRetries: 3,
		OnRetry: func() error {
			retries++
			return nil
		},
	}, func() (int, bool, error) {
		calls++
		if calls < 3 {
			return 0, true, nil
		}
		return 42, false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestWithRetry_Exhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	failed := false
	_, err := WithRetry(RetryConfig{
		MaxRetries:  2,
		Description: "frame repair",
		OnRetryFailed: func() error {
			failed = true
			return nil
		},
	}, func() (struct{}, bool, error) {
		calls++
		return struct{}{}, true, nil
	})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "frame repair")
	assert.Equal(t, 3, calls)
	assert.True(t, failed)
}

func TestWithRetry_PermanentErrorStops(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	_, err := WithRetry(RetryConfig{MaxRetries: 5}, func() (int, bool, error) {
		calls++
		return 0, false, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPollUntil(t *testing.T) {
	t.Parallel()

	t.Run("completes", func(t *testing.T) {
		t.Parallel()
		calls := 0
		got, err := PollUntil(context.Background(), time.Second, time.Millisecond, func() (string, bool, error) {
			calls++
			if calls < 4 {
				return "", true, nil
			}
			return "idle", false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "idle", got)
		assert.Equal(t, 4, calls)
	})

	t.Run("deadline", func(t *testing.T) {
		t.Parallel()
		start := time.Now()
		_, err := PollUntil(context.Background(), 30*time.Millisecond, 5*time.Millisecond, func() (int, bool, error) {
			return 0, true, nil
		})
		require.ErrorIs(t, err, ErrPollTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := PollUntil(ctx, time.Second, 10*time.Millisecond, func() (int, bool, error) {
			return 0, true, nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}
