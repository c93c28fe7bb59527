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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForLen polls until the arbiter holds n tickets
func waitForLen(t *testing.T, a *Arbiter, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return a.Len() == n }, time.Second, time.Millisecond)
}

func TestArbiter_FIFOOrder(t *testing.T) {
	t.Parallel()

	a := NewArbiter(2 * time.Second)
	release := make(chan struct{})
	holderDone := make(chan error, 1)

	go func() {
		holderDone <- a.Do(func(Ticket) error {
			<-release
			return nil
		})
	}()
	waitForLen(t, a, 1)

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := a.Do(func(Ticket) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(i)
		// Enqueue strictly one after another
		waitForLen(t, a, i+2)
	}

	close(release)
	require.NoError(t, <-holderDone)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, Ticket(waiters+1), a.LastTicket())
}

func TestArbiter_ContextCancelRemovesTicket(t *testing.T) {
	t.Parallel()

	a := NewArbiter(5 * time.Second)
	release := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- a.Do(func(Ticket) error {
			<-release
			return nil
		})
	}()
	waitForLen(t, a, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ran := false
	start := time.Now()
	err := a.DoContext(ctx, func(Ticket) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, ran)
	assert.Equal(t, 1, a.Len())

	close(release)
	require.NoError(t, <-holderDone)
	assert.Equal(t, 0, a.Len())
}

func TestArbiter_CancelledContextNeverQueues(t *testing.T) {
	t.Parallel()

	a := NewArbiter(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.DoContext(ctx, func(Ticket) error {
		t.Fatal("op ran on a cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Ticket(0), a.LastTicket())
}

func TestArbiter_TimeoutRemovesTicket(t *testing.T) {
	t.Parallel()

	a := NewArbiter(400 * time.Millisecond)
	release := make(chan struct{})
	holderDone := make(chan error, 1)

	go func() {
		holderDone <- a.Do(func(Ticket) error {
			<-release
			return nil
		})
	}()
	waitForLen(t, a, 1)

	timedOut := make(chan error, 1)
	ran := false
	go func() {
		timedOut <- a.Do(func(Ticket) error {
			ran = true
			return nil
		})
	}()
	waitForLen(t, a, 2)

	time.Sleep(250 * time.Millisecond)
	later := make(chan error, 1)
	laterRan := make(chan struct{}, 1)
	go func() {
		later <- a.Do(func(Ticket) error {
			laterRan <- struct{}{}
			return nil
		})
	}()

	err := <-timedOut
	require.ErrorIs(t, err, ErrArbiterTimeout)
	assert.False(t, ran)

	// The expired ticket is gone; holder plus the later waiter remain
	waitForLen(t, a, 2)

	close(release)
	require.NoError(t, <-holderDone)
	require.NoError(t, <-later)
	select {
	case <-laterRan:
	default:
		t.Fatal("later ticket did not run")
	}
}

func TestArbiter_ReleasesOnError(t *testing.T) {
	t.Parallel()

	a := NewArbiter(time.Second)
	boom := errors.New("boom")

	err := a.Do(func(Ticket) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, a.Len())

	require.NoError(t, a.Do(func(Ticket) error { return nil }))
}

func TestArbiter_ReleasesOnPanic(t *testing.T) {
	t.Parallel()

	a := NewArbiter(time.Second)
	assert.Panics(t, func() {
		_ = a.Do(func(Ticket) error { panic("op failed") })
	})
	assert.Equal(t, 0, a.Len())
	require.NoError(t, a.Do(func(Ticket) error { return nil }))
}

func TestArbiter_DefaultTimeout(t *testing.T) {
	t.Parallel()

	a := NewArbiter(0)
	assert.Equal(t, DefaultQueueTimeout, a.timeout)
}

func TestArbiter_TicketsIncrease(t *testing.T) {
	t.Parallel()

	a := NewArbiter(time.Second)
	var seen []Ticket
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Do(func(tk Ticket) error {
			seen = append(seen, tk)
			return nil
		}))
	}
	assert.Equal(t, []Ticket{1, 2, 3}, seen)
}
