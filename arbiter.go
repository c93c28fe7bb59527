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
	"sync"
	"time"
)

// DefaultQueueTimeout bounds how long a ticket may wait to reach the head
// of the queue.
const DefaultQueueTimeout = 5 * time.Second

// Ticket is a caller's place in line for the transport.
type Ticket uint64

// Arbiter serialises access to a single transport. Tickets are granted in
// arrival order and only the ticket at the head of the queue may run.
type Arbiter struct {
	cond    *sync.Cond
	queue   []Ticket
	mu      sync.Mutex
	last    Ticket
	timeout time.Duration
}

// NewArbiter creates an arbiter whose waiters give up after timeout.
// A non-positive timeout selects DefaultQueueTimeout.
func NewArbiter(timeout time.Duration) *Arbiter {
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	a := &Arbiter{timeout: timeout}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Do runs op once the caller's ticket reaches the head of the queue. The
// ticket is released on every exit path, including a panic in op. If the
// ticket is still waiting when the timeout expires it is removed from the
// queue and ErrArbiterTimeout is returned without op having run.
func (a *Arbiter) Do(op func(Ticket) error) error {
	return a.DoContext(context.Background(), op)
}

// DoContext is like Do but also gives up waiting when ctx is done. The
// ticket leaves the queue and ctx.Err() is returned without op having run.
func (a *Arbiter) DoContext(ctx context.Context, op func(Ticket) error) error {
	ticket, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.release(ticket)
	return op(ticket)
}

func (a *Arbiter) acquire(ctx context.Context) (Ticket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.last++
	ticket := a.last
	a.queue = append(a.queue, ticket)

	wake := func() {
		a.mu.Lock()
		a.cond.Broadcast()
		a.mu.Unlock()
	}
	deadline := time.Now().Add(a.timeout)
	timer := time.AfterFunc(a.timeout, wake)
	defer timer.Stop()
	stop := context.AfterFunc(ctx, wake)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			a.remove(ticket)
			a.cond.Broadcast()
			return 0, err
		}
		if a.queue[0] == ticket {
			return ticket, nil
		}
		if !time.Now().Before(deadline) {
			a.remove(ticket)
			a.cond.Broadcast()
			return 0, ErrArbiterTimeout
		}
		a.cond.Wait()
	}
}

func (a *Arbiter) release(ticket Ticket) {
	a.mu.Lock()
	a.remove(ticket)
	a.cond.Broadcast()
	a.mu.Unlock()
}

// remove deletes ticket wherever it sits. Caller holds mu.
func (a *Arbiter) remove(ticket Ticket) {
	for i, t := range a.queue {
		if t == ticket {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return
		}
	}
}

// Len returns the number of tickets currently queued, including the holder.
func (a *Arbiter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// LastTicket returns the most recently issued ticket.
func (a *Arbiter) LastTicket() Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
