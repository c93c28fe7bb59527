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


// Package monitor watches an ITLA link by polling the NOP register and
// reports when the module stops or resumes answering.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsatuloori/go-itla"
	"go.uber.org/zap"
)

// ErrRunning is returned by Start when the monitor is already running
var ErrRunning = errors.New("monitor already running")

// Pinger is the part of *itla.Conn the monitor needs
type Pinger interface {
	Nop(ctx context.Context) (uint16, error)
}

// moder is implemented by connections that report their mode
type moder interface {
	Mode() itla.Mode
}

// Callbacks are invoked from the polling goroutine
type Callbacks struct {
	OnLinkLost     func(err error)
	OnLinkRestored func(nop uint16)
	OnPoll         func(nop uint16, err error)
}

// Metrics tracks polling activity
type Metrics struct {
	PollCycles      int64
	PollErrors      int64
	SkippedPolls    int64
	LinkLosses      int64
	LastPollLatency time.Duration
}

// Monitor polls a connection on a fixed cadence, backing off while the link
// is down
type Monitor struct {
	pinger    Pinger
	config    *Config
	logger    *zap.Logger
	callbacks Callbacks
	done      chan struct{}
	cancel    context.CancelFunc
	status    Status
	mu        sync.Mutex
	runMu     sync.Mutex

	pollCycles      atomic.Int64
	pollErrors      atomic.Int64
	skippedPolls    atomic.Int64
	linkLosses      atomic.Int64
	lastPollLatency atomic.Int64
	currentInterval atomic.Int64
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the monitor logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a monitor. A nil config uses DefaultConfig.
func New(pinger Pinger, config *Config, callbacks Callbacks, opts ...Option) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Monitor{
		pinger:    pinger,
		config:    config,
		callbacks: callbacks,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.currentInterval.Store(int64(config.PollInterval))
	return m
}

// Run polls until ctx is done and returns ctx.Err()
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.config.Validate(); err != nil {
		return err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		m.Poll(ctx)
		timer.Reset(m.CurrentInterval())
	}
}

// Start runs the monitor in a goroutine until Stop or ctx is done
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done != nil {
		return ErrRunning
	}
	if err := m.config.Validate(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		_ = m.Run(runCtx)
	}()
	return nil
}

// Stop halts a monitor started with Start and waits for it to exit
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done == nil {
		return
	}
	m.cancel()
	<-m.done
	m.done = nil
	m.cancel = nil
}

// Poll performs one NOP poll and updates the link state. Polls are skipped
// while a firmware upgrade owns the connection.
func (m *Monitor) Poll(ctx context.Context) {
	if md, ok := m.pinger.(moder); ok && md.Mode() == itla.ModeFirmwareUpgrade {
		m.skippedPolls.Add(1)
		return
	}

	pollCtx := ctx
	if m.config.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, m.config.PollTimeout)
		defer cancel()
	}

	start := time.Now()
	nop, err := m.pinger.Nop(pollCtx)
	m.pollCycles.Add(1)
	m.lastPollLatency.Store(int64(time.Since(start)))

	if m.callbacks.OnPoll != nil {
		m.callbacks.OnPoll(nop, err)
	}

	// a busy arbiter says nothing about the link; neither does running out
	// of poll time while queued behind another request
	if errors.Is(err, itla.ErrArbiterTimeout) || errors.Is(err, context.DeadlineExceeded) {
		m.skippedPolls.Add(1)
		return
	}
	if err != nil && ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	var lost, restored bool
	if err != nil {
		m.pollErrors.Add(1)
		lost = m.status.recordFailure(err, m.config.LostAfter)
	} else {
		restored = m.status.recordSuccess(nop, start)
	}
	state := m.status.State
	m.mu.Unlock()

	m.adjustInterval(state)

	switch {
	case lost:
		m.linkLosses.Add(1)
		m.logger.Warn("link lost", zap.Error(err))
		if m.callbacks.OnLinkLost != nil {
			m.callbacks.OnLinkLost(err)
		}
	case restored:
		m.logger.Info("link up", zap.Uint16("nop", nop))
		if m.callbacks.OnLinkRestored != nil {
			m.callbacks.OnLinkRestored(nop)
		}
	}
}

// adjustInterval doubles the poll gap while the link is down, up to
// DownInterval, and returns to PollInterval once it is up
func (m *Monitor) adjustInterval(state LinkState) {
	if state != LinkDown {
		m.currentInterval.Store(int64(m.config.PollInterval))
		return
	}
	next := min(2*time.Duration(m.currentInterval.Load()), m.config.DownInterval)
	m.currentInterval.Store(int64(next))
}

// Status returns a snapshot of the link state
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Metrics returns current polling metrics
func (m *Monitor) Metrics() Metrics {
	return Metrics{
		PollCycles:      m.pollCycles.Load(),
		PollErrors:      m.pollErrors.Load(),
		SkippedPolls:    m.skippedPolls.Load(),
		LinkLosses:      m.linkLosses.Load(),
		LastPollLatency: time.Duration(m.lastPollLatency.Load()),
	}
}

// CurrentInterval returns the gap before the next poll
func (m *Monitor) CurrentInterval() time.Duration {
	return time.Duration(m.currentInterval.Load())
}
