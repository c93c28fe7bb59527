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


package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vsatuloori/go-itla"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	err error
	nop uint16
}

// scriptedPinger returns queued results, repeating the last one
type scriptedPinger struct {
	results []result
	mode    itla.Mode
	calls   int
	mu      sync.Mutex
}

func (p *scriptedPinger) Nop(context.Context) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	r := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return r.nop, r.err
}

func (p *scriptedPinger) Mode() itla.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func fastConfig() *Config {
	return &Config{
		PollInterval: 2 * time.Millisecond,
		DownInterval: 8 * time.Millisecond,
		PollTimeout:  50 * time.Millisecond,
		LostAfter:    2,
	}
}

func TestPoll_LostAndRestored(t *testing.T) {
	t.Parallel()

	noResponse := itla.NewNoResponseError("receive", "mock")
	pinger := &scriptedPinger{results: []result{
		{nop: 0x0010},
		{err: noResponse},
		{err: noResponse},
		{err: noResponse},
		{nop: 0x0010},
	}}

	var lost []error
	var restored []uint16
	m := New(pinger, fastConfig(), Callbacks{
		OnLinkLost:     func(err error) { lost = append(lost, err) },
		OnLinkRestored: func(nop uint16) { restored = append(restored, nop) },
	})
	ctx := context.Background()

	m.Poll(ctx)
	assert.Equal(t, LinkUp, m.Status().State)
	assert.True(t, m.Status().Ready())

	m.Poll(ctx)
	assert.Equal(t, LinkUp, m.Status().State)
	assert.Equal(t, 1, m.Status().Failures)

	m.Poll(ctx)
	assert.Equal(t, LinkDown, m.Status().State)
	require.Len(t, lost, 1)
	require.ErrorIs(t, lost[0], itla.ErrNoResponse)

	m.Poll(ctx)
	assert.Len(t, lost, 1)

	m.Poll(ctx)
	assert.Equal(t, LinkUp, m.Status().State)
	assert.Equal(t, []uint16{0x0010, 0x0010}, restored)

	metrics := m.Metrics()
	assert.Equal(t, int64(5), metrics.PollCycles)
	assert.Equal(t, int64(3), metrics.PollErrors)
	assert.Equal(t, int64(1), metrics.LinkLosses)
}

func TestPoll_BacksOffWhileDown(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{results: []result{{err: errors.New("gone")}}}
	m := New(pinger, fastConfig(), Callbacks{})
	ctx := context.Background()

	m.Poll(ctx)
	assert.Equal(t, 2*time.Millisecond, m.CurrentInterval())
	m.Poll(ctx)
	assert.Equal(t, 4*time.Millisecond, m.CurrentInterval())
	m.Poll(ctx)
	assert.Equal(t, 8*time.Millisecond, m.CurrentInterval())
	m.Poll(ctx)
	assert.Equal(t, 8*time.Millisecond, m.CurrentInterval())

	pinger.mu.Lock()
	pinger.results = []result{{nop: 0x0010}}
	pinger.mu.Unlock()
	m.Poll(ctx)
	assert.Equal(t, 2*time.Millisecond, m.CurrentInterval())
}

func TestPoll_ArbiterTimeoutIsSkipped(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{results: []result{{err: itla.ErrArbiterTimeout}}}
	m := New(pinger, fastConfig(), Callbacks{})

	for range 3 {
		m.Poll(context.Background())
	}
	assert.Equal(t, LinkUnknown, m.Status().State)
	assert.Equal(t, int64(3), m.Metrics().SkippedPolls)
	assert.Zero(t, m.Metrics().PollErrors)
}

func TestPoll_QueueDeadlineIsSkipped(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{results: []result{{err: context.DeadlineExceeded}}}
	m := New(pinger, fastConfig(), Callbacks{})

	m.Poll(context.Background())
	assert.Equal(t, LinkUnknown, m.Status().State)
	assert.Equal(t, int64(1), m.Metrics().SkippedPolls)
	assert.Zero(t, m.Metrics().PollErrors)
}

func TestPoll_SkippedDuringUpgrade(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{results: []result{{nop: 0x0010}}, mode: itla.ModeFirmwareUpgrade}
	m := New(pinger, fastConfig(), Callbacks{})

	m.Poll(context.Background())
	assert.Zero(t, pinger.calls)
	assert.Equal(t, int64(1), m.Metrics().SkippedPolls)
}

func TestStatus_Pending(t *testing.T) {
	t.Parallel()

	s := Status{State: LinkUp, LastNop: 0x0110}
	assert.True(t, s.Pending())
	assert.True(t, s.Ready())

	s = Status{State: LinkDown, LastNop: 0x0110}
	assert.False(t, s.Pending())
	assert.False(t, s.Ready())
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	pinger := &scriptedPinger{results: []result{{nop: 0x0010}}}
	up := make(chan struct{})
	var once sync.Once
	m := New(pinger, fastConfig(), Callbacks{
		OnLinkRestored: func(uint16) { once.Do(func() { close(up) }) },
	})

	require.NoError(t, m.Start(context.Background()))
	require.ErrorIs(t, m.Start(context.Background()), ErrRunning)

	select {
	case <-up:
	case <-time.After(time.Second):
		t.Fatal("link never came up")
	}

	m.Stop()
	cycles := m.Metrics().PollCycles
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, cycles, m.Metrics().PollCycles)

	m.Stop()
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	m := New(&scriptedPinger{results: []result{{}}}, &Config{}, Callbacks{})
	require.Error(t, m.Run(context.Background()))
	require.Error(t, m.Start(context.Background()))
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	t.Parallel()

	m := New(&scriptedPinger{results: []result{{nop: 0x0010}}}, fastConfig(), Callbacks{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded)
	assert.Positive(t, m.Metrics().PollCycles)
}

func TestMonitor_WithConn(t *testing.T) {
	t.Parallel()

	mock := itla.NewMockTransport()
	conn, err := itla.New(mock, itla.WithResponseTimeout(10*time.Millisecond))
	require.NoError(t, err)

	m := New(conn, fastConfig(), Callbacks{})
	ctx := context.Background()

	m.Poll(ctx)
	assert.Equal(t, LinkUp, m.Status().State)

	mock.Module.SetSilent(true)
	m.Poll(ctx)
	m.Poll(ctx)
	assert.Equal(t, LinkDown, m.Status().State)
	require.ErrorIs(t, m.Status().LastError, itla.ErrNoResponse)

	mock.Module.SetSilent(false)
	m.Poll(ctx)
	assert.Equal(t, LinkUp, m.Status().State)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	err := (&Config{PollInterval: time.Second, DownInterval: time.Millisecond, LostAfter: 0}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down interval")
	assert.Contains(t, err.Error(), "lost-after")
}

func TestLinkStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "up", LinkUp.String())
	assert.Equal(t, "link(7)", LinkState(7).String())
}
