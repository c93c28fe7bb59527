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


package hwctl

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPin remembers every level driven onto it
type recordingPin struct {
	gpiotest.Pin
	levels []gpio.Level
}

func (p *recordingPin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return p.Pin.Out(l)
}

func newPins() (*recordingPin, *gpiotest.Pin, *gpiotest.Pin) {
	rst := &recordingPin{Pin: gpiotest.Pin{N: "RST", Num: 17}}
	dis := &gpiotest.Pin{N: "DIS", Num: 27}
	srq := &gpiotest.Pin{N: "SRQ", Num: 22, EdgesChan: make(chan gpio.Level, 1)}
	return rst, dis, srq
}

func TestNew_DrivesControlLinesHigh(t *testing.T) {
	t.Parallel()

	rst, dis, srq := newPins()
	c, err := New(rst, dis, srq)
	require.NoError(t, err)

	assert.Equal(t, gpio.High, rst.Read())
	assert.Equal(t, gpio.High, dis.Read())
	assert.Equal(t, gpio.PullUp, srq.Pull())
	assert.True(t, c.OutputEnabled())
	assert.False(t, c.ServiceRequested())
}

func TestReset_PulsesLow(t *testing.T) {
	t.Parallel()

	rst, dis, srq := newPins()
	c, err := New(rst, dis, srq)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, c.Reset(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High}, rst.levels)
}

func TestReset_ReleasedOnCancel(t *testing.T) {
	t.Parallel()

	rst, dis, srq := newPins()
	c, err := New(rst, dis, srq)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Reset(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gpio.High, rst.Read())
}

func TestReset_NoPin(t *testing.T) {
	t.Parallel()

	c, err := New(nil, nil, nil)
	require.NoError(t, err)
	require.ErrorIs(t, c.Reset(context.Background(), 0), ErrNoPin)
	require.ErrorIs(t, c.SetOutputEnabled(false), ErrNoPin)
	assert.True(t, c.OutputEnabled())
}

func TestSetOutputEnabled(t *testing.T) {
	t.Parallel()

	rst, dis, srq := newPins()
	c, err := New(rst, dis, srq)
	require.NoError(t, err)

	require.NoError(t, c.SetOutputEnabled(false))
	assert.Equal(t, gpio.Low, dis.Read())
	assert.False(t, c.OutputEnabled())

	require.NoError(t, c.SetOutputEnabled(true))
	assert.True(t, c.OutputEnabled())
}

func TestWaitServiceRequest(t *testing.T) {
	t.Parallel()

	rst, dis, srq := newPins()
	c, err := New(rst, dis, srq)
	require.NoError(t, err)

	ok, err := c.WaitServiceRequest(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	srq.EdgesChan <- gpio.Low
	ok, err = c.WaitServiceRequest(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, c.ServiceRequested())

	// already asserted returns immediately
	ok, err = c.WaitServiceRequest(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitServiceRequest_NoPin(t *testing.T) {
	t.Parallel()

	c, err := New(nil, nil, nil)
	require.NoError(t, err)
	_, err = c.WaitServiceRequest(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, ErrNoServiceRequest)
}

func TestWaitServiceRequest_ExpiredContext(t *testing.T) {
	t.Parallel()

	rst, dis, srq := newPins()
	c, err := New(rst, dis, srq)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.WaitServiceRequest(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	t.Parallel()

	rst, dis, srq := newPins()
	c, err := New(rst, dis, srq)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
