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
	"testing"
	"time"

	testutil "github.com/vsatuloori/go-itla/internal/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		moduleBaud  int
		wantHistory []int
		wantFillers int
	}{
		{
			name:        "first rung",
			moduleBaud:  4800,
			wantHistory: []int{4800},
			wantFillers: 0,
		},
		{
			name:        "module at 9600",
			moduleBaud:  9600,
			wantHistory: []int{4800, 9600},
			wantFillers: DefaultPrimeFillers,
		},
		{
			name:        "top rung",
			moduleBaud:  115200,
			wantHistory: DefaultBaudLadder,
			wantFillers: 5 * DefaultPrimeFillers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conn, mock := newTestConn(t, WithResponseTimeout(10*time.Millisecond))
			mock.Module.SetBaudRate(tt.moduleBaud)

			baud, err := conn.Negotiate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.moduleBaud, baud)
			assert.Equal(t, tt.moduleBaud, conn.BaudRate())
			assert.Equal(t, tt.wantHistory, mock.BaudHistory())
			assert.Equal(t, tt.wantFillers, mock.FillerCount())
		})
	}
}

func TestNegotiate_NoRateWorks(t *testing.T) {
	t.Parallel()

	conn, mock := newTestConn(t, WithResponseTimeout(5*time.Millisecond))
	mock.Module.SetSilent(true)

	_, err := conn.Negotiate(context.Background())
	require.ErrorIs(t, err, ErrBaudRate)
	assert.Equal(t, DefaultBaudLadder, mock.BaudHistory())
	assert.Equal(t, len(DefaultBaudLadder), mock.GetCallCount(RegNop))
}

func TestNegotiate_CustomLadder(t *testing.T) {
	t.Parallel()

	conn, mock := newTestConn(t,
		WithResponseTimeout(5*time.Millisecond),
		WithBaudLadder(115200, 9600))
	mock.Module.SetBaudRate(9600)

	baud, err := conn.Negotiate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9600, baud)
	assert.Equal(t, []int{115200, 9600}, mock.BaudHistory())
}

func TestNegotiate_RequiresBaudSwitch(t *testing.T) {
	t.Parallel()

	conn, mock := newTestConn(t)
	mock.SetCapability(CapabilityBaudSwitch, false)

	_, err := conn.Negotiate(context.Background())
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Empty(t, mock.SentFrames())
}

func TestSwitchBaudRate(t *testing.T) {
	t.Parallel()

	conn, mock := newTestConn(t)

	require.NoError(t, conn.SwitchBaudRate(context.Background(), 115200))
	assert.Equal(t, 115200, conn.BaudRate())
	assert.Equal(t, 115200, mock.Module.BaudRate())
	sent := mock.SentFrames()[0]
	assert.True(t, sent.IsWrite())
	assert.Equal(t, byte(RegIocap), sent.Register())
	assert.Equal(t, uint16(0x0040), sent.Data())

	ok, err := conn.IsReady(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	err = conn.SwitchBaudRate(context.Background(), 4800)
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, 115200, conn.BaudRate())
}

func TestSwitchBaudRate_RejectedLeavesHostRate(t *testing.T) {
	t.Parallel()

	conn, mock := newTestConn(t)
	mock.Module.QueueStatus(testutil.RegIocap, 0x01)

	err := conn.SwitchBaudRate(context.Background(), 57600)
	require.ErrorIs(t, err, ErrExecution)
	assert.Equal(t, 9600, conn.BaudRate())
	assert.Empty(t, mock.BaudHistory())
}
