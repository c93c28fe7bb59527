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


package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/internal/config"
	testutil "github.com/vsatuloori/go-itla/internal/testing"
)

func newTestApp(t *testing.T) (*app, *itla.MockTransport, *bytes.Buffer) {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	mock := itla.NewMockTransport()
	out := &bytes.Buffer{}
	a := &app{
		cfg:    cfg,
		logger: zap.NewNop(),
		out:    out,
		open: func(_ context.Context) (*itla.Conn, error) {
			return itla.New(mock, itla.WithResponseTimeout(20*time.Millisecond))
		},
	}
	return a, mock, out
}

func TestDispatchIdentify(t *testing.T) {
	t.Parallel()
	a, _, out := newTestApp(t)

	require.NoError(t, a.dispatch(context.Background(), "identify", nil))
	assert.Contains(t, out.String(), testutil.TestSerial)
	assert.Contains(t, out.String(), testutil.TestManufacturer)
	assert.Contains(t, out.String(), testutil.TestModel)
}

func TestDispatchReadWrite(t *testing.T) {
	t.Parallel()
	a, mock, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.dispatch(ctx, "read", []string{"nop"}))
	assert.Contains(t, out.String(), "0x0010")

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "write", []string{"0x31", "1200"}))
	assert.Equal(t, uint16(1200), mock.Module.Register(0x31))

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "read", []string{"serial"}))
	assert.Contains(t, out.String(), testutil.TestSerial)
}

func TestDispatchUsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  string
		args []string
	}{
		{name: "unknown command", cmd: "explode"},
		{name: "read without register", cmd: "read"},
		{name: "write without value", cmd: "write", args: []string{"nop"}},
		{name: "wavelength without value", cmd: "wavelength"},
		{name: "output bad state", cmd: "output", args: []string{"maybe"}},
		{name: "detect bad mode", cmd: "detect", args: []string{"-mode", "loud"}},
		{name: "upgrade without image", cmd: "upgrade"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, _, _ := newTestApp(t)
			err := a.dispatch(context.Background(), tt.cmd, tt.args)
			require.ErrorIs(t, err, errUsage)
		})
	}
}

func TestDispatchInvalidValues(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	require.ErrorIs(t, a.dispatch(ctx, "read", []string{"bogus"}), itla.ErrInvalidParameter)
	require.ErrorIs(t, a.dispatch(ctx, "write", []string{"nop", "0x10000"}), itla.ErrInvalidParameter)
	require.ErrorIs(t, a.dispatch(ctx, "freq", []string{"abc"}), itla.ErrInvalidParameter)
	require.ErrorIs(t, a.dispatch(ctx, "power", []string{"x"}), itla.ErrInvalidParameter)
}

func TestDispatchFrequencyAndPower(t *testing.T) {
	t.Parallel()
	a, _, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.dispatch(ctx, "freq", nil))
	assert.Contains(t, out.String(), "THz")

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "power", nil))
	assert.Contains(t, out.String(), "10 dBm")
}

func TestDispatchStatus(t *testing.T) {
	t.Parallel()
	a, _, out := newTestApp(t)

	require.NoError(t, a.dispatch(context.Background(), "status", nil))
	assert.Contains(t, out.String(), "ready=true")
	assert.Contains(t, out.String(), "frequency:")
}

func TestDispatchUpgradeMissingFile(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestApp(t)

	missing := filepath.Join(t.TempDir(), "missing.bin")
	err := a.dispatch(context.Background(), "upgrade", []string{missing})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDispatchMonitorStopsOnCancel(t *testing.T) {
	t.Parallel()
	a, _, out := newTestApp(t)
	a.cfg.Monitor.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	require.NoError(t, a.dispatch(ctx, "monitor", nil))
	assert.Contains(t, out.String(), "polls=")
}

func TestRunUsage(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, &stdout, &stderr)
	require.ErrorIs(t, err, errUsage)
}
