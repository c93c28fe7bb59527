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


package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsatuloori/go-itla"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "itla.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportUART, cfg.Serial.Transport)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, itla.DefaultBaudLadder, cfg.Serial.BaudLadder)
	assert.True(t, cfg.Serial.Negotiate)
	assert.Equal(t, itla.DefaultResponseTimeout, cfg.Timing.ResponseTimeout)
	assert.Equal(t, itla.DefaultQueueTimeout, cfg.Timing.QueueTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Monitor.LostAfter)
	assert.False(t, cfg.HasHardware())

	limits, err := cfg.Limits.Parse()
	require.NoError(t, err)
	assert.True(t, limits.MinFrequency.Equal(decimal.RequireFromString("191.5")))
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB3
  transport: cobrite
  slot: 4
  quiet: true
timing:
  response_timeout: 400ms
limits:
  min_frequency: "192.0"
  max_frequency: "195.0"
hardware:
  reset_pin: GPIO17
monitor:
  interval: 2s
  lost_after: 5
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, TransportCoBrite, cfg.Serial.Transport)
	assert.Equal(t, 4, cfg.Serial.Slot)
	assert.True(t, cfg.Serial.Quiet)
	assert.Equal(t, 400*time.Millisecond, cfg.Timing.ResponseTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.HasHardware())
	assert.Equal(t, "GPIO17", cfg.Pins().Reset)

	mon := cfg.MonitorConfig()
	assert.Equal(t, 2*time.Second, mon.PollInterval)
	assert.Equal(t, 5, mon.LostAfter)

	opts, err := cfg.ConnOptions()
	require.NoError(t, err)
	conn, err := itla.New(itla.NewMockTransport(), opts...)
	require.NoError(t, err)
	assert.Equal(t, 400*time.Millisecond, conn.Config().ResponseTimeout)
	assert.True(t, conn.Config().Limits.MaxFrequency.Equal(decimal.RequireFromString("195")))
	assert.Len(t, cfg.UpgradeOptions(), 1)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ITLA_SERIAL_PORT", "COM7")
	t.Setenv("ITLA_TIMING_QUEUE_TIMEOUT", "2s")
	t.Setenv("ITLA_HARDWARE_DISABLE_PIN", "GPIO27")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "COM7", cfg.Serial.Port)
	assert.Equal(t, 2*time.Second, cfg.Timing.QueueTimeout)
	assert.Equal(t, "GPIO27", cfg.Hardware.DisablePin)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "transport", body: "serial:\n  transport: usb\n", message: "unknown transport"},
		{name: "slot", body: "serial:\n  slot: 0\n", message: "slot"},
		{name: "limit syntax", body: "limits:\n  min_power: lots\n", message: "limits.min_power"},
		{
			name:    "inverted limits",
			body:    "limits:\n  min_frequency: \"196\"\n  max_frequency: \"192\"\n",
			message: "minimum exceeds maximum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}
