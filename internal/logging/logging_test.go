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


package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vsatuloori/go-itla/internal/config"
	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "itla.log")
	logger, err := New(config.LoggingConfig{
		Level:   "debug",
		Format:  "json",
		Output:  path,
		MaxSize: 1,
	})
	require.NoError(t, err)

	logger.Debug("transaction", zap.String("register", "Nop"), zap.Uint16("data", 0x10))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "transaction", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "Nop", entry["register"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_LevelFilters(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "itla.log")
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestNew_Console(t *testing.T) {
	t.Parallel()

	logger, err := New(config.LoggingConfig{Level: "INFO", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := New(config.LoggingConfig{Level: "chatty", Output: "stderr"})
	require.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml", Output: "stderr"})
	require.ErrorContains(t, err, "unknown log format")
}
