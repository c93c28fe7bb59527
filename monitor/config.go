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
	"errors"
	"fmt"
	"time"
)

// Config controls the poll cadence and when the link is declared lost
type Config struct {
	// PollInterval is the gap between NOP polls while the link is up
	PollInterval time.Duration
	// DownInterval is the slowest gap used while the link is down
	DownInterval time.Duration
	// PollTimeout bounds each poll, including arbiter queueing
	PollTimeout time.Duration
	// LostAfter is the number of consecutive failed polls that mark the
	// link lost
	LostAfter int
}

// DefaultConfig returns a one-second poll that declares the link lost
// after three missed NOPs
func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Second,
		DownInterval: 5 * time.Second,
		PollTimeout:  2 * time.Second,
		LostAfter:    3,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %v", c.PollInterval))
	}
	if c.DownInterval < c.PollInterval {
		errs = append(errs, fmt.Errorf("down interval %v is shorter than poll interval %v", c.DownInterval, c.PollInterval))
	}
	if c.LostAfter < 1 {
		errs = append(errs, fmt.Errorf("lost-after must be at least 1, got %d", c.LostAfter))
	}
	return errors.Join(errs...)
}
