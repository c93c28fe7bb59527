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
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a Conn
type Option func(*Conn) error

// WithLogger sets the logger used for transaction and lifecycle logging
func WithLogger(logger *zap.Logger) Option {
	return func(c *Conn) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidParameter)
		}
		c.logger = logger
		return nil
	}
}

// WithQueueTimeout bounds how long a request waits for its arbiter turn
func WithQueueTimeout(timeout time.Duration) Option {
	return func(c *Conn) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: queue timeout must be positive", ErrInvalidParameter)
		}
		c.config.QueueTimeout = timeout
		return nil
	}
}

// WithResponseTimeout bounds how long a transaction waits for the reply frame
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *Conn) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: response timeout must be positive", ErrInvalidParameter)
		}
		c.config.ResponseTimeout = timeout
		return nil
	}
}

// WithBaudLadder replaces the ordered list of rates tried during negotiation
func WithBaudLadder(rates ...int) Option {
	return func(c *Conn) error {
		if len(rates) == 0 {
			return fmt.Errorf("%w: empty baud ladder", ErrInvalidParameter)
		}
		for _, r := range rates {
			if r <= 0 {
				return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, r)
			}
		}
		c.config.BaudLadder = append([]int(nil), rates...)
		return nil
	}
}

// WithPriming sets the filler count and spacing used to resynchronize a
// module before each negotiation retry
func WithPriming(fillers int, spacing time.Duration) Option {
	return func(c *Conn) error {
		if fillers < 0 || spacing < 0 {
			return fmt.Errorf("%w: invalid priming", ErrInvalidParameter)
		}
		c.config.PrimeFillers = fillers
		c.config.PrimeSpacing = spacing
		return nil
	}
}

// WithExtendedLimit caps the byte count accepted from an extended-address reply
func WithExtendedLimit(limit int) Option {
	return func(c *Conn) error {
		if limit <= 0 {
			return fmt.Errorf("%w: extended limit must be positive", ErrInvalidParameter)
		}
		c.config.ExtendedLimit = limit
		return nil
	}
}

// WithLimits sets the operating envelope used by SetFrequency and SetPower
func WithLimits(limits Limits) Option {
	return func(c *Conn) error {
		if limits.MinFrequency.GreaterThan(limits.MaxFrequency) || limits.MinPower.GreaterThan(limits.MaxPower) {
			return fmt.Errorf("%w: inverted limits", ErrInvalidParameter)
		}
		c.config.Limits = limits
		return nil
	}
}
