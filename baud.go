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
	"errors"
	"fmt"

	"github.com/vsatuloori/go-itla/internal/frame"
	"go.uber.org/zap"
)

// Negotiate walks the baud ladder from the slowest rate until the module
// answers a NOP read. Before every attempt after the first the line is
// primed with filler bytes so a module stuck mid-frame can resynchronize.
func (c *Conn) Negotiate(ctx context.Context) (int, error) {
	if err := c.checkUsable(ctx); err != nil {
		return 0, err
	}
	if !hasCapability(c.transport, CapabilityBaudSwitch) {
		return 0, fmt.Errorf("%w: baud negotiation", ErrNotSupported)
	}

	for i, baud := range c.config.BaudLadder {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var portErr error
		err := c.arbiter.DoContext(ctx, func(Ticket) error {
			if err := c.transport.SetBaudRate(baud); err != nil {
				portErr = err
				return err
			}
			if i > 0 {
				if primer, ok := c.transport.(Primer); ok {
					if err := primer.Prime(c.config.PrimeFillers, c.config.PrimeSpacing); err != nil {
						c.logger.Debug("priming failed", zap.Int("baud", baud), zap.Error(err))
					}
				}
			}
			if err := c.transport.Flush(); err != nil {
				portErr = err
				return err
			}
			_, err := c.exchange(RegNop, frame.Read, 0)
			return err
		})

		switch {
		case err == nil:
			c.setBaud(baud)
			c.logger.Debug("baud rate negotiated", zap.Int("baud", baud))
			return baud, nil
		case portErr != nil:
			return 0, NewTransportError("set baud rate", c.path, portErr, ErrorTypePermanent)
		case errors.Is(err, ErrArbiterTimeout):
			return 0, err
		}
		c.logger.Debug("no valid reply at rate", zap.Int("baud", baud), zap.Error(err))
	}

	return 0, fmt.Errorf("%w: tried %v", ErrBaudRate, c.config.BaudLadder)
}

// switchBaud tells the module to change rate through Iocap and follows it on
// the host side. The caller must hold the arbiter turn.
func (c *Conn) switchBaud(baud int) error {
	code, err := IocapForBaud(baud)
	if err != nil {
		return err
	}
	if _, err := c.exchange(RegIocap, frame.Write, int(code)); err != nil {
		return err
	}
	if err := c.transport.SetBaudRate(baud); err != nil {
		return NewTransportError("set baud rate", c.path, err, ErrorTypePermanent)
	}
	if err := c.transport.Flush(); err != nil {
		return NewTransportError("flush", c.path, err, ErrorTypeTransient)
	}
	c.setBaud(baud)
	c.logger.Debug("baud rate switched", zap.Int("baud", baud))
	return nil
}

// SwitchBaudRate moves both the module and the host to a new rate
func (c *Conn) SwitchBaudRate(ctx context.Context, baud int) error {
	if err := c.checkUsable(ctx); err != nil {
		return err
	}
	if !hasCapability(c.transport, CapabilityBaudSwitch) {
		return fmt.Errorf("%w: baud switch", ErrNotSupported)
	}
	return c.arbiter.DoContext(ctx, func(Ticket) error {
		return c.switchBaud(baud)
	})
}
