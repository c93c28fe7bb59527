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


// Package hwctl drives the MSA hardware control lines of an ITLA module:
// the active-low reset (RST) and output disable (DIS) inputs and the
// active-low service request (SRQ) output.
package hwctl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultResetPulse is how long RST is held low
const DefaultResetPulse = 10 * time.Millisecond

var (
	// ErrPinNotFound is returned when a named pin is not registered
	ErrPinNotFound = errors.New("gpio pin not found")
	// ErrNoServiceRequest is returned when no SRQ pin was configured
	ErrNoServiceRequest = errors.New("service request pin not configured")
	// ErrNoPin is returned when a control line was not configured
	ErrNoPin = errors.New("control pin not configured")
)

// Pins names the GPIO lines wired to the module. Empty names are not
// connected.
type Pins struct {
	Reset          string
	Disable        string
	ServiceRequest string
}

// Controller owns the module's control lines
type Controller struct {
	rst    gpio.PinIO
	dis    gpio.PinIO
	srq    gpio.PinIO
	logger *zap.Logger
	mu     sync.Mutex
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Open initializes the host drivers and looks the pins up by name
func Open(pins Pins, opts ...Option) (*Controller, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	lookup := func(name string) (gpio.PinIO, error) {
		if name == "" {
			return nil, nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
		}
		return p, nil
	}

	rst, err := lookup(pins.Reset)
	if err != nil {
		return nil, err
	}
	dis, err := lookup(pins.Disable)
	if err != nil {
		return nil, err
	}
	srq, err := lookup(pins.ServiceRequest)
	if err != nil {
		return nil, err
	}
	return New(rst, dis, srq, opts...)
}

// New takes ownership of already resolved pins. Any of them may be nil.
// RST and DIS are driven high so the module runs with its output enabled.
func New(rst, dis, srq gpio.PinIO, opts ...Option) (*Controller, error) {
	c := &Controller{rst: rst, dis: dis, srq: srq, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}

	for _, p := range []gpio.PinIO{rst, dis} {
		if p == nil {
			continue
		}
		if err := p.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("failed to drive %s high: %w", p.Name(), err)
		}
	}
	if srq != nil {
		if err := srq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("failed to configure %s: %w", srq.Name(), err)
		}
	}
	return c, nil
}

// Reset holds RST low for pulse, then releases it
func (c *Controller) Reset(ctx context.Context, pulse time.Duration) error {
	if c.rst == nil {
		return fmt.Errorf("%w: reset", ErrNoPin)
	}
	if pulse <= 0 {
		pulse = DefaultResetPulse
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	c.logger.Info("module reset asserted", zap.Duration("pulse", pulse))

	timer := time.NewTimer(pulse)
	defer timer.Stop()
	var waitErr error
	select {
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	// RST is always released, even when the wait was cut short
	if err := c.rst.Out(gpio.High); err != nil {
		return errors.Join(waitErr, fmt.Errorf("failed to release reset: %w", err))
	}
	return waitErr
}

// SetOutputEnabled drives DIS. Disabling blanks the optical output
// without resetting the module.
func (c *Controller) SetOutputEnabled(enabled bool) error {
	if c.dis == nil {
		return fmt.Errorf("%w: disable", ErrNoPin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	level := gpio.Low
	if enabled {
		level = gpio.High
	}
	if err := c.dis.Out(level); err != nil {
		return fmt.Errorf("failed to drive disable: %w", err)
	}
	c.logger.Info("module output", zap.Bool("enabled", enabled))
	return nil
}

// OutputEnabled reports the DIS line state
func (c *Controller) OutputEnabled() bool {
	if c.dis == nil {
		return true
	}
	return c.dis.Read() == gpio.High
}

// ServiceRequested reports whether the module is holding SRQ low
func (c *Controller) ServiceRequested() bool {
	return c.srq != nil && c.srq.Read() == gpio.Low
}

// WaitServiceRequest waits up to timeout for the module to assert SRQ. The
// wait is also bounded by the context deadline.
func (c *Controller) WaitServiceRequest(ctx context.Context, timeout time.Duration) (bool, error) {
	if c.srq == nil {
		return false, ErrNoServiceRequest
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.ServiceRequested() {
		return true, nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return false, context.DeadlineExceeded
	}

	if !c.srq.WaitForEdge(timeout) {
		return false, ctx.Err()
	}
	return c.ServiceRequested(), nil
}

// Close halts the pins
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, p := range []gpio.PinIO{c.rst, c.dis, c.srq} {
		if p == nil {
			continue
		}
		if err := p.Halt(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
