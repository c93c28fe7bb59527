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

// Package uart provides the raw binary serial transport for ITLA modules
package uart

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/internal/frame"
	"github.com/vsatuloori/go-itla/internal/transport"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate is the rate a module uses after power-up
	DefaultBaudRate = 9600
	// DefaultRepairFillers is the number of zero bytes sent to push a
	// desynchronized module through its partial frame
	DefaultRepairFillers = 8
	// DefaultRepairSpacing is the gap between repair fillers
	DefaultRepairSpacing = 20 * time.Millisecond
)

// Port is the part of serial.Port used by the transport
type Port interface {
	io.ReadWriter
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Close() error
}

// Opener opens a serial port. The default wraps serial.Open.
type Opener func(path string, mode *serial.Mode) (Port, error)

func openSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Transport implements itla.Transport over a raw 8N1 serial link
type Transport struct {
	port          Port
	logger        *zap.Logger
	opener        Opener
	portName      string
	baud          int
	repairFillers int
	repairSpacing time.Duration
	mu            sync.Mutex
}

// Option configures a Transport
type Option func(*Transport)

// WithLogger sets the transport logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithBaudRate sets the rate the port is opened at
func WithBaudRate(baud int) Option {
	return func(t *Transport) {
		t.baud = baud
	}
}

// WithRepair sets the filler budget and spacing used to resynchronize a
// module that is holding a partial frame
func WithRepair(fillers int, spacing time.Duration) Option {
	return func(t *Transport) {
		t.repairFillers = fillers
		t.repairSpacing = spacing
	}
}

// WithOpener replaces the function used to open the port
func WithOpener(opener Opener) Option {
	return func(t *Transport) {
		t.opener = opener
	}
}

// New opens portName and returns a transport ready for framing
func New(portName string, opts ...Option) (*Transport, error) {
	t := &Transport{
		portName:      portName,
		baud:          DefaultBaudRate,
		logger:        zap.NewNop(),
		opener:        openSerial,
		repairFillers: DefaultRepairFillers,
		repairSpacing: DefaultRepairSpacing,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("port", portName))

	port, err := t.opener(portName, modeFor(t.baud))
	if err != nil {
		t.logger.Error("failed to open serial port", zap.Error(err))
		return nil, itla.NewPortOpenError(portName, err)
	}
	t.port = port

	t.logger.Info("serial port opened", zap.Int("baud_rate", t.baud))
	return t, nil
}

func modeFor(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// SendFrame writes a frame. The first three bytes go out, then the input
// is checked: a module that answers early was holding a partial frame, so
// it is fed zero bytes until it emits a reply and the frame is sent again.
func (t *Transport) SendFrame(f itla.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.NewTransportError("send", t.portName, itla.ErrClosed, itla.ErrorTypePermanent)
	}

	if err := t.write(f[:3]); err != nil {
		return err
	}

	stray, err := t.available()
	if err != nil {
		return err
	}
	if stray == 0 {
		return t.write(f[3:])
	}

	t.logger.Warn("input pending mid-frame, repairing", zap.Stringer("frame", f), zap.Int("stray", stray))
	if err := t.repair(); err != nil {
		return err
	}
	t.logger.Debug("repair succeeded, resending frame")
	return t.write(f[:])
}

// repair flushes input and writes filler bytes until the module produces a
// full reply
func (t *Transport) repair() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return itla.NewTransportError("flush", t.portName, err, itla.ErrorTypeTransient)
	}

	received := 0
	_, err := transport.WithRetry(transport.RetryConfig{
		MaxRetries:  t.repairFillers - 1,
		Description: fmt.Sprintf("no reply after %d fillers", t.repairFillers),
	}, func() (struct{}, bool, error) {
		if err := t.write([]byte{frame.Filler}); err != nil {
			return struct{}{}, false, err
		}
		time.Sleep(t.repairSpacing)
		n, err := t.available()
		if err != nil {
			return struct{}{}, false, err
		}
		received += n
		return struct{}{}, received < frame.Size, nil
	})
	if err != nil {
		t.logger.Warn("frame repair failed", zap.Error(err))
		return itla.NewTransportError("repair", t.portName, errors.Join(itla.ErrTransportWrite, err), itla.ErrorTypeTransient)
	}

	if err := t.port.ResetInputBuffer(); err != nil {
		return itla.NewTransportError("flush", t.portName, err, itla.ErrorTypeTransient)
	}
	return nil
}

// available drains whatever is waiting on the input without blocking and
// returns the byte count
func (t *Transport) available() (int, error) {
	if err := t.port.SetReadTimeout(0); err != nil {
		return 0, itla.NewTransportError("set read timeout", t.portName, err, itla.ErrorTypeTransient)
	}
	buf := make([]byte, 64)
	total := 0
	for {
		n, err := t.port.Read(buf)
		total += n
		if err != nil {
			return total, itla.NewTransportError("read", t.portName, errors.Join(itla.ErrTransportRead, err), itla.ErrorTypeTransient)
		}
		if n == 0 {
			return total, nil
		}
	}
}

func (t *Transport) write(b []byte) error {
	n, err := t.port.Write(b)
	if err != nil {
		return itla.NewTransportError("write", t.portName, errors.Join(itla.ErrTransportWrite, err), itla.ErrorTypeTransient)
	}
	if n != len(b) {
		return itla.NewTransportError("write", t.portName,
			fmt.Errorf("%w: wrote %d of %d bytes", itla.ErrTransportWrite, n, len(b)), itla.ErrorTypeTransient)
	}
	return nil
}

// ReceiveFrame reads exactly four bytes or fails with a no-response error
// once timeout has elapsed
func (t *Transport) ReceiveFrame(timeout time.Duration) (itla.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var f itla.Frame
	if t.port == nil {
		return f, itla.NewTransportError("receive", t.portName, itla.ErrClosed, itla.ErrorTypePermanent)
	}

	deadline := time.Now().Add(timeout)
	got := 0
	for got < frame.Size {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.logger.Debug("frame deadline passed", zap.Int("received", got))
			return f, itla.NewNoResponseError("receive", t.portName)
		}
		if err := t.port.SetReadTimeout(remaining); err != nil {
			return f, itla.NewTransportError("set read timeout", t.portName, err, itla.ErrorTypeTransient)
		}
		n, err := t.port.Read(f[got:])
		if err != nil {
			return f, itla.NewTransportError("read", t.portName, errors.Join(itla.ErrTransportRead, err), itla.ErrorTypeTransient)
		}
		got += n
	}
	return f, nil
}

// Flush discards buffered input and output
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.ErrClosed
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return itla.NewTransportError("flush", t.portName, err, itla.ErrorTypeTransient)
	}
	if err := t.port.ResetOutputBuffer(); err != nil {
		return itla.NewTransportError("flush", t.portName, err, itla.ErrorTypeTransient)
	}
	return nil
}

// Prime writes up to maxFillers zero bytes spaced by spacing, stopping early
// once a full frame has arrived, then discards the input
func (t *Transport) Prime(maxFillers int, spacing time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.ErrClosed
	}

	received := 0
	for i := 0; i < maxFillers && received < frame.Size; i++ {
		if err := t.write([]byte{frame.Filler}); err != nil {
			return err
		}
		time.Sleep(spacing)
		n, err := t.available()
		if err != nil {
			return err
		}
		received += n
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return itla.NewTransportError("flush", t.portName, err, itla.ErrorTypeTransient)
	}
	return nil
}

// SetBaudRate reconfigures the port in place
func (t *Transport) SetBaudRate(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.ErrClosed
	}
	if err := t.port.SetMode(modeFor(baud)); err != nil {
		return itla.NewTransportError("set mode", t.portName, err, itla.ErrorTypePermanent)
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return itla.NewTransportError("flush", t.portName, err, itla.ErrorTypeTransient)
	}
	t.logger.Debug("baud rate changed", zap.Int("from", t.baud), zap.Int("to", baud))
	t.baud = baud
	return nil
}

// BaudRate returns the host-side rate
func (t *Transport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baud
}

// Close closes the port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	t.logger.Info("serial port closed")
	return nil
}

// IsConnected reports whether the port is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() itla.TransportType {
	return itla.TransportUART
}

// HasCapability implements itla.TransportCapabilityChecker
func (*Transport) HasCapability(capability itla.TransportCapability) bool {
	return capability == itla.CapabilityBaudSwitch
}

// PortName returns the device path
func (t *Transport) PortName() string {
	return t.portName
}

var (
	_ itla.Transport                  = (*Transport)(nil)
	_ itla.Primer                     = (*Transport)(nil)
	_ itla.TransportCapabilityChecker = (*Transport)(nil)
)
