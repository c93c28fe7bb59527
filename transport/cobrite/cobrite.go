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

// Package cobrite provides a transport for ITLA modules mounted in a CoBrite
// chassis, which tunnels register frames through its text command
// interface.
package cobrite

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/internal/frame"
	"github.com/vsatuloori/go-itla/transport/uart"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate is the chassis console rate
	DefaultBaudRate = 115200
	// DefaultSlot is the chassis slot addressed when none is given
	DefaultSlot = 1
	// DefaultLineTimeout bounds the wait for a ';'-terminated reply
	DefaultLineTimeout = time.Second

	password = "coherent"
)

var (
	// ErrLoginRejected means the chassis did not accept the password
	ErrLoginRejected = errors.New("chassis login rejected")
	// ErrMalformedReply means a reply line could not be parsed
	ErrMalformedReply = errors.New("malformed chassis reply")
)

// Transport implements itla.Transport over a CoBrite console link
type Transport struct {
	port        uart.Port
	logger      *zap.Logger
	opener      uart.Opener
	extended    []byte
	portName    string
	slot        int
	baud        int
	lineTimeout time.Duration
	mu          sync.Mutex
	quiet       bool
	hasExtended bool
	lastReg     byte
}

// Option configures a Transport
type Option func(*Transport)

// WithSlot selects the chassis slot holding the module
func WithSlot(slot int) Option {
	return func(t *Transport) {
		t.slot = slot
	}
}

// WithQuiet turns off chassis status chatter on the console
func WithQuiet(quiet bool) Option {
	return func(t *Transport) {
		t.quiet = quiet
	}
}

// WithLogger sets the transport logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithBaudRate sets the console rate
func WithBaudRate(baud int) Option {
	return func(t *Transport) {
		t.baud = baud
	}
}

// WithLineTimeout bounds the wait for each reply line
func WithLineTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.lineTimeout = d
	}
}

// WithOpener replaces the function used to open the port
func WithOpener(opener uart.Opener) Option {
	return func(t *Transport) {
		t.opener = opener
	}
}

// New opens the console, logs in and configures echo and quiet mode
func New(portName string, opts ...Option) (*Transport, error) {
	t := &Transport{
		portName:    portName,
		slot:        DefaultSlot,
		baud:        DefaultBaudRate,
		lineTimeout: DefaultLineTimeout,
		logger:      zap.NewNop(),
		opener: func(path string, mode *serial.Mode) (uart.Port, error) {
			return serial.Open(path, mode)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("port", portName), zap.Int("slot", t.slot))

	port, err := t.opener(portName, &serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, itla.NewPortOpenError(portName, err)
	}
	t.port = port

	if err := t.login(); err != nil {
		_ = port.Close()
		t.port = nil
		return nil, err
	}
	return t, nil
}

func (t *Transport) login() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush console: %w", err)
	}

	accepted := false
	for attempt := 0; attempt < 2 && !accepted; attempt++ {
		line, err := t.command("pass " + password + ";")
		if err != nil && !errors.Is(err, itla.ErrNoResponse) {
			return err
		}
		accepted = strings.Contains(line, "accepted")
	}
	if !accepted {
		t.logger.Error("chassis login rejected")
		return ErrLoginRejected
	}

	quiet := "0"
	if t.quiet {
		quiet = "1"
	}
	for _, cmd := range []string{"echo 1;", "quiet " + quiet + ";"} {
		if _, err := t.command(cmd); err != nil && !errors.Is(err, itla.ErrNoResponse) {
			return err
		}
	}
	t.logger.Info("chassis login accepted")
	return nil
}

// command writes a console command and returns the reply line
func (t *Transport) command(cmd string) (string, error) {
	if _, err := t.port.Write([]byte(cmd)); err != nil {
		return "", itla.NewTransportError("write", t.portName, errors.Join(itla.ErrTransportWrite, err), itla.ErrorTypeTransient)
	}
	return t.readLine(t.lineTimeout)
}

// readLine reads until ';' or the timeout
func (t *Transport) readLine(timeout time.Duration) (string, error) {
	var line bytes.Buffer
	buf := make([]byte, 64)
	deadline := time.Now().Add(timeout)

	for !bytes.ContainsRune(line.Bytes(), ';') {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return line.String(), itla.NewNoResponseError("receive", t.portName)
		}
		if err := t.port.SetReadTimeout(remaining); err != nil {
			return line.String(), itla.NewTransportError("set read timeout", t.portName, err, itla.ErrorTypeTransient)
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return line.String(), itla.NewTransportError("read", t.portName, errors.Join(itla.ErrTransportRead, err), itla.ErrorTypeTransient)
		}
		_, _ = line.Write(buf[:n])
	}
	return line.String(), nil
}

// FormatRequest renders a frame as a chassis bypass command
func FormatRequest(slot int, f itla.Frame) string {
	return fmt.Sprintf("byp 1,1,%d,%d,%x,%x,%x;", slot, f[0]&0x01, f[1], f[2], f[3])
}

// SendFrame implements itla.Transport
func (t *Transport) SendFrame(f itla.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.NewTransportError("send", t.portName, itla.ErrClosed, itla.ErrorTypePermanent)
	}

	t.lastReg = f.Register()
	t.extended = nil
	t.hasExtended = false

	req := FormatRequest(t.slot, f)
	if _, err := t.port.Write([]byte(req)); err != nil {
		return itla.NewTransportError("write", t.portName, errors.Join(itla.ErrTransportWrite, err), itla.ErrorTypeTransient)
	}
	return nil
}

// ReceiveFrame implements itla.Transport. The chassis needs longer than a
// bare module, so the wait is never shorter than the line timeout.
func (t *Transport) ReceiveFrame(timeout time.Duration) (itla.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.Frame{}, itla.NewTransportError("receive", t.portName, itla.ErrClosed, itla.ErrorTypePermanent)
	}

	line, err := t.readLine(max(timeout, t.lineTimeout))
	if err != nil {
		return itla.Frame{}, err
	}

	reply, payload, err := ParseReply(line, t.lastReg)
	if err != nil {
		t.logger.Warn("unparseable chassis reply", zap.String("line", line), zap.Error(err))
		return itla.Frame{}, itla.NewTransportError("parse", t.portName, err, itla.ErrorTypeTransient)
	}
	if payload != nil {
		t.extended = payload
		t.hasExtended = true
	}
	return reply, nil
}

// ParseReply decodes a chassis reply line. Echoed command text before the
// first newline and a status prefix ending in '.' are skipped. A line with
// more than four fields is an inline extended-address payload: it is
// returned as payload and the frame carries the AEA status with the byte
// count for register reg.
func ParseReply(line string, reg byte) (itla.Frame, []byte, error) {
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[i+1:]
	}
	if i := strings.IndexByte(line, '.'); i >= 0 {
		line = line[i+1:]
	}
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}

	fields := strings.Split(strings.TrimSpace(line), ",")
	values := make([]byte, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(field), 16, 8)
		if err != nil {
			return itla.Frame{}, nil, fmt.Errorf("%w: field %d %q", ErrMalformedReply, i, field)
		}
		values[i] = byte(v)
	}

	switch {
	case len(values) > frame.Size:
		payload := values[2:]
		f := itla.Frame{frame.StatusExtendedAddress, reg, byte(len(payload) >> 8), byte(len(payload))}
		f[0] |= frame.Checksum(f[0], f[1], f[2], f[3]) << 4
		return f, payload, nil
	case len(values) == frame.Size:
		return itla.Frame{values[0], values[1], values[2], values[3]}, nil, nil
	default:
		return itla.Frame{}, nil, fmt.Errorf("%w: %d fields", ErrMalformedReply, len(values))
	}
}

// TakeExtended implements itla.InlineExtendedReader
func (t *Transport) TakeExtended() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasExtended {
		return nil, false
	}
	payload := t.extended
	t.extended = nil
	t.hasExtended = false
	return payload, true
}

// Flush implements itla.Transport
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.ErrClosed
	}
	t.extended = nil
	t.hasExtended = false
	if err := t.port.ResetInputBuffer(); err != nil {
		return itla.NewTransportError("flush", t.portName, err, itla.ErrorTypeTransient)
	}
	return nil
}

// SetBaudRate changes the console rate. The module's own line rate is
// managed by the chassis and is not affected.
func (t *Transport) SetBaudRate(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return itla.ErrClosed
	}
	if baud == t.baud {
		return nil
	}
	if err := t.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}); err != nil {
		return itla.NewTransportError("set mode", t.portName, err, itla.ErrorTypePermanent)
	}
	t.baud = baud
	return nil
}

// BaudRate implements itla.Transport
func (t *Transport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baud
}

// Close implements itla.Transport
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("failed to close console: %w", err)
	}
	return nil
}

// IsConnected implements itla.Transport
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type implements itla.Transport
func (*Transport) Type() itla.TransportType {
	return itla.TransportCoBrite
}

// HasCapability implements itla.TransportCapabilityChecker
func (*Transport) HasCapability(capability itla.TransportCapability) bool {
	return capability == itla.CapabilityInlineExtended
}

var (
	_ itla.Transport                  = (*Transport)(nil)
	_ itla.InlineExtendedReader       = (*Transport)(nil)
	_ itla.TransportCapabilityChecker = (*Transport)(nil)
)
