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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vsatuloori/go-itla/detection"
	"go.uber.org/zap"
)

// Default engine settings
const (
	DefaultResponseTimeout = 250 * time.Millisecond
	DefaultExtendedLimit   = 100
	DefaultPrimeFillers    = 5
	DefaultPrimeSpacing    = 10 * time.Millisecond
)

// DefaultBaudLadder is the ascending list of rates tried by Negotiate.
var DefaultBaudLadder = []int{4800, 9600, 19200, 38400, 57600, 115200}

// Config contains configuration options for a Conn
type Config struct {
	// BaudLadder is the ordered list of rates tried during negotiation
	BaudLadder []int
	// Limits is the operating envelope enforced by the setpoint helpers
	Limits Limits
	// QueueTimeout bounds the wait for an arbiter turn
	QueueTimeout time.Duration
	// ResponseTimeout bounds the wait for each reply frame
	ResponseTimeout time.Duration
	PrimeSpacing    time.Duration
	PrimeFillers    int
	// ExtendedLimit is the largest extended-address payload accepted
	ExtendedLimit int
}

// DefaultConfig returns default connection configuration
func DefaultConfig() *Config {
	return &Config{
		BaudLadder:      append([]int(nil), DefaultBaudLadder...),
		Limits:          DefaultLimits(),
		QueueTimeout:    DefaultQueueTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		PrimeSpacing:    DefaultPrimeSpacing,
		PrimeFillers:    DefaultPrimeFillers,
		ExtendedLimit:   DefaultExtendedLimit,
	}
}

// Mode is the operating mode of a connection
type Mode int

const (
	// ModeNormal is regular register traffic
	ModeNormal Mode = iota
	// ModeFirmwareUpgrade is set while UpgradeFirmware owns the link
	ModeFirmwareUpgrade
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeFirmwareUpgrade:
		return "firmware-upgrade"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Conn is a connection to one ITLA module.
//
// Thread Safety: Conn is safe for concurrent use. Every register
// transaction is serialized through a FIFO arbiter, so concurrent callers
// are served in arrival order and never interleave frames on the wire.
type Conn struct {
	transport Transport
	arbiter   *Arbiter
	config    *Config
	logger    *zap.Logger
	id        uuid.UUID
	path      string
	stateMu   sync.RWMutex
	mode      Mode
	baud      int
	closed    atomic.Bool
}

// New creates a connection over an already opened transport. No traffic is
// sent; call Negotiate to find the module's rate.
func New(transport Transport, opts ...Option) (*Conn, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}

	c := &Conn{
		transport: transport,
		config:    DefaultConfig(),
		logger:    zap.NewNop(),
		id:        uuid.New(),
		baud:      transport.BaudRate(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.arbiter = NewArbiter(c.config.QueueTimeout)
	c.logger = c.logger.With(zap.String("conn", c.id.String()))
	return c, nil
}

// TransportFactory is a function type for creating transports
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// ConnectOption represents a functional option for Connect
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	connOptions            []Option
	autoDetect             bool
	skipNegotiation        bool
}

// WithAutoDetection enables automatic port detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithConnOptions adds connection-level options
func WithConnOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.connOptions = append(c.connOptions, opts...)
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithoutNegotiation keeps the transport's opening rate instead of walking
// the baud ladder
func WithoutNegotiation() ConnectOption {
	return func(c *connectConfig) error {
		c.skipNegotiation = true
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}
	return config, nil
}

// Connect opens a port and negotiates a working baud rate.
//
// Example usage:
//
//	conn, err := itla.Connect(ctx, "/dev/ttyUSB0",
//		itla.WithTransportFactory(func(path string) (itla.Transport, error) {
//			return uart.New(path)
//		}))
//
// A port that cannot be opened fails with ErrPortOpen before any rate is
// tried. A module that answers at no rate fails with ErrBaudRate.
func Connect(ctx context.Context, path string, opts ...ConnectOption) (*Conn, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}

	transport, err := createTransport(path, config)
	if err != nil {
		return nil, err
	}

	conn, err := New(transport, config.connOptions...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	conn.path = path

	if config.skipNegotiation || !hasCapability(transport, CapabilityBaudSwitch) {
		conn.logger.Info("connected", zap.String("port", path), zap.Int("baud", conn.BaudRate()),
			zap.String("transport", string(transport.Type())))
		return conn, nil
	}

	baud, err := conn.Negotiate(ctx)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	conn.logger.Info("connected", zap.String("port", path), zap.Int("baud", baud),
		zap.String("transport", string(transport.Type())))
	return conn, nil
}

func createTransport(path string, config *connectConfig) (Transport, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedTransport(config.transportDeviceFactory)
	}
	return createManualTransport(path, config.transportFactory)
}

// createManualTransport handles creation of transport for a specific path
func createManualTransport(path string, factory TransportFactory) (Transport, error) {
	if factory == nil {
		return nil, errors.New("transport factory not provided")
	}

	transport, err := factory(path)
	if err != nil {
		if errors.Is(err, ErrPortOpen) {
			return nil, err
		}
		return nil, NewPortOpenError(path, err)
	}

	return transport, nil
}

// createAutoDetectedTransport opens the first detected serial port
func createAutoDetectedTransport(factory TransportFromDeviceFactory) (Transport, error) {
	if factory == nil {
		return nil, errors.New("transport device factory not provided")
	}

	opts := detection.DefaultOptions()
	devices, err := detection.DetectAll(&opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect ports: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no candidate serial ports found", ErrPortOpen)
	}

	device := devices[0]
	transport, err := factory(device)
	if err != nil {
		return nil, NewPortOpenError(device.Path, err)
	}
	return transport, nil
}

// ID returns the identifier used to tag this connection's log lines
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Path returns the port path given to Connect, if any
func (c *Conn) Path() string {
	return c.path
}

// Transport returns the underlying transport
func (c *Conn) Transport() Transport {
	return c.transport
}

// Logger returns the connection's logger
func (c *Conn) Logger() *zap.Logger {
	return c.logger
}

// Config returns a copy of the connection configuration
func (c *Conn) Config() Config {
	cfg := *c.config
	cfg.BaudLadder = append([]int(nil), c.config.BaudLadder...)
	return cfg
}

// BaudRate returns the last rate the module answered at
func (c *Conn) BaudRate() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.baud
}

// Mode returns the current operating mode
func (c *Conn) Mode() Mode {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.mode
}

// QueueLen returns the number of requests holding or waiting for the link
func (c *Conn) QueueLen() int {
	return c.arbiter.Len()
}

func (c *Conn) setBaud(baud int) {
	c.stateMu.Lock()
	c.baud = baud
	c.stateMu.Unlock()
}

func (c *Conn) setMode(mode Mode) {
	c.stateMu.Lock()
	c.mode = mode
	c.stateMu.Unlock()
}

// Close closes the underlying transport. Subsequent operations fail with
// ErrClosed.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Debug("closing connection")
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// checkUsable rejects work on a closed connection or a finished context
func (c *Conn) checkUsable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}
