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
	"context"
	"errors"
	"fmt"

	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/detection"
	"github.com/vsatuloori/go-itla/internal/config"
	"github.com/vsatuloori/go-itla/transport/cobrite"
	"github.com/vsatuloori/go-itla/transport/uart"

	// Import detectors to register them
	_ "github.com/vsatuloori/go-itla/detection/uart"
)

// connect opens the configured port, or the best detected one with -auto
func (a *app) connect(ctx context.Context) (*itla.Conn, error) {
	connOpts, err := a.cfg.ConnOptions()
	if err != nil {
		return nil, err
	}
	connOpts = append(connOpts, itla.WithLogger(a.logger))

	opts := []itla.ConnectOption{itla.WithConnOptions(connOpts...)}
	if !a.cfg.Serial.Negotiate {
		opts = append(opts, itla.WithoutNegotiation())
	}

	switch {
	case a.auto:
		opts = append(opts, itla.WithAutoDetection(), itla.WithTransportFromDeviceFactory(a.newTransportFromDevice))
	case a.cfg.Serial.Port == "":
		return nil, errors.New("no serial port given; use -port, serial.port or -auto")
	default:
		opts = append(opts, itla.WithTransportFactory(a.newTransport))
	}

	conn, err := itla.Connect(ctx, a.cfg.Serial.Port, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// newTransport creates the configured transport on path
func (a *app) newTransport(path string) (itla.Transport, error) {
	switch a.cfg.Serial.Transport {
	case config.TransportCoBrite:
		t, err := cobrite.New(path,
			cobrite.WithSlot(a.cfg.Serial.Slot),
			cobrite.WithQuiet(a.cfg.Serial.Quiet),
			cobrite.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create CoBrite transport: %w", err)
		}
		return t, nil
	default:
		t, err := uart.New(path,
			uart.WithBaudRate(a.cfg.Serial.BaudRate),
			uart.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return t, nil
	}
}

// newTransportFromDevice opens a detected port at the rate the probe found
func (a *app) newTransportFromDevice(device detection.DeviceInfo) (itla.Transport, error) {
	if device.Transport != "uart" {
		return nil, fmt.Errorf("unsupported transport: %s", device.Transport)
	}
	baud := a.cfg.Serial.BaudRate
	if device.BaudRate > 0 {
		baud = device.BaudRate
	}
	t, err := uart.New(device.Path, uart.WithBaudRate(baud), uart.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create UART transport: %w", err)
	}
	return t, nil
}
