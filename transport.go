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
	"time"

	"github.com/vsatuloori/go-itla/internal/frame"
)

// Frame is the 4-byte unit of exchange on the link.
type Frame = frame.Frame

// Transport moves whole register frames between the host and the module.
// Implementations are not required to be safe for concurrent use; Conn
// serialises every call through its Arbiter.
type Transport interface {
	// SendFrame writes one request frame
	SendFrame(f Frame) error

	// ReceiveFrame waits up to timeout for one response frame. It returns
	// an error wrapping ErrNoResponse when fewer than four bytes arrive.
	ReceiveFrame(timeout time.Duration) (Frame, error)

	// Flush discards any pending input
	Flush() error

	// SetBaudRate reconfigures the link speed
	SetBaudRate(baud int) error

	// BaudRate returns the current link speed
	BaudRate() int

	// Close closes the transport connection
	Close() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART is the binary protocol on a serial port.
	TransportUART TransportType = "uart"
	// TransportCoBrite is the text proxy dialect spoken by CoBrite chassis.
	TransportCoBrite TransportType = "cobrite"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportCapability represents specific capabilities or behaviors of a transport
type TransportCapability string

const (
	// CapabilityBaudSwitch indicates the host controls the module's line rate,
	// so baud negotiation and the Iocap speed-up during upgrades apply.
	CapabilityBaudSwitch TransportCapability = "baud_switch"

	// CapabilityInlineExtended indicates extended-address payloads arrive in
	// the same reply as the AEA status instead of via AeaEar reads.
	CapabilityInlineExtended TransportCapability = "inline_extended"
)

// TransportCapabilityChecker defines an interface for querying transport capabilities
type TransportCapabilityChecker interface {
	// HasCapability returns true if the transport has the specified capability
	HasCapability(capability TransportCapability) bool
}

// Primer is implemented by transports that can coax a desynchronised
// module into emitting a frame by writing filler bytes.
type Primer interface {
	// Prime writes up to maxFillers zero bytes, spacing apart, stopping once
	// at least one frame's worth of input has been seen, then flushes input.
	Prime(maxFillers int, spacing time.Duration) error
}

// InlineExtendedReader is implemented by transports with
// CapabilityInlineExtended. TakeExtended returns the payload captured with
// the most recent AEA reply and clears it.
type InlineExtendedReader interface {
	TakeExtended() ([]byte, bool)
}

// hasCapability checks if the transport has the specified capability
func hasCapability(t Transport, capability TransportCapability) bool {
	if checker, ok := t.(TransportCapabilityChecker); ok {
		return checker.HasCapability(capability)
	}
	return false
}
