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


/*
Package itla provides a pure Go library for talking to ITLA tunable laser
modules (OIF-ITLA-MSA) over their 4-byte binary serial protocol.

Features:
  - Frame codec with BIP-4 checksums
  - UART transport and a CoBrite chassis console transport
  - Automatic baud rate negotiation across the module's IOCAP ladder
  - FIFO request arbitration for callers sharing one connection
  - Extended address (AEA) string and block reads
  - Five-phase firmware upgrade with salvage mode
  - Frequency, power and temperature helpers with decimal units

Basic Usage:

	import (
	    "github.com/vsatuloori/go-itla"
	    "github.com/vsatuloori/go-itla/transport/uart"
	)

	transport, err := uart.New("/dev/ttyUSB0")
	if err != nil {
	    log.Fatal(err)
	}

	conn, err := itla.New(transport)
	if err != nil {
	    log.Fatal(err)
	}
	defer conn.Close()

	id, err := conn.Identify(ctx)
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Printf("%s %s (%s)\n", id.Manufacturer, id.Model, id.Serial)

	thz, _ := decimal.NewFromString("193.4140")
	if _, err := conn.SetFrequency(ctx, thz); err != nil {
	    log.Fatal(err)
	}

Transport Selection:

  - UART: a module wired directly to a USB-to-serial adapter
  - CoBrite: a module slot behind a CoBrite chassis text console

Use the detection package to find candidate serial ports.

Concurrency:

A Conn is safe for concurrent use. Requests are served one at a time in
arrival order; a request that waits longer than the queue timeout fails
with ErrArbiterTimeout. A firmware upgrade holds the connection for its
whole duration.

Error Handling:

	var regErr *itla.RegisterError
	if errors.As(err, &regErr) {
	    // the module rejected the request
	}
	if errors.Is(err, itla.ErrNoResponse) {
	    // nothing came back within the response deadline
	}
*/
package itla
