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


// Package uart finds serial ports that may carry an ITLA module and
// registers itself with the detection package on import.
package uart

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vsatuloori/go-itla/detection"
	"github.com/vsatuloori/go-itla/internal/frame"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// serialPort is an enumerated port with whatever USB metadata the
// platform provides
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// port is the part of serial.Port used for probing
type port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

type (
	lister func(ctx context.Context) ([]serialPort, error)
	opener func(path string, baud int) (port, error)
)

// bridges holds USB vendor IDs of serial bridges used on module
// evaluation boards
var bridges = map[string]string{
	"0403": "FTDI",
	"067B": "Prolific",
	"10C4": "Silicon Labs",
	"1A86": "WCH",
}

// probeLadder is walked in Full mode; Safe mode only tries the first rate
var probeLadder = []int{9600, 4800, 19200, 38400, 57600, 115200}

type detector struct {
	list lister
	open opener
}

// New creates a serial port detector
func New() detection.Detector {
	return &detector{list: getSerialPorts, open: openSerial}
}

func init() {
	detection.RegisterDetector(New())
}

func openSerial(path string, baud int) (port, error) {
	return serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// Detect lists serial ports and, unless opts.Mode is Passive, probes each
// one with a NOP frame
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	devices := make([]detection.DeviceInfo, 0, len(ports))
	for _, p := range ports {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(p.Path, opts.IgnorePaths) || detection.IsBlocked(p.VIDPID, opts.Blocklist) {
			continue
		}

		device := describe(p)
		if opts.Mode != detection.Passive {
			if baud, ok := d.probe(ctx, p.Path, opts); ok {
				device.Confidence = detection.High
				device.BaudRate = baud
			}
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func describe(p serialPort) detection.DeviceInfo {
	name := p.Name
	if name == "" {
		name = p.Path
	}
	if p.Product != "" {
		name = fmt.Sprintf("%s (%s)", p.Product, p.Path)
	}

	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       p.Path,
		Name:       name,
		Confidence: detection.Low,
		Metadata:   map[string]string{},
	}
	if p.VIDPID != "" {
		device.Metadata["vidpid"] = p.VIDPID
		if vendor, ok := bridges[strings.SplitN(p.VIDPID, ":", 2)[0]]; ok {
			device.Confidence = detection.Medium
			device.Metadata["bridge"] = vendor
		}
	}
	if p.Manufacturer != "" {
		device.Metadata["manufacturer"] = p.Manufacturer
	}
	if p.SerialNumber != "" {
		device.Metadata["serial"] = p.SerialNumber
	}
	return device
}

// probe sends a NOP at each candidate rate and reports the first rate that
// produced a frame with a valid checksum
func (d *detector) probe(ctx context.Context, path string, opts *detection.Options) (int, bool) {
	ladder := probeLadder[:1]
	if opts.Mode == detection.Full {
		ladder = probeLadder
	}

	for _, baud := range ladder {
		if ctx.Err() != nil {
			return 0, false
		}
		ok, err := d.probeAt(path, baud, opts.ProbeTimeout)
		if err != nil {
			// port could not be opened; other rates will not help
			return 0, false
		}
		if ok {
			return baud, true
		}
	}
	return 0, false
}

func (d *detector) probeAt(path string, baud int, timeout time.Duration) (bool, error) {
	p, err := d.open(path, baud)
	if err != nil {
		return false, err
	}
	defer func() { _ = p.Close() }()

	_ = p.ResetInputBuffer()
	nop := frame.Encode(frame.Read, 0x00, 0)
	if _, err := p.Write(nop[:]); err != nil {
		return false, nil
	}

	reply := make([]byte, 0, frame.Size)
	buf := make([]byte, frame.Size)
	deadline := time.Now().Add(timeout)
	for len(reply) < frame.Size {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := p.SetReadTimeout(remaining); err != nil {
			return false, nil
		}
		n, err := p.Read(buf[:frame.Size-len(reply)])
		if err != nil {
			return false, nil
		}
		reply = append(reply, buf[:n]...)
	}

	f, err := frame.FromBytes(reply)
	if err != nil {
		return false, nil
	}
	return f.Valid() && f.Register() == 0x00, nil
}

// fromEnumerator converts the cross-platform enumerator listing
func fromEnumerator() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]serialPort, 0, len(details))
	for _, detail := range details {
		p := serialPort{
			Path:         detail.Name,
			Name:         detail.Name,
			Product:      detail.Product,
			SerialNumber: detail.SerialNumber,
		}
		if detail.IsUSB {
			p.VIDPID = detection.FormatVIDPID(detail.VID, detail.PID)
		}
		ports = append(ports, p)
	}
	return ports, nil
}
