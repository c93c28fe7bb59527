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


//go:build linux

package uart

import (
	"context"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// getSerialPorts lists serial ports the current user can open read-write
func getSerialPorts(_ context.Context) ([]serialPort, error) {
	ports, err := fromEnumerator()
	if err != nil || len(ports) == 0 {
		ports = globDevices()
	}

	accessible := ports[:0]
	for _, p := range ports {
		if !includeLinuxDevice(p.Path) {
			continue
		}
		if unix.Access(p.Path, unix.R_OK|unix.W_OK) != nil {
			continue
		}
		accessible = append(accessible, p)
	}
	return accessible, nil
}

// globDevices finds USB and ACM serial nodes without metadata
func globDevices() []serialPort {
	var ports []serialPort
	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/serial/by-id/*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			ports = append(ports, serialPort{Path: path, Name: filepath.Base(path)})
		}
	}
	return ports
}

// includeLinuxDevice skips virtual consoles and on-board UARTs with no
// hardware behind them
func includeLinuxDevice(path string) bool {
	name := filepath.Base(path)
	switch {
	case strings.HasPrefix(name, "ttyUSB"), strings.HasPrefix(name, "ttyACM"):
		return true
	case strings.HasPrefix(name, "ttyAMA"), strings.HasPrefix(name, "ttyS"):
		return name == "ttyAMA0" || name == "ttyS0"
	case strings.HasPrefix(path, "/dev/serial/"):
		return true
	default:
		return !isConsole(name)
	}
}

// isConsole matches virtual terminals such as tty1 and tty63
func isConsole(name string) bool {
	rest, ok := strings.CutPrefix(name, "tty")
	if !ok || rest == "" {
		return name == "tty"
	}
	return strings.Trim(rest, "0123456789") == ""
}
