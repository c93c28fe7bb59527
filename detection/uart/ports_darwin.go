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


package uart

import (
	"context"
	"path/filepath"
	"strings"
)

// getSerialPorts lists callout devices. The enumerator is tried first and
// /dev/cu.* globbing is the fallback.
func getSerialPorts(_ context.Context) ([]serialPort, error) {
	ports, err := fromEnumerator()
	if err != nil || len(ports) == 0 {
		ports = globCallout()
	}

	kept := ports[:0]
	for _, p := range ports {
		// tty.* blocks on open until carrier detect; use cu.*
		if strings.HasPrefix(p.Path, "/dev/tty.") {
			continue
		}
		if includeMacOSDevice(filepath.Base(p.Path)) {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func globCallout() []serialPort {
	matches, err := filepath.Glob("/dev/cu.*")
	if err != nil {
		return nil
	}
	ports := make([]serialPort, 0, len(matches))
	for _, path := range matches {
		ports = append(ports, serialPort{Path: path, Name: filepath.Base(path)})
	}
	return ports
}

// includeMacOSDevice drops Bluetooth and system ports
func includeMacOSDevice(name string) bool {
	lower := strings.ToLower(name)
	for _, skip := range []string{"bluetooth", "debug-console", "wlan", "console", "kernel"} {
		if strings.Contains(lower, skip) {
			return false
		}
	}
	return true
}
