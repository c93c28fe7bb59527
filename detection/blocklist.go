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


package detection

import (
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB VID:PID pairs that are never probed. Probing
// writes a NOP frame at 9600 baud, which some devices misinterpret.
func DefaultBlocklist() []string {
	return []string{
		"1366:0105", // SEGGER J-Link CDC UART, shares the bus with debug probes
		"0D28:0204", // ARM DAPLink CMSIS-DAP virtual COM port
	}
}

// IsBlocked reports whether vidpid is in the blocklist. Comparison is
// case-insensitive.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}
	for _, blocked := range blocklist {
		if strings.ToUpper(strings.TrimSpace(blocked)) == vidpid {
			return true
		}
	}
	return false
}

// FormatVIDPID joins vendor and product IDs as upper-case VID:PID. It
// returns "" unless both are hex.
func FormatVIDPID(vid, pid string) string {
	vid = strings.ToUpper(strings.TrimPrefix(strings.ToLower(vid), "0x"))
	pid = strings.ToUpper(strings.TrimPrefix(strings.ToLower(pid), "0x"))
	if !isHex(vid) || !isHex(pid) {
		return ""
	}
	return vid + ":" + pid
}

// ParseVIDPID extracts VID:PID from descriptors such as "VID:1234 PID:5678",
// "vendor=1234 product=5678", "USB\VID_1234&PID_5678" or "1234:5678".
func ParseVIDPID(descriptor string) string {
	descriptor = strings.ToUpper(descriptor)

	vid := afterAny(descriptor, "VID:", "VID_", "VID=", "VENDOR=")
	pid := afterAny(descriptor, "PID:", "PID_", "PID=", "PRODUCT=")
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	if parts := strings.Split(descriptor, ":"); len(parts) == 2 && isHex(parts[0]) && isHex(parts[1]) {
		return descriptor
	}
	return ""
}

// afterAny returns the hex run following the first marker found
func afterAny(s string, markers ...string) string {
	for _, marker := range markers {
		if idx := strings.Index(s, marker); idx >= 0 {
			return extractHex(s[idx+len(marker):])
		}
	}
	return ""
}

// extractHex returns the leading run of upper-case hex digits
func extractHex(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && (r < 'A' || r > 'F')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// IsPathIgnored reports whether devicePath matches an entry of ignorePaths
// after cleaning and case folding.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalized := normalizedPath(devicePath)
	for _, ignore := range ignorePaths {
		if ignore == "" {
			continue
		}
		if ignore == devicePath || normalizedPath(ignore) == normalized {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
