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

package testing

import "github.com/vsatuloori/go-itla/internal/frame"

// BuildReply creates a module reply frame with the given status bits
func BuildReply(status, register byte, data uint16) frame.Frame {
	f := frame.Frame{status & 0x03, register, byte(data >> 8), byte(data)}
	f[0] |= frame.Checksum(f[0], f[1], f[2], f[3]) << 4
	return f
}

// BuildOK creates a successful reply
func BuildOK(register byte, data uint16) frame.Frame {
	return BuildReply(frame.StatusOK, register, data)
}

// BuildExtended creates an AEA reply announcing count bytes
func BuildExtended(register byte, count int) frame.Frame {
	return BuildReply(frame.StatusExtendedAddress, register, uint16(count))
}

// BuildCorrupt creates a reply whose checksum nibble is wrong
func BuildCorrupt(register byte, data uint16) frame.Frame {
	f := BuildOK(register, data)
	f[0] ^= 0x10
	return f
}

// Register ids used by the simulated module
const (
	RegNop      = 0x00
	RegMfgr     = 0x02
	RegModel    = 0x03
	RegSerial   = 0x04
	RegRelease  = 0x06
	RegAeaEar   = 0x0B
	RegIocap    = 0x0D
	RegEar      = 0x10
	RegDlconfig = 0x14
	RegDlstatus = 0x15
	RegPower    = 0x31
	RegResena   = 0x32
	RegFcf1     = 0x35
	RegFcf2     = 0x36
	RegOop      = 0x42
	RegTemps    = 0x58
	RegMode     = 0x90
)

// Sample identity strings
const (
	TestSerial       = "CRTNB4R017"
	TestManufacturer = "Pure Photonics"
	TestModel        = "PPCL550"
	TestRelease      = "PPCL5xx-3.4.2"
)
