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

// Package frame provides the 4-byte register frame codec used on the ITLA link
package frame

import (
	"errors"
	"fmt"
)

// Size is the length of every request and response frame.
const Size = 4

// Direction bits carried in the low bit of byte0 of a request.
const (
	Read  = 0
	Write = 1
)

// Status values carried in the low two bits of byte0 of a response.
const (
	StatusOK              = 0x00
	StatusExecutionError  = 0x01
	StatusExtendedAddress = 0x02
	StatusCommandPending  = 0x03
)

const (
	statusMask         = 0x03
	checksumShift      = 4
	lowNibble     byte = 0x0F
)

// ErrChecksum is returned by Decode when the checksum nibble does not match.
var ErrChecksum = errors.New("frame checksum mismatch")

// Frame is one unit of exchange: checksum+flags, register, data high, data low.
type Frame [Size]byte

// Reply is a decoded response frame.
type Reply struct {
	Data     uint16
	Status   byte
	Register byte
}

// Checksum computes the BIP-4 nibble over the four frame bytes. The top
// nibble of b0 is excluded since that is where the result is stored.
func Checksum(b0, b1, b2, b3 byte) byte {
	bip8 := (b0 & lowNibble) ^ b1 ^ b2 ^ b3
	return (bip8 >> 4) ^ (bip8 & lowNibble)
}

// Encode builds a request frame. Negative data is folded into the unsigned
// 16-bit range the way the device expects (data + 65536).
func Encode(rw byte, register byte, data int) Frame {
	if data < 0 {
		data += 0x10000
	}
	word := uint16(data & 0xFFFF)

	var f Frame
	f[0] = rw & 0x01
	f[1] = register
	f[2] = byte(word >> 8)
	f[3] = byte(word)
	f[0] |= Checksum(f[0], f[1], f[2], f[3]) << checksumShift
	return f
}

// Valid reports whether the checksum nibble of f matches its contents.
func (f Frame) Valid() bool {
	return Checksum(f[0], f[1], f[2], f[3]) == f[0]>>checksumShift
}

// Status returns the low two bits of byte0.
func (f Frame) Status() byte {
	return f[0] & statusMask
}

// Register returns byte1.
func (f Frame) Register() byte {
	return f[1]
}

// Data returns the big-endian 16-bit word carried in byte2 and byte3.
func (f Frame) Data() uint16 {
	return uint16(f[2])<<8 | uint16(f[3])
}

// IsWrite reports whether the rw bit is set.
func (f Frame) IsWrite() bool {
	return f[0]&0x01 == Write
}

// String formats the frame as four hex bytes.
func (f Frame) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X", f[0], f[1], f[2], f[3])
}

// Decode validates f and splits it into status, register and data. On a
// checksum mismatch the status bits are unreadable and ErrChecksum is
// returned together with the register and data as received.
func Decode(f Frame) (Reply, error) {
	reply := Reply{Register: f.Register(), Data: f.Data()}
	if !f.Valid() {
		return reply, ErrChecksum
	}
	reply.Status = f.Status()
	return reply, nil
}

// FromBytes copies the first Size bytes of b into a Frame.
func FromBytes(b []byte) (Frame, error) {
	var f Frame
	if len(b) < Size {
		return f, fmt.Errorf("short frame: %d bytes", len(b))
	}
	copy(f[:], b[:Size])
	return f, nil
}

// Filler is the byte written to push a desynchronised device to emit a frame.
const Filler byte = 0x00
