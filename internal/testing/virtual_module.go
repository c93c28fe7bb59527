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

import (
	"sync"

	"github.com/vsatuloori/go-itla/internal/frame"
)

var iocapRates = map[uint16]int{0: 9600, 1: 19200, 2: 38400, 3: 57600, 4: 115200}

// VirtualModule simulates the register file of an ITLA module for tests.
// It answers only when the host runs at the module's current rate.
type VirtualModule struct {
	registers map[byte]uint16
	strings   map[byte][]byte
	statuses  map[byte][]byte
	extended  []byte
	requests  []frame.Frame
	image     []byte
	dlconfig  []uint16
	baud      int
	corrupt   int
	busy      int
	mu        sync.Mutex
	silent    bool
	anyBaud   bool
}

// NewVirtualModule creates an idle module at 9600 baud with sample identity strings
func NewVirtualModule() *VirtualModule {
	v := &VirtualModule{
		registers: map[byte]uint16{
			RegNop:      0x0010,
			RegDlstatus: 0x0001,
			RegPower:    1000,
			RegFcf1:     193,
			RegFcf2:     4140,
			RegOop:      998,
		},
		strings:  make(map[byte][]byte),
		statuses: make(map[byte][]byte),
		baud:     9600,
	}
	v.strings[RegSerial] = []byte(TestSerial + "\x00")
	v.strings[RegMfgr] = []byte(TestManufacturer + "\x00")
	v.strings[RegModel] = []byte(TestModel + "\x00")
	v.strings[RegRelease] = []byte(TestRelease + "\x00")
	return v
}

// Handle processes one request frame received at hostBaud. ok is false when
// the module stays silent.
func (v *VirtualModule) Handle(req frame.Frame, hostBaud int) (reply frame.Frame, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.requests = append(v.requests, req)
	if v.silent || (!v.anyBaud && hostBaud != v.baud) || !req.Valid() {
		return frame.Frame{}, false
	}

	reg := req.Register()
	defer func() {
		if ok && v.corrupt > 0 {
			v.corrupt--
			reply[0] ^= 0x10
		}
	}()

	if queue := v.statuses[reg]; len(queue) > 0 {
		v.statuses[reg] = queue[1:]
		return BuildReply(queue[0], reg, v.registers[reg]), true
	}

	if !req.IsWrite() {
		return v.read(reg), true
	}
	return v.write(reg, req.Data()), true
}

func (v *VirtualModule) read(reg byte) frame.Frame {
	if reg == RegAeaEar {
		var hi, lo byte
		if len(v.extended) > 0 {
			hi, v.extended = v.extended[0], v.extended[1:]
		}
		if len(v.extended) > 0 {
			lo, v.extended = v.extended[0], v.extended[1:]
		}
		return BuildOK(reg, uint16(hi)<<8|uint16(lo))
	}
	if reg == RegNop && v.busy > 0 {
		v.busy--
		return BuildOK(reg, v.registers[reg]|0x0100)
	}
	if s, ok := v.strings[reg]; ok {
		v.extended = append([]byte(nil), s...)
		return BuildExtended(reg, len(s))
	}
	return BuildOK(reg, v.registers[reg])
}

func (v *VirtualModule) write(reg byte, data uint16) frame.Frame {
	switch reg {
	case RegIocap:
		if rate, ok := iocapRates[data>>4&0x0F]; ok {
			defer func() { v.baud = rate }()
		}
	case RegEar:
		v.image = append(v.image, byte(data>>8), byte(data))
	case RegDlconfig:
		v.dlconfig = append(v.dlconfig, data)
	}
	v.registers[reg] = data
	return BuildOK(reg, data)
}

// SetRegister sets a register value
func (v *VirtualModule) SetRegister(reg byte, value uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.registers[reg] = value
}

// Register returns a register value
func (v *VirtualModule) Register(reg byte) uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registers[reg]
}

// SetString makes reads of reg answer with an extended-address payload
func (v *VirtualModule) SetString(reg byte, payload []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.strings[reg] = append([]byte(nil), payload...)
}

// QueueStatus makes the next accesses of reg answer with the given statuses
// in order before normal handling resumes
func (v *VirtualModule) QueueStatus(reg byte, statuses ...byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses[reg] = append(v.statuses[reg], statuses...)
}

// SetBaudRate sets the rate the module listens at
func (v *VirtualModule) SetBaudRate(baud int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.baud = baud
}

// BaudRate returns the rate the module listens at
func (v *VirtualModule) BaudRate() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.baud
}

// AnswerAnyBaud makes the module ignore the host rate
func (v *VirtualModule) AnswerAnyBaud(enable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.anyBaud = enable
}

// SetSilent stops the module from answering
func (v *VirtualModule) SetSilent(silent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silent = silent
}

// CorruptNext flips a checksum bit in the next n replies
func (v *VirtualModule) CorruptNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corrupt = n
}

// SetBusy makes the next n NOP reads report a pending operation
func (v *VirtualModule) SetBusy(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.busy = n
}

// Requests returns every frame received so far
func (v *VirtualModule) Requests() []frame.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]frame.Frame(nil), v.requests...)
}

// Image returns the bytes written through Ear
func (v *VirtualModule) Image() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.image...)
}

// DlconfigWrites returns every value written to Dlconfig in order
func (v *VirtualModule) DlconfigWrites() []uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint16(nil), v.dlconfig...)
}
