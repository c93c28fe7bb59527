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
	"fmt"
	"strconv"
	"strings"
)

// Register is an 8-bit register id in the module's MSA register map.
type Register uint8

// Register map. Ids are fixed by the module datasheet.
const (
	RegNop       Register = 0x00
	RegMfgr      Register = 0x02
	RegModel     Register = 0x03
	RegSerial    Register = 0x04
	RegRelease   Register = 0x06
	RegGencfg    Register = 0x08
	RegAeaEar    Register = 0x0B
	RegIocap     Register = 0x0D
	RegEar       Register = 0x10
	RegDlconfig  Register = 0x14
	RegDlstatus  Register = 0x15
	RegChannel   Register = 0x30
	RegPower     Register = 0x31
	RegResena    Register = 0x32
	RegGrid      Register = 0x34
	RegFcf1      Register = 0x35
	RegFcf2      Register = 0x36
	RegLf1       Register = 0x40
	RegLf2       Register = 0x41
	RegOop       Register = 0x42
	RegCtemp     Register = 0x43
	RegOpsl      Register = 0x50
	RegOpsh      Register = 0x51
	RegLfl1      Register = 0x52
	RegLfl2      Register = 0x53
	RegLfh1      Register = 0x54
	RegLfh2      Register = 0x55
	RegCurrents  Register = 0x57
	RegTemps     Register = 0x58
	RegFtf       Register = 0x62
	RegMode      Register = 0x90
	RegPW        Register = 0xE0
	RegCsweepAmp Register = 0xE4
	RegCsweepOn  Register = 0xE5
	RegCsweepOff Register = 0xE6
	RegCjumpTHz  Register = 0xEA
	RegCjumpGHz  Register = 0xEB
	RegCjumpSled Register = 0xEC
	RegCjumpOn   Register = 0xED
	RegCscanSled Register = 0xF0
	RegCscanF1   Register = 0xF1
	RegCscanF2   Register = 0xF2
)

var registerNames = map[Register]string{
	RegNop:       "NOP",
	RegMfgr:      "Mfgr",
	RegModel:     "Model",
	RegSerial:    "Serial",
	RegRelease:   "Release",
	RegGencfg:    "Gencfg",
	RegAeaEar:    "AeaEar",
	RegIocap:     "Iocap",
	RegEar:       "Ear",
	RegDlconfig:  "Dlconfig",
	RegDlstatus:  "Dlstatus",
	RegChannel:   "Channel",
	RegPower:     "Power",
	RegResena:    "Resena",
	RegGrid:      "Grid",
	RegFcf1:      "Fcf1",
	RegFcf2:      "Fcf2",
	RegLf1:       "Lf1",
	RegLf2:       "Lf2",
	RegOop:       "Oop",
	RegCtemp:     "Ctemp",
	RegOpsl:      "Opsl",
	RegOpsh:      "Opsh",
	RegLfl1:      "Lfl1",
	RegLfl2:      "Lfl2",
	RegLfh1:      "Lfh1",
	RegLfh2:      "Lfh2",
	RegCurrents:  "Currents",
	RegTemps:     "Temps",
	RegFtf:       "Ftf",
	RegMode:      "Mode",
	RegPW:        "PW",
	RegCsweepAmp: "CsweepAmp",
	RegCsweepOn:  "CsweepOn",
	RegCsweepOff: "CsweepOffset",
	RegCjumpTHz:  "CjumpTHz",
	RegCjumpGHz:  "CjumpGHz",
	RegCjumpSled: "CjumpSled",
	RegCjumpOn:   "CjumpOn",
	RegCscanSled: "CscanSled",
	RegCscanF1:   "CscanF1",
	RegCscanF2:   "CscanF2",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(r))
}

// ParseRegister accepts a register name such as "Power" (any case) or a
// number such as "0x31" or "49".
func ParseRegister(s string) (Register, error) {
	s = strings.TrimSpace(s)
	for reg, name := range registerNames {
		if strings.EqualFold(name, s) {
			return reg, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown register %q", ErrInvalidParameter, s)
	}
	return Register(n), nil
}

// Dlconfig bits used during a firmware download
const (
	DlconfigInitWrite = 0x0001
	DlconfigAbort     = 0x0002
	DlconfigDone      = 0x0004
	DlconfigInitCheck = 0x0010
	DlconfigInitRun   = 0x0020
	dlconfigTypeShift = 12
	dlconfigRunvShift = 8
)

// DlstatusValid is the low bit of Dlstatus, set once an image checks out.
const DlstatusValid = 0x0001

// Resena values
const (
	ResenaOff  = 0x0000
	ResenaSena = 0x0008
)

// Mode register values
const (
	ModeDither  = 0
	ModeWhisper = 2
)

// NopReady is the NOP register value of an idle, responsive module.
const NopReady = 0x10

// iocapBaudCodes maps link speeds to the Iocap bits 7:4 value.
var iocapBaudCodes = map[int]uint16{
	9600:   0x0,
	19200:  0x1,
	38400:  0x2,
	57600:  0x3,
	115200: 0x4,
}

// IocapForBaud returns the Iocap register value requesting the given rate.
func IocapForBaud(baud int) (uint16, error) {
	code, ok := iocapBaudCodes[baud]
	if !ok {
		return 0, fmt.Errorf("%w: baud rate %d has no Iocap code", ErrInvalidParameter, baud)
	}
	return code << 4, nil
}

// DlconfigInitWriteFor builds the init-write value for an image type.
func DlconfigInitWriteFor(imageType uint8) uint16 {
	return uint16(imageType&0x0F)<<dlconfigTypeShift | DlconfigInitWrite
}

// DlconfigRunFor builds the init-run value selecting a firmware version.
func DlconfigRunFor(runv uint8) uint16 {
	return uint16(runv&0x0F)<<dlconfigRunvShift | DlconfigInitRun
}
