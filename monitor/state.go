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


package monitor

import (
	"fmt"
	"time"
)

// LinkState is the monitor's view of the module link
type LinkState int

const (
	// LinkUnknown is the state before the first poll
	LinkUnknown LinkState = iota
	// LinkUp means the last poll got a valid NOP reply
	LinkUp
	// LinkDown means LostAfter consecutive polls failed
	LinkDown
)

// String returns the state name
func (s LinkState) String() string {
	switch s {
	case LinkUnknown:
		return "unknown"
	case LinkUp:
		return "up"
	case LinkDown:
		return "down"
	default:
		return fmt.Sprintf("link(%d)", int(s))
	}
}

// Status is a snapshot of the link
type Status struct {
	LastSeen  time.Time
	LastError error
	State     LinkState
	Failures  int
	// LastNop is the most recent NOP register value
	LastNop uint16
}

// Ready reports whether the last NOP carried the module-ready bit
func (s Status) Ready() bool {
	return s.State == LinkUp && s.LastNop&0x10 != 0
}

// Pending reports whether the last NOP showed a command still running
func (s Status) Pending() bool {
	return s.State == LinkUp && s.LastNop&0xFF00 != 0
}

// recordSuccess returns true when the link came up
func (s *Status) recordSuccess(nop uint16, now time.Time) bool {
	was := s.State
	s.State = LinkUp
	s.LastNop = nop
	s.LastSeen = now
	s.LastError = nil
	s.Failures = 0
	return was != LinkUp
}

// recordFailure returns true when the link went down
func (s *Status) recordFailure(err error, lostAfter int) bool {
	s.Failures++
	s.LastError = err
	if s.State != LinkDown && s.Failures >= lostAfter {
		s.State = LinkDown
		return true
	}
	return false
}
