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
	"errors"
	"fmt"

	"github.com/vsatuloori/go-itla/internal/frame"
)

// ErrorCode is the outcome attached to every register transaction.
// Values 0-3 mirror the status bits of a response frame; 4 and 5 are
// produced locally when a response never arrives or fails its checksum.
type ErrorCode uint8

const (
	NoError              ErrorCode = 0x00
	ExecutionError       ErrorCode = 0x01
	ExtendedAddressError ErrorCode = 0x02
	CommandPending       ErrorCode = 0x03
	NoResponse           ErrorCode = 0x04
	ChecksumError        ErrorCode = 0x05
)

// String returns the short vendor mnemonic for the code.
func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "OK"
	case ExecutionError:
		return "XE"
	case ExtendedAddressError:
		return "AEA"
	case CommandPending:
		return "CP"
	case NoResponse:
		return "NR"
	case ChecksumError:
		return "CS"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(c))
	}
}

// Err returns the sentinel error for the code, or nil for NoError.
func (c ErrorCode) Err() error {
	switch c {
	case NoError:
		return nil
	case ExecutionError:
		return ErrExecution
	case ExtendedAddressError:
		return ErrExtendedAddress
	case CommandPending:
		return ErrCommandPending
	case NoResponse:
		return ErrNoResponse
	case ChecksumError:
		return ErrChecksum
	default:
		return fmt.Errorf("unknown error code %d", uint8(c))
	}
}

// Link and protocol errors
var (
	// ErrPortOpen means the serial device could not be opened. Not retried.
	ErrPortOpen = errors.New("serial port could not be opened")
	// ErrBaudRate means no rate on the ladder produced a valid NOP reply.
	ErrBaudRate = errors.New("no baud rate produced a valid response")
	// ErrChecksum means a response frame failed its checksum nibble.
	ErrChecksum = frame.ErrChecksum
	// ErrNoResponse means fewer than four bytes arrived before the frame deadline.
	ErrNoResponse = errors.New("no response from module")
	// ErrExecution is the module's XE status.
	ErrExecution = errors.New("module reported execution error")
	// ErrExtendedAddress is the module's AEA status seen where no continuation applies.
	ErrExtendedAddress = errors.New("module reported extended address status")
	// ErrCommandPending is the module's CP status.
	ErrCommandPending = errors.New("module reported command pending")
	// ErrArbiterTimeout means a ticket never reached the head of the queue.
	ErrArbiterTimeout = errors.New("request refused from queue")
	// ErrExtendedAddressOverflow means the declared AEA length was over the limit.
	ErrExtendedAddressOverflow = errors.New("extended address length exceeds limit")
)

// Connection and usage errors
var (
	ErrClosed           = errors.New("connection closed")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrNotSupported     = errors.New("operation not supported by transport")
	ErrNotReady         = errors.New("module not ready")
)

// RegisterError describes a transaction that ended with a code other than
// NoError. Raw holds the response frame as received, which may still be
// worth inspecting after a checksum failure.
type RegisterError struct {
	Err      error
	Op       string
	Raw      frame.Frame
	Register Register
	Code     ErrorCode
}

func (e *RegisterError) Error() string {
	msg := fmt.Sprintf("%s register %s: %s (%v)", e.Op, e.Register, e.Code, e.Code.Err())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the sentinel for the error code and the underlying cause.
func (e *RegisterError) Unwrap() []error {
	errs := []error{e.Code.Err()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// CodeOf extracts the ErrorCode carried by err. Errors that are not register
// errors map to NoError when nil and ExecutionError otherwise, except for
// the checksum and no-response sentinels which keep their own codes.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var regErr *RegisterError
	if errors.As(err, &regErr) {
		return regErr.Code
	}
	switch {
	case errors.Is(err, ErrNoResponse):
		return NoResponse
	case errors.Is(err, ErrChecksum):
		return ChecksumError
	case errors.Is(err, ErrCommandPending):
		return CommandPending
	default:
		return ExecutionError
	}
}

// ErrorType represents different categories of errors
type ErrorType int

const (
	// ErrorTypePermanent indicates an error that won't be fixed by retrying
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient indicates a temporary error that might be fixed by retrying
	ErrorTypeTransient
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps a failure of the byte channel itself
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error with retryability derived from its type
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType != ErrorTypePermanent,
	}
}

// NewNoResponseError reports a missed per-frame deadline
func NewNoResponseError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrNoResponse, ErrorTypeTimeout)
}

// NewPortOpenError reports a port that could not be opened
func NewPortOpenError(port string, err error) *TransportError {
	return NewTransportError("open", port, fmt.Errorf("%w: %w", ErrPortOpen, err), ErrorTypePermanent)
}

// IsRetryable reports whether the caller may reasonably repeat the operation.
// Checksum and no-response outcomes are retryable; device-reported statuses,
// queue refusals and port failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrNoResponse),
		errors.Is(err, ErrChecksum),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrNotReady):
		return true
	default:
		return false
	}
}

// GetErrorType returns the error category
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	switch {
	case errors.Is(err, ErrNoResponse), errors.Is(err, ErrArbiterTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrChecksum), errors.Is(err, ErrTransportRead), errors.Is(err, ErrTransportWrite):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}
