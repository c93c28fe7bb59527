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
	"context"
	"strings"

	"github.com/vsatuloori/go-itla/internal/frame"
	"go.uber.org/zap"
)

// Response is the outcome of one register transaction
type Response struct {
	// Payload holds the bytes assembled from an extended-address read
	Payload  []byte
	Raw      Frame
	Value    uint16
	Register Register
	Code     ErrorCode
	// Extended is true when the reply carried the AEA status and Payload
	// was filled by the continuation reads
	Extended bool
}

// Int16 returns the response value as a signed quantity
func (r *Response) Int16() int16 {
	return int16(r.Value)
}

// Text returns the extended payload as a printable string with padding and
// control bytes removed
func (r *Response) Text() string {
	return printable(r.Payload)
}

// printable keeps ASCII graphic characters and spaces and trims the result
func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			_ = sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// Read performs a register read. A reply with the AEA status is followed by
// extended-address reads on the same turn and the assembled bytes are
// returned in Payload.
func (c *Conn) Read(ctx context.Context, reg Register) (*Response, error) {
	return c.Transact(ctx, reg, frame.Read, 0)
}

// Write performs a register write
func (c *Conn) Write(ctx context.Context, reg Register, value int) (*Response, error) {
	return c.Transact(ctx, reg, frame.Write, value)
}

// Transact waits for the connection's turn and performs one request/reply
// exchange. The returned Response is non-nil whenever a frame was sent, even
// when err reports a non-OK code.
func (c *Conn) Transact(ctx context.Context, reg Register, rw byte, value int) (*Response, error) {
	if err := c.checkUsable(ctx); err != nil {
		return nil, err
	}

	var resp *Response
	err := c.arbiter.DoContext(ctx, func(Ticket) error {
		var txErr error
		resp, txErr = c.exchange(reg, rw, value)
		return txErr
	})
	return resp, err
}

// SendOnly writes a frame and discards whatever reply arrives within the
// response window. Only a failure to write is reported.
func (c *Conn) SendOnly(ctx context.Context, reg Register, value int) error {
	if err := c.checkUsable(ctx); err != nil {
		return err
	}

	return c.arbiter.DoContext(ctx, func(Ticket) error {
		req := frame.Encode(frame.Write, byte(reg), value)
		if err := c.transport.SendFrame(req); err != nil {
			return &RegisterError{Op: "send", Register: reg, Code: NoResponse, Err: err}
		}
		_, _ = c.transport.ReceiveFrame(c.config.ResponseTimeout)
		return nil
	})
}

// exchange performs one transaction. A read answered with the AEA status is
// continued through readExtended. The caller must hold the arbiter turn.
func (c *Conn) exchange(reg Register, rw byte, value int) (*Response, error) {
	op := "read"
	if rw == frame.Write {
		op = "write"
	}

	resp, err := c.transfer(op, reg, rw, value)
	if err != nil {
		return resp, err
	}

	if resp.Code == ExtendedAddressError && rw == frame.Read {
		resp.Extended = true
		payload, err := c.readExtended(int(resp.Value))
		resp.Payload = payload
		if err != nil {
			code := CodeOf(err)
			if code == NoError || code == ExecutionError {
				code = ExtendedAddressError
			}
			resp.Code = code
			return resp, &RegisterError{Op: op, Register: reg, Code: code, Raw: resp.Raw, Err: err}
		}
		resp.Code = NoError
		return resp, nil
	}

	if resp.Code != NoError {
		return resp, &RegisterError{Op: op, Register: reg, Code: resp.Code, Raw: resp.Raw}
	}
	return resp, nil
}

// transfer sends one frame and decodes the reply. Only transport and
// checksum failures are returned as errors; the reply status is left in
// resp.Code for the caller.
func (c *Conn) transfer(op string, reg Register, rw byte, value int) (*Response, error) {
	req := frame.Encode(rw, byte(reg), value)
	resp := &Response{Register: reg}

	if err := c.transport.SendFrame(req); err != nil {
		resp.Code = NoResponse
		c.logTransaction(req, resp)
		return resp, &RegisterError{Op: op, Register: reg, Code: NoResponse, Err: err}
	}

	raw, err := c.transport.ReceiveFrame(c.config.ResponseTimeout)
	if err != nil {
		resp.Code = NoResponse
		c.logTransaction(req, resp)
		return resp, &RegisterError{Op: op, Register: reg, Code: NoResponse, Err: err}
	}

	resp.Raw = raw
	reply, err := frame.Decode(raw)
	resp.Value = reply.Data
	if err != nil {
		resp.Code = ChecksumError
		c.logTransaction(req, resp)
		return resp, &RegisterError{Op: op, Register: reg, Code: ChecksumError, Raw: raw}
	}

	resp.Code = ErrorCode(reply.Status)
	c.logTransaction(req, resp)
	return resp, nil
}

func (c *Conn) logTransaction(req Frame, resp *Response) {
	if ce := c.logger.Check(zap.DebugLevel, "transaction"); ce != nil {
		ce.Write(
			zap.Stringer("register", resp.Register),
			zap.Stringer("request", req),
			zap.Stringer("response", resp.Raw),
			zap.Stringer("code", resp.Code),
		)
	}
}
