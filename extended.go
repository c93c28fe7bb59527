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
	"fmt"

	"github.com/vsatuloori/go-itla/internal/frame"
	"go.uber.org/zap"
)

// ReadExtended drains count bytes from the extended-address register on its
// own arbiter turn. It is used after a caller has provoked an AEA reply by
// other means; Read already performs this continuation itself.
func (c *Conn) ReadExtended(ctx context.Context, count int) ([]byte, error) {
	if err := c.checkUsable(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	err := c.arbiter.DoContext(ctx, func(Ticket) error {
		var readErr error
		payload, readErr = c.readExtended(count)
		return readErr
	})
	return payload, err
}

// readExtended reads AeaEar until count bytes are assembled, two bytes per
// frame. The caller must hold the arbiter turn.
func (c *Conn) readExtended(count int) ([]byte, error) {
	if count > c.config.ExtendedLimit {
		c.logger.Warn("extended address length over limit",
			zap.Int("count", count), zap.Int("limit", c.config.ExtendedLimit))
		return []byte{}, &RegisterError{
			Op:       "read",
			Register: RegAeaEar,
			Code:     ExtendedAddressError,
			Err:      fmt.Errorf("%w: %d > %d", ErrExtendedAddressOverflow, count, c.config.ExtendedLimit),
		}
	}
	if count <= 0 {
		return []byte{}, nil
	}

	if hasCapability(c.transport, CapabilityInlineExtended) {
		if reader, ok := c.transport.(InlineExtendedReader); ok {
			if payload, ok := reader.TakeExtended(); ok {
				if len(payload) > count {
					payload = payload[:count]
				}
				return payload, nil
			}
		}
	}

	payload := make([]byte, 0, count)
	for remaining := count; remaining > 0; remaining -= 2 {
		resp, err := c.transfer("read", RegAeaEar, frame.Read, 0)
		if err != nil {
			return payload, err
		}
		if resp.Code != NoError {
			return payload, &RegisterError{Op: "read", Register: RegAeaEar, Code: resp.Code, Raw: resp.Raw}
		}
		payload = append(payload, resp.Raw[2])
		if remaining > 1 {
			payload = append(payload, resp.Raw[3])
		}
	}
	return payload, nil
}
