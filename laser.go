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
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsatuloori/go-itla/internal/transport"
	"go.uber.org/zap"
)

var (
	// speedOfLight in m/s
	speedOfLight = decimal.NewFromInt(299792458)
	// fineScale is the number of Fcf2 steps per THz (100 MHz steps)
	fineScale = decimal.NewFromInt(10000)
	// powerScale is the number of Power register steps per dBm
	powerScale = decimal.NewFromInt(100)
)

// Limits is the operating envelope enforced by the setpoint helpers.
// Frequencies are in THz and powers in dBm.
type Limits struct {
	MinFrequency decimal.Decimal
	MaxFrequency decimal.Decimal
	MinPower     decimal.Decimal
	MaxPower     decimal.Decimal
}

// DefaultLimits returns the C-band envelope of a typical PPCL550 module
func DefaultLimits() Limits {
	return Limits{
		MinFrequency: decimal.RequireFromString("191.50"),
		MaxFrequency: decimal.RequireFromString("196.25"),
		MinPower:     decimal.RequireFromString("6.00"),
		MaxPower:     decimal.RequireFromString("17.00"),
	}
}

// WavelengthToFrequency converts a wavelength in nm to a frequency in THz,
// rounded to 1 GHz
func WavelengthToFrequency(nm decimal.Decimal) (decimal.Decimal, error) {
	if !nm.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: wavelength %s nm", ErrInvalidParameter, nm)
	}
	// c / (nm * 1e-9) / 1e12 == c / (nm * 1e3)
	return speedOfLight.Div(nm.Shift(3)).Round(3), nil
}

// FrequencyToWavelength converts a frequency in THz to a wavelength in nm,
// rounded to 1 pm
func FrequencyToWavelength(thz decimal.Decimal) (decimal.Decimal, error) {
	if !thz.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: frequency %s THz", ErrInvalidParameter, thz)
	}
	return speedOfLight.Div(thz.Shift(3)).Round(3), nil
}

// Nop reads the NOP register
func (c *Conn) Nop(ctx context.Context) (uint16, error) {
	resp, err := c.Read(ctx, RegNop)
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// IsReady reports whether NOP reads back as an idle module
func (c *Conn) IsReady(ctx context.Context) (bool, error) {
	nop, err := c.Nop(ctx)
	if err != nil {
		return false, err
	}
	return nop == NopReady, nil
}

// WaitReady polls NOP with backoff until the module reports ready
func (c *Conn) WaitReady(ctx context.Context, config *RetryConfig) error {
	return RetryWithConfig(ctx, config, func() error {
		ready, err := c.IsReady(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return ErrNotReady
		}
		return nil
	})
}

// LaserOn enables the optical output
func (c *Conn) LaserOn(ctx context.Context) error {
	_, err := c.Write(ctx, RegResena, ResenaSena)
	return err
}

// LaserOff disables the optical output
func (c *Conn) LaserOff(ctx context.Context) error {
	_, err := c.Write(ctx, RegResena, ResenaOff)
	return err
}

// Frequency reads the first-channel frequency in THz
func (c *Conn) Frequency(ctx context.Context) (decimal.Decimal, error) {
	thz, err := c.Read(ctx, RegFcf1)
	if err != nil {
		return decimal.Zero, err
	}
	fine, err := c.Read(ctx, RegFcf2)
	if err != nil {
		return decimal.Zero, err
	}
	return joinFrequency(thz.Value, fine.Value), nil
}

// SetFrequency writes the first-channel frequency and returns the value
// echoed by the module
func (c *Conn) SetFrequency(ctx context.Context, thz decimal.Decimal) (decimal.Decimal, error) {
	limits := c.config.Limits
	if thz.LessThan(limits.MinFrequency) || thz.GreaterThan(limits.MaxFrequency) {
		return decimal.Zero, fmt.Errorf("%w: frequency %s THz outside [%s, %s]",
			ErrInvalidParameter, thz, limits.MinFrequency, limits.MaxFrequency)
	}

	whole, fine := splitFrequency(thz)
	respTHz, err := c.Write(ctx, RegFcf1, whole)
	if err != nil {
		return decimal.Zero, err
	}
	respFine, err := c.Write(ctx, RegFcf2, fine)
	if err != nil {
		return decimal.Zero, err
	}

	got := joinFrequency(respTHz.Value, respFine.Value)
	c.logger.Debug("frequency set", zap.Stringer("requested", thz), zap.Stringer("echoed", got))
	return got, nil
}

// splitFrequency returns whole THz and the remainder in 100 MHz steps
func splitFrequency(thz decimal.Decimal) (int, int) {
	whole := thz.Floor()
	fine := thz.Sub(whole).Mul(fineScale).Round(0)
	return int(whole.IntPart()), int(fine.IntPart())
}

func joinFrequency(thz, fine uint16) decimal.Decimal {
	return decimal.NewFromInt(int64(thz)).Add(decimal.NewFromInt(int64(fine)).Div(fineScale))
}

// Power reads the optical power setpoint in dBm
func (c *Conn) Power(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.Read(ctx, RegPower)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(resp.Int16()), -2), nil
}

// OutputPower reads the measured optical output power in dBm
func (c *Conn) OutputPower(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.Read(ctx, RegOop)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(resp.Int16()), -2), nil
}

// SetPower writes the optical power setpoint in dBm
func (c *Conn) SetPower(ctx context.Context, dBm decimal.Decimal) (decimal.Decimal, error) {
	limits := c.config.Limits
	if dBm.LessThan(limits.MinPower) || dBm.GreaterThan(limits.MaxPower) {
		return decimal.Zero, fmt.Errorf("%w: power %s dBm outside [%s, %s]",
			ErrInvalidParameter, dBm, limits.MinPower, limits.MaxPower)
	}

	raw := dBm.Mul(powerScale).Round(0).IntPart()
	resp, err := c.Write(ctx, RegPower, int(raw))
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(resp.Int16()), -2), nil
}

// CaseTemperature reads the module case temperature in degrees C
func (c *Conn) CaseTemperature(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.Read(ctx, RegCtemp)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(resp.Int16()), -2), nil
}

// Temperatures reads the module's temperature monitors in degrees C
func (c *Conn) Temperatures(ctx context.Context) ([]decimal.Decimal, error) {
	return c.readScaledWords(ctx, RegTemps, -2)
}

// Currents reads the module's current monitors in mA
func (c *Conn) Currents(ctx context.Context) ([]decimal.Decimal, error) {
	return c.readScaledWords(ctx, RegCurrents, -1)
}

func (c *Conn) readScaledWords(ctx context.Context, reg Register, exp int32) ([]decimal.Decimal, error) {
	resp, err := c.Read(ctx, reg)
	if err != nil {
		return nil, err
	}
	if !resp.Extended {
		return []decimal.Decimal{decimal.New(int64(resp.Int16()), exp)}, nil
	}
	words := SplitWords(resp.Payload)
	out := make([]decimal.Decimal, len(words))
	for i, w := range words {
		out[i] = decimal.New(int64(int16(w)), exp)
	}
	return out, nil
}

// SplitWords splits an extended payload into big-endian 16-bit words. A
// trailing odd byte is dropped.
func SplitWords(payload []byte) []uint16 {
	words := make([]uint16, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		words = append(words, uint16(payload[i])<<8|uint16(payload[i+1]))
	}
	return words
}

// SetWhisperMode selects the low-noise whisper mode, re-reading the Mode
// register up to attempts times until it reports the mode
func (c *Conn) SetWhisperMode(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	_, err := transport.WithRetry(transport.RetryConfig{
		MaxRetries:  attempts - 1,
		RetryDelay:  interval,
		Description: "whisper mode not confirmed",
	}, func() (struct{}, bool, error) {
		resp, err := c.Read(ctx, RegMode)
		if err != nil && !IsRetryable(err) {
			return struct{}{}, false, err
		}
		if err == nil && resp.Value == ModeWhisper {
			return struct{}{}, false, nil
		}
		c.logger.Debug("whisper mode not active, requesting it")
		if _, err := c.Write(ctx, RegMode, ModeWhisper); err != nil && !IsRetryable(err) {
			return struct{}{}, false, err
		}
		return struct{}{}, true, nil
	})
	return err
}

// SetDitherMode selects the dither control mode
func (c *Conn) SetDitherMode(ctx context.Context) error {
	resp, err := c.Write(ctx, RegMode, ModeDither)
	if err != nil {
		return err
	}
	if resp.Value != ModeDither {
		return fmt.Errorf("%w: mode register echoed %d", ErrExecution, resp.Value)
	}
	return nil
}

// SerialNumber reads the module serial number
func (c *Conn) SerialNumber(ctx context.Context) (string, error) {
	return c.readText(ctx, RegSerial)
}

// Manufacturer reads the manufacturer string
func (c *Conn) Manufacturer(ctx context.Context) (string, error) {
	return c.readText(ctx, RegMfgr)
}

// Model reads the model string
func (c *Conn) Model(ctx context.Context) (string, error) {
	return c.readText(ctx, RegModel)
}

// Release reads the firmware release string
func (c *Conn) Release(ctx context.Context) (string, error) {
	return c.readText(ctx, RegRelease)
}

// Identity groups the module's identification strings
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Release      string
}

// Identify reads every identification string
func (c *Conn) Identify(ctx context.Context) (*Identity, error) {
	var id Identity
	fields := []struct {
		dst *string
		reg Register
	}{
		{&id.Manufacturer, RegMfgr},
		{&id.Model, RegModel},
		{&id.Serial, RegSerial},
		{&id.Release, RegRelease},
	}
	for _, f := range fields {
		s, err := c.readText(ctx, f.reg)
		if err != nil {
			return nil, err
		}
		*f.dst = s
	}
	return &id, nil
}

func (c *Conn) readText(ctx context.Context, reg Register) (string, error) {
	resp, err := c.Read(ctx, reg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
