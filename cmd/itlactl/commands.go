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


package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/detection"
	"github.com/vsatuloori/go-itla/hwctl"
	"github.com/vsatuloori/go-itla/monitor"
)

const (
	whisperAttempts = 5
	whisperInterval = 500 * time.Millisecond
)

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "detect":
		return a.detect(ctx, args)
	case "identify":
		return a.withConn(ctx, func(c *itla.Conn) error { return a.identify(ctx, c) })
	case "status":
		return a.withConn(ctx, func(c *itla.Conn) error { return a.status(ctx, c) })
	case "read":
		return a.read(ctx, args)
	case "write":
		return a.write(ctx, args)
	case "on":
		return a.withConn(ctx, func(c *itla.Conn) error { return c.LaserOn(ctx) })
	case "off":
		return a.withConn(ctx, func(c *itla.Conn) error { return c.LaserOff(ctx) })
	case "freq":
		return a.frequency(ctx, args)
	case "wavelength":
		return a.wavelength(ctx, args)
	case "power":
		return a.power(ctx, args)
	case "whisper":
		return a.withConn(ctx, func(c *itla.Conn) error {
			return c.SetWhisperMode(ctx, whisperAttempts, whisperInterval)
		})
	case "dither":
		return a.withConn(ctx, func(c *itla.Conn) error { return c.SetDitherMode(ctx) })
	case "upgrade":
		return a.upgrade(ctx, args)
	case "monitor":
		return a.withConn(ctx, func(c *itla.Conn) error { return a.monitor(ctx, c) })
	case "reset":
		return a.reset(ctx, args)
	case "output":
		return a.output(args)
	case "srq":
		return a.serviceRequest(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (a *app) detect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	mode := fs.String("mode", "safe", "passive, safe or full")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	opts := detection.DefaultOptions()
	switch *mode {
	case "passive":
		opts.Mode = detection.Passive
	case "safe":
		opts.Mode = detection.Safe
	case "full":
		opts.Mode = detection.Full
	default:
		return fmt.Errorf("%w: unknown mode %q", errUsage, *mode)
	}

	devices, err := detection.DetectAllContext(ctx, &opts)
	if err != nil {
		return err
	}
	for _, d := range devices {
		a.printf("%-24s %-7s %-6s %s\n", d.Path, d.Transport, d.Confidence, d.Name)
	}
	return nil
}

func (a *app) identify(ctx context.Context, c *itla.Conn) error {
	id, err := c.Identify(ctx)
	if err != nil {
		return err
	}
	a.printf("manufacturer: %s\nmodel:        %s\nserial:       %s\nrelease:      %s\n",
		id.Manufacturer, id.Model, id.Serial, id.Release)
	return nil
}

func (a *app) status(ctx context.Context, c *itla.Conn) error {
	nop, err := c.Nop(ctx)
	if err != nil {
		return err
	}
	a.printf("nop:          0x%04X (ready=%t)\n", nop, nop&itla.NopReady != 0)
	a.printf("baud:         %d\n", c.BaudRate())

	readings := []struct {
		read func(context.Context) (decimal.Decimal, error)
		name string
		unit string
	}{
		{c.Frequency, "frequency", "THz"},
		{c.Power, "power", "dBm"},
		{c.OutputPower, "output power", "dBm"},
		{c.CaseTemperature, "case temp", "C"},
	}
	for _, r := range readings {
		v, err := r.read(ctx)
		if err != nil {
			a.printf("%-13s error: %v\n", r.name+":", err)
			continue
		}
		a.printf("%-13s %s %s\n", r.name+":", v.String(), r.unit)
	}

	if temps, err := c.Temperatures(ctx); err == nil {
		a.printf("temperatures: %s C\n", joinDecimals(temps))
	}
	if currents, err := c.Currents(ctx); err == nil {
		a.printf("currents:     %s mA\n", joinDecimals(currents))
	}
	return nil
}

func joinDecimals(values []decimal.Decimal) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func (a *app) read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: read <register>", errUsage)
	}
	reg, err := itla.ParseRegister(args[0])
	if err != nil {
		return err
	}

	return a.withConn(ctx, func(c *itla.Conn) error {
		resp, err := c.Read(ctx, reg)
		if err != nil {
			return err
		}
		a.printResponse(resp)
		return nil
	})
}

func (a *app) write(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: write <register> <value>", errUsage)
	}
	reg, err := itla.ParseRegister(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.ParseInt(args[1], 0, 32)
	if err != nil || value < -0x8000 || value > 0xFFFF {
		return fmt.Errorf("%w: value %q out of range", itla.ErrInvalidParameter, args[1])
	}

	return a.withConn(ctx, func(c *itla.Conn) error {
		resp, err := c.Write(ctx, reg, int(value))
		if err != nil {
			return err
		}
		a.printResponse(resp)
		return nil
	})
}

func (a *app) printResponse(resp *itla.Response) {
	if resp.Extended {
		a.printf("%s: %q (% X)\n", resp.Register, resp.Text(), resp.Payload)
		return
	}
	a.printf("%s: 0x%04X (%d)\n", resp.Register, resp.Value, resp.Int16())
}

func (a *app) frequency(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: freq [THz]", errUsage)
	}
	return a.withConn(ctx, func(c *itla.Conn) error {
		if len(args) == 0 {
			thz, err := c.Frequency(ctx)
			if err != nil {
				return err
			}
			a.printf("%s THz\n", thz)
			return nil
		}

		thz, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("%w: frequency %q", itla.ErrInvalidParameter, args[0])
		}
		set, err := c.SetFrequency(ctx, thz)
		if err != nil {
			return err
		}
		a.printf("%s THz\n", set)
		return nil
	})
}

func (a *app) wavelength(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: wavelength <nm>", errUsage)
	}
	nm, err := decimal.NewFromString(strings.TrimSuffix(args[0], "nm"))
	if err != nil {
		return fmt.Errorf("%w: wavelength %q", itla.ErrInvalidParameter, args[0])
	}
	thz, err := itla.WavelengthToFrequency(nm)
	if err != nil {
		return err
	}
	return a.frequency(ctx, []string{thz.String()})
}

func (a *app) power(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: power [dBm]", errUsage)
	}
	return a.withConn(ctx, func(c *itla.Conn) error {
		if len(args) == 0 {
			dBm, err := c.Power(ctx)
			if err != nil {
				return err
			}
			a.printf("%s dBm\n", dBm)
			return nil
		}

		dBm, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("%w: power %q", itla.ErrInvalidParameter, args[0])
		}
		set, err := c.SetPower(ctx, dBm)
		if err != nil {
			return err
		}
		a.printf("%s dBm\n", set)
		return nil
	})
}

func (a *app) upgrade(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upgrade", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	salvage := fs.Bool("salvage", false, "Module is unresponsive; skip pre-upgrade checks")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: upgrade [-salvage] <image>", errUsage)
	}

	image, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	opts := a.cfg.UpgradeOptions()
	opts = append(opts, itla.WithUpgradeProgress(a.progressPrinter()))
	if *salvage {
		opts = append(opts, itla.WithSalvage())
	}

	return a.withConn(ctx, func(c *itla.Conn) error {
		result, err := c.UpgradeFirmware(ctx, image, opts...)
		if err != nil {
			var upErr *itla.UpgradeError
			if errors.As(err, &upErr) {
				return fmt.Errorf("upgrade failed while %s: %w", upErr.State, err)
			}
			return err
		}
		a.printf("upgraded %s: %d bytes in %s\n", result.Serial, result.BytesSent, sinceMillis(result.Duration))
		return nil
	})
}

// progressPrinter reports state changes and every tenth of the stream
func (a *app) progressPrinter() itla.UpgradeProgressCallback {
	lastState := itla.UpgradeIdle
	lastDecile := -1
	return func(p itla.UpgradeProgress) {
		if p.State != lastState {
			lastState = p.State
			a.printf("%-10s %s\n", p.State, sinceMillis(p.ElapsedTime))
		}
		if p.State != itla.UpgradeStreaming {
			return
		}
		if decile := int(p.Percentage / 10); decile != lastDecile {
			lastDecile = decile
			a.printf("  %5.1f%% %d/%d bytes\n", p.Percentage, p.BytesSent, p.TotalBytes)
		}
	}
}

func (a *app) monitor(ctx context.Context, c *itla.Conn) error {
	m := monitor.New(c, a.cfg.MonitorConfig(), monitor.Callbacks{
		OnLinkLost: func(err error) {
			a.printf("%s link lost: %v\n", time.Now().Format(time.TimeOnly), err)
		},
		OnLinkRestored: func(nop uint16) {
			a.printf("%s link up (nop=0x%04X)\n", time.Now().Format(time.TimeOnly), nop)
		},
	}, monitor.WithLogger(a.logger))

	err := m.Run(ctx)
	metrics := m.Metrics()
	a.printf("polls=%d errors=%d losses=%d\n", metrics.PollCycles, metrics.PollErrors, metrics.LinkLosses)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (a *app) reset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	pulse := fs.Duration("pulse", hwctl.DefaultResetPulse, "How long RST is held low")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return a.withHardware(func(hw *hwctl.Controller) error {
		return hw.Reset(ctx, *pulse)
	})
}

func (a *app) output(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("%w: output on|off", errUsage)
	}
	return a.withHardware(func(hw *hwctl.Controller) error {
		return hw.SetOutputEnabled(args[0] == "on")
	})
}

func (a *app) serviceRequest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("srq", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	wait := fs.Duration("wait", 0, "How long to wait for SRQ")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return a.withHardware(func(hw *hwctl.Controller) error {
		asserted := hw.ServiceRequested()
		if !asserted && *wait > 0 {
			var err error
			if asserted, err = hw.WaitServiceRequest(ctx, *wait); err != nil {
				return err
			}
		}
		a.printf("service request: %t\n", asserted)
		return nil
	})
}
