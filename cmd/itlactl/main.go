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


// Command itlactl talks to an ITLA tunable laser over a serial port or a
// CoBrite chassis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/hwctl"
	"github.com/vsatuloori/go-itla/internal/config"
	"github.com/vsatuloori/go-itla/internal/logging"
	"go.uber.org/zap"
)

var errUsage = errors.New("usage")

const usageText = `usage: itlactl [flags] <command> [args]

commands:
  detect [-mode passive|safe|full]   list candidate serial ports
  identify                           print manufacturer, model, serial, release
  status                             print NOP, setpoints and monitors
  read <register>                    read a register by name or number
  write <register> <value>           write a register
  on | off                           enable or disable the laser output
  freq [THz]                         read or set the frequency
  wavelength <nm>                    set the frequency from a wavelength
  power [dBm]                        read or set the power setpoint
  whisper | dither                   select the control mode
  upgrade [-salvage] <image>         download firmware
  monitor                            poll the link until interrupted
  reset [-pulse d]                   pulse the hardware reset line
  output on|off                      drive the hardware disable line
  srq [-wait d]                      wait for a service request

flags:
`

// app holds what every command needs
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	out          io.Writer
	open         func(ctx context.Context) (*itla.Conn, error)
	openHardware func() (*hwctl.Controller, error)
	auto         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(os.Stderr, "itlactl:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("itlactl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file (default: ./itla.yaml or ~/.config/itla/itla.yaml)")
	port := fs.String("port", "", "Serial port (e.g., /dev/ttyUSB0 or COM3)")
	transportKind := fs.String("transport", "", "Transport: uart or cobrite")
	auto := fs.Bool("auto", false, "Detect the serial port automatically")
	debug := fs.Bool("debug", false, "Log every register transaction")
	timeout := fs.Duration("timeout", 0, "Overall command timeout (0 for none)")
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *transportKind != "" {
		cfg.Serial.Transport = *transportKind
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	a := &app{cfg: cfg, logger: logger, out: stdout, auto: *auto}
	a.open = a.connect
	a.openHardware = func() (*hwctl.Controller, error) {
		if !cfg.HasHardware() {
			return nil, errors.New("no hardware pins configured")
		}
		return hwctl.Open(cfg.Pins(), hwctl.WithLogger(logger))
	}

	err = a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
	if errors.Is(err, errUsage) {
		fs.Usage()
	}
	return err
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

// withConn opens a connection for the duration of fn
func (a *app) withConn(ctx context.Context, fn func(*itla.Conn) error) error {
	conn, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}()
	return fn(conn)
}

// withHardware opens the control lines for the duration of fn
func (a *app) withHardware(fn func(*hwctl.Controller) error) error {
	hw, err := a.openHardware()
	if err != nil {
		return err
	}
	defer func() { _ = hw.Close() }()
	return fn(hw)
}

// sinceMillis formats an elapsed time for progress output
func sinceMillis(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
