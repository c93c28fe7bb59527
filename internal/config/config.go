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


// Package config loads itlactl settings from a YAML file and ITLA_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/hwctl"
	"github.com/vsatuloori/go-itla/monitor"
)

// EnvPrefix is prepended to environment overrides, e.g. ITLA_SERIAL_PORT
const EnvPrefix = "ITLA"

// Transport kinds accepted in serial.transport
const (
	TransportUART    = "uart"
	TransportCoBrite = "cobrite"
)

// Config is the complete itlactl configuration
type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Hardware HardwareConfig `mapstructure:"hardware"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Timing   TimingConfig   `mapstructure:"timing"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// SerialConfig selects the port and transport
type SerialConfig struct {
	Port       string `mapstructure:"port"`
	Transport  string `mapstructure:"transport"`
	BaudLadder []int  `mapstructure:"baud_ladder"`
	BaudRate   int    `mapstructure:"baud_rate"`
	Slot       int    `mapstructure:"slot"`
	Quiet      bool   `mapstructure:"quiet"`
	Negotiate  bool   `mapstructure:"negotiate"`
}

// TimingConfig holds protocol timeouts
type TimingConfig struct {
	QueueTimeout    time.Duration `mapstructure:"queue_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	PendingInterval time.Duration `mapstructure:"pending_interval"`
	PendingTimeout  time.Duration `mapstructure:"pending_timeout"`
}

// LimitsConfig is the operating envelope. Values are decimal strings so
// they round-trip exactly.
type LimitsConfig struct {
	MinFrequency string `mapstructure:"min_frequency"`
	MaxFrequency string `mapstructure:"max_frequency"`
	MinPower     string `mapstructure:"min_power"`
	MaxPower     string `mapstructure:"max_power"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// HardwareConfig names the GPIO lines wired to the module
type HardwareConfig struct {
	ResetPin          string `mapstructure:"reset_pin"`
	DisablePin        string `mapstructure:"disable_pin"`
	ServiceRequestPin string `mapstructure:"service_request_pin"`
}

// MonitorConfig controls the link monitor
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	DownInterval time.Duration `mapstructure:"down_interval"`
	LostAfter    int           `mapstructure:"lost_after"`
}

// Load reads path, or itla.yaml from the working directory and
// $HOME/.config/itla when path is empty, then applies ITLA_ environment
// overrides. A missing file is only an error when path was given.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("itla")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/itla")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.transport", TransportUART)
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.baud_ladder", itla.DefaultBaudLadder)
	v.SetDefault("serial.slot", 1)
	v.SetDefault("serial.quiet", false)
	v.SetDefault("serial.negotiate", true)

	v.SetDefault("timing.queue_timeout", itla.DefaultQueueTimeout)
	v.SetDefault("timing.response_timeout", itla.DefaultResponseTimeout)
	v.SetDefault("timing.pending_interval", itla.DefaultPendingInterval)
	v.SetDefault("timing.pending_timeout", itla.DefaultPendingTimeout)

	limits := itla.DefaultLimits()
	v.SetDefault("limits.min_frequency", limits.MinFrequency.String())
	v.SetDefault("limits.max_frequency", limits.MaxFrequency.String())
	v.SetDefault("limits.min_power", limits.MinPower.String())
	v.SetDefault("limits.max_power", limits.MaxPower.String())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("hardware.reset_pin", "")
	v.SetDefault("hardware.disable_pin", "")
	v.SetDefault("hardware.service_request_pin", "")

	mon := monitor.DefaultConfig()
	v.SetDefault("monitor.interval", mon.PollInterval)
	v.SetDefault("monitor.down_interval", mon.DownInterval)
	v.SetDefault("monitor.lost_after", mon.LostAfter)
}

// Validate checks values that the library would otherwise reject later
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{TransportUART, TransportCoBrite}, c.Serial.Transport) {
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Serial.Transport))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud rate must be positive, got %d", c.Serial.BaudRate))
	}
	if len(c.Serial.BaudLadder) == 0 {
		errs = append(errs, errors.New("baud ladder is empty"))
	}
	if c.Serial.Slot < 1 {
		errs = append(errs, fmt.Errorf("chassis slot must be at least 1, got %d", c.Serial.Slot))
	}
	if c.Timing.ResponseTimeout <= 0 || c.Timing.QueueTimeout <= 0 {
		errs = append(errs, errors.New("queue and response timeouts must be positive"))
	}
	if _, err := c.Limits.Parse(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Parse converts the limits to decimals
func (l LimitsConfig) Parse() (itla.Limits, error) {
	var limits itla.Limits
	var errs []error
	for _, f := range []struct {
		dst  *decimal.Decimal
		name string
		src  string
	}{
		{&limits.MinFrequency, "min_frequency", l.MinFrequency},
		{&limits.MaxFrequency, "max_frequency", l.MaxFrequency},
		{&limits.MinPower, "min_power", l.MinPower},
		{&limits.MaxPower, "max_power", l.MaxPower},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			errs = append(errs, fmt.Errorf("limits.%s: %w", f.name, err))
			continue
		}
		*f.dst = d
	}
	if len(errs) > 0 {
		return itla.Limits{}, errors.Join(errs...)
	}
	if limits.MinFrequency.GreaterThan(limits.MaxFrequency) || limits.MinPower.GreaterThan(limits.MaxPower) {
		return itla.Limits{}, errors.New("limits: minimum exceeds maximum")
	}
	return limits, nil
}

// ConnOptions returns the library options described by the configuration
func (c *Config) ConnOptions() ([]itla.Option, error) {
	limits, err := c.Limits.Parse()
	if err != nil {
		return nil, err
	}
	return []itla.Option{
		itla.WithQueueTimeout(c.Timing.QueueTimeout),
		itla.WithResponseTimeout(c.Timing.ResponseTimeout),
		itla.WithBaudLadder(c.Serial.BaudLadder...),
		itla.WithLimits(limits),
	}, nil
}

// UpgradeOptions returns firmware upgrade options for the pending poll
func (c *Config) UpgradeOptions() []itla.UpgradeOption {
	return []itla.UpgradeOption{
		itla.WithPendingPoll(c.Timing.PendingInterval, c.Timing.PendingTimeout),
	}
}

// MonitorConfig converts the monitor section
func (c *Config) MonitorConfig() *monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.PollInterval = c.Monitor.Interval
	cfg.DownInterval = c.Monitor.DownInterval
	cfg.LostAfter = c.Monitor.LostAfter
	return cfg
}

// Pins converts the hardware section
func (c *Config) Pins() hwctl.Pins {
	return hwctl.Pins{
		Reset:          c.Hardware.ResetPin,
		Disable:        c.Hardware.DisablePin,
		ServiceRequest: c.Hardware.ServiceRequestPin,
	}
}

// HasHardware reports whether any control pin is configured
func (c *Config) HasHardware() bool {
	return c.Hardware.ResetPin != "" || c.Hardware.DisablePin != "" || c.Hardware.ServiceRequestPin != ""
}
