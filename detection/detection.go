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


// Package detection discovers serial ports that may have an ITLA module
// attached. Transport-specific detectors register themselves on import.
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Mode controls how much I/O a detector may perform
type Mode int

const (
	// Passive only enumerates ports; nothing is opened
	Passive Mode = iota
	// Safe opens each candidate at the power-up rate and sends one NOP
	Safe
	// Full walks the whole baud ladder on each candidate
	Full
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Confidence ranks how likely a port is to have a module on it
type Confidence int

const (
	// Low is any enumerated port
	Low Confidence = iota
	// Medium is a port behind a known USB-serial bridge
	Medium
	// High is a port that answered a NOP with a valid frame
	High
)

// String returns the confidence name
func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("confidence(%d)", int(c))
	}
}

var (
	// ErrNoDevicesFound is returned when no candidate port was found
	ErrNoDevicesFound = errors.New("no devices found")
	// ErrUnsupportedPlatform is returned by detectors that cannot run here
	ErrUnsupportedPlatform = errors.New("detection not supported on this platform")
	// ErrDetectionTimeout is returned when Options.Timeout expires
	ErrDetectionTimeout = errors.New("detection timed out")
)

// DeviceInfo describes one candidate port
type DeviceInfo struct {
	Metadata   map[string]string
	Transport  string
	Path       string
	Name       string
	Confidence Confidence
	// BaudRate is the rate the module answered at, or 0 when not probed
	BaudRate int
}

// String returns a one-line description
func (d DeviceInfo) String() string {
	s := fmt.Sprintf("%s:%s (%s)", d.Transport, d.Path, d.Confidence)
	if d.BaudRate > 0 {
		s += fmt.Sprintf(" @%d", d.BaudRate)
	}
	return s
}

// Options configures detection
type Options struct {
	// Blocklist holds VID:PID pairs that must never be opened
	Blocklist []string
	// IgnorePaths holds port paths that must never be opened
	IgnorePaths []string
	// Transports limits detection to the named detectors; empty means all
	Transports []string
	// Timeout bounds the whole detection run
	Timeout time.Duration
	// ProbeTimeout bounds the wait for each probe reply
	ProbeTimeout time.Duration
	Mode         Mode
}

// DefaultOptions returns options for a safe probe of every detector
func DefaultOptions() Options {
	return Options{
		Mode:         Safe,
		Timeout:      10 * time.Second,
		ProbeTimeout: 250 * time.Millisecond,
		Blocklist:    DefaultBlocklist(),
	}
}

// Detector finds candidate ports for one transport
type Detector interface {
	// Transport returns the transport name reported in DeviceInfo
	Transport() string
	// Detect returns the candidates it found
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
}

type registry struct {
	detectors []Detector
	mu        sync.RWMutex
}

func (r *registry) register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.detectors {
		if existing.Transport() == d.Transport() {
			r.detectors[i] = d
			return
		}
	}
	r.detectors = append(r.detectors, d)
}

func (r *registry) list() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.detectors)
}

var defaultRegistry = &registry{}

// RegisterDetector adds a detector. A detector for an already registered
// transport replaces it.
func RegisterDetector(d Detector) {
	defaultRegistry.register(d)
}

// Detectors returns the registered detectors
func Detectors() []Detector {
	return defaultRegistry.list()
}

// DetectAll runs every registered detector bounded by opts.Timeout
func DetectAll(opts *Options) ([]DeviceInfo, error) {
	return DetectAllContext(context.Background(), opts)
}

// DetectAllContext runs every registered detector and returns the
// candidates ordered by confidence
func DetectAllContext(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	return detectWith(ctx, defaultRegistry.list(), opts)
}

func detectWith(ctx context.Context, detectors []Detector, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var devices []DeviceInfo
	var errs []error
	for _, d := range detectors {
		if len(opts.Transports) > 0 && !slices.Contains(opts.Transports, d.Transport()) {
			continue
		}
		if ctx.Err() != nil {
			if len(devices) > 0 {
				break
			}
			return nil, ErrDetectionTimeout
		}

		found, err := d.Detect(ctx, opts)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoDevicesFound), errors.Is(err, ErrUnsupportedPlatform):
			continue
		default:
			errs = append(errs, fmt.Errorf("%s: %w", d.Transport(), err))
			continue
		}
		devices = append(devices, filter(found, opts)...)
	}

	if len(devices) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoDevicesFound
	}

	slices.SortStableFunc(devices, func(a, b DeviceInfo) int {
		if a.Confidence != b.Confidence {
			return int(b.Confidence) - int(a.Confidence)
		}
		return strings.Compare(a.Path, b.Path)
	})
	return devices, nil
}

func filter(devices []DeviceInfo, opts *Options) []DeviceInfo {
	kept := devices[:0]
	for _, d := range devices {
		if IsPathIgnored(d.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid := d.Metadata["vidpid"]; vidpid != "" && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}
