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
	"errors"
	"fmt"
	"time"

	"github.com/vsatuloori/go-itla/internal/transport"
	"go.uber.org/zap"
)

// UpgradeState is a phase of a firmware upgrade
type UpgradeState int

const (
	UpgradeIdle UpgradeState = iota
	UpgradeAborting
	UpgradeInitiating
	UpgradeStreaming
	UpgradeFinalizing
	UpgradeVerifying
	UpgradeRestoring
	UpgradeDone
	UpgradeFailed
)

func (s UpgradeState) String() string {
	switch s {
	case UpgradeIdle:
		return "idle"
	case UpgradeAborting:
		return "aborting"
	case UpgradeInitiating:
		return "initiating"
	case UpgradeStreaming:
		return "streaming"
	case UpgradeFinalizing:
		return "finalizing"
	case UpgradeVerifying:
		return "verifying"
	case UpgradeRestoring:
		return "restoring"
	case UpgradeDone:
		return "done"
	case UpgradeFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Default upgrade settings
const (
	DefaultUpgradeBaudRate = 115200
	DefaultRestoreBaudRate = 9600
	DefaultImageType       = 3
	DefaultRunVersion      = 3
	DefaultPendingInterval = 500 * time.Millisecond
	DefaultPendingTimeout  = 60 * time.Second
	DefaultQuietDelay      = 500 * time.Millisecond
	DefaultSettleDelay     = time.Second
	minSerialLength        = 5
)

// UpgradeError reports the state an upgrade failed in and why
type UpgradeError struct {
	Err    error
	Reason string
	State  UpgradeState
}

func (e *UpgradeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("firmware upgrade failed while %s: %s: %v", e.State, e.Reason, e.Err)
	}
	return fmt.Sprintf("firmware upgrade failed while %s: %s", e.State, e.Reason)
}

func (e *UpgradeError) Unwrap() error {
	return e.Err
}

// UpgradeProgress is passed to the progress callback on every state change
// and after every streamed word
type UpgradeProgress struct {
	State       UpgradeState
	BytesSent   int
	TotalBytes  int
	Percentage  float64
	ElapsedTime time.Duration
}

// UpgradeProgressCallback receives upgrade progress. It runs on the
// upgrading goroutine and should return quickly.
type UpgradeProgressCallback func(UpgradeProgress)

// UpgradeResult summarizes a finished upgrade
type UpgradeResult struct {
	Serial    string
	States    []UpgradeState
	BytesSent int
	Duration  time.Duration
}

// UpgradeOption configures UpgradeFirmware
type UpgradeOption func(*upgradeConfig)

type upgradeConfig struct {
	progress        UpgradeProgressCallback
	upgradeBaud     int
	restoreBaud     int
	pendingInterval time.Duration
	pendingTimeout  time.Duration
	quietDelay      time.Duration
	settleDelay     time.Duration
	imageType       uint8
	runVersion      uint8
	salvage         bool
}

// WithUpgradeProgress sets the progress callback
func WithUpgradeProgress(cb UpgradeProgressCallback) UpgradeOption {
	return func(c *upgradeConfig) {
		c.progress = cb
	}
}

// WithUpgradeBaudRate sets the rate used while streaming the image
func WithUpgradeBaudRate(baud int) UpgradeOption {
	return func(c *upgradeConfig) {
		c.upgradeBaud = baud
	}
}

// WithRestoreBaudRate sets the rate the module is returned to afterwards
func WithRestoreBaudRate(baud int) UpgradeOption {
	return func(c *upgradeConfig) {
		c.restoreBaud = baud
	}
}

// WithImageType sets the image type carried in the init-write command
func WithImageType(imageType uint8) UpgradeOption {
	return func(c *upgradeConfig) {
		c.imageType = imageType
	}
}

// WithRunVersion selects the firmware bank started after verification
func WithRunVersion(runv uint8) UpgradeOption {
	return func(c *upgradeConfig) {
		c.runVersion = runv
	}
}

// WithPendingPoll sets how often and for how long a command-pending module
// is polled before the upgrade gives up
func WithPendingPoll(interval, timeout time.Duration) UpgradeOption {
	return func(c *upgradeConfig) {
		c.pendingInterval = interval
		c.pendingTimeout = timeout
	}
}

// WithUpgradeDelays sets the quiet period before finalizing and the settle
// period after starting the new image
func WithUpgradeDelays(quiet, settle time.Duration) UpgradeOption {
	return func(c *upgradeConfig) {
		c.quietDelay = quiet
		c.settleDelay = settle
	}
}

// WithSalvage skips the serial-number checks for a module whose identity
// registers no longer answer
func WithSalvage() UpgradeOption {
	return func(c *upgradeConfig) {
		c.salvage = true
	}
}

type upgradeRun struct {
	conn      *Conn
	cfg       upgradeConfig
	started   time.Time
	serial    string
	states    []UpgradeState
	state     UpgradeState
	sent      int
	total     int
	switching bool
}

// UpgradeFirmware streams image into the module's download bank, verifies
// it and starts it. Phases run in a fixed order and the first failure ends
// the run with an *UpgradeError naming the phase.
//
// The module is returned to DefaultRestoreBaudRate unless the connection's
// current rate can be expressed in Iocap, in which case it returns to that
// rate. Transports without CapabilityBaudSwitch skip every rate change.
func (c *Conn) UpgradeFirmware(ctx context.Context, image []byte, opts ...UpgradeOption) (*UpgradeResult, error) {
	if err := c.checkUsable(ctx); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty firmware image", ErrInvalidParameter)
	}

	cfg := upgradeConfig{
		upgradeBaud:     DefaultUpgradeBaudRate,
		restoreBaud:     DefaultRestoreBaudRate,
		imageType:       DefaultImageType,
		runVersion:      DefaultRunVersion,
		pendingInterval: DefaultPendingInterval,
		pendingTimeout:  DefaultPendingTimeout,
		quietDelay:      DefaultQuietDelay,
		settleDelay:     DefaultSettleDelay,
	}
	if _, err := IocapForBaud(c.BaudRate()); err == nil {
		cfg.restoreBaud = c.BaudRate()
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	run := &upgradeRun{
		conn:      c,
		cfg:       cfg,
		started:   time.Now(),
		state:     UpgradeIdle,
		total:     len(image) + len(image)%2,
		switching: hasCapability(c.transport, CapabilityBaudSwitch),
	}

	c.setMode(ModeFirmwareUpgrade)
	defer c.setMode(ModeNormal)

	c.logger.Info("firmware upgrade starting", zap.Int("bytes", len(image)),
		zap.Bool("baud_switch", run.switching))

	err := run.execute(ctx, image)
	result := &UpgradeResult{
		Serial:    run.serial,
		States:    run.states,
		BytesSent: run.sent,
		Duration:  time.Since(run.started),
	}
	if err != nil {
		run.enter(UpgradeFailed)
		c.logger.Error("firmware upgrade failed", zap.Error(err))
		return result, err
	}

	run.enter(UpgradeDone)
	result.States = run.states
	c.logger.Info("firmware upgrade complete", zap.Duration("elapsed", result.Duration))
	return result, nil
}

func (r *upgradeRun) execute(ctx context.Context, image []byte) error {
	steps := []struct {
		fn    func(context.Context) error
		state UpgradeState
	}{
		{state: UpgradeAborting, fn: r.abort},
		{state: UpgradeInitiating, fn: r.initiate},
		{state: UpgradeStreaming, fn: func(ctx context.Context) error { return r.stream(ctx, image) }},
		{state: UpgradeFinalizing, fn: r.finalize},
		{state: UpgradeVerifying, fn: r.verify},
		{state: UpgradeRestoring, fn: r.restore},
	}

	for _, step := range steps {
		r.enter(step.state)
		if err := step.fn(ctx); err != nil {
			var upErr *UpgradeError
			if errors.As(err, &upErr) {
				return err
			}
			return &UpgradeError{State: step.state, Reason: "interrupted", Err: err}
		}
	}
	return nil
}

func (r *upgradeRun) enter(state UpgradeState) {
	r.state = state
	r.states = append(r.states, state)
	r.conn.logger.Debug("firmware upgrade state", zap.Stringer("state", state))
	r.report()
}

func (r *upgradeRun) report() {
	if r.cfg.progress == nil {
		return
	}
	pct := 0.0
	if r.total > 0 {
		pct = float64(r.sent) / float64(r.total) * 100
	}
	r.cfg.progress(UpgradeProgress{
		State:       r.state,
		BytesSent:   r.sent,
		TotalBytes:  r.total,
		Percentage:  pct,
		ElapsedTime: time.Since(r.started),
	})
}

func (r *upgradeRun) fail(reason string, err error) error {
	return &UpgradeError{State: r.state, Reason: reason, Err: err}
}

func (r *upgradeRun) abort(ctx context.Context) error {
	if !r.cfg.salvage {
		serial, err := r.conn.SerialNumber(ctx)
		if err != nil {
			return r.fail("serial number unreadable before upgrade", err)
		}
		if len(serial) < minSerialLength {
			return r.fail(fmt.Sprintf("serial number %q too short before upgrade", serial), nil)
		}
		r.serial = serial

		if _, err := r.conn.Write(ctx, RegResena, ResenaOff); err != nil {
			return r.fail("laser output could not be disabled", err)
		}
	}

	if _, err := r.conn.Write(ctx, RegDlconfig, DlconfigAbort); err != nil {
		return r.fail("download abort rejected", err)
	}
	return nil
}

func (r *upgradeRun) initiate(ctx context.Context) error {
	if r.switching {
		if err := r.conn.SwitchBaudRate(ctx, r.cfg.upgradeBaud); err != nil {
			return r.fail(fmt.Sprintf("switch to %d baud failed", r.cfg.upgradeBaud), err)
		}
		if err := r.verifySerial(ctx); err != nil {
			return r.fail("serial number changed after baud switch", err)
		}
	}

	if _, err := r.conn.Write(ctx, RegDlconfig, int(DlconfigInitWriteFor(r.cfg.imageType))); err != nil {
		return r.fail("download init write rejected", err)
	}
	return nil
}

func (r *upgradeRun) stream(ctx context.Context, image []byte) error {
	if len(image)%2 != 0 {
		padded := make([]byte, len(image)+1)
		copy(padded, image)
		image = padded
	}

	for i := 0; i < len(image); i += 2 {
		if err := ctx.Err(); err != nil {
			return r.fail("cancelled while streaming", err)
		}
		word := int(image[i])<<8 | int(image[i+1])
		if err := r.conn.SendOnly(ctx, RegEar, word); err != nil {
			return r.fail(fmt.Sprintf("image write failed at byte %d", i), err)
		}
		r.sent = i + 2
		r.report()
	}
	return nil
}

func (r *upgradeRun) finalize(ctx context.Context) error {
	if err := sleepContext(ctx, r.cfg.quietDelay); err != nil {
		return r.fail("cancelled before finalizing", err)
	}
	if err := r.conn.FlushInput(ctx); err != nil {
		return r.fail("flush before finalizing failed", err)
	}

	if _, err := r.conn.Write(ctx, RegDlconfig, DlconfigDone); err != nil {
		if !errors.Is(err, ErrCommandPending) {
			return r.fail("download done rejected", err)
		}
		if err := r.waitNotPending(ctx); err != nil {
			return r.fail("module stayed busy after download done", err)
		}
	}
	return nil
}

func (r *upgradeRun) verify(ctx context.Context) error {
	if _, err := r.conn.Write(ctx, RegDlconfig, DlconfigInitCheck); err != nil {
		if !errors.Is(err, ErrCommandPending) {
			return r.fail("image check rejected", err)
		}
		if err := r.waitNotPending(ctx); err != nil {
			return r.fail("module stayed busy during image check", err)
		}
	}

	resp, err := r.conn.Read(ctx, RegDlstatus)
	if err != nil {
		return r.fail("download status unreadable", err)
	}
	if resp.Value&DlstatusValid == 0 {
		return r.fail(fmt.Sprintf("download status invalid (0x%04X)", resp.Value), nil)
	}
	return nil
}

func (r *upgradeRun) restore(ctx context.Context) error {
	if _, err := r.conn.Write(ctx, RegDlconfig, int(DlconfigRunFor(r.cfg.runVersion))); err != nil {
		return r.fail("image start rejected", err)
	}
	if err := sleepContext(ctx, r.cfg.settleDelay); err != nil {
		return r.fail("cancelled while new image settles", err)
	}

	if !r.switching {
		return nil
	}

	if err := r.conn.SwitchBaudRate(ctx, r.cfg.restoreBaud); err != nil {
		return r.fail(fmt.Sprintf("switch back to %d baud failed", r.cfg.restoreBaud), err)
	}
	if err := r.verifySerial(ctx); err != nil {
		return r.fail("serial number check after restore failed", err)
	}
	return nil
}

// verifySerial re-reads the serial number and compares it with the one
// captured before the upgrade, or only checks its length in salvage mode
func (r *upgradeRun) verifySerial(ctx context.Context) error {
	serial, err := r.conn.SerialNumber(ctx)
	if err != nil {
		return err
	}
	if len(serial) < minSerialLength {
		return fmt.Errorf("serial number %q too short", serial)
	}
	if r.serial != "" && serial != r.serial {
		return fmt.Errorf("serial number %q does not match %q", serial, r.serial)
	}
	r.serial = serial
	return nil
}

// waitNotPending polls NOP until the pending-operation byte clears
func (r *upgradeRun) waitNotPending(ctx context.Context) error {
	_, err := transport.PollUntil(ctx, r.cfg.pendingTimeout, r.cfg.pendingInterval,
		func() (uint16, bool, error) {
			resp, err := r.conn.Read(ctx, RegNop)
			if err != nil {
				if IsRetryable(err) || errors.Is(err, ErrCommandPending) {
					return 0, true, nil
				}
				return 0, false, err
			}
			return resp.Value, resp.Value&0xFF00 != 0, nil
		})
	return err
}

// FlushInput discards buffered input on its own arbiter turn
func (c *Conn) FlushInput(ctx context.Context) error {
	if err := c.checkUsable(ctx); err != nil {
		return err
	}
	return c.arbiter.DoContext(ctx, func(Ticket) error {
		return c.transport.Flush()
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
