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

package uart

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vsatuloori/go-itla"
	"github.com/vsatuloori/go-itla/internal/frame"
	testutil "github.com/vsatuloori/go-itla/internal/testing"
	"go.bug.st/serial"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory serial port. A module model may be attached
// that answers every fourth byte it receives.
type fakePort struct {
	input        []byte
	written      []byte
	bauds        []int
	answer       func(req frame.Frame) frame.Frame
	held         []byte
	timeout      time.Duration
	inputResets  int
	outputResets int
	mu           sync.Mutex
	closed       bool
	mute         bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		if len(p.input) > 0 {
			n := copy(b, p.input)
			p.input = p.input[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	p.written = append(p.written, b...)
	if p.answer == nil {
		return len(b), nil
	}
	for _, c := range b {
		p.held = append(p.held, c)
		if len(p.held) == frame.Size {
			req, _ := frame.FromBytes(p.held)
			p.held = nil
			if !p.mute {
				reply := p.answer(req)
				p.input = append(p.input, reply[:]...)
			}
		}
	}
	return len(b), nil
}

func (p *fakePort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bauds = append(p.bauds, mode.BaudRate)
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputResets++
	p.input = nil
	return nil
}

func (p *fakePort) ResetOutputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputResets++
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// nopModule answers every request with an idle NOP reply for that register
func nopModule(req frame.Frame) frame.Frame {
	return testutil.BuildOK(req.Register(), 0x0010)
}

func openFake(t *testing.T, port *fakePort, opts ...Option) *Transport {
	t.Helper()
	opts = append([]Option{
		WithOpener(func(_ string, mode *serial.Mode) (Port, error) {
			port.bauds = append(port.bauds, mode.BaudRate)
			return port, nil
		}),
		WithRepair(DefaultRepairFillers, time.Millisecond),
	}, opts...)
	tr, err := New("/dev/ttyUSB0", opts...)
	require.NoError(t, err)
	return tr
}

// TestTransportCreation verifies basic transport creation and properties
func TestTransportCreation(t *testing.T) {
	t.Parallel()

	testPortName := "/dev/ttyUSB0"
	transport := &Transport{
		portName: testPortName,
	}

	assert.Equal(t, testPortName, transport.PortName())
	assert.Equal(t, itla.TransportUART, transport.Type())
	assert.False(t, transport.IsConnected())
	assert.True(t, transport.HasCapability(itla.CapabilityBaudSwitch))
	assert.False(t, transport.HasCapability(itla.CapabilityInlineExtended))
}

func TestNew_OpenFailure(t *testing.T) {
	t.Parallel()

	_, err := New("/dev/missing", WithOpener(func(string, *serial.Mode) (Port, error) {
		return nil, errors.New("no such file or directory")
	}))
	require.ErrorIs(t, err, itla.ErrPortOpen)
	assert.False(t, itla.IsRetryable(err))
}

func TestNew_OpensAtRequestedRate(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	tr := openFake(t, port, WithBaudRate(115200))
	assert.Equal(t, 115200, tr.BaudRate())
	assert.Equal(t, []int{115200}, port.bauds)
}

func TestSendReceive(t *testing.T) {
	t.Parallel()

	port := &fakePort{answer: nopModule}
	tr := openFake(t, port)

	req := frame.Encode(frame.Read, 0x00, 0)
	require.NoError(t, tr.SendFrame(req))
	reply, err := tr.ReceiveFrame(100 * time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, req[:], port.Written())
	assert.True(t, reply.Valid())
	assert.Equal(t, uint16(0x0010), reply.Data())
}

func TestReceiveFrame_Timeout(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	tr := openFake(t, port)

	start := time.Now()
	_, err := tr.ReceiveFrame(20 * time.Millisecond)
	require.ErrorIs(t, err, itla.ErrNoResponse)
	assert.True(t, itla.IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReceiveFrame_PartialFrame(t *testing.T) {
	t.Parallel()

	port := &fakePort{input: []byte{0x01, 0x02}}
	tr := openFake(t, port)

	_, err := tr.ReceiveFrame(20 * time.Millisecond)
	require.ErrorIs(t, err, itla.ErrNoResponse)
}

func TestSendFrame_Repair(t *testing.T) {
	t.Parallel()

	// The module holds one stale byte, so it answers after our third byte
	port := &fakePort{answer: nopModule, held: []byte{0x55}}
	tr := openFake(t, port)

	req := frame.Encode(frame.Read, 0x31, 0)
	require.NoError(t, tr.SendFrame(req))

	want := append([]byte{}, req[:3]...)
	want = append(want, 0, 0, 0, 0)
	want = append(want, req[:]...)
	assert.Equal(t, want, port.Written())

	reply, err := tr.ReceiveFrame(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, byte(0x31), reply.Register())
}

func TestSendFrame_RepairFails(t *testing.T) {
	t.Parallel()

	port := &fakePort{answer: nopModule, held: []byte{0x55}}
	tr := openFake(t, port)

	// Answer the misaligned frame, then go quiet
	port.answer = func(req frame.Frame) frame.Frame {
		port.mute = true
		return nopModule(req)
	}

	err := tr.SendFrame(frame.Encode(frame.Read, 0x31, 0))
	require.ErrorIs(t, err, itla.ErrTransportWrite)
	assert.Len(t, port.Written(), 3+DefaultRepairFillers)
}

func TestPrime(t *testing.T) {
	t.Parallel()

	t.Run("silent module gets every filler", func(t *testing.T) {
		t.Parallel()
		port := &fakePort{}
		tr := openFake(t, port)

		require.NoError(t, tr.Prime(5, time.Millisecond))
		assert.Equal(t, []byte{0, 0, 0, 0, 0}, port.Written())
		assert.Equal(t, 1, port.inputResets)
	})

	t.Run("stops once the module answers", func(t *testing.T) {
		t.Parallel()
		port := &fakePort{answer: nopModule, held: []byte{0x01, 0x02}}
		tr := openFake(t, port)

		require.NoError(t, tr.Prime(5, time.Millisecond))
		assert.Equal(t, []byte{0, 0}, port.Written())
	})

	t.Run("a stray byte is not a frame", func(t *testing.T) {
		t.Parallel()
		port := &fakePort{answer: nopModule, held: []byte{0x01, 0x02}, input: []byte{0xAA}}
		tr := openFake(t, port)

		require.NoError(t, tr.Prime(5, time.Millisecond))
		assert.Equal(t, []byte{0, 0}, port.Written())
		assert.Equal(t, 1, port.inputResets)
	})
}

func TestSetBaudRate(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	tr := openFake(t, port)

	require.NoError(t, tr.SetBaudRate(115200))
	assert.Equal(t, 115200, tr.BaudRate())
	assert.Equal(t, []int{9600, 115200}, port.bauds)
	assert.Equal(t, 1, port.inputResets)
}

func TestFlush(t *testing.T) {
	t.Parallel()

	port := &fakePort{input: []byte{1, 2, 3}}
	tr := openFake(t, port)

	require.NoError(t, tr.Flush())
	assert.Empty(t, port.input)
	assert.Equal(t, 1, port.outputResets)
}

func TestClose(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	tr := openFake(t, port)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, port.closed)
	assert.False(t, tr.IsConnected())

	require.ErrorIs(t, tr.SendFrame(itla.Frame{}), itla.ErrClosed)
	_, err := tr.ReceiveFrame(time.Millisecond)
	require.ErrorIs(t, err, itla.ErrClosed)
	require.ErrorIs(t, tr.SetBaudRate(9600), itla.ErrClosed)
}
