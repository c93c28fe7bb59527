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
	"sync"
	"time"

	testutil "github.com/vsatuloori/go-itla/internal/testing"
)

// MockTransport is a Transport backed by a simulated module. Replies are
// produced when a frame is sent and consumed by ReceiveFrame.
type MockTransport struct {
	Module    *testutil.VirtualModule
	overrides map[Register][]Frame
	errs      map[Register]error
	calls     map[Register]int
	caps      map[TransportCapability]bool
	pending   []Frame
	sent      []Frame
	bauds     []int
	fillers   int
	flushes   int
	baud      int
	delay     time.Duration
	mu        sync.Mutex
	closed    bool
}

// NewMockTransport creates a mock transport at 9600 baud talking to a fresh
// virtual module. The baud-switch capability is enabled.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Module:    testutil.NewVirtualModule(),
		overrides: make(map[Register][]Frame),
		errs:      make(map[Register]error),
		calls:     make(map[Register]int),
		caps:      map[TransportCapability]bool{CapabilityBaudSwitch: true},
		baud:      9600,
	}
}

// SetResponse queues a raw reply returned for the next request to reg
// instead of the module's answer
func (m *MockTransport) SetResponse(reg Register, reply Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[reg] = append(m.overrides[reg], reply)
}

// SetError makes every send to reg fail with err
func (m *MockTransport) SetError(reg Register, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[reg] = err
}

// SetDelay holds every ReceiveFrame for d before answering
func (m *MockTransport) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetCapability enables or disables a transport capability
func (m *MockTransport) SetCapability(capability TransportCapability, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps[capability] = enabled
}

// GetCallCount returns how many frames were sent to reg
func (m *MockTransport) GetCallCount(reg Register) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[reg]
}

// SentFrames returns every frame written so far
func (m *MockTransport) SentFrames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.sent...)
}

// BaudHistory returns every rate passed to SetBaudRate
func (m *MockTransport) BaudHistory() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.bauds...)
}

// FillerCount returns the number of filler bytes written by Prime
func (m *MockTransport) FillerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fillers
}

// SendFrame implements Transport
func (m *MockTransport) SendFrame(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTransportWrite
	}

	reg := Register(f.Register())
	m.sent = append(m.sent, f)
	m.calls[reg]++

	if err := m.errs[reg]; err != nil {
		return err
	}

	if queue := m.overrides[reg]; len(queue) > 0 {
		m.overrides[reg] = queue[1:]
		m.pending = append(m.pending, queue[0])
		return nil
	}

	if reply, ok := m.Module.Handle(f, m.baud); ok {
		m.pending = append(m.pending, reply)
	}
	return nil
}

// ReceiveFrame implements Transport
func (m *MockTransport) ReceiveFrame(timeout time.Duration) (Frame, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(min(delay, timeout))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Frame{}, ErrTransportRead
	}
	if len(m.pending) == 0 || delay > timeout {
		return Frame{}, NewNoResponseError("receive", "mock")
	}

	reply := m.pending[0]
	m.pending = m.pending[1:]
	return reply, nil
}

// Flush implements Transport
func (m *MockTransport) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	m.pending = nil
	return nil
}

// Prime implements Primer
func (m *MockTransport) Prime(maxFillers int, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillers += maxFillers
	return nil
}

// SetBaudRate implements Transport
func (m *MockTransport) SetBaudRate(baud int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.bauds = append(m.bauds, baud)
	m.baud = baud
	return nil
}

// BaudRate implements Transport
func (m *MockTransport) BaudRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baud
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// HasCapability implements TransportCapabilityChecker
func (m *MockTransport) HasCapability(capability TransportCapability) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps[capability]
}

// BlockingMockTransport holds every ReceiveFrame until Unblock is called.
// It is used to keep a ticket at the head of the queue in arbiter tests.
type BlockingMockTransport struct {
	*MockTransport
	blockChan chan struct{}
	entered   chan struct{}
	bmu       sync.Mutex
}

// NewBlockingMockTransport creates a new blocking mock transport
func NewBlockingMockTransport() *BlockingMockTransport {
	return &BlockingMockTransport{
		MockTransport: NewMockTransport(),
		blockChan:     make(chan struct{}),
		entered:       make(chan struct{}, 16),
	}
}

// ReceiveFrame blocks until Unblock or Close, ignoring the timeout
func (b *BlockingMockTransport) ReceiveFrame(timeout time.Duration) (Frame, error) {
	b.bmu.Lock()
	ch := b.blockChan
	b.bmu.Unlock()

	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-ch
	return b.MockTransport.ReceiveFrame(timeout)
}

// Entered returns a channel signalled each time ReceiveFrame starts blocking
func (b *BlockingMockTransport) Entered() <-chan struct{} {
	return b.entered
}

// Unblock releases every blocked ReceiveFrame
func (b *BlockingMockTransport) Unblock() {
	b.bmu.Lock()
	defer b.bmu.Unlock()
	close(b.blockChan)
	b.blockChan = make(chan struct{})
}

// Close unblocks all operations and marks transport as closed
func (b *BlockingMockTransport) Close() error {
	b.Unblock()
	return b.MockTransport.Close()
}

var (
	_ Transport                  = (*MockTransport)(nil)
	_ Primer                     = (*MockTransport)(nil)
	_ TransportCapabilityChecker = (*MockTransport)(nil)
	_ Transport                  = (*BlockingMockTransport)(nil)
)
