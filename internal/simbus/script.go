// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package simbus

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Scripted master slot timing in microseconds.
const (
	ScriptSlot       = 70
	ScriptRecovery   = 5
	ScriptWrite1Low  = 6
	ScriptWrite0Low  = 60
	ScriptReadLow    = 6
	ScriptSampleAt   = 15
	ScriptResetLow   = 480
	ScriptResetAfter = 480
)

// MasterScript replays a fixed master waveform against a slave. It
// implements the slave-side EdgePin and records when the slave holds the
// line low, so tests can decode what a real master would have sampled.
type MasterScript struct {
	clock    *Clock
	handler  func(gpio.Level)
	lows     []window
	drives   []window
	mu       sync.Mutex
	cursor   uint32
	driveAt  uint32
	slaveLow bool
}

// NewMasterScript creates an empty script starting at time 1000.
func NewMasterScript() *MasterScript {
	m := &MasterScript{clock: &Clock{}, cursor: 1000}
	return m
}

// Clock returns the script time base.
func (m *MasterScript) Clock() *Clock {
	return m.clock
}

// Idle keeps the line released for us microseconds.
func (m *MasterScript) Idle(us uint32) {
	m.cursor += us
}

// Low pulls the line low for us microseconds and returns the release time.
func (m *MasterScript) Low(us uint32) uint32 {
	m.lows = append(m.lows, window{start: m.cursor, end: m.cursor + us})
	m.cursor += us
	return m.cursor
}

// Reset issues a reset pulse of width us followed by the standard recovery
// time. It returns the release time.
func (m *MasterScript) Reset(us uint32) uint32 {
	release := m.Low(us)
	m.Idle(ScriptResetAfter)
	return release
}

// WriteBit runs one write slot.
func (m *MasterScript) WriteBit(v bool) {
	low := uint32(ScriptWrite0Low)
	if v {
		low = ScriptWrite1Low
	}
	m.Low(low)
	m.Idle(ScriptSlot - low + ScriptRecovery)
}

// WriteByte runs eight write slots, LSB first.
func (m *MasterScript) WriteByte(b byte) {
	for i := range 8 {
		m.WriteBit(b&(1<<i) != 0)
	}
}

// ReadSlot runs one read slot and returns its sample time.
func (m *MasterScript) ReadSlot() uint32 {
	start := m.cursor
	m.Low(ScriptReadLow)
	m.Idle(ScriptSlot - ScriptReadLow + ScriptRecovery)
	return start + ScriptSampleAt
}

// ReadBytes runs 8*n read slots and returns the sample times.
func (m *MasterScript) ReadBytes(n int) []uint32 {
	samples := make([]uint32, 0, n*8)
	for range n * 8 {
		samples = append(samples, m.ReadSlot())
	}
	return samples
}

// Input is a no-op.
func (*MasterScript) Input() error { return nil }

// OpenDrain is a no-op.
func (*MasterScript) OpenDrain() error { return nil }

// Read returns the wired-AND of the scripted master and the slave.
func (m *MasterScript) Read() gpio.Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slaveLow {
		return gpio.Low
	}
	return m.masterLevel(m.clock.Now())
}

func (m *MasterScript) masterLevel(t uint32) gpio.Level {
	for _, w := range m.lows {
		if w.contains(t) {
			return gpio.Low
		}
		if w.start > t {
			break
		}
	}
	return gpio.High
}

// Write records the slave side of the line.
func (m *MasterScript) Write(l gpio.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	switch {
	case l == gpio.Low && !m.slaveLow:
		m.slaveLow = true
		m.driveAt = now
	case l == gpio.High && m.slaveLow:
		m.slaveLow = false
		m.drives = append(m.drives, window{start: m.driveAt, end: now})
	}
}

// SetEdgeHandler stores fn; Run delivers the master edges to it.
func (m *MasterScript) SetEdgeHandler(fn func(gpio.Level)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return nil
}

// ClearEdgeHandler removes the handler.
func (m *MasterScript) ClearEdgeHandler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
}

// Run delivers every master low pulse to the edge handler in time order.
// Pulses that start while the slave is still busy inside the handler were
// already observed by its polling and are skipped.
func (m *MasterScript) Run() {
	m.mu.Lock()
	handler := m.handler
	lows := m.lows
	m.mu.Unlock()
	if handler == nil {
		return
	}
	for _, w := range lows {
		if w.start < m.clock.Now() {
			continue
		}
		m.clock.AdvanceTo(w.start)
		handler(gpio.Low)
		m.clock.AdvanceTo(w.end)
		handler(gpio.High)
	}
	m.clock.AdvanceTo(m.cursor)
}

// Drives returns the intervals during which the slave held the line low,
// as (start, end) pairs.
func (m *MasterScript) Drives() [][2]uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]uint32, 0, len(m.drives))
	for _, w := range m.drives {
		out = append(out, [2]uint32{w.start, w.end})
	}
	return out
}

// SlaveLowAt reports whether the slave held the line low at t.
func (m *MasterScript) SlaveLowAt(t uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.drives {
		if w.contains(t) {
			return true
		}
	}
	return false
}

// Decode turns read-slot sample times into bytes, LSB first. A slot the
// slave held low reads as 0.
func (m *MasterScript) Decode(samples []uint32) []byte {
	out := make([]byte, len(samples)/8)
	for i, t := range samples {
		if !m.SlaveLowAt(t) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// Bits returns the bits sampled at the given times.
func (m *MasterScript) Bits(samples []uint32) []bool {
	out := make([]bool, len(samples))
	for i, t := range samples {
		out[i] = !m.SlaveLowAt(t)
	}
	return out
}
