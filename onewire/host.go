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

package onewire

import "periph.io/x/conn/v3/gpio"

// HostTimings are the standard-speed slot timings in microseconds, named
// after the intervals of Maxim application note 126.
type HostTimings struct {
	A uint32 // write-1 and read low time
	B uint32 // write-1 recovery
	C uint32 // write-0 low time
	D uint32 // write-0 recovery
	E uint32 // read sample delay after release
	F uint32 // read slot recovery
	G uint32 // delay before reset
	H uint32 // reset low time
	I uint32 // presence sample delay after release
	J uint32 // reset recovery
}

// DefaultHostTimings returns standard-speed timings.
func DefaultHostTimings() HostTimings {
	return HostTimings{
		A: 9,
		B: 64,
		C: 64,
		D: 14,
		E: 9,
		F: 55,
		G: 0,
		H: 480,
		I: 70,
		J: 410,
	}
}

const (
	hostIdleRetries   = 125
	hostIdleRetryStep = 2
)

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostGuard sets the guard used around each slot. Defaults to ThreadGuard.
func WithHostGuard(g Guard) HostOption {
	return func(h *Host) {
		h.guard = g
	}
}

// WithHostTimings overrides the slot timings.
func WithHostTimings(t HostTimings) HostOption {
	return func(h *Host) {
		h.timings = t
	}
}

// Host is a bit-banged 1-Wire master on a single Pin.
type Host struct {
	pin     Pin
	timer   *Timer
	guard   Guard
	search  SearchCursor
	timings HostTimings
	started bool
}

var _ Master = (*Host)(nil)

// NewHost creates a stopped Host on pin timed by clock.
func NewHost(pin Pin, clock Clock, opts ...HostOption) *Host {
	h := &Host{
		pin:     pin,
		timer:   NewTimer(clock),
		guard:   ThreadGuard{},
		timings: DefaultHostTimings(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start configures the line as an open-drain output and releases it.
func (h *Host) Start() {
	if h.started {
		return
	}
	_ = h.pin.OpenDrain()
	h.pin.Write(gpio.High)
	h.started = true
}

// Stop releases the line and returns it to an input.
func (h *Host) Stop() {
	if !h.started {
		return
	}
	h.pin.Write(gpio.High)
	_ = h.pin.Input()
	h.started = false
}

// Reset issues a reset pulse and reports whether any slave answered with
// a presence pulse. It gives up early if the line never goes idle high.
func (h *Host) Reset() bool {
	h.pin.Write(gpio.High)
	retries := hostIdleRetries
	for h.pin.Read() == gpio.Low {
		retries--
		if retries == 0 {
			return false
		}
		h.timer.Delay(hostIdleRetryStep)
	}
	h.timer.Delay(h.timings.G)

	exit := h.guard.Enter()
	h.pin.Write(gpio.Low)
	h.timer.Delay(h.timings.H)
	h.pin.Write(gpio.High)
	h.timer.Delay(h.timings.I)
	present := h.pin.Read() == gpio.Low
	exit()

	h.timer.Delay(h.timings.J)
	return present
}

// ReadBit runs one read slot.
func (h *Host) ReadBit() bool {
	exit := h.guard.Enter()
	h.pin.Write(gpio.Low)
	h.timer.Delay(h.timings.A)
	h.pin.Write(gpio.High)
	h.timer.Delay(h.timings.E)
	bit := h.pin.Read() == gpio.High
	exit()

	h.timer.Delay(h.timings.F)
	return bit
}

// WriteBit runs one write slot.
func (h *Host) WriteBit(v bool) {
	low, recovery := h.timings.C, h.timings.D
	if v {
		low, recovery = h.timings.A, h.timings.B
	}
	exit := h.guard.Enter()
	h.pin.Write(gpio.Low)
	h.timer.Delay(low)
	h.pin.Write(gpio.High)
	exit()

	h.timer.Delay(recovery)
}

// Read reads one byte, LSB first.
func (h *Host) Read() byte {
	var b byte
	for i := range 8 {
		if h.ReadBit() {
			b |= 1 << i
		}
	}
	return b
}

// Write writes one byte, LSB first.
func (h *Host) Write(b byte) {
	for i := range 8 {
		h.WriteBit(b&(1<<i) != 0)
	}
}

// ReadBytes fills buf from the bus.
func (h *Host) ReadBytes(buf []byte) {
	for i := range buf {
		buf[i] = h.Read()
	}
}

// WriteBytes writes buf to the bus.
func (h *Host) WriteBytes(buf []byte) {
	for _, b := range buf {
		h.Write(b)
	}
}

// Search finds the next ROM on the bus. It returns false once every device
// has been reported or when nobody answers, and the following call starts
// a new enumeration.
func (h *Host) Search(rom []byte, mode SearchMode) bool {
	return h.search.Next(h, h.guard, rom, mode)
}

// ResetSearch restarts enumeration from the first device.
func (h *Host) ResetSearch() {
	h.search.Reset()
}

// TargetSearch makes the next Search start at devices of family.
func (h *Host) TargetSearch(family byte) {
	h.search.Target(family)
}

// Delay implements Master.
func (h *Host) Delay(us uint32) {
	h.timer.Delay(us)
}
