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

// Virtual slave timing in microseconds.
const (
	resetThreshold  = 400 // master low treated as a reset
	write1Threshold = 15  // master low shorter than this writes a 1
	holdTime        = 30  // slave low for a 0 in a read slot
	presenceDelay   = 20
	presenceTime    = 120
)

// Responder is a virtual slave. Run serves one reset cycle and returns when
// the session ends or the device has nothing more to say.
type Responder interface {
	Run(s *Session)
}

// Bus is a virtual open-drain line with virtual slaves on it. It implements
// the master-side pin and clock used by onewire.Host.
type Bus struct {
	clock    *Clock
	devices  []Responder
	sessions []*Session
	windows  []window
	mu       sync.Mutex
	fallAt   uint32
	resets   int
	hostLow  bool
}

// NewBus creates an idle bus with no devices.
func NewBus() *Bus {
	return &Bus{clock: &Clock{}}
}

// Clock returns the bus time base.
func (b *Bus) Clock() *Clock {
	return b.clock
}

// Attach connects r to the bus. It answers from the next reset on.
func (b *Bus) Attach(r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, r)
}

// Detach disconnects every device and ends running sessions.
func (b *Bus) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = nil
	b.abortSessions()
}

// Close ends running sessions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abortSessions()
}

// Resets returns how many reset pulses the master issued.
func (b *Bus) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// Input is a no-op.
func (*Bus) Input() error { return nil }

// OpenDrain is a no-op.
func (*Bus) OpenDrain() error { return nil }

// Read returns the wired-AND of the master and every slave.
func (b *Bus) Read() gpio.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hostLow {
		return gpio.Low
	}
	now := b.clock.Now()
	for _, w := range b.windows {
		if w.contains(now) {
			return gpio.Low
		}
	}
	return gpio.High
}

// Write drives the master side of the line.
func (b *Bus) Write(l gpio.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneWindows()
	switch {
	case l == gpio.Low && !b.hostLow:
		b.hostLow = true
		b.onFall()
	case l == gpio.High && b.hostLow:
		b.hostLow = false
		b.onRise()
	}
}

func (b *Bus) pruneWindows() {
	now := b.clock.Now()
	kept := b.windows[:0]
	for _, w := range b.windows {
		if w.end > now {
			kept = append(kept, w)
		}
	}
	b.windows = kept
}

// onFall opens a time slot for every live session and records the slaves
// that hold the line low.
func (b *Bus) onFall() {
	b.fallAt = b.clock.Now()
	live := b.sessions[:0]
	for _, s := range b.sessions {
		select {
		case s.slots <- struct{}{}:
			if <-s.intent {
				b.windows = append(b.windows, window{start: b.fallAt, end: b.fallAt + holdTime})
			}
			s.inSlot = true
			live = append(live, s)
		case <-s.finished:
		}
	}
	b.sessions = live
}

// onRise closes the slot, or starts new sessions after a reset pulse.
func (b *Bus) onRise() {
	now := b.clock.Now()
	width := now - b.fallAt
	if width >= resetThreshold {
		b.abortSessions()
		b.resets++
		for _, dev := range b.devices {
			s := newSession()
			go func(dev Responder) {
				defer close(s.finished)
				dev.Run(s)
			}(dev)
			b.sessions = append(b.sessions, s)
			b.windows = append(b.windows, window{start: now + presenceDelay, end: now + presenceDelay + presenceTime})
		}
		return
	}

	bit := width < write1Threshold
	for _, s := range b.sessions {
		if s.inSlot {
			s.inSlot = false
			s.bits <- bit
		}
	}
}

func (b *Bus) abortSessions() {
	for _, s := range b.sessions {
		close(s.done)
		<-s.finished
	}
	b.sessions = nil
}
