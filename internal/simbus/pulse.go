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
	"math/bits"
	"math/rand"
	"sync"
)

// Pulse is one edge seen by a comparator: the line level after the edge
// and how long the previous level lasted.
type Pulse struct {
	Duration uint32
	Level    bool
}

// Cyfral waveform timing in microseconds. A bit is a high phase followed
// by a low phase; a long low is a 1.
const (
	cyfralShort = 60
	cyfralLong  = 140
)

// CyfralFrame encodes one Cyfral frame: the start nibble and eight data
// nibbles. Repeating the frame supplies the stop nibble.
func CyfralFrame(data uint16) []Pulse {
	nibbleCodes := [4]byte{0x7, 0xB, 0xD, 0xE}
	out := make([]Pulse, 0, 72)
	emit := func(nibble byte) {
		for i := 3; i >= 0; i-- {
			high, low := uint32(cyfralLong), uint32(cyfralShort)
			if nibble&(1<<i) != 0 {
				high, low = cyfralShort, cyfralLong
			}
			out = append(out, Pulse{Level: false, Duration: high}, Pulse{Level: true, Duration: low})
		}
	}
	emit(0x1)
	for i := range 8 {
		emit(nibbleCodes[(data>>(14-2*i))&0x3])
	}
	return out
}

// Metakom waveform timing in microseconds. A bit is a low phase followed
// by a high phase; a long low is a 1. Frames start with a long high.
const (
	metakomShort  = 100
	metakomLong   = 200
	metakomMarker = 800
)

// MetakomFrame encodes one Metakom frame: the start marker, the 010 start
// word and four bytes, each followed by an even parity bit.
func MetakomFrame(data [4]byte) []Pulse {
	out := make([]Pulse, 0, 96)
	bit := func(v bool) {
		low, high := uint32(metakomShort), uint32(metakomLong)
		if v {
			low, high = metakomLong, metakomShort
		}
		out = append(out, Pulse{Level: true, Duration: low}, Pulse{Level: false, Duration: high})
	}
	out = append(out, Pulse{Level: true, Duration: metakomShort}, Pulse{Level: false, Duration: metakomMarker})
	bit(false)
	bit(true)
	bit(false)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bit(b&(1<<i) != 0)
		}
		bit(bits.OnesCount8(b)%2 == 1)
	}
	return out
}

// Repeat concatenates n copies of frame.
func Repeat(frame []Pulse, n int) []Pulse {
	out := make([]Pulse, 0, len(frame)*n)
	for range n {
		out = append(out, frame...)
	}
	return out
}

// Noise returns n edges with alternating levels and durations drawn
// uniformly from [minUs, maxUs], reproducible for a given seed.
func Noise(seed int64, n int, minUs, maxUs uint32) []Pulse {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	out := make([]Pulse, n)
	level := true
	for i := range out {
		out[i] = Pulse{Level: level, Duration: minUs + uint32(rng.Int63n(int64(maxUs-minUs+1)))}
		level = !level
	}
	return out
}

// Comparator replays a waveform into the edge callback each time it is
// started. Delivery is synchronous inside Start.
type Comparator struct {
	pulses []Pulse
	mu     sync.Mutex
	starts int
	stops  int
}

// NewComparator creates a comparator that replays pulses.
func NewComparator(pulses []Pulse) *Comparator {
	return &Comparator{pulses: pulses}
}

// SetWaveform replaces the waveform.
func (c *Comparator) SetWaveform(pulses []Pulse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pulses = pulses
}

// Start delivers the waveform to fn.
func (c *Comparator) Start(fn func(level bool, durationUs uint32)) error {
	c.mu.Lock()
	c.starts++
	pulses := c.pulses
	c.mu.Unlock()
	for _, p := range pulses {
		fn(p.Level, p.Duration)
	}
	return nil
}

// Stop counts the call.
func (c *Comparator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

// Counts returns how many times Start and Stop were called.
func (c *Comparator) Counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}
