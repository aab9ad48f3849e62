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

// Package pulse classifies pulse trains from contactless keys that only
// broadcast a fixed waveform. A Decoder fans every edge out to a small set
// of independent protocol matchers and reports the first one that
// completed a message.
package pulse

import "fmt"

// MaxProtocols is the number of protocol slots in a Decoder.
const MaxProtocols = 5

// Protocol is a stateful matcher for one waveform format.
type Protocol interface {
	// Feed processes one edge. level is the line level after the edge and
	// durationUs how long the previous level lasted.
	Feed(level bool, durationUs uint32)
	// Decoded reports whether a complete message was received.
	Decoded() bool
	// Reset discards all decode state.
	Reset()
	// Data copies the decoded payload into out and returns its length.
	Data(out []byte) int
	// Size is the payload size in bytes.
	Size() int
}

// Decoder feeds edges to registered protocols. It holds weak references
// to the protocols; callers own them.
type Decoder struct {
	protocols [MaxProtocols]Protocol
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// AddProtocol registers p under id. It panics if id is out of range or
// already taken.
func (d *Decoder) AddProtocol(p Protocol, id int) {
	if id < 0 || id >= MaxProtocols {
		panic(fmt.Sprintf("pulse: protocol id %d out of range", id))
	}
	if d.protocols[id] != nil {
		panic(fmt.Sprintf("pulse: protocol id %d already registered", id))
	}
	d.protocols[id] = p
}

// Reset resets every registered protocol.
func (d *Decoder) Reset() {
	for _, p := range d.protocols {
		if p != nil {
			p.Reset()
		}
	}
}

// ProcessPulse feeds one edge to every registered protocol.
func (d *Decoder) ProcessPulse(level bool, durationUs uint32) {
	for _, p := range d.protocols {
		if p != nil {
			p.Feed(level, durationUs)
		}
	}
}

// DecodedIndex returns the lowest id whose protocol completed a message.
func (d *Decoder) DecodedIndex() (int, bool) {
	for id, p := range d.protocols {
		if p != nil && p.Decoded() {
			return id, true
		}
	}
	return 0, false
}

// Data copies the payload of protocol id into out and returns its length.
func (d *Decoder) Data(id int, out []byte) int {
	if id < 0 || id >= MaxProtocols || d.protocols[id] == nil {
		panic(fmt.Sprintf("pulse: protocol id %d not registered", id))
	}
	return d.protocols[id].Data(out)
}
