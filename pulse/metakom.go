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

package pulse

import "math/bits"

// Metakom framing.
const (
	MetakomDataSize      = 4
	metakomSyncSamples   = 10
	metakomStartWord     = 0x2 // 010
	metakomWordBits      = 3
	metakomByteBits      = 8
	metakomMaxStartDelay = 64
)

type metakomState uint8

const (
	metakomSync metakomState = iota
	metakomWaitStart
	metakomReadStartWord
	metakomReadData
	metakomWaitStop
	metakomReadStopWord
)

// Metakom decodes the Metakom key waveform. Each bit is a low phase
// followed by a high phase; the bit period is learned from the first ten
// bits and a low longer than half of it is a 1. A frame starts with a high
// longer than one period and the 010 start word, followed by four bytes,
// each MSB first with an even parity bit. The next frame's start marker
// and start word terminate the message.
type Metakom struct {
	lowUs     uint32
	periodSum uint32
	period    uint32
	samples   int
	waited    int
	bits      int
	index     int
	word      byte
	current   byte
	state     metakomState
	haveLow   bool
	decoded   bool
	data      [MetakomDataSize]byte
}

// NewMetakom returns a reset Metakom matcher.
func NewMetakom() *Metakom {
	return &Metakom{}
}

// Size implements Protocol.
func (*Metakom) Size() int { return MetakomDataSize }

// Decoded implements Protocol.
func (m *Metakom) Decoded() bool { return m.decoded }

// Reset implements Protocol.
func (m *Metakom) Reset() {
	*m = Metakom{}
}

// Data implements Protocol.
func (m *Metakom) Data(out []byte) int {
	return copy(out, m.data[:])
}

// Feed implements Protocol. Bits complete on the falling edge, using the
// low time stored at the preceding rising edge.
func (m *Metakom) Feed(level bool, durationUs uint32) {
	if m.decoded {
		return
	}
	if level {
		m.lowUs = durationUs
		m.haveLow = true
		return
	}
	if !m.haveLow {
		return
	}
	m.haveLow = false
	m.process(m.lowUs, durationUs)
}

func (m *Metakom) resync() {
	m.state = metakomSync
	m.periodSum = 0
	m.samples = 0
}

func (m *Metakom) startWord(next metakomState) {
	m.state = next
	m.word = 0
	m.bits = 0
}

func (m *Metakom) process(lowUs, highUs uint32) {
	switch m.state {
	case metakomSync:
		m.periodSum += lowUs + highUs
		m.samples++
		if m.samples == metakomSyncSamples {
			m.period = m.periodSum / metakomSyncSamples
			m.state = metakomWaitStart
			m.waited = 0
		}
		return
	case metakomWaitStart:
		if highUs > m.period {
			m.startWord(metakomReadStartWord)
			return
		}
		m.waited++
		if m.waited > metakomMaxStartDelay {
			m.resync()
		}
		return
	}

	if highUs > m.period {
		if m.state == metakomWaitStop {
			m.startWord(metakomReadStopWord)
			return
		}
		// a marker in the middle of a frame restarts it
		m.startWord(metakomReadStartWord)
		return
	}

	bit := lowUs >= m.period/2
	switch m.state {
	case metakomReadStartWord, metakomReadStopWord:
		m.word <<= 1
		if bit {
			m.word |= 1
		}
		m.bits++
		if m.bits < metakomWordBits {
			return
		}
		if m.word != metakomStartWord {
			m.resync()
			return
		}
		if m.state == metakomReadStopWord {
			m.decoded = true
			return
		}
		m.state = metakomReadData
		m.index = 0
		m.current = 0
		m.bits = 0
	case metakomReadData:
		m.bits++
		if m.bits <= metakomByteBits {
			m.current <<= 1
			if bit {
				m.current |= 1
			}
			return
		}
		ones := bits.OnesCount8(m.current)
		if bit {
			ones++
		}
		if ones%2 != 0 {
			m.resync()
			return
		}
		m.data[m.index] = m.current
		m.index++
		m.current = 0
		m.bits = 0
		if m.index == MetakomDataSize {
			m.state = metakomWaitStop
		}
	case metakomWaitStop:
		m.resync()
	}
}
