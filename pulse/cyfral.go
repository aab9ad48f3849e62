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

// Cyfral framing.
const (
	CyfralDataSize    = 2
	cyfralMaxPeriodUs = 230
	cyfralStartNibble = 0x1
	cyfralIdleNibble  = 0xF // shift register fill that cannot look like a start
	cyfralDataNibbles = 8
)

type cyfralState uint8

const (
	cyfralWaitStart cyfralState = iota
	cyfralReadData
	cyfralReadStop
)

// Cyfral decodes the Cyfral key waveform. Each bit is a high phase
// followed by a low phase of at most 230us in total; a low longer than
// half the period is a 1. A frame is the 0001 start nibble, eight data
// nibbles each carrying two bits and the next start nibble as a stop.
type Cyfral struct {
	highUs  uint32
	value   uint16
	nibble  byte
	bits    int
	nibbles int
	state   cyfralState
	haveHi  bool
	decoded bool
	data    [CyfralDataSize]byte
}

// NewCyfral returns a reset Cyfral matcher.
func NewCyfral() *Cyfral {
	c := &Cyfral{}
	c.Reset()
	return c
}

// Size implements Protocol.
func (*Cyfral) Size() int { return CyfralDataSize }

// Decoded implements Protocol.
func (c *Cyfral) Decoded() bool { return c.decoded }

// Reset implements Protocol.
func (c *Cyfral) Reset() {
	*c = Cyfral{nibble: cyfralIdleNibble}
}

// Data implements Protocol.
func (c *Cyfral) Data(out []byte) int {
	return copy(out, c.data[:])
}

// Feed implements Protocol.
func (c *Cyfral) Feed(level bool, durationUs uint32) {
	if c.decoded {
		return
	}
	if !level {
		c.highUs = durationUs
		c.haveHi = true
		return
	}
	if !c.haveHi {
		return
	}
	c.haveHi = false

	period := c.highUs + durationUs
	if period > cyfralMaxPeriodUs {
		c.restart()
		return
	}
	c.pushBit(durationUs >= period/2)
}

func (c *Cyfral) restart() {
	c.state = cyfralWaitStart
	c.nibble = cyfralIdleNibble
	c.bits = 0
	c.nibbles = 0
	c.value = 0
}

func (c *Cyfral) pushBit(bit bool) {
	c.nibble <<= 1
	if bit {
		c.nibble |= 1
	}
	c.nibble &= 0xF

	if c.state == cyfralWaitStart {
		if c.nibble == cyfralStartNibble {
			c.state = cyfralReadData
			c.nibble = 0
			c.bits = 0
		}
		return
	}

	c.bits++
	if c.bits < 4 {
		return
	}
	nibble := c.nibble
	c.nibble = 0
	c.bits = 0

	if c.state == cyfralReadStop {
		if nibble == cyfralStartNibble {
			c.data[0] = byte(c.value >> 8)
			c.data[1] = byte(c.value)
			c.decoded = true
			return
		}
		c.restart()
		return
	}

	code, ok := cyfralNibbleCode(nibble)
	if !ok {
		c.restart()
		return
	}
	c.value = c.value<<2 | uint16(code)
	c.nibbles++
	if c.nibbles == cyfralDataNibbles {
		c.state = cyfralReadStop
	}
}

// cyfralNibbleCode maps a data nibble, which has exactly one zero bit, to
// its two-bit value.
func cyfralNibbleCode(nibble byte) (byte, bool) {
	switch nibble {
	case 0xE:
		return 3, true
	case 0xD:
		return 2, true
	case 0xB:
		return 1, true
	case 0x7:
		return 0, true
	default:
		return 0, false
	}
}
