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

// BitBus is the slot-level subset of a master needed by the search algorithm.
type BitBus interface {
	Reset() bool
	Write(b byte)
	ReadBit() bool
	WriteBit(v bool)
}

// SearchCursor is the ROM search cursor kept between passes.
type SearchCursor struct {
	rom                   [ROMSize]byte
	lastDiscrepancy       int
	lastFamilyDiscrepancy int
	lastDevice            bool
}

// Reset starts a new enumeration on the next pass.
func (s *SearchCursor) Reset() {
	*s = SearchCursor{}
}

// Target makes the next pass start at the first device of family.
func (s *SearchCursor) Target(family byte) {
	s.Reset()
	s.rom[romFamilyIndex] = family
	s.lastDiscrepancy = 64
}

// Next runs one search pass. Each bit position is a triplet: the id bit,
// its complement and the direction written back. A pass that ends without
// a discrepancy left marks the last device, and the next call starts over.
func (s *SearchCursor) Next(bus BitBus, guard Guard, out []byte, mode SearchMode) bool {
	if len(out) < ROMSize {
		panic("onewire: search buffer shorter than a ROM")
	}
	if s.lastDevice {
		s.Reset()
		return false
	}
	if !bus.Reset() {
		s.Reset()
		return false
	}
	bus.Write(mode.Command())

	lastZero := 0
	bitNumber := 1
	for ; bitNumber <= 64; bitNumber++ {
		byteIndex := (bitNumber - 1) / 8
		mask := byte(1) << ((bitNumber - 1) % 8)

		exit := guard.Enter()
		idBit := bus.ReadBit()
		cmpBit := bus.ReadBit()
		if idBit && cmpBit {
			exit()
			break
		}

		var direction bool
		switch {
		case idBit != cmpBit:
			direction = idBit
		case bitNumber < s.lastDiscrepancy:
			direction = s.rom[byteIndex]&mask != 0
		default:
			direction = bitNumber == s.lastDiscrepancy
		}
		if idBit == cmpBit && !direction {
			lastZero = bitNumber
			if lastZero < 9 {
				s.lastFamilyDiscrepancy = lastZero
			}
		}

		if direction {
			s.rom[byteIndex] |= mask
		} else {
			s.rom[byteIndex] &^= mask
		}
		bus.WriteBit(direction)
		exit()
	}

	if bitNumber <= 64 || s.rom[romFamilyIndex] == 0 {
		s.Reset()
		return false
	}
	s.lastDiscrepancy = lastZero
	if lastZero == 0 {
		s.lastDevice = true
	}
	copy(out, s.rom[:])
	return true
}
