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

// Session is one reset cycle of a virtual slave. Each bit call blocks until
// the master runs the next time slot; ok turns false once the master
// resets the bus or the bus is closed.
type Session struct {
	slots    chan struct{}
	intent   chan bool
	bits     chan bool
	done     chan struct{}
	finished chan struct{}
	inSlot   bool
}

func newSession() *Session {
	return &Session{
		slots:    make(chan struct{}),
		intent:   make(chan bool),
		bits:     make(chan bool),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// exchange takes part in one time slot. drive holds the line low for the
// slot's sample point. It returns the bit the master wrote.
func (s *Session) exchange(drive bool) (bit, ok bool) {
	select {
	case <-s.slots:
	case <-s.done:
		return false, false
	}
	s.intent <- drive
	select {
	case bit = <-s.bits:
		return bit, true
	case <-s.done:
		return false, false
	}
}

// ReadBit receives one bit written by the master.
func (s *Session) ReadBit() (bit, ok bool) {
	return s.exchange(false)
}

// WriteBit answers one master read slot.
func (s *Session) WriteBit(v bool) bool {
	_, ok := s.exchange(!v)
	return ok
}

// ReadByte receives one byte, LSB first.
func (s *Session) ReadByte() (byte, bool) {
	var b byte
	for i := range 8 {
		bit, ok := s.ReadBit()
		if !ok {
			return 0, false
		}
		if bit {
			b |= 1 << i
		}
	}
	return b, true
}

// WriteByte sends one byte, LSB first.
func (s *Session) WriteByte(b byte) bool {
	for i := range 8 {
		if !s.WriteBit(b&(1<<i) != 0) {
			return false
		}
	}
	return true
}

// ReadBytes receives n bytes.
func (s *Session) ReadBytes(n int) ([]byte, bool) {
	buf := make([]byte, n)
	for i := range buf {
		b, ok := s.ReadByte()
		if !ok {
			return nil, false
		}
		buf[i] = b
	}
	return buf, true
}

// WriteBytes sends data.
func (s *Session) WriteBytes(data []byte) bool {
	for _, b := range data {
		if !s.WriteByte(b) {
			return false
		}
	}
	return true
}

// Search answers one SEARCH ROM pass. It returns false when the master
// selected another branch.
func (s *Session) Search(rom [8]byte) bool {
	for i := range 64 {
		bit := rom[i/8]&(1<<(i%8)) != 0
		if !s.WriteBit(bit) || !s.WriteBit(!bit) {
			return false
		}
		dir, ok := s.ReadBit()
		if !ok || dir != bit {
			return false
		}
	}
	return true
}
