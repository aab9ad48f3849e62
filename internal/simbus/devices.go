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

	"periph.io/x/conn/v3/onewire"
)

// Command bytes understood by the virtual keys.
const (
	cmdReadROM       = 0x33
	cmdReadROMLegacy = 0x0F
	cmdSearchROM     = 0xF0
	cmdMatchROM      = 0x55
	cmdSkipROM       = 0xCC

	cmdReadMemory     = 0xF0
	cmdWriteScratch   = 0x0F
	cmdReadScratch    = 0xAA
	cmdCopyScratch    = 0x55
	copyDoneMarker    = 0xAA
	eepromCopyKey     = 0xA5
	cmdRW1990Flag1    = 0xD1
	cmdRW1990Flag2    = 0x1D
	cmdRW1990WriteROM = 0xD5
	cmdTM2004Write    = 0x3C
)

// MakeROM returns a ROM with the given family and serial and a valid CRC.
func MakeROM(family byte, serial ...byte) [8]byte {
	var rom [8]byte
	rom[0] = family
	copy(rom[1:7], serial)
	rom[7] = onewire.CalcCRC(rom[:7])
	return rom
}

// romStore is a ROM shared between the device goroutine and the test.
type romStore struct {
	mu  sync.Mutex
	rom [8]byte
}

// ROM returns the current ROM.
func (r *romStore) ROM() [8]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rom
}

func (r *romStore) setByte(i int, b byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rom[i] = b
}

// serveROM handles the ROM command phase. It returns false when the
// device is not selected for a function command.
func serveROM(s *Session, rom [8]byte, cmd byte) bool {
	switch cmd {
	case cmdReadROM, cmdReadROMLegacy:
		return s.WriteBytes(rom[:])
	case cmdSearchROM:
		return s.Search(rom)
	case cmdMatchROM:
		got, ok := s.ReadBytes(8)
		return ok && [8]byte(got) == rom
	case cmdSkipROM:
		return true
	default:
		return false
	}
}

// ROMKey is a read-only key that only answers ROM commands, like a DS1990.
type ROMKey struct {
	romStore
}

// NewROMKey creates a ROM-only key.
func NewROMKey(rom [8]byte) *ROMKey {
	k := &ROMKey{}
	k.rom = rom
	return k
}

// Run implements Responder.
func (k *ROMKey) Run(s *Session) {
	cmd, ok := s.ReadByte()
	if !ok {
		return
	}
	serveROM(s, k.ROM(), cmd)
}

// MemoryKey is a key with battery-backed SRAM behind a scratchpad, like a
// DS1992 or DS1996.
type MemoryKey struct {
	romStore
	mem      []byte
	scratch  []byte
	memMu    sync.Mutex
	pageSize int
	ta       uint16
	es       byte
}

// NewMemoryKey creates a memory key with the given contents.
func NewMemoryKey(rom [8]byte, mem []byte, pageSize int) *MemoryKey {
	k := &MemoryKey{
		mem:      append([]byte(nil), mem...),
		scratch:  make([]byte, pageSize),
		pageSize: pageSize,
	}
	k.rom = rom
	return k
}

// Memory returns a copy of the memory contents.
func (k *MemoryKey) Memory() []byte {
	k.memMu.Lock()
	defer k.memMu.Unlock()
	return append([]byte(nil), k.mem...)
}

// Run implements Responder.
func (k *MemoryKey) Run(s *Session) {
	cmd, ok := s.ReadByte()
	if !ok || !serveROM(s, k.ROM(), cmd) {
		return
	}
	fn, ok := s.ReadByte()
	if !ok {
		return
	}
	k.memMu.Lock()
	defer k.memMu.Unlock()
	switch fn {
	case cmdReadMemory:
		addr, ok := readAddress(s)
		if !ok {
			return
		}
		for i := int(addr); ; i++ {
			b := byte(0xFF)
			if i < len(k.mem) {
				b = k.mem[i]
			}
			if !s.WriteByte(b) {
				return
			}
		}
	case cmdWriteScratch:
		addr, ok := readAddress(s)
		if !ok {
			return
		}
		k.ta = addr
		offset := int(addr) % k.pageSize
		for i := offset; i < k.pageSize; i++ {
			b, ok := s.ReadByte()
			if !ok {
				return
			}
			k.scratch[i] = b
			k.es = byte(i)
		}
	case cmdReadScratch:
		header := []byte{byte(k.ta), byte(k.ta >> 8), k.es}
		if !s.WriteBytes(header) {
			return
		}
		s.WriteBytes(k.scratch[int(k.ta)%k.pageSize : int(k.es)+1])
	case cmdCopyScratch:
		auth, ok := s.ReadBytes(3)
		if !ok || auth[0] != byte(k.ta) || auth[1] != byte(k.ta>>8) || auth[2] != k.es {
			return
		}
		offset := int(k.ta) % k.pageSize
		copy(k.mem[int(k.ta):int(k.ta)+int(k.es)+1-offset], k.scratch[offset:int(k.es)+1])
		for s.WriteByte(copyDoneMarker) {
		}
	}
}

func readAddress(s *Session) (uint16, bool) {
	lo, ok := s.ReadByte()
	if !ok {
		return 0, false
	}
	hi, ok := s.ReadByte()
	if !ok {
		return 0, false
	}
	return uint16(lo) | uint16(hi)<<8, true
}

// EEPROMKey is a key with a small EEPROM, like a DS1971. Addresses are a
// single byte.
type EEPROMKey struct {
	romStore
	mem     []byte
	scratch []byte
	memMu   sync.Mutex
}

// NewEEPROMKey creates an EEPROM key with the given contents.
func NewEEPROMKey(rom [8]byte, mem []byte) *EEPROMKey {
	k := &EEPROMKey{
		mem:     append([]byte(nil), mem...),
		scratch: make([]byte, len(mem)),
	}
	k.rom = rom
	return k
}

// Memory returns a copy of the EEPROM contents.
func (k *EEPROMKey) Memory() []byte {
	k.memMu.Lock()
	defer k.memMu.Unlock()
	return append([]byte(nil), k.mem...)
}

// Run implements Responder.
func (k *EEPROMKey) Run(s *Session) {
	cmd, ok := s.ReadByte()
	if !ok || !serveROM(s, k.ROM(), cmd) {
		return
	}
	fn, ok := s.ReadByte()
	if !ok {
		return
	}
	k.memMu.Lock()
	defer k.memMu.Unlock()
	switch fn {
	case cmdReadMemory, cmdReadScratch:
		src := k.mem
		if fn == cmdReadScratch {
			src = k.scratch
		}
		addr, ok := s.ReadByte()
		if !ok {
			return
		}
		for i := int(addr); ; i++ {
			b := byte(0xFF)
			if i < len(src) {
				b = src[i]
			}
			if !s.WriteByte(b) {
				return
			}
		}
	case cmdWriteScratch:
		addr, ok := s.ReadByte()
		if !ok {
			return
		}
		for i := int(addr); i < len(k.scratch); i++ {
			b, ok := s.ReadByte()
			if !ok {
				return
			}
			k.scratch[i] = b
		}
	case cmdCopyScratch:
		if key, ok := s.ReadByte(); ok && key == eepromCopyKey {
			copy(k.mem, k.scratch)
		}
	}
}

// RW1990 is a rewritable blank. Version 1 takes inverted data and unlocks
// with a 0 flag bit; version 2 takes plain data and unlocks with a 1.
type RW1990 struct {
	romStore
	version  int
	unlocked bool
}

// NewRW1990 creates a blank of the given version (1 or 2).
func NewRW1990(version int, rom [8]byte) *RW1990 {
	k := &RW1990{version: version}
	k.rom = rom
	return k
}

// Run implements Responder.
func (k *RW1990) Run(s *Session) {
	cmd, ok := s.ReadByte()
	if !ok {
		return
	}
	flagCmd := byte(cmdRW1990Flag1)
	if k.version == 2 {
		flagCmd = cmdRW1990Flag2
	}
	switch cmd {
	case flagCmd:
		bit, ok := s.ReadBit()
		if !ok {
			return
		}
		// version 1 unlocks on 0, version 2 on 1
		k.unlocked = bit == (k.version == 2)
	case cmdRW1990WriteROM:
		if !k.unlocked {
			return
		}
		for i := range 8 {
			b, ok := s.ReadByte()
			if !ok {
				return
			}
			if k.version == 1 {
				b = ^b
			}
			k.setByte(i, b)
		}
	default:
		serveROM(s, k.ROM(), cmd)
	}
}

// TM2004 is a blank programmed byte by byte with a confirmation pulse.
type TM2004 struct {
	romStore
}

// NewTM2004 creates a TM2004 blank.
func NewTM2004(rom [8]byte) *TM2004 {
	k := &TM2004{}
	k.rom = rom
	return k
}

// Run implements Responder.
func (k *TM2004) Run(s *Session) {
	cmd, ok := s.ReadByte()
	if !ok {
		return
	}
	if cmd != cmdTM2004Write {
		serveROM(s, k.ROM(), cmd)
		return
	}
	addr, ok := readAddress(s)
	if !ok {
		return
	}
	for i := int(addr); i < 8; i++ {
		b, ok := s.ReadByte()
		if !ok {
			return
		}
		if !s.WriteByte(onewire.CalcCRC([]byte{b})) {
			return
		}
		if _, ok := s.ReadBit(); !ok {
			return
		}
		k.setByte(i, b)
		if !s.WriteByte(k.ROM()[i]) {
			return
		}
	}
}
