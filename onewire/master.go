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

import (
	"encoding/binary"

	"periph.io/x/conn/v3/onewire"
)

// ROM layout.
const (
	ROMSize        = 8
	romFamilyIndex = 0
	romCRCIndex    = ROMSize - 1
)

// ROM commands understood by every 1-Wire slave.
const (
	CmdSearchROM     byte = 0xF0
	CmdAlarmSearch   byte = 0xEC
	CmdReadROM       byte = 0x33
	CmdMatchROM      byte = 0x55
	CmdSkipROM       byte = 0xCC
	CmdReadROMLegacy byte = 0x0F
)

// SearchMode selects the ROM command issued at the start of a search pass.
type SearchMode uint8

const (
	// SearchNormal enumerates every device (SEARCH ROM).
	SearchNormal SearchMode = iota
	// SearchConditional enumerates devices in alarm state only.
	SearchConditional
)

// Command returns the ROM command byte for the mode.
func (m SearchMode) Command() byte {
	if m == SearchConditional {
		return CmdAlarmSearch
	}
	return CmdSearchROM
}

// Master is the master-role bus contract shared by the GPIO Host and
// serial adapters. Bus-level calls report through booleans; a failed reset
// means no device answered and is not an error.
type Master interface {
	Start()
	Stop()
	Reset() bool
	ReadBit() bool
	WriteBit(v bool)
	Read() byte
	Write(b byte)
	ReadBytes(buf []byte)
	WriteBytes(buf []byte)
	// Search finds the next ROM on the bus and copies it into rom.
	Search(rom []byte, mode SearchMode) bool
	ResetSearch()
	// TargetSearch restricts the next Search to devices of one family.
	TargetSearch(family byte)
	// Delay waits us microseconds on the master's time base.
	Delay(us uint32)
}

// CRC8 returns the Dallas/Maxim CRC of data.
func CRC8(data []byte) byte {
	return onewire.CalcCRC(data)
}

// ValidROM reports whether rom holds 8 bytes whose last byte is the CRC of
// the first seven.
func ValidROM(rom []byte) bool {
	return len(rom) >= ROMSize && onewire.CheckCRC(rom[:ROMSize])
}

// FamilyCode returns the family byte of rom.
func FamilyCode(rom []byte) byte {
	return rom[romFamilyIndex]
}

// SealROM recomputes the CRC byte of rom in place.
func SealROM(rom []byte) {
	rom[romCRCIndex] = onewire.CalcCRC(rom[:romCRCIndex])
}

// AddressOf converts rom to a periph onewire.Address.
func AddressOf(rom []byte) onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(rom[:ROMSize]))
}

// ROMOf converts a periph onewire.Address back to ROM bytes.
func ROMOf(addr onewire.Address) [ROMSize]byte {
	var rom [ROMSize]byte
	binary.LittleEndian.PutUint64(rom[:], uint64(addr))
	return rom
}
