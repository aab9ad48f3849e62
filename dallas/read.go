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

package dallas

import (
	"bytes"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

// Memory function commands.
const (
	cmdReadMemory      byte = 0xF0
	cmdWriteScratchpad byte = 0x0F
	cmdReadScratchpad  byte = 0xAA
	cmdCopyScratchpad  byte = 0x55
	copyDoneMarker     byte = 0xAA
	eepromCopyKey      byte = 0xA5
)

const (
	copyPollAttempts    = 32
	eepromProgramTimeUs = 10000
)

// Read implements ibutton.Group. It searches the bus for the first device,
// confirms its ROM with READ ROM and reads its memory when the family has
// any. A ROM failing its CRC is still returned when both reads agree, so
// the caller can report it as invalid. The host must already be started.
func (g Group) Read(env *ibutton.Env, data []byte) (int, bool) {
	host := env.Host
	if host == nil {
		return 0, false
	}
	rom := data[:onewire.ROMSize]

	host.ResetSearch()
	if !host.Search(rom, onewire.SearchNormal) {
		return 0, false
	}

	var check [onewire.ROMSize]byte
	if !readRawROM(host, check[:]) || !bytes.Equal(check[:], rom) {
		return 0, false
	}

	local := g.IDByFamilyCode(onewire.FamilyCode(rom))
	if !onewire.ValidROM(rom) {
		ibutton.Debugf("dallas: %v: % X", ibutton.ErrCRCMismatch, rom)
		return local, true
	}
	p := &protocols[local]
	if p.kind != memNone && !readMemory(host, p, p.mem(data)) {
		ibutton.Debugf("dallas: %s memory read failed", p.desc.Name)
		return 0, false
	}
	return local, true
}

// Compare implements ibutton.KeyComparer by reading the ROM of the key on
// the bus.
func (Group) Compare(env *ibutton.Env, _ int, data []byte) bool {
	if env.Host == nil {
		return false
	}
	var rom [onewire.ROMSize]byte
	return readROM(env.Host, rom[:]) && bytes.Equal(rom[:], data[:onewire.ROMSize])
}

func readROM(host onewire.Master, rom []byte) bool {
	return readRawROM(host, rom) && onewire.ValidROM(rom)
}

func readRawROM(host onewire.Master, rom []byte) bool {
	if !host.Reset() {
		return false
	}
	host.Write(onewire.CmdReadROM)
	host.ReadBytes(rom)
	return true
}

// selectFunction resets the bus, addresses the only device and issues a
// memory function command.
func selectFunction(host onewire.Master, cmd byte) bool {
	if !host.Reset() {
		return false
	}
	host.Write(onewire.CmdSkipROM)
	host.Write(cmd)
	return true
}

func writeAddress(host onewire.Master, p *protocol, addr uint16) {
	host.Write(byte(addr))
	if p.kind == memSRAM {
		host.Write(byte(addr >> 8))
	}
}

func readMemory(host onewire.Master, p *protocol, mem []byte) bool {
	if !selectFunction(host, cmdReadMemory) {
		return false
	}
	writeAddress(host, p, 0)
	host.ReadBytes(mem)
	return true
}
