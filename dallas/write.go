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

// Blank programming commands.
const (
	cmdRW1990Flag1    byte = 0xD1 // version 1: unlock with 0, lock with 1
	cmdRW1990Flag2    byte = 0x1D // version 2: unlock with 1, lock with 0
	cmdRW1990WriteROM byte = 0xD5
	cmdTM2004Write    byte = 0x3C
)

// Blank programming delays in microseconds.
const (
	rw1990BitDelay     = 5000
	rw1990FlagDelay    = 10
	tm2004AnswerDelay  = 600
	tm2004ProgramDelay = 50000
)

// RW1990 revisions. Version 1 takes inverted data.
const (
	rw1990VersionInvert = 1
	rw1990VersionPlain  = 2
)

type blankWriter struct {
	name  string
	write func(host onewire.Master, rom []byte) bool
}

// blanks are tried in order until one verifies.
var blanks = []blankWriter{
	{name: "RW1990.1", write: func(h onewire.Master, rom []byte) bool { return writeRW1990(h, rw1990VersionInvert, rom) }},
	{name: "RW1990.2", write: func(h onewire.Master, rom []byte) bool { return writeRW1990(h, rw1990VersionPlain, rom) }},
	{name: "TM2004", write: writeTM2004},
}

// WriteBlank implements ibutton.Group. The ROM of the key is programmed
// onto the blank on the bus and read back.
func (Group) WriteBlank(env *ibutton.Env, _ int, data []byte) bool {
	if env.Host == nil {
		return false
	}
	rom := data[:onewire.ROMSize]
	for _, b := range blanks {
		if b.write(env.Host, rom) && verifyROM(env.Host, rom) {
			ibutton.Debugf("dallas: wrote ROM % X onto %s", rom, b.name)
			return true
		}
	}
	return false
}

func verifyROM(host onewire.Master, rom []byte) bool {
	var got [onewire.ROMSize]byte
	return readROM(host, got[:]) && bytes.Equal(got[:], rom)
}

func writeRW1990(host onewire.Master, version int, rom []byte) bool {
	flag, unlock := cmdRW1990Flag1, false
	if version == rw1990VersionPlain {
		flag, unlock = cmdRW1990Flag2, true
	}

	if !host.Reset() {
		return false
	}
	host.Write(flag)
	host.WriteBit(unlock)
	host.Delay(rw1990FlagDelay)

	if !host.Reset() {
		return false
	}
	host.Write(cmdRW1990WriteROM)
	for _, b := range rom {
		if version == rw1990VersionInvert {
			b = ^b
		}
		for i := range 8 {
			host.WriteBit(b&(1<<i) != 0)
			host.Delay(rw1990BitDelay)
		}
	}

	if !host.Reset() {
		return false
	}
	host.Write(flag)
	host.WriteBit(!unlock)
	host.Delay(rw1990FlagDelay)
	return true
}

func writeTM2004(host onewire.Master, rom []byte) bool {
	if !host.Reset() {
		return false
	}
	host.Write(cmdTM2004Write)
	host.Write(0x00)
	host.Write(0x00)
	for _, b := range rom {
		host.Write(b)
		_ = host.Read() // CRC of the written byte
		host.Delay(tm2004AnswerDelay)
		host.WriteBit(true)
		host.Delay(tm2004ProgramDelay)
		if host.Read() != b {
			return false
		}
	}
	return true
}

// WriteCopy implements ibutton.Group. The memory of the key is copied onto
// a key of the same family on the bus and read back.
func (Group) WriteCopy(env *ibutton.Env, local int, data []byte) bool {
	host := env.Host
	if host == nil {
		return false
	}
	p := &protocols[local]
	var target [onewire.ROMSize]byte
	if !readROM(host, target[:]) || onewire.FamilyCode(target[:]) != p.family {
		return false
	}

	mem := p.mem(data)
	switch p.kind {
	case memSRAM:
		for addr := 0; addr < len(mem); addr += p.pageSize {
			if !writeSRAMPage(host, uint16(addr), mem[addr:addr+p.pageSize]) { //nolint:gosec // memory sizes fit in 16 bits
				ibutton.Debugf("dallas: %s page at %#04x: %v", p.desc.Name, addr, ibutton.ErrWriteVerify)
				return false
			}
		}
	case memEEPROM:
		if !writeEEPROM(host, mem) {
			return false
		}
	default:
		return false
	}

	readBack := make([]byte, len(mem))
	return readMemory(host, p, readBack) && bytes.Equal(readBack, mem)
}

func writeSRAMPage(host onewire.Master, addr uint16, page []byte) bool {
	auth := []byte{byte(addr), byte(addr >> 8), byte(len(page) - 1)}

	if !selectFunction(host, cmdWriteScratchpad) {
		return false
	}
	host.WriteBytes(auth[:2])
	host.WriteBytes(page)

	if !selectFunction(host, cmdReadScratchpad) {
		return false
	}
	got := make([]byte, len(auth)+len(page))
	host.ReadBytes(got)
	if !bytes.Equal(got[:len(auth)], auth) || !bytes.Equal(got[len(auth):], page) {
		return false
	}

	if !selectFunction(host, cmdCopyScratchpad) {
		return false
	}
	host.WriteBytes(auth)
	for range copyPollAttempts {
		if host.Read() == copyDoneMarker {
			return true
		}
	}
	return false
}

func writeEEPROM(host onewire.Master, mem []byte) bool {
	if !selectFunction(host, cmdWriteScratchpad) {
		return false
	}
	host.Write(0x00)
	host.WriteBytes(mem)

	if !selectFunction(host, cmdReadScratchpad) {
		return false
	}
	host.Write(0x00)
	got := make([]byte, len(mem))
	host.ReadBytes(got)
	if !bytes.Equal(got, mem) {
		return false
	}

	if !selectFunction(host, cmdCopyScratchpad) {
		return false
	}
	host.Write(eepromCopyKey)
	host.Delay(eepromProgramTimeUs)
	return true
}
