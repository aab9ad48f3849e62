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

// emulator answers a bus master on behalf of one key. ROM-only keys
// finish the cycle after a ROM command; memory keys stay selected and
// accept the memory function commands. COPY SCRATCHPAD writes into the
// emulated key's data.
type emulator struct {
	proto    *protocol
	rom      []byte
	mem      []byte
	scratch  []byte
	ta       uint16
	es       byte
	filled   bool // es marks a byte written since the last address
	selected bool
}

var (
	_ onewire.Device      = (*emulator)(nil)
	_ onewire.BusResetter = (*emulator)(nil)
)

func newEmulator(local int, data []byte) *emulator {
	p := &protocols[local]
	e := &emulator{
		proto: p,
		rom:   data[:onewire.ROMSize],
		mem:   p.mem(data),
	}
	if p.kind != memNone {
		e.scratch = make([]byte, p.pageSize)
	}
	return e
}

// BusReset implements onewire.BusResetter.
func (e *emulator) BusReset() {
	e.selected = false
}

// HandleCommand implements onewire.Device.
func (e *emulator) HandleCommand(s *onewire.Slave, cmd byte) onewire.CommandResult {
	if e.selected {
		return e.handleFunction(s, cmd)
	}
	switch cmd {
	case onewire.CmdSearchROM:
		selected, ok := s.EmulateSearch(e.rom)
		if !ok || !selected {
			return onewire.CommandAbort
		}
		return e.selectDevice()
	case onewire.CmdReadROM, onewire.CmdReadROMLegacy:
		if !s.Send(e.rom) {
			return onewire.CommandAbort
		}
		return e.selectDevice()
	case onewire.CmdMatchROM:
		var rom [onewire.ROMSize]byte
		if !s.Receive(rom[:]) || !bytes.Equal(rom[:], e.rom) {
			return onewire.CommandAbort
		}
		return e.selectDevice()
	case onewire.CmdSkipROM:
		return e.selectDevice()
	default:
		return onewire.CommandUnknown
	}
}

func (e *emulator) selectDevice() onewire.CommandResult {
	if e.proto.kind == memNone {
		return onewire.CommandDone
	}
	e.selected = true
	return onewire.CommandMore
}

func (e *emulator) handleFunction(s *onewire.Slave, cmd byte) onewire.CommandResult {
	switch cmd {
	case cmdReadMemory:
		addr, ok := e.receiveAddress(s)
		if !ok {
			return onewire.CommandAbort
		}
		return e.stream(s, e.mem, int(addr))
	case cmdWriteScratchpad:
		addr, ok := e.receiveAddress(s)
		if !ok {
			return onewire.CommandAbort
		}
		e.writeScratchpad(s, addr)
		return onewire.CommandAbort
	case cmdReadScratchpad:
		return e.readScratchpad(s)
	case cmdCopyScratchpad:
		return e.copyScratchpad(s)
	default:
		return onewire.CommandUnknown
	}
}

func (e *emulator) receiveAddress(s *onewire.Slave) (uint16, bool) {
	var addr [2]byte
	n := 1
	if e.proto.kind == memSRAM {
		n = 2
	}
	if !s.Receive(addr[:n]) {
		return 0, false
	}
	return uint16(addr[0]) | uint16(addr[1])<<8, true
}

// stream sends buf from start until the master resets or buf ends.
func (*emulator) stream(s *onewire.Slave, buf []byte, start int) onewire.CommandResult {
	for i := start; i < len(buf); i++ {
		if !s.Send(buf[i : i+1]) {
			return onewire.CommandAbort
		}
	}
	return onewire.CommandDone
}

// writeScratchpad fills the scratchpad from the page offset of addr until
// the master resets.
func (e *emulator) writeScratchpad(s *onewire.Slave, addr uint16) {
	if int(addr) >= len(e.mem) {
		return
	}
	e.ta = addr
	e.filled = false
	for i := int(addr) % len(e.scratch); i < len(e.scratch); i++ {
		if !s.Receive(e.scratch[i : i+1]) {
			return
		}
		e.es = byte(i)
		e.filled = true
	}
}

// scratchOffset returns the page offset of the target address, or false
// when no data was written there.
func (e *emulator) scratchOffset() (int, bool) {
	offset := int(e.ta) % len(e.scratch)
	return offset, e.filled && int(e.es) >= offset
}

func (e *emulator) readScratchpad(s *onewire.Slave) onewire.CommandResult {
	if e.proto.kind == memEEPROM {
		addr, ok := e.receiveAddress(s)
		if !ok {
			return onewire.CommandAbort
		}
		return e.stream(s, e.scratch, int(addr))
	}
	offset, ok := e.scratchOffset()
	if !ok {
		return onewire.CommandAbort
	}
	header := []byte{byte(e.ta), byte(e.ta >> 8), e.es}
	if !s.Send(header) {
		return onewire.CommandAbort
	}
	return e.stream(s, e.scratch[:int(e.es)+1], offset)
}

func (e *emulator) copyScratchpad(s *onewire.Slave) onewire.CommandResult {
	if e.proto.kind == memEEPROM {
		var key [1]byte
		if !s.Receive(key[:]) || key[0] != eepromCopyKey {
			return onewire.CommandAbort
		}
		copy(e.mem, e.scratch)
		return onewire.CommandDone
	}
	offset, ok := e.scratchOffset()
	var auth [3]byte
	if !s.Receive(auth[:]) || !ok || auth != [3]byte{byte(e.ta), byte(e.ta >> 8), e.es} {
		return onewire.CommandAbort
	}
	copy(e.mem[int(e.ta):], e.scratch[offset:int(e.es)+1])
	done := [1]byte{copyDoneMarker}
	for s.Send(done[:]) {
	}
	return onewire.CommandAbort
}

// EmulateStart implements ibutton.Group. The emulator owns data until
// EmulateStop; a master copying the scratchpad writes into it.
func (Group) EmulateStart(env *ibutton.Env, local int, data []byte) {
	if env.Slave == nil {
		return
	}
	env.Slave.Attach(newEmulator(local, data))
	if err := env.Slave.Start(); err != nil {
		ibutton.Debugf("dallas: start emulation of %s: %v", protocols[local].desc.Name, err)
	}
}

// EmulateStop implements ibutton.Group.
func (Group) EmulateStop(env *ibutton.Env, _ int) {
	if env.Slave == nil {
		return
	}
	env.Slave.Stop()
	env.Slave.Detach()
}
