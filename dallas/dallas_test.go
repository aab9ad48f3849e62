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
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/internal/simbus"
	"github.com/ZaparooProject/go-ibutton/keyfile"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

func newHostEnv(t *testing.T, devices ...simbus.Responder) *ibutton.Env {
	t.Helper()
	bus := simbus.NewBus()
	for _, d := range devices {
		bus.Attach(d)
	}
	t.Cleanup(bus.Close)
	host := onewire.NewHost(bus, bus.Clock(), onewire.WithHostGuard(onewire.NopGuard{}))
	host.Start()
	return &ibutton.Env{Host: host}
}

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + 3)
	}
	return out
}

func keyData(local int, rom [8]byte, mem []byte) []byte {
	data := make([]byte, protocols[local].desc.DataSize)
	copy(data, rom[:])
	copy(data[onewire.ROMSize:], mem)
	return data
}

func TestGroup_Descriptors(t *testing.T) {
	t.Parallel()

	g := New()
	assert.Equal(t, "Dallas", g.Name())
	require.Equal(t, 5, g.Len())

	tests := []struct {
		name     string
		local    int
		family   byte
		size     int
		features ibutton.Feature
	}{
		{name: "DS1990", local: DS1990, family: FamilyDS1990, size: 8, features: romFeatures},
		{name: "DS1992", local: DS1992, family: FamilyDS1992, size: 136, features: romFeatures | ibutton.FeatureExtData | ibutton.FeatureWriteCopy},
		{name: "DS1996", local: DS1996, family: FamilyDS1996, size: 8200, features: ibutton.FeatureExtData | ibutton.FeatureWriteCopy | ibutton.FeatureApplyEdits | ibutton.FeatureEmulate | ibutton.FeatureSave},
		{name: "DS1971", local: DS1971, family: FamilyDS1971, size: 40, features: romFeatures | ibutton.FeatureExtData | ibutton.FeatureWriteCopy},
		{name: "DSGeneric", local: DSGeneric, family: 0x2D, size: 8, features: romFeatures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := g.Descriptor(tt.local)
			assert.Equal(t, tt.name, d.Name)
			assert.Equal(t, tt.size, d.DataSize)
			assert.Equal(t, tt.features, d.Features)
			assert.LessOrEqual(t, d.DataSize, ibutton.MaxDataSize)

			local, ok := g.IDByName(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.local, local)
			assert.Equal(t, tt.local, g.IDByFamilyCode(tt.family))
		})
	}

	_, ok := g.IDByName("Cyfral")
	assert.False(t, ok)
}

func TestGroup_Read(t *testing.T) {
	t.Parallel()

	sram := pattern(128)
	eeprom := pattern(32)
	tests := []struct {
		name  string
		rom   [8]byte
		local int
		mem   []byte
	}{
		{
			name:  "DS1990",
			rom:   simbus.MakeROM(FamilyDS1990, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC),
			local: DS1990,
		},
		{
			name:  "unknown family",
			rom:   simbus.MakeROM(0x2D, 1, 2, 3, 4, 5, 6),
			local: DSGeneric,
		},
		{
			name:  "DS1992",
			rom:   simbus.MakeROM(FamilyDS1992, 9, 8, 7, 6, 5, 4),
			local: DS1992,
			mem:   sram,
		},
		{
			name:  "DS1971",
			rom:   simbus.MakeROM(FamilyDS1971, 1, 1, 2, 3, 5, 8),
			local: DS1971,
			mem:   eeprom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var dev simbus.Responder
			switch tt.local {
			case DS1992:
				dev = simbus.NewMemoryKey(tt.rom, tt.mem, 32)
			case DS1971:
				dev = simbus.NewEEPROMKey(tt.rom, tt.mem)
			default:
				dev = simbus.NewROMKey(tt.rom)
			}
			env := newHostEnv(t, dev)
			data := make([]byte, ibutton.MaxDataSize)

			local, ok := New().Read(env, data)
			require.True(t, ok)
			assert.Equal(t, tt.local, local)
			assert.Equal(t, tt.rom[:], data[:onewire.ROMSize])
			if tt.mem != nil {
				assert.Equal(t, tt.mem, data[onewire.ROMSize:onewire.ROMSize+len(tt.mem)])
			}
		})
	}
}

func TestGroup_ReadFailures(t *testing.T) {
	t.Parallel()

	data := make([]byte, ibutton.MaxDataSize)
	_, ok := New().Read(newHostEnv(t), data)
	assert.False(t, ok, "empty bus")

	_, ok = New().Read(&ibutton.Env{}, data)
	assert.False(t, ok, "no host")
}

func TestGroup_ReadBadCRC(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6)
	rom[7] ^= 0xFF
	data := make([]byte, ibutton.MaxDataSize)

	local, ok := New().Read(newHostEnv(t, simbus.NewROMKey(rom)), data)
	require.True(t, ok, "a ROM confirmed by READ ROM is reported")
	assert.Equal(t, DS1992, local)
	assert.Equal(t, rom[:], data[:onewire.ROMSize])
	assert.False(t, New().IsValid(local, data))
	assert.Equal(t, make([]byte, 128), data[onewire.ROMSize:onewire.ROMSize+128], "memory is not read")
}

func TestGroup_Compare(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1990, 1, 2, 3, 4, 5, 6)
	env := newHostEnv(t, simbus.NewROMKey(rom))

	assert.True(t, New().Compare(env, DS1990, rom[:]))
	other := simbus.MakeROM(FamilyDS1990, 6, 5, 4, 3, 2, 1)
	assert.False(t, New().Compare(env, DS1990, other[:]))
}

func TestGroup_WriteBlank(t *testing.T) {
	t.Parallel()

	blank := simbus.MakeROM(FamilyDS1990, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	target := simbus.MakeROM(FamilyDS1990, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01)

	tests := []struct {
		name string
		dev  interface {
			simbus.Responder
			ROM() [8]byte
		}
	}{
		{name: "RW1990 version 1", dev: simbus.NewRW1990(1, blank)},
		{name: "RW1990 version 2", dev: simbus.NewRW1990(2, blank)},
		{name: "TM2004", dev: simbus.NewTM2004(blank)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newHostEnv(t, tt.dev)
			require.True(t, New().WriteBlank(env, DS1990, target[:]))
			assert.Equal(t, target, tt.dev.ROM())
		})
	}
}

func TestGroup_WriteBlankNotRewritable(t *testing.T) {
	t.Parallel()

	original := simbus.MakeROM(FamilyDS1990, 1, 2, 3, 4, 5, 6)
	key := simbus.NewROMKey(original)
	target := simbus.MakeROM(FamilyDS1990, 6, 5, 4, 3, 2, 1)

	assert.False(t, New().WriteBlank(newHostEnv(t, key), DS1990, target[:]))
	assert.Equal(t, original, key.ROM())
}

func TestGroup_WriteCopy(t *testing.T) {
	t.Parallel()

	t.Run("SRAM", func(t *testing.T) {
		t.Parallel()

		rom := simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6)
		target := simbus.NewMemoryKey(rom, make([]byte, 128), 32)
		src := keyData(DS1992, simbus.MakeROM(FamilyDS1992, 7, 7, 7, 7, 7, 7), pattern(128))

		require.True(t, New().WriteCopy(newHostEnv(t, target), DS1992, src))
		assert.Equal(t, pattern(128), target.Memory())
		assert.Equal(t, rom, target.ROM(), "ROM is not copied")
	})

	t.Run("EEPROM", func(t *testing.T) {
		t.Parallel()

		target := simbus.NewEEPROMKey(simbus.MakeROM(FamilyDS1971, 1, 2, 3, 4, 5, 6), make([]byte, 32))
		src := keyData(DS1971, simbus.MakeROM(FamilyDS1971, 9, 9, 9, 9, 9, 9), pattern(32))

		require.True(t, New().WriteCopy(newHostEnv(t, target), DS1971, src))
		assert.Equal(t, pattern(32), target.Memory())
	})

	t.Run("wrong family", func(t *testing.T) {
		t.Parallel()

		target := simbus.NewROMKey(simbus.MakeROM(FamilyDS1990, 1, 2, 3, 4, 5, 6))
		src := keyData(DS1992, simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6), pattern(128))

		assert.False(t, New().WriteCopy(newHostEnv(t, target), DS1992, src))
	})
}

func newEmulation(t *testing.T, local int, data []byte) (*simbus.MasterScript, *onewire.Slave, *atomic.Int32) {
	t.Helper()
	script := simbus.NewMasterScript()
	slave := onewire.NewSlave(script, script.Clock(), onewire.WithSlaveGuard(onewire.NopGuard{}))
	var results atomic.Int32
	slave.SetResultCallback(func() { results.Add(1) })
	env := &ibutton.Env{Slave: slave}
	New().EmulateStart(env, local, data)
	t.Cleanup(func() { New().EmulateStop(env, local) })
	return script, slave, &results
}

func TestGroup_EmulateReadROM(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1990, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66)
	script, slave, results := newEmulation(t, DS1990, rom[:])

	script.Reset(480)
	script.WriteByte(onewire.CmdReadROM)
	samples := script.ReadBytes(onewire.ROMSize)
	script.Run()

	assert.Equal(t, rom[:], script.Decode(samples))
	assert.Equal(t, onewire.SlaveErrNone, slave.Err())
	assert.Equal(t, int32(1), results.Load())
}

func TestGroup_EmulateSearch(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1990, 0xA5, 0x5A, 0x0F, 0xF0, 0x01, 0x80)
	script, _, results := newEmulation(t, DS1990, rom[:])

	script.Reset(480)
	script.WriteByte(onewire.CmdSearchROM)
	samples := make([]uint32, 0, 128)
	for i := range 64 {
		bit := rom[i/8]&(1<<(i%8)) != 0
		samples = append(samples, script.ReadSlot(), script.ReadSlot())
		script.WriteBit(bit)
	}
	script.Run()

	bits := script.Bits(samples)
	for i := range 64 {
		bit := rom[i/8]&(1<<(i%8)) != 0
		assert.Equal(t, bit, bits[2*i], "id bit %d", i)
		assert.Equal(t, !bit, bits[2*i+1], "complement bit %d", i)
	}
	assert.Equal(t, int32(1), results.Load())
}

func TestGroup_EmulateReadMemory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		local int
		rom   [8]byte
		addr  []byte
		from  int
	}{
		{name: "DS1992 from start", local: DS1992, rom: simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6), addr: []byte{0x00, 0x00}},
		{name: "DS1992 offset", local: DS1992, rom: simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6), addr: []byte{0x10, 0x00}, from: 0x10},
		{name: "DS1971", local: DS1971, rom: simbus.MakeROM(FamilyDS1971, 1, 2, 3, 4, 5, 6), addr: []byte{0x04}, from: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mem := pattern(protocols[tt.local].memSize)
			script, _, _ := newEmulation(t, tt.local, keyData(tt.local, tt.rom, mem))

			script.Reset(480)
			script.WriteByte(onewire.CmdSkipROM)
			script.WriteByte(cmdReadMemory)
			for _, b := range tt.addr {
				script.WriteByte(b)
			}
			samples := script.ReadBytes(8)
			script.Run()

			assert.Equal(t, mem[tt.from:tt.from+8], script.Decode(samples))
		})
	}
}

func TestGroup_EmulateScratchpadCopy(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6)
	data := keyData(DS1992, rom, make([]byte, 128))
	script, _, results := newEmulation(t, DS1992, data)
	payload := []byte{0xCA, 0xFE, 0xBA, 0xBE}

	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.WriteByte(cmdWriteScratchpad)
	script.WriteByte(0x20)
	script.WriteByte(0x00)
	for _, b := range payload {
		script.WriteByte(b)
	}

	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.WriteByte(cmdReadScratchpad)
	scratch := script.ReadBytes(3 + len(payload))

	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.WriteByte(cmdCopyScratchpad)
	for _, b := range []byte{0x20, 0x00, 0x03} {
		script.WriteByte(b)
	}
	marker := script.ReadBytes(1)
	script.Run()

	assert.Equal(t, append([]byte{0x20, 0x00, 0x03}, payload...), script.Decode(scratch))
	assert.Equal(t, []byte{copyDoneMarker}, script.Decode(marker))
	assert.Equal(t, payload, data[onewire.ROMSize+0x20:onewire.ROMSize+0x24])
	assert.Equal(t, int32(1), results.Load(), "only the scratchpad read completes a cycle")
}

func TestGroup_EmulateCopyAfterEmptyScratchpadWrite(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6)
	data := keyData(DS1992, rom, make([]byte, 128))
	script, slave, results := newEmulation(t, DS1992, data)

	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.WriteByte(cmdWriteScratchpad)
	script.WriteByte(0x00)
	script.WriteByte(0x00)
	for _, b := range []byte{0xCA, 0xFE, 0xBA, 0xBE} {
		script.WriteByte(b)
	}

	// a new target address without data leaves nothing to copy
	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.WriteByte(cmdWriteScratchpad)
	script.WriteByte(0x10)
	script.WriteByte(0x00)

	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.WriteByte(cmdReadScratchpad)
	header := script.ReadBytes(3)

	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.WriteByte(cmdCopyScratchpad)
	for _, b := range []byte{0x10, 0x00, 0x03} {
		script.WriteByte(b)
	}
	marker := script.ReadBytes(1)
	script.Idle(1000)

	require.NotPanics(t, script.Run)

	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, script.Decode(header), "no scratchpad to report")
	assert.Equal(t, []byte{0xFF}, script.Decode(marker), "copy is refused")
	assert.Equal(t, make([]byte, 128), data[onewire.ROMSize:])
	assert.Zero(t, results.Load())
	assert.Equal(t, onewire.SlaveErrNone, slave.Err())
}

func TestGroup_EmulateSelectionClearedByReset(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6)
	script, _, _ := newEmulation(t, DS1992, keyData(DS1992, rom, pattern(128)))

	// select, then reset before a function command: 0xF0 is a search again
	script.Reset(480)
	script.WriteByte(onewire.CmdSkipROM)
	script.Reset(480)
	script.WriteByte(onewire.CmdSearchROM)
	samples := []uint32{script.ReadSlot(), script.ReadSlot()}
	script.Run()

	bits := script.Bits(samples)
	bit := rom[0]&1 != 0
	assert.Equal(t, []bool{bit, !bit}, bits)
}

func TestGroup_EmulateStopDetaches(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(FamilyDS1990, 1, 2, 3, 4, 5, 6)
	script := simbus.NewMasterScript()
	slave := onewire.NewSlave(script, script.Clock(), onewire.WithSlaveGuard(onewire.NopGuard{}))
	env := &ibutton.Env{Slave: slave}

	New().EmulateStart(env, DS1990, rom[:])
	New().EmulateStop(env, DS1990)

	script.Reset(480)
	script.Run()
	assert.Empty(t, script.Drives())
}

func TestGroup_SaveLoad(t *testing.T) {
	t.Parallel()

	t.Run("DS1992", func(t *testing.T) {
		t.Parallel()

		data := keyData(DS1992, simbus.MakeROM(FamilyDS1992, 1, 2, 3, 4, 5, 6), pattern(128))
		f := keyfile.New("test", 2)
		require.NoError(t, New().Save(DS1992, data, f))
		assert.Equal(t, []string{"Filetype", "Version", "Rom Data", "Sram Data"}, f.Keys())

		got := make([]byte, len(data))
		require.NoError(t, New().Load(DS1992, got, 2, f))
		assert.Equal(t, data, got)
	})

	t.Run("DS1971", func(t *testing.T) {
		t.Parallel()

		data := keyData(DS1971, simbus.MakeROM(FamilyDS1971, 1, 2, 3, 4, 5, 6), pattern(32))
		f := keyfile.New("test", 2)
		require.NoError(t, New().Save(DS1971, data, f))
		assert.True(t, f.Has("Eeprom Data"))

		got := make([]byte, len(data))
		require.NoError(t, New().Load(DS1971, got, 2, f))
		assert.Equal(t, data, got)
	})

	t.Run("version 1", func(t *testing.T) {
		t.Parallel()

		f := keyfile.New("test", 1)
		f.SetHex("Data", []byte{1, 2, 3, 4, 5, 6, 7, 8})
		got := make([]byte, 8)
		require.NoError(t, New().Load(DS1990, got, 1, f))
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got)
	})

	t.Run("missing memory", func(t *testing.T) {
		t.Parallel()

		f := keyfile.New("test", 2)
		f.SetHex("Rom Data", make([]byte, 8))
		err := New().Load(DS1992, make([]byte, 136), 2, f)
		require.ErrorIs(t, err, keyfile.ErrMissingField)
	})
}

func render(fn func(int, []byte, *strings.Builder), local int, data []byte) string {
	var sb strings.Builder
	fn(local, data, &sb)
	return sb.String()
}

func TestGroup_Render(t *testing.T) {
	t.Parallel()

	g := New()
	rom := simbus.MakeROM(FamilyDS1990, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07)
	hex := keyfile.FormatHex(rom[:])

	assert.Equal(t, hex, render(g.RenderUID, DS1990, rom[:]))
	assert.Equal(t, "ROM Data: "+hex, render(g.RenderData, DS1990, rom[:]))
	assert.Equal(t, "ROM: "+hex, render(g.RenderBriefData, DS1990, rom[:]))
	assert.Empty(t, render(g.RenderError, DS1990, rom[:]))

	eeprom := keyData(DS1971, simbus.MakeROM(FamilyDS1971, 1, 2, 3, 4, 5, 6), pattern(32))
	full := render(g.RenderData, DS1971, eeprom)
	lines := strings.Split(full, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Eeprom Data:", lines[1])
	assert.Equal(t, "0000: "+keyfile.FormatHex(pattern(32)[:8]), lines[2])
	assert.True(t, strings.HasPrefix(lines[5], "0018: "))
	mem := pattern(32)
	brief := "ROM: " + keyfile.FormatHex(eeprom[:8]) +
		"\nEeprom Data: " + keyfile.FormatHex(mem[:4]) + " ... " + keyfile.FormatHex(mem[28:])
	assert.Equal(t, brief, render(g.RenderBriefData, DS1971, eeprom))

	bad := rom
	bad[7] ^= 0x01
	assert.False(t, g.IsValid(DS1990, bad[:]))
	assert.Equal(t, "CRC Error\n"+keyfile.FormatHex(bad[:]), render(g.RenderError, DS1990, bad[:]))
}

func TestGroup_ApplyEdits(t *testing.T) {
	t.Parallel()

	g := New()

	data := make([]byte, 8)
	copy(g.EditableData(DS1990, data), []byte{0xAA, 1, 2, 3, 4, 5, 6, 0})
	g.ApplyEdits(DS1990, data)
	assert.Equal(t, byte(FamilyDS1990), data[0], "family restored")
	assert.True(t, g.IsValid(DS1990, data))

	generic := []byte{0x2D, 1, 2, 3, 4, 5, 6, 0}
	g.ApplyEdits(DSGeneric, generic)
	assert.Equal(t, byte(0x2D), generic[0])
	assert.True(t, g.IsValid(DSGeneric, generic))
}
