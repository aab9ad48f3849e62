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
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-ibutton/keyfile"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

// Key file fields.
const (
	fieldROMData    = "Rom Data"
	fieldLegacyData = "Data"
)

const (
	dumpRowSize  = 8
	briefEdgeLen = 4 // bytes shown from each end of the memory
)

// Save implements ibutton.Group.
func (Group) Save(local int, data []byte, f *keyfile.File) error {
	p := &protocols[local]
	f.SetHex(fieldROMData, data[:onewire.ROMSize])
	if p.kind != memNone {
		f.SetHex(p.memField, p.mem(data))
	}
	return nil
}

// Load implements ibutton.Group. Version 1 files only carry a ROM.
func (Group) Load(local int, data []byte, version int, f *keyfile.File) error {
	p := &protocols[local]
	if version == 1 {
		return f.Hex(fieldLegacyData, data[:onewire.ROMSize])
	}
	if err := f.Hex(fieldROMData, data[:onewire.ROMSize]); err != nil {
		return err
	}
	if p.kind != memNone {
		return f.Hex(p.memField, p.mem(data))
	}
	return nil
}

// RenderUID implements ibutton.Group.
func (Group) RenderUID(_ int, data []byte, sb *strings.Builder) {
	sb.WriteString(keyfile.FormatHex(data[:onewire.ROMSize]))
}

// RenderData implements ibutton.Group. Memory is dumped in rows of eight
// bytes prefixed with their address.
func (g Group) RenderData(local int, data []byte, sb *strings.Builder) {
	p := &protocols[local]
	sb.WriteString("ROM Data: ")
	g.RenderUID(local, data, sb)
	if p.kind == memNone {
		return
	}
	mem := p.mem(data)
	fmt.Fprintf(sb, "\n%s:", p.memField)
	for off := 0; off < len(mem); off += dumpRowSize {
		end := min(off+dumpRowSize, len(mem))
		fmt.Fprintf(sb, "\n%04X: %s", off, keyfile.FormatHex(mem[off:end]))
	}
}

// RenderBriefData implements ibutton.Group.
func (g Group) RenderBriefData(local int, data []byte, sb *strings.Builder) {
	p := &protocols[local]
	sb.WriteString("ROM: ")
	g.RenderUID(local, data, sb)
	if p.kind == memNone {
		return
	}
	mem := p.mem(data)
	fmt.Fprintf(sb, "\n%s: %s ... %s", p.memField,
		keyfile.FormatHex(mem[:briefEdgeLen]), keyfile.FormatHex(mem[len(mem)-briefEdgeLen:]))
}

// RenderError implements ibutton.Group.
func (g Group) RenderError(local int, data []byte, sb *strings.Builder) {
	if !onewire.ValidROM(data) {
		sb.WriteString("CRC Error\n")
		g.RenderUID(local, data, sb)
	}
}

// IsValid implements ibutton.Group.
func (Group) IsValid(_ int, data []byte) bool {
	return onewire.ValidROM(data)
}

// EditableData implements ibutton.Group. The ROM is editable; ApplyEdits
// restores the family code of a known protocol and the CRC.
func (Group) EditableData(_ int, data []byte) []byte {
	return data[:onewire.ROMSize]
}

// ApplyEdits implements ibutton.Group.
func (Group) ApplyEdits(local int, data []byte) {
	if family := protocols[local].family; family != 0 {
		data[0] = family
	}
	onewire.SealROM(data)
}
