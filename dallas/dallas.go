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

// Package dallas implements the 1-Wire iButton protocols: ROM-only keys
// (DS1990 and unknown families), SRAM keys behind a scratchpad (DS1992,
// DS1996) and the DS1971 EEPROM key. Keys are read and written with an
// onewire.Master and emulated with an onewire.Slave.
package dallas

import (
	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

const groupName = "Dallas"

// Local protocol ids within the group.
const (
	DS1990 = iota
	DS1992
	DS1996
	DS1971
	DSGeneric
)

// Family codes.
const (
	FamilyDS1990 = 0x01
	FamilyDS1992 = 0x08
	FamilyDS1996 = 0x0C
	FamilyDS1971 = 0x14
)

type memKind uint8

const (
	memNone   memKind = iota
	memSRAM           // 2-byte addresses, paged scratchpad
	memEEPROM         // 1-byte addresses, whole-device scratchpad
)

type protocol struct {
	desc     ibutton.Descriptor
	family   byte
	kind     memKind
	memSize  int
	pageSize int
	memField string
}

func (p *protocol) mem(data []byte) []byte {
	return data[onewire.ROMSize : onewire.ROMSize+p.memSize]
}

const romFeatures = ibutton.FeatureWriteBlank | ibutton.FeatureApplyEdits |
	ibutton.FeatureEmulate | ibutton.FeatureSave

var protocols = [...]protocol{
	DS1990: {
		desc:   ibutton.Descriptor{Name: "DS1990", Manufacturer: "Dallas", DataSize: onewire.ROMSize, Features: romFeatures},
		family: FamilyDS1990,
	},
	DS1992: {
		desc: ibutton.Descriptor{
			Name: "DS1992", Manufacturer: "Dallas", DataSize: onewire.ROMSize + 128,
			Features: romFeatures | ibutton.FeatureExtData | ibutton.FeatureWriteCopy,
		},
		family:   FamilyDS1992,
		kind:     memSRAM,
		memSize:  128,
		pageSize: 32,
		memField: "Sram Data",
	},
	DS1996: {
		desc: ibutton.Descriptor{
			Name: "DS1996", Manufacturer: "Dallas", DataSize: onewire.ROMSize + 8192,
			Features: ibutton.FeatureExtData | ibutton.FeatureWriteCopy | ibutton.FeatureApplyEdits |
				ibutton.FeatureEmulate | ibutton.FeatureSave,
		},
		family:   FamilyDS1996,
		kind:     memSRAM,
		memSize:  8192,
		pageSize: 32,
		memField: "Sram Data",
	},
	DS1971: {
		desc: ibutton.Descriptor{
			Name: "DS1971", Manufacturer: "Dallas", DataSize: onewire.ROMSize + 32,
			Features: romFeatures | ibutton.FeatureExtData | ibutton.FeatureWriteCopy,
		},
		family:   FamilyDS1971,
		kind:     memEEPROM,
		memSize:  32,
		pageSize: 32,
		memField: "Eeprom Data",
	},
	DSGeneric: {
		desc: ibutton.Descriptor{Name: "DSGeneric", Manufacturer: "Generic", DataSize: onewire.ROMSize, Features: romFeatures},
	},
}

// Group is the Dallas protocol group.
type Group struct{}

var (
	_ ibutton.Group          = Group{}
	_ ibutton.FamilyResolver = Group{}
	_ ibutton.KeyComparer    = Group{}
)

// New returns the Dallas group.
func New() Group {
	return Group{}
}

// Name implements ibutton.Group.
func (Group) Name() string { return groupName }

// Len implements ibutton.Group.
func (Group) Len() int { return len(protocols) }

// Descriptor implements ibutton.Group.
func (Group) Descriptor(local int) ibutton.Descriptor {
	return protocols[local].desc
}

// IDByName implements ibutton.Group.
func (Group) IDByName(name string) (int, bool) {
	for i := range protocols {
		if protocols[i].desc.Name == name {
			return i, true
		}
	}
	return 0, false
}

// IDByFamilyCode implements ibutton.FamilyResolver.
func (Group) IDByFamilyCode(code byte) int {
	for i := range protocols {
		if protocols[i].family != 0 && protocols[i].family == code {
			return i
		}
	}
	return DSGeneric
}
