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

package ibutton

import (
	"strings"

	"github.com/ZaparooProject/go-ibutton/keyfile"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

// Feature is a bit set of optional protocol capabilities.
type Feature uint32

const (
	// FeatureExtData marks keys carrying memory beyond the ROM.
	FeatureExtData Feature = 1 << iota
	// FeatureWriteBlank allows writing the key onto a blank.
	FeatureWriteBlank
	// FeatureWriteCopy allows copying the key's memory onto a key of the same type.
	FeatureWriteCopy
	// FeatureApplyEdits allows editing the data in place.
	FeatureApplyEdits
	// FeatureEmulate allows emulating the key.
	FeatureEmulate
	// FeatureSave allows storing the key in a key file.
	FeatureSave
)

// Has reports whether all bits of o are set.
func (f Feature) Has(o Feature) bool {
	return f&o == o
}

func (f Feature) String() string {
	names := []struct {
		bit  Feature
		name string
	}{
		{FeatureExtData, "ext-data"},
		{FeatureWriteBlank, "write-blank"},
		{FeatureWriteCopy, "write-copy"},
		{FeatureApplyEdits, "apply-edits"},
		{FeatureEmulate, "emulate"},
		{FeatureSave, "save"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Descriptor is the immutable description of one protocol.
type Descriptor struct {
	Name         string
	Manufacturer string
	DataSize     int
	Features     Feature
}

// Comparator delivers pulse edges from the analog front end. fn receives
// the level after each edge and the duration of the level that ended, in
// microseconds. fn runs in interrupt context and must not block.
type Comparator interface {
	Start(fn func(level bool, durationUs uint32)) error
	Stop()
}

// Env carries the hardware a group may drive. Only one role is active at
// a time; the worker starts and stops them.
type Env struct {
	Host       onewire.Master
	Slave      *onewire.Slave
	Comparator Comparator
}

// Group is a family of protocols sharing a transport. Local ids run from 0
// to Len()-1. data is always at least DataSize bytes of the protocol.
//
// Operations guarded by a Feature bit are only called when the protocol's
// descriptor has that bit; implementations may panic otherwise.
type Group interface {
	Name() string
	Len() int
	Descriptor(local int) Descriptor
	IDByName(name string) (local int, ok bool)

	// Read tries one read attempt and fills data on success.
	Read(env *Env, data []byte) (local int, ok bool)
	WriteBlank(env *Env, local int, data []byte) bool
	WriteCopy(env *Env, local int, data []byte) bool
	EmulateStart(env *Env, local int, data []byte)
	EmulateStop(env *Env, local int)

	Save(local int, data []byte, f *keyfile.File) error
	Load(local int, data []byte, version int, f *keyfile.File) error

	RenderUID(local int, data []byte, sb *strings.Builder)
	RenderData(local int, data []byte, sb *strings.Builder)
	RenderBriefData(local int, data []byte, sb *strings.Builder)
	RenderError(local int, data []byte, sb *strings.Builder)

	IsValid(local int, data []byte) bool
	EditableData(local int, data []byte) []byte
	ApplyEdits(local int, data []byte)
}

// FamilyResolver is implemented by groups addressed by a 1-Wire family code.
// IDByFamilyCode returns the local id of the generic protocol when no
// protocol claims code.
type FamilyResolver interface {
	IDByFamilyCode(code byte) int
}

// KeyComparer is implemented by groups that can tell whether the key on
// the bus already holds data.
type KeyComparer interface {
	Compare(env *Env, local int, data []byte) bool
}
