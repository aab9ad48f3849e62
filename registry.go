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
	"fmt"
	"strings"
)

// legacyNames maps historical protocol names to current ones.
var legacyNames = map[string]string{
	"Dallas": "DS1990",
}

type groupSpan struct {
	group Group
	first ProtocolID
}

// Registry numbers the protocols of its groups consecutively and forwards
// each key operation to the owning group. It is immutable after NewRegistry.
//
// Passing a key with ProtocolInvalid or an out-of-range id, or invoking an
// operation whose feature the protocol lacks, is a programming error and
// panics.
type Registry struct {
	spans []groupSpan
	total int
}

// NewRegistry builds a registry from groups in lookup order. Read tries
// the groups in this order.
func NewRegistry(groups ...Group) *Registry {
	r := &Registry{}
	for _, g := range groups {
		r.spans = append(r.spans, groupSpan{group: g, first: ProtocolID(r.total)})
		for local := range g.Len() {
			if size := g.Descriptor(local).DataSize; size > MaxDataSize || size <= 0 {
				panic(fmt.Sprintf("ibutton: %s protocol %d has data size %d", g.Name(), local, size))
			}
		}
		r.total += g.Len()
	}
	return r
}

// Len returns the number of protocols.
func (r *Registry) Len() int {
	return r.total
}

// IDs returns every protocol id in order.
func (r *Registry) IDs() []ProtocolID {
	ids := make([]ProtocolID, r.total)
	for i := range ids {
		ids[i] = ProtocolID(i)
	}
	return ids
}

func (r *Registry) resolve(id ProtocolID) (Group, int) {
	if id < 0 || int(id) >= r.total {
		panic(fmt.Sprintf("ibutton: protocol id %d out of range", id))
	}
	for i := len(r.spans) - 1; i >= 0; i-- {
		if s := r.spans[i]; id >= s.first {
			return s.group, int(id - s.first)
		}
	}
	panic("unreachable")
}

func (r *Registry) require(id ProtocolID, f Feature, op string) (Group, int) {
	g, local := r.resolve(id)
	if d := g.Descriptor(local); !d.Features.Has(f) {
		panic(fmt.Sprintf("ibutton: %s not supported by %s", op, d.Name))
	}
	return g, local
}

// Descriptor returns the description of id.
func (r *Registry) Descriptor(id ProtocolID) Descriptor {
	g, local := r.resolve(id)
	return g.Descriptor(local)
}

// Name returns the protocol name of id.
func (r *Registry) Name(id ProtocolID) string {
	return r.Descriptor(id).Name
}

// GroupName returns the name of the group owning id.
func (r *Registry) GroupName(id ProtocolID) string {
	g, _ := r.resolve(id)
	return g.Name()
}

// HasFeature reports whether id supports f.
func (r *Registry) HasFeature(id ProtocolID, f Feature) bool {
	return r.Descriptor(id).Features.Has(f)
}

// IDByName returns the protocol named name, or ProtocolInvalid. The
// historical name "Dallas" resolves to DS1990.
func (r *Registry) IDByName(name string) ProtocolID {
	if current, ok := legacyNames[name]; ok {
		name = current
	}
	for _, s := range r.spans {
		if local, ok := s.group.IDByName(name); ok {
			return s.first + ProtocolID(local)
		}
	}
	return ProtocolInvalid
}

// IDByFamilyCode returns the Dallas protocol for a family code. Unknown
// codes map to the generic Dallas protocol. ProtocolInvalid is returned
// only when no group resolves family codes.
func (r *Registry) IDByFamilyCode(code byte) ProtocolID {
	for _, s := range r.spans {
		if fr, ok := s.group.(FamilyResolver); ok {
			return s.first + ProtocolID(fr.IDByFamilyCode(code))
		}
	}
	return ProtocolInvalid
}

// Data returns the meaningful part of the key's buffer.
func (r *Registry) Data(key *Key) []byte {
	return key.data[:r.Descriptor(key.protocol).DataSize]
}

// Read makes one read attempt with every group in order. On success key
// holds the protocol and data that were read.
func (r *Registry) Read(env *Env, key *Key) bool {
	for _, s := range r.spans {
		key.Reset()
		if local, ok := s.group.Read(env, key.data[:]); ok {
			key.protocol = s.first + ProtocolID(local)
			return true
		}
	}
	key.Reset()
	return false
}

// WriteBlank writes key onto a blank on the bus.
func (r *Registry) WriteBlank(env *Env, key *Key) bool {
	g, local := r.require(key.protocol, FeatureWriteBlank, "write blank")
	return g.WriteBlank(env, local, r.Data(key))
}

// WriteCopy copies key's memory onto a key of the same type on the bus.
func (r *Registry) WriteCopy(env *Env, key *Key) bool {
	g, local := r.require(key.protocol, FeatureWriteCopy, "write copy")
	return g.WriteCopy(env, local, r.Data(key))
}

// Compare reports whether the key on the bus already matches key. Groups
// that cannot tell report false.
func (r *Registry) Compare(env *Env, key *Key) bool {
	g, local := r.resolve(key.protocol)
	kc, ok := g.(KeyComparer)
	return ok && kc.Compare(env, local, r.Data(key))
}

// EmulateStart starts emulating key. The key must outlive EmulateStop.
func (r *Registry) EmulateStart(env *Env, key *Key) {
	g, local := r.require(key.protocol, FeatureEmulate, "emulate")
	g.EmulateStart(env, local, r.Data(key))
}

// EmulateStop stops emulating key.
func (r *Registry) EmulateStop(env *Env, key *Key) {
	g, local := r.require(key.protocol, FeatureEmulate, "emulate")
	g.EmulateStop(env, local)
}

func (r *Registry) render(key *Key, fn func(Group, int, []byte, *strings.Builder)) string {
	g, local := r.resolve(key.protocol)
	var sb strings.Builder
	fn(g, local, r.Data(key), &sb)
	return sb.String()
}

// RenderUID renders the key's identifier.
func (r *Registry) RenderUID(key *Key) string {
	return r.render(key, Group.RenderUID)
}

// RenderData renders the key in full.
func (r *Registry) RenderData(key *Key) string {
	return r.render(key, Group.RenderData)
}

// RenderBriefData renders a short summary of the key.
func (r *Registry) RenderBriefData(key *Key) string {
	return r.render(key, Group.RenderBriefData)
}

// RenderError renders why the key is invalid.
func (r *Registry) RenderError(key *Key) string {
	return r.render(key, Group.RenderError)
}

// IsValid reports whether the key's data passes its protocol's checks.
func (r *Registry) IsValid(key *Key) bool {
	g, local := r.resolve(key.protocol)
	return g.IsValid(local, r.Data(key))
}

// EditableData returns the user-editable part of the key's data. Writes to
// it take effect after ApplyEdits.
func (r *Registry) EditableData(key *Key) []byte {
	g, local := r.resolve(key.protocol)
	return g.EditableData(local, r.Data(key))
}

// ApplyEdits recomputes derived fields after EditableData was changed.
func (r *Registry) ApplyEdits(key *Key) {
	g, local := r.require(key.protocol, FeatureApplyEdits, "apply edits")
	g.ApplyEdits(local, r.Data(key))
}
