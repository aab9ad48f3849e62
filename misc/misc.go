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

// Package misc implements the read-only pulse protocols, Cyfral and
// Metakom. These keys broadcast a fixed waveform that a comparator turns
// into edges; a pulse.Decoder classifies them.
package misc

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/keyfile"
	"github.com/ZaparooProject/go-ibutton/pulse"
)

const groupName = "Misc"

// Local protocol ids within the group. They double as decoder slots.
const (
	Cyfral = iota
	Metakom
)

// DefaultReadWindow bounds one read attempt.
const DefaultReadWindow = 100 * time.Millisecond

// edgeQueueSize holds several frames of the longest protocol.
const edgeQueueSize = 512

var descriptors = [...]ibutton.Descriptor{
	Cyfral:  {Name: "Cyfral", Manufacturer: "Cyfral", DataSize: pulse.CyfralDataSize},
	Metakom: {Name: "Metakom", Manufacturer: "Metakom", DataSize: pulse.MetakomDataSize},
}

type edge struct {
	duration uint32
	level    bool
}

// Group is the Misc protocol group. Read attempts are not safe for
// concurrent use.
type Group struct {
	decoder *pulse.Decoder
	edges   chan edge
	window  time.Duration
	dropped atomic.Uint64
}

var _ ibutton.Group = (*Group)(nil)

// Option configures a Group.
type Option func(*Group)

// WithReadWindow sets how long one read attempt listens to the comparator.
func WithReadWindow(d time.Duration) Option {
	return func(g *Group) {
		if d > 0 {
			g.window = d
		}
	}
}

// New creates the Misc group with its decoder and edge queue allocated up
// front.
func New(opts ...Option) *Group {
	g := &Group{
		decoder: pulse.NewDecoder(),
		edges:   make(chan edge, edgeQueueSize),
		window:  DefaultReadWindow,
	}
	g.decoder.AddProtocol(pulse.NewCyfral(), Cyfral)
	g.decoder.AddProtocol(pulse.NewMetakom(), Metakom)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements ibutton.Group.
func (*Group) Name() string { return groupName }

// Len implements ibutton.Group.
func (*Group) Len() int { return len(descriptors) }

// Descriptor implements ibutton.Group.
func (*Group) Descriptor(local int) ibutton.Descriptor {
	return descriptors[local]
}

// IDByName implements ibutton.Group.
func (*Group) IDByName(name string) (int, bool) {
	for i := range descriptors {
		if descriptors[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// Dropped returns how many edges were lost because the queue was full.
func (g *Group) Dropped() uint64 {
	return g.dropped.Load()
}

// onEdge runs in the comparator's interrupt context.
func (g *Group) onEdge(level bool, durationUs uint32) {
	select {
	case g.edges <- edge{level: level, duration: durationUs}:
	default:
		g.dropped.Add(1)
	}
}

// Read implements ibutton.Group. It listens to the comparator for one read
// window and reports the first protocol that decoded a frame.
func (g *Group) Read(env *ibutton.Env, data []byte) (int, bool) {
	if env.Comparator == nil {
		return 0, false
	}
	g.drain()
	g.decoder.Reset()

	if err := env.Comparator.Start(g.onEdge); err != nil {
		ibutton.Debugf("misc: start comparator: %v", err)
		return 0, false
	}
	local, ok := g.decode(time.NewTimer(g.window))
	env.Comparator.Stop()
	if !ok {
		return 0, false
	}
	g.decoder.Data(local, data)
	return local, true
}

func (g *Group) decode(timer *time.Timer) (int, bool) {
	defer timer.Stop()
	for {
		select {
		case e := <-g.edges:
			g.decoder.ProcessPulse(e.level, e.duration)
			if local, ok := g.decoder.DecodedIndex(); ok {
				return local, true
			}
		case <-timer.C:
			return 0, false
		}
	}
}

func (g *Group) drain() {
	for {
		select {
		case <-g.edges:
		default:
			return
		}
	}
}

// WriteBlank implements ibutton.Group. Pulse keys cannot be written.
func (*Group) WriteBlank(*ibutton.Env, int, []byte) bool { return false }

// WriteCopy implements ibutton.Group. Pulse keys cannot be written.
func (*Group) WriteCopy(*ibutton.Env, int, []byte) bool { return false }

// EmulateStart implements ibutton.Group. Pulse emulation is unsupported.
func (*Group) EmulateStart(*ibutton.Env, int, []byte) {}

// EmulateStop implements ibutton.Group.
func (*Group) EmulateStop(*ibutton.Env, int) {}

// Save implements ibutton.Group. Pulse keys are not stored.
func (*Group) Save(int, []byte, *keyfile.File) error {
	return ibutton.ErrFeatureNotSupported
}

// Load implements ibutton.Group.
func (*Group) Load(int, []byte, int, *keyfile.File) error {
	return ibutton.ErrFeatureNotSupported
}

// RenderUID implements ibutton.Group.
func (*Group) RenderUID(_ int, data []byte, sb *strings.Builder) {
	sb.WriteString(keyfile.FormatHex(data))
}

// RenderData implements ibutton.Group.
func (g *Group) RenderData(local int, data []byte, sb *strings.Builder) {
	fmt.Fprintf(sb, "%s: ", descriptors[local].Name)
	g.RenderUID(local, data, sb)
}

// RenderBriefData implements ibutton.Group.
func (g *Group) RenderBriefData(local int, data []byte, sb *strings.Builder) {
	sb.WriteString("ID: ")
	g.RenderUID(local, data, sb)
}

// RenderError implements ibutton.Group. Decoded frames are always valid.
func (*Group) RenderError(int, []byte, *strings.Builder) {}

// IsValid implements ibutton.Group. The decoders check framing and
// parity, so every decoded payload is valid.
func (*Group) IsValid(int, []byte) bool { return true }

// EditableData implements ibutton.Group.
func (*Group) EditableData(_ int, data []byte) []byte { return data }

// ApplyEdits implements ibutton.Group. There is nothing to recompute.
func (*Group) ApplyEdits(int, []byte) {}
