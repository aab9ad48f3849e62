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

// Package simbus provides a virtual-time 1-Wire line and virtual keys for
// tests. The line plays either role: Bus lets a master (Host) talk to
// virtual slaves, MasterScript replays a scripted master against a Slave.
//
// Time only advances when the code under test reads the clock, so every
// busy-wait in the bus engines terminates and runs are deterministic.
package simbus

import "sync/atomic"

// Clock is a virtual cycle counter at one cycle per microsecond. Every
// Cycles call advances time by one microsecond.
type Clock struct {
	now atomic.Uint32
}

// Cycles advances time by one microsecond and returns it.
func (c *Clock) Cycles() uint32 {
	return c.now.Add(1)
}

// CyclesPerMicrosecond returns 1.
func (*Clock) CyclesPerMicrosecond() uint32 {
	return 1
}

// Now returns the current time without advancing it.
func (c *Clock) Now() uint32 {
	return c.now.Load()
}

// AdvanceTo moves time forward to t. Earlier times are ignored.
func (c *Clock) AdvanceTo(t uint32) {
	for {
		cur := c.now.Load()
		if t <= cur || c.now.CompareAndSwap(cur, t) {
			return
		}
	}
}

// window is a half-open interval [start, end) of virtual time.
type window struct {
	start uint32
	end   uint32
}

func (w window) contains(t uint32) bool {
	return t >= w.start && t < w.end
}
