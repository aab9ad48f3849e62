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

//go:build linux

package onewire

import "golang.org/x/sys/unix"

// SystemClock reads CLOCK_MONOTONIC_RAW with one cycle per nanosecond.
type SystemClock struct{}

// Cycles implements Clock.
func (SystemClock) Cycles() uint32 {
	var ts unix.Timespec
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts)
	return uint32(ts.Nano()) //nolint:gosec // Clock counts modulo 2^32
}

// CyclesPerMicrosecond implements Clock.
func (SystemClock) CyclesPerMicrosecond() uint32 {
	return 1000
}
