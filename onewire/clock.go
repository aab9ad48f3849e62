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

package onewire

import (
	"runtime"

	"periph.io/x/conn/v3/gpio"
)

// Clock is a free-running cycle counter. Differences between two readings
// are taken modulo 2^32.
type Clock interface {
	Cycles() uint32
	CyclesPerMicrosecond() uint32
}

// Timer converts microsecond timing constants to cycles of a Clock.
// The cycles-per-microsecond ratio is captured once at construction.
type Timer struct {
	clock Clock
	perUs uint32
}

// NewTimer creates a Timer over clock.
func NewTimer(clock Clock) *Timer {
	perUs := clock.CyclesPerMicrosecond()
	if perUs == 0 {
		perUs = 1
	}
	return &Timer{clock: clock, perUs: perUs}
}

// Now returns the current cycle count.
func (t *Timer) Now() uint32 {
	return t.clock.Cycles()
}

// Since returns the microseconds elapsed since the cycle count start.
func (t *Timer) Since(start uint32) uint32 {
	return t.Elapsed(start, t.clock.Cycles())
}

// Elapsed returns the microseconds between two cycle counts.
func (t *Timer) Elapsed(from, to uint32) uint32 {
	return (to - from) / t.perUs
}

// Delay busy-waits for us microseconds.
func (t *Timer) Delay(us uint32) {
	start := t.clock.Cycles()
	ticks := us * t.perUs
	for t.clock.Cycles()-start < ticks {
	}
}

// WaitWhile polls pin until it no longer reads level or timeoutUs elapses.
// It returns 0 on timeout, otherwise the unused remainder in microseconds,
// rounded up so that an early exit is never reported as a timeout.
func (t *Timer) WaitWhile(pin Pin, timeoutUs uint32, level gpio.Level) uint32 {
	start := t.clock.Cycles()
	ticks := timeoutUs * t.perUs
	for {
		elapsed := t.clock.Cycles() - start
		if elapsed >= ticks {
			return 0
		}
		if pin.Read() != level {
			return (ticks - elapsed + t.perUs - 1) / t.perUs
		}
	}
}

// Guard brackets a timing-critical sequence. Enter returns the function
// that leaves the section, so callers write:
//
//	defer guard.Enter()()
type Guard interface {
	Enter() (exit func())
}

// ThreadGuard pins the calling goroutine to its OS thread for the
// duration of the section so the scheduler cannot migrate it mid-slot.
type ThreadGuard struct{}

// Enter implements Guard.
func (ThreadGuard) Enter() func() {
	runtime.LockOSThread()
	return runtime.UnlockOSThread
}

// NopGuard performs no protection. Used with simulated clocks.
type NopGuard struct{}

// Enter implements Guard.
func (NopGuard) Enter() func() {
	return func() {}
}
