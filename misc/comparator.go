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

package misc

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

// EdgeComparator turns the edges of a digital input into the level and
// duration pairs the pulse decoders expect. It stands in for an analog
// comparator when the key line is wired to a GPIO.
type EdgeComparator struct {
	pin   onewire.EdgePin
	timer *onewire.Timer
	last  atomic.Uint32
}

var _ ibutton.Comparator = (*EdgeComparator)(nil)

// NewEdgeComparator creates a comparator on pin timed by clock.
func NewEdgeComparator(pin onewire.EdgePin, clock onewire.Clock) *EdgeComparator {
	return &EdgeComparator{pin: pin, timer: onewire.NewTimer(clock)}
}

// Start implements ibutton.Comparator. fn runs from the edge handler.
func (c *EdgeComparator) Start(fn func(level bool, durationUs uint32)) error {
	if err := c.pin.Input(); err != nil {
		return fmt.Errorf("configure comparator input: %w", err)
	}
	c.last.Store(c.timer.Now())
	err := c.pin.SetEdgeHandler(func(l gpio.Level) {
		now := c.timer.Now()
		start := c.last.Swap(now)
		fn(l == gpio.High, c.timer.Elapsed(start, now))
	})
	if err != nil {
		return fmt.Errorf("arm comparator: %w", err)
	}
	return nil
}

// Stop implements ibutton.Comparator.
func (c *EdgeComparator) Stop() {
	c.pin.ClearEdgeHandler()
}
