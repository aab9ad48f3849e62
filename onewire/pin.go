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

// Package onewire implements the 1-Wire bus in both roles over a single
// open-drain GPIO line: a bit-banged master (Host) used to interrogate
// Dallas keys and an edge-driven slave (Slave) used to emulate them.
//
// Timing is measured with a free-running cycle counter (Clock) and
// busy-waits (Timer); nothing in the bit-slot paths sleeps or allocates.
package onewire

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Pin is the GPIO boundary of the bus: a single bidirectional open-drain line.
type Pin interface {
	// Input configures the line as an input with the pull-up enabled.
	Input() error
	// OpenDrain configures the line as an open-drain output in the released state.
	OpenDrain() error
	// Read samples the line.
	Read() gpio.Level
	// Write drives the line low on gpio.Low and releases it on gpio.High.
	Write(l gpio.Level)
}

// EdgePin is a Pin that can deliver edge interrupts.
type EdgePin interface {
	Pin
	// SetEdgeHandler arms detection of both edges. fn is called with the
	// line level after every edge, from the interrupt context.
	SetEdgeHandler(fn func(level gpio.Level)) error
	// ClearEdgeHandler disarms edge detection and returns once no handler
	// invocation is in flight.
	ClearEdgeHandler()
}

// edgePollTimeout bounds how long the edge watcher blocks before it checks
// for a stop request.
const edgePollTimeout = 50 * time.Millisecond

// ErrEdgeHandlerActive is returned when an edge handler is already armed.
var ErrEdgeHandlerActive = errors.New("onewire: edge handler already set")

// GPIOPin adapts a periph.io gpio.PinIO to an open-drain EdgePin.
//
// Releasing the line switches the pin to an input with the pull-up enabled,
// so push-pull GPIO controllers behave as open-drain outputs.
type GPIOPin struct {
	pin  gpio.PinIO
	stop chan struct{}
	done chan struct{}
	mu   sync.Mutex
	edge gpio.Edge
}

// NewGPIOPin wraps pin.
func NewGPIOPin(pin gpio.PinIO) *GPIOPin {
	return &GPIOPin{pin: pin, edge: gpio.NoEdge}
}

// Input implements Pin.
func (g *GPIOPin) Input() error {
	return g.pin.In(gpio.PullUp, g.edge)
}

// OpenDrain implements Pin.
func (g *GPIOPin) OpenDrain() error {
	return g.pin.In(gpio.PullUp, g.edge)
}

// Read implements Pin.
func (g *GPIOPin) Read() gpio.Level {
	return g.pin.Read()
}

// Write implements Pin.
func (g *GPIOPin) Write(l gpio.Level) {
	if l == gpio.Low {
		_ = g.pin.Out(gpio.Low)
		return
	}
	_ = g.pin.In(gpio.PullUp, g.edge)
}

// SetEdgeHandler implements EdgePin using gpio.PinIn.WaitForEdge on a
// dedicated goroutine.
func (g *GPIOPin) SetEdgeHandler(fn func(level gpio.Level)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return ErrEdgeHandlerActive
	}
	g.edge = gpio.BothEdges
	if err := g.pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		g.edge = gpio.NoEdge
		return err
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.watch(fn, g.stop, g.done)
	return nil
}

func (g *GPIOPin) watch(fn func(level gpio.Level), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if g.pin.WaitForEdge(edgePollTimeout) {
			fn(g.pin.Read())
		}
	}
}

// ClearEdgeHandler implements EdgePin.
func (g *GPIOPin) ClearEdgeHandler() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
	g.stop = nil
	g.done = nil
	g.edge = gpio.NoEdge
	_ = g.pin.In(gpio.PullUp, gpio.NoEdge)
}
