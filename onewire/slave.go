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
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
)

// Slave timing in microseconds.
const (
	SlaveResetMin      = 270   // shortest low accepted as a reset
	SlaveResetMax      = 1200  // longest low accepted as a reset
	SlavePresenceDelay = 20    // release to presence
	SlavePresenceMin   = 100   // presence low time
	SlavePresenceMax   = 480   // presence window including other slaves
	SlaveSlotMin       = 60    // shortest time slot
	SlaveSlotMax       = 135   // longest low before it counts as a reset
	slaveWrite1LowMax  = 20    // master low below this is a written 1
	slaveHoldTime      = 30    // slave hold time for a read slot
	slaveHighTimeout   = 15000 // longest idle high between slots
)

// SlaveError tags the outcome of the last reset/command cycle.
type SlaveError uint32

const (
	SlaveErrNone SlaveError = iota
	SlaveErrResetInProgress
	SlaveErrPresenceConflict
	SlaveErrInvalidCommand
	SlaveErrTimeout
	SlaveErrVeryLongReset
	SlaveErrVeryShortReset
)

func (e SlaveError) String() string {
	switch e {
	case SlaveErrNone:
		return "none"
	case SlaveErrResetInProgress:
		return "reset in progress"
	case SlaveErrPresenceConflict:
		return "presence conflict"
	case SlaveErrInvalidCommand:
		return "invalid command"
	case SlaveErrTimeout:
		return "timeout"
	case SlaveErrVeryLongReset:
		return "very long reset"
	case SlaveErrVeryShortReset:
		return "very short reset"
	default:
		return fmt.Sprintf("SlaveError(%d)", uint32(e))
	}
}

// CommandResult is returned by a Device after handling one command byte.
type CommandResult uint8

const (
	// CommandDone ends the cycle successfully.
	CommandDone CommandResult = iota
	// CommandMore expects another command byte in the same cycle.
	CommandMore
	// CommandAbort ends the cycle without success, e.g. after losing a search.
	CommandAbort
	// CommandUnknown rejects the command byte.
	CommandUnknown
)

// Device is the emulated key bound to a Slave. HandleCommand runs in the
// interrupt context and exchanges data through the Slave's Send and
// Receive helpers.
type Device interface {
	HandleCommand(s *Slave, cmd byte) CommandResult
}

// BusResetter is implemented by devices that keep selection state within a
// reset cycle. BusReset is called after every presence pulse.
type BusResetter interface {
	BusReset()
}

type deviceRef struct {
	dev Device
}

type resultRef struct {
	fn func()
}

// SlaveOption configures a Slave.
type SlaveOption func(*Slave)

// WithSlaveGuard sets the guard held during a reset/command cycle.
func WithSlaveGuard(g Guard) SlaveOption {
	return func(s *Slave) {
		s.guard = g
	}
}

// Slave answers a bus master on an EdgePin. Every falling edge is
// timestamped; a rising edge that closes a reset-width low runs the whole
// presence and command cycle inside the edge handler.
//
// The edge handler touches only atomics; Attach, Detach and
// SetResultCallback may be called while the slave is running.
type Slave struct {
	pin        EdgePin
	timer      *Timer
	guard      Guard
	device     atomic.Pointer[deviceRef]
	result     atomic.Pointer[resultRef]
	pulseStart atomic.Uint32
	err        atomic.Uint32
	started    atomic.Bool
}

// NewSlave creates a stopped Slave on pin timed by clock.
func NewSlave(pin EdgePin, clock Clock, opts ...SlaveOption) *Slave {
	s := &Slave{
		pin:   pin,
		timer: NewTimer(clock),
		guard: ThreadGuard{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start releases the line and arms the edge handler.
func (s *Slave) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.pin.OpenDrain()
	s.pin.Write(gpio.High)
	if err := s.pin.SetEdgeHandler(s.HandleEdge); err != nil {
		s.started.Store(false)
		return fmt.Errorf("arm slave edge handler: %w", err)
	}
	return nil
}

// Stop disarms the edge handler, waiting for an in-flight cycle, and
// returns the line to an input.
func (s *Slave) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	s.pin.ClearEdgeHandler()
	s.pin.Write(gpio.High)
	_ = s.pin.Input()
}

// Attach binds the device that answers commands.
func (s *Slave) Attach(dev Device) {
	s.device.Store(&deviceRef{dev: dev})
}

// Detach unbinds the device; the slave stops answering resets.
func (s *Slave) Detach() {
	s.device.Store(nil)
}

// SetResultCallback registers fn to run after every cycle that completed
// without error. fn runs in the interrupt context and must not block.
func (s *Slave) SetResultCallback(fn func()) {
	if fn == nil {
		s.result.Store(nil)
		return
	}
	s.result.Store(&resultRef{fn: fn})
}

// Err returns the error tag of the last cycle.
func (s *Slave) Err() SlaveError {
	return SlaveError(s.err.Load())
}

func (s *Slave) setErr(e SlaveError) {
	s.err.Store(uint32(e))
}

// HandleEdge is the edge interrupt handler. It is exported for platforms
// that deliver edges themselves instead of through EdgePin.
func (s *Slave) HandleEdge(level gpio.Level) {
	if level == gpio.Low {
		s.pulseStart.Store(s.timer.Now())
		return
	}

	width := s.timer.Since(s.pulseStart.Load())
	switch {
	case width > SlaveResetMax:
		s.setErr(SlaveErrVeryLongReset)
	case width >= SlaveResetMin:
		if s.busStart() {
			if ref := s.result.Load(); ref != nil {
				ref.fn()
			}
		}
	case width > SlaveSlotMax:
		s.setErr(SlaveErrVeryShortReset)
	}
}

// busStart runs presence and command handling until a command completes,
// fails, or the master stops resetting.
func (s *Slave) busStart() bool {
	ref := s.device.Load()
	if ref == nil {
		return false
	}
	defer s.guard.Enter()()

	s.setErr(SlaveErrNone)
	resetter, _ := ref.dev.(BusResetter)
	for s.showPresence() {
		if resetter != nil {
			resetter.BusReset()
		}
		res, again := s.receiveAndProcess(ref.dev)
		if again {
			continue
		}
		return res == CommandDone && s.Err() == SlaveErrNone
	}
	return false
}

// receiveAndProcess reads command bytes and hands them to dev. again is
// true when the master started a new reset and presence must be shown.
func (s *Slave) receiveAndProcess(dev Device) (res CommandResult, again bool) {
	for {
		var cmd [1]byte
		if !s.Receive(cmd[:]) {
			return s.resetRetry(CommandAbort)
		}
		switch res = dev.HandleCommand(s, cmd[0]); res {
		case CommandMore:
			continue
		case CommandUnknown:
			s.setErr(SlaveErrInvalidCommand)
			return res, false
		default:
			return s.resetRetry(res)
		}
	}
}

func (s *Slave) resetRetry(res CommandResult) (CommandResult, bool) {
	if s.Err() == SlaveErrResetInProgress {
		s.setErr(SlaveErrNone)
		return res, true
	}
	return res, false
}

func (s *Slave) showPresence() bool {
	// the reset low may still be in progress
	if s.timer.WaitWhile(s.pin, SlaveResetMax, gpio.Low) == 0 {
		s.setErr(SlaveErrVeryLongReset)
		return false
	}
	s.timer.Delay(SlavePresenceDelay)
	s.pin.Write(gpio.Low)
	s.timer.Delay(SlavePresenceMin)
	s.pin.Write(gpio.High)

	// another slave may hold presence longer
	if s.timer.WaitWhile(s.pin, SlavePresenceMax-SlavePresenceMin, gpio.Low) == 0 {
		s.setErr(SlaveErrPresenceConflict)
		return false
	}
	return true
}

// SendBit answers one master read slot.
func (s *Slave) SendBit(v bool) bool {
	if s.timer.WaitWhile(s.pin, SlaveSlotMax, gpio.Low) == 0 {
		s.setErr(SlaveErrResetInProgress)
		return false
	}
	if s.timer.WaitWhile(s.pin, slaveHighTimeout, gpio.High) == 0 {
		s.setErr(SlaveErrTimeout)
		return false
	}
	if !v {
		s.pin.Write(gpio.Low)
	}
	s.timer.Delay(slaveHoldTime)
	s.pin.Write(gpio.High)
	return true
}

// ReceiveBit samples one master write slot. ok is false on a reset or a
// timeout, recorded in Err.
func (s *Slave) ReceiveBit() (bit, ok bool) {
	if s.timer.WaitWhile(s.pin, SlaveSlotMax, gpio.Low) == 0 {
		s.setErr(SlaveErrResetInProgress)
		return false, false
	}
	if s.timer.WaitWhile(s.pin, slaveHighTimeout, gpio.High) == 0 {
		s.setErr(SlaveErrTimeout)
		return false, false
	}
	return s.timer.WaitWhile(s.pin, slaveWrite1LowMax, gpio.Low) > 0, true
}

// Send transmits data, LSB first.
func (s *Slave) Send(data []byte) bool {
	for _, b := range data {
		for i := range 8 {
			if !s.SendBit(b&(1<<i) != 0) {
				return false
			}
		}
	}
	return true
}

// Receive fills data from the master, LSB first.
func (s *Slave) Receive(data []byte) bool {
	for n := range data {
		var b byte
		for i := range 8 {
			bit, ok := s.ReceiveBit()
			if !ok {
				return false
			}
			if bit {
				b |= 1 << i
			}
		}
		data[n] = b
	}
	return true
}

// EmulateSearch answers one SEARCH ROM pass with rom. selected is false
// when the master took the other branch and this device dropped out.
func (s *Slave) EmulateSearch(rom []byte) (selected, ok bool) {
	for i := range ROMSize * 8 {
		bit := rom[i/8]&(1<<(i%8)) != 0
		if !s.SendBit(bit) || !s.SendBit(!bit) {
			return false, false
		}
		dir, ok := s.ReceiveBit()
		if !ok {
			return false, false
		}
		if dir != bit {
			return false, true
		}
	}
	return true, true
}
