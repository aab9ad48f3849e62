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


// Package uart drives a 1-Wire bus through a serial port wired as a
// DS9097-style adapter: TX and RX tied to the data line through a diode.
// Each bus slot is one UART byte at 115200 baud; a reset is one byte at
// 9600 baud, long enough to cover the reset low and the presence window.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.bug.st/serial"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/internal/syncutil"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

const (
	slotBaud  = 115200
	resetBaud = 9600

	resetPulse byte = 0xF0
	slotOne    byte = 0xFF
	slotZero   byte = 0x00

	defaultReadTimeout = 50 * time.Millisecond
)

var errBusShorted = errors.New("1-Wire line held low")

// Option configures an Adapter.
type Option func(*Adapter)

// WithReadTimeout sets how long a slot echo may take.
func WithReadTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithRetry sets the retry policy Open uses while the port enumerates.
func WithRetry(cfg *ibutton.RetryConfig) Option {
	return func(a *Adapter) {
		a.retry = cfg
	}
}

// Adapter implements onewire.Master over a serial port. Master methods
// have no error return; the first I/O failure since the last call to Err
// is kept and a failed slot reads as an idle line.
type Adapter struct {
	port     serial.Port
	err      error
	retry    *ibutton.RetryConfig
	portName string
	search   onewire.SearchCursor
	mode     serial.Mode
	timeout  time.Duration
	mu       syncutil.Mutex
}

var _ onewire.Master = (*Adapter)(nil)

func newAdapter(portName string, opts []Option) *Adapter {
	a := &Adapter{
		portName: portName,
		timeout:  defaultReadTimeout,
		mode: serial.Mode{
			BaudRate: slotBaud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open opens portName, retrying while the port is busy or not yet ready.
// A port that does not exist fails at once with ErrAdapterNotFound.
func Open(ctx context.Context, portName string, opts ...Option) (*Adapter, error) {
	a := newAdapter(portName, opts)
	err := ibutton.Retry(ctx, a.retry, func() error {
		port, err := serial.Open(portName, &a.mode)
		if err != nil {
			return classifyOpenError(portName, err)
		}
		a.port = port
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := a.port.SetReadTimeout(a.timeout); err != nil {
		_ = a.port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	ibutton.Debugf("uart: opened %s", portName)
	return a, nil
}

// NewWithPort wraps an already open port.
func NewWithPort(port serial.Port, portName string, opts ...Option) (*Adapter, error) {
	a := newAdapter(portName, opts)
	a.port = port
	if err := port.SetReadTimeout(a.timeout); err != nil {
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	return a, nil
}

func classifyOpenError(portName string, err error) error {
	notFound := errors.Is(err, fs.ErrNotExist)
	var pe *serial.PortError
	if errors.As(err, &pe) {
		//nolint:exhaustive // remaining codes are worth another attempt
		switch pe.Code() {
		case serial.PortNotFound, serial.InvalidSerialPort, serial.PermissionDenied:
			notFound = true
		}
	}
	if notFound {
		return ibutton.NewTransportError("open", portName,
			fmt.Errorf("%w: %w", ibutton.ErrAdapterNotFound, err), ibutton.ErrorTypePermanent)
	}
	return ibutton.NewTransportError("open", portName, err, ibutton.ErrorTypeTransient)
}

// Close closes the serial port.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.port == nil {
		return nil
	}
	err := a.port.Close()
	a.port = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", a.portName, err)
	}
	return nil
}

// Err returns and clears the first error recorded since the last call.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.err
	a.err = nil
	return err
}

func (a *Adapter) fail(op string, err error) {
	if a.err == nil {
		var te *ibutton.TransportError
		switch {
		case errors.As(err, &te):
			a.err = err
		case ibutton.IsFatal(err):
			a.err = ibutton.NewTransportError(op, a.portName, err, ibutton.ErrorTypePermanent)
		default:
			a.err = ibutton.NewTransportError(op, a.portName, err, ibutton.ErrorTypeTransient)
		}
	}
	ibutton.Debugf("uart: %s on %s: %v", op, a.portName, err)
}

// Start restores the slot baud rate.
func (a *Adapter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.port == nil {
		a.fail("start", ibutton.ErrTransportClosed)
		return
	}
	if err := a.setBaud(slotBaud); err != nil {
		a.fail("start", err)
	}
}

// Stop waits for pending output to leave the port.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.port == nil {
		return
	}
	if err := a.port.Drain(); err != nil {
		a.fail("stop", err)
	}
}

func (a *Adapter) setBaud(baud int) error {
	if a.mode.BaudRate == baud {
		return nil
	}
	mode := a.mode
	mode.BaudRate = baud
	if err := a.port.SetMode(&mode); err != nil {
		return fmt.Errorf("set %d baud: %w", baud, err)
	}
	a.mode = mode
	return nil
}

// exchange writes slots and returns their echo. Callers hold mu.
func (a *Adapter) exchange(slots []byte) ([]byte, error) {
	if a.port == nil {
		return nil, ibutton.ErrTransportClosed
	}
	if err := a.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("flush input: %w", err)
	}
	n, err := a.port.Write(slots)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ibutton.ErrTransportWrite, err)
	}
	if n != len(slots) {
		return nil, fmt.Errorf("%w: wrote %d of %d", ibutton.ErrTransportWrite, n, len(slots))
	}

	echo := make([]byte, len(slots))
	got := 0
	for got < len(echo) {
		n, err := a.port.Read(echo[got:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ibutton.ErrTransportRead, err)
		}
		if n == 0 {
			return nil, ibutton.NewTimeoutError("read echo", a.portName)
		}
		got += n
	}
	return echo, nil
}

// Reset sends the reset pulse and reports presence. A slave answering
// the pulse pulls the line low inside the start byte's high nibble.
func (a *Adapter) Reset() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		a.fail("reset", ibutton.ErrTransportClosed)
		return false
	}
	if err := a.setBaud(resetBaud); err != nil {
		a.fail("reset", err)
		return false
	}
	echo, err := a.exchange([]byte{resetPulse})
	if berr := a.setBaud(slotBaud); berr != nil && err == nil {
		err = berr
	}
	if err != nil {
		a.fail("reset", err)
		return false
	}

	switch {
	case echo[0] == 0x00:
		a.fail("reset", errBusShorted)
		return false
	case echo[0]&0x0F != 0:
		a.fail("reset", fmt.Errorf("%w: reset echo %#02x", ibutton.ErrTransportRead, echo[0]))
		return false
	case echo[0] == resetPulse:
		return false
	}
	return true
}

func slot(v bool) byte {
	if v {
		return slotOne
	}
	return slotZero
}

// ReadBit runs one read slot. A slave sending 0 stretches the low and
// corrupts the echo.
func (a *Adapter) ReadBit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	echo, err := a.exchange([]byte{slotOne})
	if err != nil {
		a.fail("read bit", err)
		return true
	}
	return echo[0] == slotOne
}

// WriteBit runs one write slot.
func (a *Adapter) WriteBit(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	echo, err := a.exchange([]byte{slot(v)})
	if err != nil {
		a.fail("write bit", err)
		return
	}
	if echo[0] != slot(v) {
		a.fail("write bit", fmt.Errorf("%w: echo %#02x", ibutton.ErrTransportWrite, echo[0]))
	}
}

// Read reads one byte, LSB first, in a single eight-slot exchange.
func (a *Adapter) Read() byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	slots := [8]byte{slotOne, slotOne, slotOne, slotOne, slotOne, slotOne, slotOne, slotOne}
	echo, err := a.exchange(slots[:])
	if err != nil {
		a.fail("read", err)
		return 0xFF
	}
	var b byte
	for i, e := range echo {
		if e == slotOne {
			b |= 1 << i
		}
	}
	return b
}

// Write writes one byte, LSB first.
func (a *Adapter) Write(b byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var slots [8]byte
	for i := range slots {
		slots[i] = slot(b&(1<<i) != 0)
	}
	echo, err := a.exchange(slots[:])
	if err != nil {
		a.fail("write", err)
		return
	}
	for i := range slots {
		if echo[i] != slots[i] {
			a.fail("write", fmt.Errorf("%w: bit %d echo %#02x", ibutton.ErrTransportWrite, i, echo[i]))
			return
		}
	}
}

// ReadBytes implements onewire.Master.
func (a *Adapter) ReadBytes(buf []byte) {
	for i := range buf {
		buf[i] = a.Read()
	}
}

// WriteBytes implements onewire.Master.
func (a *Adapter) WriteBytes(buf []byte) {
	for _, b := range buf {
		a.Write(b)
	}
}

// Search implements onewire.Master. Slots are not timing sensitive on a
// serial adapter, so no guard is held.
func (a *Adapter) Search(rom []byte, mode onewire.SearchMode) bool {
	return a.search.Next(a, onewire.NopGuard{}, rom, mode)
}

// ResetSearch implements onewire.Master.
func (a *Adapter) ResetSearch() {
	a.search.Reset()
}

// TargetSearch implements onewire.Master.
func (a *Adapter) TargetSearch(family byte) {
	a.search.Target(family)
}

// Delay sleeps; the adapter has no cycle counter.
func (*Adapter) Delay(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}
