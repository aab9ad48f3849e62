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


package uart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/internal/simbus"
	"github.com/ZaparooProject/go-ibutton/onewire"
)

type keyState int

const (
	keyIdle keyState = iota
	keyCommand
	keyReadROM
	keySearch
)

// linePort models a serial adapter wired to a bus holding at most one
// ROM key. Every written byte comes back as its echo, altered where the
// key pulls the line low.
type linePort struct {
	writeErr error
	rom      []byte
	pending  []byte
	bauds    []int
	baud     int
	state    keyState
	cmd      byte
	bit      int
	phase    int
	shorted  bool
	mute     bool
	closed   bool
}

func newLinePort(rom []byte) *linePort {
	return &linePort{rom: rom, baud: slotBaud}
}

func (p *linePort) romBit(i int) bool {
	return p.rom[i/8]&(1<<(i%8)) != 0
}

func (p *linePort) reset() byte {
	switch {
	case p.shorted:
		return 0x00
	case p.rom == nil:
		p.state = keyIdle
		return resetPulse
	}
	p.state = keyCommand
	p.cmd, p.bit = 0, 0
	return 0xE0
}

// answer returns the echo of a read slot in which the key sends v.
func answer(slotByte byte, v bool) byte {
	if slotByte == slotOne && !v {
		return 0xFE
	}
	return slotByte
}

func (p *linePort) slot(b byte) byte {
	switch p.state {
	case keyCommand:
		if b == slotOne {
			p.cmd |= 1 << p.bit
		}
		p.bit++
		if p.bit == 8 {
			p.bit, p.phase = 0, 0
			switch p.cmd {
			case onewire.CmdReadROM:
				p.state = keyReadROM
			case onewire.CmdSearchROM:
				p.state = keySearch
			default:
				p.state = keyIdle
			}
		}
	case keyReadROM:
		echo := answer(b, p.romBit(p.bit))
		if p.bit++; p.bit == 64 {
			p.state = keyIdle
		}
		return echo
	case keySearch:
		v := p.romBit(p.bit)
		switch p.phase {
		case 0:
			p.phase = 1
			return answer(b, v)
		case 1:
			p.phase = 2
			return answer(b, !v)
		}
		p.phase = 0
		if (b == slotOne) != v {
			p.state = keyIdle
			break
		}
		if p.bit++; p.bit == 64 {
			p.state = keyIdle
		}
	case keyIdle:
	}
	return b
}

func (p *linePort) SetMode(m *serial.Mode) error {
	p.baud = m.BaudRate
	p.bauds = append(p.bauds, m.BaudRate)
	return nil
}

func (p *linePort) Write(data []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	for _, b := range data {
		var echo byte
		if p.baud == resetBaud {
			echo = p.reset()
		} else {
			echo = p.slot(b)
		}
		if !p.mute {
			p.pending = append(p.pending, echo)
		}
	}
	return len(data), nil
}

func (p *linePort) Read(data []byte) (int, error) {
	n := copy(data, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *linePort) ResetInputBuffer() error {
	p.pending = nil
	return nil
}

func (*linePort) Drain() error                                         { return nil }
func (*linePort) ResetOutputBuffer() error                             { return nil }
func (*linePort) SetDTR(bool) error                                    { return nil }
func (*linePort) SetRTS(bool) error                                    { return nil }
func (*linePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return &serial.ModemStatusBits{}, nil }
func (*linePort) SetReadTimeout(time.Duration) error                   { return nil }
func (*linePort) Break(time.Duration) error                            { return nil }

func (p *linePort) Close() error {
	p.closed = true
	return nil
}

var _ serial.Port = (*linePort)(nil)

func newTestAdapter(t *testing.T, port *linePort) *Adapter {
	t.Helper()
	a, err := NewWithPort(port, "sim")
	require.NoError(t, err)
	a.Start()
	return a
}

func TestAdapter_Reset(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(0x01, 1, 2, 3, 4, 5, 6)
	tests := []struct {
		port     *linePort
		name     string
		presence bool
		wantErr  bool
	}{
		{name: "key present", port: newLinePort(rom[:]), presence: true},
		{name: "empty bus", port: newLinePort(nil)},
		{name: "shorted line", port: &linePort{rom: rom[:], baud: slotBaud, shorted: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := newTestAdapter(t, tt.port)
			assert.Equal(t, tt.presence, a.Reset())
			assert.Equal(t, tt.wantErr, a.Err() != nil)
			assert.Equal(t, []int{resetBaud, slotBaud}, tt.port.bauds)
		})
	}
}

func TestAdapter_ReadROM(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(0x08, 0xA5, 0x5A, 0x00, 0xFF, 0x12, 0x34)
	a := newTestAdapter(t, newLinePort(rom[:]))

	require.True(t, a.Reset())
	a.Write(onewire.CmdReadROM)
	got := make([]byte, onewire.ROMSize)
	a.ReadBytes(got)

	require.NoError(t, a.Err())
	assert.Equal(t, rom[:], got)
}

func TestAdapter_Search(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(0x01, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60)
	a := newTestAdapter(t, newLinePort(rom[:]))

	got := make([]byte, onewire.ROMSize)
	require.True(t, a.Search(got, onewire.SearchNormal))
	assert.Equal(t, rom[:], got)
	assert.False(t, a.Search(got, onewire.SearchNormal), "a single key ends the enumeration")

	a.ResetSearch()
	assert.True(t, a.Search(got, onewire.SearchNormal))
	require.NoError(t, a.Err())
}

func TestAdapter_SilentPortTimesOut(t *testing.T) {
	t.Parallel()

	port := newLinePort(nil)
	port.mute = true
	a := newTestAdapter(t, port)

	assert.True(t, a.ReadBit(), "a failed slot reads as an idle line")
	err := a.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ibutton.ErrTransportTimeout)
	assert.True(t, ibutton.IsTransient(err))
	assert.NoError(t, a.Err(), "Err clears the recorded error")
}

func TestAdapter_WriteFailure(t *testing.T) {
	t.Parallel()

	port := newLinePort(nil)
	port.writeErr = errors.New("unplugged")
	a := newTestAdapter(t, port)

	a.Write(0x33)
	assert.ErrorIs(t, a.Err(), ibutton.ErrTransportWrite)
}

func TestAdapter_Close(t *testing.T) {
	t.Parallel()

	port := newLinePort(nil)
	a := newTestAdapter(t, port)

	require.NoError(t, a.Close())
	assert.True(t, port.closed)
	require.NoError(t, a.Close())

	assert.False(t, a.Reset())
	err := a.Err()
	assert.ErrorIs(t, err, ibutton.ErrTransportClosed)
	assert.True(t, ibutton.IsFatal(err), "a closed adapter is not retried")
}

func TestOpen_MissingPort(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "/dev/ibutton-does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ibutton.ErrAdapterNotFound)
	assert.True(t, ibutton.IsFatal(err))
}

func TestClassifyOpenError_Transient(t *testing.T) {
	t.Parallel()

	err := classifyOpenError("sim", errors.New("resource temporarily unavailable"))
	assert.True(t, ibutton.IsTransient(err))
	assert.False(t, ibutton.IsFatal(err))
}
