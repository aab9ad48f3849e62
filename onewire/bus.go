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

	"periph.io/x/conn/v3/onewire"
)

// noDevicesError satisfies periph's onewire.NoDevicesError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) NoDevices() bool { return true }

// busError satisfies periph's onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// ErrNoPresence is returned by Bus.Tx when no device answers the reset.
var ErrNoPresence error = noDevicesError("onewire: no presence pulse")

// ErrStrongPullup is returned by Bus.Tx when a strong pull-up is requested;
// an open-drain GPIO line cannot source parasite power.
var ErrStrongPullup error = busError("onewire: strong pull-up not supported")

// Bus exposes a Master as a periph.io onewire.BusSearcher so periph device
// drivers and onewire.Search can run on it.
type Bus struct {
	master Master
	name   string
}

var (
	_ onewire.Bus         = (*Bus)(nil)
	_ onewire.BusSearcher = (*Bus)(nil)
)

// NewBus wraps master. name is returned by String.
func NewBus(master Master, name string) *Bus {
	return &Bus{master: master, name: name}
}

// String implements onewire.Bus.
func (b *Bus) String() string {
	return fmt.Sprintf("onewire.Bus(%s)", b.name)
}

// Tx resets the bus, writes w and then reads len(r) bytes.
func (b *Bus) Tx(w, r []byte, power onewire.Pullup) error {
	if power == onewire.StrongPullup {
		return ErrStrongPullup
	}
	if !b.master.Reset() {
		return ErrNoPresence
	}
	b.master.WriteBytes(w)
	b.master.ReadBytes(r)
	return nil
}

// Search enumerates the bus with the periph search algorithm.
func (b *Bus) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(b, alarmOnly)
}

// SearchTriplet reads an id bit and its complement, then writes the
// direction taken. A zero on the line means some device holds that value.
func (b *Bus) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	idBit := b.master.ReadBit()
	cmpBit := b.master.ReadBit()
	res := onewire.TripletResult{
		GotZero: !idBit,
		GotOne:  !cmpBit,
	}
	switch {
	case res.GotZero && res.GotOne:
		res.Taken = direction & 1
	case res.GotOne:
		res.Taken = 1
	default:
		res.Taken = 0
	}
	b.master.WriteBit(res.Taken == 1)
	return res, nil
}
