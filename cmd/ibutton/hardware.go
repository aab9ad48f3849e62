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


package main

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/dallas"
	"github.com/ZaparooProject/go-ibutton/misc"
	"github.com/ZaparooProject/go-ibutton/onewire"
	"github.com/ZaparooProject/go-ibutton/transport/uart"
)

// serialAuto as the serial port picks the first detected adapter.
const serialAuto = "auto"

var errNoBus = errors.New("no bus configured: set bus.pin or bus.serial")

// hardware owns the opened pins and adapters behind an ibutton.Env.
type hardware struct {
	env     *ibutton.Env
	closers []func() error
}

func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

func lookupPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}

// openHardware builds the environment described by cfg. needSlave asks
// for the emulation role, which only a GPIO line can provide.
func openHardware(ctx context.Context, cfg *config, needSlave bool) (*hardware, error) {
	if cfg.Bus.Pin == "" && cfg.Bus.Serial == "" && cfg.Comparator.Pin == "" {
		return nil, errNoBus
	}
	if needSlave && cfg.Bus.Pin == "" {
		return nil, errors.New("emulation needs bus.pin")
	}

	hw := &hardware{env: &ibutton.Env{}}
	if cfg.Bus.Pin != "" || cfg.Comparator.Pin != "" {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("init periph host: %w", err)
		}
	}

	clock := onewire.SystemClock{}
	if cfg.Bus.Pin != "" {
		p, err := lookupPin(cfg.Bus.Pin)
		if err != nil {
			return nil, err
		}
		line := onewire.NewGPIOPin(p)
		hw.env.Host = onewire.NewHost(line, clock)
		hw.env.Slave = onewire.NewSlave(line, clock)
		ibutton.Debugf("bus on %s", p)
	}
	if cfg.Bus.Serial != "" {
		portName := cfg.Bus.Serial
		if portName == serialAuto {
			ports, err := uart.NewDetector().Detect(ctx)
			if err != nil {
				return nil, fmt.Errorf("detect 1-Wire adapter: %w", err)
			}
			portName = ports[0]
		}
		adapter, err := uart.Open(ctx, portName)
		if err != nil {
			return nil, fmt.Errorf("open 1-Wire adapter: %w", err)
		}
		hw.env.Host = adapter
		hw.closers = append(hw.closers, adapter.Close)
	}
	if cfg.Comparator.Pin != "" {
		p, err := lookupPin(cfg.Comparator.Pin)
		if err != nil {
			_ = hw.Close()
			return nil, err
		}
		hw.env.Comparator = misc.NewEdgeComparator(onewire.NewGPIOPin(p), clock)
		ibutton.Debugf("comparator on %s", p)
	}
	return hw, nil
}

func newRegistry(cfg *config) *ibutton.Registry {
	var opts []misc.Option
	if cfg.Comparator.ReadWindow > 0 {
		opts = append(opts, misc.WithReadWindow(cfg.Comparator.ReadWindow))
	}
	return ibutton.NewRegistry(dallas.New(), misc.New(opts...))
}
