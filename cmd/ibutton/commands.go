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
	"io"
	"time"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/worker"
)

var errReadTimeout = errors.New("no key read before the timeout")

// app runs one command against a started worker.
type app struct {
	registry *ibutton.Registry
	worker   *worker.Worker
	pub      publisher
	out      io.Writer
	now      func() time.Time
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func (a *app) printKey(key *ibutton.Key) {
	a.printf("Protocol: %s (%s)\n", a.registry.Name(key.Protocol()), a.registry.GroupName(key.Protocol()))
	a.printf("%s\n", a.registry.RenderData(key))
	if e := a.registry.RenderError(key); e != "" {
		a.printf("%s\n", e)
	}
}

// read waits for keys. Without continuous it returns after the first
// result; otherwise it reports each new key until ctx ends.
func (a *app) read(ctx context.Context, outPath string, continuous bool) error {
	results := make(chan worker.ReadResult, 1)
	a.worker.SetCallbacks(worker.Callbacks{
		OnRead: func(_ *ibutton.Key, r worker.ReadResult) {
			select {
			case results <- r:
			default:
			}
		},
	})

	key := ibutton.NewKey()
	last := ibutton.NewKey()
	if err := a.worker.Read(key); err != nil {
		return err
	}
	a.printf("Waiting for a key...\n")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if r == worker.ReadTimeout {
				if !continuous {
					return errReadTimeout
				}
			} else if !key.Equal(last) {
				if err := a.report(key, r, outPath); err != nil {
					return err
				}
				last.CopyFrom(key)
			}
			if !continuous {
				return nil
			}
			if err := a.worker.Read(key); err != nil {
				return err
			}
		}
	}
}

func (a *app) report(key *ibutton.Key, r worker.ReadResult, outPath string) error {
	a.printf("Read %s\n", r)
	a.printKey(key)
	if err := a.pub.Publish(newReadEvent(a.registry, key, r, a.now())); err != nil {
		ibutton.Debugf("publish read event: %v", err)
	}
	if outPath == "" || r != worker.ReadSuccess {
		return nil
	}
	if err := a.registry.SaveFile(outPath, key); err != nil {
		return err
	}
	a.printf("Saved to %s\n", outPath)
	return nil
}

// write repeats write attempts until the key is written or ctx ends.
func (a *app) write(ctx context.Context, key *ibutton.Key, copyMemory bool) error {
	results := make(chan ibutton.WriteResult, 1)
	a.worker.SetCallbacks(worker.Callbacks{
		OnWrite: func(_ *ibutton.Key, r ibutton.WriteResult) {
			if r == ibutton.WriteNoDetect {
				return
			}
			select {
			case results <- r:
			default:
			}
		},
	})

	start := a.worker.WriteBlank
	if copyMemory {
		start = a.worker.WriteCopy
	}
	if err := start(key); err != nil {
		return err
	}
	a.printf("Writing %s %s, touch the target key...\n",
		a.registry.Name(key.Protocol()), a.registry.RenderUID(key))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			a.printf("Write: %s\n", r)
			if r == ibutton.WriteOK || r == ibutton.WriteSameKey {
				return a.worker.Stop()
			}
		}
	}
}

// emulate answers the bus as key until ctx ends. Closing the worker
// stops the emulation.
func (a *app) emulate(ctx context.Context, key *ibutton.Key) error {
	a.printf("Emulating %s %s. Press Ctrl+C to stop...\n",
		a.registry.Name(key.Protocol()), a.registry.RenderUID(key))
	a.worker.SetCallbacks(worker.Callbacks{
		OnEmulate: func(k *ibutton.Key) {
			a.printf("Emulated %s read by a reader\n", a.registry.RenderUID(k))
		},
	})
	if err := a.worker.Emulate(key); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func runInfo(registry *ibutton.Registry, path string, out io.Writer) error {
	key := ibutton.NewKey()
	if err := registry.LoadFile(path, key); err != nil {
		return err
	}
	a := &app{registry: registry, out: out}
	a.printKey(key)
	a.printf("Brief:\n%s\n", registry.RenderBriefData(key))
	return nil
}
