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

package worker

import (
	"time"

	"github.com/ZaparooProject/go-ibutton"
)

// Mode is a worker state.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeRead
	ModeWriteBlank
	ModeWriteCopy
	ModeEmulate
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRead:
		return "read"
	case ModeWriteBlank:
		return "write blank"
	case ModeWriteCopy:
		return "write copy"
	case ModeEmulate:
		return "emulate"
	default:
		return "unknown"
	}
}

type modeHandler struct {
	start    func(w *Worker)
	tick     func(w *Worker)
	stop     func(w *Worker)
	interval func(c *Config) time.Duration
}

func noop(*Worker) {}

func handlerFor(m Mode) modeHandler {
	switch m {
	case ModeRead:
		return modeHandler{
			start:    startRead,
			tick:     tickRead,
			stop:     stopHost,
			interval: func(c *Config) time.Duration { return c.ReadInterval },
		}
	case ModeWriteBlank:
		return modeHandler{
			start:    startHost,
			tick:     func(w *Worker) { tickWrite(w, w.writer.WriteBlank) },
			stop:     stopHost,
			interval: func(c *Config) time.Duration { return c.WriteInterval },
		}
	case ModeWriteCopy:
		return modeHandler{
			start:    startHost,
			tick:     func(w *Worker) { tickWrite(w, w.writer.WriteCopy) },
			stop:     stopHost,
			interval: func(c *Config) time.Duration { return c.WriteInterval },
		}
	case ModeEmulate:
		return modeHandler{
			start:    startEmulate,
			tick:     noop,
			stop:     stopEmulate,
			interval: func(c *Config) time.Duration { return c.EmulateInterval },
		}
	default:
		return modeHandler{
			start:    noop,
			tick:     noop,
			stop:     noop,
			interval: func(*Config) time.Duration { return 0 },
		}
	}
}

func startHost(w *Worker) {
	w.platform.PowerOn()
	if w.env.Host != nil {
		w.env.Host.Start()
	}
}

func stopHost(w *Worker) {
	if w.env.Host != nil {
		w.env.Host.Stop()
	}
	w.platform.PowerOff()
}

func startRead(w *Worker) {
	startHost(w)
	w.deadline = time.Time{}
	if w.config.ReadTimeout > 0 {
		w.deadline = time.Now().Add(w.config.ReadTimeout)
	}
}

// tickRead makes one Dallas attempt followed by one pulse attempt. A
// result ends read mode before the callback runs.
func tickRead(w *Worker) {
	key := w.key
	var result ReadResult
	switch {
	case w.registry.Read(w.env, key):
		w.reads.Add(1)
		result = ReadSuccess
		if !w.registry.IsValid(key) {
			result = ReadInvalid
		}
		ibutton.Debugf("worker: read %s %s (%s)", w.registry.Name(key.Protocol()),
			w.registry.RenderUID(key), result)
	case !w.deadline.IsZero() && time.Now().After(w.deadline):
		result = ReadTimeout
	default:
		return
	}

	w.switchMode(ModeIdle, nil)
	if fn := w.currentCallbacks().OnRead; fn != nil {
		fn(key, result)
	}
}

// tickWrite reports every attempt, including one that found no key.
// Write mode keeps running until the caller stops it.
func tickWrite(w *Worker, write func(*ibutton.Key) ibutton.WriteResult) {
	result := write(w.key)
	if result != ibutton.WriteNoDetect {
		w.writes.Add(1)
		ibutton.Debugf("worker: write %s: %s", w.registry.Name(w.key.Protocol()), result)
	}
	if fn := w.currentCallbacks().OnWrite; fn != nil {
		fn(w.key, result)
	}
}

func startEmulate(w *Worker) {
	// drop a notification left over from an earlier emulation
	select {
	case <-w.emulated:
	default:
	}
	w.registry.EmulateStart(w.env, w.key)
}

func stopEmulate(w *Worker) {
	w.registry.EmulateStop(w.env, w.key)
}
