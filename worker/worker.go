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

// Package worker runs the iButton state machine on its own goroutine.
// Callers send read, write and emulate commands; results come back through
// callbacks. Each mode owns the bus role it needs and releases it when the
// next command arrives.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/internal/syncutil"
)

var (
	// ErrStopped is returned for commands sent after Close.
	ErrStopped = errors.New("worker: stopped")
	// ErrNoKey is returned when a command needs a key and got nil.
	ErrNoKey = errors.New("worker: no key")
)

// ReadResult is passed to the read callback.
type ReadResult int

const (
	// ReadSuccess means the key holds a valid key.
	ReadSuccess ReadResult = iota
	// ReadInvalid means a key was read but failed its protocol's checks.
	ReadInvalid
	// ReadTimeout means Config.ReadTimeout elapsed without a key.
	ReadTimeout
)

func (r ReadResult) String() string {
	switch r {
	case ReadSuccess:
		return "success"
	case ReadInvalid:
		return "invalid"
	case ReadTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Platform switches the board resources the bus needs. The zero value of
// NopPlatform does nothing.
type Platform interface {
	// PowerOn enables power to the key contact.
	PowerOn()
	// PowerOff disables it.
	PowerOff()
}

// NopPlatform is a Platform without switchable power.
type NopPlatform struct{}

// PowerOn implements Platform.
func (NopPlatform) PowerOn() {}

// PowerOff implements Platform.
func (NopPlatform) PowerOff() {}

// Callbacks are invoked from the worker goroutine.
type Callbacks struct {
	OnRead    func(key *ibutton.Key, result ReadResult)
	OnWrite   func(key *ibutton.Key, result ibutton.WriteResult)
	OnEmulate func(key *ibutton.Key)
}

// Metrics counts worker activity.
type Metrics struct {
	Ticks         int64 // mode ticks run
	Reads         int64 // keys read
	Writes        int64 // write attempts that found a key
	Emulations    int64 // completed emulated bus cycles
	DroppedEvents int64 // emulation events merged while one was pending
	ModeSwitches  int64
}

type message struct {
	key  *ibutton.Key
	mode Mode
}

// Worker drives one iButton contact. Commands are queued one deep: a
// caller is expected to wait for the callback before sending the next.
type Worker struct {
	registry  *ibutton.Registry
	env       *ibutton.Env
	writer    *ibutton.Writer
	platform  Platform
	config    *Config
	msgs      chan message
	emulated  chan struct{}
	done      chan struct{}
	key       *ibutton.Key
	callbacks Callbacks
	deadline  time.Time
	ticker    *time.Ticker
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        syncutil.RWMutex
	mode      Mode

	ticks         atomic.Int64
	reads         atomic.Int64
	writes        atomic.Int64
	emulations    atomic.Int64
	droppedEvents atomic.Int64
	modeSwitches  atomic.Int64
	current       atomic.Int32
	running       atomic.Bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithConfig sets the tick intervals. Zero fields keep their defaults.
func WithConfig(c *Config) Option {
	return func(w *Worker) {
		w.config = c.withDefaults()
	}
}

// WithPlatform sets the power control.
func WithPlatform(p Platform) Option {
	return func(w *Worker) {
		if p != nil {
			w.platform = p
		}
	}
}

// WithCallbacks sets the result callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(w *Worker) {
		w.callbacks = cb
	}
}

// New creates an idle worker over env. The slave in env, if any, reports
// completed emulation cycles to the worker.
func New(registry *ibutton.Registry, env *ibutton.Env, opts ...Option) *Worker {
	w := &Worker{
		registry: registry,
		env:      env,
		writer:   ibutton.NewWriter(registry, env),
		platform: NopPlatform{},
		config:   DefaultConfig(),
		msgs:     make(chan message, 1),
		emulated: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if env.Slave != nil {
		env.Slave.SetResultCallback(w.notifyEmulated)
	}
	return w
}

// notifyEmulated runs in the slave's interrupt context.
func (w *Worker) notifyEmulated() {
	select {
	case w.emulated <- struct{}{}:
	default:
		w.droppedEvents.Add(1)
	}
}

// SetCallbacks replaces the result callbacks.
func (w *Worker) SetCallbacks(cb Callbacks) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = cb
}

func (w *Worker) currentCallbacks() Callbacks {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.callbacks
}

// Start launches the worker goroutine. It runs until ctx is cancelled or
// Close is called.
func (w *Worker) Start(ctx context.Context) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	if w.running.CompareAndSwap(false, true) {
		w.wg.Add(1)
		go w.run(ctx)
	}
	return nil
}

// Close stops the current mode and waits for the goroutine to exit.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

// Read starts reading into key. The worker borrows key until the read
// callback or the next command.
func (w *Worker) Read(key *ibutton.Key) error {
	return w.send(message{mode: ModeRead, key: key})
}

// WriteBlank starts writing key onto a blank.
func (w *Worker) WriteBlank(key *ibutton.Key) error {
	if err := checkProtocol(key); err != nil {
		return err
	}
	return w.send(message{mode: ModeWriteBlank, key: key})
}

// WriteCopy starts copying key's memory onto a key of the same type.
func (w *Worker) WriteCopy(key *ibutton.Key) error {
	if err := checkProtocol(key); err != nil {
		return err
	}
	return w.send(message{mode: ModeWriteCopy, key: key})
}

// Emulate starts emulating key. Protocols without FeatureEmulate are
// rejected before reaching the worker.
func (w *Worker) Emulate(key *ibutton.Key) error {
	if err := checkProtocol(key); err != nil {
		return err
	}
	if d := w.registry.Descriptor(key.Protocol()); !d.Features.Has(ibutton.FeatureEmulate) {
		return &ibutton.ProtocolError{Op: "emulate", Protocol: d.Name, Err: ibutton.ErrFeatureNotSupported}
	}
	return w.send(message{mode: ModeEmulate, key: key})
}

func checkProtocol(key *ibutton.Key) error {
	if key == nil {
		return ErrNoKey
	}
	if key.Protocol() == ibutton.ProtocolInvalid {
		return ibutton.ErrUnknownProtocol
	}
	return nil
}

// Stop returns the worker to idle.
func (w *Worker) Stop() error {
	return w.send(message{mode: ModeIdle})
}

func (w *Worker) send(m message) error {
	if m.mode != ModeIdle && m.key == nil {
		return ErrNoKey
	}
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	select {
	case w.msgs <- m:
		return nil
	case <-w.done:
		return ErrStopped
	}
}

// Mode returns the current mode.
func (w *Worker) Mode() Mode {
	return Mode(w.current.Load())
}

// GetMetrics returns current operational metrics
func (w *Worker) GetMetrics() Metrics {
	return Metrics{
		Ticks:         w.ticks.Load(),
		Reads:         w.reads.Load(),
		Writes:        w.writes.Load(),
		Emulations:    w.emulations.Load(),
		DroppedEvents: w.droppedEvents.Load(),
		ModeSwitches:  w.modeSwitches.Load(),
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	w.ticker = time.NewTicker(time.Hour)
	w.ticker.Stop()
	defer func() {
		w.switchMode(ModeIdle, nil)
		w.ticker.Stop()
		w.running.Store(false)
	}()

	for {
		var tick <-chan time.Time
		if handlerFor(w.mode).interval(w.config) > 0 {
			tick = w.ticker.C
		}
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case m := <-w.msgs:
			w.switchMode(m.mode, m.key)
		case <-w.emulated:
			w.onEmulated()
		case <-tick:
			w.ticks.Add(1)
			handlerFor(w.mode).tick(w)
		}
	}
}

// switchMode stops the current mode and starts next, even when they are
// the same.
func (w *Worker) switchMode(next Mode, key *ibutton.Key) {
	prev := w.mode
	handlerFor(prev).stop(w)
	w.mode = next
	w.key = key
	handlerFor(next).start(w)
	w.current.Store(int32(next))
	w.modeSwitches.Add(1)

	if interval := handlerFor(next).interval(w.config); interval > 0 {
		w.ticker.Reset(interval)
	} else {
		w.ticker.Stop()
	}
	ibutton.Debugf("worker: %s -> %s", prev, next)
}

func (w *Worker) onEmulated() {
	if w.mode != ModeEmulate {
		return
	}
	w.emulations.Add(1)
	if fn := w.currentCallbacks().OnEmulate; fn != nil {
		fn(w.key)
	}
}
