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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/dallas"
	"github.com/ZaparooProject/go-ibutton/internal/simbus"
	"github.com/ZaparooProject/go-ibutton/onewire"
	"github.com/ZaparooProject/go-ibutton/worker"
)

const waitFor = 5 * time.Second

func TestParseArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command string
		args    []string
		wantErr bool
	}{
		{name: "read", args: []string{"read"}, command: "read"},
		{name: "read with flags", args: []string{"-o", "key.ibtn", "-continuous", "read"}, command: "read"},
		{name: "write", args: []string{"write", "key.ibtn"}, command: "write"},
		{name: "copy", args: []string{"-serial", "/dev/ttyUSB0", "copy", "key.ibtn"}, command: "copy"},
		{name: "emulate", args: []string{"-pin", "GPIO4", "emulate", "key.ibtn"}, command: "emulate"},
		{name: "info", args: []string{"info", "key.ibtn"}, command: "info"},
		{name: "no command", args: nil, wantErr: true},
		{name: "unknown command", args: []string{"format"}, wantErr: true},
		{name: "write without file", args: []string{"write"}, wantErr: true},
		{name: "read with extra argument", args: []string{"read", "x"}, wantErr: true},
		{name: "bad flag", args: []string{"-nope", "read"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts, err := parseArgs(tt.args, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.command, opts.command)
		})
	}
}

func TestParseArgs_ConfigExplicit(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs([]string{"read"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, opts.configExplicit)
	assert.Equal(t, defaultConfigPath, opts.configPath)

	opts, err = parseArgs([]string{"-config", "other.yaml", "read"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, opts.configExplicit)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ibutton.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bus:
  pin: GPIO4
comparator:
  pin: GPIO17
  read_window: 250ms
worker:
  read_timeout: 30s
mqtt:
  broker: tcp://localhost:1883
  qos: 1
`), 0o600))

	cfg, err := loadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "GPIO4", cfg.Bus.Pin)
	assert.Equal(t, "GPIO17", cfg.Comparator.Pin)
	assert.Equal(t, 250*time.Millisecond, cfg.Comparator.ReadWindow)
	assert.Equal(t, 30*time.Second, cfg.Worker.ReadTimeout)
	assert.Equal(t, worker.DefaultConfig().ReadInterval, cfg.Worker.ReadInterval, "unset keys keep defaults")
	assert.Equal(t, defaultTopic, cfg.MQTT.Topic)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	cfg, err := loadConfig(missing, true)
	require.NoError(t, err, "an optional file may be missing")
	assert.Equal(t, defaultClientID, cfg.MQTT.ClientID)

	_, err = loadConfig(missing, false)
	require.Error(t, err)

	badQoS := filepath.Join(dir, "qos.yaml")
	require.NoError(t, os.WriteFile(badQoS, []byte("mqtt:\n  qos: 3\n"), 0o600))
	_, err = loadConfig(badQoS, false)
	require.Error(t, err)

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("bus: [unclosed"), 0o600))
	_, err = loadConfig(garbage, false)
	require.Error(t, err)
}

func TestOptionsApply(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Bus.Pin = "GPIO4"
	opts := &cliOptions{serial: "/dev/ttyUSB0", readTimeout: time.Second, debug: true}
	opts.apply(cfg)

	assert.Equal(t, "GPIO4", cfg.Bus.Pin)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Bus.Serial)
	assert.Equal(t, time.Second, cfg.Worker.ReadTimeout)
	assert.True(t, cfg.Debug)
	assert.Equal(t, time.Second, cfg.workerConfig().ReadTimeout)
}

func TestOpenHardware_Errors(t *testing.T) {
	t.Parallel()

	_, err := openHardware(context.Background(), defaultConfig(), false)
	require.ErrorIs(t, err, errNoBus)

	cfg := defaultConfig()
	cfg.Bus.Serial = "/dev/ttyUSB0"
	_, err = openHardware(context.Background(), cfg, true)
	require.Error(t, err, "emulation needs a GPIO line")
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	events []readEvent
}

func (p *recordingPublisher) Publish(ev readEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func (*recordingPublisher) Close() {}

func newTestApp(t *testing.T, cfg *config, devices ...simbus.Responder) (*app, *bytes.Buffer, *recordingPublisher) {
	t.Helper()
	bus := simbus.NewBus()
	for _, d := range devices {
		bus.Attach(d)
	}
	t.Cleanup(bus.Close)

	registry := newRegistry(cfg)
	env := &ibutton.Env{Host: onewire.NewHost(bus, bus.Clock(), onewire.WithHostGuard(onewire.NopGuard{}))}
	w := worker.New(registry, env, worker.WithConfig(cfg.workerConfig()))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Close)

	out := &bytes.Buffer{}
	pub := &recordingPublisher{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &app{
		registry: registry,
		worker:   w,
		pub:      pub,
		out:      out,
		now:      func() time.Time { return now },
	}, out, pub
}

func fastTestConfig() *config {
	cfg := defaultConfig()
	cfg.Worker.ReadInterval = 2 * time.Millisecond
	cfg.Worker.WriteInterval = 2 * time.Millisecond
	cfg.Comparator.ReadWindow = time.Millisecond
	return cfg
}

func TestApp_Read(t *testing.T) {
	t.Parallel()

	rom := simbus.MakeROM(dallas.FamilyDS1990, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60)
	a, out, pub := newTestApp(t, fastTestConfig(), simbus.NewROMKey(rom))
	path := filepath.Join(t.TempDir(), "key.ibtn")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, a.read(ctx, path, false))

	assert.Contains(t, out.String(), "Protocol: DS1990 (Dallas)")
	assert.Contains(t, out.String(), "Saved to "+path)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "DS1990", ev.Protocol)
	assert.Equal(t, "Dallas", ev.Group)
	assert.Equal(t, "success", ev.Result)
	assert.True(t, ev.Valid)

	key := ibutton.NewKey()
	require.NoError(t, a.registry.LoadFile(path, key))
	assert.Equal(t, rom[:], a.registry.Data(key))
}

func TestApp_ReadTimeout(t *testing.T) {
	t.Parallel()

	cfg := fastTestConfig()
	cfg.Worker.ReadTimeout = 20 * time.Millisecond
	a, _, pub := newTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.ErrorIs(t, a.read(ctx, "", false), errReadTimeout)
	assert.Empty(t, pub.events)
}

func TestApp_ReadCancelled(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, fastTestConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, a.read(ctx, "", true), context.Canceled)
}

func TestApp_WriteBlank(t *testing.T) {
	t.Parallel()

	blank := simbus.NewRW1990(2, simbus.MakeROM(dallas.FamilyDS1990, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF))
	target := simbus.MakeROM(dallas.FamilyDS1990, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06)
	a, out, _ := newTestApp(t, fastTestConfig(), blank)

	key := ibutton.NewKey()
	key.SetProtocol(a.registry.IDByName("DS1990"))
	copy(a.registry.Data(key), target[:])

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, a.write(ctx, key, false))

	assert.Contains(t, out.String(), "Write: ok")
	assert.Equal(t, target, blank.ROM())
}

func TestApp_EmulateRejectsPulseKeys(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, fastTestConfig())
	key := ibutton.NewKey()
	key.SetProtocol(a.registry.IDByName("Cyfral"))

	err := a.emulate(context.Background(), key)
	require.ErrorIs(t, err, ibutton.ErrFeatureNotSupported)
}

func TestRunInfo(t *testing.T) {
	t.Parallel()

	registry := newRegistry(defaultConfig())
	rom := simbus.MakeROM(dallas.FamilyDS1990, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF)
	key := ibutton.NewKey()
	key.SetProtocol(registry.IDByName("DS1990"))
	copy(registry.Data(key), rom[:])

	path := filepath.Join(t.TempDir(), "key.ibtn")
	require.NoError(t, registry.SaveFile(path, key))

	out := &bytes.Buffer{}
	require.NoError(t, runInfo(registry, path, out))
	assert.Contains(t, out.String(), "Protocol: DS1990 (Dallas)")
	assert.Contains(t, out.String(), "ROM Data: 01 AA BB CC DD EE FF")
	assert.NotContains(t, out.String(), "CRC Error")

	require.Error(t, runInfo(registry, filepath.Join(t.TempDir(), "none.ibtn"), out))
}

func TestReadEvent_JSON(t *testing.T) {
	t.Parallel()

	registry := newRegistry(defaultConfig())
	key := ibutton.NewKey()
	key.SetProtocol(registry.IDByName("Metakom"))
	copy(registry.Data(key), []byte{0xDE, 0xAD, 0xBE, 0xEF})

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	raw, err := json.Marshal(newReadEvent(registry, key, worker.ReadSuccess, now))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Metakom", got["protocol"])
	assert.Equal(t, "Misc", got["group"])
	assert.Equal(t, "DE AD BE EF", got["uid"])
	assert.Equal(t, "2026-03-04T05:06:07Z", got["time"])
	assert.Equal(t, true, got["valid"])
}
