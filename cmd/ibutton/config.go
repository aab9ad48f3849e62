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
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZaparooProject/go-ibutton/worker"
)

// config is the contents of ibutton.yaml. Flags override the file.
type config struct {
	MQTT       mqttConfig       `yaml:"mqtt"`
	Bus        busConfig        `yaml:"bus"`
	Comparator comparatorConfig `yaml:"comparator"`
	Worker     workerConfig     `yaml:"worker"`
	LogDir     string           `yaml:"log_dir"`
	Debug      bool             `yaml:"debug"`
}

type busConfig struct {
	// Pin is the periph name of the 1-Wire data GPIO, e.g. "GPIO4".
	Pin string `yaml:"pin"`
	// Serial is a DS9097-style adapter port, or "auto" to detect one. It
	// takes precedence over Pin for reading and writing; emulation always
	// needs Pin.
	Serial string `yaml:"serial"`
}

type comparatorConfig struct {
	Pin        string        `yaml:"pin"`
	ReadWindow time.Duration `yaml:"read_window"`
}

type workerConfig struct {
	ReadInterval    time.Duration `yaml:"read_interval"`
	WriteInterval   time.Duration `yaml:"write_interval"`
	EmulateInterval time.Duration `yaml:"emulate_interval"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
}

type mqttConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

const (
	defaultClientID = "ibutton"
	defaultTopic    = "ibutton/read"
)

func defaultConfig() *config {
	d := worker.DefaultConfig()
	return &config{
		Worker: workerConfig{
			ReadInterval:    d.ReadInterval,
			WriteInterval:   d.WriteInterval,
			EmulateInterval: d.EmulateInterval,
		},
		MQTT: mqttConfig{
			ClientID: defaultClientID,
			Topic:    defaultTopic,
		},
	}
}

// loadConfig reads path over the defaults. A missing file is not an
// error when optional is set.
func loadConfig(path string, optional bool) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos %d out of range", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("mqtt topic is empty")
	}
	if c.Worker.ReadTimeout < 0 {
		return errors.New("negative read timeout")
	}
	return nil
}

func (c *config) workerConfig() *worker.Config {
	return &worker.Config{
		ReadInterval:    c.Worker.ReadInterval,
		WriteInterval:   c.Worker.WriteInterval,
		EmulateInterval: c.Worker.EmulateInterval,
		ReadTimeout:     c.Worker.ReadTimeout,
	}
}
