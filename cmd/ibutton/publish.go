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
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/worker"
)

const (
	mqttConnectTimeout  = 10 * time.Second
	mqttPublishTimeout  = 5 * time.Second
	mqttDisconnectQuiet = 250 // milliseconds
)

// readEvent is the JSON payload published for every key read.
type readEvent struct {
	Time     time.Time `json:"time"`
	Protocol string    `json:"protocol"`
	Group    string    `json:"group"`
	UID      string    `json:"uid"`
	Result   string    `json:"result"`
	Valid    bool      `json:"valid"`
}

func newReadEvent(reg *ibutton.Registry, key *ibutton.Key, result worker.ReadResult, now time.Time) readEvent {
	return readEvent{
		Time:     now.UTC(),
		Protocol: reg.Name(key.Protocol()),
		Group:    reg.GroupName(key.Protocol()),
		UID:      reg.RenderUID(key),
		Result:   result.String(),
		Valid:    reg.IsValid(key),
	}
}

type publisher interface {
	Publish(ev readEvent) error
	Close()
}

type nopPublisher struct{}

func (nopPublisher) Publish(readEvent) error { return nil }
func (nopPublisher) Close()                  {}

// mqttPublisher sends read events to a broker.
type mqttPublisher struct {
	client pahomqtt.Client
	topic  string
	qos    byte
}

func newPublisher(cfg mqttConfig) (publisher, error) {
	if cfg.Broker == "" {
		return nopPublisher{}, nil
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		ibutton.Debugf("mqtt: connection lost: %v", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout after %v", cfg.Broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return &mqttPublisher{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

func (p *mqttPublisher) Publish(ev readEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode read event: %w", err)
	}
	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish to %s: timeout after %v", p.topic, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(mqttDisconnectQuiet)
}
