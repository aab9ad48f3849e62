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
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-ibutton"
)

// Detector finds serial ports that behave like a 1-Wire adapter.
type Detector struct {
	list func() ([]*enumerator.PortDetails, error)
	open func(ctx context.Context, name string) (*Adapter, error)

	// Blocklist holds VID:PID pairs that are never probed.
	Blocklist []string
	// IgnorePaths holds port paths that are skipped.
	IgnorePaths []string
	// Probe opens each candidate and checks the reset echo. Without it
	// every USB serial port is a candidate.
	Probe bool
}

// NewDetector returns a probing detector over the system's ports.
func NewDetector() *Detector {
	return &Detector{
		list: enumerator.GetDetailedPortsList,
		open: func(ctx context.Context, name string) (*Adapter, error) {
			return Open(ctx, name, WithRetry(&ibutton.RetryConfig{MaxAttempts: 1}))
		},
		Probe: true,
	}
}

// Detect returns the paths of matching ports in enumeration order.
func (d *Detector) Detect(ctx context.Context) ([]string, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var found []string
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if !p.IsUSB || d.blocked(p.VID, p.PID) || slices.Contains(d.IgnorePaths, p.Name) {
			continue
		}
		if d.Probe && !d.probe(ctx, p.Name) {
			continue
		}
		ibutton.Debugf("uart: adapter candidate %s (%s:%s %s)", p.Name, p.VID, p.PID, p.Product)
		found = append(found, p.Name)
	}
	if len(found) == 0 {
		return nil, ibutton.ErrAdapterNotFound
	}
	return found, nil
}

func (d *Detector) blocked(vid, pid string) bool {
	id := strings.ToUpper(vid + ":" + pid)
	for _, b := range d.Blocklist {
		if strings.ToUpper(strings.TrimSpace(b)) == id {
			return true
		}
	}
	return false
}

// probe sends one reset. A port without the TX/RX loop never echoes.
func (d *Detector) probe(ctx context.Context, name string) bool {
	a, err := d.open(ctx, name)
	if err != nil {
		ibutton.Debugf("uart: probe %s: %v", name, err)
		return false
	}
	defer func() { _ = a.Close() }()

	a.Start()
	a.Reset()
	if err := a.Err(); err != nil {
		ibutton.Debugf("uart: probe %s: %v", name, err)
		return false
	}
	return true
}
