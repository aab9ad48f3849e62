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

import "time"

// Config holds the worker's per-mode tick intervals.
type Config struct {
	// ReadInterval is the pause between read attempts.
	ReadInterval time.Duration
	// WriteInterval is the pause between write attempts.
	WriteInterval time.Duration
	// EmulateInterval is how often the emulate mode wakes up while the
	// slave answers the bus on its own.
	EmulateInterval time.Duration
	// ReadTimeout ends read mode with ReadTimeout when no key was found.
	// Zero reads until stopped.
	ReadTimeout time.Duration
}

// DefaultConfig returns the default worker configuration
func DefaultConfig() *Config {
	return &Config{
		ReadInterval:    100 * time.Millisecond,
		WriteInterval:   1000 * time.Millisecond,
		EmulateInterval: 1000 * time.Millisecond,
	}
}

func (c *Config) withDefaults() *Config {
	out := *DefaultConfig()
	if c == nil {
		return &out
	}
	if c.ReadInterval > 0 {
		out.ReadInterval = c.ReadInterval
	}
	if c.WriteInterval > 0 {
		out.WriteInterval = c.WriteInterval
	}
	if c.EmulateInterval > 0 {
		out.EmulateInterval = c.EmulateInterval
	}
	out.ReadTimeout = c.ReadTimeout
	return &out
}
