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

package ibutton

// WriteResult is the outcome of one write attempt.
type WriteResult int

const (
	// WriteOK means the key was written and verified.
	WriteOK WriteResult = iota
	// WriteSameKey means the target already held the key.
	WriteSameKey
	// WriteNoDetect means no key answered on the bus.
	WriteNoDetect
	// WriteCannotWrite means the target rejected the write or the
	// protocol does not support it.
	WriteCannotWrite
)

func (r WriteResult) String() string {
	switch r {
	case WriteOK:
		return "ok"
	case WriteSameKey:
		return "same key"
	case WriteNoDetect:
		return "no key detected"
	case WriteCannotWrite:
		return "cannot write"
	default:
		return "unknown"
	}
}

// Writer runs write attempts and turns their outcome into a WriteResult.
// The host in env must be started.
type Writer struct {
	registry *Registry
	env      *Env
}

// NewWriter creates a Writer dispatching through registry.
func NewWriter(registry *Registry, env *Env) *Writer {
	return &Writer{registry: registry, env: env}
}

// WriteBlank writes key onto a blank.
func (w *Writer) WriteBlank(key *Key) WriteResult {
	return w.write(key, FeatureWriteBlank, true)
}

// WriteCopy copies key's memory onto a key of the same type.
func (w *Writer) WriteCopy(key *Key) WriteResult {
	return w.write(key, FeatureWriteCopy, false)
}

func (w *Writer) write(key *Key, feature Feature, blank bool) WriteResult {
	if !w.registry.HasFeature(key.Protocol(), feature) {
		return WriteCannotWrite
	}
	if w.env.Host == nil || !w.env.Host.Reset() {
		Debugf("write %s: %v", w.registry.Name(key.Protocol()), ErrNoDevice)
		return WriteNoDetect
	}

	var ok bool
	if blank {
		if w.registry.Compare(w.env, key) {
			return WriteSameKey
		}
		ok = w.registry.WriteBlank(w.env, key)
	} else {
		ok = w.registry.WriteCopy(w.env, key)
	}

	if !ok {
		Debugf("write %s: rejected by target", w.registry.Name(key.Protocol()))
		return WriteCannotWrite
	}
	return WriteOK
}
