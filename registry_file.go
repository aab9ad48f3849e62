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

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/go-ibutton/keyfile"
)

// Key file header.
const (
	FileType       = "Flipper iButton key"
	FileVersion    = 2
	fileVersionMin = 1

	fieldProtocol       = "Protocol"
	fieldProtocolLegacy = "Key type"
)

// Save writes key as a key file. Protocols without FeatureSave fail with
// ErrFeatureNotSupported.
func (r *Registry) Save(w io.Writer, key *Key) error {
	g, local := r.resolve(key.protocol)
	d := g.Descriptor(local)
	if !d.Features.Has(FeatureSave) {
		return &ProtocolError{Op: "save", Protocol: d.Name, Err: ErrFeatureNotSupported}
	}

	f := keyfile.New(FileType, FileVersion)
	f.SetString(fieldProtocol, d.Name)
	if err := g.Save(local, r.Data(key), f); err != nil {
		return &ProtocolError{Op: "save", Protocol: d.Name, Err: err}
	}
	if err := f.Encode(w); err != nil {
		return fmt.Errorf("save %s: %w", d.Name, err)
	}
	return nil
}

// Load reads a key file into key. Version 1 files name the protocol with
// "Key type"; later versions with "Protocol".
func (r *Registry) Load(rd io.Reader, key *Key) error {
	f, err := keyfile.Decode(rd)
	if err != nil {
		return err
	}
	filetype, version, err := f.Header()
	if err != nil {
		return err
	}
	if filetype != FileType {
		return fmt.Errorf("%w: %q", ErrInvalidFileType, filetype)
	}
	if version < fileVersionMin || version > FileVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	tag := fieldProtocol
	if version == 1 {
		tag = fieldProtocolLegacy
	}
	name, err := f.String(tag)
	if err != nil {
		return err
	}
	id := r.IDByName(name)
	if id == ProtocolInvalid {
		return fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}

	g, local := r.resolve(id)
	if !g.Descriptor(local).Features.Has(FeatureSave) {
		return &ProtocolError{Op: "load", Protocol: name, Err: ErrFeatureNotSupported}
	}

	key.Reset()
	key.protocol = id
	if err := g.Load(local, r.Data(key), version, f); err != nil {
		key.Reset()
		return &ProtocolError{Op: "load", Protocol: name, Err: fmt.Errorf("%w: %w", ErrInvalidData, err)}
	}
	return nil
}

// SaveFile writes key to path, replacing it atomically.
func (r *Registry) SaveFile(path string, key *Key) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ibutton-*")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = r.Save(tmp, key); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// LoadFile reads the key file at path into key.
func (r *Registry) LoadFile(path string, key *Key) error {
	f, err := os.Open(path) //nolint:gosec // caller chooses the key file
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := r.Load(f, key); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
