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

// Package keyfile reads and writes the text-tagged key file format: one
// "Key: value" field per line, in a fixed order, starting with the
// Filetype and Version header fields.
//
// Files are parsed as a YAML mapping so comments and blank lines are
// tolerated; values are always taken verbatim as strings.
package keyfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Header field names.
const (
	FieldFiletype = "Filetype"
	FieldVersion  = "Version"
)

var (
	ErrMissingField = errors.New("keyfile: missing field")
	ErrInvalidValue = errors.New("keyfile: invalid value")
	ErrNotMapping   = errors.New("keyfile: document is not a list of fields")
)

type field struct {
	key   string
	value string
}

// File is an ordered set of string fields.
type File struct {
	fields []field
}

// New creates a File holding only the header.
func New(filetype string, version int) *File {
	f := &File{}
	f.SetString(FieldFiletype, filetype)
	f.SetInt(FieldVersion, version)
	return f
}

// Header returns the file type and format version.
func (f *File) Header() (filetype string, version int, err error) {
	if filetype, err = f.String(FieldFiletype); err != nil {
		return "", 0, err
	}
	if version, err = f.Int(FieldVersion); err != nil {
		return "", 0, err
	}
	return filetype, version, nil
}

// Has reports whether key is present.
func (f *File) Has(key string) bool {
	return f.index(key) >= 0
}

// Keys returns the field names in file order.
func (f *File) Keys() []string {
	keys := make([]string, 0, len(f.fields))
	for _, fl := range f.fields {
		keys = append(keys, fl.key)
	}
	return keys
}

func (f *File) index(key string) int {
	for i, fl := range f.fields {
		if fl.key == key {
			return i
		}
	}
	return -1
}

// String returns the raw value of key.
func (f *File) String(key string) (string, error) {
	i := f.index(key)
	if i < 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return f.fields[i].value, nil
}

// SetString sets key, appending it if it is new.
func (f *File) SetString(key, value string) {
	if i := f.index(key); i >= 0 {
		f.fields[i].value = value
		return
	}
	f.fields = append(f.fields, field{key: key, value: value})
}

// Int returns key parsed as a decimal integer.
func (f *File) Int(key string) (int, error) {
	s, err := f.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrInvalidValue, key, s)
	}
	return n, nil
}

// SetInt sets key to the decimal form of n.
func (f *File) SetInt(key string, n int) {
	f.SetString(key, strconv.Itoa(n))
}

// Hex decodes key as space separated hex bytes into out. The field must
// hold exactly len(out) bytes.
func (f *File) Hex(key string, out []byte) error {
	s, err := f.String(key)
	if err != nil {
		return err
	}
	parts := strings.Fields(s)
	if len(parts) != len(out) {
		return fmt.Errorf("%w: %s: want %d bytes, got %d", ErrInvalidValue, key, len(out), len(parts))
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return fmt.Errorf("%w: %s: byte %d %q", ErrInvalidValue, key, i, p)
		}
		out[i] = b[0]
	}
	return nil
}

// SetHex sets key to data as upper-case hex bytes separated by spaces.
func (f *File) SetHex(key string, data []byte) {
	f.SetString(key, FormatHex(data))
}

// FormatHex renders data the way SetHex stores it.
func FormatHex(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// Decode parses a key file.
func Decode(r io.Reader) (*File, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrNotMapping)
		}
		return nil, fmt.Errorf("keyfile: parse: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, ErrNotMapping
	}

	m := doc.Content[0]
	f := &File{fields: make([]field, 0, len(m.Content)/2)}
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: field %q", ErrNotMapping, k.Value)
		}
		f.SetString(k.Value, v.Value)
	}
	return f, nil
}

// Encode writes f in field order.
func (f *File) Encode(w io.Writer) error {
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, fl := range f.fields {
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: fl.key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: fl.value},
		)
	}
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{m}}); err != nil {
		return fmt.Errorf("keyfile: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("keyfile: encode: %w", err)
	}
	return nil
}
