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

package keyfile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_EncodeOrder(t *testing.T) {
	t.Parallel()

	f := New("Flipper iButton key", 2)
	f.SetString("Protocol", "DS1990")
	f.SetHex("Rom Data", []byte{0x01, 0x02, 0x0A, 0xFF})

	var buf bytes.Buffer
	require.NoError(t, f.Encode(&buf))
	assert.Equal(t,
		"Filetype: Flipper iButton key\nVersion: 2\nProtocol: DS1990\nRom Data: 01 02 0A FF\n",
		buf.String())
}

func TestFile_RoundTrip(t *testing.T) {
	t.Parallel()

	mem := make([]byte, 128)
	for i := range mem {
		mem[i] = byte(i * 7)
	}
	f := New("Flipper iButton key", 2)
	f.SetString("Protocol", "DS1992")
	f.SetHex("Sram Data", mem)

	var buf bytes.Buffer
	require.NoError(t, f.Encode(&buf))

	got, err := Decode(&buf)
	require.NoError(t, err)

	filetype, version, err := got.Header()
	require.NoError(t, err)
	assert.Equal(t, "Flipper iButton key", filetype)
	assert.Equal(t, 2, version)
	assert.Equal(t, []string{"Filetype", "Version", "Protocol", "Sram Data"}, got.Keys())

	out := make([]byte, len(mem))
	require.NoError(t, got.Hex("Sram Data", out))
	assert.Equal(t, mem, out)
}

func TestDecode_ToleratesComments(t *testing.T) {
	t.Parallel()

	src := "Filetype: Flipper iButton key\nVersion: 1\n# Key type can be Cyfral, Dallas or Metakom\nKey type: Dallas\n# Data size for Cyfral is 2, for Metakom is 4, for Dallas is 8\nData: 01 02 03 04 05 06 07 14\n"
	f, err := Decode(strings.NewReader(src))
	require.NoError(t, err)

	kt, err := f.String("Key type")
	require.NoError(t, err)
	assert.Equal(t, "Dallas", kt)

	rom := make([]byte, 8)
	require.NoError(t, f.Hex("Data", rom))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 0x14}, rom)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{name: "empty", src: ""},
		{name: "sequence", src: "- a\n- b\n"},
		{name: "scalar", src: "hello\n"},
		{name: "nested", src: "Filetype:\n  a: b\n"},
		{name: "malformed", src: "Filetype: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestFile_HexErrors(t *testing.T) {
	t.Parallel()

	f := New("x", 1)
	f.SetString("Short", "01 02")
	f.SetString("Bad", "01 ZZ 03")
	f.SetString("Wide", "0102 03")

	out := make([]byte, 3)
	require.ErrorIs(t, f.Hex("Short", out), ErrInvalidValue)
	require.ErrorIs(t, f.Hex("Bad", out), ErrInvalidValue)
	require.ErrorIs(t, f.Hex("Missing", out), ErrMissingField)

	out2 := make([]byte, 2)
	require.ErrorIs(t, f.Hex("Wide", out2), ErrInvalidValue)
}

func TestFile_IntAndOverwrite(t *testing.T) {
	t.Parallel()

	f := New("x", 1)
	f.SetInt(FieldVersion, 3)
	v, err := f.Int(FieldVersion)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Len(t, f.Keys(), 2, "overwriting keeps a single field")

	f.SetString("N", "abc")
	_, err = f.Int("N")
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.True(t, f.Has("N"))
	assert.False(t, f.Has("M"))
}

func TestFormatHex(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FormatHex(nil))
	assert.Equal(t, "00", FormatHex([]byte{0}))
	assert.Equal(t, "DE AD BE EF", FormatHex([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
}
