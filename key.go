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

// Package ibutton reads, writes and emulates iButton keys: Dallas 1-Wire
// keys through the onewire package and Cyfral/Metakom pulse keys through
// the pulse package. A Registry built from protocol groups dispatches every
// key operation to the group that owns the key's protocol.
package ibutton

// ProtocolID identifies a protocol across all groups of a Registry.
type ProtocolID int

// ProtocolInvalid marks a key with no protocol assigned.
const ProtocolInvalid ProtocolID = -1

// MaxDataSize bounds the data of every protocol: an 8-byte ROM followed by
// the 8 KiB memory of the largest Dallas key.
const MaxDataSize = 8 + 8192

// Key holds one key's protocol and data. The buffer is fixed so a Key can
// be reused across reads without allocating.
type Key struct {
	protocol ProtocolID
	data     [MaxDataSize]byte
}

// NewKey returns an empty key.
func NewKey() *Key {
	return &Key{protocol: ProtocolInvalid}
}

// Protocol returns the key's protocol, or ProtocolInvalid.
func (k *Key) Protocol() ProtocolID {
	return k.protocol
}

// SetProtocol assigns the protocol. Data is left untouched.
func (k *Key) SetProtocol(id ProtocolID) {
	k.protocol = id
}

// Reset clears the protocol and data.
func (k *Key) Reset() {
	k.protocol = ProtocolInvalid
	clear(k.data[:])
}

// Buffer returns the whole data buffer. Only the first DataSize bytes of
// the key's protocol are meaningful; use Registry.Data for that view.
func (k *Key) Buffer() []byte {
	return k.data[:]
}

// CopyFrom makes k a copy of src.
func (k *Key) CopyFrom(src *Key) {
	k.protocol = src.protocol
	k.data = src.data
}

// Equal reports whether both keys have the same protocol and buffer.
func (k *Key) Equal(o *Key) bool {
	return k.protocol == o.protocol && k.data == o.data
}
