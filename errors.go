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
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"
)

// Error categories for retry and reporting decisions
var (
	// Bus errors - transient, absorbed by the worker tick loop
	ErrNoDevice         = errors.New("no device on the bus")
	ErrCRCMismatch      = errors.New("ROM CRC mismatch")
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportWrite   = errors.New("transport write failed")

	// Adapter errors - fatal to the bus
	ErrTransportClosed = errors.New("transport is closed")
	ErrAdapterNotFound = errors.New("1-Wire adapter not found")

	// Protocol errors - not retryable
	ErrUnknownProtocol     = errors.New("unknown protocol")
	ErrFeatureNotSupported = errors.New("feature not supported by protocol")
	ErrWriteVerify         = errors.New("write verification failed: data mismatch")
	ErrInvalidData         = errors.New("invalid key data")

	// Key file errors - not retryable
	ErrInvalidFileType    = errors.New("invalid key file type")
	ErrUnsupportedVersion = errors.New("unsupported key file version")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps adapter-level errors with the operation and port.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error; timeouts and transient
// errors are marked retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// ProtocolError attaches the protocol name and operation to a key-level error.
type ProtocolError struct {
	Err      error
	Op       string
	Protocol string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Protocol, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if the error is expected to clear on a later
// attempt: an empty bus, a corrupted search or a transport hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrNoDevice),
		errors.Is(err, ErrCRCMismatch),
		errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the adapter is gone and the
// bus should not be used again. This is distinct from IsTransient which
// concerns a single attempt.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrAdapterNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for adapter disconnection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when a USB adapter is
// unplugged during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // only device-gone errors matter
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // only device-gone errors matter
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}
