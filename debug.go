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
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-ibutton/internal/syncutil"
)

// debugEnabled controls console output. The session log, when open, always
// receives every message.
var debugEnabled atomic.Bool

// logMu guards the session log state shared with debug_file.go.
var logMu syncutil.Mutex

func init() {
	if os.Getenv("IBUTTON_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// Debugf logs a formatted debug message.
// The worker goroutine logs through here; nothing on the bit-slot or
// interrupt paths does.
func Debugf(format string, args ...any) {
	emit(fmt.Sprintf(format, args...))
}

// Debugln logs its operands separated by spaces.
func Debugln(args ...any) {
	msg := fmt.Sprintln(args...)
	emit(msg[:len(msg)-1])
}

func emit(message string) {
	logMu.Lock()
	w := sessionLogWriter
	if w != nil {
		writeLogLine(w, message)
	}
	logMu.Unlock()

	if debugEnabled.Load() {
		_, _ = fmt.Printf("DEBUG: %s\n", message)
	}
}

func writeLogLine(w io.Writer, message string) {
	timestamp := time.Now().Format("15:04:05.000")
	_, _ = fmt.Fprintf(w, "%s DEBUG: %s\n", timestamp, message)
}

// SetDebugEnabled turns console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}
