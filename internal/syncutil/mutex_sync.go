//go:build !deadlock

// Package syncutil holds the locks shared by the worker, the debug log and
// the serial adapter. The default build uses package sync; the deadlock
// build tag swaps in github.com/sasha-s/go-deadlock so lock-order bugs
// between the worker goroutine and callers show up in tests.
package syncutil

import "sync"

// Mutex is a sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedded to expose Lock and Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedded to expose the lock methods
type RWMutex struct {
	sync.RWMutex
}
