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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()
	assert.Positive(t, config.MaxAttempts)
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.Greater(t, config.Timeout, time.Duration(0))
}

func TestRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		errs      []error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{name: "first try", errs: []error{nil}, attempts: 3, wantCalls: 1},
		{name: "transient then success", errs: []error{ErrNoDevice, ErrTransportTimeout, nil}, attempts: 3, wantCalls: 3},
		{name: "permanent stops", errs: []error{ErrAdapterNotFound, nil}, attempts: 3, wantCalls: 1, wantErr: ErrAdapterNotFound},
		{name: "exhausted", errs: []error{ErrNoDevice, ErrNoDevice, ErrNoDevice}, attempts: 3, wantCalls: 3, wantErr: ErrNoDevice},
		{name: "single attempt", errs: []error{ErrNoDevice}, attempts: 1, wantCalls: 1, wantErr: ErrNoDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := Retry(context.Background(), fastRetry(tt.attempts), func() error {
				err := tt.errs[calls]
				calls++
				return err
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastRetry(3), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetry_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	config := fastRetry(5)
	config.InitialBackoff = time.Hour
	config.MaxBackoff = time.Hour

	err := Retry(ctx, config, func() error {
		cancel()
		return ErrTransportRead
	})
	require.ErrorIs(t, err, ErrTransportRead)
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	config := &RetryConfig{BackoffMultiplier: 2, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, nextBackoff(100*time.Millisecond, config))
	assert.Equal(t, 300*time.Millisecond, nextBackoff(200*time.Millisecond, config))
}

func TestJittered(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, jittered(time.Second, 0))
	for range 20 {
		d := jittered(time.Second, 0.1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1100*time.Millisecond)
	}
}
