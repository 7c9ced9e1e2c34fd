// SPDX-License-Identifier: MIT

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 3, 10*time.Second, WithClock(clk))

	fail := func() error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = cb.Execute(fail)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clk))

	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	clk.now = clk.now.Add(11 * time.Second)
	err := cb.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 5, 10*time.Second, WithClock(clk))

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, cb.State())

	clk.now = clk.now.Add(11 * time.Second)
	_ = cb.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State(), "half-open probe failure must reopen immediately")
}

func TestRetry_SucceedsWithinBudget(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Factor: 2},
		func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Factor: 2},
		func(context.Context) error {
			attempts++
			return errors.New("permanent")
		})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "one initial attempt plus two retries")
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Minute, Factor: 2},
		func(context.Context) error {
			attempts++
			cancel()
			return errors.New("boom")
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
