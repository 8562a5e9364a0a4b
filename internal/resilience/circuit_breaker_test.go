package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/internal/resilience"
)

var errUpstream = errors.New("upstream failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(cb *resilience.CircuitBreaker, clock *fakeClock)
		expectedState resilience.State
	}{
		{
			name: "stays closed on success",
			setup: func(cb *resilience.CircuitBreaker, _ *fakeClock) {
				_ = cb.Execute(context.Background(), succeed)
			},
			expectedState: resilience.StateClosed,
		},
		{
			name: "opens after max failures",
			setup: func(cb *resilience.CircuitBreaker, _ *fakeClock) {
				for i := 0; i < 3; i++ {
					_ = cb.Execute(context.Background(), fail)
				}
			},
			expectedState: resilience.StateOpen,
		},
		{
			name: "success resets the failure streak",
			setup: func(cb *resilience.CircuitBreaker, _ *fakeClock) {
				_ = cb.Execute(context.Background(), fail)
				_ = cb.Execute(context.Background(), fail)
				_ = cb.Execute(context.Background(), succeed)
				_ = cb.Execute(context.Background(), fail)
			},
			expectedState: resilience.StateClosed,
		},
		{
			name: "closes after a successful trial",
			setup: func(cb *resilience.CircuitBreaker, clock *fakeClock) {
				for i := 0; i < 3; i++ {
					_ = cb.Execute(context.Background(), fail)
				}
				clock.Advance(2 * time.Second)
				_ = cb.Execute(context.Background(), succeed)
			},
			expectedState: resilience.StateClosed,
		},
		{
			name: "reopens when the trial fails",
			setup: func(cb *resilience.CircuitBreaker, clock *fakeClock) {
				for i := 0; i < 3; i++ {
					_ = cb.Execute(context.Background(), fail)
				}
				clock.Advance(2 * time.Second)
				_ = cb.Execute(context.Background(), fail)
			},
			expectedState: resilience.StateOpen,
		},
		{
			name: "cancellation does not count as failure",
			setup: func(cb *resilience.CircuitBreaker, _ *fakeClock) {
				for i := 0; i < 5; i++ {
					_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
				}
			},
			expectedState: resilience.StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:        "test",
				MaxFailures: 3,
				Timeout:     time.Second,
				Now:         clock.Now,
			})

			tt.setup(cb, clock)

			assert.Equal(t, tt.expectedState, cb.State())
		})
	}
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	clock := newFakeClock()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     time.Minute,
		Now:         clock.Now,
	})

	require.ErrorIs(t, cb.Execute(context.Background(), fail), errUpstream)

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Stats().Rejected)
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	clock := newFakeClock()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     time.Second,
		HalfOpenMax: 1,
		Now:         clock.Now,
	})
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Second)

	inTrial := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(inTrial)
			<-finish
			return nil
		})
	}()
	<-inTrial

	err := cb.Execute(context.Background(), succeed)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	close(finish)
	require.NoError(t, <-done)
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestCircuitBreaker_ReportsStateChanges(t *testing.T) {
	changes := make(chan resilience.State, 4)
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "issuance",
		MaxFailures: 1,
		OnStateChange: func(name string, from, to resilience.State) {
			assert.Equal(t, "issuance", name)
			changes <- to
		},
	})

	_ = cb.Execute(context.Background(), fail)

	select {
	case to := <-changes:
		assert.Equal(t, resilience.StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change not reported")
	}

	cb.Reset()
	assert.Equal(t, resilience.StateClosed, cb.State())
}
