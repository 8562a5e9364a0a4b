package admission_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/internal/admission"
	"github.com/OldStager01/egress-gateway/internal/invariant"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

type ceiling struct {
	n atomic.Int64
}

func newCeiling(n int) *ceiling {
	c := &ceiling{}
	c.n.Store(int64(n))
	return c
}

func (c *ceiling) Ceiling() int { return int(c.n.Load()) }

func (c *ceiling) Set(n int) { c.n.Store(int64(n)) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// unlimited keeps the token bucket out of the way of concurrency tests.
func unlimited(ceil admission.CeilingSource, queue int) admission.Config {
	return admission.Config{
		RateLimit:      1e6,
		BucketCapacity: 1e6,
		QueueCapacity:  queue,
		DefaultTimeout: 5 * time.Second,
		Ceiling:        ceil,
		Metrics:        metrics.New(),
	}
}

func waitForQueue(t *testing.T, c *admission.Controller, depth int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Stats().QueueDepth == depth
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_CeilingScenario(t *testing.T) {
	// 8 eligible members with a per-member limit of 4.
	c := admission.New(unlimited(newCeiling(32), 50))

	leases := make([]*models.Lease, 0, 32)
	for i := 0; i < 32; i++ {
		lease, err := c.Acquire(context.Background())
		require.NoError(t, err)
		leases = append(leases, lease)
	}

	result := make(chan *models.Lease, 1)
	go func() {
		lease, err := c.Acquire(context.Background())
		assert.NoError(t, err)
		result <- lease
	}()

	waitForQueue(t, c, 1)
	stats := c.Stats()
	assert.Equal(t, 32, stats.ActiveLeases)
	assert.Equal(t, int64(32), stats.Admitted)

	select {
	case <-result:
		t.Fatal("33rd acquire was admitted above the ceiling")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Release(leases[0]))

	select {
	case lease := <-result:
		require.NotNil(t, lease)
		assert.Greater(t, lease.QueuedFor, time.Duration(0))
	case <-time.After(time.Second):
		t.Fatal("queued acquire not admitted after release")
	}
	assert.Equal(t, 32, c.Stats().ActiveLeases)
}

func TestController_FullQueueRejectsImmediately(t *testing.T) {
	c := admission.New(unlimited(newCeiling(0), 50))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Acquire(ctx)
			assert.ErrorIs(t, err, admission.ErrAdmissionTimedOut)
		}()
	}
	waitForQueue(t, c, 50)

	start := time.Now()
	_, err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, admission.ErrCapacityExceeded)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, 50, stats.QueueDepth)
	assert.Equal(t, 50, stats.PeakQueue)
	assert.Equal(t, int64(1), stats.Rejected)

	cancel()
	wg.Wait()
	assert.Equal(t, 0, c.Stats().QueueDepth)
}

func TestController_ZeroQueueCapacityRejects(t *testing.T) {
	c := admission.New(unlimited(newCeiling(0), 0))

	_, err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, admission.ErrCapacityExceeded)
}

func TestController_AbandonedWaitersLeaveQueue(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
	}{
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 30*time.Millisecond)
			},
		},
		{
			name: "cancel",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(30*time.Millisecond, cancel)
				return ctx, cancel
			},
		},
		{
			name: "default timeout",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithCancel(context.Background())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := unlimited(newCeiling(0), 10)
			cfg.DefaultTimeout = 30 * time.Millisecond
			c := admission.New(cfg)

			ctx, cancel := tt.ctx()
			defer cancel()

			lease, err := c.Acquire(ctx)
			assert.Nil(t, lease)
			assert.ErrorIs(t, err, admission.ErrAdmissionTimedOut)

			stats := c.Stats()
			assert.Equal(t, 0, stats.QueueDepth)
			assert.Equal(t, int64(1), stats.TimedOut)
			assert.Equal(t, 0, stats.ActiveLeases)
		})
	}
}

func TestController_FIFOOrder(t *testing.T) {
	ceil := newCeiling(0)
	c := admission.New(unlimited(ceil, 20))

	const n = 10
	order := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lease, err := c.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			order <- i
			assert.NoError(t, c.Release(lease))
		}(i)
		waitForQueue(t, c, i+1)
	}

	ceil.Set(1)
	c.Notify()
	wg.Wait()
	close(order)

	got := make([]int, 0, n)
	for i := range order {
		got = append(got, i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestController_NewArrivalsDoNotJumpTheQueue(t *testing.T) {
	ceil := newCeiling(0)
	c := admission.New(unlimited(ceil, 5))

	go func() {
		_, _ = c.Acquire(context.Background())
	}()
	waitForQueue(t, c, 1)

	ceil.Set(1)
	_, ok := c.TryAcquire()
	assert.False(t, ok, "capacity belongs to the queued waiter")

	c.Notify()
	require.Eventually(t, func() bool { return c.Stats().ActiveLeases == 1 }, time.Second, 5*time.Millisecond)
}

func TestController_ReleaseViolations(t *testing.T) {
	c := admission.New(unlimited(newCeiling(4), 10))

	lease, err := c.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Release(lease))

	err = c.Release(lease)
	assert.ErrorIs(t, err, invariant.ErrViolation, "second release")

	err = c.Release(models.NewLease(time.Now(), 0))
	assert.ErrorIs(t, err, invariant.ErrViolation, "never acquired")

	assert.ErrorIs(t, c.Release(nil), invariant.ErrViolation)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Released)
	assert.Equal(t, 0, stats.ActiveLeases)
}

func TestController_OutstandingLeasesNeverExceedCeiling(t *testing.T) {
	c := admission.New(unlimited(newCeiling(5), 100))

	var active, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := c.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			assert.NoError(t, c.Release(lease))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(5))
	stats := c.Stats()
	assert.Equal(t, int64(60), stats.Admitted)
	assert.LessOrEqual(t, stats.PeakActive, 5)
	assert.Equal(t, 0, stats.ActiveLeases)
}

func TestController_CeilingShrinkAppliesToNextDecision(t *testing.T) {
	ceil := newCeiling(3)
	c := admission.New(unlimited(ceil, 10))

	for i := 0; i < 2; i++ {
		_, err := c.Acquire(context.Background())
		require.NoError(t, err)
	}

	ceil.Set(2)
	_, ok := c.TryAcquire()
	assert.False(t, ok)

	ceil.Set(4)
	_, ok = c.TryAcquire()
	assert.True(t, ok)
}

func TestController_RateLimitSteadyState(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := admission.New(admission.Config{
		RateLimit:      10,
		BucketCapacity: 10,
		QueueCapacity:  10,
		Ceiling:        newCeiling(1000),
		Metrics:        metrics.New(),
		Now:            clk.Now,
	})

	// Drain the initial burst so every window below is in steady state.
	for {
		if _, ok := c.TryAcquire(); !ok {
			break
		}
	}

	var admitted []time.Time
	for step := 0; step < 400; step++ {
		clk.Advance(10 * time.Millisecond)
		if lease, ok := c.TryAcquire(); ok {
			admitted = append(admitted, clk.Now())
			require.NoError(t, c.Release(lease))
		}
	}

	assert.InDelta(t, 40, len(admitted), 1)
	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < time.Second; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, 11, "window starting at %s", admitted[i])
	}
}

func TestController_QueuedWaiterAdmittedOnRefill(t *testing.T) {
	c := admission.New(admission.Config{
		RateLimit:      20,
		BucketCapacity: 1,
		QueueCapacity:  5,
		Ceiling:        newCeiling(10),
		Metrics:        metrics.New(),
	})

	_, ok := c.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	lease, err := c.Acquire(ctx)
	require.NoError(t, err)
	assert.Greater(t, lease.QueuedFor, time.Duration(0))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Queued)
	assert.Greater(t, stats.AvgQueueWait, time.Duration(0))
}

func TestController_SweepExpired(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	cfg := unlimited(newCeiling(1), 5)
	cfg.MaxLeaseAge = time.Minute
	cfg.Now = clk.Now
	c := admission.New(cfg)

	stale, err := c.Acquire(context.Background())
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	assert.Empty(t, c.SweepExpired())

	clk.Advance(31 * time.Second)
	reclaimed := c.SweepExpired()
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stale.ID, reclaimed[0].ID)

	fresh, ok := c.TryAcquire()
	require.True(t, ok, "reclaimed slot is reusable")

	assert.ErrorIs(t, c.Release(stale), admission.ErrLeaseExpired)
	assert.ErrorIs(t, c.Release(stale), invariant.ErrViolation)
	assert.NoError(t, c.Release(fresh))
	assert.Equal(t, int64(1), c.Stats().ExpiredLeases)
}

func TestController_CloseFailsWaiters(t *testing.T) {
	c := admission.New(unlimited(newCeiling(0), 5))

	errs := make(chan error, 1)
	go func() {
		_, err := c.Acquire(context.Background())
		errs <- err
	}()
	waitForQueue(t, c, 1)

	c.Close()
	assert.ErrorIs(t, <-errs, admission.ErrClosed)

	_, err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, admission.ErrClosed)
}
