package scaler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/internal/health"
	"github.com/OldStager01/egress-gateway/internal/issuance"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/pool"
	"github.com/OldStager01/egress-gateway/internal/scaler"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

type idleAdmission struct{}

func (idleAdmission) Stats() models.AdmissionStats {
	return models.AdmissionStats{Ceiling: 1}
}

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

type harness struct {
	pool    *pool.Pool
	mock    *issuance.MockClient
	monitor *health.Monitor
	scaler  *scaler.Scaler
	bus     *events.EventBus
	clock   *clock
}

type harnessConfig struct {
	min, target, max int
	grace            time.Duration
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()

	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	bus := events.NewEventBus(256)
	t.Cleanup(bus.Close)
	publisher := events.NewPublisher(bus)
	reg := metrics.New()

	p := pool.New(pool.Config{
		PerMemberLimit:    4,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
		DrainTimeout:      time.Minute,
		Publisher:         publisher,
		Metrics:           reg,
		Now:               clk.Now,
	})
	mock := issuance.NewMockClient()
	monitor := health.New(health.Config{Pool: p, Prober: mock, Metrics: reg})

	s := scaler.New(scaler.Config{
		Interval:       time.Hour,
		UnhealthyGrace: hc.grace,
		Pool:           p,
		Admission:      idleAdmission{},
		Policy: scaler.NewPolicy(scaler.PolicyConfig{
			MinMembers:     hc.min,
			TargetMembers:  hc.target,
			MaxMembers:     hc.max,
			PerMemberLimit: 4,
			Now:            clk.Now,
		}),
		Window: scaler.NewLoadWindow(5, 0.3),
		Provisioner: scaler.NewProvisioner(scaler.ProvisionerConfig{
			Client:        mock,
			Pool:          p,
			MaxConcurrent: 2,
			Timeout:       time.Second,
			Activate:      monitor.ProbeMember,
			Publisher:     publisher,
			Metrics:       reg,
		}),
		Transitions: bus.Subscribe(models.EventTypeMemberStateChanged),
		Publisher:   publisher,
		Metrics:     reg,
		Now:         clk.Now,
	})
	t.Cleanup(s.Stop)

	return &harness{pool: p, mock: mock, monitor: monitor, scaler: s, bus: bus, clock: clk}
}

func (h *harness) addHealthy(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("member-%d", i)
		require.NoError(t, h.pool.Add(models.Identity{ID: ids[i], Config: issuance.MockConfig(ids[i])}, models.HealthHealthy))
	}
	return ids
}

func TestScaler_BootstrapProvisionsTarget(t *testing.T) {
	h := newHarness(t, harnessConfig{min: 2, target: 5, max: 8})

	d := h.scaler.Reconcile()
	require.Equal(t, models.ActionScaleUp, d.Action)
	assert.Equal(t, 5, d.TargetMembers)
	assert.Equal(t, 5, h.pool.Counts().Provisioning, "placeholders reserved synchronously")

	require.Eventually(t, func() bool {
		return h.pool.Counts().Healthy == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, h.mock.MintCalls())
	assert.Equal(t, 20, h.pool.Ceiling())

	d = h.scaler.Reconcile()
	assert.Equal(t, models.ActionMaintain, d.Action)
	assert.Equal(t, 5, h.mock.MintCalls())
}

func TestScaler_UnhealthyMemberIsReplacedOnce(t *testing.T) {
	h := newHarness(t, harnessConfig{min: 5, target: 8, max: 8, grace: 5 * time.Minute})
	ids := h.addHealthy(t, 8)
	require.Equal(t, 32, h.pool.Ceiling())

	require.NoError(t, h.scaler.Start())
	h.mock.SetUnhealthy(ids[3], true)

	h.monitor.RunOnce(context.Background())
	m, _ := h.pool.Get(ids[3])
	require.Equal(t, models.HealthDegraded, m.State)

	for i := 0; i < 3; i++ {
		assert.Zero(t, h.mock.MintCalls(), "no provisioning before the member is unhealthy")
		h.monitor.RunOnce(context.Background())
	}
	m, _ = h.pool.Get(ids[3])
	require.Equal(t, models.HealthUnhealthy, m.State)

	require.Eventually(t, func() bool {
		return h.pool.Counts().Eligible() == 8
	}, 2*time.Second, 10*time.Millisecond)

	h.scaler.Reconcile()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.mock.MintCalls())
	assert.Equal(t, 32, h.pool.Ceiling())
}

func TestScaler_RetiresUnhealthyAfterGrace(t *testing.T) {
	h := newHarness(t, harnessConfig{min: 1, target: 2, max: 4, grace: 5 * time.Minute})
	ids := h.addHealthy(t, 2)
	h.mock.SetUnhealthy(ids[0], true)
	for i := 0; i < 4; i++ {
		h.monitor.RunOnce(context.Background())
	}
	removed := h.bus.Subscribe(models.EventTypeMemberRemoved)

	h.clock.Advance(4 * time.Minute)
	h.scaler.Reconcile()
	_, ok := h.pool.Get(ids[0])
	assert.True(t, ok, "still within grace")

	h.clock.Advance(2 * time.Minute)
	h.scaler.Reconcile()
	_, ok = h.pool.Get(ids[0])
	assert.False(t, ok)

	select {
	case e := <-removed:
		assert.Equal(t, ids[0], e.MemberID)
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}
}

func TestScaler_RetireExcessPrefersDegradedThenIdle(t *testing.T) {
	h := newHarness(t, harnessConfig{min: 1, target: 2, max: 4})
	ids := h.addHealthy(t, 4)

	// ids[0] is busy, ids[2] degraded.
	lease := models.NewLease(time.Now(), 0)
	handle, err := h.pool.Checkout(lease)
	require.NoError(t, err)
	require.Equal(t, ids[0], handle.ID)
	require.NoError(t, h.pool.RecordProbe(ids[2], models.ProbeResult{Status: models.ProbeUnhealthy}, nil))

	d := h.scaler.Reconcile()
	require.Equal(t, models.ActionScaleDown, d.Action)
	assert.Equal(t, scaler.ReasonExcess, d.Reason)

	var remaining []string
	for _, m := range h.pool.Members() {
		remaining = append(remaining, m.ID)
	}
	assert.ElementsMatch(t, []string{ids[0], ids[3]}, remaining)
	assert.Equal(t, 8, h.pool.Ceiling())
}

func TestScaler_ProvisioningFailureIsReported(t *testing.T) {
	h := newHarness(t, harnessConfig{min: 1, target: 2, max: 4})
	h.addHealthy(t, 1)
	failed := h.bus.Subscribe(models.EventTypeProvisioningFailed)
	complete := h.bus.Subscribe(models.EventTypeScalingComplete)

	h.mock.FailNextMints(1, &issuance.ProvisioningError{Attempts: 4, Err: issuance.ErrRateLimited})
	d := h.scaler.Reconcile()
	require.Equal(t, models.ActionScaleUp, d.Action)
	assert.True(t, d.IsReplacement)

	select {
	case e := <-failed:
		data := e.Data.(map[string]interface{})
		assert.Equal(t, 4, data["attempts"])
		assert.Equal(t, models.SeverityCritical, e.Severity)
	case <-time.After(time.Second):
		t.Fatal("no provisioning_failed event")
	}

	select {
	case e := <-complete:
		assert.Equal(t, models.ScalingEventFailed, e.Data.(*models.ScalingEvent).Status)
	case <-time.After(time.Second):
		t.Fatal("no scaling_complete event")
	}

	assert.Equal(t, 1, h.pool.Counts().Total(), "placeholder dropped")

	d = h.scaler.Reconcile()
	assert.Equal(t, models.ActionScaleUp, d.Action, "deficit retried next cycle")
	require.Eventually(t, func() bool {
		return h.pool.Counts().Healthy == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProvisioner_BoundsConcurrentMints(t *testing.T) {
	p := pool.New(pool.Config{PerMemberLimit: 1, Metrics: metrics.New()})
	client := &countingClient{MockClient: issuance.NewMockClient(), delay: 20 * time.Millisecond}
	prov := scaler.NewProvisioner(scaler.ProvisionerConfig{
		Client:        client,
		Pool:          p,
		MaxConcurrent: 2,
		Metrics:       metrics.New(),
	})

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = p.Reserve()
	}

	result := prov.Provision(context.Background(), ids)
	assert.Len(t, result.Added, 6)
	assert.Empty(t, result.Failed)
	assert.LessOrEqual(t, client.peak, 2)
	assert.Zero(t, prov.InFlight())
	assert.Len(t, p.ProbeTargets(), 6)
}

type countingClient struct {
	*issuance.MockClient
	delay  time.Duration
	mu     sync.Mutex
	active int
	peak   int
}

func (c *countingClient) Mint(ctx context.Context) (*models.Identity, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.mu.Unlock()

	time.Sleep(c.delay)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return c.MockClient.Mint(ctx)
}
