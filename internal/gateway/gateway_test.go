package gateway_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/internal/gateway"
	"github.com/OldStager01/egress-gateway/internal/issuance"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/snapshot"
	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tier, err := config.TierPreset(config.TierFree)
	require.NoError(t, err)
	tier.RateLimit = 1000
	tier.ProbeInterval = time.Hour
	tier.ProbeTimeout = time.Second

	return &config.Config{
		Tier: tier,
		Admission: config.AdmissionConfig{
			QueueTimeout:  time.Second,
			MaxLeaseAge:   time.Minute,
			SweepInterval: time.Minute,
		},
		Health: config.HealthConfig{MaxConcurrentProbes: 4},
		Scaler: config.ScalerConfig{
			Interval:                time.Hour,
			CooldownPeriod:          5 * time.Minute,
			ScaleDownCooldownPeriod: 10 * time.Minute,
			ScaleUpQueueDepth:       20,
			MaxRejectRate:           0.1,
			MinHealthyFraction:      0.5,
			LowLoadSamples:          5,
			LowLoadUtilization:      0.3,
			WindowSamples:           5,
			MaxScaleStep:            2,
			MaxScaleUpsPerHour:      3,
			MaxConcurrentProvisions: 4,
			ProvisionTimeout:        5 * time.Second,
		},
		Snapshot: config.SnapshotConfig{Interval: time.Hour},
		Events:   config.EventsConfig{BufferSize: 256},
	}
}

func startGateway(t *testing.T, cfg *config.Config, client issuance.Client, store snapshot.Store) *gateway.Gateway {
	t.Helper()
	g, err := gateway.New(cfg, gateway.Options{
		Issuer:  client,
		Store:   store,
		Metrics: metrics.New(),
	})
	require.NoError(t, err)
	require.NoError(t, g.Start())
	t.Cleanup(g.Stop)

	require.Eventually(t, func() bool {
		return g.Snapshot(false).Ceiling == cfg.Tier.MaxCeiling()
	}, 5*time.Second, 10*time.Millisecond, "pool reaches full ceiling")
	return g
}

func TestNew_RequiresIssuer(t *testing.T) {
	_, err := gateway.New(testConfig(t), gateway.Options{})
	assert.Error(t, err)
}

func TestGateway_BootstrapFillsPool(t *testing.T) {
	cfg := testConfig(t)
	client := issuance.NewMockClient()
	g := startGateway(t, cfg, client, nil)

	snap := g.Snapshot(true)
	assert.Equal(t, cfg.Tier.TargetMembers, snap.Counts.Healthy)
	assert.Len(t, snap.Members, cfg.Tier.TargetMembers)
	assert.Equal(t, cfg.Tier.TargetMembers, client.MintCalls())
	assert.Equal(t, []string{"Gateway operating normally"}, snap.Recommendations)
	assert.True(t, g.Ready())
}

func TestGateway_DoOutcomes(t *testing.T) {
	upstream := errors.New("upstream refused")
	missing := errors.New("video not found")

	tests := []struct {
		name      string
		work      error
		wantErr   error
		wantFail  int64
		wantState models.HealthState
	}{
		{name: "success", work: nil, wantState: models.HealthHealthy},
		{name: "failure counts against member", work: upstream, wantErr: upstream, wantFail: 1, wantState: models.HealthDegraded},
		{name: "neutral leaves member alone", work: gateway.Neutral(missing), wantErr: missing, wantState: models.HealthHealthy},
		{name: "canceled is neutral", work: context.Canceled, wantErr: context.Canceled, wantState: models.HealthHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := startGateway(t, testConfig(t), issuance.NewMockClient(), nil)

			var used models.MemberHandle
			err := g.Do(context.Background(), func(ctx context.Context, m models.MemberHandle) error {
				used = m
				assert.NotEmpty(t, m.Config)
				assert.Equal(t, 1, g.Snapshot(false).Admission.ActiveLeases)
				return tt.work
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			snap := g.Snapshot(true)
			assert.Zero(t, snap.Admission.ActiveLeases, "lease released")
			for _, m := range snap.Members {
				assert.Zero(t, m.Usage, "member checked in")
				if m.ID == used.ID {
					assert.Equal(t, tt.wantFail, m.FailureCount)
					assert.Equal(t, tt.wantState, m.State)
				}
			}
		})
	}
}

func TestGateway_DoReleasesOnPanic(t *testing.T) {
	g := startGateway(t, testConfig(t), issuance.NewMockClient(), nil)

	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func(context.Context, models.MemberHandle) error {
			panic("boom")
		})
	})

	snap := g.Snapshot(true)
	assert.Zero(t, snap.Admission.ActiveLeases)
	for _, m := range snap.Members {
		assert.Zero(t, m.Usage)
	}
}

func TestGateway_RepeatedFailuresReplaceMember(t *testing.T) {
	cfg := testConfig(t)
	client := issuance.NewMockClient()
	g := startGateway(t, cfg, client, nil)

	var victim string
	victimState := func() models.HealthState {
		for _, m := range g.Members() {
			if m.ID == victim {
				return m.State
			}
		}
		return ""
	}

	for i := 0; i < 100 && (victim == "" || victimState() != models.HealthUnhealthy); i++ {
		_ = g.Do(context.Background(), func(_ context.Context, m models.MemberHandle) error {
			if victim == "" {
				victim = m.ID
			}
			if m.ID == victim {
				return errors.New("blocked")
			}
			return nil
		})
	}
	require.Equal(t, models.HealthUnhealthy, victimState())

	require.Eventually(t, func() bool {
		return g.Snapshot(false).Ceiling == cfg.Tier.MaxCeiling()
	}, 5*time.Second, 10*time.Millisecond, "replacement restores the ceiling")
	assert.Equal(t, cfg.Tier.TargetMembers+1, client.MintCalls(), "exactly one replacement")
}

func TestGateway_WarmStartFromFileSnapshot(t *testing.T) {
	cfg := testConfig(t)
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "members.yaml"))

	first := startGateway(t, cfg, issuance.NewMockClient(), store)
	before := first.Members()
	first.Stop()

	client := issuance.NewMockClient()
	second := startGateway(t, cfg, client, store)

	assert.Zero(t, client.MintCalls(), "restored members need no new identities")
	ids := make(map[string]bool)
	for _, m := range before {
		ids[m.ID] = true
	}
	for _, m := range second.Members() {
		assert.True(t, ids[m.ID], "member %s came from the snapshot", m.ID)
	}
}

func TestGateway_EventsReachSubscribers(t *testing.T) {
	cfg := testConfig(t)
	g, err := gateway.New(cfg, gateway.Options{Issuer: issuance.NewMockClient(), Metrics: metrics.New()})
	require.NoError(t, err)
	ch := g.SubscribeEvents(models.EventTypeScalingComplete)

	require.NoError(t, g.Start())
	defer g.Stop()

	select {
	case ev := <-ch:
		se, ok := ev.Data.(*models.ScalingEvent)
		require.True(t, ok)
		assert.Equal(t, models.ActionScaleUp, se.Action)
		assert.Equal(t, models.ScalingEventSuccess, se.Status)
		assert.Equal(t, cfg.Tier.TargetMembers, se.MembersAfter)
	case <-time.After(5 * time.Second):
		t.Fatal("no scaling_complete event")
	}
}

func TestGateway_StopIsIdempotent(t *testing.T) {
	g, err := gateway.New(testConfig(t), gateway.Options{Issuer: issuance.NewMockClient(), Metrics: metrics.New()})
	require.NoError(t, err)
	require.NoError(t, g.Start())
	assert.True(t, g.IsRunning())

	g.Stop()
	g.Stop()
	assert.False(t, g.IsRunning())
	assert.False(t, g.Ready())
}

type sampleStore struct {
	mu      sync.Mutex
	samples []*models.PoolSample
	cutoffs []time.Time
}

func (s *sampleStore) Insert(_ context.Context, sample *models.PoolSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *sampleStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return 0, nil
}

func (s *sampleStore) last() (*models.PoolSample, []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return nil, nil
	}
	return s.samples[len(s.samples)-1], append([]time.Time(nil), s.cutoffs...)
}

func TestGateway_RecordsPoolSamples(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Interval = 20 * time.Millisecond
	cfg.Events.SampleRetention = time.Hour

	samples := &sampleStore{}
	g, err := gateway.New(cfg, gateway.Options{
		Issuer:  issuance.NewMockClient(),
		Samples: samples,
		Metrics: metrics.New(),
	})
	require.NoError(t, err)
	require.NoError(t, g.Start())
	t.Cleanup(g.Stop)

	require.Eventually(t, func() bool {
		s, _ := samples.last()
		return s != nil && s.Healthy == cfg.Tier.TargetMembers
	}, 5*time.Second, 10*time.Millisecond)

	s, cutoffs := samples.last()
	assert.Equal(t, cfg.Tier.MaxCeiling(), s.Ceiling)
	assert.Equal(t, cfg.Tier.Name, s.Tier)
	require.NotEmpty(t, cutoffs)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), cutoffs[len(cutoffs)-1], time.Minute)
}

func TestGateway_AlertsWhileBelowMinimum(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Interval = 20 * time.Millisecond

	client := issuance.NewMockClient()
	client.SetMintDelay(300 * time.Millisecond)

	g, err := gateway.New(cfg, gateway.Options{Issuer: client, Metrics: metrics.New()})
	require.NoError(t, err)
	alerts := g.SubscribeEvents(models.EventTypeAlert)
	require.NoError(t, g.Start())
	t.Cleanup(g.Stop)

	var got []models.EventSeverity
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-alerts:
			got = append(got, e.Severity)
		case <-deadline:
			t.Fatalf("alerts received: %v", got)
		}
	}
	assert.Equal(t, []models.EventSeverity{models.SeverityCritical, models.SeverityInfo}, got)
}
