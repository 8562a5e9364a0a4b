package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/api"
	"github.com/OldStager01/egress-gateway/internal/extractor"
	"github.com/OldStager01/egress-gateway/internal/gateway"
	"github.com/OldStager01/egress-gateway/internal/issuance"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	cfg       *config.Config
	gateway   *gateway.Gateway
	extractor *extractor.MockExtractor
	server    *api.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tier, err := config.TierPreset(config.TierFree)
	require.NoError(t, err)
	tier.RateLimit = 1000
	tier.ProbeInterval = time.Hour
	tier.ProbeTimeout = time.Second

	cfg := &config.Config{
		App:  config.AppConfig{Mode: "test"},
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

	m := metrics.New()
	gw, err := gateway.New(cfg, gateway.Options{Issuer: issuance.NewMockClient(), Metrics: m})
	require.NoError(t, err)
	require.NoError(t, gw.Start())
	t.Cleanup(gw.Stop)

	require.Eventually(t, gw.Ready, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return gw.Snapshot(false).Ceiling == tier.MaxCeiling()
	}, 5*time.Second, 10*time.Millisecond)

	ext := extractor.NewMockExtractor()
	return &fixture{
		cfg:       cfg,
		gateway:   gw,
		extractor: ext,
		server:    api.NewServer(cfg, gw, api.ServerOptions{Extractor: ext, Metrics: m}),
	}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func (f *fixture) member(id string) models.MemberSnapshot {
	for _, m := range f.gateway.Members() {
		if m.ID == id {
			return m
		}
	}
	return models.MemberSnapshot{}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := f.do(http.MethodGet, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.PoolSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 32, snap.Ceiling)
	assert.Equal(t, 4, snap.PerMemberLimit)
	assert.Empty(t, snap.Members)

	w = f.do(http.MethodGet, "/status/members?state=healthy")
	require.Equal(t, http.StatusOK, w.Code)
	var members struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &members))
	assert.Equal(t, 8, members.Count)
}

func TestVideo(t *testing.T) {
	f := newFixture(t)
	f.extractor.SetVideo("known", json.RawMessage(`{"title":"clip"}`))

	w := f.do(http.MethodGet, "/v1/video/known")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"title":"clip"}`, w.Body.String())

	w = f.do(http.MethodGet, "/v1/video/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	calls := f.extractor.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, models.HealthHealthy, f.member(calls[1]).State, "not found is not the member's fault")

	f.extractor.FailMember(calls[1], errors.New("blocked"))
	for i := 0; i < 8; i++ {
		f.do(http.MethodGet, "/v1/video/known")
	}
	assert.Equal(t, models.HealthDegraded, f.member(calls[1]).State)

	snap := f.gateway.Snapshot(false)
	assert.Zero(t, snap.Admission.ActiveLeases)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/v1/video/missing")

	w := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.NotEmpty(t, w.Body.String())
}

func TestHistoryDisabledWithoutDatabase(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/events/scaling", "/events/scaling/stats", "/events/members/x", "/events/pool"} {
		w := f.do(http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestReconcileIsRateLimited(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/scaler/reconcile")
	require.Equal(t, http.StatusOK, w.Code)
	var decision models.ScalingDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, models.ActionMaintain, decision.Action)

	var last int
	for i := 0; i < 6; i++ {
		last = f.do(http.MethodPost, "/scaler/reconcile").Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestInvalidInputIsRejectedBeforeAdmission(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/video/bad%20id")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.extractor.Calls())
	assert.Zero(t, f.gateway.Snapshot(false).Admission.Admitted)

	w = f.do(http.MethodGet, "/status/members?state=sleepy")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
