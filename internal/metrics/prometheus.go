package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

const namespace = "egress_gateway"

type metricKind string

const (
	kindCounter metricKind = "counter"
	kindGauge   metricKind = "gauge"
)

type seriesKey struct {
	name   string
	labels string
}

// Metrics is a small in-process registry rendered in the Prometheus text
// exposition format.
type Metrics struct {
	mu     sync.RWMutex
	kinds  map[string]metricKind
	values map[seriesKey]float64
}

var (
	instance *Metrics
	once     sync.Once
)

func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

func New() *Metrics {
	return &Metrics{
		kinds:  make(map[string]metricKind),
		values: make(map[seriesKey]float64),
	}
}

// labels are alternating key, value pairs.
func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		pairs = append(pairs, labels[i]+`="`+strings.ReplaceAll(labels[i+1], `"`, `\"`)+`"`)
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

func (m *Metrics) add(kind metricKind, name string, delta float64, labels []string) {
	full := namespace + "_" + name
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds[full] = kind
	m.values[seriesKey{name: full, labels: formatLabels(labels)}] += delta
}

func (m *Metrics) set(name string, value float64, labels []string) {
	full := namespace + "_" + name
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds[full] = kindGauge
	m.values[seriesKey{name: full, labels: formatLabels(labels)}] = value
}

func (m *Metrics) Inc(name string, labels ...string) {
	m.add(kindCounter, name, 1, labels)
}

func (m *Metrics) Set(name string, value float64, labels ...string) {
	m.set(name, value, labels)
}

// Value returns the current value of a series, mostly for tests.
func (m *Metrics) Value(name string, labels ...string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[seriesKey{name: namespace + "_" + name, labels: formatLabels(labels)}]
}

func (m *Metrics) IncAdmission(result string) {
	m.Inc("admission_total", "result", result)
}

func (m *Metrics) ObserveQueueWait(d time.Duration) {
	m.add(kindCounter, "admission_queue_wait_seconds_total", d.Seconds(), nil)
}

func (m *Metrics) IncCheckout(result string) {
	m.Inc("pool_checkouts_total", "result", result)
}

func (m *Metrics) IncTransition(from, to models.HealthState) {
	m.Inc("member_transitions_total", "from", string(from), "to", string(to))
}

func (m *Metrics) IncProbe(result string) {
	m.Inc("probes_total", "result", result)
}

func (m *Metrics) SetProbeLatency(memberID string, d time.Duration) {
	m.Set("probe_latency_ms", float64(d.Milliseconds()), "member_id", memberID)
}

func (m *Metrics) IncProvisioning(result string) {
	m.Inc("provisioning_total", "result", result)
}

func (m *Metrics) IncRetirement(reason string, forced bool) {
	m.Inc("retirements_total", "reason", reason, "forced", strconv.FormatBool(forced))
}

func (m *Metrics) IncDecision(action models.ScalingAction) {
	m.Inc("scaling_decisions_total", "action", string(action))
}

func (m *Metrics) IncInvariantViolation(op string) {
	m.Inc("invariant_violations_total", "op", op)
}

func (m *Metrics) IncExpiredLease() {
	m.Inc("expired_leases_total")
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.Set("circuit_breaker_state", float64(state), "name", name)
}

// RecordSnapshot refreshes every gauge derived from a pool snapshot.
func (m *Metrics) RecordSnapshot(s models.PoolSnapshot) {
	m.Set("pool_ceiling", float64(s.Ceiling))
	m.Set("pool_desired_members", float64(s.DesiredMembers))
	for state, count := range s.ByState {
		m.Set("pool_members", float64(count), "state", string(state))
	}
	m.Set("admission_queue_depth", float64(s.Admission.QueueDepth))
	m.Set("admission_active_leases", float64(s.Admission.ActiveLeases))
	m.Set("admission_available_tokens", s.Admission.AvailableTokens)
}

func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.WriteTo(w)
	})
}

func (m *Metrics) WriteTo(w interface{ Write([]byte) (int, error) }) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]seriesKey, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].labels < keys[j].labels
	})

	lastName := ""
	for _, k := range keys {
		if k.name != lastName {
			fmt.Fprintf(w, "# TYPE %s %s\n", k.name, m.kinds[k.name])
			lastName = k.name
		}
		fmt.Fprintf(w, "%s%s %s\n", k.name, k.labels, strconv.FormatFloat(m.values[k], 'f', -1, 64))
	}
}

// StartServer serves /metrics on its own port until ctx is cancelled.
func StartServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Get().Handler())

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infof("Prometheus metrics server listening on %s", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Prometheus server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
