// Package health probes pool members on an interval and feeds the results
// into the pool's hysteresis.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/pool"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

// Prober checks one identity. issuance.Client satisfies it.
type Prober interface {
	Probe(ctx context.Context, config string) (models.ProbeResult, error)
}

type Config struct {
	Interval      time.Duration
	Timeout       time.Duration
	MaxConcurrent int
	Pool          *pool.Pool
	Prober        Prober
	Metrics       *metrics.Metrics
}

type Monitor struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.running = true
	m.wg.Add(1)
	go m.run()

	logger.WithComponent("health").WithField("interval", m.config.Interval.String()).Info("Health monitor started")
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	logger.WithComponent("health").Info("Health monitor stopped")
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	m.RunOnce(m.ctx)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(m.ctx)
		}
	}
}

// RunOnce probes every active member once and returns how many were probed.
func (m *Monitor) RunOnce(ctx context.Context) int {
	targets := m.config.Pool.ProbeTargets()
	if len(targets) == 0 {
		return 0
	}

	p := concpool.New().WithMaxGoroutines(m.config.MaxConcurrent)
	for _, target := range targets {
		p.Go(func() {
			m.probe(ctx, target)
		})
	}
	p.Wait()

	logger.WithComponent("health").Debugf("Probed %d members", len(targets))
	return len(targets)
}

// ProbeMember probes a single member outside the regular cycle, e.g. right
// after it was provisioned.
func (m *Monitor) ProbeMember(ctx context.Context, id string) error {
	for _, target := range m.config.Pool.ProbeTargets() {
		if target.ID == id {
			m.probe(ctx, target)
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not probeable", pool.ErrMemberNotFound, id)
}

func (m *Monitor) probe(ctx context.Context, target models.MemberHandle) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := m.config.Prober.Probe(probeCtx, target.Config)
	if result.Latency == 0 {
		result.Latency = time.Since(start)
	}

	entry := logger.WithMember(target.ID)
	switch {
	case err != nil:
		m.config.Metrics.IncProbe("error")
		entry.WithError(err).Debug("Probe failed")
	default:
		m.config.Metrics.IncProbe(string(result.Status))
		m.config.Metrics.SetProbeLatency(target.ID, result.Latency)
	}

	if rerr := m.config.Pool.RecordProbe(target.ID, result, err); rerr != nil {
		if errors.Is(rerr, pool.ErrMemberNotFound) {
			return
		}
		entry.WithError(rerr).Warn("Failed to record probe result")
	}
}
