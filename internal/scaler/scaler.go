// Package scaler keeps the pool at its desired size: it provisions members
// when eligible capacity falls short and retires excess or long-unhealthy
// ones.
package scaler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/pool"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

// StatsSource exposes admission counters. *admission.Controller satisfies it.
type StatsSource interface {
	Stats() models.AdmissionStats
}

type Config struct {
	Interval       time.Duration
	UnhealthyGrace time.Duration
	Pool           *pool.Pool
	Admission      StatsSource
	Policy         *Policy
	Window         *LoadWindow
	Provisioner    *Provisioner
	// Transitions delivers member_state_changed events; a member turning
	// Unhealthy triggers an immediate reconcile.
	Transitions <-chan *models.Event
	Publisher   *events.Publisher
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Scaler struct {
	config Config

	reconcileMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
}

func New(cfg Config) *Scaler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Window == nil {
		cfg.Window = NewLoadWindow(5, 0.3)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scaler{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scaler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.running = true
	s.wg.Add(1)
	go s.run()

	logger.WithComponent("scaler").WithField("interval", s.config.Interval.String()).Info("Scaler started")
	return nil
}

// Stop ends the loop and waits for provisioning batches in flight.
func (s *Scaler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if wasRunning {
		logger.WithComponent("scaler").Info("Scaler stopped")
	}
}

func (s *Scaler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scaler) Desired() int {
	return s.config.Policy.Desired()
}

func (s *Scaler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.Reconcile()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile()
		case event, ok := <-s.config.Transitions:
			if !ok {
				s.config.Transitions = nil
				continue
			}
			if t, isTransition := event.Data.(models.MemberTransition); isTransition && t.To == models.HealthUnhealthy {
				logger.WithMember(t.MemberID).Info("Member became unhealthy, reconciling")
				s.Reconcile()
			}
		}
	}
}

// Reconcile runs one scaling cycle and returns the decision it acted on.
// Provisioning continues in the background after it returns and is only
// cancelled by Stop.
func (s *Scaler) Reconcile() *models.ScalingDecision {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	now := s.config.Now()

	s.config.Pool.Reap()
	s.retireUnhealthy(now)

	s.config.Window.Record(now, s.config.Admission.Stats())
	counts := s.config.Pool.Counts()

	decision := s.config.Policy.Decide(Signals{
		AvgQueueDepth: s.config.Window.AvgQueueDepth(),
		RejectRate:    s.config.Window.RejectRate(),
		LowLoadStreak: s.config.Window.LowLoadStreak(),
		Counts:        counts,
	})
	if decision.Reason == ReasonLowLoad {
		s.config.Window.ResetLowLoad()
	}

	s.config.Metrics.IncDecision(decision.Action)
	if decision.Action != models.ActionMaintain {
		s.config.Publisher.DecisionMade(decision)
	}
	if !decision.ShouldExecute() {
		return decision
	}

	switch decision.Action {
	case models.ActionScaleUp:
		s.scaleUp(decision)
	case models.ActionScaleDown:
		s.scaleDown(decision)
	}
	return decision
}

func (s *Scaler) scaleUp(decision *models.ScalingDecision) {
	n := decision.MemberDelta()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.config.Pool.Reserve())
	}

	logger.WithComponent("scaler").Infof("Provisioning %d members", n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result := s.config.Provisioner.Provision(s.ctx, ids)

		status := models.ScalingEventSuccess
		switch {
		case len(result.Added) == 0:
			status = models.ScalingEventFailed
		case result.PartialSuccess():
			status = models.ScalingEventPartial
		}
		s.config.Publisher.ScalingComplete(models.NewScalingEvent(*decision, status))

		logger.WithComponent("scaler").Infof(
			"Provisioning complete: %d/%d members added", len(result.Added), result.Requested,
		)
	}()
}

func (s *Scaler) scaleDown(decision *models.ScalingDecision) {
	retired := s.retireExcess(decision.CurrentMembers-decision.TargetMembers, decision.Reason)

	status := models.ScalingEventSuccess
	switch {
	case retired == 0:
		status = models.ScalingEventFailed
	case retired < decision.CurrentMembers-decision.TargetMembers:
		status = models.ScalingEventPartial
	}
	s.config.Publisher.ScalingComplete(models.NewScalingEvent(*decision, status))
}

// retireExcess marks up to n eligible members Retiring, preferring Degraded
// members, then the least busy, then the oldest.
func (s *Scaler) retireExcess(n int, reason string) int {
	if n <= 0 {
		return 0
	}

	var candidates []models.MemberSnapshot
	for _, m := range s.config.Pool.Members() {
		if m.State.IsEligible() && !m.LifecycleBusy {
			candidates = append(candidates, m)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if (a.State == models.HealthDegraded) != (b.State == models.HealthDegraded) {
			return a.State == models.HealthDegraded
		}
		if a.Usage != b.Usage {
			return a.Usage < b.Usage
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	retired := 0
	for _, m := range candidates {
		if retired == n {
			break
		}
		if err := s.config.Pool.MarkRetiring(m.ID, reason); err != nil {
			if !errors.Is(err, pool.ErrMemberBusy) && !errors.Is(err, pool.ErrInvalidTransition) {
				logger.WithMember(m.ID).WithError(err).Warn("Failed to retire member")
			}
			continue
		}
		retired++
	}
	return retired
}

// retireUnhealthy retires members that have stayed Unhealthy past the grace
// period.
func (s *Scaler) retireUnhealthy(now time.Time) int {
	if s.config.UnhealthyGrace <= 0 {
		return 0
	}

	retired := 0
	for _, m := range s.config.Pool.Members() {
		if m.State != models.HealthUnhealthy || m.LifecycleBusy {
			continue
		}
		if now.Sub(m.StateChangedAt) < s.config.UnhealthyGrace {
			continue
		}
		if err := s.config.Pool.MarkRetiring(m.ID, "unhealthy past grace period"); err != nil {
			logger.WithMember(m.ID).WithError(err).Warn("Failed to retire unhealthy member")
			continue
		}
		retired++
	}
	return retired
}
