package scaler

import (
	"math"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

const (
	ReasonReplacement   = "replace_lost_members"
	ReasonQueueDepth    = "queue_depth_high"
	ReasonRejectRate    = "reject_rate_high"
	ReasonHealthyShare  = "healthy_fraction_low"
	ReasonLowLoad       = "sustained_low_load"
	ReasonExcess        = "excess_members"
	ReasonCooldown      = "in_cooldown"
	ReasonHourlyCap     = "hourly_scale_up_cap"
	ReasonAtMax         = "at_max_members"
	ReasonWithinTargets = "within_targets"
)

type PolicyConfig struct {
	MinMembers              int
	TargetMembers           int
	MaxMembers              int
	PerMemberLimit          int
	CooldownPeriod          time.Duration
	ScaleDownCooldownPeriod time.Duration
	ScaleUpQueueDepth       int
	MaxRejectRate           float64
	MinHealthyFraction      float64
	LowLoadSamples          int
	MaxScaleStep            int
	MaxScaleUpsPerHour      int
	Now                     func() time.Time
}

// Signals is what the policy sees of the gateway in one cycle.
type Signals struct {
	AvgQueueDepth float64
	RejectRate    float64
	LowLoadStreak int
	Counts        models.PoolCounts
}

// Policy turns load and health signals into a desired member count. The
// desired count is sticky: it only moves on pressure or sustained low load.
type Policy struct {
	config        PolicyConfig
	desired       int
	lastScaleUp   time.Time
	lastScaleDown time.Time
	scaleUps      []time.Time
	mu            sync.Mutex
}

func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.MinMembers <= 0 {
		cfg.MinMembers = 1
	}
	if cfg.MaxMembers < cfg.MinMembers {
		cfg.MaxMembers = cfg.MinMembers
	}
	if cfg.PerMemberLimit <= 0 {
		cfg.PerMemberLimit = 1
	}
	if cfg.CooldownPeriod == 0 {
		cfg.CooldownPeriod = 5 * time.Minute
	}
	if cfg.ScaleDownCooldownPeriod == 0 {
		cfg.ScaleDownCooldownPeriod = 10 * time.Minute
	}
	if cfg.ScaleUpQueueDepth <= 0 {
		cfg.ScaleUpQueueDepth = 20
	}
	if cfg.LowLoadSamples <= 0 {
		cfg.LowLoadSamples = 5
	}
	if cfg.MaxScaleStep <= 0 {
		cfg.MaxScaleStep = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Policy{
		config:  cfg,
		desired: clamp(cfg.TargetMembers, cfg.MinMembers, cfg.MaxMembers),
	}
}

func (p *Policy) Desired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desired
}

func (p *Policy) Decide(s Signals) *models.ScalingDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.config.Now()
	current := s.Counts.Eligible() + s.Counts.Provisioning
	decision := &models.ScalingDecision{
		Timestamp:      now,
		CurrentMembers: current,
		Action:         models.ActionMaintain,
	}

	reason := ""
	if pressure := p.pressure(s); pressure != "" {
		reason = p.scaleUp(now, s, pressure, decision)
	} else if s.LowLoadStreak >= p.config.LowLoadSamples && p.desired > p.config.MinMembers {
		if p.inCooldown(now, p.lastScaleDown, p.config.ScaleDownCooldownPeriod) ||
			p.inCooldown(now, p.lastScaleUp, p.config.CooldownPeriod) {
			decision.CooldownActive = true
			reason = ReasonCooldown
		} else {
			// Conservative scale down - always 1 at a time
			p.desired--
			p.lastScaleDown = now
			reason = ReasonLowLoad
		}
	}

	decision.TargetMembers = p.desired

	switch {
	case current < p.desired:
		decision.Action = models.ActionScaleUp
		decision.CooldownActive = false
		if reason != ReasonQueueDepth && reason != ReasonRejectRate && reason != ReasonHealthyShare {
			reason = ReasonReplacement
			decision.IsReplacement = true
		}
	case s.Counts.Eligible() > p.desired:
		decision.Action = models.ActionScaleDown
		decision.CurrentMembers = s.Counts.Eligible()
		decision.CooldownActive = false
		if reason != ReasonLowLoad {
			reason = ReasonExcess
		}
	case reason == "":
		reason = ReasonWithinTargets
	}
	decision.Reason = reason

	if decision.Action != models.ActionMaintain {
		logger.WithComponent("scaler").Infof(
			"Decision: %s %d -> %d members (reason: %s)",
			decision.Action, decision.CurrentMembers, decision.TargetMembers, reason,
		)
	} else {
		logger.WithComponent("scaler").Debugf("Decision: maintain (%s)", reason)
	}
	return decision
}

func (p *Policy) pressure(s Signals) string {
	switch {
	case s.AvgQueueDepth >= float64(p.config.ScaleUpQueueDepth):
		return ReasonQueueDepth
	case p.config.MaxRejectRate > 0 && s.RejectRate >= p.config.MaxRejectRate:
		return ReasonRejectRate
	case s.Counts.HealthyFraction() < p.config.MinHealthyFraction:
		return ReasonHealthyShare
	}
	return ""
}

// scaleUp raises the desired count if cooldown and the hourly cap allow it
// and returns the reason recorded on the decision.
func (p *Policy) scaleUp(now time.Time, s Signals, pressure string, decision *models.ScalingDecision) string {
	if p.desired >= p.config.MaxMembers {
		return ReasonAtMax
	}
	if p.inCooldown(now, p.lastScaleUp, p.config.CooldownPeriod) {
		decision.CooldownActive = true
		return ReasonCooldown
	}

	p.pruneScaleUps(now)
	if p.config.MaxScaleUpsPerHour > 0 && len(p.scaleUps) >= p.config.MaxScaleUpsPerHour {
		decision.CooldownActive = true
		return ReasonHourlyCap
	}

	delta := clamp(int(math.Ceil(s.AvgQueueDepth/float64(p.config.PerMemberLimit))), 1, p.config.MaxScaleStep)
	p.desired = clamp(p.desired+delta, p.config.MinMembers, p.config.MaxMembers)
	p.lastScaleUp = now
	p.scaleUps = append(p.scaleUps, now)
	return pressure
}

func (p *Policy) pruneScaleUps(now time.Time) {
	kept := p.scaleUps[:0]
	for _, t := range p.scaleUps {
		if now.Sub(t) < time.Hour {
			kept = append(kept, t)
		}
	}
	p.scaleUps = kept
}

func (p *Policy) inCooldown(now, last time.Time, period time.Duration) bool {
	return !last.IsZero() && now.Sub(last) < period
}

// CooldownRemaining is how long until the next pressure scale-up may happen.
func (p *Policy) CooldownRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastScaleUp.IsZero() {
		return 0
	}
	elapsed := p.config.Now().Sub(p.lastScaleUp)
	if elapsed >= p.config.CooldownPeriod {
		return 0
	}
	return p.config.CooldownPeriod - elapsed
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
