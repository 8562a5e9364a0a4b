package models

import "time"

type HealthState string

const (
	HealthProvisioning HealthState = "PROVISIONING"
	HealthHealthy      HealthState = "HEALTHY"
	HealthDegraded     HealthState = "DEGRADED"
	HealthUnhealthy    HealthState = "UNHEALTHY"
	HealthRetiring     HealthState = "RETIRING"
	HealthRemoved      HealthState = "REMOVED"
)

// AllHealthStates lists states in lifecycle order.
var AllHealthStates = []HealthState{
	HealthProvisioning,
	HealthHealthy,
	HealthDegraded,
	HealthUnhealthy,
	HealthRetiring,
	HealthRemoved,
}

// IsEligible reports whether a member in this state may be checked out
// and counts towards the concurrency ceiling.
func (s HealthState) IsEligible() bool {
	return s == HealthHealthy || s == HealthDegraded
}

// IsActive reports whether the member is still part of the serving fleet.
func (s HealthState) IsActive() bool {
	return s != HealthRetiring && s != HealthRemoved
}

func (s HealthState) IsValid() bool {
	for _, st := range AllHealthStates {
		if st == s {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeNeutral returns the member without affecting its health.
	OutcomeNeutral Outcome = "neutral"
)

// Identity is a freshly minted upstream egress identity.
type Identity struct {
	ID     string `json:"id"`
	Config string `json:"config"`
}

type ProbeStatus string

const (
	ProbeHealthy   ProbeStatus = "healthy"
	ProbeUnhealthy ProbeStatus = "unhealthy"
)

type ProbeResult struct {
	Status  ProbeStatus   `json:"status"`
	Latency time.Duration `json:"latency"`
}

func (r ProbeResult) IsHealthy() bool {
	return r.Status == ProbeHealthy
}

// MemberHandle is handed to the request path on checkout.
type MemberHandle struct {
	ID     string `json:"id"`
	Config string `json:"-"`
}

// MemberSnapshot is a point-in-time copy of a pool member.
type MemberSnapshot struct {
	ID                   string        `json:"id"`
	State                HealthState   `json:"state"`
	Usage                int           `json:"usage"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	SuccessCount         int64         `json:"success_count"`
	FailureCount         int64         `json:"failure_count"`
	LifecycleBusy        bool          `json:"lifecycle_busy"`
	LastProbeLatency     time.Duration `json:"last_probe_latency_ns"`
	CreatedAt            time.Time     `json:"created_at"`
	StateChangedAt       time.Time     `json:"state_changed_at"`
	LastUsedAt           *time.Time    `json:"last_used_at,omitempty"`
	LastProbedAt         *time.Time    `json:"last_probed_at,omitempty"`
	RetiringSince        *time.Time    `json:"retiring_since,omitempty"`
}

func (m MemberSnapshot) SuccessRate() float64 {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessCount) / float64(total)
}

// MemberRecord is the persisted form used to warm-start the pool.
type MemberRecord struct {
	ID        string      `json:"id" yaml:"id"`
	Config    string      `json:"config" yaml:"config"`
	Health    HealthState `json:"health" yaml:"health"`
	CreatedAt time.Time   `json:"created_at" yaml:"created_at"`
}

// IsRestorable reports whether the record describes a member worth re-probing.
func (r MemberRecord) IsRestorable() bool {
	return r.ID != "" && r.Config != "" && (r.Health.IsEligible() || r.Health == HealthProvisioning)
}

// MemberTransition records a single health state change.
type MemberTransition struct {
	MemberID  string      `json:"member_id"`
	From      HealthState `json:"from"`
	To        HealthState `json:"to"`
	Reason    string      `json:"reason"`
	Forced    bool        `json:"forced,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
