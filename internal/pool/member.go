package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

// member is guarded by its own mutex; the pool lock only protects the set
// of members.
type member struct {
	id        string
	seq       uint64
	createdAt time.Time

	mu                   sync.Mutex
	config               string
	state                models.HealthState
	usage                int
	consecutiveSuccesses int
	consecutiveFailures  int
	successCount         int64
	failureCount         int64
	lifecycleBusy        bool
	lastUsedAt           time.Time
	lastProbedAt         time.Time
	lastProbeLatency     time.Duration
	stateChangedAt       time.Time
	retiringSince        time.Time
}

// recordOutcome updates the streak counters and returns the state the
// member should move to. Callers hold m.mu.
func (m *member) recordOutcome(success bool, failureThreshold, recoveryThreshold int) (models.HealthState, string) {
	if success {
		m.successCount++
		m.consecutiveSuccesses++
		m.consecutiveFailures = 0
	} else {
		m.failureCount++
		m.consecutiveFailures++
		m.consecutiveSuccesses = 0
	}

	switch m.state {
	case models.HealthProvisioning:
		if success {
			return models.HealthHealthy, "first success"
		}
		if m.consecutiveFailures >= failureThreshold {
			return models.HealthUnhealthy, fmt.Sprintf("%d failures while provisioning", m.consecutiveFailures)
		}

	case models.HealthHealthy:
		if !success {
			return models.HealthDegraded, "failure while healthy"
		}

	case models.HealthDegraded:
		if !success && m.consecutiveFailures >= failureThreshold {
			return models.HealthUnhealthy, fmt.Sprintf("%d consecutive failures while degraded", m.consecutiveFailures)
		}
		if success && m.consecutiveSuccesses >= recoveryThreshold {
			return models.HealthHealthy, fmt.Sprintf("%d consecutive successes", m.consecutiveSuccesses)
		}

	case models.HealthUnhealthy:
		if success && m.consecutiveSuccesses >= recoveryThreshold {
			return models.HealthHealthy, fmt.Sprintf("%d consecutive successes", m.consecutiveSuccesses)
		}
	}

	return m.state, ""
}

// setState moves the member and resets its streaks. Callers hold m.mu.
func (m *member) setState(to models.HealthState, reason string, now time.Time) models.MemberTransition {
	t := models.MemberTransition{
		MemberID:  m.id,
		From:      m.state,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	}
	m.state = to
	m.stateChangedAt = now
	m.consecutiveSuccesses = 0
	m.consecutiveFailures = 0
	if to == models.HealthRetiring {
		m.retiringSince = now
	}
	return t
}

func (m *member) checkoutable(limit int) bool {
	return m.state.IsEligible() && m.usage < limit
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// snapshot copies the member. Callers hold m.mu.
func (m *member) snapshot() models.MemberSnapshot {
	return models.MemberSnapshot{
		ID:                   m.id,
		State:                m.state,
		Usage:                m.usage,
		ConsecutiveSuccesses: m.consecutiveSuccesses,
		ConsecutiveFailures:  m.consecutiveFailures,
		SuccessCount:         m.successCount,
		FailureCount:         m.failureCount,
		LifecycleBusy:        m.lifecycleBusy,
		LastProbeLatency:     m.lastProbeLatency,
		CreatedAt:            m.createdAt,
		StateChangedAt:       m.stateChangedAt,
		LastUsedAt:           optionalTime(m.lastUsedAt),
		LastProbedAt:         optionalTime(m.lastProbedAt),
		RetiringSince:        optionalTime(m.retiringSince),
	}
}
