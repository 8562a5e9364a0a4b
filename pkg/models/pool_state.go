package models

import "time"

// PoolCounts is the number of members per health state.
type PoolCounts struct {
	Provisioning int `json:"provisioning"`
	Healthy      int `json:"healthy"`
	Degraded     int `json:"degraded"`
	Unhealthy    int `json:"unhealthy"`
	Retiring     int `json:"retiring"`
}

func (c PoolCounts) Eligible() int {
	return c.Healthy + c.Degraded
}

// Active counts members that are not on their way out.
func (c PoolCounts) Active() int {
	return c.Provisioning + c.Healthy + c.Degraded + c.Unhealthy
}

func (c PoolCounts) Total() int {
	return c.Active() + c.Retiring
}

func (c PoolCounts) HealthyFraction() float64 {
	settled := c.Healthy + c.Degraded + c.Unhealthy
	if settled == 0 {
		return 1.0
	}
	return float64(c.Healthy) / float64(settled)
}

func (c PoolCounts) ByState() map[HealthState]int {
	return map[HealthState]int{
		HealthProvisioning: c.Provisioning,
		HealthHealthy:      c.Healthy,
		HealthDegraded:     c.Degraded,
		HealthUnhealthy:    c.Unhealthy,
		HealthRetiring:     c.Retiring,
	}
}

// AdmissionStats is a read-only view of the admission controller.
type AdmissionStats struct {
	QueueDepth      int           `json:"queue_depth"`
	QueueCapacity   int           `json:"queue_capacity"`
	ActiveLeases    int           `json:"active_leases"`
	Ceiling         int           `json:"ceiling"`
	AvailableTokens float64       `json:"available_tokens"`
	Admitted        int64         `json:"admitted"`
	Queued          int64         `json:"queued"`
	Rejected        int64         `json:"rejected"`
	TimedOut        int64         `json:"timed_out"`
	Released        int64         `json:"released"`
	ExpiredLeases   int64         `json:"expired_leases"`
	PeakActive      int           `json:"peak_active"`
	PeakQueue       int           `json:"peak_queue"`
	AvgQueueWait    time.Duration `json:"avg_queue_wait_ns"`
}

// Attempts is the total number of acquire calls that reached a verdict.
func (s AdmissionStats) Attempts() int64 {
	return s.Admitted + s.Rejected + s.TimedOut
}

// PoolSnapshot aggregates pool and admission state for observers.
type PoolSnapshot struct {
	Timestamp       time.Time           `json:"timestamp"`
	Tier            string              `json:"tier"`
	PerMemberLimit  int                 `json:"per_member_limit"`
	Ceiling         int                 `json:"ceiling"`
	Counts          PoolCounts          `json:"counts"`
	ByState         map[HealthState]int `json:"by_state"`
	Members         []MemberSnapshot    `json:"members,omitempty"`
	Admission       AdmissionStats      `json:"admission"`
	DesiredMembers  int                 `json:"desired_members"`
	Recommendations []string            `json:"recommendations,omitempty"`
}
