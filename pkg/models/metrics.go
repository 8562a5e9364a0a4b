package models

import "time"

// PoolSample is one periodic reading of pool and admission state, kept for
// capacity history.
type PoolSample struct {
	Time         time.Time `json:"time"`
	Tier         string    `json:"tier"`
	Provisioning int       `json:"provisioning"`
	Healthy      int       `json:"healthy"`
	Degraded     int       `json:"degraded"`
	Unhealthy    int       `json:"unhealthy"`
	Retiring     int       `json:"retiring"`
	Ceiling      int       `json:"ceiling"`
	ActiveLeases int       `json:"active_leases"`
	QueueDepth   int       `json:"queue_depth"`
	Admitted     int64     `json:"admitted"`
	Rejected     int64     `json:"rejected"`
	TimedOut     int64     `json:"timed_out"`
}

func NewPoolSample(s PoolSnapshot) *PoolSample {
	return &PoolSample{
		Time:         s.Timestamp,
		Tier:         s.Tier,
		Provisioning: s.Counts.Provisioning,
		Healthy:      s.Counts.Healthy,
		Degraded:     s.Counts.Degraded,
		Unhealthy:    s.Counts.Unhealthy,
		Retiring:     s.Counts.Retiring,
		Ceiling:      s.Ceiling,
		ActiveLeases: s.Admission.ActiveLeases,
		QueueDepth:   s.Admission.QueueDepth,
		Admitted:     s.Admission.Admitted,
		Rejected:     s.Admission.Rejected,
		TimedOut:     s.Admission.TimedOut,
	}
}

// Utilization is the fraction of the ceiling in use.
func (s PoolSample) Utilization() float64 {
	if s.Ceiling == 0 {
		return 0
	}
	return float64(s.ActiveLeases) / float64(s.Ceiling)
}

// AggregatedSample summarizes the samples in one time bucket.
type AggregatedSample struct {
	Time          time.Time `json:"time"`
	AvgHealthy    float64   `json:"avg_healthy"`
	MinHealthy    int       `json:"min_healthy"`
	AvgCeiling    float64   `json:"avg_ceiling"`
	AvgActive     float64   `json:"avg_active"`
	MaxActive     int       `json:"max_active"`
	MaxQueueDepth int       `json:"max_queue_depth"`
	AdmittedDelta int64     `json:"admitted"`
	RejectedDelta int64     `json:"rejected"`
	SampleCount   int       `json:"sample_count"`
}
