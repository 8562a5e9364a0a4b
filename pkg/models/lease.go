package models

import "time"

// Lease is a permit to perform one unit of upstream work.
type Lease struct {
	ID         string        `json:"id"`
	AcquiredAt time.Time     `json:"acquired_at"`
	QueuedFor  time.Duration `json:"queued_for"`
	MemberID   string        `json:"member_id,omitempty"`
}

func NewLease(now time.Time, queuedFor time.Duration) *Lease {
	return &Lease{
		ID:         NewUUID(),
		AcquiredAt: now,
		QueuedFor:  queuedFor,
	}
}

func (l *Lease) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}
