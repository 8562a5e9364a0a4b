package models

import "time"

type EventType string

const (
	EventTypeMemberAdded         EventType = "member_added"
	EventTypeMemberStateChanged  EventType = "member_state_changed"
	EventTypeMemberRetiring      EventType = "member_retiring"
	EventTypeMemberRemoved       EventType = "member_removed"
	EventTypeDrainForced         EventType = "drain_forced"
	EventTypeProvisioningStarted EventType = "provisioning_started"
	EventTypeProvisioningFailed  EventType = "provisioning_failed"
	EventTypeDecisionMade        EventType = "decision_made"
	EventTypeScalingComplete     EventType = "scaling_complete"
	EventTypeLeaseExpired        EventType = "lease_expired"
	EventTypeInvariantViolation  EventType = "invariant_violation"
	EventTypeAlert               EventType = "alert"
	EventTypeError               EventType = "error"
)

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// Event represents an internal system event
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Severity  EventSeverity `json:"severity"`
	MemberID  string        `json:"member_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message"`
	Data      interface{}   `json:"data,omitempty"`
}

func NewEvent(eventType EventType, memberID, message string) *Event {
	return &Event{
		ID:        NewUUID(),
		Type:      eventType,
		Severity:  SeverityInfo,
		MemberID:  memberID,
		Timestamp: time.Now(),
		Message:   message,
	}
}

func (e *Event) WithSeverity(severity EventSeverity) *Event {
	e.Severity = severity
	return e
}

func (e *Event) WithData(data interface{}) *Event {
	e.Data = data
	return e
}
