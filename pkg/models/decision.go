package models

import "time"

type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "SCALE_UP"
	ActionScaleDown ScalingAction = "SCALE_DOWN"
	ActionMaintain  ScalingAction = "MAINTAIN"
)

// ScalingDecision represents a sizing decision made by the scaler policy
type ScalingDecision struct {
	Timestamp      time.Time     `json:"timestamp"`
	Action         ScalingAction `json:"action"`
	CurrentMembers int           `json:"current_members"`
	TargetMembers  int           `json:"target_members"`
	Reason         string        `json:"reason"`
	IsReplacement  bool          `json:"is_replacement"`
	CooldownActive bool          `json:"cooldown_active"`
}

func (d *ScalingDecision) MemberDelta() int {
	return d.TargetMembers - d.CurrentMembers
}

func (d *ScalingDecision) ShouldExecute() bool {
	return d.Action != ActionMaintain && !d.CooldownActive
}

type ScalingEventStatus string

const (
	ScalingEventSuccess ScalingEventStatus = "success"
	ScalingEventFailed  ScalingEventStatus = "failed"
	ScalingEventPartial ScalingEventStatus = "partial"
)

// ScalingEvent represents a recorded scaling action
type ScalingEvent struct {
	ID            int                `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	Action        ScalingAction      `json:"action"`
	MembersBefore int                `json:"members_before"`
	MembersAfter  int                `json:"members_after"`
	TriggerReason string             `json:"trigger_reason"`
	Replacement   bool               `json:"replacement"`
	Status        ScalingEventStatus `json:"status"`
}

func NewScalingEvent(decision ScalingDecision, status ScalingEventStatus) *ScalingEvent {
	return &ScalingEvent{
		Timestamp:     decision.Timestamp,
		Action:        decision.Action,
		MembersBefore: decision.CurrentMembers,
		MembersAfter:  decision.TargetMembers,
		TriggerReason: decision.Reason,
		Replacement:   decision.IsReplacement,
		Status:        status,
	}
}
