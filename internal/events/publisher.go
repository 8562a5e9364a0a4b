package events

import (
	"fmt"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

type Publisher struct {
	bus *EventBus
}

func NewPublisher(bus *EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) publish(event *models.Event) {
	if p == nil || p.bus == nil {
		return
	}
	p.bus.Publish(event)
}

func (p *Publisher) MemberAdded(member models.MemberSnapshot) {
	event := models.NewEvent(models.EventTypeMemberAdded, member.ID, "Member added").
		WithData(member)
	p.publish(event)
}

func (p *Publisher) MemberStateChanged(t models.MemberTransition) {
	msg := fmt.Sprintf("Member %s -> %s", t.From, t.To)
	event := models.NewEvent(models.EventTypeMemberStateChanged, t.MemberID, msg).
		WithData(t)

	switch t.To {
	case models.HealthUnhealthy:
		event.WithSeverity(models.SeverityCritical)
	case models.HealthDegraded:
		event.WithSeverity(models.SeverityWarning)
	}

	p.publish(event)
}

func (p *Publisher) MemberRetiring(memberID, reason string) {
	event := models.NewEvent(models.EventTypeMemberRetiring, memberID, "Member retiring: "+reason).
		WithData(map[string]interface{}{"reason": reason})
	p.publish(event)
}

func (p *Publisher) MemberRemoved(t models.MemberTransition) {
	event := models.NewEvent(models.EventTypeMemberRemoved, t.MemberID, "Member removed").
		WithData(t)
	p.publish(event)
}

func (p *Publisher) DrainForced(t models.MemberTransition, inFlight int) {
	msg := fmt.Sprintf("Drain timeout reached with %d leases in flight", inFlight)
	event := models.NewEvent(models.EventTypeDrainForced, t.MemberID, msg).
		WithSeverity(models.SeverityWarning).
		WithData(t)
	p.publish(event)
}

func (p *Publisher) ProvisioningStarted(memberID string) {
	event := models.NewEvent(models.EventTypeProvisioningStarted, memberID, "Provisioning started")
	p.publish(event)
}

func (p *Publisher) ProvisioningFailed(memberID string, attempts int, err error) {
	event := models.NewEvent(models.EventTypeProvisioningFailed, memberID, "Provisioning failed").
		WithSeverity(models.SeverityCritical).
		WithData(map[string]interface{}{
			"attempts": attempts,
			"error":    err.Error(),
		})
	p.publish(event)
}

func (p *Publisher) DecisionMade(decision *models.ScalingDecision) {
	msg := "Scaling decision: " + string(decision.Action)
	event := models.NewEvent(models.EventTypeDecisionMade, "", msg).
		WithData(decision)
	if decision.IsReplacement {
		event.WithSeverity(models.SeverityWarning)
	}
	p.publish(event)
}

func (p *Publisher) ScalingComplete(scalingEvent *models.ScalingEvent) {
	msg := "Scaling complete: " + string(scalingEvent.Action)
	event := models.NewEvent(models.EventTypeScalingComplete, "", msg).
		WithData(scalingEvent)
	if scalingEvent.Status != models.ScalingEventSuccess {
		event.WithSeverity(models.SeverityWarning)
	}
	p.publish(event)
}

func (p *Publisher) LeaseExpired(lease models.Lease) {
	event := models.NewEvent(models.EventTypeLeaseExpired, lease.MemberID, "Lease reclaimed after max age").
		WithSeverity(models.SeverityWarning).
		WithData(lease)
	p.publish(event)
}

func (p *Publisher) InvariantViolation(op, detail string) {
	event := models.NewEvent(models.EventTypeInvariantViolation, "", op+": "+detail).
		WithSeverity(models.SeverityCritical).
		WithData(map[string]interface{}{
			"op":     op,
			"detail": detail,
		})
	p.publish(event)
}

func (p *Publisher) Alert(severity models.EventSeverity, message string, data interface{}) {
	event := models.NewEvent(models.EventTypeAlert, "", message).
		WithSeverity(severity).
		WithData(data)
	p.publish(event)
}

func (p *Publisher) Error(message string, err error) {
	event := models.NewEvent(models.EventTypeError, "", message).
		WithSeverity(models.SeverityCritical).
		WithData(map[string]interface{}{
			"error": err.Error(),
		})
	p.publish(event)
}
