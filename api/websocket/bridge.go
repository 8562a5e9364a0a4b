package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

// SnapshotSource provides the periodic pool state frame.
type SnapshotSource interface {
	Snapshot(includeMembers bool) models.PoolSnapshot
}

// EventBridge forwards gateway events to WebSocket clients and pushes a
// pool state frame on every tick.
type EventBridge struct {
	hub        *Hub
	eventsChan <-chan *models.Event
	snapshots  SnapshotSource
	stateEvery time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewEventBridge creates the bridge. snapshots may be nil to disable state
// frames.
func NewEventBridge(hub *Hub, eventsChan <-chan *models.Event, snapshots SnapshotSource, stateEvery time.Duration) *EventBridge {
	ctx, cancel := context.WithCancel(context.Background())
	if stateEvery <= 0 {
		stateEvery = 5 * time.Second
	}
	return &EventBridge{
		hub:        hub,
		eventsChan: eventsChan,
		snapshots:  snapshots,
		stateEvery: stateEvery,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (b *EventBridge) Start() {
	b.wg.Add(1)
	go b.run()
	logger.Info("WebSocket event bridge started")
}

func (b *EventBridge) Stop() {
	b.cancel()
	b.wg.Wait()
	logger.Info("WebSocket event bridge stopped")
}

func (b *EventBridge) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.stateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.snapshots != nil && b.hub.ClientCount() > 0 {
				BroadcastPoolState(b.hub, b.snapshots.Snapshot(false))
			}
		case event, ok := <-b.eventsChan:
			if !ok {
				logger.Info("Event channel closed, stopping bridge")
				return
			}
			b.forwardEvent(event)
		}
	}
}

func (b *EventBridge) forwardEvent(event *models.Event) {
	msg := convertToWSMessage(event)
	if msg == nil {
		return
	}
	b.hub.BroadcastForMember(event.MemberID, msg.JSON())
}

func convertToWSMessage(event *models.Event) *OutgoingMessage {
	msgType := mapEventType(event.Type)
	if msgType == "" {
		return nil
	}

	return &OutgoingMessage{
		Type:      msgType,
		MemberID:  event.MemberID,
		Timestamp: event.Timestamp,
		Severity:  string(event.Severity),
		Message:   event.Message,
		Data:      event.Data,
	}
}

func mapEventType(eventType models.EventType) MessageType {
	switch eventType {
	case models.EventTypeMemberAdded, models.EventTypeMemberStateChanged,
		models.EventTypeMemberRetiring, models.EventTypeMemberRemoved, models.EventTypeDrainForced:
		return MessageTypeMemberUpdate
	case models.EventTypeProvisioningStarted, models.EventTypeProvisioningFailed:
		return MessageTypeProvisioning
	case models.EventTypeDecisionMade:
		return MessageTypeDecision
	case models.EventTypeScalingComplete:
		return MessageTypeScalingEvent
	case models.EventTypeLeaseExpired:
		return MessageTypeLeaseExpired
	case models.EventTypeAlert, models.EventTypeInvariantViolation:
		return MessageTypeAlert
	case models.EventTypeError:
		return MessageTypeError
	default:
		return ""
	}
}
