package events

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/pkg/database/queries"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

// Recorder persists the lifecycle events worth keeping.
type Recorder interface {
	RecordTransition(ctx context.Context, t *models.MemberTransition) error
	RecordScalingEvent(ctx context.Context, e *models.ScalingEvent) error
}

type dbRecorder struct {
	transitions *queries.TransitionRepository
	scaling     *queries.ScalingEventRepository
}

func NewDBRecorder(db *sql.DB) Recorder {
	return &dbRecorder{
		transitions: queries.NewTransitionRepository(db),
		scaling:     queries.NewScalingEventRepository(db),
	}
}

func (r *dbRecorder) RecordTransition(ctx context.Context, t *models.MemberTransition) error {
	return r.transitions.Insert(ctx, t)
}

func (r *dbRecorder) RecordScalingEvent(ctx context.Context, e *models.ScalingEvent) error {
	return r.scaling.Insert(ctx, e)
}

// EventLogger writes every event to the structured log and hands lifecycle
// events to the recorder, if one is configured.
type EventLogger struct {
	recorder  Recorder
	eventChan <-chan *models.Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewEventLogger(recorder Recorder, eventChan <-chan *models.Event) *EventLogger {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventLogger{
		recorder:  recorder,
		eventChan: eventChan,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (l *EventLogger) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *EventLogger) Stop() {
	l.cancel()
	l.wg.Wait()
}

func (l *EventLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case event, ok := <-l.eventChan:
			if !ok {
				return
			}
			l.processEvent(event)
		}
	}
}

func (l *EventLogger) processEvent(event *models.Event) {
	entry := logger.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"severity":   event.Severity,
	})
	if event.MemberID != "" {
		entry = entry.WithField("member_id", event.MemberID)
	}

	switch event.Severity {
	case models.SeverityCritical:
		entry.Error(event.Message)
	case models.SeverityWarning:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}

	if l.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(l.ctx, 5*time.Second)
	defer cancel()

	var err error
	switch data := event.Data.(type) {
	case models.MemberTransition:
		err = l.recorder.RecordTransition(ctx, &data)
	case *models.ScalingEvent:
		err = l.recorder.RecordScalingEvent(ctx, data)
	}
	if err != nil {
		logger.Errorf("Failed to persist %s event: %v", event.Type, err)
	}
}
