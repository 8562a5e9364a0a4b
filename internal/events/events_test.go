package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

func receive(t *testing.T, ch <-chan *models.Event) *models.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestEventBus_SubscribeFiltersByType(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()

	changes := bus.Subscribe(models.EventTypeMemberStateChanged)
	all := bus.SubscribeAll()

	pub := events.NewPublisher(bus)
	pub.ProvisioningStarted("m-1")
	pub.MemberStateChanged(models.MemberTransition{
		MemberID: "m-1",
		From:     models.HealthProvisioning,
		To:       models.HealthHealthy,
	})

	got := receive(t, changes)
	assert.Equal(t, models.EventTypeMemberStateChanged, got.Type)
	assert.Equal(t, "m-1", got.MemberID)

	assert.Equal(t, models.EventTypeProvisioningStarted, receive(t, all).Type)
	assert.Equal(t, models.EventTypeMemberStateChanged, receive(t, all).Type)
	assert.Len(t, changes, 0)
}

func TestEventBus_DropsWhenSubscriberIsFull(t *testing.T) {
	bus := events.NewEventBus(1)
	defer bus.Close()

	_ = bus.SubscribeAll()
	pub := events.NewPublisher(bus)

	pub.Alert(models.SeverityInfo, "first", nil)
	pub.Alert(models.SeverityInfo, "second", nil)

	assert.Equal(t, int64(1), bus.Dropped())
}

func TestEventBus_CloseClosesSubscribers(t *testing.T) {
	bus := events.NewEventBus(1)
	ch := bus.SubscribeAll()

	bus.Close()
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := bus.SubscribeAll()
	_, ok = <-late
	assert.False(t, ok)
}

func TestPublisher_SeverityByTransition(t *testing.T) {
	tests := []struct {
		to       models.HealthState
		severity models.EventSeverity
	}{
		{models.HealthHealthy, models.SeverityInfo},
		{models.HealthDegraded, models.SeverityWarning},
		{models.HealthUnhealthy, models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			bus := events.NewEventBus(1)
			defer bus.Close()
			ch := bus.SubscribeAll()

			events.NewPublisher(bus).MemberStateChanged(models.MemberTransition{
				MemberID: "m", From: models.HealthHealthy, To: tt.to,
			})

			e := receive(t, ch)
			assert.Equal(t, tt.severity, e.Severity)
			assert.Equal(t, "m", e.MemberID)
		})
	}
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var pub *events.Publisher
	assert.NotPanics(t, func() { pub.ProvisioningStarted("m") })
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []models.MemberTransition
	scaling     []models.ScalingEvent
}

func (r *fakeRecorder) RecordTransition(_ context.Context, t *models.MemberTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, *t)
	return nil
}

func (r *fakeRecorder) RecordScalingEvent(_ context.Context, e *models.ScalingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scaling = append(r.scaling, *e)
	return nil
}

func (r *fakeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions), len(r.scaling)
}

func TestEventLogger_PersistsLifecycleEvents(t *testing.T) {
	bus := events.NewEventBus(10)
	recorder := &fakeRecorder{}
	el := events.NewEventLogger(recorder, bus.SubscribeAll())
	el.Start()

	pub := events.NewPublisher(bus)
	pub.MemberStateChanged(models.MemberTransition{MemberID: "m", From: models.HealthHealthy, To: models.HealthDegraded})
	pub.MemberRemoved(models.MemberTransition{MemberID: "m", From: models.HealthRetiring, To: models.HealthRemoved})
	pub.ScalingComplete(&models.ScalingEvent{Action: models.ActionScaleUp, Status: models.ScalingEventSuccess})
	pub.Alert(models.SeverityInfo, "ignored", nil)

	require.Eventually(t, func() bool {
		transitions, scaling := recorder.counts()
		return transitions == 2 && scaling == 1
	}, time.Second, 10*time.Millisecond)

	el.Stop()
	bus.Close()
}
