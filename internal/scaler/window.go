package scaler

import (
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

// Sample is one observation of admission pressure between two cycles.
type Sample struct {
	Timestamp   time.Time
	QueueDepth  int
	Utilization float64
	Attempts    int64
	Failures    int64
}

func (s Sample) isLowLoad(threshold float64) bool {
	return s.QueueDepth == 0 && s.Failures == 0 && s.Utilization <= threshold
}

// LoadWindow keeps the most recent samples and how long load has stayed low.
type LoadWindow struct {
	size          int
	lowThreshold  float64
	samples       []Sample
	last          models.AdmissionStats
	hasLast       bool
	lowLoadStreak int
	mu            sync.RWMutex
}

func NewLoadWindow(size int, lowThreshold float64) *LoadWindow {
	if size <= 0 {
		size = 5
	}
	return &LoadWindow{
		size:         size,
		lowThreshold: lowThreshold,
		samples:      make([]Sample, 0, size),
	}
}

// Record turns cumulative admission counters into a per-cycle sample.
func (w *LoadWindow) Record(now time.Time, stats models.AdmissionStats) Sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	sample := Sample{
		Timestamp:  now,
		QueueDepth: stats.QueueDepth,
	}
	if stats.Ceiling > 0 {
		sample.Utilization = float64(stats.ActiveLeases) / float64(stats.Ceiling)
	} else if stats.ActiveLeases > 0 || stats.QueueDepth > 0 {
		sample.Utilization = 1
	}
	if w.hasLast {
		sample.Attempts = stats.Attempts() - w.last.Attempts()
		sample.Failures = (stats.Rejected + stats.TimedOut) - (w.last.Rejected + w.last.TimedOut)
	}
	w.last = stats
	w.hasLast = true

	w.samples = append(w.samples, sample)
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}

	if sample.isLowLoad(w.lowThreshold) {
		w.lowLoadStreak++
	} else {
		w.lowLoadStreak = 0
	}
	return sample
}

func (w *LoadWindow) AvgQueueDepth() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.samples) == 0 {
		return 0
	}
	var sum int
	for _, s := range w.samples {
		sum += s.QueueDepth
	}
	return float64(sum) / float64(len(w.samples))
}

// RejectRate is rejected plus timed-out acquires over all attempts in the window.
func (w *LoadWindow) RejectRate() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var attempts, failures int64
	for _, s := range w.samples {
		attempts += s.Attempts
		failures += s.Failures
	}
	if attempts == 0 {
		return 0
	}
	return float64(failures) / float64(attempts)
}

func (w *LoadWindow) LowLoadStreak() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lowLoadStreak
}

// ResetLowLoad starts a new streak after a scale-down.
func (w *LoadWindow) ResetLowLoad() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lowLoadStreak = 0
}
