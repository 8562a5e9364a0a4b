// Package admission gates units of upstream work behind a token bucket and
// a concurrency ceiling derived from the pool, queueing overflow in FIFO
// order.
package admission

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/internal/invariant"
	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

var (
	ErrCapacityExceeded  = errors.New("admission queue is full")
	ErrAdmissionTimedOut = errors.New("admission deadline reached while queued")
	ErrLeaseExpired      = errors.New("lease was reclaimed after exceeding its max age")
	ErrClosed            = errors.New("admission controller is closed")
)

// minRefillDelay keeps the refill timer from spinning on rounding error.
const minRefillDelay = time.Millisecond

// CeilingSource reports the current concurrency ceiling. It is read on
// every admission decision.
type CeilingSource interface {
	Ceiling() int
}

type Config struct {
	RateLimit      float64
	BucketCapacity int
	QueueCapacity  int
	// DefaultTimeout bounds the wait of callers whose context has no deadline.
	DefaultTimeout time.Duration
	MaxLeaseAge    time.Duration
	Ceiling        CeilingSource
	Publisher      *events.Publisher
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type waiter struct {
	enqueuedAt time.Time
	ready      chan *models.Lease
	elem       *list.Element
}

type counters struct {
	admitted   int64
	queued     int64
	rejected   int64
	timedOut   int64
	released   int64
	expired    int64
	peakActive int
	peakQueue  int
	waitTotal  time.Duration
	waitCount  int64
}

type Controller struct {
	cfg     Config
	limiter *rate.Limiter

	mu       sync.Mutex
	queue    *list.List
	inFlight map[string]*models.Lease
	expired  map[string]time.Time
	refill   *time.Timer
	closed   bool
	stats    counters
}

func New(cfg Config) *Controller {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.BucketCapacity <= 0 {
		cfg.BucketCapacity = 1
	}
	if cfg.QueueCapacity < 0 {
		cfg.QueueCapacity = 0
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 45 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Controller{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BucketCapacity),
		queue:    list.New(),
		inFlight: make(map[string]*models.Lease),
		expired:  make(map[string]time.Time),
	}
}

// Acquire returns a lease once both the rate and concurrency gates allow
// it. Callers are admitted immediately only when nobody is queued ahead of
// them; otherwise they wait in arrival order until ctx is done or, if ctx
// has no deadline, until the default queue timeout elapses.
func (c *Controller) Acquire(ctx context.Context) (*models.Lease, error) {
	now := c.cfg.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.queue.Len() == 0 {
		if lease := c.tryAdmitLocked(now, 0); lease != nil {
			c.mu.Unlock()
			c.cfg.Metrics.IncAdmission("admitted")
			return lease, nil
		}
	}
	if c.queue.Len() >= c.cfg.QueueCapacity {
		c.stats.rejected++
		depth := c.queue.Len()
		c.mu.Unlock()
		c.cfg.Metrics.IncAdmission("rejected")
		return nil, fmt.Errorf("%w: %d waiting", ErrCapacityExceeded, depth)
	}

	w := &waiter{enqueuedAt: now, ready: make(chan *models.Lease, 1)}
	w.elem = c.queue.PushBack(w)
	c.stats.queued++
	if depth := c.queue.Len(); depth > c.stats.peakQueue {
		c.stats.peakQueue = depth
	}
	c.armRefillLocked(now)
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DefaultTimeout)
		defer cancel()
	}

	select {
	case lease := <-w.ready:
		return c.handOff(lease)
	case <-ctx.Done():
	}

	c.mu.Lock()
	select {
	case lease := <-w.ready:
		// Admitted while the deadline fired; the lease is already counted.
		c.mu.Unlock()
		return c.handOff(lease)
	default:
	}
	if w.elem != nil {
		c.queue.Remove(w.elem)
		w.elem = nil
	}
	c.stats.timedOut++
	c.mu.Unlock()

	c.cfg.Metrics.IncAdmission("timed_out")
	return nil, fmt.Errorf("%w after %s: %v", ErrAdmissionTimedOut, c.cfg.Now().Sub(now).Round(time.Millisecond), ctx.Err())
}

func (c *Controller) handOff(lease *models.Lease) (*models.Lease, error) {
	if lease == nil {
		return nil, ErrClosed
	}
	c.cfg.Metrics.IncAdmission("admitted")
	c.cfg.Metrics.ObserveQueueWait(lease.QueuedFor)
	return lease, nil
}

// TryAcquire admits immediately or not at all. It never queues.
func (c *Controller) TryAcquire() (*models.Lease, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.queue.Len() > 0 {
		return nil, false
	}
	lease := c.tryAdmitLocked(c.cfg.Now(), 0)
	if lease == nil {
		return nil, false
	}
	c.cfg.Metrics.IncAdmission("admitted")
	return lease, true
}

// tryAdmitLocked checks the concurrency gate before spending a token so a
// blocked ceiling never drains the bucket. Callers hold c.mu.
func (c *Controller) tryAdmitLocked(now time.Time, waited time.Duration) *models.Lease {
	if len(c.inFlight) >= c.cfg.Ceiling.Ceiling() {
		return nil
	}
	if !c.limiter.AllowN(now, 1) {
		return nil
	}

	lease := models.NewLease(now, waited)
	c.inFlight[lease.ID] = lease
	c.stats.admitted++
	if active := len(c.inFlight); active > c.stats.peakActive {
		c.stats.peakActive = active
	}
	return lease
}

// dispatchLocked admits queued waiters from the head until a gate closes.
// Callers hold c.mu.
func (c *Controller) dispatchLocked(now time.Time) {
	for c.queue.Len() > 0 {
		front := c.queue.Front()
		w := front.Value.(*waiter)

		waited := now.Sub(w.enqueuedAt)
		lease := c.tryAdmitLocked(now, waited)
		if lease == nil {
			break
		}
		c.queue.Remove(front)
		w.elem = nil
		c.stats.waitTotal += waited
		c.stats.waitCount++
		w.ready <- lease
	}
	c.armRefillLocked(now)
}

// armRefillLocked schedules a dispatch for when the next token is due, if
// the head of the queue is only blocked on the bucket. Releases and
// capacity changes dispatch on their own. Callers hold c.mu.
func (c *Controller) armRefillLocked(now time.Time) {
	if c.closed || c.refill != nil || c.queue.Len() == 0 {
		return
	}
	if len(c.inFlight) >= c.cfg.Ceiling.Ceiling() {
		return
	}

	tokens := c.limiter.TokensAt(now)
	delay := minRefillDelay
	if tokens < 1 {
		delay = time.Duration((1 - tokens) / float64(c.limiter.Limit()) * float64(time.Second))
		if delay < minRefillDelay {
			delay = minRefillDelay
		}
	}
	c.refill = time.AfterFunc(delay, c.onRefill)
}

func (c *Controller) onRefill() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refill = nil
	if c.closed {
		return
	}
	c.dispatchLocked(c.cfg.Now())
}

// Notify re-evaluates the queue. The pool calls it whenever the ceiling
// may have changed.
func (c *Controller) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.dispatchLocked(c.cfg.Now())
}

// Release returns a lease. Releasing a lease that is not held is reported
// as an invariant violation.
func (c *Controller) Release(lease *models.Lease) error {
	if lease == nil {
		return invariant.Report("admission.release", "nil lease")
	}

	c.mu.Lock()
	if _, ok := c.inFlight[lease.ID]; !ok {
		if _, reclaimed := c.expired[lease.ID]; reclaimed {
			delete(c.expired, lease.ID)
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrLeaseExpired, lease.ID)
		}
		c.mu.Unlock()
		return invariant.Report("admission.release", "lease %s is not held", lease.ID)
	}
	delete(c.inFlight, lease.ID)
	c.stats.released++
	if !c.closed {
		c.dispatchLocked(c.cfg.Now())
	}
	c.mu.Unlock()

	c.cfg.Metrics.IncAdmission("released")
	return nil
}

// SweepExpired reclaims leases held longer than the max lease age. A
// reclaimed lease means some caller never released it, so each one is
// logged and published as an anomaly.
func (c *Controller) SweepExpired() []models.Lease {
	if c.cfg.MaxLeaseAge <= 0 {
		return nil
	}
	now := c.cfg.Now()

	c.mu.Lock()
	var reclaimed []models.Lease
	for id, lease := range c.inFlight {
		if lease.Age(now) < c.cfg.MaxLeaseAge {
			continue
		}
		delete(c.inFlight, id)
		c.expired[id] = now
		c.stats.expired++
		reclaimed = append(reclaimed, *lease)
	}
	for id, at := range c.expired {
		if now.Sub(at) > 2*c.cfg.MaxLeaseAge {
			delete(c.expired, id)
		}
	}
	if len(reclaimed) > 0 && !c.closed {
		c.dispatchLocked(now)
	}
	c.mu.Unlock()

	for _, lease := range reclaimed {
		logger.WithLease(lease.ID).WithFields(map[string]interface{}{
			"member_id": lease.MemberID,
			"age":       lease.Age(now).String(),
		}).Warn("Reclaiming lease past max age")
		c.cfg.Metrics.IncExpiredLease()
		c.cfg.Publisher.LeaseExpired(lease)
	}
	return reclaimed
}

// Run sweeps expired leases on interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.cfg.MaxLeaseAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepExpired()
		}
	}
}

// Close fails every queued waiter with ErrClosed. Leases already granted
// may still be released.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.refill != nil {
		c.refill.Stop()
		c.refill = nil
	}
	for e := c.queue.Front(); e != nil; e = c.queue.Front() {
		w := c.queue.Remove(e).(*waiter)
		w.elem = nil
		w.ready <- nil
	}
}

func (c *Controller) Stats() models.AdmissionStats {
	now := c.cfg.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.AdmissionStats{
		QueueDepth:      c.queue.Len(),
		QueueCapacity:   c.cfg.QueueCapacity,
		ActiveLeases:    len(c.inFlight),
		Ceiling:         c.cfg.Ceiling.Ceiling(),
		AvailableTokens: c.limiter.TokensAt(now),
		Admitted:        c.stats.admitted,
		Queued:          c.stats.queued,
		Rejected:        c.stats.rejected,
		TimedOut:        c.stats.timedOut,
		Released:        c.stats.released,
		ExpiredLeases:   c.stats.expired,
		PeakActive:      c.stats.peakActive,
		PeakQueue:       c.stats.peakQueue,
	}
	if c.stats.waitCount > 0 {
		s.AvgQueueWait = c.stats.waitTotal / time.Duration(c.stats.waitCount)
	}
	return s
}
