// Package pool owns the upstream egress identities, their health and the
// checkout/checkin protocol used by the request path.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/internal/invariant"
	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

var (
	ErrPoolUnavailable   = errors.New("no eligible pool member")
	ErrMemberNotFound    = errors.New("member not found")
	ErrMemberBusy        = errors.New("member has a lifecycle action in progress")
	ErrDuplicateMember   = errors.New("member already exists")
	ErrInvalidTransition = errors.New("invalid member state transition")
)

// checkoutAttempts bounds how often Checkout re-picks after losing a race
// for the last slot of a member.
const checkoutAttempts = 3

type Config struct {
	PerMemberLimit    int
	FailureThreshold  int
	RecoveryThreshold int
	DrainTimeout      time.Duration
	Publisher         *events.Publisher
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

type Pool struct {
	cfg Config

	mu      sync.RWMutex
	members map[string]*member
	seq     uint64

	bindMu   sync.Mutex
	bindings map[string]*member // lease id -> member

	eligible atomic.Int64

	listenerMu       sync.RWMutex
	onCapacityChange []func()
}

func New(cfg Config) *Pool {
	if cfg.PerMemberLimit <= 0 {
		cfg.PerMemberLimit = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 2
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 45 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Pool{
		cfg:      cfg,
		members:  make(map[string]*member),
		bindings: make(map[string]*member),
	}
}

// OnCapacityChange registers fn to run whenever the concurrency ceiling may
// have changed. fn runs on the caller's goroutine and must not block.
func (p *Pool) OnCapacityChange(fn func()) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	p.onCapacityChange = append(p.onCapacityChange, fn)
}

func (p *Pool) PerMemberLimit() int {
	return p.cfg.PerMemberLimit
}

// Ceiling is the number of leases the pool can serve right now.
func (p *Pool) Ceiling() int {
	return int(p.eligible.Load()) * p.cfg.PerMemberLimit
}

func (p *Pool) newMember(id, config string, state models.HealthState, createdAt time.Time) *member {
	p.seq++
	now := p.cfg.Now()
	if createdAt.IsZero() {
		createdAt = now
	}
	return &member{
		id:             id,
		seq:            p.seq,
		createdAt:      createdAt,
		config:         config,
		state:          state,
		stateChangedAt: now,
	}
}

// Add inserts a member that already has an identity.
func (p *Pool) Add(identity models.Identity, state models.HealthState) error {
	if !state.IsActive() {
		return fmt.Errorf("%w: cannot add member as %s", ErrInvalidTransition, state)
	}

	p.mu.Lock()
	if _, exists := p.members[identity.ID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMember, identity.ID)
	}
	m := p.newMember(identity.ID, identity.Config, state, time.Time{})
	p.members[m.id] = m
	if state.IsEligible() {
		p.eligible.Add(1)
	}
	snap := m.snapshot()
	p.mu.Unlock()

	p.cfg.Publisher.MemberAdded(snap)
	if state.IsEligible() {
		p.notifyCapacity()
	}
	return nil
}

// Reserve adds a Provisioning placeholder marked busy and returns its id.
func (p *Pool) Reserve() string {
	p.mu.Lock()
	m := p.newMember(models.NewUUID(), "", models.HealthProvisioning, time.Time{})
	m.lifecycleBusy = true
	p.members[m.id] = m
	p.mu.Unlock()

	return m.id
}

// CompleteProvisioning attaches the minted identity to a reserved member.
// The member stays Provisioning until its first success.
func (p *Pool) CompleteProvisioning(id string, identity models.Identity) error {
	m, err := p.lookup(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != models.HealthProvisioning || !m.lifecycleBusy {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: complete provisioning of %s member %s", ErrInvalidTransition, state, id)
	}
	m.config = identity.Config
	m.lifecycleBusy = false
	snap := m.snapshot()
	m.mu.Unlock()

	logger.WithMember(id).WithField("identity_id", identity.ID).Info("Member provisioned")
	p.cfg.Publisher.MemberAdded(snap)
	return nil
}

// AbortProvisioning drops a reserved member whose identity could not be minted.
func (p *Pool) AbortProvisioning(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[id]
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == models.HealthProvisioning && m.lifecycleBusy {
		m.setState(models.HealthRemoved, "provisioning aborted", p.cfg.Now())
		delete(p.members, id)
	}
}

func (p *Pool) lookup(id string) (*member, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	return m, nil
}

// pickLRU returns the checkoutable member used least recently.
func (p *Pool) pickLRU() *member {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *member
	var bestUsed time.Time
	for _, m := range p.members {
		m.mu.Lock()
		ok := m.checkoutable(p.cfg.PerMemberLimit)
		used := m.lastUsedAt
		m.mu.Unlock()
		if !ok {
			continue
		}
		if best == nil || used.Before(bestUsed) || (used.Equal(bestUsed) && m.seq < best.seq) {
			best, bestUsed = m, used
		}
	}
	return best
}

// Checkout binds lease to the least recently used eligible member. It never
// blocks waiting for capacity.
func (p *Pool) Checkout(lease *models.Lease) (models.MemberHandle, error) {
	if lease == nil {
		return models.MemberHandle{}, invariant.Report("pool.checkout", "nil lease")
	}

	p.bindMu.Lock()
	_, bound := p.bindings[lease.ID]
	p.bindMu.Unlock()
	if bound {
		return models.MemberHandle{}, invariant.Report("pool.checkout", "lease %s is already bound", lease.ID)
	}

	for attempt := 0; attempt < checkoutAttempts; attempt++ {
		m := p.pickLRU()
		if m == nil {
			break
		}

		m.mu.Lock()
		if !m.checkoutable(p.cfg.PerMemberLimit) {
			m.mu.Unlock()
			continue
		}
		m.usage++
		m.lastUsedAt = p.cfg.Now()
		handle := models.MemberHandle{ID: m.id, Config: m.config}
		m.mu.Unlock()

		p.bindMu.Lock()
		if _, bound := p.bindings[lease.ID]; bound {
			p.bindMu.Unlock()
			m.mu.Lock()
			m.usage--
			m.mu.Unlock()
			return models.MemberHandle{}, invariant.Report("pool.checkout", "lease %s was bound concurrently", lease.ID)
		}
		p.bindings[lease.ID] = m
		p.bindMu.Unlock()

		lease.MemberID = m.id
		p.cfg.Metrics.IncCheckout("ok")
		return handle, nil
	}

	p.cfg.Metrics.IncCheckout("unavailable")
	return models.MemberHandle{}, ErrPoolUnavailable
}

// Checkin returns the member bound to lease and feeds outcome into its health.
func (p *Pool) Checkin(lease *models.Lease, outcome models.Outcome) error {
	if lease == nil {
		return invariant.Report("pool.checkin", "nil lease")
	}

	p.bindMu.Lock()
	m, ok := p.bindings[lease.ID]
	delete(p.bindings, lease.ID)
	p.bindMu.Unlock()
	if !ok {
		return invariant.Report("pool.checkin", "lease %s is not bound to a member", lease.ID)
	}

	now := p.cfg.Now()
	m.mu.Lock()
	if m.usage <= 0 {
		m.mu.Unlock()
		return invariant.Report("pool.checkin", "usage of member %s would go negative", m.id)
	}
	m.usage--

	var t models.MemberTransition
	changed := false
	if outcome == models.OutcomeSuccess || outcome == models.OutcomeFailure {
		to, reason := m.recordOutcome(outcome == models.OutcomeSuccess, p.cfg.FailureThreshold, p.cfg.RecoveryThreshold)
		if to != m.state {
			t = p.transitionLocked(m, to, "request: "+reason, now)
			changed = true
		}
	}
	drained := m.state == models.HealthRetiring && m.usage == 0
	m.mu.Unlock()

	if changed {
		p.emit(t)
	}
	if drained {
		p.remove(m.id, false)
	}
	return nil
}

// RecordProbe applies a probe result. A probe error counts as a failure.
func (p *Pool) RecordProbe(id string, result models.ProbeResult, probeErr error) error {
	m, err := p.lookup(id)
	if err != nil {
		return err
	}

	success := probeErr == nil && result.IsHealthy()
	now := p.cfg.Now()

	m.mu.Lock()
	m.lastProbedAt = now
	m.lastProbeLatency = result.Latency
	var t models.MemberTransition
	changed := false
	if m.state.IsActive() {
		to, reason := m.recordOutcome(success, p.cfg.FailureThreshold, p.cfg.RecoveryThreshold)
		if to != m.state {
			t = p.transitionLocked(m, to, "probe: "+reason, now)
			changed = true
		}
	}
	m.mu.Unlock()

	if changed {
		p.emit(t)
	}
	return nil
}

// transitionLocked changes state and keeps the eligible count in step.
// Callers hold m.mu.
func (p *Pool) transitionLocked(m *member, to models.HealthState, reason string, now time.Time) models.MemberTransition {
	wasEligible := m.state.IsEligible()
	t := m.setState(to, reason, now)
	switch {
	case wasEligible && !to.IsEligible():
		p.eligible.Add(-1)
	case !wasEligible && to.IsEligible():
		p.eligible.Add(1)
	}
	return t
}

func (p *Pool) emit(t models.MemberTransition) {
	logger.WithMember(t.MemberID).WithFields(map[string]interface{}{
		"from":   t.From,
		"to":     t.To,
		"reason": t.Reason,
	}).Info("Member state changed")

	p.cfg.Metrics.IncTransition(t.From, t.To)
	p.cfg.Publisher.MemberStateChanged(t)

	if t.From.IsEligible() != t.To.IsEligible() {
		p.notifyCapacity()
	}
}

func (p *Pool) notifyCapacity() {
	p.listenerMu.RLock()
	listeners := p.onCapacityChange
	p.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// MarkRetiring stops new checkouts to the member. It is removed once idle
// or when the drain timeout expires.
func (p *Pool) MarkRetiring(id, reason string) error {
	m, err := p.lookup(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.lifecycleBusy {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMemberBusy, id)
	}
	if !m.state.IsActive() {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: retire %s member %s", ErrInvalidTransition, state, id)
	}
	t := p.transitionLocked(m, models.HealthRetiring, reason, p.cfg.Now())
	idle := m.usage == 0
	m.mu.Unlock()

	p.emit(t)
	p.cfg.Publisher.MemberRetiring(id, reason)

	if idle {
		p.remove(id, false)
	}
	return nil
}

// Reap removes retiring members that are idle or past the drain timeout.
func (p *Pool) Reap() []models.MemberTransition {
	now := p.cfg.Now()

	type candidate struct {
		id     string
		forced bool
	}
	var candidates []candidate

	p.mu.RLock()
	for _, m := range p.members {
		m.mu.Lock()
		if m.state == models.HealthRetiring {
			switch {
			case m.usage == 0:
				candidates = append(candidates, candidate{id: m.id})
			case now.Sub(m.retiringSince) >= p.cfg.DrainTimeout:
				candidates = append(candidates, candidate{id: m.id, forced: true})
			}
		}
		m.mu.Unlock()
	}
	p.mu.RUnlock()

	var removed []models.MemberTransition
	for _, c := range candidates {
		if t, ok := p.remove(c.id, c.forced); ok {
			removed = append(removed, t)
		}
	}
	return removed
}

func (p *Pool) remove(id string, forced bool) (models.MemberTransition, bool) {
	p.mu.Lock()
	m, ok := p.members[id]
	if !ok {
		p.mu.Unlock()
		return models.MemberTransition{}, false
	}
	m.mu.Lock()
	if m.state != models.HealthRetiring {
		m.mu.Unlock()
		p.mu.Unlock()
		return models.MemberTransition{}, false
	}
	inFlight := m.usage
	reason := "drained"
	if forced {
		reason = "drain timeout"
	}
	t := p.transitionLocked(m, models.HealthRemoved, reason, p.cfg.Now())
	t.Forced = forced
	m.mu.Unlock()
	delete(p.members, id)
	p.mu.Unlock()

	p.cfg.Metrics.IncTransition(t.From, t.To)
	p.cfg.Metrics.IncRetirement(reason, forced)
	if forced {
		logger.WithMember(id).WithField("in_flight", inFlight).Warn("Drain timeout expired, reclaiming member with leases in flight")
		p.cfg.Publisher.DrainForced(t, inFlight)
	} else {
		logger.WithMember(id).Info("Member removed")
	}
	p.cfg.Publisher.MemberRemoved(t)
	return t, true
}

// ProbeTargets lists members the health monitor should probe.
func (p *Pool) ProbeTargets() []models.MemberHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()

	targets := make([]models.MemberHandle, 0, len(p.members))
	for _, m := range p.sortedLocked() {
		m.mu.Lock()
		if m.state.IsActive() && !m.lifecycleBusy && m.config != "" {
			targets = append(targets, models.MemberHandle{ID: m.id, Config: m.config})
		}
		m.mu.Unlock()
	}
	return targets
}

func (p *Pool) sortedLocked() []*member {
	list := make([]*member, 0, len(p.members))
	for _, m := range p.members {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

func (p *Pool) Get(id string) (models.MemberSnapshot, bool) {
	m, err := p.lookup(id)
	if err != nil {
		return models.MemberSnapshot{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), true
}

// Members returns copies of every member in insertion order.
func (p *Pool) Members() []models.MemberSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.MemberSnapshot, 0, len(p.members))
	for _, m := range p.sortedLocked() {
		m.mu.Lock()
		out = append(out, m.snapshot())
		m.mu.Unlock()
	}
	return out
}

func (p *Pool) Counts() models.PoolCounts {
	var c models.PoolCounts
	for _, m := range p.Members() {
		switch m.State {
		case models.HealthProvisioning:
			c.Provisioning++
		case models.HealthHealthy:
			c.Healthy++
		case models.HealthDegraded:
			c.Degraded++
		case models.HealthUnhealthy:
			c.Unhealthy++
		case models.HealthRetiring:
			c.Retiring++
		}
	}
	return c
}

// ActiveLeases is the number of leases currently bound to members.
func (p *Pool) ActiveLeases() int {
	p.bindMu.Lock()
	defer p.bindMu.Unlock()
	return len(p.bindings)
}

// Records returns the warm-start form of every member with an identity.
func (p *Pool) Records() []models.MemberRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	records := make([]models.MemberRecord, 0, len(p.members))
	for _, m := range p.sortedLocked() {
		m.mu.Lock()
		if m.config != "" && m.state.IsActive() {
			records = append(records, models.MemberRecord{
				ID:        m.id,
				Config:    m.config,
				Health:    m.state,
				CreatedAt: m.createdAt,
			})
		}
		m.mu.Unlock()
	}
	return records
}

// Restore re-adds persisted members as Provisioning so they are trusted
// only after a fresh successful probe. It returns how many were restored.
func (p *Pool) Restore(records []models.MemberRecord) int {
	restored := 0
	for _, rec := range records {
		if !rec.IsRestorable() {
			continue
		}
		p.mu.Lock()
		if _, exists := p.members[rec.ID]; exists {
			p.mu.Unlock()
			continue
		}
		p.members[rec.ID] = p.newMember(rec.ID, rec.Config, models.HealthProvisioning, rec.CreatedAt)
		p.mu.Unlock()
		restored++
	}
	return restored
}
