// Package gateway wires admission, the identity pool, health monitoring and
// scaling into one object that the request path and the API share.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/internal/admission"
	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/internal/health"
	"github.com/OldStager01/egress-gateway/internal/invariant"
	"github.com/OldStager01/egress-gateway/internal/issuance"
	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/pool"
	"github.com/OldStager01/egress-gateway/internal/scaler"
	"github.com/OldStager01/egress-gateway/internal/snapshot"
	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

// ErrNeutralOutcome marks a failed unit of work that says nothing about the
// member it ran on, e.g. a video that does not exist.
var ErrNeutralOutcome = errors.New("failure not attributable to the member")

// Neutral wraps err so Do checks the member in without touching its health.
func Neutral(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNeutralOutcome, err)
}

// WorkFunc performs one unit of upstream work through member.
type WorkFunc func(ctx context.Context, member models.MemberHandle) error

type Options struct {
	Issuer issuance.Client
	Store  snapshot.Store
	// Recorder persists lifecycle events; nil disables persistence.
	Recorder events.Recorder
	// Samples receives a pool reading every snapshot interval; nil disables it.
	Samples SampleStore
	Metrics *metrics.Metrics
}

type SampleStore interface {
	Insert(ctx context.Context, s *models.PoolSample) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Gateway struct {
	config      *config.Config
	eventBus    *events.EventBus
	eventLogger *events.EventLogger
	publisher   *events.Publisher
	metrics     *metrics.Metrics
	issuer      issuance.Client
	store       snapshot.Store
	samples     SampleStore

	pool      *pool.Pool
	admission *admission.Controller
	monitor   *health.Monitor
	scaler    *scaler.Scaler

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func New(cfg *config.Config, opts Options) (*Gateway, error) {
	if opts.Issuer == nil {
		return nil, errors.New("an issuance client is required")
	}
	if opts.Store == nil {
		opts.Store = snapshot.NopStore{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}

	tier := cfg.Tier
	ctx, cancel := context.WithCancel(context.Background())

	eventBus := events.NewEventBus(cfg.Events.BufferSize)

	// Subscribe event logger to all events
	eventLogger := events.NewEventLogger(opts.Recorder, eventBus.SubscribeAll())
	publisher := events.NewPublisher(eventBus)

	p := pool.New(pool.Config{
		PerMemberLimit:    tier.PerMemberLimit,
		FailureThreshold:  tier.FailureThreshold,
		RecoveryThreshold: tier.RecoveryThreshold,
		DrainTimeout:      tier.DrainTimeout,
		Publisher:         publisher,
		Metrics:           opts.Metrics,
	})

	ctrl := admission.New(admission.Config{
		RateLimit:      tier.RateLimit,
		BucketCapacity: tier.BucketCapacity(),
		QueueCapacity:  tier.QueueCapacity,
		DefaultTimeout: cfg.Admission.QueueTimeout,
		MaxLeaseAge:    cfg.Admission.MaxLeaseAge,
		Ceiling:        p,
		Publisher:      publisher,
		Metrics:        opts.Metrics,
	})
	p.OnCapacityChange(ctrl.Notify)

	monitor := health.New(health.Config{
		Interval:      tier.ProbeInterval,
		Timeout:       tier.ProbeTimeout,
		MaxConcurrent: cfg.Health.MaxConcurrentProbes,
		Pool:          p,
		Prober:        opts.Issuer,
		Metrics:       opts.Metrics,
	})

	sc := cfg.Scaler
	s := scaler.New(scaler.Config{
		Interval:       sc.Interval,
		UnhealthyGrace: tier.UnhealthyGrace,
		Pool:           p,
		Admission:      ctrl,
		Policy: scaler.NewPolicy(scaler.PolicyConfig{
			MinMembers:              tier.MinMembers,
			TargetMembers:           tier.TargetMembers,
			MaxMembers:              tier.MaxMembers,
			PerMemberLimit:          tier.PerMemberLimit,
			CooldownPeriod:          sc.CooldownPeriod,
			ScaleDownCooldownPeriod: sc.ScaleDownCooldownPeriod,
			ScaleUpQueueDepth:       sc.ScaleUpQueueDepth,
			MaxRejectRate:           sc.MaxRejectRate,
			MinHealthyFraction:      sc.MinHealthyFraction,
			LowLoadSamples:          sc.LowLoadSamples,
			MaxScaleStep:            sc.MaxScaleStep,
			MaxScaleUpsPerHour:      sc.MaxScaleUpsPerHour,
		}),
		Window: scaler.NewLoadWindow(sc.WindowSamples, sc.LowLoadUtilization),
		Provisioner: scaler.NewProvisioner(scaler.ProvisionerConfig{
			Client:        opts.Issuer,
			Pool:          p,
			MaxConcurrent: sc.MaxConcurrentProvisions,
			Timeout:       sc.ProvisionTimeout,
			Activate:      monitor.ProbeMember,
			Publisher:     publisher,
			Metrics:       opts.Metrics,
		}),
		Transitions: eventBus.Subscribe(models.EventTypeMemberStateChanged),
		Publisher:   publisher,
		Metrics:     opts.Metrics,
	})

	return &Gateway{
		config:      cfg,
		eventBus:    eventBus,
		eventLogger: eventLogger,
		publisher:   publisher,
		metrics:     opts.Metrics,
		issuer:      opts.Issuer,
		store:       opts.Store,
		samples:     opts.Samples,
		pool:        p,
		admission:   ctrl,
		monitor:     monitor,
		scaler:      s,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	logger.Info("Gateway starting")
	invariant.SetObserver(g.publisher.InvariantViolation)
	g.eventLogger.Start()

	if n, err := g.restore(); err != nil {
		logger.Warnf("Warm start skipped: %v", err)
	} else if n > 0 {
		logger.Infof("Restored %d members from %s snapshot", n, g.store.Name())
	}

	if err := g.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	if err := g.scaler.Start(); err != nil {
		g.monitor.Stop()
		return fmt.Errorf("failed to start scaler: %w", err)
	}

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.admission.Run(g.ctx, g.config.Admission.SweepInterval)
	}()
	go func() {
		defer g.wg.Done()
		g.snapshotLoop()
	}()

	g.running = true
	logger.WithFields(map[string]interface{}{
		"tier":        g.config.Tier.Name,
		"max_ceiling": g.config.Tier.MaxCeiling(),
		"rate_limit":  g.config.Tier.RateLimit,
	}).Info("Gateway started")
	return nil
}

func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.mu.Unlock()

	logger.Info("Gateway stopping")

	g.scaler.Stop()
	g.monitor.Stop()
	g.admission.Close()

	g.cancel()
	g.wg.Wait()

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := g.saveSnapshot(saveCtx); err != nil {
		logger.Errorf("Failed to save member snapshot: %v", err)
	}
	cancel()

	g.eventLogger.Stop()
	g.eventBus.Close()
	invariant.SetObserver(nil)

	if err := g.issuer.Close(); err != nil {
		logger.Warnf("Failed to close issuance client: %v", err)
	}

	logger.Info("Gateway stopped")
}

func (g *Gateway) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Do runs fn under an admission lease on a checked-out member. The member
// is checked in and the lease released on every exit path, including a
// panic in fn.
func (g *Gateway) Do(ctx context.Context, fn WorkFunc) (err error) {
	lease, err := g.admission.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		rerr := g.admission.Release(lease)
		if rerr != nil && !errors.Is(rerr, admission.ErrLeaseExpired) && err == nil {
			err = rerr
		}
	}()

	member, err := g.pool.Checkout(lease)
	if err != nil {
		return err
	}

	outcome := models.OutcomeFailure
	defer func() {
		if cerr := g.pool.Checkin(lease, outcome); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx = logger.WithLeaseID(ctx, lease.ID)
	err = fn(ctx, member)
	outcome = classify(err)
	return err
}

func classify(err error) models.Outcome {
	switch {
	case err == nil:
		return models.OutcomeSuccess
	case errors.Is(err, ErrNeutralOutcome), errors.Is(err, context.Canceled):
		return models.OutcomeNeutral
	default:
		return models.OutcomeFailure
	}
}

// Snapshot is a read-only view of the gateway for observers.
func (g *Gateway) Snapshot(includeMembers bool) models.PoolSnapshot {
	counts := g.pool.Counts()
	s := models.PoolSnapshot{
		Timestamp:      time.Now(),
		Tier:           g.config.Tier.Name,
		PerMemberLimit: g.pool.PerMemberLimit(),
		Ceiling:        g.pool.Ceiling(),
		Counts:         counts,
		ByState:        counts.ByState(),
		Admission:      g.admission.Stats(),
		DesiredMembers: g.scaler.Desired(),
	}
	if includeMembers {
		s.Members = g.pool.Members()
	}
	s.Recommendations = Recommend(s, g.config.Tier.MinMembers, g.config.Tier.TargetMembers)
	return s
}

func (g *Gateway) Members() []models.MemberSnapshot {
	return g.pool.Members()
}

// Ready reports whether at least one request could be admitted.
func (g *Gateway) Ready() bool {
	return g.IsRunning() && g.pool.Ceiling() > 0
}

// Reconcile forces a scaling cycle outside the regular interval.
func (g *Gateway) Reconcile() *models.ScalingDecision {
	return g.scaler.Reconcile()
}

// ProbeAll forces a health cycle and returns the number of members probed.
func (g *Gateway) ProbeAll(ctx context.Context) int {
	return g.monitor.RunOnce(ctx)
}

func (g *Gateway) SubscribeEvents(eventType models.EventType) <-chan *models.Event {
	return g.eventBus.Subscribe(eventType)
}

func (g *Gateway) SubscribeAllEvents() <-chan *models.Event {
	return g.eventBus.SubscribeAll()
}

func (g *Gateway) restore() (int, error) {
	ctx, cancel := context.WithTimeout(g.ctx, 10*time.Second)
	defer cancel()

	records, err := g.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return g.pool.Restore(records), nil
}

func (g *Gateway) saveSnapshot(ctx context.Context) error {
	return g.store.Save(ctx, g.pool.Records())
}

func (g *Gateway) snapshotLoop() {
	interval := g.config.Snapshot.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// loop-local, so no locking
	belowMin := false

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			snap := g.Snapshot(false)
			g.metrics.RecordSnapshot(snap)
			belowMin = g.checkMinimum(snap, belowMin)

			ctx, cancel := context.WithTimeout(g.ctx, 10*time.Second)
			if err := g.saveSnapshot(ctx); err != nil {
				logger.Warnf("Failed to save member snapshot: %v", err)
				g.publisher.Error("member snapshot save failed", err)
			}
			if g.samples != nil {
				g.recordSample(ctx, snap)
			}
			cancel()
		}
	}
}

// checkMinimum publishes an alert when eligible members drop below the tier
// minimum and again when they recover. It returns the new below-minimum state.
func (g *Gateway) checkMinimum(snap models.PoolSnapshot, wasBelow bool) bool {
	eligible := snap.Counts.Eligible()
	below := eligible < g.config.Tier.MinMembers
	data := map[string]interface{}{
		"eligible":    eligible,
		"min_members": g.config.Tier.MinMembers,
		"ceiling":     snap.Ceiling,
	}

	switch {
	case below && !wasBelow:
		g.publisher.Alert(models.SeverityCritical,
			fmt.Sprintf("Eligible members %d below minimum %d", eligible, g.config.Tier.MinMembers), data)
	case !below && wasBelow:
		g.publisher.Alert(models.SeverityInfo,
			fmt.Sprintf("Eligible members back at %d", eligible), data)
	}
	return below
}

func (g *Gateway) recordSample(ctx context.Context, snap models.PoolSnapshot) {
	if err := g.samples.Insert(ctx, models.NewPoolSample(snap)); err != nil {
		logger.Warnf("Failed to record pool sample: %v", err)
		g.publisher.Error("pool sample insert failed", err)
		return
	}

	retention := g.config.Events.SampleRetention
	if retention <= 0 {
		return
	}
	if n, err := g.samples.DeleteBefore(ctx, snap.Timestamp.Add(-retention)); err != nil {
		logger.Warnf("Failed to prune pool samples: %v", err)
	} else if n > 0 {
		logger.Debugf("Pruned %d pool samples", n)
	}
}
