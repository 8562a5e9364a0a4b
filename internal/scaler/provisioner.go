package scaler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/OldStager01/egress-gateway/internal/events"
	"github.com/OldStager01/egress-gateway/internal/issuance"
	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/pool"
)

// ProvisionResult contains the result of a provisioning batch.
type ProvisionResult struct {
	Requested int
	Added     []string
	Failed    []string
}

func (r ProvisionResult) PartialSuccess() bool {
	return len(r.Added) > 0 && len(r.Failed) > 0
}

type ProvisionerConfig struct {
	Client        issuance.Client
	Pool          *pool.Pool
	MaxConcurrent int
	Timeout       time.Duration
	// Activate probes a freshly minted member so it can become Healthy
	// without waiting for the next health cycle.
	Activate  func(ctx context.Context, id string) error
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
}

// Provisioner mints identities for reserved pool members. Batches run one
// at a time, each bounded to MaxConcurrent mints.
type Provisioner struct {
	config   ProvisionerConfig
	batchMu  sync.Mutex
	inFlight atomic.Int64
}

func NewProvisioner(cfg ProvisionerConfig) *Provisioner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	return &Provisioner{config: cfg}
}

// InFlight is the number of reserved members still waiting for a mint.
func (p *Provisioner) InFlight() int {
	return int(p.inFlight.Load())
}

// Provision mints an identity for each reserved member id. Failed members
// are dropped from the pool.
func (p *Provisioner) Provision(ctx context.Context, ids []string) ProvisionResult {
	p.inFlight.Add(int64(len(ids)))

	p.batchMu.Lock()
	defer p.batchMu.Unlock()

	result := ProvisionResult{Requested: len(ids)}
	var mu sync.Mutex

	workers := concpool.New().WithMaxGoroutines(p.config.MaxConcurrent)
	for _, id := range ids {
		workers.Go(func() {
			defer p.inFlight.Add(-1)
			err := p.provisionOne(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, id)
				return
			}
			result.Added = append(result.Added, id)
		})
	}
	workers.Wait()

	return result
}

func (p *Provisioner) provisionOne(ctx context.Context, id string) error {
	entry := logger.WithMember(id)
	p.config.Publisher.ProvisioningStarted(id)

	mintCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	identity, err := p.config.Client.Mint(mintCtx)
	cancel()
	if err == nil && identity == nil {
		err = issuance.ErrInvalidResponse
	}
	if err != nil {
		p.config.Pool.AbortProvisioning(id)
		p.config.Metrics.IncProvisioning("failed")

		attempts := 1
		var perr *issuance.ProvisioningError
		if errors.As(err, &perr) {
			attempts = perr.Attempts
		}
		entry.WithError(err).WithField("attempts", attempts).Warn("Provisioning failed")
		p.config.Publisher.ProvisioningFailed(id, attempts, err)
		return err
	}

	if err := p.config.Pool.CompleteProvisioning(id, *identity); err != nil {
		p.config.Pool.AbortProvisioning(id)
		p.config.Metrics.IncProvisioning("failed")
		entry.WithError(err).Error("Failed to attach minted identity")
		return err
	}
	p.config.Metrics.IncProvisioning("success")

	if p.config.Activate != nil {
		if err := p.config.Activate(ctx, id); err != nil {
			entry.WithError(err).Debug("Activation probe skipped")
		}
	}
	return nil
}
