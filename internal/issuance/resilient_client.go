package issuance

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/resilience"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

// ResilientClient throttles calls to the issuance service, retries minting
// with exponential backoff and stops minting while the service keeps failing.
type ResilientClient struct {
	client         Client
	mintLimiter    *rate.Limiter
	probeLimiter   *rate.Limiter
	circuitBreaker *resilience.CircuitBreaker
	retryAttempts  int
	baseDelay      time.Duration
	maxDelay       time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

type ResilientClientConfig struct {
	Client           Client
	RateLimit        float64
	Burst            int
	ProbeRateLimit   float64
	ProbeBurst       int
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	MaxFailures      int
	BreakerTimeout   time.Duration
	HalfOpenRequests int
	OnStateChange    func(name string, from, to resilience.State)
}

func NewResilientClient(cfg ResilientClientConfig) *ResilientClient {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.ProbeRateLimit <= 0 {
		cfg.ProbeRateLimit = 5
	}
	if cfg.ProbeBurst <= 0 {
		cfg.ProbeBurst = int(cfg.ProbeRateLimit)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}

	return &ResilientClient{
		client:       cfg.Client,
		mintLimiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		probeLimiter: rate.NewLimiter(rate.Limit(cfg.ProbeRateLimit), cfg.ProbeBurst),
		circuitBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:          "issuance",
			MaxFailures:   cfg.MaxFailures,
			Timeout:       cfg.BreakerTimeout,
			HalfOpenMax:   cfg.HalfOpenRequests,
			IsFailure:     IsRetryable,
			OnStateChange: cfg.OnStateChange,
		}),
		retryAttempts: cfg.RetryAttempts,
		baseDelay:     cfg.RetryBaseDelay,
		maxDelay:      cfg.RetryMaxDelay,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the delay before retry number attempt (1-based), with up
// to 20% jitter.
func (c *ResilientClient) Backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt && delay < c.maxDelay; i++ {
		delay *= 2
	}
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/5 + 1))
	return delay - jitter
}

func (c *ResilientClient) Mint(ctx context.Context) (*models.Identity, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if err := c.mintLimiter.Wait(ctx); err != nil {
			return nil, &ProvisioningError{Attempts: attempt - 1, Err: err}
		}

		var identity *models.Identity
		err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			identity, err = c.client.Mint(ctx)
			return err
		})
		if err == nil {
			return identity, nil
		}

		lastErr = err
		logger.WithField("attempt", attempt).Warnf(
			"Mint attempt %d/%d failed: %v", attempt, c.retryAttempts, err,
		)

		if !IsRetryable(err) || attempt == c.retryAttempts {
			return nil, &ProvisioningError{Attempts: attempt, Err: lastErr}
		}
		if err := c.sleep(ctx, c.Backoff(attempt)); err != nil {
			return nil, &ProvisioningError{Attempts: attempt, Err: err}
		}
	}

	return nil, &ProvisioningError{Attempts: c.retryAttempts, Err: lastErr}
}

// Probe is attempted once; health hysteresis absorbs transient failures.
func (c *ResilientClient) Probe(ctx context.Context, config string) (models.ProbeResult, error) {
	if err := c.probeLimiter.Wait(ctx); err != nil {
		return models.ProbeResult{}, err
	}
	return c.client.Probe(ctx, config)
}

func (c *ResilientClient) Close() error {
	return c.client.Close()
}

func (c *ResilientClient) CircuitStats() resilience.Stats {
	return c.circuitBreaker.Stats()
}
