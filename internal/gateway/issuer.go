package gateway

import (
	"fmt"

	"github.com/OldStager01/egress-gateway/internal/issuance"
	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/internal/resilience"
	"github.com/OldStager01/egress-gateway/pkg/config"
)

// NewIssuer builds the issuance client selected by cfg.Type, wrapped with
// throttling, retries and the circuit breaker.
func NewIssuer(cfg config.IssuanceConfig, m *metrics.Metrics) (*issuance.ResilientClient, error) {
	var client issuance.Client
	switch cfg.Type {
	case "http", "":
		client = issuance.NewHTTPClient(issuance.HTTPClientConfig{
			Endpoint:     cfg.Endpoint,
			APIVersion:   cfg.APIVersion,
			PeerEndpoint: cfg.PeerEndpoint,
			UserAgent:    cfg.UserAgent,
			Timeout:      cfg.Timeout,
		})
	case "mock":
		client = issuance.NewMockClient()
	default:
		return nil, fmt.Errorf("unknown issuance type: %s", cfg.Type)
	}

	if m == nil {
		m = metrics.Get()
	}
	m.SetCircuitBreakerState("issuance", int(resilience.StateClosed))

	return issuance.NewResilientClient(issuance.ResilientClientConfig{
		Client:           client,
		RateLimit:        cfg.RateLimit,
		Burst:            cfg.Burst,
		ProbeRateLimit:   cfg.ProbeRateLimit,
		RetryAttempts:    cfg.RetryAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		MaxFailures:      cfg.CircuitBreaker.MaxFailures,
		BreakerTimeout:   cfg.CircuitBreaker.Timeout,
		HalfOpenRequests: cfg.CircuitBreaker.HalfOpenRequests,
		OnStateChange: func(name string, from, to resilience.State) {
			m.SetCircuitBreakerState(name, int(to))
			logger.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}), nil
}
