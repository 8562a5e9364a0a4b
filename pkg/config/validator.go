package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func (c *Config) Validate() error {
	var errs []error

	// App validation
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}

	validModes := map[string]bool{"development": true, "production": true, "test": true}
	if !validModes[c.App.Mode] {
		errs = append(errs, fmt.Errorf("app.mode must be one of: development, production, test"))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		errs = append(errs, fmt.Errorf("app.log_level must be one of: debug, info, warn, error"))
	}

	errs = append(errs, c.Tier.validate()...)

	// Admission validation
	if c.Admission.QueueTimeout <= 0 {
		errs = append(errs, errors.New("admission.queue_timeout must be positive"))
	}
	if c.Admission.MaxLeaseAge > 0 && c.Admission.SweepInterval <= 0 {
		errs = append(errs, errors.New("admission.sweep_interval must be positive when max_lease_age is set"))
	}

	if c.Health.MaxConcurrentProbes <= 0 {
		errs = append(errs, errors.New("health.max_concurrent_probes must be positive"))
	}

	// Scaler validation
	if c.Scaler.Interval <= 0 {
		errs = append(errs, errors.New("scaler.interval must be positive"))
	}
	if c.Scaler.MaxScaleStep <= 0 {
		errs = append(errs, errors.New("scaler.max_scale_step must be positive"))
	}
	if c.Scaler.MaxConcurrentProvisions <= 0 {
		errs = append(errs, errors.New("scaler.max_concurrent_provisions must be positive"))
	}
	if c.Scaler.MaxRejectRate <= 0 || c.Scaler.MaxRejectRate > 1 {
		errs = append(errs, errors.New("scaler.max_reject_rate must be in (0, 1]"))
	}
	if c.Scaler.MinHealthyFraction < 0 || c.Scaler.MinHealthyFraction > 1 {
		errs = append(errs, errors.New("scaler.min_healthy_fraction must be in [0, 1]"))
	}

	// Issuance validation
	validIssuers := map[string]bool{"http": true, "mock": true}
	if !validIssuers[c.Issuance.Type] {
		errs = append(errs, errors.New("issuance.type must be one of: http, mock"))
	}
	if c.Issuance.Type == "http" && c.Issuance.Endpoint == "" {
		errs = append(errs, errors.New("issuance.endpoint is required for http issuance"))
	}
	if c.Issuance.RateLimit <= 0 {
		errs = append(errs, errors.New("issuance.rate_limit must be positive"))
	}
	if c.Issuance.RetryAttempts <= 0 {
		errs = append(errs, errors.New("issuance.retry_attempts must be positive"))
	}

	// Snapshot validation
	switch c.Snapshot.Type {
	case "none":
	case "file":
		if c.Snapshot.Path == "" {
			errs = append(errs, errors.New("snapshot.path is required for file snapshots"))
		}
	case "postgres":
		if !c.Database.Enabled {
			errs = append(errs, errors.New("snapshot.type postgres requires database.enabled"))
		}
	default:
		errs = append(errs, errors.New("snapshot.type must be one of: none, file, postgres"))
	}

	// Database validation
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, errors.New("database.port must be between 1 and 65535"))
		}
		if c.Database.MaxConnections <= 0 {
			errs = append(errs, errors.New("database.max_connections must be positive"))
		}
	}
	if c.Events.Persist && !c.Database.Enabled {
		errs = append(errs, errors.New("events.persist requires database.enabled"))
	}

	// API validation
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}

func (t TierConfig) validate() []error {
	var errs []error

	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []error{fmt.Errorf("tier: %w", err)}
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("tier.%s failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
	}

	if t.UnhealthyGrace < 0 {
		errs = append(errs, errors.New("tier.unhealthy_grace must not be negative"))
	}

	return errs
}

// Validate checks a standalone tier, as used by tests and the status API.
func (t TierConfig) Validate() error {
	if errs := t.validate(); len(errs) > 0 {
		return fmt.Errorf("tier validation failed: %v", errs)
	}
	return nil
}
