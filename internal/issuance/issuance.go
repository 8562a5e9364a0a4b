// Package issuance talks to the external service that mints and validates
// upstream egress identities.
package issuance

import (
	"context"
	"errors"
	"fmt"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

var (
	ErrProvisioningFailed = errors.New("provisioning failed")
	ErrProbeFailed        = errors.New("probe failed")
	ErrRateLimited        = errors.New("issuance service rate limited the request")
	ErrRejected           = errors.New("issuance service rejected the request")
	ErrInvalidResponse    = errors.New("invalid response from issuance service")
	ErrInvalidConfig      = errors.New("invalid identity config")
)

// Client mints identities and checks whether existing ones still work.
type Client interface {
	Mint(ctx context.Context) (*models.Identity, error)
	// Probe returns an error when the health of the identity could not be
	// determined; callers treat that as a failed probe.
	Probe(ctx context.Context, config string) (models.ProbeResult, error)
	Close() error
}

// ProvisioningError is returned once every mint attempt has failed.
type ProvisioningError struct {
	Attempts int
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrProvisioningFailed, e.Attempts, e.Err)
}

func (e *ProvisioningError) Unwrap() []error {
	return []error{ErrProvisioningFailed, e.Err}
}

// IsRetryable reports whether a failed call may succeed if repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrRejected) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	return true
}
