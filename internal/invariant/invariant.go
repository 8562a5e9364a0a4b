// Package invariant reports broken bookkeeping: double releases, unbound
// checkins and the like. Violations are logged loudly, counted and returned
// to the caller; they never panic.
package invariant

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/internal/metrics"
)

var ErrViolation = errors.New("invariant violation")

type Violation struct {
	Op     string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", v.Op, v.Detail)
}

func (v *Violation) Unwrap() error {
	return ErrViolation
}

// Observer is notified of every violation after it has been logged.
type Observer func(op, detail string)

var observer atomic.Pointer[Observer]

func SetObserver(fn Observer) {
	if fn == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&fn)
}

// Report records a violation and returns it as an error.
func Report(op, format string, args ...interface{}) error {
	v := &Violation{Op: op, Detail: fmt.Sprintf(format, args...)}

	logger.WithFields(map[string]interface{}{
		"op":        v.Op,
		"invariant": true,
	}).Error(v.Detail)
	metrics.Get().IncInvariantViolation(op)

	if fn := observer.Load(); fn != nil {
		(*fn)(v.Op, v.Detail)
	}

	return v
}
