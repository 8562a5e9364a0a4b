package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/egress-gateway/internal/admission"
	"github.com/OldStager01/egress-gateway/internal/gateway"
	"github.com/OldStager01/egress-gateway/internal/invariant"
	"github.com/OldStager01/egress-gateway/internal/pool"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

const memberKey = "pool_member"

// Doer runs work under an admission lease on a pool member.
type Doer interface {
	Do(ctx context.Context, fn gateway.WorkFunc) error
}

// Admission runs the rest of the chain inside Doer.Do. Handlers report the
// outcome through c.Error: no error is a success, a gateway.Neutral error
// leaves the member's health alone, anything else counts as a failure.
func Admission(d Doer) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := d.Do(c.Request.Context(), func(ctx context.Context, member models.MemberHandle) error {
			c.Set(memberKey, member)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			if last := c.Errors.Last(); last != nil {
				return last.Err
			}
			return nil
		})

		if err != nil && !c.Writer.Written() {
			c.AbortWithStatusJSON(StatusFor(err), gin.H{"error": err.Error()})
		}
	}
}

func MemberFromContext(c *gin.Context) (models.MemberHandle, bool) {
	v, ok := c.Get(memberKey)
	if !ok {
		return models.MemberHandle{}, false
	}
	member, ok := v.(models.MemberHandle)
	return member, ok
}

// StatusFor maps gateway errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, admission.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, admission.ErrAdmissionTimedOut),
		errors.Is(err, admission.ErrClosed),
		errors.Is(err, pool.ErrPoolUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, invariant.ErrViolation):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
