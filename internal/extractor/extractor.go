// Package extractor forwards video lookups to the extraction service,
// routing the upstream call through a pool member's identity.
package extractor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

var (
	ErrExtractionFailed = errors.New("extraction failed")
	ErrTimeout          = errors.New("extraction timeout")
	ErrVideoNotFound    = errors.New("video not found")
	ErrInvalidResponse  = errors.New("invalid response from extraction service")
)

// Extractor resolves a video through the given member.
type Extractor interface {
	Extract(ctx context.Context, member models.MemberHandle, videoID string) (json.RawMessage, error)
}
