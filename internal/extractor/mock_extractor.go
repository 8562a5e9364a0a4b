package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

// MockExtractor answers from a fixed table. Unknown videos are not found.
type MockExtractor struct {
	mu     sync.Mutex
	videos map[string]json.RawMessage
	errs   map[string]error
	calls  []string
}

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{
		videos: make(map[string]json.RawMessage),
		errs:   make(map[string]error),
	}
}

func (m *MockExtractor) SetVideo(videoID string, body json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[videoID] = body
}

// FailMember makes every extraction through memberID return err.
func (m *MockExtractor) FailMember(memberID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[memberID] = err
}

// Calls returns the member ids used, in call order.
func (m *MockExtractor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockExtractor) Extract(ctx context.Context, member models.MemberHandle, videoID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, member.ID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := m.errs[member.ID]; ok {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	body, ok := m.videos[videoID]
	if !ok {
		return nil, ErrVideoNotFound
	}
	return body, nil
}
