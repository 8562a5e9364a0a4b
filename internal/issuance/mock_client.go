package issuance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/OldStager01/egress-gateway/pkg/models"
)

const mockConfigPrefix = "mock:"

// MockClient mints fake identities. It backs the mock issuance mode and
// tests.
type MockClient struct {
	mu           sync.Mutex
	mintCalls    int
	probeCalls   int
	mintFailures int
	mintErr      error
	mintDelay    time.Duration
	probeErr     error
	unhealthy    map[string]bool
	latency      time.Duration
}

func NewMockClient() *MockClient {
	return &MockClient{
		unhealthy: make(map[string]bool),
		latency:   5 * time.Millisecond,
	}
}

// MockConfig is the config blob the mock client mints for id.
func MockConfig(id string) string {
	return mockConfigPrefix + id
}

// FailNextMints makes the next n Mint calls return err.
func (c *MockClient) FailNextMints(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mintFailures = n
	c.mintErr = err
}

func (c *MockClient) SetMintDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mintDelay = d
}

func (c *MockClient) SetProbeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeErr = err
}

func (c *MockClient) SetUnhealthy(id string, unhealthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unhealthy[id] = unhealthy
}

func (c *MockClient) MintCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mintCalls
}

func (c *MockClient) ProbeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probeCalls
}

func (c *MockClient) Mint(ctx context.Context) (*models.Identity, error) {
	c.mu.Lock()
	c.mintCalls++
	delay := c.mintDelay
	var err error
	if c.mintFailures > 0 {
		c.mintFailures--
		err = c.mintErr
	}
	c.mu.Unlock()

	if delay > 0 {
		if serr := sleepContext(ctx, delay); serr != nil {
			return nil, serr
		}
	}
	if err != nil {
		return nil, err
	}

	id := "mock-" + models.NewUUID()
	return &models.Identity{ID: id, Config: MockConfig(id)}, nil
}

func (c *MockClient) Probe(ctx context.Context, config string) (models.ProbeResult, error) {
	c.mu.Lock()
	c.probeCalls++
	probeErr := c.probeErr
	id := strings.TrimPrefix(config, mockConfigPrefix)
	unhealthy := c.unhealthy[id]
	latency := c.latency
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return models.ProbeResult{}, err
	}
	if probeErr != nil {
		return models.ProbeResult{}, probeErr
	}
	if unhealthy {
		return models.ProbeResult{Status: models.ProbeUnhealthy, Latency: latency}, nil
	}
	return models.ProbeResult{Status: models.ProbeHealthy, Latency: latency}, nil
}

func (c *MockClient) Close() error {
	return nil
}
