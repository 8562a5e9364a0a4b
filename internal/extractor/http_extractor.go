package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

// maxResponseBytes caps how much of an extraction response is buffered.
const maxResponseBytes = 8 << 20

type HTTPExtractor struct {
	client   *http.Client
	endpoint string
}

type HTTPExtractorConfig struct {
	Endpoint string
	Timeout  time.Duration
}

func NewHTTPExtractor(cfg HTTPExtractorConfig) *HTTPExtractor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 40 * time.Second
	}

	return &HTTPExtractor{
		client: &http.Client{
			Timeout: timeout,
		},
		endpoint: cfg.Endpoint,
	}
}

type extractRequest struct {
	VideoID     string `json:"video_id"`
	MemberID    string `json:"member_id"`
	ProxyConfig string `json:"proxy_config"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, member models.MemberHandle, videoID string) (json.RawMessage, error) {
	payload, err := json.Marshal(extractRequest{
		VideoID:     videoID,
		MemberID:    member.ID,
		ProxyConfig: member.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	url := e.endpoint + "/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	logger.FromContext(ctx).WithField("member_id", member.ID).Debugf("Extracting %s via %s", videoID, url)

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrVideoNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrExtractionFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrExtractionFailed, err)
	}
	if !json.Valid(body) {
		return nil, ErrInvalidResponse
	}

	return json.RawMessage(body), nil
}
