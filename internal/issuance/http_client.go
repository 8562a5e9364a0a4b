package issuance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OldStager01/egress-gateway/internal/logger"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

type HTTPClient struct {
	client       *http.Client
	endpoint     string
	apiVersion   string
	peerEndpoint string
	userAgent    string
	now          func() time.Time
}

type HTTPClientConfig struct {
	Endpoint     string
	APIVersion   string
	PeerEndpoint string
	UserAgent    string
	Timeout      time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	peer := cfg.PeerEndpoint
	if peer == "" {
		peer = "engage.cloudflareclient.com:2408"
	}

	return &HTTPClient{
		client:       &http.Client{Timeout: timeout},
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiVersion:   cfg.APIVersion,
		peerEndpoint: peer,
		userAgent:    cfg.UserAgent,
		now:          time.Now,
	}
}

type registrationRequest struct {
	Key          string `json:"key"`
	InstallID    string `json:"install_id"`
	FCMToken     string `json:"fcm_token"`
	WarpEnabled  bool   `json:"warp_enabled"`
	TOS          string `json:"tos"`
	Type         string `json:"type"`
	Locale       string `json:"locale"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

type registrationResponse struct {
	ID     string `json:"id"`
	Token  string `json:"token"`
	Config struct {
		ClientID  string `json:"client_id"`
		Interface struct {
			Addresses struct {
				V4 string `json:"v4"`
				V6 string `json:"v6"`
			} `json:"addresses"`
		} `json:"interface"`
		Peers []struct {
			PublicKey string `json:"public_key"`
			Endpoint  struct {
				Host string `json:"host"`
			} `json:"endpoint"`
		} `json:"peers"`
	} `json:"config"`
}

func (c *HTTPClient) regURL(parts ...string) string {
	return strings.Join(append([]string{c.endpoint, c.apiVersion, "reg"}, parts...), "/")
}

func (c *HTTPClient) Mint(ctx context.Context) (*models.Identity, error) {
	keys, err := generateKeyPair()
	if err != nil {
		return nil, err
	}

	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	body, err := json.Marshal(registrationRequest{
		Key:          keys.public,
		InstallID:    uuid.NewString(),
		FCMToken:     "fcm_token_" + hex[:16],
		WarpEnabled:  true,
		TOS:          c.now().UTC().Format(time.RFC3339),
		Type:         "Linux",
		Locale:       "en_US",
		Model:        "Linux",
		SerialNumber: "SN" + strings.ToUpper(hex[:8]),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.regURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var reg registrationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if reg.ID == "" || reg.Token == "" {
		return nil, fmt.Errorf("%w: missing device id or token", ErrInvalidResponse)
	}

	params := wireGuardParams{
		PrivateKey: keys.private,
		AddressV4:  reg.Config.Interface.Addresses.V4,
		AddressV6:  reg.Config.Interface.Addresses.V6,
		Endpoint:   c.peerEndpoint,
		Reserved:   reservedFromClientID(reg.Config.ClientID),
	}
	if len(reg.Config.Peers) > 0 {
		peer := reg.Config.Peers[0]
		params.PeerPublicKey = peer.PublicKey
		if peer.Endpoint.Host != "" {
			params.Endpoint = peer.Endpoint.Host
		}
	}

	config, err := Credentials{
		DeviceID:   reg.ID,
		Token:      reg.Token,
		PrivateKey: keys.private,
		PublicKey:  keys.public,
		WireGuard:  renderWireGuard(params),
	}.Encode()
	if err != nil {
		return nil, err
	}

	logger.WithField("device_id", reg.ID).Debug("Registered device")

	return &models.Identity{ID: reg.ID, Config: config}, nil
}

func (c *HTTPClient) Probe(ctx context.Context, config string) (models.ProbeResult, error) {
	creds, err := DecodeCredentials(config)
	if err != nil {
		return models.ProbeResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.regURL(creds.DeviceID), nil)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	c.setCommonHeaders(req)

	start := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	result := models.ProbeResult{Latency: c.now().Sub(start)}
	switch {
	case resp.StatusCode == http.StatusOK:
		result.Status = models.ProbeHealthy
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		result.Status = models.ProbeUnhealthy
	default:
		return result, fmt.Errorf("%w: unexpected status code %d", ErrProbeFailed, resp.StatusCode)
	}

	return result, nil
}

func (c *HTTPClient) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("issuance service returned status %d", resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
