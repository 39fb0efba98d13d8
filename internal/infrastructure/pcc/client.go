// Package pcc provides the PointClickCare EHR gateway client used to pull
// patient summaries on demand.
package pcc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/pkg/circuitbreaker"
)

// ErrMissingCredentials is returned when client id or secret is not configured.
var ErrMissingCredentials = errors.New("pcc client credentials are not configured")

// Config holds connection settings for the PCC gateway.
type Config struct {
	// AuthURL is the OAuth2 token service root
	AuthURL string
	// ConsumerURL is the data gateway root
	ConsumerURL string
	// ClientID and ClientSecret are the OAuth2 client credentials
	ClientID     string
	ClientSecret string
	// Timeout bounds a single gateway call
	Timeout time.Duration
}

// Client talks to the PCC gateway with cached OAuth2 client-credentials
// tokens. Calls go through a circuit breaker.
type Client struct {
	config  Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a PCC gateway client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("pcc"), logger)
	if err != nil {
		return nil, fmt.Errorf("create pcc breaker: %w", err)
	}

	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Summary is the patient summary document served by the gateway. The clinical
// sections are kept raw; the sync pipeline owns their interpretation.
type Summary struct {
	SimplID    string          `json:"simpl_id"`
	FacilityID string          `json:"facility_id"`
	SyncedAt   time.Time       `json:"synced_at"`
	Sections   json.RawMessage `json:"sections"`
}

// Summary fetches the patient's current summary document.
func (c *Client) Summary(ctx context.Context, simplID string) (*Summary, error) {
	if simplID == "" {
		return nil, errors.New("simpl id is empty")
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.fetchJSON(ctx, fmt.Sprintf("/api/v1/pcc/%s/summary", url.PathEscape(simplID)))
	})
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal(result.([]byte), &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

// Resource fetches an arbitrary patient resource collection, e.g. "labs" or
// "medications".
func (c *Client) Resource(ctx context.Context, simplID, resource string) (json.RawMessage, error) {
	if simplID == "" {
		return nil, errors.New("simpl id is empty")
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.fetchJSON(ctx, fmt.Sprintf("/api/v1/pcc/%s/%s",
			url.PathEscape(simplID), url.PathEscape(resource)))
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(result.([]byte)), nil
}

func (c *Client) fetchJSON(ctx context.Context, path string) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.ConsumerURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized:
		// Token revoked server-side; drop the cache so the next call re-authenticates
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return nil, fmt.Errorf("gateway rejected token for %s", path)
	case http.StatusNotFound:
		return nil, fmt.Errorf("resource not found: %s", path)
	default:
		return nil, fmt.Errorf("gateway returned status %d for %s", resp.StatusCode, path)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns the cached access token, refreshing it when within a minute
// of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.AuthURL+"/api/v1/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token service returned status %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", errors.New("token service returned empty token")
	}

	c.accessToken = parsed.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	c.logger.Debug("pcc token refreshed", zap.Time("expires", c.tokenExpiry))

	return c.accessToken, nil
}
