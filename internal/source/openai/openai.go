// Package openai fetches usage windows from the OpenAI/Codex rate-limit
// endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tokligence/quotabar/internal/source"
	"github.com/tokligence/quotabar/internal/usage"
)

// Ensure Client implements source.Client.
var _ source.Client = (*Client)(nil)

// Client queries the usage endpoint with an API key resolved at fetch time
// from the environment or a key file, in that order.
type Client struct {
	apiKeyEnv  string
	keyPath    string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the OpenAI usage client.
type Config struct {
	APIKeyEnv      string // optional, defaults to OPENAI_API_KEY
	KeyPath        string // optional fallback key file
	BaseURL        string // optional, defaults to https://api.openai.com
	RequestTimeout time.Duration
}

// New creates an OpenAI usage client.
func New(cfg Config) (*Client, error) {
	env := strings.TrimSpace(cfg.APIKeyEnv)
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKeyEnv:  env,
		keyPath:    strings.TrimSpace(cfg.KeyPath),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Source implements source.Client.
func (c *Client) Source() usage.Source { return usage.SourceOpenAI }

type rateLimitResponse struct {
	Primary   *rateLimitWindow `json:"primary"`
	Secondary *rateLimitWindow `json:"secondary"`
}

type rateLimitWindow struct {
	UsedPercent   float64 `json:"used_percent"`
	WindowMinutes int     `json:"window_minutes"`
	ResetsSeconds int64   `json:"resets_in_seconds"`
}

// Fetch queries the rate-limit endpoint. The primary window maps to the
// session window, the secondary (the longer rolling window) to weekly.
func (c *Client) Fetch(ctx context.Context) (usage.Snapshot, error) {
	key, err := c.loadKey()
	if err != nil {
		return usage.Snapshot{}, source.NewFetchError(usage.SourceOpenAI, source.KindNotAuthenticated, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/usage/rate_limits", nil)
	if err != nil {
		return usage.Snapshot{}, source.NewFetchError(usage.SourceOpenAI, source.KindTransientNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return usage.Snapshot{}, source.ClassifyTransport(usage.SourceOpenAI, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return usage.Snapshot{}, source.NewFetchError(usage.SourceOpenAI, source.KindTransientNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return usage.Snapshot{}, source.ClassifyStatus(usage.SourceOpenAI, resp.StatusCode, body)
	}

	var parsed rateLimitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		fe := source.NewFetchError(usage.SourceOpenAI, source.KindDecodeFailed, fmt.Errorf("parse rate limits: %w", err))
		fe.Body = source.TruncateBody(body)
		return usage.Snapshot{}, fe
	}
	if parsed.Primary == nil && parsed.Secondary == nil {
		fe := source.NewFetchError(usage.SourceOpenAI, source.KindDecodeFailed, errors.New("rate limit response has no windows"))
		fe.Body = source.TruncateBody(body)
		return usage.Snapshot{}, fe
	}

	now := time.Now().UTC()
	windows := make(map[string]usage.Window)
	if w := parsed.Primary; w != nil {
		windows[usage.WindowSession] = toWindow(now, w)
	}
	if w := parsed.Secondary; w != nil {
		windows[usage.WindowWeekly] = toWindow(now, w)
	}

	return usage.Snapshot{Source: usage.SourceOpenAI, Windows: windows, FetchedAt: now}, nil
}

func toWindow(now time.Time, w *rateLimitWindow) usage.Window {
	out := usage.Window{Used: w.UsedPercent, Total: 100}
	if w.ResetsSeconds > 0 {
		reset := now.Add(time.Duration(w.ResetsSeconds) * time.Second)
		out.ResetsAt = &reset
	}
	return out
}

func (c *Client) loadKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv(c.apiKeyEnv)); key != "" {
		return key, nil
	}
	if c.keyPath != "" {
		data, err := os.ReadFile(c.keyPath)
		if err != nil {
			return "", fmt.Errorf("read key file: %w", err)
		}
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no API key in $%s or key file", c.apiKeyEnv)
}
