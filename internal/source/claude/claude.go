// Package claude fetches usage windows from the Claude OAuth usage endpoint.
package claude

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

// Client reads OAuth credentials from the local credentials file and queries
// the usage endpoint. Stateless per call: credentials are re-read on every
// fetch so a re-login is picked up without restarting the daemon.
type Client struct {
	credentialsPath string
	baseURL         string
	httpClient      *http.Client
}

// Config holds configuration for the Claude usage client.
type Config struct {
	CredentialsPath string // required, JSON credentials file
	BaseURL         string // optional, defaults to https://api.anthropic.com
	RequestTimeout  time.Duration
}

// New creates a Claude usage client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.CredentialsPath) == "" {
		return nil, errors.New("claude: credentials path required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		credentialsPath: cfg.CredentialsPath,
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: timeout},
	}, nil
}

// Source implements source.Client.
func (c *Client) Source() usage.Source { return usage.SourceClaude }

type credentialsFile struct {
	ClaudeAiOauth struct {
		AccessToken string `json:"accessToken"`
		ExpiresAt   int64  `json:"expiresAt"`
	} `json:"claudeAiOauth"`
}

type usageResponse struct {
	FiveHour     *usageWindow `json:"five_hour"`
	SevenDay     *usageWindow `json:"seven_day"`
	SevenDayOpus *usageWindow `json:"seven_day_opus"`
}

type usageWindow struct {
	Utilization float64    `json:"utilization"`
	ResetsAt    *time.Time `json:"resets_at"`
}

// Fetch queries the OAuth usage endpoint and maps the reported utilization
// percentages onto the canonical window names.
func (c *Client) Fetch(ctx context.Context) (usage.Snapshot, error) {
	token, err := c.loadToken()
	if err != nil {
		return usage.Snapshot{}, source.NewFetchError(usage.SourceClaude, source.KindNotAuthenticated, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/oauth/usage", nil)
	if err != nil {
		return usage.Snapshot{}, source.NewFetchError(usage.SourceClaude, source.KindTransientNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return usage.Snapshot{}, source.ClassifyTransport(usage.SourceClaude, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return usage.Snapshot{}, source.NewFetchError(usage.SourceClaude, source.KindTransientNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return usage.Snapshot{}, source.ClassifyStatus(usage.SourceClaude, resp.StatusCode, body)
	}

	var parsed usageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		fe := source.NewFetchError(usage.SourceClaude, source.KindDecodeFailed, fmt.Errorf("parse usage response: %w", err))
		fe.Body = source.TruncateBody(body)
		return usage.Snapshot{}, fe
	}
	if parsed.FiveHour == nil && parsed.SevenDay == nil {
		fe := source.NewFetchError(usage.SourceClaude, source.KindDecodeFailed, errors.New("usage response has no windows"))
		fe.Body = source.TruncateBody(body)
		return usage.Snapshot{}, fe
	}

	windows := make(map[string]usage.Window)
	if w := parsed.FiveHour; w != nil {
		windows[usage.WindowSession] = usage.Window{Used: w.Utilization, Total: 100, ResetsAt: w.ResetsAt}
	}
	if w := parsed.SevenDay; w != nil {
		windows[usage.WindowWeekly] = usage.Window{Used: w.Utilization, Total: 100, ResetsAt: w.ResetsAt}
	}
	if w := parsed.SevenDayOpus; w != nil {
		windows[usage.WindowSecondary] = usage.Window{Used: w.Utilization, Total: 100, ResetsAt: w.ResetsAt}
	}

	return usage.Snapshot{
		Source:    usage.SourceClaude,
		Windows:   windows,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) loadToken() (string, error) {
	data, err := os.ReadFile(c.credentialsPath)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	token := strings.TrimSpace(creds.ClaudeAiOauth.AccessToken)
	if token == "" {
		return "", errors.New("credentials file has no access token")
	}
	if exp := creds.ClaudeAiOauth.ExpiresAt; exp > 0 && time.UnixMilli(exp).Before(time.Now()) {
		return "", errors.New("access token expired")
	}
	return token, nil
}
