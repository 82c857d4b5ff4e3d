// Package claudecode derives usage windows from the Claude Code session
// logs on local disk. No network: the JSONL transcripts under the data
// directory are the source of truth.
package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tokligence/quotabar/internal/source"
	"github.com/tokligence/quotabar/internal/usage"
)

// Ensure Client implements source.Client.
var _ source.Client = (*Client)(nil)

// Client aggregates token counts from Claude Code JSONL transcripts into a
// rolling session window and a weekly window, measured against the
// configured plan limits.
type Client struct {
	dataDir       string
	sessionWindow time.Duration
	weeklyWindow  time.Duration
	sessionLimit  float64
	weeklyLimit   float64
	now           func() time.Time
}

// Config holds configuration for the Claude Code client.
type Config struct {
	DataDir       string  // required, e.g. ~/.claude/projects
	SessionLimit  float64 // plan token budget for the rolling session window
	WeeklyLimit   float64 // plan token budget for the weekly window
	SessionWindow time.Duration
	WeeklyWindow  time.Duration
}

// New creates a Claude Code log client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, errors.New("claudecode: data dir required")
	}
	sessionWindow := cfg.SessionWindow
	if sessionWindow == 0 {
		sessionWindow = 5 * time.Hour
	}
	weeklyWindow := cfg.WeeklyWindow
	if weeklyWindow == 0 {
		weeklyWindow = 7 * 24 * time.Hour
	}
	return &Client{
		dataDir:       cfg.DataDir,
		sessionWindow: sessionWindow,
		weeklyWindow:  weeklyWindow,
		sessionLimit:  cfg.SessionLimit,
		weeklyLimit:   cfg.WeeklyLimit,
		now:           time.Now,
	}, nil
}

// Source implements source.Client.
func (c *Client) Source() usage.Source { return usage.SourceClaudeCode }

// logLine is one transcript entry. Only assistant messages carry usage.
type logLine struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
	Message   struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func (l logLine) totalTokens() int64 {
	u := l.Message.Usage
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// dedupKey identifies one API response; the same response can be replayed
// into several transcript files.
func (l logLine) dedupKey() string {
	return l.Message.ID + ":" + l.RequestID
}

// Fetch walks the transcript directory and sums token usage into the
// session and weekly windows.
func (c *Client) Fetch(ctx context.Context) (usage.Snapshot, error) {
	if _, err := os.Stat(c.dataDir); err != nil {
		return usage.Snapshot{}, source.NewFetchError(usage.SourceClaudeCode, source.KindNotAuthenticated,
			fmt.Errorf("data dir unavailable: %w", err))
	}

	now := c.now().UTC()
	sessionSince := now.Add(-c.sessionWindow)
	weeklySince := now.Add(-c.weeklyWindow)

	var sessionTokens, weeklyTokens int64
	seen := make(map[string]struct{})

	err := filepath.WalkDir(c.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		// Whole files older than the weekly window cannot contribute.
		if info, err := d.Info(); err == nil && info.ModTime().Before(weeklySince) {
			return nil
		}
		return c.scanFile(path, weeklySince, sessionSince, seen, &sessionTokens, &weeklyTokens)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return usage.Snapshot{}, source.NewFetchError(usage.SourceClaudeCode, source.KindTransientNetwork, err)
		}
		return usage.Snapshot{}, source.NewFetchError(usage.SourceClaudeCode, source.KindDecodeFailed, err)
	}

	windows := map[string]usage.Window{
		usage.WindowSession: {Used: float64(sessionTokens), Total: c.sessionLimit},
		usage.WindowWeekly:  {Used: float64(weeklyTokens), Total: c.weeklyLimit},
	}
	return usage.Snapshot{Source: usage.SourceClaudeCode, Windows: windows, FetchedAt: now}, nil
}

func (c *Client) scanFile(path string, weeklySince, sessionSince time.Time, seen map[string]struct{}, sessionTokens, weeklyTokens *int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line logLine
		// Malformed lines are skipped, not fatal: transcripts are
		// appended by another process and may end mid-write.
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Timestamp.IsZero() || line.Timestamp.Before(weeklySince) {
			continue
		}
		tokens := line.totalTokens()
		if tokens == 0 {
			continue
		}
		if key := line.dedupKey(); key != ":" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		*weeklyTokens += tokens
		if !line.Timestamp.Before(sessionSince) {
			*sessionTokens += tokens
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan transcript %s: %w", path, err)
	}
	return nil
}
