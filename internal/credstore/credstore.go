// Package credstore answers "does this source have usable credentials"
// without performing network calls. The secure storage itself (keychain,
// agent) lives outside this process; the daemon only probes for presence.
package credstore

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/tokligence/quotabar/internal/usage"
)

// Store reports per-source credential presence. Implementations must be
// side-effect free and cheap: the orchestrator calls Eligible once per
// source per refresh cycle.
type Store interface {
	Eligible(src usage.Source) bool
}

// FileStore checks local credential material on disk and in the
// environment.
type FileStore struct {
	claudeCredentialsPath string
	openAIKeyEnv          string
	openAIKeyPath         string
	claudeCodeDataDir     string
}

// Config holds per-source credential locations.
type Config struct {
	ClaudeCredentialsPath string
	OpenAIKeyEnv          string // defaults to OPENAI_API_KEY
	OpenAIKeyPath         string
	ClaudeCodeDataDir     string
}

// New creates a file-based credential store.
func New(cfg Config) *FileStore {
	env := strings.TrimSpace(cfg.OpenAIKeyEnv)
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return &FileStore{
		claudeCredentialsPath: cfg.ClaudeCredentialsPath,
		openAIKeyEnv:          env,
		openAIKeyPath:         cfg.OpenAIKeyPath,
		claudeCodeDataDir:     cfg.ClaudeCodeDataDir,
	}
}

// Eligible implements Store.
func (s *FileStore) Eligible(src usage.Source) bool {
	switch src {
	case usage.SourceClaude:
		return s.claudeEligible()
	case usage.SourceOpenAI:
		return s.openAIEligible()
	case usage.SourceClaudeCode:
		return s.claudeCodeEligible()
	default:
		return false
	}
}

func (s *FileStore) claudeEligible() bool {
	if s.claudeCredentialsPath == "" {
		return false
	}
	data, err := os.ReadFile(s.claudeCredentialsPath)
	if err != nil {
		return false
	}
	var creds struct {
		ClaudeAiOauth struct {
			AccessToken string `json:"accessToken"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return false
	}
	return strings.TrimSpace(creds.ClaudeAiOauth.AccessToken) != ""
}

func (s *FileStore) openAIEligible() bool {
	if strings.TrimSpace(os.Getenv(s.openAIKeyEnv)) != "" {
		return true
	}
	if s.openAIKeyPath == "" {
		return false
	}
	data, err := os.ReadFile(s.openAIKeyPath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) != ""
}

func (s *FileStore) claudeCodeEligible() bool {
	if s.claudeCodeDataDir == "" {
		return false
	}
	info, err := os.Stat(s.claudeCodeDataDir)
	return err == nil && info.IsDir()
}

// StaticStore is a fixed eligibility map, used by tests and by the CLI
// when it has no credential material to probe.
type StaticStore map[usage.Source]bool

// Eligible implements Store.
func (s StaticStore) Eligible(src usage.Source) bool { return s[src] }
