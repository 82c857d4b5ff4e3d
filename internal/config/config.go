package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/quotabar.ini"
	sourcesFile      = "config/sources.yaml"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// DaemonConfig describes runtime options for the daemon and CLI.
type DaemonConfig struct {
	Environment string
	// HTTP listen address for the daemon API.
	HTTPAddress string
	// Interval between scheduled refresh cycles.
	RefreshInterval time.Duration
	// Per-fetch timeout applied to each upstream request.
	FetchTimeout time.Duration
	// Cache backend: "sqlite" or "postgres".
	CacheBackend string
	CachePath    string
	CacheDSN     string
	// Publication store directory and namespace.
	PublishDir       string
	PublishNamespace string
	// Optional endpoint pinged after each successful publication.
	NotifyEndpoint string
	// Backward-compatible base log file; used if specific files unset
	LogFile string
	// Separate log files for CLI and daemon (preferred)
	LogFileCLI    string
	LogFileDaemon string
	LogLevel      string
	// Per-source settings merged from config/sources.yaml.
	Sources SourcesConfig
}

// SourcesConfig carries per-source overrides loaded from sources.yaml.
type SourcesConfig struct {
	Claude     ClaudeSource     `yaml:"claude"`
	OpenAI     OpenAISource     `yaml:"openai"`
	ClaudeCode ClaudeCodeSource `yaml:"claudecode"`
}

// ClaudeSource configures the Claude usage API client.
type ClaudeSource struct {
	BaseURL         string `yaml:"base_url,omitempty"`
	CredentialsPath string `yaml:"credentials_path,omitempty"`
}

// OpenAISource configures the OpenAI rate limits client.
type OpenAISource struct {
	BaseURL string `yaml:"base_url,omitempty"`
	KeyEnv  string `yaml:"key_env,omitempty"`
	KeyFile string `yaml:"key_file,omitempty"`
}

// ClaudeCodeSource configures the local session log scanner.
type ClaudeCodeSource struct {
	DataDir      string  `yaml:"data_dir,omitempty"`
	SessionLimit float64 `yaml:"session_limit,omitempty"`
	WeeklyLimit  float64 `yaml:"weekly_limit,omitempty"`
}

// LoadDaemonConfig reads the current environment and loads the matching config file.
// Lookup order per key: process env (QUOTABAR_*), environment ini, setting.ini defaults.
func LoadDaemonConfig(root string) (DaemonConfig, error) {
	s, err := loadSettings(root)
	if err != nil {
		return DaemonConfig{}, err
	}
	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return DaemonConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := DaemonConfig{
		Environment:      s.Environment,
		HTTPAddress:      firstNonEmpty(os.Getenv("QUOTABAR_HTTP_ADDRESS"), merged["http_address"], ":8185"),
		CacheBackend:     firstNonEmpty(os.Getenv("QUOTABAR_CACHE_BACKEND"), merged["cache_backend"], "sqlite"),
		CachePath:        firstNonEmpty(os.Getenv("QUOTABAR_CACHE_PATH"), merged["cache_path"], DefaultCachePath()),
		CacheDSN:         firstNonEmpty(os.Getenv("QUOTABAR_CACHE_DSN"), merged["cache_dsn"]),
		PublishDir:       firstNonEmpty(os.Getenv("QUOTABAR_PUBLISH_DIR"), merged["publish_dir"], DefaultPublishDir()),
		PublishNamespace: firstNonEmpty(merged["publish_namespace"], "quotabar"),
		NotifyEndpoint:   firstNonEmpty(os.Getenv("QUOTABAR_NOTIFY_ENDPOINT"), merged["notify_endpoint"]),
		LogFile:          firstNonEmpty(os.Getenv("QUOTABAR_LOG_FILE"), merged["log_file"]),
		LogLevel:         firstNonEmpty(merged["log_level"], "info"),
	}
	cfg.LogFileCLI = firstNonEmpty(os.Getenv("QUOTABAR_LOG_FILE_CLI"), os.Getenv("QUOTABAR_LOG_FILE"), merged["log_file_cli"], merged["log_file"])
	cfg.LogFileDaemon = firstNonEmpty(os.Getenv("QUOTABAR_LOG_FILE_DAEMON"), os.Getenv("QUOTABAR_LOG_FILE"), merged["log_file_daemon"], merged["log_file"])

	cfg.RefreshInterval = 15 * time.Minute
	if v := firstNonEmpty(os.Getenv("QUOTABAR_REFRESH_INTERVAL"), merged["refresh_interval"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("invalid refresh_interval %q: %w", v, err)
		}
		if dur <= 0 {
			return DaemonConfig{}, fmt.Errorf("refresh_interval must be positive, got %q", v)
		}
		cfg.RefreshInterval = dur
	}
	cfg.FetchTimeout = 60 * time.Second
	if v := firstNonEmpty(os.Getenv("QUOTABAR_FETCH_TIMEOUT"), merged["fetch_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("invalid fetch_timeout %q: %w", v, err)
		}
		cfg.FetchTimeout = dur
	}

	switch cfg.CacheBackend {
	case "sqlite", "postgres":
	default:
		return DaemonConfig{}, fmt.Errorf("unknown cache_backend %q", cfg.CacheBackend)
	}
	if cfg.CacheBackend == "postgres" && strings.TrimSpace(cfg.CacheDSN) == "" {
		return DaemonConfig{}, errors.New("cache_backend postgres requires cache_dsn")
	}

	sources, err := loadSources(filepath.Join(root, sourcesFile))
	if err != nil {
		return DaemonConfig{}, err
	}
	cfg.Sources = sources
	if v := firstNonEmpty(os.Getenv("QUOTABAR_CLAUDE_CREDENTIALS"), merged["claude_credentials"]); v != "" {
		cfg.Sources.Claude.CredentialsPath = v
	}
	if v := firstNonEmpty(os.Getenv("QUOTABAR_OPENAI_KEY_FILE"), merged["openai_key_file"]); v != "" {
		cfg.Sources.OpenAI.KeyFile = v
	}
	if v := firstNonEmpty(os.Getenv("QUOTABAR_CLAUDECODE_DATA_DIR"), merged["claudecode_data_dir"]); v != "" {
		cfg.Sources.ClaudeCode.DataDir = v
	}
	if v := merged["claudecode_session_limit"]; v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("invalid claudecode_session_limit %q: %w", v, err)
		}
		cfg.Sources.ClaudeCode.SessionLimit = parsed
	}
	if v := merged["claudecode_weekly_limit"]; v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("invalid claudecode_weekly_limit %q: %w", v, err)
		}
		cfg.Sources.ClaudeCode.WeeklyLimit = parsed
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultCachePath places the sqlite cache under the user's home directory.
func DefaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "quotabar-cache.db"
	}
	return filepath.Join(home, ".quotabar", "cache.db")
}

// DefaultPublishDir places the shared publication document under the user's home directory.
func DefaultPublishDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".quotabar")
}
