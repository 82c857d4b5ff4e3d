package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tokligence/quotabar/internal/cache"
	cachepg "github.com/tokligence/quotabar/internal/cache/postgres"
	cachesqlite "github.com/tokligence/quotabar/internal/cache/sqlite"
	"github.com/tokligence/quotabar/internal/config"
	"github.com/tokligence/quotabar/internal/credstore"
	"github.com/tokligence/quotabar/internal/httpserver"
	"github.com/tokligence/quotabar/internal/logging"
	"github.com/tokligence/quotabar/internal/metrics"
	"github.com/tokligence/quotabar/internal/orchestrator"
	"github.com/tokligence/quotabar/internal/pubstore"
	"github.com/tokligence/quotabar/internal/scheduler"
	"github.com/tokligence/quotabar/internal/source"
	"github.com/tokligence/quotabar/internal/source/claude"
	"github.com/tokligence/quotabar/internal/source/claudecode"
	"github.com/tokligence/quotabar/internal/source/openai"
	"github.com/tokligence/quotabar/internal/version"
)

func main() {
	cfg, err := config.LoadDaemonConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize rotating file logging (default enabled when log_file provided)
	logTarget := strings.TrimSpace(cfg.LogFileDaemon)
	if logTarget != "" {
		rot, err := logging.Open(logTarget, logging.DefaultMaxBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[quotabard] ")
		defer rot.Close()
	}
	log.Printf("starting quotabard %s env=%s", version.FullInfo(), cfg.Environment)

	claudeCreds := cfg.Sources.Claude.CredentialsPath
	if claudeCreds == "" {
		claudeCreds = defaultHomePath(".claude", ".credentials.json")
	}
	claudeCodeDir := cfg.Sources.ClaudeCode.DataDir
	if claudeCodeDir == "" {
		claudeCodeDir = defaultHomePath(".claude", "projects")
	}

	registry := source.NewRegistry()
	claudeClient, err := claude.New(claude.Config{
		CredentialsPath: claudeCreds,
		BaseURL:         cfg.Sources.Claude.BaseURL,
		RequestTimeout:  cfg.FetchTimeout,
	})
	if err != nil {
		log.Fatalf("claude client init: %v", err)
	}
	openaiClient, err := openai.New(openai.Config{
		APIKeyEnv:      cfg.Sources.OpenAI.KeyEnv,
		KeyPath:        cfg.Sources.OpenAI.KeyFile,
		BaseURL:        cfg.Sources.OpenAI.BaseURL,
		RequestTimeout: cfg.FetchTimeout,
	})
	if err != nil {
		log.Fatalf("openai client init: %v", err)
	}
	claudeCodeClient, err := claudecode.New(claudecode.Config{
		DataDir:      claudeCodeDir,
		SessionLimit: cfg.Sources.ClaudeCode.SessionLimit,
		WeeklyLimit:  cfg.Sources.ClaudeCode.WeeklyLimit,
	})
	if err != nil {
		log.Fatalf("claudecode client init: %v", err)
	}
	for _, c := range []source.Client{claudeClient, openaiClient, claudeCodeClient} {
		if err := registry.Register(c); err != nil {
			log.Fatalf("register %s client: %v", c.Source(), err)
		}
	}

	creds := credstore.New(credstore.Config{
		ClaudeCredentialsPath: claudeCreds,
		OpenAIKeyEnv:          cfg.Sources.OpenAI.KeyEnv,
		OpenAIKeyPath:         cfg.Sources.OpenAI.KeyFile,
		ClaudeCodeDataDir:     claudeCodeDir,
	})

	var cacheStore cache.Store
	switch cfg.CacheBackend {
	case "postgres":
		cacheStore, err = cachepg.New(cfg.CacheDSN, cfg.PublishNamespace, 4, 2)
	default:
		cacheStore, err = cachesqlite.New(cfg.CachePath)
	}
	if err != nil {
		log.Fatalf("open metrics cache (%s): %v", cfg.CacheBackend, err)
	}
	defer cacheStore.Close()

	pub, err := pubstore.NewFileStore(cfg.PublishDir, cfg.PublishNamespace)
	if err != nil {
		log.Fatalf("open publication store: %v", err)
	}

	collector := metrics.NewCollector()

	opts := []orchestrator.Option{
		orchestrator.WithCollector(collector),
		orchestrator.WithFetchTimeout(cfg.FetchTimeout),
		orchestrator.WithLogger(log.New(log.Writer(), "[quotabard/orchestrator] ", log.LstdFlags|log.Lmicroseconds)),
	}
	if strings.TrimSpace(cfg.NotifyEndpoint) != "" {
		installID, err := pubstore.InstallID(cfg.PublishDir)
		if err != nil {
			log.Printf("install id unavailable: %v", err)
		}
		notifier := pubstore.NewNotifier(cfg.NotifyEndpoint, installID,
			log.New(log.Writer(), "[quotabard/notify] ", log.LstdFlags|log.Lmicroseconds))
		opts = append(opts, orchestrator.WithNotifier(notifier))
	}

	orch := orchestrator.New(registry, creds, cacheStore, pub, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := scheduler.NewIntervalTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	go orch.Run(ctx, ticker)

	api := httpserver.New(orch, pub, collector,
		log.New(log.Writer(), "[quotabard/http] ", log.LstdFlags|log.Lmicroseconds))
	srv := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("quotabard listening on %s interval=%s cache=%s publish=%s",
			cfg.HTTPAddress, cfg.RefreshInterval, cfg.CacheBackend, cfg.PublishDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func defaultHomePath(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(parts...)
	}
	return filepath.Join(append([]string{home}, parts...)...)
}
