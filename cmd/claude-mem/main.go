// Package main provides the CLI entry point for claude-mem, the
// persistent-memory worker for coding-assistant sessions.
//
// claude-mem ingests tool-use events and summaries from a coding
// assistant, runs an LLM over them to extract structured observations,
// indexes those observations for semantic search, and serves the result
// back over HTTP.
//
// # Basic Usage
//
// Start the server:
//
//	claude-mem serve --config settings.json
//
// # Environment Variables
//
//   - CLAUDE_MEM_CONFIG: path to the settings file (default: ./settings.json)
//   - CLAUDE_MEM_HOST, CLAUDE_MEM_PORT: override server.host / server.port
//   - CLAUDE_MEM_LOG_LEVEL: override logging.level
//   - CLAUDE_MEM_SKIP_TOOLS: comma-separated tool names to skip on ingest
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebastienvg/claude-mem/internal/agentregistry"
	"github.com/sebastienvg/claude-mem/internal/config"
	"github.com/sebastienvg/claude-mem/internal/httpapi"
	"github.com/sebastienvg/claude-mem/internal/llm"
	"github.com/sebastienvg/claude-mem/internal/maintenance"
	"github.com/sebastienvg/claude-mem/internal/modes"
	"github.com/sebastienvg/claude-mem/internal/observability"
	"github.com/sebastienvg/claude-mem/internal/ratelimit"
	"github.com/sebastienvg/claude-mem/internal/respproc"
	"github.com/sebastienvg/claude-mem/internal/search"
	"github.com/sebastienvg/claude-mem/internal/sessionmgr"
	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/internal/vectorindex"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "claude-mem",
		Short: "claude-mem - persistent memory worker for coding assistant sessions",
	}
	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("claude-mem %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("CLAUDE_MEM_CONFIG"); env != "" {
		return env
	}
	return "./settings.json"
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the claude-mem server",
		Long: `Start the claude-mem server.

The server will:
1. Load configuration from the specified settings file
2. Open the embedded store and apply pending migrations
3. Initialize the vector index, LLM providers, and session manager
4. Start the periodic maintenance reaper
5. Serve the HTTP API until SIGINT/SIGTERM, then shut down gracefully`,
		Example: `  # Start with the default ./settings.json
  claude-mem serve

  # Start with a specific settings file
  claude-mem serve --config /etc/claude-mem/settings.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to settings file (default ./settings.json)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dailyLog, err := observability.NewDailyFile(cfg.Logging.Dir, nil)
	if err != nil {
		return fmt.Errorf("open log directory: %w", err)
	}
	defer dailyLog.Close()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: "json",
		Output: io.MultiWriter(os.Stdout, dailyLog),
	})
	slog.SetDefault(logger.Slog())

	metrics := observability.NewMetrics(nil)

	logger.Info(ctx, "starting claude-mem",
		"version", version, "commit", commit, "config", configPath,
		"host", cfg.Server.Host, "port", cfg.Server.Port)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(ctx, store.Config{Path: filepath.Join(cfg.DataDir, "claude-mem.db")})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	index, err := vectorindex.New(ctx, vectorIndexConfig(cfg.VectorIndex), st, logger.Slog())
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}

	primary, err := newProvider(ctx, cfg.LLM, cfg.LLM.Primary)
	if err != nil {
		return fmt.Errorf("init primary llm provider %q: %w", cfg.LLM.Primary, err)
	}
	var fallback llm.Provider
	if cfg.LLM.Fallback != "" {
		fallback, err = newProvider(ctx, cfg.LLM, cfg.LLM.Fallback)
		if err != nil {
			return fmt.Errorf("init fallback llm provider %q: %w", cfg.LLM.Fallback, err)
		}
	}

	agents := agentregistry.New(st, agentregistry.Config{
		MaxAttempts:    cfg.Agents.MaxFailedAttempts,
		LockoutSeconds: int64(cfg.Agents.LockoutSeconds),
		ExpiryDays:     cfg.Agents.KeyExpiryDays,
	})
	searchEngine := search.New(st, index, func() int64 { return time.Now().UnixMilli() })

	router := httpapi.New(httpapi.Config{
		Store:         st,
		Agents:        agents,
		Search:        searchEngine,
		RegisterLimit: ratelimit.Config{RequestsPerSecond: cfg.RateLimit.Register.RequestsPerSecond, BurstSize: cfg.RateLimit.Register.BurstSize, Enabled: true},
		VerifyLimit:   ratelimit.Config{RequestsPerSecond: cfg.RateLimit.Verify.RequestsPerSecond, BurstSize: cfg.RateLimit.Verify.BurstSize, Enabled: true},
		RemoteOrder:   cfg.ProjectIdentity.RemoteOrder,
		SkipTools:     cfg.Tools.SkipTools,
		Logger:        logger.Slog(),
		ProviderReachable: func(ctx context.Context) bool {
			cb, ok := primary.(interface{ Allow() bool })
			return !ok || cb.Allow()
		},
	})

	byProject, err := modes.LoadAll(filepath.Join(cfg.DataDir, "modes"))
	if err != nil {
		return fmt.Errorf("load modes: %w", err)
	}

	processor := respproc.New(st, index, logger.Slog(), router.ContextFor)
	manager := sessionmgr.New(st, primary, fallback, processor, sessionmgr.NewTemplatePromptBuilder(byProject), sessionmgr.Config{})
	router.SetSessions(manager)

	reaper := maintenance.New(st, maintenance.Config{
		IntervalSeconds:     cfg.Maintenance.IntervalSeconds,
		StaleProcessingSecs: cfg.Maintenance.StaleProcessingSecs,
		AliasMaxAgeDays:     cfg.Maintenance.AliasMaxAgeDays,
	}, nil, logger.Slog(), metrics)
	reaper.Start(ctx)
	defer reaper.Stop()

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Mux(),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	logger.Info(ctx, "claude-mem server started", "addr", httpSrv.Addr)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received, initiating graceful shutdown")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server shutdown error", "error", err)
	}

	logger.Info(ctx, "claude-mem server stopped gracefully")
	return nil
}

func vectorIndexConfig(c config.VectorIndexConfig) vectorindex.Config {
	var embedder vectorindex.Embedder
	if e, err := vectorindex.NewEmbedder(vectorindex.EmbedderConfig{
		Provider:  c.Embedder.Provider,
		APIKey:    c.Embedder.APIKey,
		BaseURL:   c.Embedder.BaseURL,
		Model:     c.Embedder.Model,
		OllamaURL: c.Embedder.OllamaURL,
	}); err == nil {
		embedder = e
	}

	return vectorindex.Config{
		Mode: vectorindex.Mode(c.Mode),
		HTTP: vectorindex.HTTPConfig{
			DSN:       c.URL,
			Dimension: c.Dimension,
			Embedder:  embedder,
			Metric:    c.Metric,
		},
		Embedded: vectorindex.EmbeddedConfig{
			Path:     c.Path,
			Embedder: embedder,
		},
	}
}

// newProvider constructs the LLM provider named by key ("anthropic",
// "gemini", "ollama", "openrouter"), wrapping it in a CircuitBreaker so
// SessionManager's fallback hop (spec.md §4.E step 5) engages on repeated
// failures rather than only on a single recoverable error.
func newProvider(ctx context.Context, cfg config.LLMConfig, key string) (llm.Provider, error) {
	pc := cfg.Providers[key]

	var provider llm.Provider
	var err error
	switch key {
	case "anthropic":
		provider, err = llm.NewClaudeProvider(llm.ClaudeConfig{
			APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel, MaxTokens: pc.MaxTokens,
		})
	case "gemini":
		provider, err = llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey: pc.APIKey, DefaultModel: pc.DefaultModel,
		})
	case "ollama":
		provider, err = llm.NewOllamaProvider(llm.OllamaConfig{
			BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel, Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		})
	case "openrouter":
		provider, err = llm.NewOpenRouterProvider(llm.OpenRouterConfig{
			APIKey: pc.APIKey, DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", key)
	}
	if err != nil {
		return nil, err
	}

	return llm.NewCircuitBreaker(key, provider, llm.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		OpenDuration:     cfg.CircuitBreaker.OpenDuration(),
	}), nil
}
