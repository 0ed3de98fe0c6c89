package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/flowd-io/flowd/internal/engine"
	"github.com/flowd-io/flowd/internal/expressions"
	"github.com/flowd-io/flowd/internal/handlers"
	"github.com/flowd-io/flowd/internal/llm"
	"github.com/flowd-io/flowd/internal/logging"
	"github.com/flowd-io/flowd/internal/mcp"
	"github.com/flowd-io/flowd/internal/scheduler"
	"github.com/flowd-io/flowd/internal/secrets"
	"github.com/flowd-io/flowd/internal/server"
	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/internal/streaming"
	"github.com/flowd-io/flowd/internal/validation"
	flowdmcp "github.com/flowd-io/flowd/pkg/mcp"
)

const shutdownGrace = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	settings := flag.String("settings", settingsPath(), "path to settings.json")
	mcpMode := flag.Bool("mcp", false, "serve the MCP tool surface over stdio instead of HTTP")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg := loadConfig(*settings)
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *mcpMode); err != nil {
		logger.Error("flowd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger, mcpMode bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	var vault secrets.Vault
	if cfg.VaultKey != "" {
		salt, err := loadOrCreateSalt(filepath.Join(flowdDir(), "vault.salt"))
		if err != nil {
			return fmt.Errorf("vault salt: %w", err)
		}
		v, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultKey,
			Salt:       salt,
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
		vault = v
	} else {
		logger.Warn("no vault key configured, secret references will fail to resolve")
	}

	engines, err := expressions.NewRegistry()
	if err != nil {
		return fmt.Errorf("expression engines: %w", err)
	}
	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return fmt.Errorf("workflow validator: %w", err)
	}

	hub := streaming.NewMemoryHub()
	recorder := store.NewRecorder(st, hub, logger)

	var llmOpts []llm.OpenAIOption
	if cfg.LLMAPIKey != "" {
		llmOpts = append(llmOpts, llm.WithAPIKey(cfg.LLMAPIKey))
	}
	if cfg.LLMBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLMBaseURL))
	}

	tools := mcp.NewHub(logger)
	defer tools.Close()
	tools.ConnectAll(ctx, mcp.Settings{Servers: cfg.MCPServers})

	registry := handlers.NewRegistry(handlers.Deps{
		Resolver:  expressions.NewResolver(vault, logger),
		Engines:   engines,
		Validator: validator,
		LLM:       llm.NewOpenAIClient(llmOpts...),
		Tools:     tools,
		Logger:    logger,
	})

	eng := engine.NewEngine(st, recorder, registry, engine.Config{PoolSize: cfg.PoolSize}, logger)
	defer eng.Shutdown()

	sched := scheduler.NewScheduler(st, eng, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	if mcpMode {
		srv := flowdmcp.NewFlowdServer(flowdmcp.FlowdServerDeps{
			Engine:    eng,
			Store:     st,
			Validator: validator,
			Hub:       hub,
			Logger:    logger,
		})
		return srv.Serve(ctx)
	}

	api := server.NewServer(server.Deps{
		Store:     st,
		Engine:    eng,
		Hub:       hub,
		Validator: validator,
		Logger:    logger,
	})
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowd listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var inner slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		inner = slog.NewTextHandler(os.Stderr, opts)
	} else {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadOrCreateSalt keeps the PBKDF2 salt next to the database so the
// same passphrase decrypts existing secrets across restarts.
func loadOrCreateSalt(path string) ([]byte, error) {
	if salt, err := os.ReadFile(path); err == nil && len(salt) >= 16 {
		return salt, nil
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}
