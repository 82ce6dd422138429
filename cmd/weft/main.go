// Weft orchestration server: loads agent and MCP configuration, wires
// the engine, and serves the run API over HTTP/SSE.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aperture-ai/weft/pkg/api"
	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/database"
	"github.com/aperture-ai/weft/pkg/engine"
	"github.com/aperture-ai/weft/pkg/lang"
	"github.com/aperture-ai/weft/pkg/llm"
	"github.com/aperture-ai/weft/pkg/mcp"
	"github.com/aperture-ai/weft/pkg/prompt"
	"github.com/aperture-ai/weft/pkg/runs"
	"github.com/aperture-ai/weft/pkg/services"
	"github.com/aperture-ai/weft/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Weft",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (optional, runs work without persistence)
	var dbClient *database.Client
	var stepService *services.StepService
	var repo engine.Repository
	if getEnv("DB_DISABLED", "") == "" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		stepService = services.NewStepService(dbClient)
		repo = stepService
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Info("Persistence disabled, step records will be discarded")
	}

	// 3. LLM client
	providerName := cfg.DefaultLLMProvider
	if providerName == "" {
		if names := cfg.LLMProviders.Names(); len(names) == 1 {
			providerName = names[0]
		}
	}
	providerCfg, err := cfg.LLMProviders.Get(providerName)
	if err != nil {
		slog.Error("Default LLM provider not configured", "provider", providerName, "error", err)
		os.Exit(1)
	}
	llmClient, err := llm.NewOpenAIClient(providerCfg)
	if err != nil {
		slog.Error("Failed to create LLM client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = llmClient.Close() }()

	// 4. MCP session manager + engine
	prompts := prompt.NewBuilder()
	analyst := mcp.NewAnalyst(llmClient, prompts)
	broker, err := mcp.NewSessionManager(cfg.MCPServers, mcp.EnvCredentialSource{}, analyst,
		cfg.Engine.MaxOpenSessions, cfg.Engine.InvokeTimeout)
	if err != nil {
		slog.Error("Failed to create MCP session manager", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	eng := engine.New(cfg.Engine, llmClient, broker, analyst, repo)
	manager := runs.NewManager(eng, cfg.Engine.MaxConcurrentRuns)
	resolver := lang.NewResolver(llmClient)

	// 5. HTTP server
	server := api.NewServer(cfg.Agents, manager, stepService, dbClient, resolver)
	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 6. Graceful shutdown: stop accepting requests, cancel active runs,
	// drain their streams.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	manager.Shutdown()
	slog.Info("Shutdown complete")
}
