// Command ralph-orchestrator runs the full webhook-to-merge-decision
// pipeline: it serves the inbound GitHub webhook over HTTP and drains the
// resulting run queue on a background consumer (spec §4.8).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/khenson99/ralph-loop-orchestrator-sub000/internal/config"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/internal/tracing"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/boundary"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/datastore"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/orchestrator"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers/anthropic"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers/bedrock"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers/hosting"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the orchestrator's YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("orchestrator exited with error", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User, cfg.Database.Password, cfg.Database.SSLMode)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	defer redisClient.Close()

	tracerProvider, shutdownTracing, err := tracing.NewTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("build tracer provider: %w", err)
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	repo := datastore.NewRepository(db, logger)
	dedupe := webhook.NewDedupeCache(redisClient, 24*time.Hour)
	queue := orchestrator.NewQueue(256)

	handler := webhook.NewHandler([]byte(cfg.Webhook.Secret), repo, queue, dedupe, logger)
	router := webhook.NewRouter(handler, repo)

	bnd := boundary.New(tracerProvider.Tracer("ralph-orchestrator"), logger)

	hostingClient := hosting.New(cfg.Providers.GitHubAppToken, http.DefaultClient)
	specGen := anthropic.New(cfg.Providers.AnthropicAPIKey, cfg.Providers.AnthropicModel, 4096)
	executor, err := bedrock.New(ctx, cfg.Providers.BedrockRegion, cfg.Providers.BedrockModelID)
	if err != nil {
		return fmt.Errorf("build bedrock executor: %w", err)
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.MaxAttemptsPerTask = cfg.Orchestrator.MaxAttemptsPerTask
	svc := orchestrator.New(queue, repo, hostingClient, specGen, executor, bnd, logger, orchCfg)

	go svc.Run(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	serverErrs := make(chan error, 1)
	go func() {
		logger.Info("orchestrator listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrs:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
