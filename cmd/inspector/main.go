package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heimdex/heimdex-inspect/internal/analyzer"
	"github.com/heimdex/heimdex-inspect/internal/api"
	"github.com/heimdex/heimdex-inspect/internal/config"
	"github.com/heimdex/heimdex-inspect/internal/db"
	"github.com/heimdex/heimdex-inspect/internal/detect/rekognition"
	"github.com/heimdex/heimdex-inspect/internal/detect/sidecar"
	"github.com/heimdex/heimdex-inspect/internal/frames"
	"github.com/heimdex/heimdex-inspect/internal/inspection"
	"github.com/heimdex/heimdex-inspect/internal/logging"
	"github.com/heimdex/heimdex-inspect/internal/pipeline"
	"github.com/heimdex/heimdex-inspect/internal/recommend"
	"github.com/heimdex/heimdex-inspect/internal/retention"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting heimdex inspector", "version", config.Version, "commit", config.GitCommit, "data_dir", cfg.DataDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeDB, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	authToken, err := ensureAuthToken(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   HEIMDEX INSPECTOR                       ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", logging.SanitizeToken(authToken))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	logger.Debug("api auth token", "token", authToken)

	store := frames.NewStore(cfg.DataDir())
	service := inspection.NewService(repo, store, cfg.CoachingRetention(), logging.WithComponent(logger, "inspection"))

	providers, infos, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	rec, err := buildRecommender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	an := analyzer.New(analyzer.Config{
		MaxPeopleInKitchen: cfg.MaxPeopleInKitchen(),
		Concurrency:        cfg.FrameConcurrency(),
	}, providers, logging.WithComponent(logger, "analyzer"))

	pipe := pipeline.New(frames.NewProvider(repo), an, rec, repo, logging.WithComponent(logger, "pipeline"))

	if _, err := service.RecoverInterrupted(ctx, cfg.RetryDelay()); err != nil {
		logger.Error("failed to recover interrupted inspections", "error", err)
	}

	runner := inspection.NewRunner(repo, pipe, inspection.RunnerConfig{
		PollInterval: cfg.PollInterval(),
		RetryDelay:   cfg.RetryDelay(),
		MaxAttempts:  cfg.MaxAttempts(),
	}, logging.WithComponent(logger, "runner"))
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Start(ctx)
	}()

	janitor, err := retention.NewJanitor(repo, store, cfg.RetentionSchedule(), logger)
	if err != nil {
		return err
	}
	janitor.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Service:     service,
		Config:      repo,
		Runner:      runner,
		Providers:   infos,
		Recommender: cfg.Recommender(),
		Version:     config.Version,
		Logger:      logging.WithComponent(logger, "api"),
		StartTime:   startTime,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	janitor.Stop()

	// The database closes on return, so the in-flight inspection must record its outcome first.
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("inspection runner did not stop before shutdown timeout")
	}

	logger.Info("shutdown complete")
	return nil
}

// openRepository uses Postgres when INSPECT_DATABASE_URL is set and the
// SQLite file in the data directory otherwise.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (inspection.Repository, func(), error) {
	if url := cfg.DatabaseURL(); url != "" {
		if !db.IsPostgresURL(url) {
			return nil, nil, fmt.Errorf("invalid %s: only postgres URLs are supported", config.EnvDatabase)
		}
		pool, err := db.OpenPostgres(ctx, url, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		logger.Info("using postgres storage", "url", logging.SanitizeDSN(url))
		return inspection.NewPostgresRepository(pool), pool.Close, nil
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return inspection.NewSQLiteRepository(database.Conn()), func() { database.Close() }, nil
}

func buildProviders(ctx context.Context, cfg config.Config, logger *slog.Logger) (analyzer.Providers, []api.ProviderInfo, error) {
	var providers analyzer.Providers
	cloudInfo := api.ProviderInfo{Name: "cloud"}
	localInfo := api.ProviderInfo{Name: "local"}

	if cfg.RekognitionEnabled() {
		client, err := rekognition.NewFromRegion(ctx, cfg.AWSRegion(), logging.WithComponent(logger, "rekognition"))
		if err != nil {
			return providers, nil, fmt.Errorf("failed to configure rekognition: %w", err)
		}
		providers.Equipment = client
		providers.CloudObjects = client
		providers.CloudText = client
		cloudInfo.Enabled = true
		logger.Info("cloud detection enabled", "region", cfg.AWSRegion())
	}

	if url := cfg.VisionURL(); url != "" {
		client := sidecar.New(url, sidecar.Options{Token: cfg.VisionToken()}, logging.WithComponent(logger, "sidecar"))
		providers.LocalObjects = client
		providers.Uniform = client
		providers.Menu = client
		localInfo.Enabled = true
		localInfo.Health = client.Health()

		probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
		h := client.Health().Refresh(probeCtx)
		probeCancel()
		logger.Info("local detection enabled", "url", url, "available", h.OK)
	}

	if !cloudInfo.Enabled && !localInfo.Enabled {
		logger.Warn("no detection providers configured, uniform and menu board default to 100 so every frame scores 100")
	}
	return providers, []api.ProviderInfo{cloudInfo, localInfo}, nil
}

func buildRecommender(ctx context.Context, cfg config.Config, logger *slog.Logger) (*recommend.Generator, error) {
	recLogger := logging.WithComponent(logger, "recommend")
	switch cfg.Recommender() {
	case config.RecommenderOpenAI:
		logger.Info("recommendations via openai", "model", cfg.OpenAIModel())
		return recommend.New(recommend.NewOpenAIProvider(cfg.OpenAIAPIKey(), cfg.OpenAIBaseURL(), cfg.OpenAIModel()), recLogger), nil
	case config.RecommenderBedrock:
		p, err := recommend.NewBedrockProviderFromRegion(ctx, cfg.AWSRegion(), cfg.BedrockModelID())
		if err != nil {
			return nil, fmt.Errorf("failed to configure bedrock: %w", err)
		}
		logger.Info("recommendations via bedrock", "model", cfg.BedrockModelID())
		return recommend.New(p, recLogger), nil
	default:
		logger.Info("recommendations use built-in fallbacks")
		return recommend.New(nil, recLogger), nil
	}
}

func ensureAuthToken(ctx context.Context, repo inspection.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
