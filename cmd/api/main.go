package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codesentry/codesentry/internal/application"
	appreview "github.com/codesentry/codesentry/internal/application/review"
	"github.com/codesentry/codesentry/internal/config"
	"github.com/codesentry/codesentry/internal/domain/ai"
	"github.com/codesentry/codesentry/internal/domain/detect"
	domain "github.com/codesentry/codesentry/internal/domain/review"
	"github.com/codesentry/codesentry/internal/infra/ai/openai"
	"github.com/codesentry/codesentry/internal/infra/ai/prompt"
	"github.com/codesentry/codesentry/internal/infra/db"
	"github.com/codesentry/codesentry/internal/infra/github"
	"github.com/codesentry/codesentry/internal/infra/httpserver"
	"github.com/codesentry/codesentry/internal/infra/semgrep"
	minioStore "github.com/codesentry/codesentry/internal/infra/storage"
	"github.com/codesentry/codesentry/internal/infra/workspace"
	"github.com/codesentry/codesentry/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CODESENTRY_CONFIG"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log.Level)
	ctx := context.Background()

	// storage engine
	engine, err := db.Open(ctx, cfg)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.Store.Init(ctx); err != nil {
		log.Error("init schema", "error", err)
		os.Exit(1)
	}

	// github client + app auth
	api := github.NewClient(cfg.GitHub.BaseURL, log)
	var tokens domain.TokenSource
	auth, err := github.NewAppAuth(cfg.GitHub.AppID, cfg.GitHub.PrivateKeyPath, api)
	if err != nil {
		log.Warn("github app credentials unavailable, analysis runs will fail until configured", "error", err)
		tokens = unconfiguredTokens{}
	} else {
		tokens = auth
	}

	// model client; a missing key disables summaries, not the service
	var model ai.Client
	client, err := openai.NewClient(openai.Config{
		APIKey:       cfg.Model.APIKey,
		BaseURL:      cfg.Model.BaseURL,
		Model:        cfg.Model.Name,
		CostPer1KIn:  cfg.Model.CostPer1KIn,
		CostPer1KOut: cfg.Model.CostPer1KOut,
	}, log)
	switch {
	case errors.Is(err, ai.ErrMissingAPIKey):
		log.Warn("model api key not configured, behavioral summaries disabled")
	case err != nil:
		log.Error("model client", "error", err)
		os.Exit(1)
	default:
		model = client
	}

	var counter prompt.TokenCounter
	if tk, err := prompt.NewTiktokenCounter(); err != nil {
		log.Warn("token encoding unavailable, using byte estimate", "error", err)
		counter = prompt.ApproxCounter{}
	} else {
		counter = tk
	}

	// optional artifact store
	var artifacts domain.ArtifactStore
	if cfg.Storage.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Storage.Endpoint,
			cfg.Storage.Region,
			cfg.Storage.BucketName,
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			cfg.Storage.UseSSL,
		)
		if err != nil {
			log.Error("minio init", "error", err)
			os.Exit(1)
		}
		artifacts = store
	}

	svc := &appreview.Service{
		Store:     engine.Store,
		Tokens:    tokens,
		Diffs:     api,
		Comments:  api,
		Analyzer:  semgrep.NewRunner(cfg.Analyzer.Binary, cfg.Analyzer.RulesDir, time.Duration(cfg.Analyzer.TimeoutSeconds)*time.Second, log),
		Workspace: workspace.New(api, log),
		Prompts:   prompt.NewBuilder(counter, cfg.Model.TokenBudget),
		Model:     model,
		Artifacts: artifacts,
		RunLog:    engine.RunLog,
		Detector:  detect.New(detect.DefaultConfig()),
		Clock:     application.SystemClock{},
		Log:       log,
	}

	handler := httpserver.New(httpserver.Options{
		Service:        svc,
		WebhookSecret:  []byte(cfg.GitHub.WebhookSecret),
		AdminKey:       cfg.Server.AdminKey,
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		WebhookRPS:     cfg.Server.Webhook.RatePerSecond,
		WebhookBurst:   cfg.Server.Webhook.Burst,
		Health: map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: engine.SQL},
			"analyzer": &middleware.AnalyzerHealthChecker{Binary: cfg.Analyzer.Binary},
		},
		Log: log,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// unconfiguredTokens stands in when App credentials are absent so the rest
// of the service (health, stats, metrics) keeps serving.
type unconfiguredTokens struct{}

func (unconfiguredTokens) InstallationToken(context.Context, int64) (string, error) {
	return "", errors.New("github app credentials not configured")
}
