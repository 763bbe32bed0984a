// Command triaged runs the content-safety pipeline as an HTTP service:
// ensemble moderation, crisis detection, human-oversight escalation and
// a tamper-evident compliance audit trail.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/havenline/triage/pkg/api"
	"github.com/havenline/triage/pkg/audit"
	"github.com/havenline/triage/pkg/cache"
	"github.com/havenline/triage/pkg/config"
	"github.com/havenline/triage/pkg/ensemble"
	"github.com/havenline/triage/pkg/langdetect"
	"github.com/havenline/triage/pkg/lexicon"
	"github.com/havenline/triage/pkg/moderation"
	"github.com/havenline/triage/pkg/observability"
	"github.com/havenline/triage/pkg/oversight"
)

func main() {
	if err := run(); err != nil {
		slog.Error("triaged exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := config.DefaultPolicy()
	if cfg.PolicyPath != "" {
		loaded, err := config.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return err
		}
		policy = loaded
		slog.Info("policy loaded", "path", cfg.PolicyPath, "trigger_rules", len(policy.TriggerRules))
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "triaged",
		ServiceVersion: "1.0.0",
		Environment:    envOr("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       os.Getenv("OTLP_INSECURE") == "true",
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	store, err := openAuditStore(cfg)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}

	recorderOpts := []audit.RecorderOption{
		audit.WithMaxBuffer(cfg.MaxAuditBuffer),
		audit.WithFlushInterval(cfg.FlushInterval),
	}
	if cfg.AuditSalt != "" {
		recorderOpts = append(recorderOpts, audit.WithSalt(cfg.AuditSalt))
	}
	recorder := audit.NewRecorder(store, slog.Default(), recorderOpts...)
	defer func() { _ = recorder.Close() }()

	results := openResultCache(cfg)
	defer func() { _ = results.Close() }()

	registry := ensemble.NewRegistry()
	for _, model := range []ensemble.Model{
		ensemble.NewToxicityModel(),
		ensemble.NewPatternModel(),
		ensemble.NewSignalModel(),
	} {
		if w, ok := policy.ModelWeights[model.Name()]; ok {
			model = ensemble.Reweighted(model, w)
		}
		if err := registry.Register(model); err != nil {
			return fmt.Errorf("register model: %w", err)
		}
	}

	engine := moderation.NewEngine(
		ensemble.NewScorer(registry, slog.Default()),
		lexicon.NewAnalyzer(),
		langdetect.New(),
		slog.Default(),
		moderation.WithCache(results),
		moderation.WithAuditSink(recorder),
		moderation.WithMetrics(obs),
		moderation.WithThresholds(policy.Thresholds),
	)

	manager, err := oversight.NewManagerWithRules(policy.TriggerRules,
		oversight.WithAuditSink(recorder),
		oversight.WithQualitySampling(policy.Sampling.PerSecond, policy.Sampling.Burst),
	)
	if err != nil {
		return fmt.Errorf("init oversight: %w", err)
	}

	handler := api.NewServer(engine, manager, recorder, slog.Default()).Handler()
	handler = api.NewGlobalRateLimiter(100, 200).Middleware(handler)
	handler = api.WithRequestLogging(slog.Default(), handler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("triaged listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	recorder.Flush(shutdownCtx)
	return nil
}

func openAuditStore(cfg *config.Config) (audit.Store, error) {
	if cfg.DatabaseURL != "" {
		return audit.OpenPostgresStore(cfg.DatabaseURL)
	}
	return audit.OpenSQLiteStore(cfg.SQLitePath)
}

func openResultCache(cfg *config.Config) cache.Cache {
	if cfg.RedisAddr != "" {
		return cache.NewRedis(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0, "triage", slog.Default())
	}
	return cache.NewMemory()
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
