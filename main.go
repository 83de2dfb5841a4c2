package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/autodev-ai/orchestrator/internal/config"
	"github.com/autodev-ai/orchestrator/internal/engine"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: CONFIG_PATH or config/orchestrator.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	transport := newHTTPTransport(logger)
	eng, err := engine.New(cfg, transport.Call, logger)
	if err != nil {
		logger.Fatal("Failed to initialize engine", zap.Error(err))
	}

	// Hot reload of runtime tunables; structural settings need a restart.
	watcher, err := config.NewWatcher(resolvedConfigPath(*configPath), eng.ApplyConfig, logger)
	if err != nil {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	if cfg.Metrics.Enabled {
		startAdminServer(cfg.Metrics.Addr, eng, logger)
	}

	logger.Info("Orchestrator started",
		zap.String("default_provider", cfg.Providers.Default),
		zap.Strings("fallbacks", cfg.Providers.Fallbacks),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	eng.Shutdown()
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func resolvedConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return config.DefaultPath
}

// startAdminServer serves Prometheus metrics plus a JSON diagnostic
// view of the engine.
func startAdminServer(addr string, eng *engine.Engine, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/performance", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(eng.GetPerformanceMetrics(r.Context())); err != nil {
			logger.Warn("Failed to encode performance snapshot", zap.Error(err))
		}
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()
}
