// Command ingest runs the engine once for a single cycle and exits, without
// Kafka. Configuration is read from the environment the same way as the
// service; flags name the cycle.
//
// Usage:
//
//	go run ./cmd/ingest -source gfs -date 20240101 -cycle 06
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/weather-grid-etl/internal/app"
	"github.com/couchcryptid/weather-grid-etl/internal/config"
	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/couchcryptid/weather-grid-etl/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	source := flag.String("source", "", "source name (defaults to SOURCE)")
	date := flag.String("date", "", "cycle date, YYYYMMDD")
	cycle := flag.String("cycle", "", "cycle hour, HH")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if *source != "" {
		cfg.Source = *source
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	key, err := domain.ParseCycleKey(cfg.Source, *date, *cycle)
	if err != nil {
		logger.Error("invalid cycle", "error", err)
		flag.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, closeStore, err := app.NewEngine(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		logger.Error("failed to build ingest engine", "error", err)
		return 1
	}
	defer closeStore()

	result, err := engine.Ingest(ctx, key)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		logger.Error("encode result", "error", encErr)
	}
	if err != nil {
		return 1
	}
	return 0
}
