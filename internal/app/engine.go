// Package app wires configuration into a ready-to-run ingest engine.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/weather-grid-etl/internal/adapter/postgres"
	"github.com/couchcryptid/weather-grid-etl/internal/adapter/wgrib2"
	"github.com/couchcryptid/weather-grid-etl/internal/adapter/zarr"
	"github.com/couchcryptid/weather-grid-etl/internal/config"
	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/couchcryptid/weather-grid-etl/internal/observability"
	"github.com/couchcryptid/weather-grid-etl/internal/pipeline"
)

// NewEngine builds the decoders, catalog and output store named by cfg.
// The returned close func releases the database pool, if any.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*pipeline.Engine, func(), error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, nil, err
	}
	gust, err := cfg.GustOptions()
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	decoders := map[domain.GridFormat]domain.Decoder{
		domain.FormatGRIB2:  wgrib2.NewDecoder(cfg.Wgrib2Path, cfg.DecodeTimeout, cfg.InventoryCacheSize, logger),
		domain.FormatNetCDF: netcdf.NewDecoder(cfg.DecodeTimeout, logger),
	}
	extractor := pipeline.NewExtractor(decoders, catalog, cfg.BBox(), logger, metrics)

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Source:      cfg.Source,
		RawDir:      cfg.RawDir,
		Extractor:   extractor,
		Store:       store,
		StoreFormat: cfg.OutputFormat,
		Gust:        gust,
		Workers:     cfg.WorkerCount(),
		Logger:      logger,
		Metrics:     metrics,
	})
	logger.Info("ingest engine configured",
		"source", cfg.Source,
		"catalog_entries", len(catalog),
		"output", cfg.OutputFormat,
		"workers", cfg.WorkerCount(),
		"gust_method", gust.Method,
	)
	return engine, closeStore, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.CycleStore, func(), error) {
	switch cfg.OutputFormat {
	case config.OutputRelational:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.NewStore(pool, cfg.DBSchema, logger)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	case config.OutputArrayStore:
		layout, err := zarr.ParseLayout(cfg.StoreLayout)
		if err != nil {
			return nil, nil, err
		}
		return zarr.NewRouter(cfg.StoreDir, layout, logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown output format %q", cfg.OutputFormat)
}
