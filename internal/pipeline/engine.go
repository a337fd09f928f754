package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/couchcryptid/weather-grid-etl/internal/observability"
	"golang.org/x/sync/errgroup"
)

// EngineConfig wires an Engine.
type EngineConfig struct {
	// Source, when set, is the only source Ingest accepts.
	Source      string
	RawDir      string
	Extractor   *Extractor
	Store       domain.CycleStore
	StoreFormat string
	Gust        domain.GustOptions
	Workers     int
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Engine ingests one cycle at a time: extract, merge and derive per file in
// parallel, then assemble and persist.
type Engine struct {
	source      string
	rawDir      string
	extractor   *Extractor
	store       domain.CycleStore
	storeFormat string
	gust        domain.GustOptions
	workers     int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewEngine creates an Engine. Workers below 1 run files sequentially.
func NewEngine(cfg EngineConfig) *Engine {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		source:      cfg.Source,
		rawDir:      cfg.RawDir,
		extractor:   cfg.Extractor,
		store:       cfg.Store,
		storeFormat: cfg.StoreFormat,
		gust:        cfg.Gust,
		workers:     workers,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

type fileOutcome struct {
	frame domain.Frame
	err   error
}

// Ingest processes every source file of key and writes the assembled grid.
// The returned result is populated on failure too, with Status failed.
func (e *Engine) Ingest(ctx context.Context, key domain.CycleKey) (domain.IngestResult, error) {
	start := time.Now()
	result := domain.NewIngestResult(key)
	logger := e.logger.With("cycle", key.String())

	fail := func(err error) (domain.IngestResult, error) {
		result.Status = domain.StatusFailed
		result.Error = err.Error()
		result.DurationSeconds = time.Since(start).Seconds()
		e.metrics.CyclesIngested.WithLabelValues(key.Source, string(domain.StatusFailed)).Inc()
		logger.Error("cycle ingest failed", "error", err)
		return result, err
	}

	if e.source != "" && key.Source != e.source {
		return fail(fmt.Errorf("cycle %s: %w (serving %q)", key, domain.ErrSourceMismatch, e.source))
	}

	files, err := ListSourceFiles(e.rawDir, key)
	if err != nil {
		return fail(err)
	}
	logger.Info("ingesting cycle", "files", len(files), "workers", e.workers)

	outcomes := make([]fileOutcome, len(files))
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for i, file := range files {
		g.Go(func() error {
			frame, err := e.processFile(ctx, file)
			outcomes[i] = fileOutcome{frame: frame, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	var frames []domain.Frame
	for i, o := range outcomes {
		if o.err != nil {
			reason := skipReason(o.err)
			e.metrics.FilesSkipped.WithLabelValues(reason).Inc()
			logger.Warn("skipping file", "file", files[i].Path, "reason", reason, "error", o.err)
			result.SkippedFiles = append(result.SkippedFiles, files[i].Path)
			continue
		}
		e.metrics.FilesProcessed.Inc()
		frames = append(frames, o.frame)
	}

	grid, err := domain.Assemble(key, frames, logger)
	if err != nil {
		return fail(err)
	}

	ack, err := e.store.Write(ctx, grid)
	if err != nil {
		return fail(err)
	}
	e.metrics.StoreWrites.WithLabelValues(e.storeFormat, string(ack.Mode)).Inc()
	e.metrics.FramesAssembled.Add(float64(len(grid.Frames)))
	e.metrics.CyclesIngested.WithLabelValues(key.Source, string(domain.StatusIngested)).Inc()

	result.Status = domain.StatusIngested
	result.Frames = len(grid.Frames)
	result.Variables = domain.VariableNames(grid.Variables())
	result.Store = ack.Target
	result.DurationSeconds = time.Since(start).Seconds()
	e.metrics.IngestDuration.Observe(result.DurationSeconds)

	logger.Info("cycle ingested",
		"frames", result.Frames,
		"skipped_files", len(result.SkippedFiles),
		"store", ack.Target,
		"mode", ack.Mode,
		"records", ack.Records,
		"duration_seconds", result.DurationSeconds,
	)
	return result, nil
}

// processFile turns one source file into a derived frame.
func (e *Engine) processFile(ctx context.Context, file domain.SourceFile) (domain.Frame, error) {
	extractions, err := e.extractor.Extract(ctx, file)
	if err != nil {
		return domain.Frame{}, err
	}
	frame, err := domain.Merge(file, extractions, e.logger)
	if err != nil {
		return domain.Frame{}, err
	}
	frame, report := domain.Derive(frame, e.gust)

	if report.Gust.Method != "" && !report.Gust.Available() {
		e.logger.Warn("gust estimate unavailable",
			"file", file.Path,
			"method", report.Gust.Method,
			"missing", domain.VariableNames(report.Gust.Missing))
	}
	if len(report.Skipped) > 0 {
		skipped := make([]string, 0, len(report.Skipped))
		for v := range report.Skipped {
			skipped = append(skipped, v.String())
		}
		e.logger.Debug("derived fields skipped", "file", file.Path, "variables", skipped)
	}
	return frame, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoUsableFields):
		return "no_usable_fields"
	case errors.Is(err, domain.ErrNoTimeCoordinate):
		return "no_time"
	case errors.Is(err, domain.ErrGridMismatch):
		return "grid_mismatch"
	}
	return "error"
}
