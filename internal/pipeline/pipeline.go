package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/couchcryptid/weather-grid-etl/internal/observability"
)

// BatchExtractor reads up to batchSize cycle requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Ingester ingests one cycle.
type Ingester interface {
	Ingest(ctx context.Context, key domain.CycleKey) (domain.IngestResult, error)
}

// BatchLoader publishes ingest results to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, results []domain.IngestResult) error
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	maxIngestAttempts = 3
)

// Pipeline runs cycle requests from a queue through the Ingester and
// publishes one result per request.
type Pipeline struct {
	extractor BatchExtractor
	ingester  Ingester
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	last      atomic.Pointer[domain.IngestResult]
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, i Ingester, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		ingester:  i,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once a batch has been handled end to end.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any requests yet")
	}
	return nil
}

// Ready reports whether a batch has been handled end to end.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// LastResult returns the most recently published ingest result.
func (p *Pipeline) LastResult() (domain.IngestResult, bool) {
	r := p.last.Load()
	if r == nil {
		return domain.IngestResult{}, false
	}
	return *r, true
}

// Run executes the request loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch handles one batch. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.RequestsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	results := make([]domain.IngestResult, 0, len(rawBatch))
	handled := make([]domain.RawEvent, 0, len(rawBatch))
	for _, raw := range rawBatch {
		key, err := domain.ParseCycleRequest(raw)
		if err != nil {
			p.logger.Warn("invalid cycle request, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.RequestErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}

		result, ok := p.ingest(ctx, key)
		if !ok {
			return false
		}
		results = append(results, result)
		handled = append(handled, raw)
	}

	if len(results) == 0 {
		return true
	}
	if err := p.loader.LoadBatch(ctx, results); err != nil {
		p.logger.Error("publish results failed", "error", err, "batch_size", len(results))
		return p.backoffOrStop(ctx, backoff)
	}
	p.metrics.ResultsProduced.Add(float64(len(results)))

	for _, raw := range handled {
		p.commitOffset(ctx, raw)
	}
	last := results[len(results)-1]
	p.last.Store(&last)
	p.ready.Store(true)
	return true
}

// ingest runs one cycle, retrying transient store failures with backoff.
// Returns false if the context ended first.
func (p *Pipeline) ingest(ctx context.Context, key domain.CycleKey) (domain.IngestResult, bool) {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		result, err := p.ingester.Ingest(ctx, key)
		if ctx.Err() != nil {
			return result, false
		}
		if err == nil || !retryable(err) || attempt == maxIngestAttempts {
			return result, true
		}
		p.logger.Warn("cycle store write failed, retrying",
			"cycle", key.String(), "attempt", attempt, "error", err)
		if !p.backoffOrStop(ctx, &backoff) {
			return result, false
		}
	}
}

// retryable reports whether err is a store failure that may clear on its own.
func retryable(err error) bool {
	var se *domain.StoreError
	return errors.As(err, &se) && !errors.Is(err, domain.ErrSchemaMismatch)
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
