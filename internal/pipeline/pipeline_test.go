package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/couchcryptid/weather-grid-etl/internal/observability"
	"github.com/couchcryptid/weather-grid-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	events []domain.RawEvent
	done   atomic.Bool
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	if m.done.CompareAndSwap(false, true) && len(m.events) > 0 {
		return m.events, nil
	}
	// block until context cancelled to simulate waiting for messages
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockIngester struct {
	mu    sync.Mutex
	calls []domain.CycleKey
	errs  []error
}

func (m *mockIngester) Ingest(_ context.Context, key domain.CycleKey) (domain.IngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, key)

	result := domain.NewIngestResult(key)
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	if err != nil {
		result.Status = domain.StatusFailed
		result.Error = err.Error()
		return result, err
	}
	result.Status = domain.StatusIngested
	return result, nil
}

func (m *mockIngester) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.IngestResult
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, results []domain.IngestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, results...)
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func makeRequest(t *testing.T, source, date, cycle string, committed *atomic.Int32) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(domain.CycleRequest{Source: source, Date: date, Cycle: cycle})
	require.NoError(t, err)
	return domain.RawEvent{
		Key:   []byte(source + "/" + date + "/" + cycle),
		Value: data,
		Topic: "grid-cycle-requests",
		Commit: func(context.Context) error {
			if committed != nil {
				committed.Add(1)
			}
			return nil
		},
	}
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	var committed atomic.Int32
	ext := &mockExtractor{events: []domain.RawEvent{
		makeRequest(t, "gfs", "20240101", "06", &committed),
		makeRequest(t, "GFS", "20240101", "12z", &committed),
	}}
	ing := &mockIngester{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, ing, ldr, slog.Default(), metrics, 10)
	runFor(t, p, 500*time.Millisecond)

	require.Len(t, ldr.loaded, 2)
	assert.Equal(t, "06", ldr.loaded[0].Cycle)
	assert.Equal(t, "12", ldr.loaded[1].Cycle)
	assert.Equal(t, domain.StatusIngested, ldr.loaded[1].Status)
	assert.Equal(t, int32(2), committed.Load())
	assert.True(t, p.Ready())
	assert.NoError(t, p.CheckReadiness(context.Background()))
	last, ok := p.LastResult()
	require.True(t, ok)
	assert.Equal(t, "12", last.Cycle)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ResultsProduced))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockIngester{}, ldr, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
	_, ok := p.LastResult()
	assert.False(t, ok)
}

func TestPipeline_Run_InvalidRequestCommitted(t *testing.T) {
	var committed atomic.Int32
	raw := makeRequest(t, "gfs", "2024-01-01", "06", &committed)

	ing := &mockIngester{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()
	p := pipeline.New(&mockExtractor{events: []domain.RawEvent{raw}}, ing, ldr, slog.Default(), metrics, 10)
	runFor(t, p, 500*time.Millisecond)

	assert.Zero(t, ing.callCount())
	assert.Empty(t, ldr.loaded)
	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestErrors))
	assert.False(t, p.Ready())
}

func TestPipeline_Run_CycleFailurePublished(t *testing.T) {
	var committed atomic.Int32
	raw := makeRequest(t, "gfs", "20240101", "00", &committed)

	ing := &mockIngester{errs: []error{domain.ErrNoValidFrames}}
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{events: []domain.RawEvent{raw}}, ing, ldr, slog.Default(), newTestMetrics(), 10)
	runFor(t, p, 500*time.Millisecond)

	assert.Equal(t, 1, ing.callCount(), "cycle-level failures are not retried")
	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, domain.StatusFailed, ldr.loaded[0].Status)
	assert.Equal(t, int32(1), committed.Load())
}

func TestPipeline_Run_RetriesTransientStoreError(t *testing.T) {
	raw := makeRequest(t, "gfs", "20240101", "00", nil)
	storeErr := &domain.StoreError{Target: "store/gfs.zarr", Op: "swap", Err: errors.New("device busy")}

	ing := &mockIngester{errs: []error{storeErr}}
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{events: []domain.RawEvent{raw}}, ing, ldr, slog.Default(), newTestMetrics(), 10)
	runFor(t, p, 2*time.Second)

	assert.Equal(t, 2, ing.callCount())
	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, domain.StatusIngested, ldr.loaded[0].Status)
}

func TestPipeline_Run_SchemaMismatchNotRetried(t *testing.T) {
	raw := makeRequest(t, "gfs", "20240101", "00", nil)
	storeErr := &domain.StoreError{Target: "store/gfs.zarr", Op: "write", Err: domain.ErrSchemaMismatch}

	ing := &mockIngester{errs: []error{storeErr}}
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{events: []domain.RawEvent{raw}}, ing, ldr, slog.Default(), newTestMetrics(), 10)
	runFor(t, p, 500*time.Millisecond)

	assert.Equal(t, 1, ing.callCount())
	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, domain.StatusFailed, ldr.loaded[0].Status)
}

func TestPipeline_Run_LoadFailureSkipsCommit(t *testing.T) {
	var committed atomic.Int32
	raw := makeRequest(t, "gfs", "20240101", "00", &committed)

	ldr := &mockLoader{err: errors.New("broker unavailable")}
	p := pipeline.New(&mockExtractor{events: []domain.RawEvent{raw}}, &mockIngester{}, ldr, slog.Default(), newTestMetrics(), 10)
	runFor(t, p, 500*time.Millisecond)

	assert.Zero(t, committed.Load())
	assert.False(t, p.Ready())
}
