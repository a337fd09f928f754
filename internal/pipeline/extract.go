package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/couchcryptid/weather-grid-etl/internal/observability"
)

// Extractor locates every catalog field of a source file and clips it to
// the region of interest.
type Extractor struct {
	decoders map[domain.GridFormat]domain.Decoder
	catalog  domain.Catalog
	bbox     domain.BBox
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewExtractor creates an extractor with one decoder per grid format.
func NewExtractor(decoders map[domain.GridFormat]domain.Decoder, catalog domain.Catalog, bbox domain.BBox, logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{decoders: decoders, catalog: catalog, bbox: bbox, logger: logger, metrics: metrics}
}

// Extract returns one extraction per catalog entry, in catalog order. A
// field that cannot be decoded or has no points in the window is absent.
// Only an unsupported format or a cancelled context fails the call.
func (x *Extractor) Extract(ctx context.Context, file domain.SourceFile) ([]domain.Extraction, error) {
	dec, ok := x.decoders[file.Format]
	if !ok {
		return nil, fmt.Errorf("no decoder for %s format %q", file.Path, file.Format)
	}

	out := make([]domain.Extraction, 0, len(x.catalog))
	for _, spec := range x.catalog {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		f, err := dec.Decode(ctx, file, spec)
		x.metrics.DecodeDuration.WithLabelValues(string(file.Format)).Observe(time.Since(start).Seconds())
		if err == nil {
			f, err = x.bbox.Clip(f)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			x.absent(file, spec, err)
			out = append(out, domain.Absent(spec, err))
			continue
		}
		out = append(out, domain.Present(f))
	}
	return out, nil
}

func (x *Extractor) absent(file domain.SourceFile, spec domain.FieldSpec, err error) {
	x.metrics.FieldsAbsent.WithLabelValues(spec.CanonicalName).Inc()
	if errors.Is(err, domain.ErrFieldNotFound) {
		x.logger.Warn("field not found", "file", file.Path, "canonical_name", spec.CanonicalName, "error", err)
		return
	}
	x.logger.Warn("field extraction failed", "file", file.Path, "canonical_name", spec.CanonicalName, "error", err)
}
