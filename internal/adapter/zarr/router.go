package zarr

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

// Layout selects how cycles map to store directories.
type Layout string

const (
	// LayoutPerCycle writes one store per cycle, e.g. gfs_20240101_06.zarr.
	LayoutPerCycle Layout = "per_cycle"
	// LayoutShared appends every cycle of a source into <source>.zarr.
	LayoutShared Layout = "shared"
)

// ParseLayout validates a layout name.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LayoutPerCycle, LayoutShared:
		return Layout(s), nil
	}
	return "", fmt.Errorf("unknown store layout %q", s)
}

// Router implements domain.CycleStore over a directory of stores.
type Router struct {
	dir    string
	layout Layout
	logger *slog.Logger
}

// NewRouter creates a router rooted at dir.
func NewRouter(dir string, layout Layout, logger *slog.Logger) *Router {
	return &Router{dir: dir, layout: layout, logger: logger}
}

// PathFor returns the store directory that receives key.
func (r *Router) PathFor(key domain.CycleKey) string {
	if r.layout == LayoutShared {
		return filepath.Join(r.dir, key.Source+".zarr")
	}
	return filepath.Join(r.dir, key.StoreName("zarr"))
}

// Write opens the target store for grid.Key and writes the cycle.
func (r *Router) Write(ctx context.Context, grid domain.CycleGrid) (domain.Ack, error) {
	st, err := Open(r.PathFor(grid.Key), r.logger)
	if err != nil {
		return domain.Ack{}, err
	}
	return st.Write(ctx, grid)
}
