package postgres

import (
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

// rowSource streams a CycleGrid as COPY rows in (time, latitude, longitude)
// order without materializing the table.
type rowSource struct {
	grid       domain.CycleGrid
	ingestedAt time.Time
	frame      int
	cell       int
	row        []any
}

func newRowSource(grid domain.CycleGrid, ingestedAt time.Time) *rowSource {
	return &rowSource{grid: grid, ingestedAt: ingestedAt, cell: -1}
}

func (r *rowSource) Next() bool {
	n := r.grid.Points()
	if n == 0 {
		return false
	}
	r.cell++
	if r.cell == n {
		r.cell = 0
		r.frame++
	}
	if r.frame >= len(r.grid.Frames) {
		return false
	}
	r.row = r.build()
	return true
}

func (r *rowSource) build() []any {
	f := &r.grid.Frames[r.frame]
	lat, lon := r.grid.Cell(r.cell)

	row := make([]any, 0, 6+int(domain.NumVariables))
	row = append(row, r.grid.Key.Source, r.grid.InitTime, r.grid.Times[r.frame], lat, lon)
	for v := domain.Variable(0); v < domain.NumVariables; v++ {
		vals, ok := f.Layers.Get(v)
		if !ok {
			row = append(row, nil)
			continue
		}
		row = append(row, nullable(vals[r.cell]))
	}
	return append(row, r.ingestedAt)
}

func (r *rowSource) Values() ([]any, error) { return r.row, nil }

func (r *rowSource) Err() error { return nil }
