package wgrib2

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// undefinedValue is what wgrib2 prints for bitmap-masked points.
const undefinedValue = 9.999e20

const csvTimeLayout = "2006-01-02 15:04:05"

// grid is the decoded content of one wgrib2 -csv dump.
type grid struct {
	refTime   time.Time
	validTime time.Time
	lats      []float64
	lons      []float64
	values    []float64
}

// parseCSV reads lines of the form
//
//	"2024-01-01 00:00:00","2024-01-01 03:00:00","UGRD","10 m above ground",350.25,60,-1.5
//
// and rebuilds the lat×lon grid in the order points were written.
func parseCSV(r io.Reader) (grid, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 7
	cr.ReuseRecord = true

	var (
		g      grid
		latIdx = map[float64]int{}
		lonIdx = map[float64]int{}
		cells  = map[[2]int]float64{}
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return grid{}, fmt.Errorf("read csv: %w", err)
		}
		if g.refTime.IsZero() {
			if g.refTime, err = time.Parse(csvTimeLayout, rec[0]); err != nil {
				return grid{}, fmt.Errorf("csv reference time: %w", err)
			}
			if g.validTime, err = time.Parse(csvTimeLayout, rec[1]); err != nil {
				return grid{}, fmt.Errorf("csv valid time: %w", err)
			}
		}
		lon, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return grid{}, fmt.Errorf("csv lon %q: %w", rec[4], err)
		}
		lat, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return grid{}, fmt.Errorf("csv lat %q: %w", rec[5], err)
		}
		val, err := strconv.ParseFloat(rec[6], 64)
		if err != nil {
			return grid{}, fmt.Errorf("csv value %q: %w", rec[6], err)
		}
		if val >= undefinedValue {
			val = math.NaN()
		}

		i, ok := latIdx[lat]
		if !ok {
			i = len(g.lats)
			latIdx[lat] = i
			g.lats = append(g.lats, lat)
		}
		j, ok := lonIdx[lon]
		if !ok {
			j = len(g.lons)
			lonIdx[lon] = j
			g.lons = append(g.lons, lon)
		}
		cells[[2]int{i, j}] = val
	}

	if len(cells) == 0 {
		return grid{}, errors.New("csv dump is empty")
	}
	if len(cells) != len(g.lats)*len(g.lons) {
		return grid{}, fmt.Errorf("csv dump is not a regular lat/lon grid: %d points for %dx%d axes", len(cells), len(g.lats), len(g.lons))
	}

	g.values = make([]float64, len(g.lats)*len(g.lons))
	for k, v := range cells {
		g.values[k[0]*len(g.lons)+k[1]] = v
	}
	g.refTime = g.refTime.UTC()
	g.validTime = g.validTime.UTC()
	return g, nil
}
