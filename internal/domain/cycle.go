package domain

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"time"
)

const dateLayout = "20060102"

// sourcePattern keeps a source name usable as a single path component.
var sourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// CycleKey identifies one model run of one source.
type CycleKey struct {
	Source string
	Date   string // YYYYMMDD
	Hour   int
}

// ValidateSource checks that source is a lowercase name of letters, digits,
// '_' and '-'.
func ValidateSource(source string) error {
	if source == "" {
		return fmt.Errorf("cycle source is required")
	}
	if !sourcePattern.MatchString(source) {
		return fmt.Errorf("invalid cycle source %q: want lowercase letters, digits, '_' or '-'", source)
	}
	return nil
}

// ParseCycleKey validates the raw directory components of a cycle.
func ParseCycleKey(source, date, cycle string) (CycleKey, error) {
	if err := ValidateSource(source); err != nil {
		return CycleKey{}, err
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return CycleKey{}, fmt.Errorf("invalid cycle date %q: want YYYYMMDD", date)
	}
	hour, err := strconv.Atoi(cycle)
	if err != nil || hour < 0 || hour > 23 || len(cycle) > 2 {
		return CycleKey{}, fmt.Errorf("invalid cycle hour %q: want HH", cycle)
	}
	return CycleKey{Source: source, Date: date, Hour: hour}, nil
}

// CycleHour returns the zero-padded initialization hour.
func (k CycleKey) CycleHour() string {
	return fmt.Sprintf("%02d", k.Hour)
}

// InitTime is the cycle's model initialization time in UTC.
func (k CycleKey) InitTime() time.Time {
	d, err := time.Parse(dateLayout, k.Date)
	if err != nil {
		return time.Time{}
	}
	return d.Add(time.Duration(k.Hour) * time.Hour).UTC()
}

// StoreName is the per-cycle store file name, e.g. gfs_20240101_06.zarr.
func (k CycleKey) StoreName(ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", k.Source, k.Date, k.CycleHour(), ext)
}

func (k CycleKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Source, k.Date, k.CycleHour())
}

// Frame is one time step of merged, canonicalized fields on a shared grid.
type Frame struct {
	File      string
	Time      time.Time
	Lats      []float64
	Lons      []float64
	Projected Optional[Projected]
	Layers    Layers
}

// CycleGrid is every frame of one cycle ordered by time on one grid.
// Frames[i] is valid at Times[i].
type CycleGrid struct {
	Key       CycleKey
	InitTime  time.Time
	Times     []time.Time
	Lats      []float64
	Lons      []float64
	Projected Optional[Projected]
	Frames    []Frame
}

// Variables lists variables present in at least one frame, in column order.
func (g CycleGrid) Variables() []Variable {
	var seen [NumVariables]bool
	for i := range g.Frames {
		for _, v := range g.Frames[i].Layers.Present() {
			seen[v] = true
		}
	}
	var out []Variable
	for v := Variable(0); v < NumVariables; v++ {
		if seen[v] {
			out = append(out, v)
		}
	}
	return out
}

// Points returns the number of lat×lon cells per frame.
func (g CycleGrid) Points() int {
	return len(g.Lats) * len(g.Lons)
}

// Cell returns the geographic coordinates of cell i in row-major order.
func (g CycleGrid) Cell(i int) (lat, lon float64) {
	if p, ok := g.Projected.Get(); ok {
		return p.Lats[i], p.Lons[i]
	}
	nLon := len(g.Lons)
	return g.Lats[i/nLon], g.Lons[i%nLon]
}

// Assemble concatenates frames of one cycle into a CycleGrid sorted by time.
// Frames off the first frame's grid and repeated time steps are dropped.
func Assemble(key CycleKey, frames []Frame, logger *slog.Logger) (CycleGrid, error) {
	if len(frames) == 0 {
		return CycleGrid{}, fmt.Errorf("assemble %s: %w", key, ErrNoValidFrames)
	}

	ordered := slices.Clone(frames)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time.Before(ordered[j].Time) })

	ref := frames[0]
	g := CycleGrid{
		Key:       key,
		InitTime:  key.InitTime(),
		Lats:      ref.Lats,
		Lons:      ref.Lons,
		Projected: ref.Projected,
	}
	for _, f := range ordered {
		if !SameGrid(ref.Lats, ref.Lons, f.Lats, f.Lons) || !SameCells(ref.Projected, f.Projected) {
			logger.Warn("frame grid differs from cycle grid, skipping",
				"cycle", key.String(), "file", f.File, "time", f.Time)
			continue
		}
		if n := len(g.Times); n > 0 && g.Times[n-1].Equal(f.Time) {
			logger.Warn("duplicate frame time, keeping first",
				"cycle", key.String(), "file", f.File, "time", f.Time)
			continue
		}
		g.Times = append(g.Times, f.Time)
		g.Frames = append(g.Frames, f)
	}
	return g, nil
}

const coordTolerance = 1e-6

// SameGrid reports whether two lat/lon axis pairs describe the same cells.
func SameGrid(latsA, lonsA, latsB, lonsB []float64) bool {
	return sameAxis(latsA, latsB) && sameAxis(lonsA, lonsB)
}

// SameCells compares optional per-cell coordinates; plain and projected
// grids never match.
func SameCells(a, b Optional[Projected]) bool {
	pa, okA := a.Get()
	pb, okB := b.Get()
	if okA != okB {
		return false
	}
	return !okA || (sameAxis(pa.Lats, pb.Lats) && sameAxis(pa.Lons, pb.Lons))
}

func sameAxis(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > coordTolerance {
			return false
		}
	}
	return true
}
