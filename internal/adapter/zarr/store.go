package zarr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/google/uuid"
)

// Store is a Zarr v2 directory store holding cycles along init_time.
type Store struct {
	root   string
	logger *slog.Logger
}

// Open returns a handle for the store at path. The directory does not need
// to exist yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path %s: %w", path, err)
	}
	return &Store{root: abs, logger: logger}, nil
}

// Path returns the absolute store directory.
func (s *Store) Path() string { return s.root }

func (s *Store) exists() (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, consolidatedFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Write commits grid as the only generation of its init_time. A new key on
// the existing time axis and variable set is appended in place; anything
// else rewrites the store through a staging directory.
func (s *Store) Write(ctx context.Context, grid domain.CycleGrid) (domain.Ack, error) {
	if len(grid.Frames) == 0 {
		return domain.Ack{}, s.fail("write", domain.ErrNoValidFrames)
	}
	release, err := locks.acquire(ctx, s.root)
	if err != nil {
		return domain.Ack{}, s.fail("lock", err)
	}
	defer release()

	ok, err := s.exists()
	if err != nil {
		return domain.Ack{}, s.fail("stat", err)
	}
	if !ok {
		return s.create(ctx, grid)
	}

	h, err := readHeader(s.root)
	if err != nil {
		return domain.Ack{}, s.fail("open", err)
	}
	if !domain.SameGrid(h.lats, h.lons, grid.Lats, grid.Lons) || !domain.SameCells(h.proj, grid.Projected) {
		return domain.Ack{}, s.fail("write", fmt.Errorf("%w: store grid %dx%d, cycle grid %dx%d",
			domain.ErrSchemaMismatch, len(h.lats), len(h.lons), len(grid.Lats), len(grid.Lons)))
	}
	inits, err := readInitTimes(s.root, h.nInit)
	if err != nil {
		return domain.Ack{}, s.fail("open", err)
	}

	keyPresent := slices.Contains(inits, grid.InitTime.Unix())
	sameTimes := slices.Equal(h.times, unixTimes(grid.Times))
	coversVars := true
	for _, v := range grid.Variables() {
		if !slices.Contains(h.vars(), v) {
			coversVars = false
			break
		}
	}
	if keyPresent || !sameTimes || !coversVars {
		s.logger.Info("rewriting array store",
			"store", s.root, "init_time", grid.InitTime,
			"key_present", keyPresent, "time_axis_changed", !sameTimes, "new_variables", !coversVars)
		return s.rewrite(ctx, grid)
	}
	return s.append(ctx, h, grid)
}

func (s *Store) create(ctx context.Context, grid domain.CycleGrid) (domain.Ack, error) {
	times := unixTimes(grid.Times)
	vars := grid.Variables()
	slice, err := sliceFromGrid(grid, times, vars)
	if err != nil {
		return domain.Ack{}, s.fail("create", err)
	}
	ds := &dataset{
		source: grid.Key.Source,
		times:  times,
		lats:   grid.Lats,
		lons:   grid.Lons,
		proj:   grid.Projected,
		vars:   vars,
		cycles: []cycleSlice{slice},
	}
	if err := s.replace(ctx, ds); err != nil {
		return domain.Ack{}, s.fail("create", err)
	}
	return s.ack(domain.ModeCreate, grid), nil
}

func (s *Store) append(ctx context.Context, h header, grid domain.CycleGrid) (domain.Ack, error) {
	ds := &dataset{source: h.source, times: h.times, lats: h.lats, lons: h.lons, proj: h.proj, vars: h.vars()}
	slice, err := sliceFromGrid(grid, ds.times, ds.vars)
	if err != nil {
		return domain.Ack{}, s.fail("append", err)
	}
	if err := ds.writeSlice(s.root, h.nInit, slice); err != nil {
		s.dropSlice(ds, h.nInit)
		return domain.Ack{}, s.fail("append", err)
	}
	if err := ctx.Err(); err != nil {
		s.dropSlice(ds, h.nInit)
		return domain.Ack{}, s.fail("append", err)
	}
	if err := writeMetadata(s.root, ds.metadata(h.nInit+1)); err != nil {
		return domain.Ack{}, s.fail("append", err)
	}
	return s.ack(domain.ModeAppend, grid), nil
}

// dropSlice removes uncommitted chunks written for index i.
func (s *Store) dropSlice(ds *dataset, i int) {
	paths := []string{
		filepath.Join(s.root, dimInitTime, chunkKey(i)),
		filepath.Join(s.root, presentArray, chunkKey(i, 0)),
	}
	for _, v := range ds.vars {
		paths = append(paths, filepath.Join(s.root, v.String(), chunkKey(i, 0, 0, 0)))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove uncommitted chunk", "path", p, "error", err)
		}
	}
}

func (s *Store) rewrite(ctx context.Context, grid domain.CycleGrid) (domain.Ack, error) {
	old, err := load(s.root)
	if err != nil {
		return domain.Ack{}, s.fail("rewrite", err)
	}
	key := grid.InitTime.Unix()
	var kept []cycleSlice
	for _, c := range old.cycles {
		if c.initTime != key {
			kept = append(kept, c)
		}
	}
	// The replaced slice contributes nothing to the new axes.
	times := unixTimes(grid.Times)
	vars := grid.Variables()
	for _, c := range kept {
		times = unionTimes(times, c.presentTimes(old.times))
		vars = unionVars(vars, c.presentVars())
	}

	ds := &dataset{source: old.source, times: times, lats: old.lats, lons: old.lons, proj: old.proj, vars: vars}
	if ds.source == "" {
		ds.source = grid.Key.Source
	}
	for _, c := range kept {
		ds.cycles = append(ds.cycles, c.remap(old.times, times, vars, old.points()))
	}
	incoming, err := sliceFromGrid(grid, times, vars)
	if err != nil {
		return domain.Ack{}, s.fail("rewrite", err)
	}
	ds.cycles = append(ds.cycles, incoming)
	sort.Slice(ds.cycles, func(i, j int) bool { return ds.cycles[i].initTime < ds.cycles[j].initTime })

	if err := s.replace(ctx, ds); err != nil {
		return domain.Ack{}, s.fail("rewrite", err)
	}
	return s.ack(domain.ModeRewrite, grid), nil
}

// replace writes ds into a staging directory and swaps it in for the store.
// The previous store survives any failure before the swap.
func (s *Store) replace(ctx context.Context, ds *dataset) error {
	parent, base := filepath.Dir(s.root), filepath.Base(s.root)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	staging := filepath.Join(parent, "."+base+".staging-"+uuid.NewString())
	defer os.RemoveAll(staging)

	if err := ds.writeAll(staging); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	backup := filepath.Join(parent, "."+base+".old-"+uuid.NewString())
	hadOld := true
	if err := os.Rename(s.root, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("move aside: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(staging, s.root); err != nil {
		if hadOld {
			if rerr := os.Rename(backup, s.root); rerr != nil {
				s.logger.Error("failed to restore array store", "store", s.root, "backup", backup, "error", rerr)
			}
		}
		return fmt.Errorf("swap: %w", err)
	}
	if hadOld {
		if err := os.RemoveAll(backup); err != nil {
			s.logger.Warn("failed to remove replaced store", "path", backup, "error", err)
		}
	}
	return nil
}

func (s *Store) ack(mode domain.WriteMode, grid domain.CycleGrid) domain.Ack {
	s.logger.Info("array store committed",
		"store", s.root, "mode", mode, "init_time", grid.InitTime, "frames", len(grid.Frames))
	return domain.Ack{Target: s.root, Mode: mode, Records: len(grid.Frames)}
}

func (s *Store) fail(op string, err error) error {
	return &domain.StoreError{Target: s.root, Op: op, Err: err}
}

func readInitTimes(root string, n int) ([]int64, error) {
	out := make([]int64, n)
	for i := range out {
		data, err := readChunk(root, dimInitTime, chunkKey(i))
		if err != nil {
			return nil, err
		}
		v, err := decodeInt64s(data, 1)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", dimInitTime, i, err)
		}
		out[i] = v[0]
	}
	return out, nil
}

// InitTimes lists the committed init_time coordinate in store order.
func (s *Store) InitTimes() ([]time.Time, error) {
	h, err := readHeader(s.root)
	if err != nil {
		return nil, err
	}
	raw, err := readInitTimes(s.root, h.nInit)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(raw))
	for i, v := range raw {
		out[i] = time.Unix(v, 0).UTC()
	}
	return out, nil
}

// ReadCycle reconstructs the committed grid of one init_time. Time steps
// with no frame are skipped and a variable that is NaN across a whole frame
// reads back as absent.
func (s *Store) ReadCycle(initTime time.Time) (domain.CycleGrid, error) {
	h, err := readHeader(s.root)
	if err != nil {
		return domain.CycleGrid{}, err
	}
	inits, err := readInitTimes(s.root, h.nInit)
	if err != nil {
		return domain.CycleGrid{}, err
	}
	idx := slices.Index(inits, initTime.Unix())
	if idx < 0 {
		return domain.CycleGrid{}, fmt.Errorf("init_time %s not in store %s", initTime.UTC().Format(time.RFC3339), s.root)
	}
	slice, err := loadSlice(s.root, h, idx)
	if err != nil {
		return domain.CycleGrid{}, err
	}

	it := time.Unix(slice.initTime, 0).UTC()
	grid := domain.CycleGrid{
		Key:       domain.CycleKey{Source: h.source, Date: it.Format("20060102"), Hour: it.Hour()},
		InitTime:  it,
		Lats:      h.lats,
		Lons:      h.lons,
		Projected: h.proj,
	}
	n := len(h.lats) * len(h.lons)
	for ti, t := range h.times {
		if !slice.present[ti] {
			continue
		}
		f := domain.Frame{Time: time.Unix(t, 0).UTC(), Lats: h.lats, Lons: h.lons, Projected: h.proj}
		for _, v := range h.vars() {
			src := slice.data[v][ti*n : (ti+1)*n]
			vals := make([]float64, n)
			allNaN := true
			for j, x := range src {
				vals[j] = float64(x)
				if !math.IsNaN(vals[j]) {
					allNaN = false
				}
			}
			if !allNaN {
				f.Layers.Set(v, vals)
			}
		}
		grid.Times = append(grid.Times, f.Time)
		grid.Frames = append(grid.Frames, f)
	}
	return grid, nil
}
