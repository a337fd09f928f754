package zarr

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

// dataset is a whole store held in memory: shared axes plus one slice per
// init_time. On a projected grid lats and lons hold the y and x axes.
type dataset struct {
	source string
	times  []int64
	lats   []float64
	lons   []float64
	proj   domain.Optional[domain.Projected]
	vars   []domain.Variable
	cycles []cycleSlice
}

// cycleSlice is the data of one init_time. Each variable holds
// len(times)*nLat*nLon values in (time, lat, lon) order.
type cycleSlice struct {
	initTime int64
	present  []bool
	data     map[domain.Variable][]float32
}

func (d *dataset) points() int { return len(d.lats) * len(d.lons) }

// gridDims names the row and column dimensions of the data arrays.
func gridDims(proj domain.Optional[domain.Projected]) (row, col string) {
	if proj.Present() {
		return dimY, dimX
	}
	return dimLat, dimLon
}

// presentTimes returns the axis steps that hold a frame.
func (s cycleSlice) presentTimes(axis []int64) []int64 {
	var out []int64
	for i, t := range axis {
		if s.present[i] {
			out = append(out, t)
		}
	}
	return out
}

// presentVars returns the variables with at least one value.
func (s cycleSlice) presentVars() []domain.Variable {
	var out []domain.Variable
	for v, vals := range s.data {
		if slices.ContainsFunc(vals, func(x float32) bool { return !math.IsNaN(float64(x)) }) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// sliceFromGrid lays the grid out on the given time axis. Frames whose time
// is not on the axis are an error; axis steps with no frame stay NaN.
func sliceFromGrid(grid domain.CycleGrid, times []int64, vars []domain.Variable) (cycleSlice, error) {
	n := len(grid.Lats) * len(grid.Lons)
	s := cycleSlice{
		initTime: grid.InitTime.Unix(),
		present:  make([]bool, len(times)),
		data:     make(map[domain.Variable][]float32, len(vars)),
	}
	for _, v := range vars {
		s.data[v] = nanSlice(len(times) * n)
	}
	for i, f := range grid.Frames {
		ti := slices.Index(times, grid.Times[i].Unix())
		if ti < 0 {
			return cycleSlice{}, fmt.Errorf("frame time %s not on store time axis", grid.Times[i].Format(time.RFC3339))
		}
		s.present[ti] = true
		for _, v := range vars {
			vals, ok := f.Layers.Get(v)
			if !ok {
				continue
			}
			dst := s.data[v][ti*n : (ti+1)*n]
			for j, x := range vals {
				dst[j] = float32(x)
			}
		}
	}
	return s, nil
}

// remap moves a slice from one time axis and variable set onto another.
func (s cycleSlice) remap(from, to []int64, vars []domain.Variable, n int) cycleSlice {
	out := cycleSlice{
		initTime: s.initTime,
		present:  make([]bool, len(to)),
		data:     make(map[domain.Variable][]float32, len(vars)),
	}
	for _, v := range vars {
		out.data[v] = nanSlice(len(to) * n)
	}
	for fi, t := range from {
		ti := slices.Index(to, t)
		if ti < 0 {
			continue
		}
		out.present[ti] = s.present[fi]
		for _, v := range vars {
			src, ok := s.data[v]
			if !ok {
				continue
			}
			copy(out.data[v][ti*n:(ti+1)*n], src[fi*n:(fi+1)*n])
		}
	}
	return out
}

func nanSlice(n int) []float32 {
	out := make([]float32, n)
	nan := float32(math.NaN())
	for i := range out {
		out[i] = nan
	}
	return out
}

func unionTimes(a, b []int64) []int64 {
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

func unionVars(a, b []domain.Variable) []domain.Variable {
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

func unixTimes(ts []time.Time) []int64 {
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.Unix()
	}
	return out
}

func chunkKey(parts ...int) string {
	s := strconv.Itoa(parts[0])
	for _, p := range parts[1:] {
		s += "." + strconv.Itoa(p)
	}
	return s
}

// metadata builds every .zgroup, .zattrs and .zarray document for a store
// holding nInit slices.
func (d *dataset) metadata(nInit int) map[string]any {
	nT, nLat, nLon := len(d.times), len(d.lats), len(d.lons)
	rowDim, colDim := gridDims(d.proj)
	m := map[string]any{
		".zgroup": groupMeta{ZarrFormat: zarrFormat},
		".zattrs": map[string]any{
			"source":      d.source,
			"Conventions": "CF-1.8",
		},
	}
	coord := func(name, dtype string, shape, chunks []int, fill any, attrs map[string]any) {
		m[name+"/.zarray"] = newArrayMeta(dtype, shape, chunks, fill)
		m[name+"/.zattrs"] = attrs
	}
	coord(dimInitTime, "<i8", []int{nInit}, []int{1}, nil, map[string]any{
		"_ARRAY_DIMENSIONS": []string{dimInitTime},
		"units":             epochUnits,
		"calendar":          "proleptic_gregorian",
	})
	coord(dimTime, "<i8", []int{nT}, []int{nT}, nil, map[string]any{
		"_ARRAY_DIMENSIONS": []string{dimTime},
		"units":             epochUnits,
		"calendar":          "proleptic_gregorian",
	})
	if d.proj.Present() {
		coord(dimY, "<f8", []int{nLat}, []int{nLat}, "NaN", map[string]any{
			"_ARRAY_DIMENSIONS": []string{dimY},
			"standard_name":     "projection_y_coordinate",
		})
		coord(dimX, "<f8", []int{nLon}, []int{nLon}, "NaN", map[string]any{
			"_ARRAY_DIMENSIONS": []string{dimX},
			"standard_name":     "projection_x_coordinate",
		})
		coord(dimLat, "<f8", []int{nLat, nLon}, []int{nLat, nLon}, "NaN", map[string]any{
			"_ARRAY_DIMENSIONS": []string{dimY, dimX},
			"units":             "degrees_north",
		})
		coord(dimLon, "<f8", []int{nLat, nLon}, []int{nLat, nLon}, "NaN", map[string]any{
			"_ARRAY_DIMENSIONS": []string{dimY, dimX},
			"units":             "degrees_east",
		})
	} else {
		coord(dimLat, "<f8", []int{nLat}, []int{nLat}, "NaN", map[string]any{
			"_ARRAY_DIMENSIONS": []string{dimLat},
			"units":             "degrees_north",
		})
		coord(dimLon, "<f8", []int{nLon}, []int{nLon}, "NaN", map[string]any{
			"_ARRAY_DIMENSIONS": []string{dimLon},
			"units":             "degrees_east",
		})
	}
	coord(presentArray, "|u1", []int{nInit, nT}, []int{1, nT}, 0, map[string]any{
		"_ARRAY_DIMENSIONS": []string{dimInitTime, dimTime},
	})
	for _, v := range d.vars {
		attrs := map[string]any{
			"_ARRAY_DIMENSIONS": []string{dimInitTime, dimTime, rowDim, colDim},
			"units":             v.Units(),
		}
		if d.proj.Present() {
			attrs["coordinates"] = dimLat + " " + dimLon
		}
		coord(v.String(), "<f4", []int{nInit, nT, nLat, nLon}, []int{1, nT, nLat, nLon}, "NaN", attrs)
	}
	return m
}

// writeMetadata writes each document to its own file, then .zmetadata.
func writeMetadata(root string, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := filepath.Join(root, filepath.FromSlash(k))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := writeJSON(path, m[k]); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(root, consolidatedFile), consolidated{Metadata: m, Format: 1})
}

func writeChunk(root, array, key string, data []byte) error {
	dir := filepath.Join(root, array)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, key), data, 0o644)
}

// writeSlice writes the chunks of one init_time at index i.
func (d *dataset) writeSlice(root string, i int, s cycleSlice) error {
	if err := writeChunk(root, dimInitTime, chunkKey(i), encodeInt64s([]int64{s.initTime})); err != nil {
		return err
	}
	if err := writeChunk(root, presentArray, chunkKey(i, 0), encodeBools(s.present)); err != nil {
		return err
	}
	for _, v := range d.vars {
		vals, ok := s.data[v]
		if !ok {
			vals = nanSlice(len(d.times) * d.points())
		}
		if err := writeChunk(root, v.String(), chunkKey(i, 0, 0, 0), encodeFloat32s(vals)); err != nil {
			return fmt.Errorf("write %s: %w", v, err)
		}
	}
	return nil
}

// writeAll writes the complete dataset into an empty directory.
func (d *dataset) writeAll(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if err := writeChunk(root, dimTime, chunkKey(0), encodeInt64s(d.times)); err != nil {
		return err
	}
	rowDim, colDim := gridDims(d.proj)
	if err := writeChunk(root, rowDim, chunkKey(0), encodeFloat64s(d.lats)); err != nil {
		return err
	}
	if err := writeChunk(root, colDim, chunkKey(0), encodeFloat64s(d.lons)); err != nil {
		return err
	}
	if p, ok := d.proj.Get(); ok {
		if err := writeChunk(root, dimLat, chunkKey(0, 0), encodeFloat64s(p.Lats)); err != nil {
			return err
		}
		if err := writeChunk(root, dimLon, chunkKey(0, 0), encodeFloat64s(p.Lons)); err != nil {
			return err
		}
	}
	for i, s := range d.cycles {
		if err := d.writeSlice(root, i, s); err != nil {
			return err
		}
	}
	return writeMetadata(root, d.metadata(len(d.cycles)))
}

func readChunk(root, array, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(root, array, key))
}

// readHeader loads the axes and variable names from a committed store.
func readHeader(root string) (header, error) {
	c, err := readConsolidated(root)
	if err != nil {
		return header{}, err
	}
	var h header

	var attrs map[string]any
	if err := decodeEntry(c, ".zattrs", &attrs); err != nil {
		return h, err
	}
	h.source, _ = attrs["source"].(string)

	rowDim, colDim := dimLat, dimLon
	_, projected := c.Metadata[dimY+"/.zarray"]
	if projected {
		rowDim, colDim = dimY, dimX
	}

	var initMeta, timeMeta, latMeta, lonMeta arrayMeta
	for _, e := range []struct {
		name string
		meta *arrayMeta
	}{
		{dimInitTime, &initMeta}, {dimTime, &timeMeta}, {rowDim, &latMeta}, {colDim, &lonMeta},
	} {
		if err := decodeEntry(c, e.name+"/.zarray", e.meta); err != nil {
			return h, err
		}
		if len(e.meta.Shape) != 1 {
			return h, fmt.Errorf("%s has shape %v, want one dimension", e.name, e.meta.Shape)
		}
	}
	h.nInit = initMeta.Shape[0]

	if h.times, err = readInt64Array(root, dimTime, timeMeta.Shape[0]); err != nil {
		return h, err
	}
	if h.lats, err = readFloat64Array(root, rowDim, latMeta.Shape[0]); err != nil {
		return h, err
	}
	if h.lons, err = readFloat64Array(root, colDim, lonMeta.Shape[0]); err != nil {
		return h, err
	}
	if projected {
		if h.proj, err = readCellCoords(root, len(h.lats)*len(h.lons)); err != nil {
			return h, err
		}
	}

	for k := range c.Metadata {
		name, ok := strings.CutSuffix(k, "/.zarray")
		if !ok {
			continue
		}
		if _, ok := domain.ParseVariable(name); ok {
			h.variables = append(h.variables, name)
		}
	}
	sort.Strings(h.variables)
	return h, nil
}

// readCellCoords loads the 2-D latitude and longitude arrays of a
// projected store.
func readCellCoords(root string, n int) (domain.Optional[domain.Projected], error) {
	var p domain.Projected
	for _, e := range []struct {
		name string
		dst  *[]float64
	}{{dimLat, &p.Lats}, {dimLon, &p.Lons}} {
		data, err := readChunk(root, e.name, chunkKey(0, 0))
		if err != nil {
			return domain.None[domain.Projected](), err
		}
		if *e.dst, err = decodeFloat64s(data, n); err != nil {
			return domain.None[domain.Projected](), fmt.Errorf("%s: %w", e.name, err)
		}
	}
	return domain.Some(p), nil
}

func readInt64Array(root, array string, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	data, err := readChunk(root, array, chunkKey(0))
	if err != nil {
		return nil, err
	}
	return decodeInt64s(data, n)
}

func readFloat64Array(root, array string, n int) ([]float64, error) {
	if n == 0 {
		return nil, nil
	}
	data, err := readChunk(root, array, chunkKey(0))
	if err != nil {
		return nil, err
	}
	return decodeFloat64s(data, n)
}

func (h header) vars() []domain.Variable {
	out := make([]domain.Variable, 0, len(h.variables))
	for _, name := range h.variables {
		if v, ok := domain.ParseVariable(name); ok {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// loadSlice reads the chunks of init_time index i.
func loadSlice(root string, h header, i int) (cycleSlice, error) {
	data, err := readChunk(root, dimInitTime, chunkKey(i))
	if err != nil {
		return cycleSlice{}, err
	}
	it, err := decodeInt64s(data, 1)
	if err != nil {
		return cycleSlice{}, fmt.Errorf("%s[%d]: %w", dimInitTime, i, err)
	}
	s := cycleSlice{initTime: it[0], data: make(map[domain.Variable][]float32)}

	nT := len(h.times)
	data, err = readChunk(root, presentArray, chunkKey(i, 0))
	if err != nil {
		return cycleSlice{}, err
	}
	if s.present, err = decodeBools(data, nT); err != nil {
		return cycleSlice{}, fmt.Errorf("%s[%d]: %w", presentArray, i, err)
	}

	n := nT * len(h.lats) * len(h.lons)
	for _, v := range h.vars() {
		data, err := readChunk(root, v.String(), chunkKey(i, 0, 0, 0))
		if errors.Is(err, os.ErrNotExist) {
			s.data[v] = nanSlice(n)
			continue
		}
		if err != nil {
			return cycleSlice{}, err
		}
		if s.data[v], err = decodeFloat32s(data, n); err != nil {
			return cycleSlice{}, fmt.Errorf("%s[%d]: %w", v, i, err)
		}
	}
	return s, nil
}

// load reads a whole committed store.
func load(root string) (*dataset, error) {
	h, err := readHeader(root)
	if err != nil {
		return nil, err
	}
	d := &dataset{source: h.source, times: h.times, lats: h.lats, lons: h.lons, proj: h.proj, vars: h.vars()}
	for i := 0; i < h.nInit; i++ {
		s, err := loadSlice(root, h, i)
		if err != nil {
			return nil, err
		}
		d.cycles = append(d.cycles, s)
	}
	return d, nil
}
