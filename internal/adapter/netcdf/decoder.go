// Package netcdf decodes CF-convention NetCDF analysis files such as the
// MET Nordic products. It needs cgo and libnetcdf.
package netcdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/fhs/go-netcdf/netcdf"
)

// ErrUnsupportedGrid is returned for coordinates of more than two
// dimensions and for multi-step variables.
var ErrUnsupportedGrid = errors.New("unsupported grid")

// libMu serializes calls into libnetcdf, which is not thread-safe.
var libMu sync.Mutex

var (
	latNames = []string{"latitude", "lat"}
	lonNames = []string{"longitude", "lon"}
)

// Decoder implements domain.Decoder for NetCDF files on a regular lat/lon
// grid or on a projected y/x grid with 2-D latitude and longitude, the
// layout of the MET Nordic analysis. Times are decoded from their CF units.
type Decoder struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewDecoder creates a decoder. A zero timeout disables the per-call deadline.
func NewDecoder(timeout time.Duration, logger *slog.Logger) *Decoder {
	return &Decoder{timeout: timeout, logger: logger}
}

type decodeResult struct {
	field domain.Field
	err   error
}

// Decode reads spec.ShortName from the file. A read that outlives the
// timeout is abandoned; the library call finishes in the background.
func (d *Decoder) Decode(ctx context.Context, file domain.SourceFile, spec domain.FieldSpec) (domain.Field, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan decodeResult, 1)
	go func() {
		f, err := readField(file.Path, spec)
		done <- decodeResult{field: f, err: err}
	}()

	select {
	case <-ctx.Done():
		d.logger.Warn("netcdf read abandoned", "file", file.Path, "canonical_name", spec.CanonicalName, "error", ctx.Err())
		return domain.Field{}, fmt.Errorf("read %s: %w", spec.ShortName, ctx.Err())
	case res := <-done:
		return res.field, res.err
	}
}

func readField(path string, spec domain.FieldSpec) (domain.Field, error) {
	libMu.Lock()
	defer libMu.Unlock()

	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return domain.Field{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	g, err := readGrid(nc)
	if err != nil {
		return domain.Field{}, err
	}

	v, err := nc.Var(spec.ShortName)
	if err != nil {
		return domain.Field{}, fmt.Errorf("%s: %w", spec, domain.ErrFieldNotFound)
	}
	dims, err := v.Dims()
	if err != nil {
		return domain.Field{}, fmt.Errorf("%s dims: %w", spec.ShortName, err)
	}
	shape := make([]int, len(dims))
	for i, dim := range dims {
		n, err := dim.Len()
		if err != nil {
			return domain.Field{}, fmt.Errorf("%s dim %d: %w", spec.ShortName, i, err)
		}
		shape[i] = int(n)
	}
	if err := checkShape(shape, len(g.rows), len(g.cols)); err != nil {
		return domain.Field{}, fmt.Errorf("%s: %w", spec.ShortName, err)
	}

	values, err := readFloat64s(v, len(g.rows)*len(g.cols))
	if err != nil {
		return domain.Field{}, fmt.Errorf("read %s: %w", spec.ShortName, err)
	}
	applyPacking(values, attrFloat(v, "_FillValue"), attrFloat(v, "scale_factor"), attrFloat(v, "add_offset"))

	field := domain.Field{
		Spec:      spec,
		Lats:      g.rows,
		Lons:      g.cols,
		Values:    values,
		Projected: g.proj,
	}
	if field.ValidTime, err = readScalarTime(nc, "time"); err != nil {
		return domain.Field{}, err
	}
	if field.Time, err = readScalarTime(nc, "forecast_reference_time"); err != nil {
		return domain.Field{}, err
	}
	if spec.LevelType == domain.LevelHeightAboveGround {
		field.Level = spec.LevelValue
	}
	return field, nil
}

// checkShape accepts (..., lat, lon) where every leading dimension is a
// singleton, e.g. (time=1, height=1, lat, lon).
func checkShape(shape []int, nLat, nLon int) error {
	if len(shape) < 2 {
		return fmt.Errorf("variable has %d dimensions, want at least latitude and longitude", len(shape))
	}
	n := len(shape)
	if shape[n-2] != nLat || shape[n-1] != nLon {
		return fmt.Errorf("variable grid %dx%d does not match axes %dx%d", shape[n-2], shape[n-1], nLat, nLon)
	}
	for _, s := range shape[:n-2] {
		if s != 1 {
			return fmt.Errorf("variable shape %v holds more than one time step: %w", shape, ErrUnsupportedGrid)
		}
	}
	return nil
}

// horizontal is the horizontal layout of a file: latitude and longitude
// axes, or y and x axes plus per-cell coordinates.
type horizontal struct {
	rows []float64
	cols []float64
	proj domain.Optional[domain.Projected]
}

func findVar(nc netcdf.Dataset, names []string) (netcdf.Var, string, error) {
	for _, name := range names {
		if v, err := nc.Var(name); err == nil {
			return v, name, nil
		}
	}
	return netcdf.Var{}, "", fmt.Errorf("no coordinate variable among %v", names)
}

func dimLens(dims []netcdf.Dim) ([]int, error) {
	out := make([]int, len(dims))
	for i, d := range dims {
		n, err := d.Len()
		if err != nil {
			return nil, err
		}
		out[i] = int(n)
	}
	return out, nil
}

func readGrid(nc netcdf.Dataset) (horizontal, error) {
	latVar, latName, err := findVar(nc, latNames)
	if err != nil {
		return horizontal{}, err
	}
	lonVar, lonName, err := findVar(nc, lonNames)
	if err != nil {
		return horizontal{}, err
	}
	latDims, err := latVar.Dims()
	if err != nil {
		return horizontal{}, fmt.Errorf("%s dims: %w", latName, err)
	}
	lonDims, err := lonVar.Dims()
	if err != nil {
		return horizontal{}, fmt.Errorf("%s dims: %w", lonName, err)
	}
	latShape, err := dimLens(latDims)
	if err != nil {
		return horizontal{}, fmt.Errorf("%s length: %w", latName, err)
	}
	lonShape, err := dimLens(lonDims)
	if err != nil {
		return horizontal{}, fmt.Errorf("%s length: %w", lonName, err)
	}

	switch {
	case len(latShape) == 1 && len(lonShape) == 1:
		lats, err := readFloat64s(latVar, latShape[0])
		if err != nil {
			return horizontal{}, fmt.Errorf("read %s: %w", latName, err)
		}
		lons, err := readFloat64s(lonVar, lonShape[0])
		if err != nil {
			return horizontal{}, fmt.Errorf("read %s: %w", lonName, err)
		}
		return horizontal{rows: lats, cols: lons}, nil

	case len(latShape) == 2 && len(lonShape) == 2:
		if latShape[0] != lonShape[0] || latShape[1] != lonShape[1] {
			return horizontal{}, fmt.Errorf("%s is %v but %s is %v: %w", latName, latShape, lonName, lonShape, ErrUnsupportedGrid)
		}
		ny, nx := latShape[0], latShape[1]
		rows, err := dimAxis(nc, latDims[0], ny)
		if err != nil {
			return horizontal{}, err
		}
		cols, err := dimAxis(nc, latDims[1], nx)
		if err != nil {
			return horizontal{}, err
		}
		var p domain.Projected
		if p.Lats, err = readFloat64s(latVar, ny*nx); err != nil {
			return horizontal{}, fmt.Errorf("read %s: %w", latName, err)
		}
		if p.Lons, err = readFloat64s(lonVar, ny*nx); err != nil {
			return horizontal{}, fmt.Errorf("read %s: %w", lonName, err)
		}
		return horizontal{rows: rows, cols: cols, proj: domain.Some(p)}, nil
	}
	return horizontal{}, fmt.Errorf("%s is %d-dimensional and %s is %d-dimensional: %w",
		latName, len(latShape), lonName, len(lonShape), ErrUnsupportedGrid)
}

// dimAxis reads the coordinate variable of dim, or numbers the cells when
// the file has none.
func dimAxis(nc netcdf.Dataset, dim netcdf.Dim, n int) ([]float64, error) {
	name, err := dim.Name()
	if err != nil {
		return nil, fmt.Errorf("dimension name: %w", err)
	}
	if v, err := nc.Var(name); err == nil {
		vals, err := readFloat64s(v, n)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return vals, nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out, nil
}

// readScalarTime decodes a single-valued time coordinate. A missing or
// multi-valued variable is absent; a value whose units cannot be decoded
// is an error.
func readScalarTime(nc netcdf.Dataset, name string) (domain.Optional[time.Time], error) {
	none := domain.None[time.Time]()
	v, err := nc.Var(name)
	if err != nil {
		return none, nil
	}
	dims, err := v.Dims()
	if err != nil {
		return none, nil
	}
	shape, err := dimLens(dims)
	if err != nil {
		return none, nil
	}
	n := 1
	for _, l := range shape {
		n *= l
	}
	if n != 1 {
		return none, nil
	}
	vals, err := readFloat64s(v, 1)
	if err != nil || math.IsNaN(vals[0]) {
		return none, nil
	}
	units, ok := attrString(v, "units")
	if !ok {
		return none, fmt.Errorf("%s has no units: %w", name, domain.ErrNoTimeCoordinate)
	}
	t, err := decodeCFTime(vals[0], units)
	if err != nil {
		return none, fmt.Errorf("%s: %w: %v", name, domain.ErrNoTimeCoordinate, err)
	}
	return domain.Some(t), nil
}

func readFloat64s(v netcdf.Var, n int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("variable type: %w", err)
	}
	out := make([]float64, n)
	switch t {
	case netcdf.DOUBLE:
		err = v.ReadFloat64s(out)
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err = v.ReadFloat32s(buf); err == nil {
			for i, x := range buf {
				out[i] = float64(x)
			}
		}
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err = v.ReadInt16s(buf); err == nil {
			for i, x := range buf {
				out[i] = float64(x)
			}
		}
	case netcdf.INT:
		buf := make([]int32, n)
		if err = v.ReadInt32s(buf); err == nil {
			for i, x := range buf {
				out[i] = float64(x)
			}
		}
	case netcdf.INT64:
		buf := make([]int64, n)
		if err = v.ReadInt64s(buf); err == nil {
			for i, x := range buf {
				out[i] = float64(x)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported data type %v", t)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// attrString reads a text attribute.
func attrString(v netcdf.Var, name string) (string, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return "", false
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", false
	}
	return strings.TrimRight(string(buf), "\x00"), true
}

// attrFloat reads a numeric scalar attribute of any common type.
func attrFloat(v netcdf.Var, name string) domain.Optional[float64] {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return domain.None[float64]()
	}
	f64 := make([]float64, n)
	if err := a.ReadFloat64s(f64); err == nil {
		return domain.Some(f64[0])
	}
	f32 := make([]float32, n)
	if err := a.ReadFloat32s(f32); err == nil {
		return domain.Some(float64(f32[0]))
	}
	i32 := make([]int32, n)
	if err := a.ReadInt32s(i32); err == nil {
		return domain.Some(float64(i32[0]))
	}
	i16 := make([]int16, n)
	if err := a.ReadInt16s(i16); err == nil {
		return domain.Some(float64(i16[0]))
	}
	return domain.None[float64]()
}

// applyPacking masks fill values to NaN, then unpacks scale and offset.
func applyPacking(values []float64, fill, scale, offset domain.Optional[float64]) {
	fv, hasFill := fill.Get()
	sf := scale.OrElse(1)
	ao := offset.OrElse(0)
	for i, x := range values {
		if hasFill && (x == fv || (math.IsNaN(fv) && math.IsNaN(x))) {
			values[i] = math.NaN()
			continue
		}
		values[i] = x*sf + ao
	}
}
