package netcdf

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/fhs/go-netcdf/netcdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validAt = time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const epochSeconds = "seconds since 1970-01-01 00:00:00 +00:00"

// writeAnalysis creates a MET Nordic style file with nTime steps on a
// 2x3 regular grid.
func writeAnalysis(t *testing.T, nTime int) string {
	t.Helper()
	return writeAnalysisTimes(t, nTime, epochSeconds, func(tm time.Time) float64 { return float64(tm.Unix()) })
}

// writeAnalysisTimes is writeAnalysis with the time coordinate encoded in
// the given units; empty units leaves the attribute off.
func writeAnalysisTimes(t *testing.T, nTime int, units string, encode func(time.Time) float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "met_analysis_1_0km_nordic_20240101T06Z.nc")

	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	require.NoError(t, err)
	defer f.Close()

	timeDim, err := f.AddDim("time", uint64(nTime))
	require.NoError(t, err)
	latDim, err := f.AddDim("latitude", 2)
	require.NoError(t, err)
	lonDim, err := f.AddDim("longitude", 3)
	require.NoError(t, err)

	vtime, err := f.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	require.NoError(t, err)
	if units != "" {
		require.NoError(t, vtime.Attr("units").WriteBytes([]byte(units)))
	}
	vlat, err := f.AddVar("latitude", netcdf.DOUBLE, []netcdf.Dim{latDim})
	require.NoError(t, err)
	vlon, err := f.AddVar("longitude", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	require.NoError(t, err)
	vtemp, err := f.AddVar("air_temperature_2m", netcdf.FLOAT, []netcdf.Dim{timeDim, latDim, lonDim})
	require.NoError(t, err)
	vgust, err := f.AddVar("wind_speed_of_gust", netcdf.DOUBLE, []netcdf.Dim{timeDim, latDim, lonDim})
	require.NoError(t, err)
	require.NoError(t, f.EndDef())

	times := make([]float64, nTime)
	for i := range times {
		times[i] = encode(validAt.Add(time.Duration(i) * time.Hour))
	}
	require.NoError(t, vtime.WriteFloat64s(times))
	require.NoError(t, vlat.WriteFloat64s([]float64{60, 61}))
	require.NoError(t, vlon.WriteFloat64s([]float64{10, 11, 12}))

	temps := make([]float32, nTime*6)
	gusts := make([]float64, nTime*6)
	for i := range temps {
		temps[i] = 270 + float32(i)
		gusts[i] = float64(i)
	}
	require.NoError(t, vtemp.WriteFloat32s(temps))
	require.NoError(t, vgust.WriteFloat64s(gusts))
	return path
}

func specByName(t *testing.T, canonical string) domain.FieldSpec {
	t.Helper()
	for _, s := range domain.METNordicCatalog() {
		if s.CanonicalName == canonical {
			return s
		}
	}
	t.Fatalf("no catalog entry %s", canonical)
	return domain.FieldSpec{}
}

func TestDecoder_Decode(t *testing.T) {
	path := writeAnalysis(t, 1)
	d := NewDecoder(10*time.Second, discardLogger())
	file := domain.SourceFile{Path: path, Format: domain.FormatNetCDF}

	temp, err := d.Decode(context.Background(), file, specByName(t, "temperature_2m"))
	require.NoError(t, err)
	assert.Equal(t, []float64{60, 61}, temp.Lats)
	assert.Equal(t, []float64{10, 11, 12}, temp.Lons)
	assert.Equal(t, []float64{270, 271, 272, 273, 274, 275}, temp.Values)
	vt, ok := temp.ValidTime.Get()
	require.True(t, ok)
	assert.Equal(t, validAt, vt)
	assert.False(t, temp.Time.Present())

	gust, err := d.Decode(context.Background(), file, specByName(t, "wind_gust"))
	require.NoError(t, err)
	assert.Equal(t, 5.0, gust.Values[5])
}

// writeProjected creates a MET Nordic analysis style file on a 3x4 y/x
// grid with 2-D latitude and longitude: lat = 58 + row + 0.1*col and
// lon = 8 + col + 0.2*row. Temperatures are 270 + cell index.
func writeProjected(t *testing.T) string {
	t.Helper()
	const ny, nx = 3, 4
	path := filepath.Join(t.TempDir(), "met_analysis_1_0km_nordic_20240101T06Z.nc")

	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	require.NoError(t, err)
	defer f.Close()

	timeDim, err := f.AddDim("time", 1)
	require.NoError(t, err)
	yDim, err := f.AddDim("y", ny)
	require.NoError(t, err)
	xDim, err := f.AddDim("x", nx)
	require.NoError(t, err)

	vtime, err := f.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	require.NoError(t, err)
	require.NoError(t, vtime.Attr("units").WriteBytes([]byte(epochSeconds)))
	vy, err := f.AddVar("y", netcdf.DOUBLE, []netcdf.Dim{yDim})
	require.NoError(t, err)
	vx, err := f.AddVar("x", netcdf.DOUBLE, []netcdf.Dim{xDim})
	require.NoError(t, err)
	vlat, err := f.AddVar("latitude", netcdf.DOUBLE, []netcdf.Dim{yDim, xDim})
	require.NoError(t, err)
	vlon, err := f.AddVar("longitude", netcdf.DOUBLE, []netcdf.Dim{yDim, xDim})
	require.NoError(t, err)
	vtemp, err := f.AddVar("air_temperature_2m", netcdf.FLOAT, []netcdf.Dim{timeDim, yDim, xDim})
	require.NoError(t, err)
	require.NoError(t, f.EndDef())

	lats := make([]float64, ny*nx)
	lons := make([]float64, ny*nx)
	temps := make([]float32, ny*nx)
	for r := range ny {
		for c := range nx {
			i := r*nx + c
			lats[i] = 58 + float64(r) + 0.1*float64(c)
			lons[i] = 8 + float64(c) + 0.2*float64(r)
			temps[i] = 270 + float32(i)
		}
	}
	require.NoError(t, vtime.WriteFloat64s([]float64{float64(validAt.Unix())}))
	require.NoError(t, vy.WriteFloat64s([]float64{-1000, 0, 1000}))
	require.NoError(t, vx.WriteFloat64s([]float64{-1500, -500, 500, 1500}))
	require.NoError(t, vlat.WriteFloat64s(lats))
	require.NoError(t, vlon.WriteFloat64s(lons))
	require.NoError(t, vtemp.WriteFloat32s(temps))
	return path
}

func TestDecoder_ProjectedGrid(t *testing.T) {
	d := NewDecoder(10*time.Second, discardLogger())
	file := domain.SourceFile{Path: writeProjected(t), Format: domain.FormatNetCDF}

	temp, err := d.Decode(context.Background(), file, specByName(t, "temperature_2m"))

	require.NoError(t, err)
	assert.Equal(t, []float64{-1000, 0, 1000}, temp.Lats)
	assert.Equal(t, []float64{-1500, -500, 500, 1500}, temp.Lons)
	require.Len(t, temp.Values, 12)
	assert.Equal(t, 281.0, temp.Values[11])
	cells, ok := temp.Projected.Get()
	require.True(t, ok)
	assert.InDelta(t, 59.2, cells.Lats[6], 1e-9)
	assert.InDelta(t, 10.2, cells.Lons[6], 1e-9)
	vt, _ := temp.ValidTime.Get()
	assert.Equal(t, validAt, vt)

	clipped, err := domain.BBox{LatMin: 58.9, LatMax: 60.25, LonMin: 9, LonMax: 10.5}.Clip(temp)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1000}, clipped.Lats)
	assert.Equal(t, []float64{275, 276, 279, 280}, clipped.Values)
}

func TestDecoder_HoursSinceReference(t *testing.T) {
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	path := writeAnalysisTimes(t, 1, "hours since 2024-01-01 00:00:00", func(tm time.Time) float64 {
		return tm.Sub(ref).Hours()
	})
	d := NewDecoder(10*time.Second, discardLogger())

	temp, err := d.Decode(context.Background(), domain.SourceFile{Path: path}, specByName(t, "temperature_2m"))

	require.NoError(t, err)
	vt, ok := temp.ValidTime.Get()
	require.True(t, ok)
	assert.Equal(t, validAt, vt)
}

func TestDecoder_UnusableTimeUnits(t *testing.T) {
	d := NewDecoder(10*time.Second, discardLogger())
	unix := func(tm time.Time) float64 { return float64(tm.Unix()) }

	for name, units := range map[string]string{
		"missing":   "",
		"calendar":  "months since 2024-01-01",
		"no anchor": "seconds",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeAnalysisTimes(t, 1, units, unix)
			_, err := d.Decode(context.Background(), domain.SourceFile{Path: path}, specByName(t, "temperature_2m"))
			assert.ErrorIs(t, err, domain.ErrNoTimeCoordinate)
		})
	}
}

func TestDecodeCFTime(t *testing.T) {
	tests := []struct {
		units string
		value float64
		want  time.Time
	}{
		{epochSeconds, 1704088800, validAt},
		{"hours since 2024-01-01", 6, validAt},
		{"minutes since 2024-01-01T00:00:00Z", 360, validAt},
		{"days since 2023-12-31 06:00", 1, validAt},
		{"seconds since 1970-1-1 0:0:0", 1704088800, validAt},
		{"hours since 2024-01-01 02:00:00 +02:00", 6, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)},
		{"hours since 2024-01-01 00:00:00 UTC", 6.5, validAt.Add(30 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			got, err := decodeCFTime(tt.value, tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := decodeCFTime(1, "fortnights since 2024-01-01")
	assert.Error(t, err)
	_, err = decodeCFTime(1, "hours since yesterday")
	assert.Error(t, err)
	_, err = decodeCFTime(1e300, "days since 2024-01-01")
	assert.Error(t, err)
}

func TestDecoder_FieldNotFound(t *testing.T) {
	path := writeAnalysis(t, 1)
	d := NewDecoder(10*time.Second, discardLogger())

	_, err := d.Decode(context.Background(), domain.SourceFile{Path: path}, specByName(t, "precipitation_amount"))
	assert.ErrorIs(t, err, domain.ErrFieldNotFound)
}

func TestDecoder_MultipleTimeSteps(t *testing.T) {
	path := writeAnalysis(t, 2)
	d := NewDecoder(10*time.Second, discardLogger())

	_, err := d.Decode(context.Background(), domain.SourceFile{Path: path}, specByName(t, "temperature_2m"))
	assert.ErrorIs(t, err, ErrUnsupportedGrid)
}

func TestDecoder_MissingFile(t *testing.T) {
	d := NewDecoder(time.Second, discardLogger())
	_, err := d.Decode(context.Background(), domain.SourceFile{Path: filepath.Join(t.TempDir(), "none.nc")}, specByName(t, "temperature_2m"))
	assert.Error(t, err)
}

func TestCheckShape(t *testing.T) {
	assert.NoError(t, checkShape([]int{2, 3}, 2, 3))
	assert.NoError(t, checkShape([]int{1, 1, 2, 3}, 2, 3))
	assert.Error(t, checkShape([]int{3}, 2, 3))
	assert.Error(t, checkShape([]int{1, 3, 2}, 2, 3))
}

func TestApplyPacking(t *testing.T) {
	vals := []float64{-999, 10, 20}
	applyPacking(vals, domain.Some(-999.0), domain.Some(0.5), domain.Some(100.0))

	assert.True(t, math.IsNaN(vals[0]))
	assert.Equal(t, 105.0, vals[1])
	assert.Equal(t, 110.0, vals[2])

	plain := []float64{1, 2}
	applyPacking(plain, domain.None[float64](), domain.None[float64](), domain.None[float64]())
	assert.Equal(t, []float64{1, 2}, plain)
}
