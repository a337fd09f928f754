// Command genmock writes synthetic MET Nordic style NetCDF analysis files for
// one cycle into the raw directory layout, so the ingest engine can be run
// locally without downloading real model output.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -raw-dir raw \
//	  -date 20240101 -cycle 06 \
//	  -steps 3
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/couchcryptid/weather-grid-etl/internal/pipeline"
	"github.com/fhs/go-netcdf/netcdf"
)

// variable is one CF variable written into every file.
type variable struct {
	name  string
	units string
	value func(step int, lat, lon float64) float64
}

var variables = []variable{
	{name: "air_temperature_2m", units: "K", value: func(step int, lat, _ float64) float64 {
		return 288 - 0.6*(lat-55) + float64(step)
	}},
	{name: "wind_speed_10m", units: "m/s", value: func(step int, lat, lon float64) float64 {
		return 5 + 2*math.Sin(lat/10) + 0.1*lon + 0.5*float64(step)
	}},
	{name: "wind_direction_10m", units: "degree", value: func(step int, _, lon float64) float64 {
		return math.Mod(240+lon+10*float64(step), 360)
	}},
	{name: "surface_air_pressure", units: "Pa", value: func(_ int, lat, _ float64) float64 {
		return 101325 - 50*(lat-55)
	}},
	{name: "air_pressure_at_sea_level", units: "Pa", value: func(_ int, lat, _ float64) float64 {
		return 101500 - 40*(lat-55)
	}},
	{name: "precipitation_amount", units: "kg/m^2", value: func(step int, _, _ float64) float64 {
		return 0.2 * float64(step)
	}},
	{name: "cloud_area_fraction", units: "1", value: func(_ int, lat, _ float64) float64 {
		return math.Min(1, math.Max(0, (lat-50)/20))
	}},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	rawDir := flag.String("raw-dir", "raw", "root of the raw source tree")
	source := flag.String("source", "met", "source name used in the directory layout")
	date := flag.String("date", "", "cycle date, YYYYMMDD")
	cycle := flag.String("cycle", "00", "cycle hour, HH")
	steps := flag.Int("steps", 3, "number of hourly files to write")
	latMin := flag.Float64("lat-min", 55, "southern edge of the grid")
	lonMin := flag.Float64("lon-min", 5, "western edge of the grid")
	res := flag.Float64("res", 0.5, "grid spacing in degrees")
	nLat := flag.Int("nlat", 10, "number of latitudes")
	nLon := flag.Int("nlon", 12, "number of longitudes")
	flag.Parse()

	if *date == "" || *steps < 1 || *nLat < 1 || *nLon < 1 {
		flag.Usage()
		return fmt.Errorf("missing or invalid flags: -date, -steps, -nlat, -nlon")
	}
	key, err := domain.ParseCycleKey(*source, *date, *cycle)
	if err != nil {
		return err
	}

	dir := pipeline.CycleDir(*rawDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	lats := axis(*latMin, *res, *nLat)
	lons := axis(*lonMin, *res, *nLon)
	for step := range *steps {
		valid := key.InitTime().Add(time.Duration(step) * time.Hour)
		name := fmt.Sprintf("met_analysis_1_0km_nordic_%s.nc", valid.Format("20060102T15Z"))
		path := filepath.Join(dir, name)
		if err := writeFile(path, key.InitTime(), valid, step, lats, lons); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Printf("wrote %s", path)
	}
	log.Printf("cycle %s: %d files, %dx%d grid", key, *steps, len(lats), len(lons))
	return nil
}

func axis(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func writeFile(path string, ref, valid time.Time, step int, lats, lons []float64) error {
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return err
	}
	defer ds.Close()

	timeDim, err := ds.AddDim("time", 1)
	if err != nil {
		return err
	}
	latDim, err := ds.AddDim("latitude", uint64(len(lats)))
	if err != nil {
		return err
	}
	lonDim, err := ds.AddDim("longitude", uint64(len(lons)))
	if err != nil {
		return err
	}

	timeVar, err := ds.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	if err != nil {
		return err
	}
	refVar, err := ds.AddVar("forecast_reference_time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	if err != nil {
		return err
	}
	latVar, err := ds.AddVar("latitude", netcdf.DOUBLE, []netcdf.Dim{latDim})
	if err != nil {
		return err
	}
	lonVar, err := ds.AddVar("longitude", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	if err != nil {
		return err
	}
	dataVars := make([]netcdf.Var, len(variables))
	for i, v := range variables {
		dataVars[i], err = ds.AddVar(v.name, netcdf.FLOAT, []netcdf.Dim{timeDim, latDim, lonDim})
		if err != nil {
			return err
		}
		if err := dataVars[i].Attr("units").WriteBytes([]byte(v.units)); err != nil {
			return err
		}
	}
	for _, v := range []netcdf.Var{timeVar, refVar} {
		if err := v.Attr("units").WriteBytes([]byte("seconds since 1970-01-01 00:00:00 +00:00")); err != nil {
			return err
		}
	}
	if err := ds.EndDef(); err != nil {
		return err
	}

	if err := timeVar.WriteFloat64s([]float64{float64(valid.Unix())}); err != nil {
		return err
	}
	if err := refVar.WriteFloat64s([]float64{float64(ref.Unix())}); err != nil {
		return err
	}
	if err := latVar.WriteFloat64s(lats); err != nil {
		return err
	}
	if err := lonVar.WriteFloat64s(lons); err != nil {
		return err
	}
	for i, v := range variables {
		vals := make([]float32, 0, len(lats)*len(lons))
		for _, lat := range lats {
			for _, lon := range lons {
				vals = append(vals, float32(v.value(step, lat, lon)))
			}
		}
		if err := dataVars[i].WriteFloat32s(vals); err != nil {
			return err
		}
	}
	return nil
}
