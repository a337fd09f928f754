// Package domain models gridded numerical weather prediction output and the
// steps that turn per-forecast-hour source files into one cycle-indexed grid.
//
// # Data Sources
//
// GFS (NOAA Global Forecast System) publishes one GRIB2 file per forecast
// hour for each of the four daily cycles (00, 06, 12, 18 UTC), named
// gfs.tHHz.pgrb2.0p25.fNNN. A single file mixes records on many vertical
// levels, so variables cannot be read as one dataset: each one is isolated
// by a (level type, level value, short name) filter, see [FieldSpec].
//
// MET Nordic analyses are NetCDF files carrying CF-named variables such as
// air_temperature_2m and wind_speed_of_gust. They share the same filter
// model, with the CF variable name as short name.
//
// # Coordinate Conventions
//
// Grids are regular latitude/longitude. GFS longitudes run 0..360 and
// latitudes north to south. [BBox.Clip] normalizes longitudes to [-180, 180)
// and sorts them so a window crossing the prime meridian stays contiguous.
// Values are row-major by latitude; missing cells are NaN.
//
// Time: cfgrib-style decoders report a reference "time", a forecast "step",
// and a "valid_time". A frame is stamped with the valid time when known,
// otherwise reference time plus step. See [ResolveTime].
//
// # Pipeline Shapes
//
//	SourceFile --Decoder--> Extraction (Present | Absent), one per FieldSpec
//	Extractions --Merge--> Frame (one time step, canonical Layers)
//	Frame --Derive--> Frame with wind speed/direction, density, power, gust
//	[]Frame --Assemble--> CycleGrid (init_time × time × latitude × longitude)
//
// Derived formulas:
//
//	speed      = sqrt(u² + v²)
//	direction  = (270 − atan2(v, u)·180/π) mod 360
//	density    = P / (287.058 · T)
//	power      = 0.5 · density · speed_100m³
//
// # Failure Model
//
// A missing field is Absent, never an error. A file with no fields or no
// time coordinate fails with [ErrNoUsableFields] or [ErrNoTimeCoordinate]
// and is skipped. Only [ErrNoValidFrames] and store failures stop a cycle.
package domain
