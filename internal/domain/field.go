package domain

import (
	"context"
	"fmt"
	"time"
)

// GridFormat is the on-disk encoding of a source file.
type GridFormat string

const (
	FormatGRIB2  GridFormat = "grib2"
	FormatNetCDF GridFormat = "netcdf"
)

// SourceFile is one forecast valid time's worth of raw gridded data for a cycle.
type SourceFile struct {
	Path         string
	Format       GridFormat
	Cycle        CycleKey
	ForecastHour Optional[int]
}

// Projected holds the per-cell geographic coordinates of a grid whose axes
// are projection y and x, such as a Lambert conformal analysis grid. Both
// slices are row-major by y with len(y)*len(x) entries.
type Projected struct {
	Lats []float64
	Lons []float64
}

// Field is one FieldSpec located in a SourceFile: a lat×lon grid stored
// row-major by latitude, plus whatever time coordinates the decoder found.
// On a projected grid Lats and Lons are the y and x axes and Projected
// carries each cell's latitude and longitude.
type Field struct {
	Spec      FieldSpec
	Lats      []float64
	Lons      []float64
	Values    []float64
	Projected Optional[Projected]

	// Time is the generic time coordinate. GRIB decoders report the
	// reference (analysis) time here.
	Time      Optional[time.Time]
	ValidTime Optional[time.Time]
	Step      Optional[time.Duration]
	// Level is the height label, metadata only.
	Level Optional[float64]
}

// Validate checks the grid shape.
func (f Field) Validate() error {
	if len(f.Lats) == 0 || len(f.Lons) == 0 {
		return fmt.Errorf("%s: empty coordinates", f.Spec.CanonicalName)
	}
	n := len(f.Lats) * len(f.Lons)
	if len(f.Values) != n {
		return fmt.Errorf("%s: %d values for %dx%d grid", f.Spec.CanonicalName, len(f.Values), len(f.Lats), len(f.Lons))
	}
	if p, ok := f.Projected.Get(); ok && (len(p.Lats) != n || len(p.Lons) != n) {
		return fmt.Errorf("%s: %d/%d cell coordinates for %dx%d grid", f.Spec.CanonicalName, len(p.Lats), len(p.Lons), len(f.Lats), len(f.Lons))
	}
	return nil
}

// Extraction is the result of applying one FieldSpec to one file:
// either a present Field or absent with a reason.
type Extraction struct {
	Spec   FieldSpec
	field  Optional[Field]
	Reason error
}

// Present wraps a successfully extracted field.
func Present(f Field) Extraction {
	return Extraction{Spec: f.Spec, field: Some(f)}
}

// Absent records that spec could not be extracted.
func Absent(spec FieldSpec, reason error) Extraction {
	return Extraction{Spec: spec, Reason: reason}
}

// Field returns the extracted field if present.
func (e Extraction) Field() (Field, bool) {
	return e.field.Get()
}

// IsPresent reports whether the extraction found the field.
func (e Extraction) IsPresent() bool {
	return e.field.Present()
}

// Decoder reads a single field out of a source file.
// It returns ErrFieldNotFound (possibly wrapped) when no record matches.
type Decoder interface {
	Decode(ctx context.Context, file SourceFile, spec FieldSpec) (Field, error)
}
