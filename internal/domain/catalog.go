package domain

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LevelType is the vertical coordinate a field is defined on.
type LevelType string

const (
	LevelHeightAboveGround      LevelType = "heightAboveGround"
	LevelSurface                LevelType = "surface"
	LevelAtmosphere             LevelType = "atmosphere"
	LevelMeanSea                LevelType = "meanSea"
	LevelPlanetaryBoundaryLayer LevelType = "planetaryBoundaryLayer"
)

// ParseLevelType validates a level type name from a catalog file.
func ParseLevelType(s string) (LevelType, error) {
	switch lt := LevelType(s); lt {
	case LevelHeightAboveGround, LevelSurface, LevelAtmosphere, LevelMeanSea, LevelPlanetaryBoundaryLayer:
		return lt, nil
	}
	return "", fmt.Errorf("unknown level type %q", s)
}

// FieldSpec describes how to isolate one physical variable inside a source file.
type FieldSpec struct {
	CanonicalName string
	LevelType     LevelType
	LevelValue    Optional[float64]
	ShortName     string
}

// Variable returns the canonical slot the spec fills.
func (s FieldSpec) Variable() (Variable, bool) {
	return ParseVariable(s.CanonicalName)
}

func (s FieldSpec) String() string {
	if lv, ok := s.LevelValue.Get(); ok {
		return fmt.Sprintf("%s[%s=%s %s]", s.CanonicalName, s.LevelType, strconv.FormatFloat(lv, 'f', -1, 64), s.ShortName)
	}
	return fmt.Sprintf("%s[%s %s]", s.CanonicalName, s.LevelType, s.ShortName)
}

func height(canonical, short string, meters float64) FieldSpec {
	return FieldSpec{CanonicalName: canonical, LevelType: LevelHeightAboveGround, LevelValue: Some(meters), ShortName: short}
}

func onLevel(canonical, short string, lt LevelType) FieldSpec {
	return FieldSpec{CanonicalName: canonical, LevelType: lt, ShortName: short}
}

// Catalog is the ordered list of filters applied to every file of a source.
type Catalog []FieldSpec

// GFSCatalog selects the GRIB2 fields published in the GFS 0.25° pgrb2 files.
// Short names follow ecCodes conventions.
func GFSCatalog() Catalog {
	return Catalog{
		height("u_wind_10m", "10u", 10),
		height("v_wind_10m", "10v", 10),
		height("u_wind_100m", "100u", 100),
		height("v_wind_100m", "100v", 100),
		height("temperature_2m", "2t", 2),
		onLevel("surface_pressure", "sp", LevelSurface),
		onLevel("total_cloud_cover", "tcc", LevelAtmosphere),
		onLevel("precipitation_rate", "prate", LevelSurface),
		onLevel("precipitable_water", "pwat", LevelAtmosphere),
		onLevel("mean_sea_level_pressure", "prmsl", LevelMeanSea),
		onLevel("precipitation_amount", "tp", LevelSurface),
		onLevel("turbulent_kinetic_energy", "tke", LevelPlanetaryBoundaryLayer),
		onLevel("momentum_flux_u", "uflx", LevelSurface),
		onLevel("momentum_flux_v", "vflx", LevelSurface),
	}
}

// METNordicCatalog selects variables from MET Nordic analysis NetCDF files,
// where the short name is the CF variable name in the file.
func METNordicCatalog() Catalog {
	return Catalog{
		height("temperature_2m", "air_temperature_2m", 2),
		height("wind_speed_10m", "wind_speed_10m", 10),
		height("wind_direction_10m", "wind_direction_10m", 10),
		height("wind_gust", "wind_speed_of_gust", 10),
		onLevel("surface_pressure", "surface_air_pressure", LevelSurface),
		onLevel("mean_sea_level_pressure", "air_pressure_at_sea_level", LevelMeanSea),
		onLevel("precipitation_amount", "precipitation_amount", LevelSurface),
		onLevel("total_cloud_cover", "cloud_area_fraction", LevelAtmosphere),
	}
}

// CatalogFor returns the built-in catalog for a source name.
func CatalogFor(source string) (Catalog, error) {
	switch source {
	case "gfs":
		return GFSCatalog(), nil
	case "met", "met_nordic":
		return METNordicCatalog(), nil
	}
	return nil, fmt.Errorf("no built-in field catalog for source %q", source)
}

// Validate checks every entry names a canonical variable once and uses a known level type.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return errors.New("field catalog is empty")
	}
	seen := make(map[string]bool, len(c))
	for i, spec := range c {
		if _, ok := spec.Variable(); !ok {
			return fmt.Errorf("catalog entry %d: unknown canonical name %q", i, spec.CanonicalName)
		}
		if _, err := ParseLevelType(string(spec.LevelType)); err != nil {
			return fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if spec.ShortName == "" {
			return fmt.Errorf("catalog entry %d: short_name is required", i)
		}
		if seen[spec.CanonicalName] {
			return fmt.Errorf("catalog entry %d: duplicate canonical name %q", i, spec.CanonicalName)
		}
		seen[spec.CanonicalName] = true
	}
	return nil
}

type catalogEntry struct {
	CanonicalName string   `yaml:"canonical_name"`
	LevelType     string   `yaml:"level_type"`
	LevelValue    *float64 `yaml:"level_value"`
	ShortName     string   `yaml:"short_name"`
}

// ParseCatalog decodes a YAML list of catalog entries.
func ParseCatalog(r io.Reader) (Catalog, error) {
	var entries []catalogEntry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode field catalog: %w", err)
	}
	c := make(Catalog, 0, len(entries))
	for i, e := range entries {
		lt, err := ParseLevelType(e.LevelType)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		spec := FieldSpec{CanonicalName: e.CanonicalName, LevelType: lt, ShortName: e.ShortName}
		if e.LevelValue != nil {
			spec.LevelValue = Some(*e.LevelValue)
		}
		c = append(c, spec)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open field catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}
