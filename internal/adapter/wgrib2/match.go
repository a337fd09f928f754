package wgrib2

import (
	"strconv"
	"strings"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

// paramByShortName maps ecCodes short names to the NCEP abbreviations
// wgrib2 prints. Unknown short names are matched upper-cased as given.
var paramByShortName = map[string]string{
	"10u":   "UGRD",
	"10v":   "VGRD",
	"100u":  "UGRD",
	"100v":  "VGRD",
	"u":     "UGRD",
	"v":     "VGRD",
	"2t":    "TMP",
	"t":     "TMP",
	"sp":    "PRES",
	"tcc":   "TCDC",
	"prate": "PRATE",
	"pwat":  "PWAT",
	"prmsl": "PRMSL",
	"tp":    "APCP",
	"tke":   "TKE",
	"uflx":  "UFLX",
	"vflx":  "VFLX",
	"gust":  "GUST",
	"2r":    "RH",
}

func gribParam(shortName string) string {
	if p, ok := paramByShortName[strings.ToLower(shortName)]; ok {
		return p
	}
	return strings.ToUpper(shortName)
}

// levelMatches compares a FieldSpec level with the wgrib2 level string.
func levelMatches(spec domain.FieldSpec, level string) bool {
	switch spec.LevelType {
	case domain.LevelHeightAboveGround:
		v, ok := spec.LevelValue.Get()
		if !ok {
			return strings.HasSuffix(level, " m above ground")
		}
		return level == strconv.FormatFloat(v, 'f', -1, 64)+" m above ground"
	case domain.LevelSurface:
		return level == "surface"
	case domain.LevelAtmosphere:
		// "entire atmosphere" and "entire atmosphere (considered as a single layer)"
		return strings.HasPrefix(level, "entire atmosphere")
	case domain.LevelMeanSea:
		return level == "mean sea level"
	case domain.LevelPlanetaryBoundaryLayer:
		return level == "planetary boundary layer"
	}
	return false
}

// Find returns the first record matching spec.
func (inv Inventory) Find(spec domain.FieldSpec) (Record, bool) {
	param := gribParam(spec.ShortName)
	for _, r := range inv {
		if r.Param == param && levelMatches(spec, r.Level) {
			return r, true
		}
	}
	return Record{}, false
}
