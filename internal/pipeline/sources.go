package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

// ErrNoSourceFiles means a cycle directory is missing or holds no decodable files.
var ErrNoSourceFiles = errors.New("no source files")

var forecastHourRe = regexp.MustCompile(`\.f(\d{3,4})$`)

// CycleDir is raw/<source>/<YYYYMMDD>/<HH>.
func CycleDir(rawDir string, key domain.CycleKey) string {
	return filepath.Join(rawDir, key.Source, key.Date, key.CycleHour())
}

// DetectFormat infers the grid format from a file name. Index files and
// unknown extensions report false.
func DetectFormat(name string) (domain.GridFormat, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".idx"):
		return "", false
	case strings.HasSuffix(lower, ".nc"), strings.HasSuffix(lower, ".nc4"):
		return domain.FormatNetCDF, true
	case strings.HasSuffix(lower, ".grib2"), strings.HasSuffix(lower, ".grb2"), strings.HasSuffix(lower, ".grb"):
		return domain.FormatGRIB2, true
	case strings.Contains(lower, ".pgrb2"):
		return domain.FormatGRIB2, true
	}
	return "", false
}

// ListSourceFiles returns the decodable files of a cycle sorted by name.
func ListSourceFiles(rawDir string, key domain.CycleKey) ([]domain.SourceFile, error) {
	dir := CycleDir(rawDir, key)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSourceFiles)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []domain.SourceFile
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		format, ok := DetectFormat(e.Name())
		if !ok {
			continue
		}
		f := domain.SourceFile{
			Path:   filepath.Join(dir, e.Name()),
			Format: format,
			Cycle:  key,
		}
		f.ForecastHour = forecastHour(e.Name())
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSourceFiles)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// forecastHour reads the .fNNN suffix of GFS names, with or without a
// trailing extension.
func forecastHour(name string) domain.Optional[int] {
	for _, n := range []string{name, strings.TrimSuffix(name, filepath.Ext(name))} {
		if m := forecastHourRe.FindStringSubmatch(n); m != nil {
			h, err := strconv.Atoi(m[1])
			if err == nil {
				return domain.Some(h)
			}
		}
	}
	return domain.None[int]()
}
