// Package zarr persists cycle grids as Zarr v2 directory stores with
// consolidated metadata, readable by xarray.open_zarr.
package zarr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

const (
	zarrFormat       = 2
	consolidatedFile = ".zmetadata"

	dimInitTime = "init_time"
	dimTime     = "time"
	dimLat      = "latitude"
	dimLon      = "longitude"
	dimY        = "y"
	dimX        = "x"

	presentArray = "frame_present"

	epochUnits = "seconds since 1970-01-01 00:00:00"
)

type compressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// arrayMeta is the .zarray document.
type arrayMeta struct {
	Chunks     []int           `json:"chunks"`
	Compressor *compressorMeta `json:"compressor"`
	DType      string          `json:"dtype"`
	FillValue  any             `json:"fill_value"`
	Filters    []any           `json:"filters"`
	Order      string          `json:"order"`
	Shape      []int           `json:"shape"`
	ZarrFormat int             `json:"zarr_format"`
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

type consolidated struct {
	Metadata map[string]any `json:"metadata"`
	Format   int            `json:"zarr_consolidated_format"`
}

// header is the subset of consolidated metadata the store needs to decide
// between appending and rewriting.
type header struct {
	source    string
	nInit     int
	times     []int64
	lats      []float64
	lons      []float64
	proj      domain.Optional[domain.Projected]
	variables []string
}

func newArrayMeta(dtype string, shape, chunks []int, fill any) arrayMeta {
	return arrayMeta{
		Chunks:     chunks,
		Compressor: &compressorMeta{ID: "zstd", Level: zstdLevel},
		DType:      dtype,
		FillValue:  fill,
		Order:      "C",
		Shape:      shape,
		ZarrFormat: zarrFormat,
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic replaces path via a sibling temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func readConsolidated(root string) (consolidated, error) {
	var c consolidated
	data, err := os.ReadFile(filepath.Join(root, consolidatedFile))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode %s: %w", consolidatedFile, err)
	}
	if c.Format != 1 {
		return c, fmt.Errorf("unsupported consolidated format %d", c.Format)
	}
	return c, nil
}

// decodeEntry re-decodes one consolidated entry into a typed document.
func decodeEntry(c consolidated, key string, out any) error {
	raw, ok := c.Metadata[key]
	if !ok {
		return fmt.Errorf("metadata entry %s missing", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
