// Command validate checks the integrity of array stores written by the
// ingest engine: init times strictly ascending, every cycle readable with
// ascending frame times on ascending axes, and value ranges that make
// physical sense for the variables present.
//
// Usage:
//
//	go run ./cmd/validate -store store/gfs.zarr
//	go run ./cmd/validate -store-dir store
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/adapter/zarr"
	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

// bounds are loose physical limits; values outside them indicate a unit or
// decoding mistake rather than weather.
var bounds = map[domain.Variable][2]float64{
	domain.Temperature2m:     {170, 340},
	domain.WindSpeed10m:      {0, 120},
	domain.WindSpeed100m:     {0, 150},
	domain.WindDirection10m:  {0, 360},
	domain.WindDirection100m: {0, 360},
	domain.SurfacePressure:   {40000, 110000},
	domain.AirDensity:        {0.5, 1.6},
	domain.TotalCloudCover:   {0, 100},
	domain.WindGust:          {0, 200},
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	storePath := flag.String("store", "", "path to a single .zarr store")
	storeDir := flag.String("store-dir", "", "directory of .zarr stores to check")
	flag.Parse()

	if (*storePath == "") == (*storeDir == "") {
		flag.Usage()
		os.Exit(1)
	}

	paths := []string{*storePath}
	if *storeDir != "" {
		var err error
		paths, err = findStores(*storeDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
	}

	code := 0
	for _, p := range paths {
		if run(p, os.Stdout) != 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func findStores(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".zarr") && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no .zarr stores in %s", dir)
	}
	sort.Strings(out)
	return out, nil
}

func run(path string, w io.Writer) int {
	fmt.Fprintf(w, "=== Array Store Validation: %s ===\n\n", path)

	st, err := zarr.Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Fprintf(w, "FATAL: open: %v\n", err)
		return 1
	}
	inits, err := st.InitTimes()
	if err != nil {
		fmt.Fprintf(w, "FATAL: read init times: %v\n", err)
		return 1
	}

	var grids []domain.CycleGrid
	read := &phase{name: "Cycles readable"}
	for _, it := range inits {
		g, err := st.ReadCycle(it)
		if err != nil {
			read.errorf("%s: %v", it.Format(time.RFC3339), err)
			continue
		}
		grids = append(grids, g)
	}

	phases := []*phase{
		validateInitTimes(inits),
		read,
		validateAxes(grids),
		validateRanges(grids),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-32s %s\n", p.name, status)
	}

	frames := 0
	for _, g := range grids {
		frames += len(g.Frames)
	}
	fmt.Fprintf(w, "\nCycles: %d, frames: %d\n", len(inits), frames)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func validateInitTimes(inits []time.Time) *phase {
	p := &phase{name: "Init times ascending"}
	if len(inits) == 0 {
		p.errorf("store holds no cycles")
	}
	for i := 1; i < len(inits); i++ {
		if !inits[i].After(inits[i-1]) {
			p.errorf("init_time[%d]=%s not after %s", i, inits[i].Format(time.RFC3339), inits[i-1].Format(time.RFC3339))
		}
	}
	return p
}

func validateAxes(grids []domain.CycleGrid) *phase {
	p := &phase{name: "Axes and frame times"}
	for _, g := range grids {
		label := g.InitTime.Format(time.RFC3339)
		if len(g.Frames) == 0 {
			p.errorf("%s: no frames", label)
		}
		if !sort.Float64sAreSorted(g.Lats) && !sort.SliceIsSorted(g.Lats, func(i, j int) bool { return g.Lats[i] > g.Lats[j] }) {
			p.errorf("%s: latitude axis not monotonic", label)
		}
		if !sort.Float64sAreSorted(g.Lons) {
			p.errorf("%s: longitude axis not ascending", label)
		}
		for i := 1; i < len(g.Times); i++ {
			if !g.Times[i].After(g.Times[i-1]) {
				p.errorf("%s: frame time %s not after %s", label, g.Times[i].Format(time.RFC3339), g.Times[i-1].Format(time.RFC3339))
			}
		}
	}
	return p
}

func validateRanges(grids []domain.CycleGrid) *phase {
	p := &phase{name: "Value ranges"}
	for _, g := range grids {
		for _, f := range g.Frames {
			for v, b := range bounds {
				vals, ok := f.Layers.Get(v)
				if !ok {
					continue
				}
				bad := 0
				for _, x := range vals {
					if !math.IsNaN(x) && (x < b[0] || x > b[1]) {
						bad++
					}
				}
				if bad > 0 {
					p.errorf("%s %s: %d values outside [%g, %g]", f.Time.Format(time.RFC3339), v, bad, b[0], b[1])
				}
			}
		}
	}
	return p
}
