package domain

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// BBox is the geographic window kept from every source grid.
// Longitudes are expressed in [-180, 180).
type BBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// EuropeBBox is the default window: 35–70°N, 15°W–40°E.
var EuropeBBox = BBox{LatMin: 35, LatMax: 70, LonMin: -15, LonMax: 40}

// Validate rejects inverted or out-of-range windows.
func (b BBox) Validate() error {
	if b.LatMin < -90 || b.LatMax > 90 || b.LatMin >= b.LatMax {
		return fmt.Errorf("invalid latitude range [%g, %g]", b.LatMin, b.LatMax)
	}
	if b.LonMin < -180 || b.LonMax > 180 || b.LonMin >= b.LonMax {
		return fmt.Errorf("invalid longitude range [%g, %g]", b.LonMin, b.LonMax)
	}
	return nil
}

// NormalizeLon maps any longitude onto [-180, 180).
func NormalizeLon(lon float64) float64 {
	n := math.Mod(lon+180, 360)
	if n < 0 {
		n += 360
	}
	return n - 180
}

// Contains reports whether a point lies in the window.
func (b BBox) Contains(lat, lon float64) bool {
	lon = NormalizeLon(lon)
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Clip returns the part of f inside the window. Longitudes are normalized
// and sorted ascending, so 0..360 grids crossing the Greenwich meridian come
// out contiguous. Latitude order is kept as in the source.
//
// A projected grid is cut to the smallest y/x index box holding every cell
// inside the window; corner cells of that box may lie outside it.
func (b BBox) Clip(f Field) (Field, error) {
	if err := f.Validate(); err != nil {
		return Field{}, err
	}
	if p, ok := f.Projected.Get(); ok {
		return b.clipProjected(f, p)
	}

	var latIdx []int
	for i, lat := range f.Lats {
		if lat >= b.LatMin && lat <= b.LatMax {
			latIdx = append(latIdx, i)
		}
	}

	type lonPoint struct {
		idx int
		lon float64
	}
	var lons []lonPoint
	for i, lon := range f.Lons {
		n := NormalizeLon(lon)
		if n >= b.LonMin && n <= b.LonMax {
			lons = append(lons, lonPoint{idx: i, lon: n})
		}
	}
	sort.SliceStable(lons, func(i, j int) bool { return lons[i].lon < lons[j].lon })
	// A global grid may carry both 180 and -180; keep one column.
	dedup := lons[:0]
	for _, p := range lons {
		if len(dedup) > 0 && dedup[len(dedup)-1].lon == p.lon {
			continue
		}
		dedup = append(dedup, p)
	}
	lons = dedup

	if len(latIdx) == 0 || len(lons) == 0 {
		return Field{}, ErrEmptyWindow
	}

	nLon := len(f.Lons)
	out := f
	out.Lats = make([]float64, len(latIdx))
	out.Lons = make([]float64, len(lons))
	out.Values = make([]float64, 0, len(latIdx)*len(lons))
	for i, li := range latIdx {
		out.Lats[i] = f.Lats[li]
	}
	for j, p := range lons {
		out.Lons[j] = p.lon
	}
	for _, li := range latIdx {
		row := f.Values[li*nLon : (li+1)*nLon]
		for _, p := range lons {
			out.Values = append(out.Values, row[p.idx])
		}
	}
	return out, nil
}

func (b BBox) clipProjected(f Field, p Projected) (Field, error) {
	nx := len(f.Lons)
	r0, r1, c0, c1 := -1, -1, -1, -1
	for i := range p.Lats {
		if !b.Contains(p.Lats[i], p.Lons[i]) {
			continue
		}
		r, c := i/nx, i%nx
		if r0 < 0 || r < r0 {
			r0 = r
		}
		if c0 < 0 || c < c0 {
			c0 = c
		}
		r1 = max(r1, r)
		c1 = max(c1, c)
	}
	if r0 < 0 {
		return Field{}, ErrEmptyWindow
	}

	box := func(src []float64) []float64 {
		dst := make([]float64, 0, (r1-r0+1)*(c1-c0+1))
		for r := r0; r <= r1; r++ {
			dst = append(dst, src[r*nx+c0:r*nx+c1+1]...)
		}
		return dst
	}
	out := f
	out.Lats = slices.Clone(f.Lats[r0 : r1+1])
	out.Lons = slices.Clone(f.Lons[c0 : c1+1])
	out.Values = box(f.Values)
	lons := box(p.Lons)
	for i, lon := range lons {
		lons[i] = NormalizeLon(lon)
	}
	out.Projected = Some(Projected{Lats: box(p.Lats), Lons: lons})
	return out, nil
}
