package wgrib2

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
)

// Record is one line of a wgrib2 short inventory (wgrib2 -s), e.g.
//
//	5:123456:d=2024010100:UGRD:10 m above ground:3 hour fcst:
type Record struct {
	// ID is the record number as wgrib2 prints it; submessages look like "5.2".
	ID       string
	Offset   int64
	RefTime  time.Time
	Param    string
	Level    string
	Forecast string
}

// Inventory lists the records of one GRIB2 file in file order.
type Inventory []Record

// ParseInventory reads wgrib2 -s output.
func ParseInventory(r io.Reader) (Inventory, error) {
	var inv Inventory
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 6 {
			return nil, fmt.Errorf("inventory line has %d fields: %q", len(fields), line)
		}

		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory offset %q: %w", fields[1], err)
		}
		ref, err := parseDateField(fields[2])
		if err != nil {
			return nil, err
		}
		inv = append(inv, Record{
			ID:       fields[0],
			Offset:   offset,
			RefTime:  ref,
			Param:    fields[3],
			Level:    fields[4],
			Forecast: fields[5],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return inv, nil
}

func parseDateField(s string) (time.Time, error) {
	if !strings.HasPrefix(s, "d=") {
		return time.Time{}, fmt.Errorf("inventory date field %q lacks d= prefix", s)
	}
	s = strings.TrimPrefix(s, "d=")
	layout := "2006010215"
	if len(s) == 12 {
		layout = "200601021504"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("inventory date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// forecastRe matches "3 hour fcst", "0-6 hour acc fcst", "30 min fcst", "2 day fcst".
var forecastRe = regexp.MustCompile(`^(?:(\d+)-)?(\d+) (min|hour|day) (?:\w+ )?fcst$`)

// Step is the lead time of the record. Interval products (accumulations,
// averages) are valid at the end of the interval.
func (r Record) Step() domain.Optional[time.Duration] {
	if r.Forecast == "anl" {
		return domain.Some(time.Duration(0))
	}
	m := forecastRe.FindStringSubmatch(r.Forecast)
	if m == nil {
		return domain.None[time.Duration]()
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return domain.None[time.Duration]()
	}
	unit := time.Hour
	switch m[3] {
	case "min":
		unit = time.Minute
	case "day":
		unit = 24 * time.Hour
	}
	return domain.Some(time.Duration(n) * unit)
}
