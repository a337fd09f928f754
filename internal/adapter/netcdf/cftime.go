package netcdf

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// referenceLayouts are the reference date forms seen after "since" in CF
// time units. Single-digit fields and fractional seconds parse as well.
var referenceLayouts = []string{
	"2006-1-2 15:4:5 -07:00",
	"2006-1-2 15:4:5 -0700",
	"2006-1-2 15:4:5 MST",
	"2006-1-2 15:4:5Z07:00",
	"2006-1-2T15:4:5Z07:00",
	"2006-1-2 15:4:5",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4",
	"2006-1-2",
}

// parseTimeUnits splits CF units such as "hours since 2024-01-01 00:00:00"
// into the step length and the reference time.
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q: want \"<unit> since <date>\"", units)
	}

	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("time units %q: unsupported unit %q", units, unit)
	}

	ref = strings.TrimSpace(ref)
	for _, layout := range referenceLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("time units %q: unparseable reference date %q", units, ref)
}

// decodeCFTime converts a CF time value to an instant, rounded to the second.
func decodeCFTime(value float64, units string) (time.Time, error) {
	step, ref, err := parseTimeUnits(units)
	if err != nil {
		return time.Time{}, err
	}
	offset := value * step.Seconds()
	if math.IsInf(offset, 0) || math.Abs(offset) > math.MaxInt64/float64(time.Second) {
		return time.Time{}, fmt.Errorf("time value %g %s out of range", value, units)
	}
	return ref.Add(time.Duration(math.Round(offset)) * time.Second), nil
}
