package domain

import "math"

// RSpecificDryAir is the specific gas constant of dry air in J/(kg·K).
const RSpecificDryAir = 287.058

// WindSpeed is the magnitude of the horizontal wind vector.
func WindSpeed(u, v float64) float64 {
	return math.Sqrt(u*u + v*v)
}

// WindDirection is the meteorological "from" direction in [0, 360).
func WindDirection(u, v float64) float64 {
	d := math.Mod(270-math.Atan2(v, u)*180/math.Pi, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// IdealGasDensity applies the ideal gas law to pressure in Pa and temperature in K.
func IdealGasDensity(pressure, temperature float64) float64 {
	return pressure / (RSpecificDryAir * temperature)
}

// PowerDensity is the kinetic energy flux in W/m².
func PowerDensity(density, speed float64) float64 {
	return 0.5 * density * speed * speed * speed
}

// DeriveReport lists what Derive added and what it had to skip.
type DeriveReport struct {
	Computed []Variable
	// Skipped maps a derived variable to the inputs it was missing.
	Skipped map[Variable][]Variable
	Gust    GustResult
}

// Derive adds wind speed, wind direction, air density, power density and
// gust to a frame. Slots already present are kept as they are.
func Derive(frame Frame, opts GustOptions) (Frame, DeriveReport) {
	out := frame
	report := DeriveReport{Skipped: make(map[Variable][]Variable)}
	l := &out.Layers

	pointwise2 := func(target, a, b Variable, fn func(x, y float64) float64) {
		if l.Has(target) {
			return
		}
		xs, okA := l.Get(a)
		ys, okB := l.Get(b)
		if !okA || !okB {
			report.Skipped[target] = missing(l, a, b)
			return
		}
		vals := make([]float64, len(xs))
		for i := range xs {
			vals[i] = fn(xs[i], ys[i])
		}
		l.Set(target, vals)
		report.Computed = append(report.Computed, target)
	}

	pointwise2(WindSpeed10m, UWind10m, VWind10m, WindSpeed)
	pointwise2(WindDirection10m, UWind10m, VWind10m, WindDirection)
	pointwise2(WindSpeed100m, UWind100m, VWind100m, WindSpeed)
	pointwise2(WindDirection100m, UWind100m, VWind100m, WindDirection)
	pointwise2(AirDensity, SurfacePressure, Temperature2m, IdealGasDensity)
	pointwise2(WindPowerDensity, AirDensity, WindSpeed100m, PowerDensity)

	if !l.Has(WindGust) && opts.Method != GustNone {
		report.Gust = EstimateGust(l, opts)
		if vals, ok := report.Gust.Values.Get(); ok {
			l.Set(WindGust, vals)
			report.Computed = append(report.Computed, WindGust)
		}
	}
	return out, report
}

func missing(l *Layers, vars ...Variable) []Variable {
	var out []Variable
	for _, v := range vars {
		if !l.Has(v) {
			out = append(out, v)
		}
	}
	return out
}
