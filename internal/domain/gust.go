package domain

import (
	"fmt"
	"math"
)

// GustMethod selects how wind_gust is estimated when the source does not ship it.
type GustMethod string

const (
	GustNone             GustMethod = "none"
	GustFactor           GustMethod = "factor"
	GustFrictionVelocity GustMethod = "friction_velocity"
	GustTKE              GustMethod = "tke"
)

// ParseGustMethod validates a configured gust method name.
func ParseGustMethod(s string) (GustMethod, error) {
	switch m := GustMethod(s); m {
	case GustNone, GustFactor, GustFrictionVelocity, GustTKE:
		return m, nil
	}
	return "", fmt.Errorf("unknown gust method %q", s)
}

// GustOptions carries the method and its coefficient.
type GustOptions struct {
	Method GustMethod
	Factor float64 // k in speed·k
	Alpha  float64 // α in speed + α·u*
	Beta   float64 // β in speed + β·√TKE
}

// DefaultGustOptions uses the multiplicative factor 1.5.
func DefaultGustOptions() GustOptions {
	return GustOptions{Method: GustFactor, Factor: 1.5, Alpha: 3.0, Beta: 2.0}
}

// GustResult is a gust grid or the reason it could not be estimated.
type GustResult struct {
	Method  GustMethod
	Values  Optional[[]float64]
	Missing []Variable
}

// Available reports whether the method produced a grid.
func (r GustResult) Available() bool {
	return r.Values.Present()
}

func unavailable(m GustMethod, l *Layers, needs ...Variable) GustResult {
	return GustResult{Method: m, Missing: missing(l, needs...)}
}

// EstimateGust dispatches to the configured method.
func EstimateGust(l *Layers, opts GustOptions) GustResult {
	switch opts.Method {
	case GustFactor:
		return GustByFactor(l, opts.Factor)
	case GustFrictionVelocity:
		return GustByFrictionVelocity(l, opts.Alpha)
	case GustTKE:
		return GustByTKE(l, opts.Beta)
	}
	return GustResult{Method: opts.Method}
}

// GustByFactor scales the 10 m wind speed by k.
func GustByFactor(l *Layers, k float64) GustResult {
	speed, ok := l.Get(WindSpeed10m)
	if !ok {
		return unavailable(GustFactor, l, WindSpeed10m)
	}
	out := make([]float64, len(speed))
	for i, s := range speed {
		out[i] = s * k
	}
	return GustResult{Method: GustFactor, Values: Some(out)}
}

// GustByFrictionVelocity adds α·u* to the 10 m wind speed, with
// u* = (τu² + τv²)^(1/4) from the surface momentum flux components.
func GustByFrictionVelocity(l *Layers, alpha float64) GustResult {
	speed, okS := l.Get(WindSpeed10m)
	tu, okU := l.Get(MomentumFluxU)
	tv, okV := l.Get(MomentumFluxV)
	if !okS || !okU || !okV {
		return unavailable(GustFrictionVelocity, l, WindSpeed10m, MomentumFluxU, MomentumFluxV)
	}
	out := make([]float64, len(speed))
	for i := range speed {
		ustar := math.Pow(tu[i]*tu[i]+tv[i]*tv[i], 0.25)
		out[i] = speed[i] + alpha*ustar
	}
	return GustResult{Method: GustFrictionVelocity, Values: Some(out)}
}

// GustByTKE adds β·√TKE to the 10 m wind speed. Negative TKE yields NaN.
func GustByTKE(l *Layers, beta float64) GustResult {
	speed, okS := l.Get(WindSpeed10m)
	tke, okT := l.Get(TurbulentKineticEnergy)
	if !okS || !okT {
		return unavailable(GustTKE, l, WindSpeed10m, TurbulentKineticEnergy)
	}
	out := make([]float64, len(speed))
	for i := range speed {
		out[i] = speed[i] + beta*math.Sqrt(tke[i])
	}
	return GustResult{Method: GustTKE, Values: Some(out)}
}
