package domain

// Variable identifies one slot of the canonical output schema.
type Variable int

// Canonical variables, in output column order. Auxiliary inputs used only by
// the derivations (precipitation amount, TKE, momentum flux) come last.
const (
	UWind10m Variable = iota
	VWind10m
	UWind100m
	VWind100m
	Temperature2m
	SurfacePressure
	TotalCloudCover
	PrecipitationRate
	PrecipitableWater
	MeanSeaLevelPressure
	WindSpeed10m
	WindDirection10m
	WindSpeed100m
	WindDirection100m
	AirDensity
	WindPowerDensity
	WindGust
	PrecipitationAmount
	TurbulentKineticEnergy
	MomentumFluxU
	MomentumFluxV

	NumVariables
)

type variableInfo struct {
	name  string
	units string
}

var variables = [NumVariables]variableInfo{
	UWind10m:               {"u_wind_10m", "m s-1"},
	VWind10m:               {"v_wind_10m", "m s-1"},
	UWind100m:              {"u_wind_100m", "m s-1"},
	VWind100m:              {"v_wind_100m", "m s-1"},
	Temperature2m:          {"temperature_2m", "K"},
	SurfacePressure:        {"surface_pressure", "Pa"},
	TotalCloudCover:        {"total_cloud_cover", "%"},
	PrecipitationRate:      {"precipitation_rate", "kg m-2 s-1"},
	PrecipitableWater:      {"precipitable_water", "kg m-2"},
	MeanSeaLevelPressure:   {"mean_sea_level_pressure", "Pa"},
	WindSpeed10m:           {"wind_speed_10m", "m s-1"},
	WindDirection10m:       {"wind_direction_10m", "degree"},
	WindSpeed100m:          {"wind_speed_100m", "m s-1"},
	WindDirection100m:      {"wind_direction_100m", "degree"},
	AirDensity:             {"air_density", "kg m-3"},
	WindPowerDensity:       {"wind_power_density", "W m-2"},
	WindGust:               {"wind_gust", "m s-1"},
	PrecipitationAmount:    {"precipitation_amount", "kg m-2"},
	TurbulentKineticEnergy: {"turbulent_kinetic_energy", "J kg-1"},
	MomentumFluxU:          {"momentum_flux_u", "N m-2"},
	MomentumFluxV:          {"momentum_flux_v", "N m-2"},
}

var variablesByName = func() map[string]Variable {
	m := make(map[string]Variable, NumVariables)
	for v := Variable(0); v < NumVariables; v++ {
		m[variables[v].name] = v
	}
	return m
}()

// String returns the canonical column name.
func (v Variable) String() string {
	if v < 0 || v >= NumVariables {
		return "unknown"
	}
	return variables[v].name
}

// Units returns the CF-style unit string for the variable.
func (v Variable) Units() string {
	if v < 0 || v >= NumVariables {
		return ""
	}
	return variables[v].units
}

// ParseVariable resolves a canonical column name.
func ParseVariable(name string) (Variable, bool) {
	v, ok := variablesByName[name]
	return v, ok
}

// AllVariables returns every canonical variable in column order.
func AllVariables() []Variable {
	out := make([]Variable, NumVariables)
	for i := range out {
		out[i] = Variable(i)
	}
	return out
}

// Layers is the canonical schema of one time step: a fixed slot per
// variable, each either a present lat×lon grid or absent.
type Layers [NumVariables]Optional[[]float64]

// Set stores values in the slot for v.
func (l *Layers) Set(v Variable, values []float64) {
	l[v] = Some(values)
}

// Get returns the grid for v if present.
func (l *Layers) Get(v Variable) ([]float64, bool) {
	return l[v].Get()
}

// Has reports whether v is present.
func (l *Layers) Has(v Variable) bool {
	return l[v].Present()
}

// Present lists the variables that hold data, in column order.
func (l *Layers) Present() []Variable {
	var out []Variable
	for v := Variable(0); v < NumVariables; v++ {
		if l[v].Present() {
			out = append(out, v)
		}
	}
	return out
}
