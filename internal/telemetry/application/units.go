package application

import (
	"strings"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const (
	co2MolarMass          = 44.01
	molarVolumeAt25C      = 24.45
	defaultConversionTemp = 25.0
)

// ConvertUnit converts a reading into the canonical unit of its metric.
// Units without a defined conversion pass through unchanged.
func ConvertUnit(metric telemetry.Metric, value float64, unit string, temperatureC float64) float64 {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, "³", "3")
	u = strings.TrimPrefix(u, "°")
	switch metric {
	case telemetry.MetricCO2:
		switch u {
		case "mg/m3", "mgm3", "mg_m3":
			return MgPerM3ToPPM(value, temperatureC)
		case "%", "percent":
			return value * 10000
		}
	case telemetry.MetricTemperature:
		switch u {
		case "f", "fahrenheit":
			return (value - 32) * 5 / 9
		case "k", "kelvin":
			return value - 273.15
		}
	case telemetry.MetricHumidity:
		switch u {
		case "ratio", "fraction":
			return value * 100
		}
	}
	return value
}

// MgPerM3ToPPM converts a co2 concentration using the molar volume at temperatureC.
func MgPerM3ToPPM(mg float64, temperatureC float64) float64 {
	molarVolume := molarVolumeAt25C * ((273.15 + temperatureC) / 298.15)
	return mg * molarVolume / co2MolarMass
}

// PPMToMgPerM3 is the inverse of MgPerM3ToPPM.
func PPMToMgPerM3(ppm float64, temperatureC float64) float64 {
	molarVolume := molarVolumeAt25C * ((273.15 + temperatureC) / 298.15)
	return ppm * co2MolarMass / molarVolume
}
