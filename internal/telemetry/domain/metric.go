package telemetry

import "strings"

// Metric is a canonical metric identifier.
type Metric string

const (
	MetricCO2         Metric = "co2"
	MetricNoise       Metric = "noise"
	MetricLux         Metric = "lux"
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricOccupancy   Metric = "occupancy"
)

// TrackedMetrics lists the canonical metrics in feature order.
var TrackedMetrics = []Metric{
	MetricCO2,
	MetricNoise,
	MetricLux,
	MetricTemperature,
	MetricHumidity,
	MetricOccupancy,
}

// Canonical units.
const (
	UnitPPM     = "ppm"
	UnitDecibel = "dB"
	UnitLux     = "lx"
	UnitCelsius = "C"
	UnitPercent = "%"
	UnitCount   = "count"
)

var canonicalUnits = map[Metric]string{
	MetricCO2:         UnitPPM,
	MetricNoise:       UnitDecibel,
	MetricLux:         UnitLux,
	MetricTemperature: UnitCelsius,
	MetricHumidity:    UnitPercent,
	MetricOccupancy:   UnitCount,
}

var synonyms = map[string]Metric{
	"co2":         MetricCO2,
	"co2ppm":      MetricCO2,
	"louds":       MetricNoise,
	"noise":       MetricNoise,
	"lux":         MetricLux,
	"light":       MetricLux,
	"tempe":       MetricTemperature,
	"temp":        MetricTemperature,
	"temperature": MetricTemperature,
	"humiy":       MetricHumidity,
	"rh":          MetricHumidity,
	"humidity":    MetricHumidity,
	"occ":         MetricOccupancy,
	"occupancy":   MetricOccupancy,
	"presence":    MetricOccupancy,
}

// ResolveMetric maps a synonym to its canonical metric.
func ResolveMetric(key string) (Metric, bool) {
	metric, ok := synonyms[strings.ToLower(strings.TrimSpace(key))]
	return metric, ok
}

// CanonicalUnit returns the unit a canonical metric is stored in.
func CanonicalUnit(metric Metric) string {
	return canonicalUnits[metric]
}

// IsTracked reports whether metric is one of the canonical metrics.
func IsTracked(metric Metric) bool {
	_, ok := canonicalUnits[metric]
	return ok
}
