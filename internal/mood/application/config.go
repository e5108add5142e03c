package application

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	mood "workspace-mood-monitor/internal/mood/domain"
)

// LoadConfig overlays the YAML file at MOOD_CONFIG onto the defaults, then
// applies scalar env overrides and validates the result.
func LoadConfig() (mood.Config, error) {
	cfg := mood.DefaultConfig()

	if path := os.Getenv("MOOD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("mood config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("mood config: decode %s: %w", path, err)
		}
	}

	cfg.Alpha = getenvFloatDefault("ML_BLEND_HEURISTIC", cfg.Alpha)
	cfg.Softening.Center = getenvFloatDefault("SOFTENING_CENTER", cfg.Softening.Center)
	cfg.Softening.Factor = getenvFloatDefault("SOFTENING_FACTOR", cfg.Softening.Factor)
	cfg.Bias = getenvFloatDefault("SCORE_BIAS", cfg.Bias)
	cfg.Thresholds.Focus = getenvFloatDefault("THRESHOLD_FOCUS", cfg.Thresholds.Focus)
	cfg.Thresholds.Neutral = getenvFloatDefault("THRESHOLD_NEUTRAL", cfg.Thresholds.Neutral)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
