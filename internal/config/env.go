package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvSettings are run settings that may be overridden from the environment.
type EnvSettings struct {
	Seed            *uint64 `env:"COHORTSIM_SEED"`
	Workers         *int    `env:"COHORTSIM_WORKERS"`
	Draws           *int    `env:"COHORTSIM_DRAWS"`
	ContinueOnError *bool   `env:"COHORTSIM_CONTINUE_ON_ERROR"`
	Database        string  `env:"COHORTSIM_DB"`
	MetricsFile     string  `env:"COHORTSIM_METRICS_FILE"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnvSettings reads the COHORTSIM_* variables.
func LoadEnvSettings() (EnvSettings, error) {
	var s EnvSettings
	if err := ParseEnv(&s); err != nil {
		return EnvSettings{}, err
	}
	return s, nil
}

// Apply overrides the model's PSA settings with any variables that were set.
func (s EnvSettings) Apply(m *Model) {
	if s.Seed != nil {
		m.PSA.Seed = *s.Seed
	}
	if s.Workers != nil {
		m.PSA.Workers = *s.Workers
	}
	if s.Draws != nil {
		m.PSA.Draws = *s.Draws
	}
	if s.ContinueOnError != nil {
		m.PSA.ContinueOnError = *s.ContinueOnError
	}
}
