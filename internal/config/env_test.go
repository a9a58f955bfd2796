package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvSettings(t *testing.T) {
	t.Setenv("COHORTSIM_SEED", "7")
	t.Setenv("COHORTSIM_WORKERS", "3")
	t.Setenv("COHORTSIM_CONTINUE_ON_ERROR", "true")
	t.Setenv("COHORTSIM_DB", "runs.db")

	s, err := LoadEnvSettings()
	require.NoError(t, err)
	assert.Nil(t, s.Draws)
	assert.Equal(t, "runs.db", s.Database)

	m := parseMinimal(t)
	m.PSA.Draws = 500
	s.Apply(m)
	assert.Equal(t, uint64(7), m.PSA.Seed)
	assert.Equal(t, 3, m.PSA.Workers)
	assert.True(t, m.PSA.ContinueOnError)
	assert.Equal(t, 500, m.PSA.Draws, "unset variables leave the model alone")
}

func TestLoadEnvSettings_Invalid(t *testing.T) {
	t.Setenv("COHORTSIM_DRAWS", "many")
	_, err := LoadEnvSettings()
	assert.Error(t, err)
}
