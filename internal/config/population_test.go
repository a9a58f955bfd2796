package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInitialPopulation(t *testing.T) {
	data := "alive, sick, dead\n1000,0,0\n900, 100, 0\n"

	v, err := LoadInitialPopulation(strings.NewReader(data), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alive", "sick", "dead"}, v.States)
	assert.Equal(t, []float64{900, 100, 0}, v.Counts)

	tests := []struct {
		name string
		data string
		row  int
	}{
		{"row out of range", data, 2},
		{"negative row", data, -1},
		{"header only", "alive,dead\n", 0},
		{"not a number", "alive,dead\nten,0\n", 0},
		{"negative count", "alive,dead\n-1,0\n", 0},
		{"duplicate state", "alive,dead, alive\n10,0,5\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadInitialPopulation(strings.NewReader(tt.data), tt.row)
			assert.True(t, errors.Is(err, domain.ErrInvalidInitialPopulation), "got %v", err)
		})
	}

	_, err = LoadInitialPopulation(strings.NewReader("alive,dead\n1,2,3\n"), 0)
	assert.Error(t, err, "ragged rows are rejected by the csv reader")
}
