package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgehrsitz/cohortsim/internal/psa"
)

func TestPSAMetrics_WriteTextfile(t *testing.T) {
	m := NewPSAMetrics("two-state")
	m.Start(3)
	m.Observe(psa.Progress{Index: 0, Done: 1, Total: 3})
	m.Observe(psa.Progress{Index: 1, Done: 2, Total: 3})
	m.Observe(psa.Progress{Index: 2, Done: 3, Total: 3, Failed: 1, Err: errors.New("boom")})
	m.Finish(1500 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "cohortsim.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `cohortsim_psa_draws_total{model="two-state",status="ok"} 2`)
	assert.Contains(t, content, `cohortsim_psa_draws_total{model="two-state",status="failed"} 1`)
	assert.Contains(t, content, `cohortsim_psa_draws_requested{model="two-state"} 3`)
	assert.Contains(t, content, `cohortsim_psa_batch_duration_seconds{model="two-state"} 1.5`)
	assert.Contains(t, content, `cohortsim_psa_draw_interval_seconds_count{model="two-state"} 3`)
}

func TestPSAMetrics_ZeroOutcomesListed(t *testing.T) {
	m := NewPSAMetrics("m")
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "cohortsim_psa_draws_total")
}
