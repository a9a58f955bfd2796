package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/discount"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/output"
	"github.com/rgehrsitz/cohortsim/internal/psa"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "cohortsim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeResult(t *testing.T, name string, cost, effect float64) *domain.SimulationResult {
	t.Helper()
	v0, err := domain.NewCohortVector([]string{"alive", "dead"}, []float64{1000, 0})
	require.NoError(t, err)
	v1, err := domain.NewCohortVector([]string{"alive", "dead"}, []float64{900, 100})
	require.NoError(t, err)
	return domain.NewSimulationResult(name, domain.MethodEnd,
		[]domain.CohortVector{v0, v1},
		[]domain.CycleValues{{Cycle: 0, Cost: cost, Utility: effect, RawCost: cost, RawUtility: effect}})
}

func createTestReport(t *testing.T) *output.Report {
	t.Helper()
	r := output.NewReport("two-state", calculation.Options{Cycles: 1, Method: domain.MethodEnd, Discount: discount.Uniform(0.03)})
	r.CreatedAt = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	r.Results = []*domain.SimulationResult{makeResult(t, "usual", 180, 1.8), makeResult(t, "treated", 570, 1.9)}

	run := &psa.Run{Strategies: []string{"usual", "treated"}, Parameters: []string{"p_die"}, Seed: 42}
	run.Draws = []psa.Draw{
		{Index: 0, Values: map[string]float64{"p_die": 0.1}, Results: []*domain.SimulationResult{
			makeResult(t, "usual", 100, 1), makeResult(t, "treated", 300, 2)}},
		{Index: 1, Values: map[string]float64{"p_die": 0.2}, Results: []*domain.SimulationResult{
			makeResult(t, "usual", 120, 1), makeResult(t, "treated", 320, 1.5)}},
		{Index: 2, Values: map[string]float64{"p_die": 1.4}, Err: errors.New("invalid probability")},
	}
	run.Failed = 1
	p, err := output.NewPSAReport(run, []float64{0, 1000})
	require.NoError(t, err)
	r.PSA = p
	return r
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cohortsim.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestSaveReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	r := createTestReport(t)
	require.NoError(t, s.SaveReport(ctx, r))

	rec, err := s.GetRun(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, "two-state", rec.Model)
	assert.Equal(t, r.CreatedAt, rec.CreatedAt)
	assert.Equal(t, 1, rec.Settings.Cycles)
	assert.Equal(t, domain.MethodEnd, rec.Settings.Method)
	assert.Equal(t, 0.03, rec.Settings.Discount.Cost)

	totals, err := s.Totals(ctx, r.RunID)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "treated", totals[0].Strategy)
	assert.InDelta(t, 570, totals[0].Cost, 1e-9)
	assert.InDelta(t, 1.8, totals[1].Effect, 1e-9)

	counts, err := s.Counts(ctx, r.RunID, "usual")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 900.0, counts[1]["alive"])
	assert.Equal(t, 100.0, counts[1]["dead"])
}

func TestSaveReportStoresDraws(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	r := createTestReport(t)
	require.NoError(t, s.SaveReport(ctx, r))

	draws, err := s.Draws(ctx, r.RunID, "treated")
	require.NoError(t, err)
	require.Len(t, draws, 3)
	assert.Equal(t, 300.0, draws[0].Cost)
	assert.Equal(t, 1.5, draws[1].Effect)
	assert.Equal(t, "invalid probability", draws[2].Err)

	summary, err := s.PSASummary(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), summary.Seed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.ICERs, 1)
	require.NotNil(t, summary.ICERs[0].ICER)
	assert.InDelta(t, 200/0.75, *summary.ICERs[0].ICER, 1e-9)
	assert.Nil(t, summary.Run)
}

func TestSaveReportDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	r := createTestReport(t)
	require.NoError(t, s.SaveReport(ctx, r))
	assert.ErrorIs(t, s.SaveReport(ctx, r), ErrAlreadyExists)
}

func TestSaveReportRequiresRunID(t *testing.T) {
	s := openTempStore(t)
	assert.Error(t, s.SaveReport(context.Background(), &output.Report{}))
}

func TestListAndDeleteRuns(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)

	older := createTestReport(t)
	newer := createTestReport(t)
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	require.NoError(t, s.SaveReport(ctx, older))
	require.NoError(t, s.SaveReport(ctx, newer))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, s.DeleteRun(ctx, older.RunID))
	_, err = s.GetRun(ctx, older.RunID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Counts(ctx, older.RunID, "usual")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteRun(ctx, older.RunID), ErrNotFound)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTempStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.PSASummary(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
