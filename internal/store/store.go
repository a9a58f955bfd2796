// Package store persists simulation reports in SQLite so runs can be
// queried and compared after the fact.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/output"
	"github.com/rgehrsitz/cohortsim/internal/store/migrations"
)

var (
	// ErrNotFound is returned when a run id is unknown.
	ErrNotFound = errors.New("run not found")
	// ErrAlreadyExists is returned when a run id is saved twice.
	ErrAlreadyExists = errors.New("run already exists")
)

// RunRecord is the stored header of one run.
type RunRecord struct {
	RunID     string
	Model     string
	CreatedAt time.Time
	Settings  output.RunSettings
}

// DrawOutcome is one strategy's totals in one PSA draw. Failed draws carry
// Err and no totals.
type DrawOutcome struct {
	Draw   int
	Cost   float64
	Effect float64
	Err    string
}

// Store keeps runs in a SQLite database.
type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64   { return t.UTC().UnixMilli() }
func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	dsn := clean + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// applyMigrations runs every embedded .sql file once, in name order.
func applyMigrations(db *sql.DB, fsys fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var n int
		if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveReport writes the run header, every simulation result and, when
// present, the PSA draws and summary in one transaction.
func (s *Store) SaveReport(ctx context.Context, r *output.Report) (retErr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if r == nil || strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, model, created_at, cycles, method, discount_cost, discount_effect)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Model, toMillis(createdAt), r.Settings.Cycles, string(r.Settings.Method),
		r.Settings.Discount.Cost, r.Settings.Discount.Effect,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}

	for _, res := range r.Results {
		if err := insertResult(ctx, tx, r.RunID, res); err != nil {
			return err
		}
	}
	if r.PSA != nil {
		if err := insertPSA(ctx, tx, r.RunID, r.PSA); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertResult(ctx context.Context, tx *sql.Tx, runID string, res *domain.SimulationResult) error {
	countStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cohort_counts (run_id, strategy, cycle, state, count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare counts: %w", err)
	}
	defer func() { _ = countStmt.Close() }()
	for t, v := range res.Counts() {
		for i, state := range v.States {
			if _, err := countStmt.ExecContext(ctx, runID, res.Strategy(), t, state, v.Counts[i]); err != nil {
				return fmt.Errorf("insert counts for %s: %w", res.Strategy(), err)
			}
		}
	}

	valueStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cycle_values (run_id, strategy, cycle, cost, utility, raw_cost, raw_utility)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare values: %w", err)
	}
	defer func() { _ = valueStmt.Close() }()
	for _, cv := range res.Values() {
		if _, err := valueStmt.ExecContext(ctx, runID, res.Strategy(), cv.Cycle,
			cv.Cost, cv.Utility, cv.RawCost, cv.RawUtility); err != nil {
			return fmt.Errorf("insert values for %s: %w", res.Strategy(), err)
		}
	}
	return nil
}

func insertPSA(ctx context.Context, tx *sql.Tx, runID string, p *output.PSAReport) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode PSA summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO psa_summaries (run_id, payload) VALUES (?, ?)`, runID, payload); err != nil {
		return fmt.Errorf("insert PSA summary: %w", err)
	}
	if p.Run == nil {
		return nil
	}

	drawStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO psa_draws (run_id, draw, strategy, cost, effect, error) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare draws: %w", err)
	}
	defer func() { _ = drawStmt.Close() }()
	sampleStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO psa_samples (run_id, draw, parameter, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare samples: %w", err)
	}
	defer func() { _ = sampleStmt.Close() }()

	for _, d := range p.Run.Draws {
		for k, name := range p.Run.Strategies {
			var cost, effect sql.NullFloat64
			msg := ""
			if d.Failed() {
				msg = d.Err.Error()
			} else if k < len(d.Results) {
				t := d.Results[k].Totals()
				cost = sql.NullFloat64{Float64: t.Cost, Valid: true}
				effect = sql.NullFloat64{Float64: t.Utility, Valid: true}
			}
			if _, err := drawStmt.ExecContext(ctx, runID, d.Index, name, cost, effect, msg); err != nil {
				return fmt.Errorf("insert draw %d: %w", d.Index, err)
			}
		}
		for _, param := range p.Run.Parameters {
			v, ok := d.Values[param]
			if !ok {
				continue
			}
			if _, err := sampleStmt.ExecContext(ctx, runID, d.Index, param, v); err != nil {
				return fmt.Errorf("insert sample %d/%s: %w", d.Index, param, err)
			}
		}
	}
	return nil
}

// GetRun returns the header of one run.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return RunRecord{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, model, created_at, cycles, method, discount_cost, discount_effect
		   FROM runs WHERE run_id = ?`, strings.TrimSpace(runID))
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var createdAt int64
	var method string
	if err := row.Scan(&rec.RunID, &rec.Model, &createdAt, &rec.Settings.Cycles, &method,
		&rec.Settings.Discount.Cost, &rec.Settings.Discount.Effect); err != nil {
		return RunRecord{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.Settings.Method = domain.Method(method)
	return rec, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 lists all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, model, created_at, cycles, method, discount_cost, discount_effect
		   FROM runs ORDER BY created_at DESC, run_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Totals sums the stored discounted values per strategy.
func (s *Store) Totals(ctx context.Context, runID string) ([]calculation.StrategyTotals, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, SUM(cost), SUM(utility)
		   FROM cycle_values WHERE run_id = ?
		  GROUP BY strategy ORDER BY strategy`, runID)
	if err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []calculation.StrategyTotals
	for rows.Next() {
		var t calculation.StrategyTotals
		if err := rows.Scan(&t.Strategy, &t.Cost, &t.Effect); err != nil {
			return nil, fmt.Errorf("totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Counts returns the cohort vector of a strategy at every stored cycle.
func (s *Store) Counts(ctx context.Context, runID, strategy string) ([]map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle, state, count FROM cohort_counts
		  WHERE run_id = ? AND strategy = ? ORDER BY cycle`, runID, strategy)
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []map[string]float64
	for rows.Next() {
		var cycle int
		var state string
		var count float64
		if err := rows.Scan(&cycle, &state, &count); err != nil {
			return nil, fmt.Errorf("counts: %w", err)
		}
		for len(out) <= cycle {
			out = append(out, map[string]float64{})
		}
		out[cycle][state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Draws returns a strategy's per-draw totals in draw order.
func (s *Store) Draws(ctx context.Context, runID, strategy string) ([]DrawOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT draw, cost, effect, error FROM psa_draws
		  WHERE run_id = ? AND strategy = ? ORDER BY draw`, runID, strategy)
	if err != nil {
		return nil, fmt.Errorf("draws: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DrawOutcome
	for rows.Next() {
		var d DrawOutcome
		var cost, effect sql.NullFloat64
		if err := rows.Scan(&d.Draw, &cost, &effect, &d.Err); err != nil {
			return nil, fmt.Errorf("draws: %w", err)
		}
		d.Cost, d.Effect = cost.Float64, effect.Float64
		out = append(out, d)
	}
	return out, rows.Err()
}

// PSASummary decodes the stored aggregate of a PSA run. The draws
// themselves are not attached; use Draws.
func (s *Store) PSASummary(ctx context.Context, runID string) (*output.PSAReport, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM psa_summaries WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("PSA summary: %w", err)
	}
	var p output.PSAReport
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode PSA summary: %w", err)
	}
	return &p, nil
}

// DeleteRun removes a run and everything stored with it.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
