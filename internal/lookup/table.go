package lookup

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rgehrsitz/cohortsim/internal/domain"
)

// Table maps an integer key (usually age in years) to named float columns.
// Tables are built once and then only read, so they are safe to share
// between concurrent simulations.
type Table struct {
	name    string
	columns []string
	rows    map[int]map[string]float64
	keys    []int
}

// NewTable creates an empty table with the given value columns.
func NewTable(name string, columns []string) *Table {
	return &Table{
		name:    name,
		columns: append([]string(nil), columns...),
		rows:    make(map[int]map[string]float64),
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns the value column names.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// AddRow inserts one row. Keys must be unique and every column must be present.
func (t *Table) AddRow(key int, values map[string]float64) error {
	if _, exists := t.rows[key]; exists {
		return fmt.Errorf("table %s: duplicate key %d", t.name, key)
	}
	row := make(map[string]float64, len(t.columns))
	for _, col := range t.columns {
		v, ok := values[col]
		if !ok {
			return fmt.Errorf("table %s: key %d missing column %s", t.name, key, col)
		}
		row[col] = v
	}
	t.rows[key] = row
	idx := sort.SearchInts(t.keys, key)
	t.keys = append(t.keys, 0)
	copy(t.keys[idx+1:], t.keys[idx:])
	t.keys[idx] = key
	return nil
}

// Lookup returns the value of column at key. Keys must match exactly; there
// is no interpolation or extrapolation.
func (t *Table) Lookup(key int, column string) (float64, error) {
	row, ok := t.rows[key]
	if !ok {
		return 0, domain.NewModelError(domain.ErrKeyNotFound, t.name,
			fmt.Sprintf("key %d outside table (%s)", key, t.describeRange()), nil)
	}
	v, ok := row[column]
	if !ok {
		return 0, domain.NewModelError(domain.ErrKeyNotFound, t.name,
			fmt.Sprintf("unknown column %q", column), nil)
	}
	return v, nil
}

// Keys returns the keys in ascending order.
func (t *Table) Keys() []int { return append([]int(nil), t.keys...) }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.keys) }

// Range returns the smallest and largest key. ok is false for an empty table.
func (t *Table) Range() (lo, hi int, ok bool) {
	if len(t.keys) == 0 {
		return 0, 0, false
	}
	return t.keys[0], t.keys[len(t.keys)-1], true
}

func (t *Table) describeRange() string {
	lo, hi, ok := t.Range()
	if !ok {
		return "empty"
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// LoadCSV reads a table from CSV. The first record is the header; keyColumn
// names the integer key column and every other column is parsed as float.
func LoadCSV(name string, r io.Reader, keyColumn string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("table %s: failed to read header: %w", name, err)
	}

	keyIdx := -1
	columns := make([]string, 0, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if seen[h] {
			return nil, fmt.Errorf("table %s: duplicate column %q in header", name, h)
		}
		seen[h] = true
		header[i] = h
		if h == keyColumn {
			keyIdx = i
			continue
		}
		columns = append(columns, h)
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("table %s: key column %q not in header", name, keyColumn)
	}

	table := NewTable(name, columns)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("table %s: line %d: %w", name, line, err)
		}

		key, err := strconv.Atoi(strings.TrimSpace(record[keyIdx]))
		if err != nil {
			return nil, fmt.Errorf("table %s: line %d: invalid key %q: %w", name, line, record[keyIdx], err)
		}
		values := make(map[string]float64, len(columns))
		for i, field := range record {
			if i == keyIdx {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("table %s: line %d: column %s: %w", name, line, header[i], err)
			}
			values[header[i]] = v
		}
		if err := table.AddRow(key, values); err != nil {
			return nil, err
		}
	}
	return table, nil
}
