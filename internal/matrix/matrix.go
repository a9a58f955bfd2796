package matrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/params"
)

// Epsilon is the tolerance for row sums and for probabilities that stray
// outside [0,1] through rounding alone.
const Epsilon = 1e-9

// Formula computes one matrix entry from the cycle's parameters.
type Formula func(s params.Snapshot) (float64, error)

// Entry is one cell of a row. Exactly one of Formula and Complement is set.
type Entry struct {
	To         string
	Formula    Formula
	Complement bool
}

// Value returns an entry with a formula.
func Value(to string, f Formula) Entry { return Entry{To: to, Formula: f} }

// Fixed returns an entry with a constant probability.
func Fixed(to string, p float64) Entry {
	return Entry{To: to, Formula: func(params.Snapshot) (float64, error) { return p, nil }}
}

// Param returns an entry equal to a named parameter.
func Param(to, name string) Entry {
	return Entry{To: to, Formula: func(s params.Snapshot) (float64, error) { return s.Get(name) }}
}

// Complement returns the entry that receives whatever remains of the row.
func Complement(to string) Entry { return Entry{To: to, Complement: true} }

// Row lists the outgoing transitions of one state. Targets that are not
// listed have probability zero.
type Row struct {
	From    string
	Entries []Entry
}

// Spec is the declarative form of a transition matrix.
type Spec struct {
	States []string
	Rows   []Row
}

// Validate checks the structure of the spec without evaluating formulas.
func (s Spec) Validate() error {
	if len(s.States) == 0 {
		return fmt.Errorf("transition matrix has no states")
	}
	index := make(map[string]int, len(s.States))
	for i, st := range s.States {
		if _, dup := index[st]; dup {
			return fmt.Errorf("state %s listed more than once", st)
		}
		index[st] = i
	}

	seen := make(map[string]bool, len(s.Rows))
	for _, row := range s.Rows {
		if _, ok := index[row.From]; !ok {
			return domain.NewModelError(domain.ErrStateNotInMatrix, row.From, "row for unknown state", nil)
		}
		if seen[row.From] {
			return fmt.Errorf("state %s has more than one row", row.From)
		}
		seen[row.From] = true

		complements := 0
		targets := make(map[string]bool, len(row.Entries))
		for _, e := range row.Entries {
			if _, ok := index[e.To]; !ok {
				return domain.NewModelError(domain.ErrStateNotInMatrix, e.To, "target of row "+row.From, nil)
			}
			if targets[e.To] {
				return fmt.Errorf("row %s lists %s more than once", row.From, e.To)
			}
			targets[e.To] = true
			if e.Complement {
				complements++
			} else if e.Formula == nil {
				return fmt.Errorf("row %s entry %s has no formula", row.From, e.To)
			}
		}
		if complements > 1 {
			return domain.NewModelError(domain.ErrInvalidComplementCount, row.From,
				fmt.Sprintf("%d complement entries, at most one allowed", complements), nil)
		}
	}
	for _, st := range s.States {
		if !seen[st] {
			return domain.NewModelError(domain.ErrStateNotInMatrix, st, "no row defined", nil)
		}
	}
	return nil
}

// Matrix is a resolved, row-stochastic transition matrix.
type Matrix struct {
	states []string
	index  map[string]int
	p      *mat.Dense // p[i][j] is the probability of moving from state i to state j
}

// Resolve evaluates every entry of spec against the snapshot.
func Resolve(spec Spec, snap params.Snapshot) (*Matrix, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	n := len(spec.States)
	m := &Matrix{
		states: append([]string(nil), spec.States...),
		index:  make(map[string]int, n),
		p:      mat.NewDense(n, n, nil),
	}
	for i, st := range spec.States {
		m.index[st] = i
	}

	for _, row := range spec.Rows {
		from := m.index[row.From]
		values := make([]float64, n)
		complement := -1
		var sum float64
		for _, e := range row.Entries {
			to := m.index[e.To]
			if e.Complement {
				complement = to
				continue
			}
			v, err := e.Formula(snap)
			if err != nil {
				return nil, fmt.Errorf("row %s -> %s: %w", row.From, e.To, err)
			}
			v, err = checkProbability(row.From, e.To, v)
			if err != nil {
				return nil, err
			}
			values[to] = v
			sum += v
		}

		if complement >= 0 {
			v, err := checkProbability(row.From, spec.States[complement], 1-sum)
			if err != nil {
				return nil, err
			}
			values[complement] = v
		} else if math.Abs(sum-1) > Epsilon {
			return nil, domain.NewModelError(domain.ErrRowSumMismatch, row.From,
				fmt.Sprintf("row sums to %.12g without a complement entry", sum), nil)
		}
		m.p.SetRow(from, values)
	}
	return m, nil
}

func checkProbability(from, to string, v float64) (float64, error) {
	switch {
	case math.IsNaN(v) || v < -Epsilon || v > 1+Epsilon:
		return 0, domain.NewModelError(domain.ErrInvalidProbability, from+" -> "+to,
			fmt.Sprintf("%.12g is outside [0,1]", v), nil)
	case v < 0:
		return 0, nil
	case v > 1:
		return 1, nil
	}
	return v, nil
}

// States returns the state order of the matrix.
func (m *Matrix) States() []string { return append([]string(nil), m.states...) }

// At returns the transition probability from -> to.
func (m *Matrix) At(from, to string) (float64, bool) {
	i, ok := m.index[from]
	if !ok {
		return 0, false
	}
	j, ok := m.index[to]
	if !ok {
		return 0, false
	}
	return m.p.At(i, j), true
}

// Row returns a copy of the probabilities out of from.
func (m *Matrix) Row(from string) ([]float64, bool) {
	i, ok := m.index[from]
	if !ok {
		return nil, false
	}
	return mat.Row(nil, i, m.p), true
}

// IsAbsorbing reports whether state transitions to itself with probability 1.
func (m *Matrix) IsAbsorbing(state string) bool {
	p, ok := m.At(state, state)
	return ok && math.Abs(p-1) <= Epsilon
}

// Dense returns a copy of the matrix in state order.
func (m *Matrix) Dense() *mat.Dense { return mat.DenseCopyOf(m.p) }

// Apply propagates a cohort one cycle: next = Pᵀ·v, so next[j] = sum_i v[i] * P[i][j].
// The vector must be in the matrix's state order.
func (m *Matrix) Apply(v domain.CohortVector) (domain.CohortVector, error) {
	if len(v.Counts) != len(m.states) {
		return domain.CohortVector{}, fmt.Errorf("cohort has %d states, matrix has %d", len(v.Counts), len(m.states))
	}
	for i, s := range v.States {
		if m.states[i] != s {
			return domain.CohortVector{}, domain.NewModelError(domain.ErrStateNotInMatrix, s,
				fmt.Sprintf("cohort position %d is %s in the matrix", i, m.states[i]), nil)
		}
	}
	var next mat.VecDense
	next.MulVec(m.p.T(), mat.NewVecDense(len(v.Counts), append([]float64(nil), v.Counts...)))
	return domain.CohortVector{
		States: append([]string(nil), m.states...),
		Counts: mat.Col(nil, 0, &next),
	}, nil
}
