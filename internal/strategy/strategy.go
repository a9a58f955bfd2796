package strategy

import (
	"fmt"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/rgehrsitz/cohortsim/internal/matrix"
	"github.com/rgehrsitz/cohortsim/internal/params"
)

// ValueFunc computes a per-person cost or utility for one cycle.
type ValueFunc func(s params.Snapshot) (float64, error)

// Const returns a ValueFunc with a fixed value.
func Const(v float64) ValueFunc {
	return func(params.Snapshot) (float64, error) { return v, nil }
}

// Param returns a ValueFunc reading a named parameter.
func Param(name string) ValueFunc {
	return func(s params.Snapshot) (float64, error) { return s.Get(name) }
}

// State is a health state with its per-cycle cost and utility. A nil
// formula contributes zero.
type State struct {
	Name        string
	Cost        ValueFunc
	Utility     ValueFunc
	Description string
}

// Evaluate returns the undiscounted cost and utility of one person in the
// state for the snapshot's cycle.
func (st State) Evaluate(s params.Snapshot) (cost, utility float64, err error) {
	if st.Cost != nil {
		if cost, err = st.Cost(s); err != nil {
			return 0, 0, fmt.Errorf("state %s cost: %w", st.Name, err)
		}
	}
	if st.Utility != nil {
		if utility, err = st.Utility(s); err != nil {
			return 0, 0, fmt.Errorf("state %s utility: %w", st.Name, err)
		}
	}
	return cost, utility, nil
}

// Strategy is one treatment policy: a transition structure and the values
// attached to each state.
type Strategy struct {
	Name        string
	Description string
	Transition  matrix.Spec
	States      []State
}

// StateNames returns the state order used for cohort vectors.
func (s *Strategy) StateNames() []string {
	return append([]string(nil), s.Transition.States...)
}

// State returns the definition of the named state.
func (s *Strategy) State(name string) (State, bool) {
	for _, st := range s.States {
		if st.Name == name {
			return st, true
		}
	}
	return State{}, false
}

// OrderedStates returns state definitions in matrix order. Validate must
// have succeeded.
func (s *Strategy) OrderedStates() []State {
	out := make([]State, 0, len(s.Transition.States))
	for _, name := range s.Transition.States {
		st, _ := s.State(name)
		out = append(out, st)
	}
	return out
}

// Validate checks that the states and the transition matrix describe the
// same state space.
func (s *Strategy) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if err := s.Transition.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", s.Name, err)
	}

	inMatrix := make(map[string]bool, len(s.Transition.States))
	for _, name := range s.Transition.States {
		inMatrix[name] = true
	}
	defined := make(map[string]bool, len(s.States))
	for _, st := range s.States {
		if defined[st.Name] {
			return fmt.Errorf("strategy %s: state %s defined more than once", s.Name, st.Name)
		}
		defined[st.Name] = true
		if !inMatrix[st.Name] {
			return fmt.Errorf("strategy %s: %w", s.Name,
				domain.NewModelError(domain.ErrStateNotInMatrix, st.Name, "state has no row in the transition matrix", nil))
		}
	}
	for _, name := range s.Transition.States {
		if !defined[name] {
			return fmt.Errorf("strategy %s: %w", s.Name,
				domain.NewModelError(domain.ErrStateNotInMatrix, name, "matrix state has no state definition", nil))
		}
	}
	return nil
}

// Names returns the names of the given strategies in order.
func Names(strategies []*Strategy) []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name
	}
	return names
}
