package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rgehrsitz/cohortsim/internal/domain"
)

// LoadInitialPopulation reads a CSV whose header lists state names and whose
// rows are alternative starting cohorts; row selects one (zero-based).
func LoadInitialPopulation(r io.Reader, row int) (domain.CohortVector, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return domain.CohortVector{}, fmt.Errorf("failed to read initial population: %w", err)
	}
	if len(records) < 2 {
		return domain.CohortVector{}, domain.NewModelError(domain.ErrInvalidInitialPopulation, "csv",
			"needs a header row and at least one data row", nil)
	}
	if row < 0 || row >= len(records)-1 {
		return domain.CohortVector{}, domain.NewModelError(domain.ErrInvalidInitialPopulation, "csv",
			fmt.Sprintf("row %d out of range (%d rows)", row, len(records)-1), nil)
	}

	header := records[0]
	states := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		states[i] = strings.TrimSpace(h)
		if seen[states[i]] {
			return domain.CohortVector{}, domain.NewModelError(domain.ErrInvalidInitialPopulation, states[i],
				"state appears twice in the header", nil)
		}
		seen[states[i]] = true
	}
	values := records[row+1]
	counts := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return domain.CohortVector{}, domain.NewModelError(domain.ErrInvalidInitialPopulation, states[i],
				fmt.Sprintf("row %d: %q is not a number", row, v), nil)
		}
		counts[i] = f
	}

	vec, err := domain.NewCohortVector(states, counts)
	if err != nil {
		return domain.CohortVector{}, err
	}
	if err := vec.Validate(); err != nil {
		return domain.CohortVector{}, err
	}
	return vec, nil
}
