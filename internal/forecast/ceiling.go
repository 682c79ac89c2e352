package forecast

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// ErrMissingCeiling is returned when a region to be forecast has no ceiling.
var ErrMissingCeiling = eris.New("forecast: missing ceiling")

// CeilingTable maps a region to its fixed logistic carrying capacity. It is
// immutable once built.
type CeilingTable struct {
	values map[string]float64
}

// NewCeilingTable copies values into a CeilingTable. Every ceiling must be a
// positive finite number.
func NewCeilingTable(values map[string]float64) (CeilingTable, error) {
	m := make(map[string]float64, len(values))
	for region, v := range values {
		if !(v > 0) || math.IsInf(v, 0) {
			return CeilingTable{}, eris.Errorf("forecast: ceiling for %q must be positive, got %v", region, v)
		}
		m[region] = v
	}
	return CeilingTable{values: m}, nil
}

// Lookup returns the ceiling of region.
func (c CeilingTable) Lookup(region string) (float64, bool) {
	v, ok := c.values[region]
	return v, ok
}

// Regions returns the regions with a ceiling, sorted.
func (c CeilingTable) Regions() []string {
	out := make([]string, 0, len(c.values))
	for r := range c.values {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of regions in the table.
func (c CeilingTable) Len() int {
	return len(c.values)
}
