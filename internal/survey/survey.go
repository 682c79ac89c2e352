// Package survey turns respondent-level service usage into per-region
// adoption ratios.
package survey

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/timeaxis"
)

// DefaultServices are the service columns reported by the usage survey.
var DefaultServices = []string{"service_1", "service_2", "service_3", "service_4", "service_5", "other_services"}

// DefaultJitter is added to the primary service ratio so it is strictly
// positive. It is a deliberate bias for numerical stability of the growth
// fit, not a data correction.
const DefaultJitter = 1e-6

// UsageRow is one respondent's reported usage in a period. A zero count
// means the respondent did not report the service.
type UsageRow struct {
	Date       time.Time
	Area       string
	Region     string
	Respondent string
	Counts     map[string]float64
}

// SampleSize is the number of distinct respondents surveyed in a region and
// period.
type SampleSize struct {
	Date   time.Time
	Region string
	Size   int64
}

// Observation is one adoption ratio for a (date, region, service).
// DateNum is only set on observations returned by View.
type Observation struct {
	Date    time.Time `json:"date"`
	Region  string    `json:"region"`
	Service string    `json:"service"`
	Ratio   float64   `json:"adoption_ratio"`
	DateNum int       `json:"date_num"`
}

// Assembler computes adoption ratios.
type Assembler struct {
	Services []string
	Primary  string
	Jitter   float64
}

// NewAssembler returns an Assembler over services that stabilises primary.
func NewAssembler(services []string, primary string, jitter float64) (*Assembler, error) {
	if len(services) == 0 {
		services = DefaultServices
	}
	found := false
	for _, s := range services {
		if s == primary {
			found = true
			break
		}
	}
	if !found {
		return nil, eris.Errorf("survey: primary service %q is not one of %v", primary, services)
	}
	if jitter <= 0 {
		return nil, eris.Errorf("survey: jitter must be positive, got %v", jitter)
	}
	return &Assembler{Services: services, Primary: primary, Jitter: jitter}, nil
}

type periodKey struct {
	date   time.Time
	region string
}

// Assemble tallies, per (date, region), the respondents reporting a non-zero
// count for each service and divides by the full survey sample size.
//
// Periods without a positive sample size are dropped. Secondary services
// with no reporting respondent produce no observation; the primary service
// always produces one and always carries the jitter, so every returned
// ratio is strictly positive.
func (a *Assembler) Assemble(usage []UsageRow, sizes []SampleSize) []Observation {
	log := zap.L().With(zap.String("component", "survey.assemble"))

	denom := make(map[periodKey]int64, len(sizes))
	for _, s := range sizes {
		denom[periodKey{timeaxis.Day(s.Date), s.Region}] += s.Size
	}

	tally := make(map[periodKey]map[string]int)
	for _, row := range usage {
		k := periodKey{timeaxis.Day(row.Date), row.Region}
		counts, ok := tally[k]
		if !ok {
			counts = make(map[string]int, len(a.Services))
			tally[k] = counts
		}
		for _, svc := range a.Services {
			v := row.Counts[svc]
			if v != 0 && !math.IsNaN(v) {
				counts[svc]++
			}
		}
	}

	var out []Observation
	for k, counts := range tally {
		n := denom[k]
		if n <= 0 {
			log.Warn("no sample size for period, dropping",
				zap.String("region", k.region),
				zap.Time("date", k.date),
			)
			continue
		}
		for _, svc := range a.Services {
			c := counts[svc]
			if c == 0 && svc != a.Primary {
				continue
			}
			ratio := float64(c) / float64(n)
			if svc == a.Primary {
				ratio += a.Jitter
			}
			out = append(out, Observation{
				Date:    k.date,
				Region:  k.region,
				Service: svc,
				Ratio:   ratio,
			})
		}
	}

	sortObservations(out)
	return out
}

// View returns the observations of one region and service ordered by date,
// with DateNum set to the day offset from the region's earliest date.
func View(obs []Observation, region, service string) []Observation {
	var out []Observation
	for _, o := range obs {
		if o.Region == region && o.Service == service {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	minDate := out[0].Date
	for i := range out {
		out[i].DateNum = timeaxis.DaysSince(minDate, out[i].Date)
	}
	return out
}

// Regions returns the distinct regions present in obs, sorted.
func Regions(obs []Observation) []string {
	seen := make(map[string]struct{})
	for _, o := range obs {
		seen[o.Region] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func sortObservations(obs []Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].Region != obs[j].Region {
			return obs[i].Region < obs[j].Region
		}
		if !obs[i].Date.Equal(obs[j].Date) {
			return obs[i].Date.Before(obs[j].Date)
		}
		return obs[i].Service < obs[j].Service
	})
}
