// Package estimate projects each company's indexed metric into local
// currency by scaling it with the economy metric of every territory and
// period.
package estimate

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/market-forecast/internal/timeaxis"
)

// EconomyRow is the economy metric and exchange rate of a territory in a
// period.
type EconomyRow struct {
	Date          time.Time `json:"date"`
	Period        string    `json:"period"`
	Region        string    `json:"region"`
	Territory     string    `json:"territory"`
	Currency      string    `json:"currency"`
	EconomyMetric float64   `json:"economy_metric"`
	ExchangeRate  float64   `json:"exchange_rate"`
}

// MasterEntry is a company's index metric, measured in IndexPeriod in
// BaseTerritory.
type MasterEntry struct {
	Company       string  `json:"company"`
	ServiceType   string  `json:"service_type"`
	ChannelType   string  `json:"channel_type,omitempty"`
	IndexPeriod   string  `json:"index_period"`
	BaseTerritory string  `json:"base_territory"`
	BaseCurrency  string  `json:"base_currency"`
	IndexMetric   float64 `json:"index_metric"`
}

// Subcategory is the service type, qualified by the channel when present.
func (m MasterEntry) Subcategory() string {
	if m.ChannelType == "" {
		return m.ServiceType
	}
	return m.ServiceType + " - " + m.ChannelType
}

// Metric is one company/subcategory estimate for a territory and period.
type Metric struct {
	EconomyRow
	Company     string  `json:"company"`
	Subcategory string  `json:"subcategory"`
	Value       float64 `json:"value"`
	Year        int     `json:"year"`
	Quarter     int     `json:"quarter"`
}

type indexKey struct {
	date      time.Time
	territory string
}

// Calculate returns, for every economy row and master entry,
//
//	index_metric * economy_metric / economy_metric(index period, base territory) * exchange_rate
//
// Entries whose index period or base territory has no usable economy metric
// are logged and skipped. A repeated (company, subcategory) keeps the first
// entry. Output is sorted by territory, date, company and subcategory.
func Calculate(economy []EconomyRow, master []MasterEntry) []Metric {
	log := zap.L().With(zap.String("component", "estimate"))

	index := make(map[indexKey]float64, len(economy))
	for _, e := range economy {
		index[indexKey{timeaxis.Day(e.Date), e.Territory}] = e.EconomyMetric
	}

	type resolved struct {
		entry MasterEntry
		sub   string
		base  float64
	}

	seen := make(map[[2]string]bool, len(master))
	var entries []resolved
	for _, m := range master {
		sub := m.Subcategory()
		key := [2]string{m.Company, sub}
		if seen[key] {
			log.Warn("duplicate master entry, keeping first",
				zap.String("company", m.Company), zap.String("subcategory", sub))
			continue
		}
		seen[key] = true

		date, err := timeaxis.ParsePeriod(m.IndexPeriod)
		if err != nil {
			log.Warn("bad index period, skipping",
				zap.String("company", m.Company), zap.String("subcategory", sub), zap.Error(err))
			continue
		}
		base, ok := index[indexKey{date, m.BaseTerritory}]
		if !ok || base == 0 {
			log.Warn("no economy metric at index period, skipping",
				zap.String("company", m.Company),
				zap.String("subcategory", sub),
				zap.String("index_period", m.IndexPeriod),
				zap.String("base_territory", m.BaseTerritory),
			)
			continue
		}
		entries = append(entries, resolved{entry: m, sub: sub, base: base})
	}

	out := make([]Metric, 0, len(economy)*len(entries))
	for _, e := range economy {
		for _, r := range entries {
			out = append(out, Metric{
				EconomyRow:  e,
				Company:     r.entry.Company,
				Subcategory: r.sub,
				Value:       r.entry.IndexMetric * (e.EconomyMetric / r.base) * e.ExchangeRate,
				Year:        e.Date.Year(),
				Quarter:     timeaxis.Quarter(e.Date),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Territory != b.Territory:
			return a.Territory < b.Territory
		case !a.Date.Equal(b.Date):
			return a.Date.Before(b.Date)
		case a.Company != b.Company:
			return a.Company < b.Company
		default:
			return a.Subcategory < b.Subcategory
		}
	})

	log.Info("indexed metrics calculated",
		zap.Int("economy_rows", len(economy)),
		zap.Int("master_entries", len(entries)),
		zap.Int("metrics", len(out)),
	)
	return out
}
