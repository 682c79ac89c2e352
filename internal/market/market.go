// Package market derives market share, USD revenue and ARPU from the
// per-company subscription and revenue extract.
package market

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Row is one company's raw figures in a territory and period, joined with
// the territory totals and the period's exchange rate.
type Row struct {
	Date               time.Time `json:"date"`
	Period             string    `json:"period"`
	Territory          string    `json:"territory"`
	Region             string    `json:"region"`
	Company            string    `json:"company"`
	BusinessLine       string    `json:"business_line"`
	Subscriptions      float64   `json:"subscriptions"`
	TotalSubscriptions float64   `json:"total_subs"`
	Revenue            float64   `json:"revenue_loc"`
	TotalRevenue       float64   `json:"total_revenue_loc"`
	Currency           string    `json:"currency"`
	OutputCurrency     string    `json:"output_currency"`
	ExchangeRate       float64   `json:"exchange_rate"`
	RateType           string    `json:"exchange_rate_type"`
	Flag               string    `json:"forecast_flag"`
}

// Metric is a Row with its derived measures.
type Metric struct {
	Row
	SubscriptionShare float64 `json:"subscriptions_market_share"`
	RevenueShare      float64 `json:"revenue_market_share"`
	RevenueUSD        float64 `json:"revenue_usd"`
	TotalRevenueUSD   float64 `json:"total_revenue_usd"`
	ARPU              float64 `json:"arpu"`
}

// Compute derives the measures for every row and returns them sorted by
// territory, date and company. A zero denominator yields 0; each
// (territory, measure) with a zero denominator is logged once.
func Compute(rows []Row) []Metric {
	d := divider{logged: make(map[[2]string]bool)}

	out := make([]Metric, len(rows))
	for i, r := range rows {
		out[i] = Metric{
			Row:               r,
			SubscriptionShare: d.div(r.Subscriptions, r.TotalSubscriptions, r.Territory, "subscriptions_market_share"),
			RevenueShare:      d.div(r.Revenue, r.TotalRevenue, r.Territory, "revenue_market_share"),
			RevenueUSD:        d.div(r.Revenue, r.ExchangeRate, r.Territory, "revenue_usd"),
			TotalRevenueUSD:   d.div(r.TotalRevenue, r.ExchangeRate, r.Territory, "total_revenue_usd"),
			ARPU:              d.div(r.Revenue, r.Subscriptions, r.Territory, "arpu"),
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Territory != b.Territory {
			return a.Territory < b.Territory
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Company < b.Company
	})
	return out
}

type divider struct {
	logged map[[2]string]bool
}

func (d divider) div(num, den float64, territory, measure string) float64 {
	if den != 0 {
		return num / den
	}
	key := [2]string{territory, measure}
	if !d.logged[key] {
		d.logged[key] = true
		zap.L().Warn("market: zero denominator, using 0",
			zap.String("territory", territory),
			zap.String("measure", measure),
		)
	}
	return 0
}
