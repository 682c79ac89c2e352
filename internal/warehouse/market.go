package warehouse

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-forecast/internal/estimate"
	"github.com/sells-group/market-forecast/internal/market"
)

// Filter narrows the market and economy extracts. Empty territories select
// every territory; zero dates leave that end of the range open.
type Filter struct {
	BusinessLine string
	RateType     string
	Territories  []string
	From         time.Time
	To           time.Time
}

var (
	openFrom = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	openTo   = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

func (f Filter) bounds() (time.Time, time.Time) {
	from, to := f.From, f.To
	if from.IsZero() {
		from = openFrom
	}
	if to.IsZero() {
		to = openTo
	}
	return from, to
}

func (f Filter) territories() []string {
	if f.Territories == nil {
		return []string{}
	}
	return f.Territories
}

const marketRowsSQL = `
	WITH total AS (
		SELECT period_id, territory,
		       SUM(subscriptions) AS total_subs,
		       SUM(revenue) AS total_revenue
		FROM analytics.market_data
		WHERE business_line = $1
		GROUP BY period_id, territory
	)
	SELECT p.period_end, p.label, m.territory, t.region, m.company, m.business_line,
	       MAX(m.subscriptions), total.total_subs, MAX(m.revenue), total.total_revenue,
	       m.currency, x.output_currency, x.exchange_rate, x.rate_type, m.forecast_flag
	FROM analytics.market_data m
	JOIN analytics.periods p ON p.id = m.period_id
	JOIN analytics.territories t ON t.territory = m.territory
	JOIN analytics.exchange_rates x ON x.period_id = m.period_id AND x.input_currency = m.currency
	JOIN total ON total.period_id = m.period_id AND total.territory = m.territory
	WHERE m.business_line = $1
	  AND x.rate_type = $2
	  AND (cardinality($3::text[]) = 0 OR m.territory = ANY($3))
	  AND p.period_end BETWEEN $4 AND $5
	GROUP BY p.period_end, p.label, m.territory, t.region, m.company, m.business_line,
	         total.total_subs, total.total_revenue, m.currency, x.output_currency,
	         x.exchange_rate, x.rate_type, m.forecast_flag
	ORDER BY m.territory, p.period_end, m.company`

// MarketRows returns per-company subscriptions and revenue joined with the
// territory totals and the exchange rate of the requested type.
func (w *Warehouse) MarketRows(ctx context.Context, f Filter) ([]market.Row, error) {
	if f.BusinessLine == "" || f.RateType == "" {
		return nil, eris.New("warehouse: market rows need a business line and rate type")
	}
	from, to := f.bounds()

	return query(ctx, w, "market rows", func(ctx context.Context) ([]market.Row, error) {
		rows, err := w.pool.Query(ctx, marketRowsSQL, f.BusinessLine, f.RateType, f.territories(), from, to)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []market.Row
		for rows.Next() {
			var r market.Row
			if err := rows.Scan(&r.Date, &r.Period, &r.Territory, &r.Region, &r.Company, &r.BusinessLine,
				&r.Subscriptions, &r.TotalSubscriptions, &r.Revenue, &r.TotalRevenue,
				&r.Currency, &r.OutputCurrency, &r.ExchangeRate, &r.RateType, &r.Flag); err != nil {
				return nil, eris.Wrap(err, "scan market row")
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

const economyRowsSQL = `
	SELECT p.period_end, p.label, t.region, e.territory, t.currency,
	       e.economy_metric, x.exchange_rate
	FROM analytics.economy e
	JOIN analytics.periods p ON p.id = e.period_id
	JOIN analytics.territories t ON t.territory = e.territory
	JOIN analytics.exchange_rates x ON x.period_id = e.period_id AND x.input_currency = t.currency
	WHERE x.rate_type = $1
	  AND (cardinality($2::text[]) = 0 OR e.territory = ANY($2))
	  AND p.period_end BETWEEN $3 AND $4
	ORDER BY e.territory, p.period_end`

// EconomyRows returns the economy metric and exchange rate per territory
// and period.
func (w *Warehouse) EconomyRows(ctx context.Context, f Filter) ([]estimate.EconomyRow, error) {
	if f.RateType == "" {
		return nil, eris.New("warehouse: economy rows need a rate type")
	}
	from, to := f.bounds()

	return query(ctx, w, "economy rows", func(ctx context.Context) ([]estimate.EconomyRow, error) {
		rows, err := w.pool.Query(ctx, economyRowsSQL, f.RateType, f.territories(), from, to)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []estimate.EconomyRow
		for rows.Next() {
			var r estimate.EconomyRow
			if err := rows.Scan(&r.Date, &r.Period, &r.Region, &r.Territory, &r.Currency,
				&r.EconomyMetric, &r.ExchangeRate); err != nil {
				return nil, eris.Wrap(err, "scan economy row")
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}
