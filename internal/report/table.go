// Package report turns forecast, market and survey results into tables and
// writes them as CSV files, workbook sheets, charts and a fit report.
package report

import (
	"time"

	"github.com/sells-group/market-forecast/internal/estimate"
	"github.com/sells-group/market-forecast/internal/forecast"
	"github.com/sells-group/market-forecast/internal/market"
	"github.com/sells-group/market-forecast/internal/timeaxis"
	"github.com/sells-group/market-forecast/internal/warehouse"
)

// Sheet names used by the report tables.
const (
	SheetBasicInfo      = "Basic_Info"
	SheetMarketMetrics  = "Market_Metrics"
	SheetIndexedMetrics = "Indexed_Metrics"
	SheetUsageForecast  = "Usage_Forecast"
	SheetServiceUsage   = "Service_Usage"
)

// Table is a named grid of values. Cell values are string, float64, int,
// int64, time.Time or nil for an empty cell.
type Table struct {
	Sheet   string
	Columns []string
	Rows    [][]any
}

// Width is the number of data columns.
func (t Table) Width() int {
	return len(t.Columns)
}

// ForecastTable lays out forecast records with display column names.
func ForecastTable(records []forecast.Record) Table {
	t := Table{
		Sheet: SheetUsageForecast,
		Columns: []string{"Date", "Region", "Service Ratio", "Forecast", "Forecast Flag",
			"L", "k", "x0", "t", "Date Num", "Formula"},
		Rows: make([][]any, 0, len(records)),
	}
	for _, r := range records {
		var ratio any
		if r.ServiceRatio != nil {
			ratio = *r.ServiceRatio
		}
		t.Rows = append(t.Rows, []any{
			r.Date, r.Region, ratio, r.Forecast, string(r.Flag),
			r.L, r.K, r.X0, r.T, r.DateNum, r.Formula,
		})
	}
	return t
}

// MarketTable lays out market share and USD revenue metrics.
func MarketTable(metrics []market.Metric) Table {
	t := Table{
		Sheet: SheetMarketMetrics,
		Columns: []string{"Date", "Time", "Territory", "Region", "Company", "Business Line",
			"Subscriptions", "Total Subscriptions", "Subscriptions Market Share",
			"Revenue (Local)", "Total Revenue (Local)", "Revenue Market Share",
			"Currency", "Exchange Rate", "Revenue (USD)", "Total Revenue (USD)", "ARPU", "Forecast Flag"},
		Rows: make([][]any, 0, len(metrics)),
	}
	for _, m := range metrics {
		t.Rows = append(t.Rows, []any{
			m.Date, m.Period, m.Territory, m.Region, m.Company, m.BusinessLine,
			m.Subscriptions, m.TotalSubscriptions, m.SubscriptionShare,
			m.Revenue, m.TotalRevenue, m.RevenueShare,
			m.Currency, m.ExchangeRate, m.RevenueUSD, m.TotalRevenueUSD, m.ARPU, m.Flag,
		})
	}
	return t
}

// EstimateTable lays out the indexed local-currency metric.
func EstimateTable(metrics []estimate.Metric) Table {
	t := Table{
		Sheet: SheetIndexedMetrics,
		Columns: []string{"Date", "Time", "Year", "Quarter", "Region", "Territory", "Currency",
			"Company", "Subcategory", "Value"},
		Rows: make([][]any, 0, len(metrics)),
	}
	for _, m := range metrics {
		t.Rows = append(t.Rows, []any{
			m.Date, m.Period, m.Year, m.Quarter, m.Region, m.Territory, m.Currency,
			m.Company, m.Subcategory, m.Value,
		})
	}
	return t
}

// ServiceUsageTable lays out per-service usage shares.
func ServiceUsageTable(rows []warehouse.ServiceUsage) Table {
	t := Table{
		Sheet: SheetServiceUsage,
		Columns: []string{"Date", "Time", "Region", "Territory", "Online Service",
			"Users", "Sample Size", "% of Sample", "Service Type", "Forecast Flag"},
		Rows: make([][]any, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Date, r.Period, r.Region, r.Territory, r.OnlineService,
			r.NumUsers, r.SampleSize, r.PercentOfSample, r.ServiceType, r.Flag,
		})
	}
	return t
}

// BasicInfoTable lays out each territory's economy metric and exchange rate.
func BasicInfoTable(rows []estimate.EconomyRow) Table {
	t := Table{
		Sheet: SheetBasicInfo,
		Columns: []string{"Date", "Time", "Year", "Quarter", "Region", "Territory", "Currency",
			"Economy Metric", "Exchange Rate"},
		Rows: make([][]any, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Date, r.Period, r.Date.Year(), timeaxis.Quarter(r.Date), r.Region, r.Territory,
			r.Currency, r.EconomyMetric, r.ExchangeRate,
		})
	}
	return t
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}
