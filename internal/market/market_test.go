package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var q1 = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

func TestCompute(t *testing.T) {
	rows := []Row{{
		Date: q1, Territory: "GB", Company: "Acme",
		Subscriptions: 250, TotalSubscriptions: 1000,
		Revenue: 5000, TotalRevenue: 20000,
		ExchangeRate: 0.8,
	}}

	got := Compute(rows)
	require.Len(t, got, 1)
	m := got[0]
	assert.InDelta(t, 0.25, m.SubscriptionShare, 1e-12)
	assert.InDelta(t, 0.25, m.RevenueShare, 1e-12)
	assert.InDelta(t, 6250, m.RevenueUSD, 1e-9)
	assert.InDelta(t, 25000, m.TotalRevenueUSD, 1e-9)
	assert.InDelta(t, 20, m.ARPU, 1e-12)
	assert.Equal(t, "Acme", m.Company)
}

func TestCompute_ZeroDenominatorsLoggedOncePerTerritory(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	rows := []Row{
		{Date: q1, Territory: "FR", Company: "A", Revenue: 10},
		{Date: q1, Territory: "FR", Company: "B", Revenue: 20},
	}
	got := Compute(rows)
	for _, m := range got {
		assert.Zero(t, m.SubscriptionShare)
		assert.Zero(t, m.RevenueShare)
		assert.Zero(t, m.RevenueUSD)
		assert.Zero(t, m.TotalRevenueUSD)
		assert.Zero(t, m.ARPU)
	}
	// Five measures, each logged once for FR.
	assert.Equal(t, 5, logs.Len())
}

func TestCompute_Sorted(t *testing.T) {
	q2 := q1.AddDate(0, 3, 0)
	rows := []Row{
		{Date: q2, Territory: "GB", Company: "B", ExchangeRate: 1},
		{Date: q1, Territory: "GB", Company: "B", ExchangeRate: 1},
		{Date: q1, Territory: "DE", Company: "Z", ExchangeRate: 1},
		{Date: q1, Territory: "GB", Company: "A", ExchangeRate: 1},
	}

	got := Compute(rows)
	var order []string
	for _, m := range got {
		order = append(order, m.Territory+"/"+m.Date.Format("2006-01")+"/"+m.Company)
	}
	assert.Equal(t, []string{"DE/2024-03/Z", "GB/2024-03/A", "GB/2024-03/B", "GB/2024-06/B"}, order)
}
