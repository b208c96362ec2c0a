package risk

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/navledger/internal/database"
	"github.com/aristath/navledger/internal/modules/instruments"
	"github.com/aristath/navledger/internal/modules/ledger"
	"github.com/aristath/navledger/internal/modules/nav"
	"github.com/aristath/navledger/internal/modules/pricing"
)

const benchStart = "2025-01-02"

var benchDays = []string{"2025-01-02", "2025-01-03", "2025-01-06", "2025-01-07"}

func newTestRisk(t *testing.T) (*Service, *ledger.Service, *pricing.Service) {
	t.Helper()

	riskSvc, ledgerSvc, priceSvc := newBareRisk(t)

	closes := make([]pricing.Close, 0, len(benchDays))
	for i, d := range benchDays {
		closes = append(closes, pricing.Close{Date: d, Close: 100 + float64(i)})
	}
	require.NoError(t, priceSvc.Store().UpsertCloses("^GSPC", closes))

	return riskSvc, ledgerSvc, priceSvc
}

// newBareRisk wires the stack without any benchmark history
func newBareRisk(t *testing.T) (*Service, *ledger.Service, *pricing.Service) {
	t.Helper()

	dir := t.TempDir()
	log := zerolog.Nop()

	db, err := database.New(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	store, err := pricing.NewStore(filepath.Join(dir, "prices.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	priceSvc := pricing.NewService(pricing.ServiceConfig{
		Store:       store,
		BenchSymbol: "^GSPC",
		BenchStart:  benchStart,
		Log:         log,
	})

	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Accounts:    ledger.NewAccountRepository(db.Conn(), log),
		Positions:   ledger.NewPositionRepository(db.Conn(), log),
		Trades:      ledger.NewTradeRepository(db.Conn(), log),
		Flows:       ledger.NewCashFlowRepository(db.Conn(), log),
		Instruments: instruments.NewRepository(db.Conn(), log),
		Pricing:     priceSvc,
		Policy:      ledger.Policy{StartCash: 100_000, ShortProceedsLockPct: 1, ShortExtraMarginPct: 0.5},
		Log:         log,
	})

	navSvc := nav.NewService(nav.ServiceConfig{
		Builder:   nav.NewBuilder(ledgerSvc, priceSvc, benchStart, log),
		Cache:     nav.NewCache(time.Minute),
		Snapshots: nav.NewSnapshotRepository(db.Conn(), log),
		Ledger:    ledgerSvc,
		Log:       log,
	})

	riskSvc := NewService(ServiceConfig{
		Ledger:     ledgerSvc,
		Nav:        navSvc,
		Pricing:    priceSvc,
		BenchStart: benchStart,
		Log:        log,
	})

	return riskSvc, ledgerSvc, priceSvc
}

func TestSummaryExposuresAndConcentration(t *testing.T) {
	riskSvc, ledgerSvc, priceSvc := newTestRisk(t)

	require.NoError(t, ledgerSvc.SetAccountBalance(ledger.Account{
		Account: "main", Cash: 100_000, AsOf: "2025-01-02",
	}))
	require.NoError(t, priceSvc.Store().UpsertCloses("AAPL", []pricing.Close{{Date: "2025-01-02", Close: 10}}))
	require.NoError(t, priceSvc.Store().UpsertCloses("XYZ", []pricing.Close{{Date: "2025-01-02", Close: 50}}))

	res, err := ledgerSvc.ApplyTrade(ledger.TradeRequest{
		Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 10, TradeDate: "2025-01-02",
	})
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	res, err = ledgerSvc.ApplyTrade(ledger.TradeRequest{
		Account: "main", Symbol: "XYZ", Side: "SELL", Qty: 10, Price: 50, TradeDate: "2025-01-02",
	})
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	summary, err := riskSvc.Summary(context.Background(), "main")
	require.NoError(t, err)

	assert.InDelta(t, 1_000, summary.Totals.Long, 1e-6)
	assert.InDelta(t, 500, summary.Totals.Short, 1e-6)
	assert.InDelta(t, 500, summary.Totals.Net, 1e-6)
	assert.InDelta(t, 1_500, summary.Totals.Gross, 1e-6)

	equity := summary.ByClass[string(instruments.Equity)]
	assert.InDelta(t, 1_000, equity.Long, 1e-6)
	assert.InDelta(t, 500, equity.Short, 1e-6)

	// AAPL is two thirds of gross
	assert.InDelta(t, 66.67, summary.Top1Pct, 0.01)
	assert.InDelta(t, 100, summary.Top5Pct, 0.01)
	assert.Zero(t, summary.FuturesNotional)

	// Concentration over 25% must flag
	var top1 *Metric
	for i := range summary.Metrics {
		if summary.Metrics[i].Name == "top1_concentration_pct" {
			top1 = &summary.Metrics[i]
		}
	}
	require.NotNil(t, top1)
	assert.True(t, top1.Breached)

	require.Len(t, summary.Holdings, 2)
	assert.Equal(t, "AAPL", summary.Holdings[0].Symbol)
}

func TestSummaryThinHistoryDegradesToZero(t *testing.T) {
	riskSvc, ledgerSvc, _ := newTestRisk(t)

	require.NoError(t, ledgerSvc.SetAccountBalance(ledger.Account{
		Account: "quiet", Cash: 50_000, AsOf: "2025-01-02",
	}))

	summary, err := riskSvc.Summary(context.Background(), "quiet")
	require.NoError(t, err)

	perf := summary.Performance
	for name, v := range map[string]float64{
		"total_return": perf.TotalReturnPct,
		"volatility":   perf.VolatilityPct,
		"max_drawdown": perf.MaxDrawdownPct,
		"var_95":       perf.VaR95Pct,
		"beta":         perf.Beta,
		"correlation":  perf.Correlation,
	} {
		assert.False(t, math.IsNaN(v), "%s is NaN", name)
		assert.InDelta(t, 0, v, 1e-6, name)
	}

	// Flat series still has observations and a usable benchmark label
	assert.Equal(t, len(benchDays), perf.Observations)
	assert.NotEmpty(t, summary.BenchTrend)

	for _, m := range summary.Metrics {
		assert.False(t, m.Breached, m.Name)
	}
}

func TestPerformanceMetricsTracksGrowth(t *testing.T) {
	riskSvc, ledgerSvc, priceSvc := newTestRisk(t)

	require.NoError(t, ledgerSvc.SetAccountBalance(ledger.Account{
		Account: "growth", Cash: 10_000, AsOf: "2025-01-02",
	}))
	require.NoError(t, priceSvc.Store().UpsertCloses("AAPL", []pricing.Close{
		{Date: "2025-01-03", Close: 10},
		{Date: "2025-01-06", Close: 12},
		{Date: "2025-01-07", Close: 11},
	}))

	res, err := ledgerSvc.ApplyTrade(ledger.TradeRequest{
		Account: "growth", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 10, TradeDate: "2025-01-03",
	})
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	perf, err := riskSvc.PerformanceMetrics(context.Background(), "growth")
	require.NoError(t, err)

	assert.Equal(t, len(benchDays), perf.Observations)
	assert.InDelta(t, 1.0, perf.TotalReturnPct, 0.01) // 10000 -> 10100
	// Annualized over the 5 calendar days spanned, not the 4 observations
	assert.InDelta(t, 106.86, perf.CAGRPct, 0.05)
	// The 12 -> 11 pullback is the worst peak-to-trough move
	assert.InDelta(t, -0.98, perf.MaxDrawdownPct, 0.01)
	assert.Less(t, perf.VaR95Pct, 0.0)
	assert.False(t, math.IsNaN(perf.Beta))
	// Sharpe over raw daily returns [0, 0.02, -0.0098]
	assert.InDelta(t, 3.5519, perf.Sharpe, 0.001)
	assert.Greater(t, perf.VaR95USD, 0.0)
}

func TestPerformanceMetricsWithoutBenchmarkSkipRelative(t *testing.T) {
	riskSvc, ledgerSvc, priceSvc := newBareRisk(t)

	require.NoError(t, ledgerSvc.SetAccountBalance(ledger.Account{
		Account: "solo", Cash: 10_000, AsOf: "2025-01-02",
	}))
	require.NoError(t, priceSvc.Store().UpsertCloses("AAPL", []pricing.Close{
		{Date: "2025-01-03", Close: 10},
		{Date: "2025-01-06", Close: 12},
		{Date: "2025-01-07", Close: 11},
	}))

	res, err := ledgerSvc.ApplyTrade(ledger.TradeRequest{
		Account: "solo", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 10, TradeDate: "2025-01-03",
	})
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	perf, err := riskSvc.PerformanceMetrics(context.Background(), "solo")
	require.NoError(t, err)

	// With no benchmark at all the relative metrics must stay 0, not
	// degenerate into beta 1 / correlation 1 against the NAV itself
	assert.Zero(t, perf.Beta)
	assert.Zero(t, perf.Correlation)
	assert.Zero(t, perf.TrackingError)
	assert.Zero(t, perf.InformationRatio)
	assert.InDelta(t, 1.0, perf.TotalReturnPct, 0.01)
}
