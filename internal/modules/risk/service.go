package risk

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/modules/instruments"
	"github.com/aristath/navledger/internal/modules/ledger"
	"github.com/aristath/navledger/internal/modules/nav"
	"github.com/aristath/navledger/internal/modules/pricing"
	"github.com/aristath/navledger/pkg/formulas"
)

const rsiLength = 14

// Limits are the configured breach thresholds checked by the summary
type Limits struct {
	MaxTop1Pct     float64
	MaxVaR95Pct    float64
	MaxDrawdownPct float64
	MaxGrossLever  float64
}

// DefaultLimits returns the thresholds used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxTop1Pct:     25,
		MaxVaR95Pct:    5,
		MaxDrawdownPct: 25,
		MaxGrossLever:  2,
	}
}

// Service computes the risk summary and performance pack from the live
// book and the reconstructed NAV series
type Service struct {
	ledger     *ledger.Service
	nav        *nav.Service
	pricing    *pricing.Service
	benchStart string
	limits     Limits
	log        zerolog.Logger
}

// ServiceConfig wires a risk service
type ServiceConfig struct {
	Ledger     *ledger.Service
	Nav        *nav.Service
	Pricing    *pricing.Service
	BenchStart string
	Limits     Limits
	Log        zerolog.Logger
}

// NewService creates a risk service
func NewService(cfg ServiceConfig) *Service {
	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	return &Service{
		ledger:     cfg.Ledger,
		nav:        cfg.Nav,
		pricing:    cfg.Pricing,
		benchStart: cfg.BenchStart,
		limits:     limits,
		log:        cfg.Log.With().Str("service", "risk").Logger(),
	}
}

// Summary builds the full risk picture for an account. Thin history
// degrades every metric to zero rather than erroring.
func (s *Service) Summary(ctx context.Context, account string) (Summary, error) {
	snap, err := s.ledger.Snapshot(account)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Account: snap.Account,
		AsOf:    snap.AsOf,
		NLV:     snap.NLV,
		ByClass: make(map[string]Exposure),
	}

	type weighted struct {
		mv float64
	}
	holdings := make([]weighted, 0, len(snap.Positions))

	for _, pos := range snap.Positions {
		mv := math.Abs(pos.Qty) * pos.Last * pos.Multiplier
		signed := pos.Qty * pos.Last * pos.Multiplier

		exp := summary.ByClass[pos.AssetClass]
		if signed >= 0 {
			exp.Long += signed
			summary.Totals.Long += signed
		} else {
			exp.Short += -signed
			summary.Totals.Short += -signed
		}
		exp.Net += signed
		exp.Gross += mv
		summary.ByClass[pos.AssetClass] = exp

		summary.Totals.Net += signed
		summary.Totals.Gross += mv

		if pos.AssetClass == string(instruments.Future) {
			summary.FuturesNotional += mv
		}

		holdings = append(holdings, weighted{mv: mv})
		summary.Holdings = append(summary.Holdings, Holding{
			Symbol:      pos.Symbol,
			AssetClass:  pos.AssetClass,
			MarketValue: formulas.Round(mv, 2),
			Weight:      pos.Weight,
		})
	}

	// Positions arrive sorted by market value, so concentration is a
	// prefix sum over the weights
	if summary.Totals.Gross > 0 {
		for i, h := range holdings {
			pct := h.mv / summary.Totals.Gross * 100
			if i == 0 {
				summary.Top1Pct = formulas.Round(pct, 2)
			}
			if i < 5 {
				summary.Top5Pct += pct
			}
		}
		summary.Top5Pct = formulas.Round(summary.Top5Pct, 2)
	}

	perf, err := s.PerformanceMetrics(ctx, account)
	if err != nil {
		return Summary{}, err
	}
	summary.Performance = perf

	s.benchContext(ctx, &summary)
	summary.Metrics = s.checkLimits(summary, perf)

	roundExposures(&summary)
	return summary, nil
}

// PerformanceMetrics computes the analytics pack from the NAV series,
// using the benchmark values carried on the same points
func (s *Service) PerformanceMetrics(ctx context.Context, account string) (PerformanceMetrics, error) {
	points, err := s.nav.GetSeries(ctx, account, 0)
	if err != nil {
		return PerformanceMetrics{}, err
	}

	values := make([]float64, 0, len(points))
	bench := make([]float64, 0, len(points))
	hasBench := false
	for _, p := range points {
		values = append(values, p.NAV)
		bench = append(bench, p.Bench)
		if p.Bench > 0 {
			hasBench = true
		}
	}

	rets := formulas.Returns(values)

	// Without a real benchmark the relative metrics stay 0 instead of
	// comparing the NAV against itself
	var benchRets []float64
	if hasBench {
		benchRets = formulas.Returns(bench)
	}

	perf := PerformanceMetrics{Observations: len(values)}
	if len(values) >= 2 {
		first, last := values[0], values[len(values)-1]
		if first > 0 {
			perf.TotalReturnPct = formulas.Round((last/first-1)*100, 2)
		}
		days := calendarDays(points[0].Date, points[len(points)-1].Date)
		perf.CAGRPct = formulas.Round(formulas.CAGR(first, last, days)*100, 2)
	}

	var95 := formulas.ValueAtRisk95(rets)
	perf.VolatilityPct = formulas.Round(formulas.AnnualizedVolatility(rets)*100, 2)
	perf.Sharpe = formulas.Round(formulas.SharpeRatio(rets), 4)
	perf.Sortino = formulas.Round(formulas.SortinoRatio(rets), 4)
	perf.MaxDrawdownPct = formulas.Round(formulas.MaxDrawdown(values)*100, 2)
	perf.VaR95Pct = formulas.Round(var95*100, 2)
	perf.Beta = formulas.Round(formulas.Beta(rets, benchRets), 4)
	perf.Correlation = formulas.Round(formulas.Correlation(rets, benchRets), 4)
	perf.TrackingError = formulas.Round(formulas.TrackingError(rets, benchRets), 4)
	perf.InformationRatio = formulas.Round(formulas.InformationRatio(rets, benchRets), 4)

	if len(values) > 0 {
		perf.VaR95USD = formulas.Round(math.Abs(var95)*values[len(values)-1], 2)
	}

	return perf, nil
}

// benchContext attaches the benchmark RSI and a coarse trend label
func (s *Service) benchContext(ctx context.Context, summary *Summary) {
	closes, symbol := s.pricing.BenchSeries(ctx, s.benchStart)
	summary.BenchSymbol = symbol
	summary.BenchTrend = "unknown"
	if len(closes) == 0 {
		return
	}

	values := make([]float64, 0, len(closes))
	for _, c := range closes {
		values = append(values, c.Close)
	}

	rsi := formulas.RSI(values, rsiLength)
	if rsi == nil {
		return
	}

	summary.BenchRSI = formulas.Round(*rsi, 2)
	switch {
	case *rsi >= 70:
		summary.BenchTrend = "overbought"
	case *rsi <= 30:
		summary.BenchTrend = "oversold"
	default:
		summary.BenchTrend = "neutral"
	}
}

func (s *Service) checkLimits(summary Summary, perf PerformanceMetrics) []Metric {
	grossLever := 0.0
	if summary.NLV > 0 {
		grossLever = summary.Totals.Gross / summary.NLV
	}

	metrics := []Metric{
		{Name: "top1_concentration_pct", Value: summary.Top1Pct, Limit: s.limits.MaxTop1Pct},
		{Name: "var_95_pct", Value: math.Abs(perf.VaR95Pct), Limit: s.limits.MaxVaR95Pct},
		{Name: "max_drawdown_pct", Value: math.Abs(perf.MaxDrawdownPct), Limit: s.limits.MaxDrawdownPct},
		{Name: "gross_leverage", Value: formulas.Round(grossLever, 4), Limit: s.limits.MaxGrossLever},
	}
	for i := range metrics {
		metrics[i].Breached = metrics[i].Limit > 0 && metrics[i].Value > metrics[i].Limit
	}
	return metrics
}

// calendarDays is the elapsed calendar (not trading) span of the series;
// growth rates annualize over real time
func calendarDays(start, end string) int {
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return 0
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

func roundExposures(summary *Summary) {
	round := func(e Exposure) Exposure {
		return Exposure{
			Long:  formulas.Round(e.Long, 2),
			Short: formulas.Round(e.Short, 2),
			Net:   formulas.Round(e.Net, 2),
			Gross: formulas.Round(e.Gross, 2),
		}
	}
	summary.Totals = round(summary.Totals)
	for class, e := range summary.ByClass {
		summary.ByClass[class] = round(e)
	}
	summary.FuturesNotional = formulas.Round(summary.FuturesNotional, 2)
}
