package formulas

import (
	"math"
	"sort"
)

// ValueAtRisk95 calculates the one-day 95% historical VaR from daily
// returns: the 5th percentile of the observed return distribution.
// The result is typically negative; 0 when fewer than two observations.
func ValueAtRisk95(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(0.05 * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Beta calculates the portfolio beta against a benchmark from two aligned
// daily return series. Returns 0 on fewer than two overlapping
// observations or a flat benchmark.
func Beta(portfolio, benchmark []float64) float64 {
	n := len(portfolio)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 2 {
		return 0
	}

	p := portfolio[:n]
	b := benchmark[:n]

	varB := Variance(b)
	if varB == 0 {
		return 0
	}
	return Covariance(p, b) / varB
}

// TrackingError calculates the annualized standard deviation of active
// returns (portfolio minus benchmark).
func TrackingError(portfolio, benchmark []float64) float64 {
	active := activeReturns(portfolio, benchmark)
	if len(active) < 2 {
		return 0
	}
	return StdDev(active) * math.Sqrt(TradingDays)
}

// InformationRatio calculates the annualized ratio of mean active return
// to tracking error.
func InformationRatio(portfolio, benchmark []float64) float64 {
	active := activeReturns(portfolio, benchmark)
	if len(active) < 2 {
		return 0
	}
	sd := StdDev(active)
	if sd == 0 {
		return 0
	}
	return Mean(active) / sd * math.Sqrt(TradingDays)
}

// CAGR calculates the compound annual growth rate between the first and
// last values of a series spanning the given number of calendar days.
// Returns 0 for a non-positive span or values.
func CAGR(startValue, endValue float64, days int) float64 {
	if startValue <= 0 || endValue <= 0 || days <= 0 {
		return 0
	}
	years := float64(days) / 365.25
	return math.Pow(endValue/startValue, 1/years) - 1
}

func activeReturns(portfolio, benchmark []float64) []float64 {
	n := len(portfolio)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	active := make([]float64, n)
	for i := 0; i < n; i++ {
		active[i] = portfolio[i] - benchmark[i]
	}
	return active
}
