package formulas

import (
	"math"
)

// SharpeRatio calculates the annualized Sharpe ratio from daily returns.
//
// Sharpe = mean(returns) / stdev(returns) * sqrt(252)
//
// Returns 0 when there are fewer than two observations or the series is
// flat, never NaN.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return 0
	}

	return Mean(returns) / stdDev * math.Sqrt(TradingDays)
}

// SortinoRatio calculates the annualized Sortino ratio from daily returns.
// Only downside observations enter the deviation term.
//
// Sortino = mean(returns) / stdev(negative returns) * sqrt(252)
//
// Returns 0 when fewer than two downside observations exist.
func SortinoRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var downside []float64
	for _, ret := range returns {
		if ret < 0 {
			downside = append(downside, ret)
		}
	}

	if len(downside) < 2 {
		return 0
	}

	downsideDev := StdDev(downside)
	if downsideDev == 0 {
		return 0
	}

	return Mean(returns) / downsideDev * math.Sqrt(TradingDays)
}
