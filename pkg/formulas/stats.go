package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDays is the annualization base for daily series
const TradingDays = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Covariance calculates the sample covariance between two equal-length datasets
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	sx := StdDev(x)
	sy := StdDev(y)
	if sx == 0 || sy == 0 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Returns converts a value series to simple periodic returns.
// A non-positive prior value yields a 0 return for that step rather than
// an infinity, so a thin or corrupt series degrades instead of exploding.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}

	rets := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			rets[i-1] = values[i]/values[i-1] - 1
		}
	}
	return rets
}

// AnnualizedVolatility calculates annualized volatility from daily returns
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(TradingDays)
}

// Round rounds a float64 to n decimal places. Used at response boundaries
// only; intermediate math stays at full precision.
func Round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
