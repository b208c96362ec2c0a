package formulas

// DrawdownMetrics represents drawdown analysis results
type DrawdownMetrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // Worst peak-to-trough loss (<= 0, e.g. -0.25 = 25% below peak)
	CurrentDrawdown float64 `json:"current_drawdown"` // Drawdown from peak at the last observation
	DaysInDrawdown  int     `json:"days_in_drawdown"` // Observations since the running peak
	PeakValue       float64 `json:"peak_value"`
	CurrentValue    float64 `json:"current_value"`
}

// MaxDrawdown calculates the maximum drawdown of a value series as a
// non-positive fraction: min over the series of value/peak - 1.
// Returns 0 for fewer than two observations.
func MaxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	maxDD := 0.0
	peak := values[0]

	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := v/peak - 1
			if dd < maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// CalculateDrawdownMetrics calculates drawdown depth, duration and peak
// context for a value series. Returns nil for fewer than two observations.
func CalculateDrawdownMetrics(values []float64) *DrawdownMetrics {
	if len(values) < 2 {
		return nil
	}

	maxDD := 0.0
	peak := values[0]
	peakIndex := 0
	currentValue := values[len(values)-1]

	for i, v := range values {
		if v > peak {
			peak = v
			peakIndex = i
		}
		if peak > 0 {
			dd := v/peak - 1
			if dd < maxDD {
				maxDD = dd
			}
		}
	}

	currentDD := 0.0
	if peak > 0 {
		currentDD = currentValue/peak - 1
	}

	return &DrawdownMetrics{
		MaxDrawdown:     maxDD,
		CurrentDrawdown: currentDD,
		DaysInDrawdown:  len(values) - 1 - peakIndex,
		PeakValue:       peak,
		CurrentValue:    currentValue,
	}
}
