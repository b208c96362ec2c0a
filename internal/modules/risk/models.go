package risk

// Exposure is signed market value split by direction
type Exposure struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
	Net   float64 `json:"net"`
	Gross float64 `json:"gross"`
}

// Metric is one named risk figure checked against its configured limit
type Metric struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
	Breached bool    `json:"breached"`
}

// PerformanceMetrics is the full analytics pack computed from the NAV
// series, benchmark-relative figures included
type PerformanceMetrics struct {
	TotalReturnPct   float64 `json:"total_return_pct"`
	CAGRPct          float64 `json:"cagr_pct"`
	VolatilityPct    float64 `json:"volatility_pct"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	VaR95Pct         float64 `json:"var_95_pct"`
	VaR95USD         float64 `json:"var_95_usd"`
	Beta             float64 `json:"beta"`
	Correlation      float64 `json:"correlation"`
	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
	Observations     int     `json:"observations"`
}

// Holding is one position's weight in the book
type Holding struct {
	Symbol      string  `json:"symbol"`
	AssetClass  string  `json:"asset_class"`
	MarketValue float64 `json:"market_value"`
	Weight      float64 `json:"weight"`
}

// Summary is the full risk picture for an account
type Summary struct {
	Account         string              `json:"account"`
	AsOf            string              `json:"asof"`
	NLV             float64             `json:"nlv"`
	Totals          Exposure            `json:"totals"`
	ByClass         map[string]Exposure `json:"by_class"`
	Top1Pct         float64             `json:"top1_pct"`
	Top5Pct         float64             `json:"top5_pct"`
	FuturesNotional float64             `json:"futures_notional"`
	BenchSymbol     string              `json:"bench_symbol"`
	BenchRSI        float64             `json:"bench_rsi"`
	BenchTrend      string              `json:"bench_trend"`
	Metrics         []Metric            `json:"metrics"`
	Performance     PerformanceMetrics  `json:"performance"`
	Holdings        []Holding           `json:"holdings"`
}
