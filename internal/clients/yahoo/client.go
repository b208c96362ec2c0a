package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/modules/pricing"
)

// Client fetches daily closes and quotes from the Yahoo Finance chart
// API. It serves as the fallback behind the primary history source.
type Client struct {
	client  *http.Client
	baseURL string
	log     zerolog.Logger
}

// New creates a new Yahoo Finance client
func New(log zerolog.Logger) *Client {
	return &Client{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://query1.finance.yahoo.com/v8/finance/chart/",
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// Name identifies the source in provider-chain logs
func (c *Client) Name() string {
	return "yahoo"
}

// DailyCloses fetches daily closing prices for [start, end]
func (c *Client) DailyCloses(ctx context.Context, symbol, start, end string) ([]pricing.Close, error) {
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}

	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("period1", fmt.Sprintf("%d", from.Unix()))
	params.Add("period2", fmt.Sprintf("%d", to.AddDate(0, 0, 1).Unix()))

	chart, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	if len(chart.Timestamp) == 0 || len(chart.Indicators.Quote) == 0 {
		return nil, nil
	}

	quote := chart.Indicators.Quote[0]
	closes := make([]pricing.Close, 0, len(chart.Timestamp))
	for i, ts := range chart.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] <= 0 {
			continue
		}
		closes = append(closes, pricing.Close{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Close: quote.Close[i],
		})
	}

	return closes, nil
}

// Quote fetches the latest market price for a symbol
func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", "1d")

	chart, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		return 0, err
	}

	if chart.Meta.RegularMarketPrice > 0 {
		return chart.Meta.RegularMarketPrice, nil
	}

	return 0, fmt.Errorf("no quote for %s", symbol)
}

type chartResult struct {
	Meta struct {
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (c *Client) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResult, error) {
	reqURL := c.baseURL + url.PathEscape(mapSymbol(symbol)) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo returned status %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result struct {
		Chart struct {
			Result []chartResult `json:"result"`
			Error  interface{}   `json:"error"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo API error: %v", result.Chart.Error)
	}
	if len(result.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart data for %s", symbol)
	}

	return &result.Chart.Result[0], nil
}

// mapSymbol translates internal index aliases to Yahoo's notation
func mapSymbol(symbol string) string {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "^SPX", "SPX", "$SPX":
		return "^GSPC"
	}
	return symbol
}
