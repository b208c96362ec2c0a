package stooq

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/modules/pricing"
)

const (
	baseURL        = "https://stooq.com"
	requestTimeout = 10 * time.Second
	backoffPeriod  = time.Hour
)

// Client fetches daily history and quotes from the stooq CSV endpoints
type Client struct {
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	rateLimited time.Time // latched until this instant after a 403/429
}

// New creates a new stooq client
func New(log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.With().Str("client", "stooq").Logger(),
	}
}

// Name identifies the source in fallback-chain logs
func (c *Client) Name() string {
	return "stooq"
}

// DailyCloses fetches daily closes for a symbol between start and end
// (inclusive, YYYY-MM-DD)
func (c *Client) DailyCloses(ctx context.Context, symbol, start, end string) ([]pricing.Close, error) {
	if c.isRateLimited() {
		return nil, fmt.Errorf("stooq rate limited, backing off")
	}

	url := fmt.Sprintf("%s/q/d/l/?s=%s&d1=%s&d2=%s&i=d",
		baseURL,
		mapSymbol(symbol),
		strings.ReplaceAll(start, "-", ""),
		strings.ReplaceAll(end, "-", ""),
	)

	body, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	return parseDailyCSV(body)
}

// Quote fetches the latest close for a symbol
func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	if c.isRateLimited() {
		return 0, fmt.Errorf("stooq rate limited, backing off")
	}

	url := fmt.Sprintf("%s/q/l/?s=%s&f=sd2t2ohlcv&h&e=csv", baseURL, mapSymbol(symbol))

	body, err := c.fetch(ctx, url)
	if err != nil {
		return 0, err
	}

	return parseQuoteCSV(body)
}

func (c *Client) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stooq request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		c.markRateLimited()
		return "", fmt.Errorf("stooq rate limited: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stooq returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read stooq response: %w", err)
	}

	body := string(data)
	if strings.Contains(strings.ToLower(body), "exceeded the daily hits limit") {
		c.markRateLimited()
		return "", fmt.Errorf("stooq daily hits limit exceeded")
	}

	return body, nil
}

func (c *Client) isRateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.rateLimited)
}

func (c *Client) markRateLimited() {
	c.mu.Lock()
	c.rateLimited = time.Now().Add(backoffPeriod)
	c.mu.Unlock()
	c.log.Warn().Dur("backoff", backoffPeriod).Msg("Rate limited by stooq")
}

// mapSymbol translates our symbols to stooq tickers: indexes keep their
// caret form (with ^GSPC aliased to stooq's ^SPX), plain US equities get
// the .us suffix.
func mapSymbol(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	switch s {
	case "^gspc", "^spx", "spx", "$spx":
		return "^spx"
	}
	if strings.HasPrefix(s, "^") {
		return s
	}
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".us"
}

func parseDailyCSV(body string) ([]pricing.Close, error) {
	reader := csv.NewReader(strings.NewReader(body))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse stooq CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	// Header: Date,Open,High,Low,Close,Volume
	header := records[0]
	closeIdx := -1
	dateIdx := -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "date":
			dateIdx = i
		case "close":
			closeIdx = i
		}
	}
	if dateIdx < 0 || closeIdx < 0 {
		return nil, fmt.Errorf("unexpected stooq CSV header: %v", header)
	}

	var closes []pricing.Close
	for _, rec := range records[1:] {
		if len(rec) <= closeIdx || len(rec) <= dateIdx {
			continue
		}
		px, err := strconv.ParseFloat(strings.TrimSpace(rec[closeIdx]), 64)
		if err != nil || px <= 0 {
			continue
		}
		closes = append(closes, pricing.Close{Date: strings.TrimSpace(rec[dateIdx]), Close: px})
	}

	return closes, nil
}

func parseQuoteCSV(body string) (float64, error) {
	reader := csv.NewReader(strings.NewReader(body))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to parse stooq quote CSV: %w", err)
	}
	if len(records) < 2 {
		return 0, fmt.Errorf("empty stooq quote response")
	}

	// Header: Symbol,Date,Time,Open,High,Low,Close,Volume
	header := records[0]
	closeIdx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "close") {
			closeIdx = i
		}
	}
	if closeIdx < 0 || len(records[1]) <= closeIdx {
		return 0, fmt.Errorf("unexpected stooq quote header: %v", header)
	}

	px, err := strconv.ParseFloat(strings.TrimSpace(records[1][closeIdx]), 64)
	if err != nil || px <= 0 {
		return 0, fmt.Errorf("no usable close in stooq quote")
	}

	return px, nil
}
