package pricing

import (
	"context"
)

// HistorySource fetches daily close history for a symbol. Sources are
// tried in order; the first one returning a non-empty series wins.
type HistorySource interface {
	Name() string
	DailyCloses(ctx context.Context, symbol, start, end string) ([]Close, error)
}

// QuoteSource fetches the latest traded price for a symbol
type QuoteSource interface {
	Name() string
	Quote(ctx context.Context, symbol string) (float64, error)
}
