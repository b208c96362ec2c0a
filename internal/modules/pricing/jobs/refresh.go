package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/events"
	"github.com/aristath/navledger/internal/modules/pricing"
)

// SymbolLister supplies the symbols currently worth refreshing
type SymbolLister interface {
	HeldSymbols() ([]string, error)
}

// RefreshJob keeps cached prices current for every held symbol plus the
// benchmark. It runs outside the ledger write path: a slow or failing
// provider never blocks trade processing, readers just see staler marks.
type RefreshJob struct {
	pricing    *pricing.Service
	symbols    SymbolLister
	events     *events.Manager
	marketOpen func() bool
	timeout    time.Duration
	log        zerolog.Logger
}

// NewRefreshJob creates the background price refresh job. marketOpen
// gates quote snapshots (closes still refresh after hours); nil means
// always snapshot.
func NewRefreshJob(svc *pricing.Service, symbols SymbolLister, ev *events.Manager, marketOpen func() bool, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		pricing:    svc,
		symbols:    symbols,
		events:     ev,
		marketOpen: marketOpen,
		timeout:    5 * time.Minute,
		log:        log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name identifies the job in scheduler logs
func (j *RefreshJob) Name() string {
	return "price_refresh"
}

// Run refreshes every held symbol incrementally. Individual symbol
// failures are logged and skipped so one bad ticker cannot starve the
// rest.
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	held, err := j.symbols.HeldSymbols()
	if err != nil {
		return err
	}

	symbols := append([]string{j.pricing.BenchSymbol()}, held...)

	refreshed := 0
	for _, symbol := range symbols {
		if err := j.pricing.RefreshIncremental(ctx, symbol, symbol == j.pricing.BenchSymbol()); err != nil {
			j.log.Debug().Err(err).Str("symbol", symbol).Msg("Refresh failed")
			continue
		}
		refreshed++
	}

	if j.marketOpen == nil || j.marketOpen() {
		j.pricing.SnapshotQuotes(ctx, held)
	}

	if j.events != nil {
		j.events.Emit(events.PriceRefreshComplete, "pricing", map[string]interface{}{
			"symbols":   len(symbols),
			"refreshed": refreshed,
		})
	}

	return nil
}
