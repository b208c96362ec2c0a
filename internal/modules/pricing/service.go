package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/modules/instruments"
)

// MinCachedPoints is the smallest cached window considered usable; below
// this the window is re-fetched from scratch.
const MinCachedPoints = 25

// Service owns the price cache: it decides when cached history is good
// enough and when to go back to the provider chain.
type Service struct {
	store       *Store
	history     []HistorySource
	quotes      QuoteSource
	benchSymbol string
	benchStart  string
	callTimeout time.Duration
	log         zerolog.Logger
}

// ServiceConfig wires a pricing service
type ServiceConfig struct {
	Store       *Store
	History     []HistorySource
	Quotes      QuoteSource
	BenchSymbol string
	BenchStart  string
	CallTimeout time.Duration
	Log         zerolog.Logger
}

// NewService creates a new pricing service
func NewService(cfg ServiceConfig) *Service {
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		store:       cfg.Store,
		history:     cfg.History,
		quotes:      cfg.Quotes,
		benchSymbol: cfg.BenchSymbol,
		benchStart:  cfg.BenchStart,
		callTimeout: timeout,
		log:         cfg.Log.With().Str("service", "pricing").Logger(),
	}
}

// Store exposes the underlying price store for read paths
func (s *Service) Store() *Store {
	return s.store
}

// BenchSymbol returns the configured benchmark symbol
func (s *Service) BenchSymbol() string {
	return s.benchSymbol
}

// EnsureHistory makes sure usable close history exists for a symbol from
// start. Option symbols are never fetched from providers; for them only
// the cached marks written at trade time exist. Returns whether any
// close is available.
func (s *Service) EnsureHistory(ctx context.Context, symbol, start string, isBench bool) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if isOptionSymbol(symbol) {
		_, ok, err := s.store.LastClose(symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to check option close cache")
			return false
		}
		return ok
	}

	maxJump := MaxDailyJump(isBench)

	cached, err := s.store.Series(symbol, start)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load cached series")
		cached = nil
	}

	if len(cached) >= MinCachedPoints && !IsCorrupt(cached, maxJump) {
		return true
	}

	// Thin or corrupt window: re-fetch the whole range and overwrite
	fetched := s.fetchChain(ctx, symbol, start, today())
	if len(fetched) == 0 {
		// Keep whatever stale cache we have
		return len(cached) > 0
	}

	clean := Sanitize(fetched, maxJump)
	if err := s.store.OverwriteFrom(symbol, start, clean); err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to overwrite price window")
		return len(cached) > 0
	}

	s.log.Info().
		Str("symbol", symbol).
		Int("points", len(clean)).
		Msg("Backfilled price history")

	return len(clean) > 0
}

// RefreshIncremental fetches closes from the last cached date forward.
// Symbols with no cache at all are backfilled from the benchmark start.
func (s *Service) RefreshIncremental(ctx context.Context, symbol string, isBench bool) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if isOptionSymbol(symbol) {
		return nil
	}

	last, err := s.store.LastDate(symbol)
	if err != nil {
		return fmt.Errorf("failed to get last cached date for %s: %w", symbol, err)
	}

	if last == "" {
		if !s.EnsureHistory(ctx, symbol, s.benchStart, isBench) {
			return fmt.Errorf("no history available for %s", symbol)
		}
		return nil
	}

	if last >= today() {
		return nil
	}

	fetched := s.fetchChain(ctx, symbol, last, today())
	if len(fetched) == 0 {
		return nil
	}

	// Sanitize with the last cached close as the jump anchor
	anchor, ok, err := s.store.LastClose(symbol)
	if err == nil && ok {
		fetched = append([]Close{{Date: last, Close: anchor}}, fetched...)
	}
	clean := Sanitize(fetched, MaxDailyJump(isBench))

	if err := s.store.UpsertCloses(symbol, clean); err != nil {
		return fmt.Errorf("failed to store refreshed closes for %s: %w", symbol, err)
	}

	return nil
}

// SnapshotQuotes marks today's close for each symbol from the quote
// source. A symbol with no quote is skipped, not an error.
func (s *Service) SnapshotQuotes(ctx context.Context, symbols []string) {
	if s.quotes == nil {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" || isOptionSymbol(symbol) {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		px, err := s.quotes.Quote(callCtx, symbol)
		cancel()
		if err != nil {
			s.log.Debug().Err(err).Str("symbol", symbol).Msg("No quote available")
			continue
		}

		if err := s.store.SetQuote(symbol, px, now); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to store quote")
			continue
		}
		if err := s.store.UpsertCloses(symbol, []Close{{Date: today(), Close: px}}); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to mark today's close")
		}
	}
}

// MarkOptionClose caches a trade-time mark for an option symbol so NAV
// reconstruction has something to value the contract with
func (s *Service) MarkOptionClose(symbol, date string, price float64) error {
	if price <= 0 {
		return nil
	}
	return s.store.UpsertCloses(strings.ToUpper(symbol), []Close{{Date: date, Close: price}})
}

// LastPrice returns the freshest mark for a symbol: the stored quote if
// present, otherwise the last cached close
func (s *Service) LastPrice(symbol string) (float64, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if px, _, ok, err := s.store.GetQuote(symbol); err == nil && ok && px > 0 {
		return px, true
	}

	px, ok, err := s.store.LastClose(symbol)
	if err != nil || !ok {
		return 0, false
	}
	return px, true
}

// BenchSeries returns the sanitized benchmark close series from start.
// Index candidates are tried first; if none yields a usable series the
// SPY ETF serves as a proxy. The symbol actually used is returned.
func (s *Service) BenchSeries(ctx context.Context, start string) ([]Close, string) {
	candidates := []string{s.benchSymbol, "^GSPC", "^SPX", "SPX", "$SPX", "SPY"}

	seen := make(map[string]bool)
	for _, candidate := range candidates {
		candidate = strings.ToUpper(strings.TrimSpace(candidate))
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true

		if !s.EnsureHistory(ctx, candidate, start, true) {
			continue
		}
		series, err := s.store.Series(candidate, start)
		if err != nil || len(series) < 2 {
			continue
		}
		return series, candidate
	}

	return nil, ""
}

// fetchChain walks the history sources in order with a per-call timeout
// and returns the first non-empty series
func (s *Service) fetchChain(ctx context.Context, symbol, start, end string) []Close {
	for _, src := range s.history {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		closes, err := src.DailyCloses(callCtx, symbol, start, end)
		cancel()

		if err != nil {
			s.log.Debug().
				Err(err).
				Str("source", src.Name()).
				Str("symbol", symbol).
				Msg("History source failed, trying next")
			continue
		}
		if len(closes) > 0 {
			return closes
		}
	}
	return nil
}

func isOptionSymbol(symbol string) bool {
	return instruments.IsOSI(symbol)
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
