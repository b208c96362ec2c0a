package nav

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/events"
	"github.com/aristath/navledger/internal/modules/ledger"
)

// Service serves NAV series through the TTL cache and owns the
// persisted snapshot rebuilds
type Service struct {
	builder   *Builder
	cache     *Cache
	snapshots *SnapshotRepository
	ledger    *ledger.Service
	events    *events.Manager
	log       zerolog.Logger
}

// ServiceConfig wires a NAV service
type ServiceConfig struct {
	Builder   *Builder
	Cache     *Cache
	Snapshots *SnapshotRepository
	Ledger    *ledger.Service
	Events    *events.Manager
	Log       zerolog.Logger
}

// NewService creates a NAV service and hooks cache invalidation into
// the ledger's mutation path
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		builder:   cfg.Builder,
		cache:     cfg.Cache,
		snapshots: cfg.Snapshots,
		ledger:    cfg.Ledger,
		events:    cfg.Events,
		log:       cfg.Log.With().Str("service", "nav").Logger(),
	}
	s.ledger.OnMutate(s.cache.InvalidateAll)
	return s
}

// GetSeries returns the reconstructed series for an account, trimmed to
// the last limit points (0 means all). Expired options are swept first
// so the tail of the series never carries dead contracts.
func (s *Service) GetSeries(ctx context.Context, account string, limit int) ([]Point, error) {
	account = ledger.NormalizeAccount(account)
	if account == "" {
		account = ledger.AllAccounts
	}

	key := fmt.Sprintf("nav:%s:%d", account, limit)
	if points, ok := s.cache.Get(key); ok {
		return points, nil
	}

	if _, err := s.ledger.CloseExpiredOptions(account); err != nil {
		s.log.Warn().Err(err).Str("account", account).Msg("Expired option sweep failed")
	}

	points, err := s.builder.Build(ctx, account)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}

	s.cache.Set(key, points)
	return points, nil
}

// RebuildHistory rebuilds and persists every real account's series.
// The ALL aggregate is derived on read and never stored.
func (s *Service) RebuildHistory(ctx context.Context) (int, error) {
	accounts, err := s.ledger.Accounts().List()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, acc := range accounts {
		points, err := s.builder.Build(ctx, acc.Account)
		if err != nil {
			return total, fmt.Errorf("failed to rebuild nav for %s: %w", acc.Account, err)
		}
		if err := s.snapshots.Replace(acc.Account, points); err != nil {
			return total, err
		}
		total += len(points)
	}

	s.cache.InvalidateAll()
	if s.events != nil {
		s.events.Emit(events.NavRebuilt, "nav", map[string]interface{}{
			"accounts": len(accounts),
			"points":   total,
		})
	}
	s.log.Info().Int("accounts", len(accounts)).Int("points", total).Msg("NAV history rebuilt")

	return total, nil
}

// Snapshots exposes the persisted series for read paths
func (s *Service) Snapshots() *SnapshotRepository {
	return s.snapshots
}
