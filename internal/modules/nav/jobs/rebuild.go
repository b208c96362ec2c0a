package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/modules/nav"
)

// RebuildJob persists every account's NAV series nightly so reporting
// survives restarts without a cold rebuild
type RebuildJob struct {
	nav     *nav.Service
	timeout time.Duration
	log     zerolog.Logger
}

// NewRebuildJob creates the nightly NAV snapshot rebuild job
func NewRebuildJob(svc *nav.Service, log zerolog.Logger) *RebuildJob {
	return &RebuildJob{
		nav:     svc,
		timeout: 10 * time.Minute,
		log:     log.With().Str("job", "nav_rebuild").Logger(),
	}
}

// Name identifies the job in scheduler logs
func (j *RebuildJob) Name() string {
	return "nav_rebuild"
}

// Run rebuilds and stores the series for all accounts
func (j *RebuildJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	points, err := j.nav.RebuildHistory(ctx)
	if err != nil {
		return err
	}

	j.log.Info().Int("points", points).Msg("NAV snapshots rebuilt")
	return nil
}
