package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/database"
)

// HealthCheckJob verifies sqlite integrity and WAL health for the
// ledger and price databases
type HealthCheckJob struct {
	log      zerolog.Logger
	ledgerDB *database.DB
	priceDB  *sql.DB
}

// NewHealthCheckJob creates a new health check job
func NewHealthCheckJob(ledgerDB *database.DB, priceDB *sql.DB, log zerolog.Logger) *HealthCheckJob {
	return &HealthCheckJob{
		log:      log.With().Str("job", "health_check").Logger(),
		ledgerDB: ledgerDB,
		priceDB:  priceDB,
	}
}

// Name returns the job name
func (j *HealthCheckJob) Name() string {
	return "health_check"
}

// Run executes the health check
func (j *HealthCheckJob) Run() error {
	start := time.Now()

	databases := map[string]*sql.DB{}
	if j.ledgerDB != nil {
		databases["ledger"] = j.ledgerDB.Conn()
	}
	if j.priceDB != nil {
		databases["prices"] = j.priceDB
	}

	for name, db := range databases {
		if err := j.checkIntegrity(name, db); err != nil {
			// Corruption here is not recoverable automatically
			j.log.Error().Err(err).Str("database", name).Msg("Database integrity check failed")
			return err
		}
		j.checkWALCheckpoint(name, db)
	}

	j.log.Debug().
		Dur("duration", time.Since(start)).
		Int("databases", len(databases)).
		Msg("Health check completed")

	return nil
}

// checkIntegrity runs SQLite's PRAGMA integrity_check
func (j *HealthCheckJob) checkIntegrity(name string, db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed for %s: %w", name, err)
	}
	if result != "ok" {
		return fmt.Errorf("database %s is corrupted: %s", name, result)
	}
	return nil
}

// checkWALCheckpoint monitors WAL checkpoint status
func (j *HealthCheckJob) checkWALCheckpoint(name string, db *sql.DB) {
	var mode, busy, frames, checkpointed int
	err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&mode, &busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().Err(err).Str("database", name).Msg("Failed to check WAL checkpoint")
		return
	}

	if frames > 1000 {
		j.log.Warn().
			Str("database", name).
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, checkpoint may be needed")
	}
}
