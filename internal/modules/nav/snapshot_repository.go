package nav

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// SnapshotRepository persists rebuilt NAV series so restarts and
// reporting don't pay the reconstruction cost
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "nav_snapshots").Logger(),
	}
}

// Replace swaps an account's stored series for the given points in one
// transaction
func (r *SnapshotRepository) Replace(account string, points []Point) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM nav_snapshots WHERE account = ?`, account); err != nil {
		return fmt.Errorf("failed to clear nav snapshots: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO nav_snapshots (account, date, nav, bench) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare nav snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(account, p.Date, p.NAV, p.Bench); err != nil {
			return fmt.Errorf("failed to insert nav snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit nav snapshots: %w", err)
	}
	return nil
}

// Series reads an account's stored series in date order. The ALL
// aggregate sums the real accounts by date.
func (r *SnapshotRepository) Series(account string) ([]Point, error) {
	query := `
		SELECT date, nav, bench FROM nav_snapshots
		WHERE account = ?
		ORDER BY date ASC
	`
	args := []interface{}{account}
	if account == "ALL" || account == "" {
		query = `
			SELECT date, SUM(nav), MAX(bench) FROM nav_snapshots
			GROUP BY date
			ORDER BY date ASC
		`
		args = nil
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read nav snapshots: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Date, &p.NAV, &p.Bench); err != nil {
			return nil, fmt.Errorf("failed to scan nav snapshot: %w", err)
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nav snapshots: %w", err)
	}
	return points, nil
}
