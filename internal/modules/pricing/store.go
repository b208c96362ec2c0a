package pricing

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
)

// Close is one cached daily closing price
type Close struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Close float64 `json:"close"`
}

// Store persists daily closes and latest quote marks in a price database
// kept separate from the ledger database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore opens (and creates if needed) the price database
func NewStore(dbPath string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create price database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open price database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping price database: %w", err)
	}

	s := &Store{
		db:  db,
		log: log.With().Str("repo", "price_store").Logger(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Conn exposes the raw handle for maintenance jobs
func (s *Store) Conn() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_cache (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			close  REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE TABLE IF NOT EXISTS quotes (
			symbol TEXT PRIMARY KEY,
			price  REAL NOT NULL,
			ts     TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply price schema: %w", err)
		}
	}
	return nil
}

// UpsertCloses writes a batch of daily closes for a symbol
func (s *Store) UpsertCloses(symbol string, closes []Close) error {
	if len(closes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO price_cache (symbol, date, close) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range closes {
		if _, err := stmt.Exec(symbol, c.Date, c.Close); err != nil {
			return fmt.Errorf("failed to upsert close: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit closes: %w", err)
	}

	return nil
}

// OverwriteFrom replaces all cached closes for a symbol from the given
// date forward with the supplied series
func (s *Store) OverwriteFrom(symbol, start string, closes []Close) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM price_cache WHERE symbol = ? AND date >= ?`, symbol, start); err != nil {
		return fmt.Errorf("failed to clear price window: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO price_cache (symbol, date, close) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range closes {
		if _, err := stmt.Exec(symbol, c.Date, c.Close); err != nil {
			return fmt.Errorf("failed to insert close: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price window: %w", err)
	}

	return nil
}

// Series loads all cached closes for a symbol from start, in date order
func (s *Store) Series(symbol, start string) ([]Close, error) {
	rows, err := s.db.Query(
		`SELECT date, close FROM price_cache WHERE symbol = ? AND date >= ? ORDER BY date ASC`,
		symbol, start,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query price series: %w", err)
	}
	defer rows.Close()

	var closes []Close
	for rows.Next() {
		var c Close
		if err := rows.Scan(&c.Date, &c.Close); err != nil {
			return nil, fmt.Errorf("failed to scan close: %w", err)
		}
		closes = append(closes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price series: %w", err)
	}

	return closes, nil
}

// LastDate returns the most recent cached date for a symbol, empty when
// nothing is cached
func (s *Store) LastDate(symbol string) (string, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(date) FROM price_cache WHERE symbol = ?`, symbol).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to get last cached date: %w", err)
	}
	return date.String, nil
}

// LastClose returns the most recent cached close for a symbol
func (s *Store) LastClose(symbol string) (float64, bool, error) {
	var close float64
	err := s.db.QueryRow(
		`SELECT close FROM price_cache WHERE symbol = ? ORDER BY date DESC LIMIT 1`,
		symbol,
	).Scan(&close)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get last close: %w", err)
	}
	return close, true, nil
}

// CloseOnOrBefore returns the latest cached close at or before a date
func (s *Store) CloseOnOrBefore(symbol, date string) (float64, bool, error) {
	var close float64
	err := s.db.QueryRow(
		`SELECT close FROM price_cache WHERE symbol = ? AND date <= ? ORDER BY date DESC LIMIT 1`,
		symbol, date,
	).Scan(&close)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get close on or before %s: %w", date, err)
	}
	return close, true, nil
}

// PrevClose returns the latest cached close strictly before a date
func (s *Store) PrevClose(symbol, date string) (float64, bool, error) {
	var close float64
	err := s.db.QueryRow(
		`SELECT close FROM price_cache WHERE symbol = ? AND date < ? ORDER BY date DESC LIMIT 1`,
		symbol, date,
	).Scan(&close)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get prev close: %w", err)
	}
	return close, true, nil
}

// CountSince counts cached points for a symbol at or after a date
func (s *Store) CountSince(symbol, start string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM price_cache WHERE symbol = ? AND date >= ?`,
		symbol, start,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cached points: %w", err)
	}
	return count, nil
}

// SetQuote stores the latest quote mark for a symbol
func (s *Store) SetQuote(symbol string, price float64, ts string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO quotes (symbol, price, ts) VALUES (?, ?, ?)`,
		symbol, price, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to set quote: %w", err)
	}
	return nil
}

// GetQuote returns the latest stored quote mark for a symbol
func (s *Store) GetQuote(symbol string) (float64, string, bool, error) {
	var price float64
	var ts string
	err := s.db.QueryRow(`SELECT price, ts FROM quotes WHERE symbol = ?`, symbol).Scan(&price, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to get quote: %w", err)
	}
	return price, ts, true, nil
}
