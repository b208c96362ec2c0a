package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the ledger database connection
type DB struct {
	conn *sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	// Use WAL mode for better concurrency
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	return &DB{
		conn: conn,
		path: dbPath,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Begin starts a new transaction
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Migrate creates the ledger schema if it does not exist
func (db *DB) Migrate() error {
	for _, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		account       TEXT PRIMARY KEY,
		cash          REAL NOT NULL DEFAULT 0,
		asof          TEXT,
		account_value REAL
	)`,
	`CREATE TABLE IF NOT EXISTS instruments (
		id          TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		asset_class TEXT NOT NULL,
		underlying  TEXT,
		expiry      TEXT,
		strike      REAL,
		option_type TEXT,
		multiplier  REAL NOT NULL DEFAULT 1,
		exchange    TEXT,
		currency    TEXT DEFAULT 'USD'
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		account       TEXT NOT NULL,
		instrument_id TEXT NOT NULL,
		qty           REAL NOT NULL DEFAULT 0,
		price         REAL NOT NULL DEFAULT 0,
		market_value  REAL NOT NULL DEFAULT 0,
		avg_cost      REAL NOT NULL DEFAULT 0,
		sector        TEXT,
		owner         TEXT,
		entry_date    TEXT,
		strategy      TEXT,
		strategy_id   TEXT,
		strategy_name TEXT,
		PRIMARY KEY (account, instrument_id)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		trade_id      TEXT PRIMARY KEY,
		ts            TEXT NOT NULL,
		trade_date    TEXT NOT NULL,
		account       TEXT NOT NULL,
		instrument_id TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		side          TEXT NOT NULL,
		qty           REAL NOT NULL,
		price         REAL NOT NULL,
		trade_type    TEXT DEFAULT 'MANUAL',
		status        TEXT DEFAULT 'FILLED',
		source        TEXT DEFAULT 'API',
		asset_class   TEXT,
		underlying    TEXT,
		expiry        TEXT,
		strike        REAL,
		option_type   TEXT,
		multiplier    REAL DEFAULT 1,
		strategy_id   TEXT,
		strategy_name TEXT,
		sector        TEXT,
		realized_pl   REAL DEFAULT 0,
		cost_basis    REAL DEFAULT 0,
		cash_flow     REAL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_account_date ON trades (account, trade_date)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades (instrument_id)`,
	`CREATE TABLE IF NOT EXISTS cash_flows (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		date    TEXT NOT NULL,
		amount  REAL NOT NULL,
		note    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cash_flows_account_date ON cash_flows (account, date)`,
	`CREATE TABLE IF NOT EXISTS nav_snapshots (
		account TEXT NOT NULL,
		date    TEXT NOT NULL,
		nav     REAL NOT NULL,
		bench   REAL,
		PRIMARY KEY (account, date)
	)`,
	`CREATE TABLE IF NOT EXISTS strategies (
		strategy_id   TEXT PRIMARY KEY,
		strategy_name TEXT,
		account       TEXT,
		created_at    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		ts       TEXT NOT NULL,
		action   TEXT NOT NULL,
		trade_id TEXT,
		account  TEXT,
		detail   TEXT
	)`,
}
