package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// AccountRepository handles account anchor rows
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// Get retrieves an account anchor, nil when the account is unknown
func (r *AccountRepository) Get(account string) (*Account, error) {
	query := `SELECT account, cash, asof, account_value FROM accounts WHERE account = ?`

	var acc Account
	var asof sql.NullString
	var accountValue sql.NullFloat64

	err := r.db.QueryRow(query, NormalizeAccount(account)).Scan(&acc.Account, &acc.Cash, &asof, &accountValue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acc.AsOf = asof.String
	if accountValue.Valid {
		acc.AccountValue = &accountValue.Float64
	}

	return &acc, nil
}

// List returns all real accounts (never ALL)
func (r *AccountRepository) List() ([]Account, error) {
	query := `SELECT account, cash, asof, account_value FROM accounts WHERE account != ? ORDER BY account`

	rows, err := r.db.Query(query, AllAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var acc Account
		var asof sql.NullString
		var accountValue sql.NullFloat64

		if err := rows.Scan(&acc.Account, &acc.Cash, &asof, &accountValue); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}

		acc.AsOf = asof.String
		if accountValue.Valid {
			acc.AccountValue = &accountValue.Float64
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// Upsert writes an account anchor
func (r *AccountRepository) Upsert(acc Account) error {
	query := `
		INSERT INTO accounts (account, cash, asof, account_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			cash = excluded.cash,
			asof = excluded.asof,
			account_value = excluded.account_value
	`

	var accountValue sql.NullFloat64
	if acc.AccountValue != nil {
		accountValue = sql.NullFloat64{Float64: *acc.AccountValue, Valid: true}
	}

	_, err := r.db.Exec(query, NormalizeAccount(acc.Account), acc.Cash, nullStr(acc.AsOf), accountValue)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	r.log.Info().
		Str("account", acc.Account).
		Float64("cash", acc.Cash).
		Msg("Account anchor updated")

	return nil
}

// EnsureExists creates the account with a default anchor if missing
func (r *AccountRepository) EnsureExists(account string, defaultCash float64) error {
	query := `INSERT OR IGNORE INTO accounts (account, cash) VALUES (?, ?)`

	_, err := r.db.Exec(query, NormalizeAccount(account), defaultCash)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
