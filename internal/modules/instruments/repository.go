package instruments

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository handles instrument reference data
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new instrument repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "instruments").Logger(),
	}
}

// Ensure inserts the instrument if it is not already known. Idempotent:
// re-registering an existing id is a no-op.
func (r *Repository) Ensure(inst Instrument) error {
	query := `
		INSERT OR IGNORE INTO instruments
		(id, symbol, asset_class, underlying, expiry, strike, option_type, multiplier, exchange, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		inst.ID,
		inst.Symbol,
		string(inst.AssetClass),
		nullString(inst.Underlying),
		nullString(inst.Expiry),
		nullFloat64(inst.Strike),
		nullString(inst.OptionType),
		inst.Multiplier,
		nullString(inst.Exchange),
		nullString(inst.Currency),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure instrument: %w", err)
	}

	return nil
}

// Get retrieves an instrument by id, nil when unknown
func (r *Repository) Get(id string) (*Instrument, error) {
	query := `
		SELECT id, symbol, asset_class, underlying, expiry, strike, option_type, multiplier, exchange, currency
		FROM instruments WHERE id = ?
	`

	var inst Instrument
	var class string
	var underlying, expiry, optionType, exchange, currency sql.NullString
	var strike sql.NullFloat64

	err := r.db.QueryRow(query, id).Scan(
		&inst.ID,
		&inst.Symbol,
		&class,
		&underlying,
		&expiry,
		&strike,
		&optionType,
		&inst.Multiplier,
		&exchange,
		&currency,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}

	inst.AssetClass = AssetClass(class)
	inst.Underlying = underlying.String
	inst.Expiry = expiry.String
	inst.Strike = strike.Float64
	inst.OptionType = optionType.String
	inst.Exchange = exchange.String
	inst.Currency = currency.String

	return &inst, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
