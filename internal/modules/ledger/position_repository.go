package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// PositionRepository handles position rows
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

const positionColumns = `account, instrument_id, qty, price, market_value, avg_cost,
	sector, owner, entry_date, strategy, strategy_id, strategy_name`

// Get retrieves one position, nil when the account holds none
func (r *PositionRepository) Get(account, instrumentID string) (*Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE account = ? AND instrument_id = ?`

	row := r.db.QueryRow(query, NormalizeAccount(account), instrumentID)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return &pos, nil
}

// ListByAccount returns all positions of an account; ALL returns every
// account's positions
func (r *PositionRepository) ListByAccount(account string) ([]Position, error) {
	account = NormalizeAccount(account)

	query := `SELECT ` + positionColumns + ` FROM positions WHERE account = ? ORDER BY instrument_id`
	args := []interface{}{account}
	if account == AllAccounts || account == "" {
		query = `SELECT ` + positionColumns + ` FROM positions WHERE account != ? ORDER BY account, instrument_id`
		args = []interface{}{AllAccounts}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		pos, err := scanPositionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// Upsert writes a position row
func (r *PositionRepository) Upsert(pos Position) error {
	query := `
		INSERT INTO positions
		(account, instrument_id, qty, price, market_value, avg_cost,
		 sector, owner, entry_date, strategy, strategy_id, strategy_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, instrument_id) DO UPDATE SET
			qty = excluded.qty,
			price = excluded.price,
			market_value = excluded.market_value,
			avg_cost = excluded.avg_cost,
			sector = COALESCE(NULLIF(excluded.sector, ''), positions.sector),
			owner = COALESCE(NULLIF(excluded.owner, ''), positions.owner),
			entry_date = COALESCE(NULLIF(excluded.entry_date, ''), positions.entry_date),
			strategy = COALESCE(NULLIF(excluded.strategy, ''), positions.strategy),
			strategy_id = COALESCE(NULLIF(excluded.strategy_id, ''), positions.strategy_id),
			strategy_name = COALESCE(NULLIF(excluded.strategy_name, ''), positions.strategy_name)
	`

	_, err := r.db.Exec(query,
		NormalizeAccount(pos.Account),
		pos.InstrumentID,
		pos.Qty,
		pos.Price,
		pos.MarketValue,
		pos.AvgCost,
		pos.Sector,
		pos.Owner,
		pos.EntryDate,
		pos.Strategy,
		pos.StrategyID,
		pos.StrategyName,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// Delete removes a position row
func (r *PositionRepository) Delete(account, instrumentID string) error {
	_, err := r.db.Exec(
		`DELETE FROM positions WHERE account = ? AND instrument_id = ?`,
		NormalizeAccount(account), instrumentID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// HeldSymbols returns the distinct symbols across all positions
func (r *PositionRepository) HeldSymbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT instrument_id FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list held symbols: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var symbols []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan instrument id: %w", err)
		}
		symbol := Position{InstrumentID: id}.Symbol()
		if !seen[symbol] {
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating held symbols: %w", err)
	}

	return symbols, nil
}

// EarliestEntryDates returns, per symbol, the earliest entry_date across
// the account's positions (all accounts for ALL)
func (r *PositionRepository) EarliestEntryDates(account string) (map[string]string, error) {
	positions, err := r.ListByAccount(account)
	if err != nil {
		return nil, err
	}

	earliest := make(map[string]string)
	for _, pos := range positions {
		if pos.EntryDate == "" {
			continue
		}
		symbol := pos.Symbol()
		if cur, ok := earliest[symbol]; !ok || pos.EntryDate < cur {
			earliest[symbol] = pos.EntryDate
		}
	}

	return earliest, nil
}

func scanPosition(row *sql.Row) (Position, error) {
	var pos Position
	var sector, owner, entryDate, strategy, strategyID, strategyName sql.NullString

	err := row.Scan(
		&pos.Account,
		&pos.InstrumentID,
		&pos.Qty,
		&pos.Price,
		&pos.MarketValue,
		&pos.AvgCost,
		&sector,
		&owner,
		&entryDate,
		&strategy,
		&strategyID,
		&strategyName,
	)
	if err != nil {
		return pos, err
	}

	pos.Sector = sector.String
	pos.Owner = owner.String
	pos.EntryDate = entryDate.String
	pos.Strategy = strategy.String
	pos.StrategyID = strategyID.String
	pos.StrategyName = strategyName.String

	return pos, nil
}

func scanPositionRows(rows *sql.Rows) (Position, error) {
	var pos Position
	var sector, owner, entryDate, strategy, strategyID, strategyName sql.NullString

	err := rows.Scan(
		&pos.Account,
		&pos.InstrumentID,
		&pos.Qty,
		&pos.Price,
		&pos.MarketValue,
		&pos.AvgCost,
		&sector,
		&owner,
		&entryDate,
		&strategy,
		&strategyID,
		&strategyName,
	)
	if err != nil {
		return pos, err
	}

	pos.Sector = sector.String
	pos.Owner = owner.String
	pos.EntryDate = entryDate.String
	pos.Strategy = strategy.String
	pos.StrategyID = strategyID.String
	pos.StrategyName = strategyName.String

	return pos, nil
}
