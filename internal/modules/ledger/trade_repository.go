package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TradeRepository handles the trade blotter and its audit trail
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

const tradeColumns = `trade_id, ts, trade_date, account, instrument_id, symbol, side, qty, price,
	trade_type, status, source, asset_class, underlying, expiry, strike, option_type,
	multiplier, strategy_id, strategy_name, sector, realized_pl, cost_basis, cash_flow`

// Insert writes a trade row
func (r *TradeRepository) Insert(trade Trade) error {
	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		trade.TradeID,
		trade.TS,
		trade.TradeDate,
		NormalizeAccount(trade.Account),
		trade.InstrumentID,
		trade.Symbol,
		string(trade.Side),
		trade.Qty,
		trade.Price,
		trade.TradeType,
		trade.Status,
		trade.Source,
		nullStr(trade.AssetClass),
		nullStr(trade.Underlying),
		nullStr(trade.Expiry),
		trade.Strike,
		nullStr(trade.OptionType),
		trade.Multiplier,
		nullStr(trade.StrategyID),
		nullStr(trade.StrategyName),
		nullStr(trade.Sector),
		trade.RealizedPL,
		trade.CostBasis,
		trade.CashFlow,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	r.log.Info().
		Str("trade_id", trade.TradeID).
		Str("account", trade.Account).
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("qty", trade.Qty).
		Float64("price", trade.Price).
		Msg("Trade recorded")

	return nil
}

// Get retrieves a trade by id, nil when unknown
func (r *TradeRepository) Get(tradeID string) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = ?`

	rows, err := r.db.Query(query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get trade: %w", err)
		}
		return nil, nil
	}

	trade, err := scanTrade(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}
	return &trade, nil
}

// ListByAccount returns the blotter for an account, most recent first.
// ALL returns every account's trades.
func (r *TradeRepository) ListByAccount(account string, limit int) ([]Trade, error) {
	account = NormalizeAccount(account)

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE account = ? ORDER BY ts DESC LIMIT ?`
	args := []interface{}{account, limit}
	if account == AllAccounts || account == "" {
		query = `SELECT ` + tradeColumns + ` FROM trades ORDER BY ts DESC LIMIT ?`
		args = []interface{}{limit}
	}

	return r.list(query, args...)
}

// ListFilled returns all FILLED trades of an account in date order, the
// input for cash and NAV replay. ALL spans every account.
func (r *TradeRepository) ListFilled(account string) ([]Trade, error) {
	account = NormalizeAccount(account)

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE account = ? AND status = ? ORDER BY trade_date ASC, ts ASC`
	args := []interface{}{account, StatusFilled}
	if account == AllAccounts || account == "" {
		query = `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY trade_date ASC, ts ASC`
		args = []interface{}{StatusFilled}
	}

	return r.list(query, args...)
}

// SumRealized totals realized P&L over FILLED trades of an account
func (r *TradeRepository) SumRealized(account string) (float64, error) {
	account = NormalizeAccount(account)

	query := `SELECT COALESCE(SUM(realized_pl), 0) FROM trades WHERE account = ? AND status = ?`
	args := []interface{}{account, StatusFilled}
	if account == AllAccounts || account == "" {
		query = `SELECT COALESCE(SUM(realized_pl), 0) FROM trades WHERE status = ?`
		args = []interface{}{StatusFilled}
	}

	var total float64
	if err := r.db.QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum realized P&L: %w", err)
	}
	return total, nil
}

// SumCashFlowAfter totals trade cash flow of FILLED non-import trades
// strictly after the anchor date (all dates when anchor is empty)
func (r *TradeRepository) SumCashFlowAfter(account, anchor string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cash_flow), 0) FROM trades
		WHERE account = ? AND status = ?
		  AND NOT (trade_type = ? OR source = 'CSV_IMPORT')
		  AND (? = '' OR trade_date > ?)
	`

	var total float64
	err := r.db.QueryRow(query, NormalizeAccount(account), StatusFilled, TradeTypeImport, anchor, anchor).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum trade cash flow: %w", err)
	}
	return total, nil
}

// EarliestTradeDates returns, per symbol, the first FILLED trade date
func (r *TradeRepository) EarliestTradeDates(account string) (map[string]string, error) {
	account = NormalizeAccount(account)

	query := `SELECT symbol, MIN(trade_date) FROM trades WHERE account = ? AND status = ? GROUP BY symbol`
	args := []interface{}{account, StatusFilled}
	if account == AllAccounts || account == "" {
		query = `SELECT symbol, MIN(trade_date) FROM trades WHERE status = ? GROUP BY symbol`
		args = []interface{}{StatusFilled}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get earliest trade dates: %w", err)
	}
	defer rows.Close()

	dates := make(map[string]string)
	for rows.Next() {
		var symbol string
		var date sql.NullString
		if err := rows.Scan(&symbol, &date); err != nil {
			return nil, fmt.Errorf("failed to scan trade date: %w", err)
		}
		if date.Valid {
			dates[symbol] = date.String
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade dates: %w", err)
	}

	return dates, nil
}

// UpdateStatus sets a trade's status
func (r *TradeRepository) UpdateStatus(tradeID, status string) error {
	res, err := r.db.Exec(`UPDATE trades SET status = ? WHERE trade_id = ?`, status, tradeID)
	if err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("trade not found: %s", tradeID)
	}

	return nil
}

// Audit appends an audit log row for trade lifecycle actions
func (r *TradeRepository) Audit(action, tradeID, account, detail string) error {
	_, err := r.db.Exec(
		`INSERT INTO audit_log (ts, action, trade_id, account, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), action, tradeID, NormalizeAccount(account), detail,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// RecordStrategy registers a multi-leg strategy id
func (r *TradeRepository) RecordStrategy(strategyID, strategyName, account string) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO strategies (strategy_id, strategy_name, account, created_at) VALUES (?, ?, ?, ?)`,
		strategyID, strategyName, NormalizeAccount(account), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record strategy: %w", err)
	}
	return nil
}

func (r *TradeRepository) list(query string, args ...interface{}) ([]Trade, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

func scanTrade(rows *sql.Rows) (Trade, error) {
	var trade Trade
	var side string
	var tradeType, status, source sql.NullString
	var assetClass, underlying, expiry, optionType sql.NullString
	var strategyID, strategyName, sector sql.NullString
	var strike, multiplier, realizedPL, costBasis, cashFlow sql.NullFloat64

	err := rows.Scan(
		&trade.TradeID,
		&trade.TS,
		&trade.TradeDate,
		&trade.Account,
		&trade.InstrumentID,
		&trade.Symbol,
		&side,
		&trade.Qty,
		&trade.Price,
		&tradeType,
		&status,
		&source,
		&assetClass,
		&underlying,
		&expiry,
		&strike,
		&optionType,
		&multiplier,
		&strategyID,
		&strategyName,
		&sector,
		&realizedPL,
		&costBasis,
		&cashFlow,
	)
	if err != nil {
		return trade, err
	}

	trade.Side = Side(side)
	trade.TradeType = tradeType.String
	trade.Status = status.String
	trade.Source = source.String
	trade.AssetClass = assetClass.String
	trade.Underlying = underlying.String
	trade.Expiry = expiry.String
	trade.Strike = strike.Float64
	trade.OptionType = optionType.String
	trade.Multiplier = multiplier.Float64
	if trade.Multiplier == 0 {
		trade.Multiplier = 1
	}
	trade.StrategyID = strategyID.String
	trade.StrategyName = strategyName.String
	trade.Sector = sector.String
	trade.RealizedPL = realizedPL.Float64
	trade.CostBasis = costBasis.Float64
	trade.CashFlow = cashFlow.Float64

	return trade, nil
}
