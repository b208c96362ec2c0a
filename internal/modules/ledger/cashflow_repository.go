package ledger

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// CashFlowRepository handles external deposits and withdrawals
type CashFlowRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCashFlowRepository creates a new cash flow repository
func NewCashFlowRepository(db *sql.DB, log zerolog.Logger) *CashFlowRepository {
	return &CashFlowRepository{
		db:  db,
		log: log.With().Str("repo", "cash_flows").Logger(),
	}
}

// Add records one external flow
func (r *CashFlowRepository) Add(flow CashFlow) (int64, error) {
	res, err := r.db.Exec(
		`INSERT INTO cash_flows (account, date, amount, note) VALUES (?, ?, ?, ?)`,
		NormalizeAccount(flow.Account), flow.Date, flow.Amount, nullStr(flow.Note),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add cash flow: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get cash flow id: %w", err)
	}

	r.log.Info().
		Str("account", flow.Account).
		Str("date", flow.Date).
		Float64("amount", flow.Amount).
		Msg("Cash flow recorded")

	return id, nil
}

// SumAfter totals flows for an account strictly after the anchor date
// (all dates when anchor is empty)
func (r *CashFlowRepository) SumAfter(account, anchor string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM cash_flows
		WHERE account = ? AND (? = '' OR date > ?)
	`

	var total float64
	err := r.db.QueryRow(query, NormalizeAccount(account), anchor, anchor).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cash flows: %w", err)
	}
	return total, nil
}

// ListAfter returns flows for an account strictly after the anchor date
// in date order. ALL spans every account.
func (r *CashFlowRepository) ListAfter(account, anchor string) ([]CashFlow, error) {
	account = NormalizeAccount(account)

	query := `
		SELECT id, account, date, amount, note FROM cash_flows
		WHERE account = ? AND (? = '' OR date > ?)
		ORDER BY date ASC, id ASC
	`
	args := []interface{}{account, anchor, anchor}
	if account == AllAccounts || account == "" {
		query = `
			SELECT id, account, date, amount, note FROM cash_flows
			WHERE (? = '' OR date > ?)
			ORDER BY date ASC, id ASC
		`
		args = []interface{}{anchor, anchor}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cash flows: %w", err)
	}
	defer rows.Close()

	var flows []CashFlow
	for rows.Next() {
		var flow CashFlow
		var note sql.NullString
		if err := rows.Scan(&flow.ID, &flow.Account, &flow.Date, &flow.Amount, &note); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		flow.Note = note.String
		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}

	return flows, nil
}
