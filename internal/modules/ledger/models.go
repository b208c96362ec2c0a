package ledger

import (
	"fmt"
	"strings"

	"github.com/aristath/navledger/internal/modules/instruments"
)

// AllAccounts is the aggregation pseudo-account. It is a read-time view
// over every real account and never holds rows of its own.
const AllAccounts = "ALL"

// Side represents trade direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes and validates a trade side
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return SideBuy, nil
	case "SELL", "S":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side: %q", s)
	}
}

// IsBuy reports whether the side is a buy
func (s Side) IsBuy() bool {
	return s == SideBuy
}

// SignedQty returns qty with the side's sign applied
func (s Side) SignedQty(qty float64) float64 {
	if s.IsBuy() {
		return qty
	}
	return -qty
}

// NormalizeAccount canonicalizes an account label
func NormalizeAccount(account string) string {
	return strings.ToUpper(strings.TrimSpace(account))
}

// Account is the cash anchor row for one account. Cash as of AsOf is
// authoritative; later flows and trades replay on top of it.
// AccountValue, when set, overrides the computed NLV (static accounts).
type Account struct {
	Account      string   `json:"account"`
	Cash         float64  `json:"cash"`
	AsOf         string   `json:"asof,omitempty"`
	AccountValue *float64 `json:"account_value,omitempty"`
}

// Position is one holding of an account
type Position struct {
	Account      string  `json:"account"`
	InstrumentID string  `json:"instrument_id"`
	Qty          float64 `json:"qty"`
	Price        float64 `json:"price"`
	MarketValue  float64 `json:"market_value"`
	AvgCost      float64 `json:"avg_cost"`
	Sector       string  `json:"sector,omitempty"`
	Owner        string  `json:"owner,omitempty"`
	EntryDate    string  `json:"entry_date,omitempty"`
	Strategy     string  `json:"strategy,omitempty"`
	StrategyID   string  `json:"strategy_id,omitempty"`
	StrategyName string  `json:"strategy_name,omitempty"`
}

// Symbol derives the plain symbol from the position's instrument id
func (p Position) Symbol() string {
	symbol, _, err := instruments.SplitID(p.InstrumentID)
	if err != nil {
		return p.InstrumentID
	}
	return symbol
}

// AssetClass derives the asset class from the position's instrument id
func (p Position) AssetClass() instruments.AssetClass {
	_, class, err := instruments.SplitID(p.InstrumentID)
	if err != nil {
		return instruments.Equity
	}
	return class
}

// Trade is the immutable audit row for one executed trade
type Trade struct {
	TradeID      string  `json:"trade_id"`
	TS           string  `json:"ts"`
	TradeDate    string  `json:"trade_date"`
	Account      string  `json:"account"`
	InstrumentID string  `json:"instrument_id"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Qty          float64 `json:"qty"`
	Price        float64 `json:"price"`
	TradeType    string  `json:"trade_type"`
	Status       string  `json:"status"`
	Source       string  `json:"source"`
	AssetClass   string  `json:"asset_class,omitempty"`
	Underlying   string  `json:"underlying,omitempty"`
	Expiry       string  `json:"expiry,omitempty"`
	Strike       float64 `json:"strike,omitempty"`
	OptionType   string  `json:"option_type,omitempty"`
	Multiplier   float64 `json:"multiplier"`
	StrategyID   string  `json:"strategy_id,omitempty"`
	StrategyName string  `json:"strategy_name,omitempty"`
	Sector       string  `json:"sector,omitempty"`
	RealizedPL   float64 `json:"realized_pl"`
	CostBasis    float64 `json:"cost_basis"`
	CashFlow     float64 `json:"cash_flow"`
}

// Trade status values
const (
	StatusFilled    = "FILLED"
	StatusCancelled = "CANCELLED"
	StatusReplaced  = "REPLACED"
)

// Trade type values
const (
	TradeTypeManual   = "MANUAL"
	TradeTypeImport   = "IMPORT"
	TradeTypeExpiry   = "EXPIRY"
	TradeTypeMultiLeg = "MULTI_LEG"
)

// IsImport reports whether a trade came from a bulk import. Import rows
// document history already reflected in the cash anchor and position
// baselines, so cash and NAV replay must skip them.
func (t Trade) IsImport() bool {
	return strings.EqualFold(t.TradeType, TradeTypeImport) ||
		strings.EqualFold(t.Source, "CSV_IMPORT")
}

// CashFlow is one external deposit or withdrawal
type CashFlow struct {
	ID      int64   `json:"id"`
	Account string  `json:"account"`
	Date    string  `json:"date"`
	Amount  float64 `json:"amount"`
	Note    string  `json:"note,omitempty"`
}

// TradeRequest carries everything needed to book one trade
type TradeRequest struct {
	Account      string                 `json:"account"`
	Symbol       string                 `json:"symbol"`
	AssetClass   instruments.AssetClass `json:"asset_class"`
	Side         string                 `json:"side"`
	Qty          float64                `json:"qty"`
	Price        float64                `json:"price"`
	TradeDate    string                 `json:"trade_date,omitempty"`
	TradeType    string                 `json:"trade_type,omitempty"`
	Source       string                 `json:"source,omitempty"`
	Sector       string                 `json:"sector,omitempty"`
	StrategyID   string                 `json:"strategy_id,omitempty"`
	StrategyName string                 `json:"strategy_name,omitempty"`

	// Option terms, used when Symbol is not already in OSI form
	Underlying string  `json:"underlying,omitempty"`
	Expiry     string  `json:"expiry,omitempty"`
	OptionType string  `json:"option_type,omitempty"`
	Strike     float64 `json:"strike,omitempty"`

	// SkipCashCheck bypasses the buying-power check (imports, multi-leg
	// legs already checked at the strategy level, forced expiry closes)
	SkipCashCheck bool `json:"skip_cash_check,omitempty"`
	// AllowZeroPrice permits price 0, only meaningful for expiring options
	AllowZeroPrice bool `json:"allow_zero_price,omitempty"`
}

// TradeResult reports the outcome of booking a trade. Validation
// failures come back as OK=false with a message, not as errors.
type TradeResult struct {
	OK         bool    `json:"ok"`
	Message    string  `json:"message,omitempty"`
	TradeID    string  `json:"trade_id,omitempty"`
	RealizedPL float64 `json:"realized_pl"`
	CashFlow   float64 `json:"cash_flow"`
}

func reject(format string, args ...interface{}) TradeResult {
	return TradeResult{OK: false, Message: fmt.Sprintf(format, args...)}
}

// MultiLegResult reports the outcome of a multi-leg submission
type MultiLegResult struct {
	OK         bool     `json:"ok"`
	Message    string   `json:"message,omitempty"`
	StrategyID string   `json:"strategy_id,omitempty"`
	TradeIDs   []string `json:"trade_ids,omitempty"`
	NetCash    float64  `json:"net_cash"`
}

// TradePreview is the projected impact of a trade without booking it
type TradePreview struct {
	OK            bool    `json:"ok"`
	Message       string  `json:"message,omitempty"`
	CashFlow      float64 `json:"cash_flow"`
	CashAvailable float64 `json:"cash_available"`
	CashAfter     float64 `json:"cash_after"`
	Multiplier    float64 `json:"multiplier"`
	Notional      float64 `json:"notional"`
}

// PositionView is one position enriched with live marks for snapshots
type PositionView struct {
	Position
	Symbol       string  `json:"symbol"`
	AssetClass   string  `json:"asset_class"`
	Last         float64 `json:"last"`
	PrevClose    float64 `json:"prev_close"`
	Multiplier   float64 `json:"multiplier"`
	DayPnL       float64 `json:"day_pnl"`
	UnrealizedPL float64 `json:"unrealized_pl"`
	Weight       float64 `json:"weight_pct"`
}

// DataQuality summarizes mark coverage for a snapshot
type DataQuality struct {
	Positions     int `json:"positions"`
	MissingMarks  int `json:"missing_marks"`
	StaleFallback int `json:"stale_fallback"`
}

// AccountSnapshot is the live state of one account (or ALL)
type AccountSnapshot struct {
	Account      string         `json:"account"`
	AsOf         string         `json:"asof"`
	NLV          float64        `json:"nlv"`
	Cash         float64        `json:"cash"`
	BuyingPower  float64        `json:"buying_power"`
	GrossMV      float64        `json:"gross_mv"`
	NetMV        float64        `json:"net_mv"`
	NetExposure  float64        `json:"net_exposure"`
	DayPnL       float64        `json:"day_pnl"`
	UnrealizedPL float64        `json:"unrealized_pl"`
	RealizedPL   float64        `json:"realized_pl"`
	TotalPnL     float64        `json:"total_pnl"`
	Positions    []PositionView `json:"positions"`
	DataQuality  DataQuality    `json:"data_quality"`
}
