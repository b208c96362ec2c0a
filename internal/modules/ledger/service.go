package ledger

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/events"
	"github.com/aristath/navledger/internal/modules/instruments"
	"github.com/aristath/navledger/internal/modules/pricing"
)

// qtyEpsilon is the threshold below which a position counts as closed
const qtyEpsilon = 1e-12

// Policy holds the cash and margin rules applied to trades
type Policy struct {
	StartCash            float64
	ShortProceedsLockPct float64
	ShortExtraMarginPct  float64
}

// Service is the position and cash engine. A single mutex serializes
// every mutating path, so trade application is strictly ordered per
// process; reads go straight to the database and tolerate running a
// moment behind.
type Service struct {
	accounts    *AccountRepository
	positions   *PositionRepository
	trades      *TradeRepository
	flows       *CashFlowRepository
	instruments *instruments.Repository
	pricing     *pricing.Service
	events      *events.Manager
	policy      Policy
	log         zerolog.Logger

	mu       sync.Mutex
	onMutate func()
}

// ServiceConfig wires a ledger service
type ServiceConfig struct {
	Accounts    *AccountRepository
	Positions   *PositionRepository
	Trades      *TradeRepository
	Flows       *CashFlowRepository
	Instruments *instruments.Repository
	Pricing     *pricing.Service
	Events      *events.Manager
	Policy      Policy
	Log         zerolog.Logger
}

// NewService creates a new ledger service
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		accounts:    cfg.Accounts,
		positions:   cfg.Positions,
		trades:      cfg.Trades,
		flows:       cfg.Flows,
		instruments: cfg.Instruments,
		pricing:     cfg.Pricing,
		events:      cfg.Events,
		policy:      cfg.Policy,
		log:         cfg.Log.With().Str("service", "ledger").Logger(),
	}
}

// OnMutate registers the hook fired after every successful mutation
// (used to invalidate the NAV cache)
func (s *Service) OnMutate(fn func()) {
	s.onMutate = fn
}

func (s *Service) invalidate() {
	if s.onMutate != nil {
		s.onMutate()
	}
}

// Accounts exposes the account repository for read paths
func (s *Service) Accounts() *AccountRepository { return s.accounts }

// Positions exposes the position repository for read paths
func (s *Service) Positions() *PositionRepository { return s.positions }

// Trades exposes the trade repository for read paths
func (s *Service) Trades() *TradeRepository { return s.trades }

// Flows exposes the cash flow repository for read paths
func (s *Service) Flows() *CashFlowRepository { return s.flows }

// HeldSymbols lists the distinct symbols currently held anywhere
func (s *Service) HeldSymbols() ([]string, error) {
	return s.positions.HeldSymbols()
}

// ApplyTrade validates and books one trade under the write lock
func (s *Service) ApplyTrade(req TradeRequest) (TradeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyTradeLocked(req)
}

func (s *Service) applyTradeLocked(req TradeRequest) (TradeResult, error) {
	account := NormalizeAccount(req.Account)
	if account == "" {
		return reject("account is required"), nil
	}
	if account == AllAccounts {
		return reject("cannot trade against the %s aggregate", AllAccounts), nil
	}

	side, err := ParseSide(req.Side)
	if err != nil {
		return reject("invalid side: %s", req.Side), nil
	}

	if req.Qty <= 0 {
		return reject("qty must be positive"), nil
	}
	if req.Price < 0 {
		return reject("price cannot be negative"), nil
	}

	class := req.AssetClass
	if !class.IsValid() {
		class = detectAssetClass(req.Symbol)
	}

	if req.Price == 0 && !(req.AllowZeroPrice && class == instruments.Option) {
		return reject("price must be positive"), nil
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if class == instruments.Option {
		osi, _, err := instruments.NormalizeOptionFields(symbol, req.Underlying, req.Expiry, req.OptionType, req.Strike)
		if err != nil {
			return reject("invalid option terms: %v", err), nil
		}
		symbol = osi
	}
	if symbol == "" {
		return reject("symbol is required"), nil
	}

	tradeDate := strings.TrimSpace(req.TradeDate)
	if tradeDate == "" {
		tradeDate = today()
	}
	if _, err := time.Parse("2006-01-02", tradeDate); err != nil {
		return reject("invalid trade_date: %s", req.TradeDate), nil
	}

	mult := instruments.Multiplier(symbol, class)

	// Checked before anything is written; a rejected trade must not
	// leave an account or instrument row behind
	if side.IsBuy() && !req.SkipCashCheck && class != instruments.Future {
		cost := req.Qty * req.Price * mult
		avail, err := s.cashAvailable(account)
		if err != nil {
			return TradeResult{}, err
		}
		if cost > avail+1e-9 {
			return reject("insufficient cash: need %.2f, available %.2f", cost, avail), nil
		}
	}

	inst := instruments.Derive(symbol, class)
	if err := s.instruments.Ensure(inst); err != nil {
		return TradeResult{}, fmt.Errorf("failed to register instrument: %w", err)
	}

	if err := s.accounts.EnsureExists(account, s.policy.StartCash); err != nil {
		return TradeResult{}, err
	}

	pos, err := s.positions.Get(account, inst.ID)
	if err != nil {
		return TradeResult{}, err
	}

	curQty, curCost := 0.0, 0.0
	if pos != nil {
		curQty = pos.Qty
		curCost = pos.AvgCost
	}

	newQty := curQty + side.SignedQty(req.Qty)
	realized, costBasis := 0.0, 0.0
	newAvg := curCost

	switch {
	case side.IsBuy() && curQty >= 0:
		// Extending a long: blend the average cost
		total := curQty + req.Qty
		newAvg = (curQty*curCost + req.Qty*req.Price) / total

	case side.IsBuy():
		// Covering a short: realize against the short average
		coverQty := math.Min(req.Qty, -curQty)
		realized = coverQty * (curCost - req.Price) * mult
		costBasis = coverQty * curCost * mult
		if newQty > qtyEpsilon {
			// Overbought past flat: remainder is a fresh long at trade price
			newAvg = req.Price
		}

	case curQty > 0:
		// Selling a long: realize against the long average
		sellQty := math.Min(req.Qty, curQty)
		realized = sellQty * (req.Price - curCost) * mult
		costBasis = sellQty * curCost * mult
		if newQty < -qtyEpsilon {
			// Oversold past flat: remainder is a fresh short at trade price
			newAvg = req.Price
		}

	default:
		// Opening or extending a short: blend the short average
		shortQty := -curQty
		newAvg = (shortQty*curCost + req.Qty*req.Price) / (shortQty + req.Qty)
	}

	// Futures settle margin daily; the trade itself moves no cash
	cashFlow := 0.0
	if class != instruments.Future {
		cashFlow = -side.SignedQty(req.Qty) * req.Price * mult
	}

	if math.Abs(newQty) <= qtyEpsilon {
		if err := s.positions.Delete(account, inst.ID); err != nil {
			return TradeResult{}, err
		}
	} else {
		entryDate := tradeDate
		sector, owner := req.Sector, ""
		strategy, strategyID, strategyName := "", req.StrategyID, req.StrategyName
		if pos != nil {
			entryDate = pos.EntryDate
			if entryDate == "" {
				entryDate = tradeDate
			}
			owner = pos.Owner
			strategy = pos.Strategy
		}

		if err := s.positions.Upsert(Position{
			Account:      account,
			InstrumentID: inst.ID,
			Qty:          newQty,
			Price:        req.Price,
			MarketValue:  math.Abs(newQty) * req.Price * mult,
			AvgCost:      newAvg,
			Sector:       sector,
			Owner:        owner,
			EntryDate:    entryDate,
			Strategy:     strategy,
			StrategyID:   strategyID,
			StrategyName: strategyName,
		}); err != nil {
			return TradeResult{}, err
		}
	}

	tradeType := req.TradeType
	if tradeType == "" {
		tradeType = TradeTypeManual
	}
	source := req.Source
	if source == "" {
		source = "API"
	}

	trade := Trade{
		TradeID:      newTradeID(),
		TS:           time.Now().UTC().Format(time.RFC3339),
		TradeDate:    tradeDate,
		Account:      account,
		InstrumentID: inst.ID,
		Symbol:       symbol,
		Side:         side,
		Qty:          req.Qty,
		Price:        req.Price,
		TradeType:    tradeType,
		Status:       StatusFilled,
		Source:       source,
		AssetClass:   string(class),
		Underlying:   inst.Underlying,
		Expiry:       inst.Expiry,
		Strike:       inst.Strike,
		OptionType:   inst.OptionType,
		Multiplier:   mult,
		StrategyID:   req.StrategyID,
		StrategyName: req.StrategyName,
		Sector:       req.Sector,
		RealizedPL:   realized,
		CostBasis:    costBasis,
		CashFlow:     cashFlow,
	}

	if err := s.trades.Insert(trade); err != nil {
		return TradeResult{}, err
	}

	// Options never come from the history providers; cache the trade
	// price as that day's mark so NAV replay can value the contract
	if class == instruments.Option && req.Price > 0 && s.pricing != nil {
		if err := s.pricing.MarkOptionClose(symbol, tradeDate, req.Price); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache option mark")
		}
	}

	if s.events != nil {
		s.events.Emit(events.TradeApplied, "ledger", map[string]interface{}{
			"trade_id": trade.TradeID,
			"account":  account,
			"symbol":   symbol,
			"side":     string(side),
			"qty":      req.Qty,
		})
	}
	s.invalidate()

	return TradeResult{
		OK:         true,
		TradeID:    trade.TradeID,
		RealizedPL: realized,
		CashFlow:   cashFlow,
	}, nil
}

// SubmitMulti books a multi-leg strategy atomically with respect to the
// cash check: only the net cash across legs must clear, so a spread
// financed by its short leg is accepted even when the long leg alone
// would not be.
func (s *Service) SubmitMulti(account, strategyName string, legs []TradeRequest) (MultiLegResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account = NormalizeAccount(account)
	if account == "" || account == AllAccounts {
		return MultiLegResult{OK: false, Message: "a real account is required"}, nil
	}
	if len(legs) == 0 {
		return MultiLegResult{OK: false, Message: "at least one leg is required"}, nil
	}

	netCash := 0.0
	for _, leg := range legs {
		side, err := ParseSide(leg.Side)
		if err != nil {
			return MultiLegResult{OK: false, Message: fmt.Sprintf("invalid side: %s", leg.Side)}, nil
		}
		class := leg.AssetClass
		if !class.IsValid() {
			class = detectAssetClass(leg.Symbol)
		}
		if class == instruments.Future {
			continue
		}
		mult := instruments.Multiplier(leg.Symbol, class)
		netCash += -side.SignedQty(leg.Qty) * leg.Price * mult
	}

	if netCash < 0 {
		avail, err := s.cashAvailable(account)
		if err != nil {
			return MultiLegResult{}, err
		}
		if avail+netCash < 0 {
			return MultiLegResult{
				OK:      false,
				Message: fmt.Sprintf("insufficient cash for strategy: net %.2f, available %.2f", netCash, avail),
				NetCash: netCash,
			}, nil
		}
	}

	strategyID := newStrategyID()
	tradeIDs := make([]string, 0, len(legs))

	for i, leg := range legs {
		leg.Account = account
		leg.StrategyID = strategyID
		leg.StrategyName = strategyName
		leg.TradeType = TradeTypeMultiLeg
		leg.SkipCashCheck = true

		res, err := s.applyTradeLocked(leg)
		if err != nil {
			return MultiLegResult{}, err
		}
		if !res.OK {
			return MultiLegResult{
				OK:         false,
				Message:    fmt.Sprintf("leg %d rejected: %s", i+1, res.Message),
				StrategyID: strategyID,
				TradeIDs:   tradeIDs,
				NetCash:    netCash,
			}, nil
		}
		tradeIDs = append(tradeIDs, res.TradeID)
	}

	if err := s.trades.RecordStrategy(strategyID, strategyName, account); err != nil {
		s.log.Warn().Err(err).Str("strategy_id", strategyID).Msg("Failed to record strategy")
	}

	return MultiLegResult{
		OK:         true,
		StrategyID: strategyID,
		TradeIDs:   tradeIDs,
		NetCash:    netCash,
	}, nil
}

// PreviewTrade projects the cash impact of a trade without booking it
func (s *Service) PreviewTrade(req TradeRequest) (TradePreview, error) {
	account := NormalizeAccount(req.Account)
	if account == "" || account == AllAccounts {
		return TradePreview{OK: false, Message: "a real account is required"}, nil
	}

	side, err := ParseSide(req.Side)
	if err != nil {
		return TradePreview{OK: false, Message: fmt.Sprintf("invalid side: %s", req.Side)}, nil
	}
	if req.Qty <= 0 || req.Price < 0 {
		return TradePreview{OK: false, Message: "qty must be positive and price non-negative"}, nil
	}

	class := req.AssetClass
	if !class.IsValid() {
		class = detectAssetClass(req.Symbol)
	}
	mult := instruments.Multiplier(req.Symbol, class)

	cashFlow := 0.0
	if class != instruments.Future {
		cashFlow = -side.SignedQty(req.Qty) * req.Price * mult
	}

	avail, err := s.cashAvailable(account)
	if err != nil {
		return TradePreview{}, err
	}

	preview := TradePreview{
		OK:            true,
		CashFlow:      cashFlow,
		CashAvailable: avail,
		CashAfter:     avail + cashFlow,
		Multiplier:    mult,
		Notional:      req.Qty * req.Price * mult,
	}
	if side.IsBuy() && class != instruments.Future && -cashFlow > avail+1e-9 {
		preview.OK = false
		preview.Message = "insufficient cash"
	}

	return preview, nil
}

// CloseExpiredOptions force-closes every option position past its expiry
// with a synthetic zero-price trade dated at the expiry. Returns the
// number of positions closed.
func (s *Service) CloseExpiredOptions(account string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions, err := s.positions.ListByAccount(account)
	if err != nil {
		return 0, err
	}

	cutoff := today()
	closed := 0

	for _, pos := range positions {
		if pos.AssetClass() != instruments.Option {
			continue
		}
		fields, err := instruments.ParseOSI(pos.Symbol())
		if err != nil || fields.Expiry == "" || fields.Expiry >= cutoff {
			continue
		}

		side := string(SideSell)
		if pos.Qty < 0 {
			side = string(SideBuy)
		}

		res, err := s.applyTradeLocked(TradeRequest{
			Account:        pos.Account,
			Symbol:         pos.Symbol(),
			AssetClass:     instruments.Option,
			Side:           side,
			Qty:            math.Abs(pos.Qty),
			Price:          0,
			TradeDate:      fields.Expiry,
			TradeType:      TradeTypeExpiry,
			Source:         "EXPIRY_SWEEP",
			SkipCashCheck:  true,
			AllowZeroPrice: true,
		})
		if err != nil {
			return closed, err
		}
		if !res.OK {
			s.log.Warn().
				Str("symbol", pos.Symbol()).
				Str("reason", res.Message).
				Msg("Failed to close expired option")
			continue
		}

		closed++
		if s.events != nil {
			s.events.Emit(events.OptionExpired, "ledger", map[string]interface{}{
				"account": pos.Account,
				"symbol":  pos.Symbol(),
				"expiry":  fields.Expiry,
			})
		}
	}

	return closed, nil
}

// CancelTrade marks a FILLED trade CANCELLED and drops it from all
// replays. The audit row keeps the original visible.
func (s *Service) CancelTrade(tradeID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, err := s.trades.Get(tradeID)
	if err != nil {
		return err
	}
	if trade == nil {
		return fmt.Errorf("trade not found: %s", tradeID)
	}
	if trade.Status != StatusFilled {
		return fmt.Errorf("trade %s is %s, only FILLED trades can be cancelled", tradeID, trade.Status)
	}

	if err := s.trades.UpdateStatus(tradeID, StatusCancelled); err != nil {
		return err
	}
	if err := s.trades.Audit("CANCEL", tradeID, trade.Account, reason); err != nil {
		s.log.Warn().Err(err).Str("trade_id", tradeID).Msg("Failed to audit cancel")
	}

	if s.events != nil {
		s.events.Emit(events.TradeCancelled, "ledger", map[string]interface{}{
			"trade_id": tradeID,
			"account":  trade.Account,
		})
	}
	s.invalidate()

	return nil
}

// ReplaceTrade cancels a FILLED trade and books a replacement in one
// locked step
func (s *Service) ReplaceTrade(tradeID string, replacement TradeRequest) (TradeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, err := s.trades.Get(tradeID)
	if err != nil {
		return TradeResult{}, err
	}
	if trade == nil {
		return reject("trade not found: %s", tradeID), nil
	}
	if trade.Status != StatusFilled {
		return reject("trade %s is %s, only FILLED trades can be replaced", tradeID, trade.Status), nil
	}

	res, err := s.applyTradeLocked(replacement)
	if err != nil || !res.OK {
		return res, err
	}

	if err := s.trades.UpdateStatus(tradeID, StatusReplaced); err != nil {
		return TradeResult{}, err
	}
	if err := s.trades.Audit("REPLACE", tradeID, trade.Account, "replaced by "+res.TradeID); err != nil {
		s.log.Warn().Err(err).Str("trade_id", tradeID).Msg("Failed to audit replace")
	}

	if s.events != nil {
		s.events.Emit(events.TradeReplaced, "ledger", map[string]interface{}{
			"trade_id":    tradeID,
			"replaced_by": res.TradeID,
		})
	}
	s.invalidate()

	return res, nil
}

// UpsertPosition applies a positional correction directly. Enrichment
// fields already on the row survive when the request leaves them empty.
func (s *Service) UpsertPosition(pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := NormalizeAccount(pos.Account)
	if account == "" || account == AllAccounts {
		return fmt.Errorf("a real account is required")
	}

	symbol, class, err := instruments.SplitID(pos.InstrumentID)
	if err != nil {
		return err
	}
	inst := instruments.Derive(symbol, class)
	if err := s.instruments.Ensure(inst); err != nil {
		return err
	}
	if err := s.accounts.EnsureExists(account, s.policy.StartCash); err != nil {
		return err
	}

	pos.Account = account
	pos.InstrumentID = inst.ID
	if pos.MarketValue == 0 && pos.Price > 0 {
		pos.MarketValue = math.Abs(pos.Qty) * pos.Price * inst.Multiplier
	}

	if math.Abs(pos.Qty) <= qtyEpsilon {
		if err := s.positions.Delete(account, inst.ID); err != nil {
			return err
		}
	} else if err := s.positions.Upsert(pos); err != nil {
		return err
	}

	if s.events != nil {
		s.events.Emit(events.PositionUpserted, "ledger", map[string]interface{}{
			"account":       account,
			"instrument_id": inst.ID,
			"qty":           pos.Qty,
		})
	}
	s.invalidate()

	return nil
}

// DeletePosition removes a position row outright
func (s *Service) DeletePosition(account, instrumentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.positions.Delete(account, instrumentID); err != nil {
		return err
	}

	if s.events != nil {
		s.events.Emit(events.PositionDeleted, "ledger", map[string]interface{}{
			"account":       account,
			"instrument_id": instrumentID,
		})
	}
	s.invalidate()

	return nil
}

// RecordCashFlow books an external deposit or withdrawal
func (s *Service) RecordCashFlow(flow CashFlow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := NormalizeAccount(flow.Account)
	if account == "" || account == AllAccounts {
		return 0, fmt.Errorf("a real account is required")
	}
	if flow.Date == "" {
		flow.Date = today()
	}
	if _, err := time.Parse("2006-01-02", flow.Date); err != nil {
		return 0, fmt.Errorf("invalid date: %s", flow.Date)
	}

	if err := s.accounts.EnsureExists(account, s.policy.StartCash); err != nil {
		return 0, err
	}

	flow.Account = account
	id, err := s.flows.Add(flow)
	if err != nil {
		return 0, err
	}

	if s.events != nil {
		s.events.Emit(events.CashFlowRecorded, "ledger", map[string]interface{}{
			"account": account,
			"amount":  flow.Amount,
			"date":    flow.Date,
		})
	}
	s.invalidate()

	return id, nil
}

// SetAccountBalance re-anchors an account's cash (and optional NLV
// override) as of a date. Flows and trades after the anchor replay on
// top of it.
func (s *Service) SetAccountBalance(acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := NormalizeAccount(acc.Account)
	if account == "" || account == AllAccounts {
		return fmt.Errorf("a real account is required")
	}
	if acc.AsOf == "" {
		acc.AsOf = today()
	}
	if _, err := time.Parse("2006-01-02", acc.AsOf); err != nil {
		return fmt.Errorf("invalid asof date: %s", acc.AsOf)
	}

	acc.Account = account
	if err := s.accounts.Upsert(acc); err != nil {
		return err
	}

	if s.events != nil {
		s.events.Emit(events.BalanceSet, "ledger", map[string]interface{}{
			"account": account,
			"cash":    acc.Cash,
			"asof":    acc.AsOf,
		})
	}
	s.invalidate()

	return nil
}

// CashBalance reconstructs current cash: the anchor plus every external
// flow and every non-import trade cash flow after it. ALL sums the real
// accounts.
func (s *Service) CashBalance(account string) (float64, error) {
	account = NormalizeAccount(account)

	if account == AllAccounts || account == "" {
		accounts, err := s.accounts.List()
		if err != nil {
			return 0, err
		}
		total := 0.0
		for _, acc := range accounts {
			cash, err := s.CashBalance(acc.Account)
			if err != nil {
				return 0, err
			}
			total += cash
		}
		return total, nil
	}

	acc, err := s.accounts.Get(account)
	if err != nil {
		return 0, err
	}

	anchorCash, anchor := s.policy.StartCash, ""
	if acc != nil {
		anchorCash = acc.Cash
		anchor = acc.AsOf
	}

	flowSum, err := s.flows.SumAfter(account, anchor)
	if err != nil {
		return 0, err
	}
	tradeSum, err := s.trades.SumCashFlowAfter(account, anchor)
	if err != nil {
		return 0, err
	}

	return anchorCash + flowSum + tradeSum, nil
}

// cashAvailable is cash minus the proceeds lock and extra margin held
// against gross short market value
func (s *Service) cashAvailable(account string) (float64, error) {
	cash, err := s.CashBalance(account)
	if err != nil {
		return 0, err
	}

	positions, err := s.positions.ListByAccount(account)
	if err != nil {
		return 0, err
	}

	shortMV := 0.0
	for _, pos := range positions {
		if pos.Qty >= 0 {
			continue
		}
		mark := s.markPrice(pos)
		mult := instruments.Multiplier(pos.Symbol(), pos.AssetClass())
		shortMV += math.Abs(pos.Qty) * mark * mult
	}

	return cash - (s.policy.ShortProceedsLockPct+s.policy.ShortExtraMarginPct)*shortMV, nil
}

// BuyingPower exposes available cash after short locks
func (s *Service) BuyingPower(account string) (float64, error) {
	return s.cashAvailable(account)
}

// markPrice picks the freshest mark for a position: live quote or cached
// close, falling back to the last trade price, then the average cost
func (s *Service) markPrice(pos Position) float64 {
	if s.pricing != nil {
		if px, ok := s.pricing.LastPrice(pos.Symbol()); ok && px > 0 {
			return px
		}
	}
	if pos.Price > 0 {
		return pos.Price
	}
	return pos.AvgCost
}

func detectAssetClass(symbol string) instruments.AssetClass {
	if instruments.IsOSI(symbol) {
		return instruments.Option
	}
	// Ambiguous tickers stay equities; futures must be flagged explicitly
	return instruments.Equity
}

func newTradeID() string {
	return "T-" + strings.ToUpper(uuid.New().String()[:8])
}

func newStrategyID() string {
	return "STRAT-" + strings.ToUpper(uuid.New().String()[:8])
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
