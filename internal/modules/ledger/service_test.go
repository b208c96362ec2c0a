package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/navledger/internal/database"
	"github.com/aristath/navledger/internal/modules/instruments"
	"github.com/aristath/navledger/internal/modules/pricing"
)

func newTestService(t *testing.T, startCash float64) (*Service, *pricing.Service) {
	t.Helper()

	dir := t.TempDir()
	log := zerolog.Nop()

	db, err := database.New(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	store, err := pricing.NewStore(filepath.Join(dir, "prices.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	priceSvc := pricing.NewService(pricing.ServiceConfig{
		Store:       store,
		BenchSymbol: "^GSPC",
		BenchStart:  "2020-01-01",
		Log:         log,
	})

	svc := NewService(ServiceConfig{
		Accounts:    NewAccountRepository(db.Conn(), log),
		Positions:   NewPositionRepository(db.Conn(), log),
		Trades:      NewTradeRepository(db.Conn(), log),
		Flows:       NewCashFlowRepository(db.Conn(), log),
		Instruments: instruments.NewRepository(db.Conn(), log),
		Pricing:     priceSvc,
		Policy: Policy{
			StartCash:            startCash,
			ShortProceedsLockPct: 1.00,
			ShortExtraMarginPct:  0.50,
		},
		Log: log,
	})

	return svc, priceSvc
}

func mustApply(t *testing.T, svc *Service, req TradeRequest) TradeResult {
	t.Helper()
	res, err := svc.ApplyTrade(req)
	require.NoError(t, err)
	require.True(t, res.OK, "trade rejected: %s", res.Message)
	return res
}

func TestApplyTradeLongLifecycle(t *testing.T) {
	svc, _ := newTestService(t, 10_000)

	// Build up: 100 @ 10, then 100 @ 20 -> avg 15
	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 10})
	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 20})

	pos, err := svc.Positions().Get("MAIN", "AAPL:EQUITY")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 200, pos.Qty, 1e-9)
	assert.InDelta(t, 15, pos.AvgCost, 1e-9)

	// Sell 150 @ 20: realized = 150 * (20 - 15) = 750
	res := mustApply(t, svc, TradeRequest{Account: "main", Symbol: "AAPL", Side: "SELL", Qty: 150, Price: 20})
	assert.InDelta(t, 750, res.RealizedPL, 1e-9)

	pos, err = svc.Positions().Get("MAIN", "AAPL:EQUITY")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 50, pos.Qty, 1e-9)
	assert.InDelta(t, 15, pos.AvgCost, 1e-9) // partial sell keeps the average

	// Close out: the position row must disappear, not linger at qty 0
	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "AAPL", Side: "SELL", Qty: 50, Price: 20})

	pos, err = svc.Positions().Get("MAIN", "AAPL:EQUITY")
	require.NoError(t, err)
	assert.Nil(t, pos)

	// Cash replays every trade: 10000 - 1000 - 2000 + 3000 + 1000
	cash, err := svc.CashBalance("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 11_000, cash, 1e-6)

	realized, err := svc.Trades().SumRealized("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 1000, realized, 1e-9) // 750 + 50*(20-15)
}

func TestShortBlendAndCover(t *testing.T) {
	svc, _ := newTestService(t, 100_000)

	// Open short 100 @ 50, extend 50 @ 60 -> short avg (100*50+50*60)/150
	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "XYZ", Side: "SELL", Qty: 100, Price: 50})
	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "XYZ", Side: "SELL", Qty: 50, Price: 60})

	pos, err := svc.Positions().Get("MAIN", "XYZ:EQUITY")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, -150, pos.Qty, 1e-9)
	assert.InDelta(t, 160.0/3, pos.AvgCost, 1e-9)

	// Cover everything @ 40: realized = 150 * (53.33.. - 40)
	res := mustApply(t, svc, TradeRequest{
		Account: "main", Symbol: "XYZ", Side: "BUY", Qty: 150, Price: 40, SkipCashCheck: true,
	})
	assert.InDelta(t, 150*(160.0/3-40), res.RealizedPL, 1e-6)

	pos, err = svc.Positions().Get("MAIN", "XYZ:EQUITY")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestBuyThroughShortFlipsLong(t *testing.T) {
	svc, _ := newTestService(t, 100_000)

	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "XYZ", Side: "SELL", Qty: 50, Price: 20})

	// Buy 80 @ 25: cover 50 (realized 50*(20-25) = -250), flip 30 long @ 25
	res := mustApply(t, svc, TradeRequest{
		Account: "main", Symbol: "XYZ", Side: "BUY", Qty: 80, Price: 25, SkipCashCheck: true,
	})
	assert.InDelta(t, -250, res.RealizedPL, 1e-9)

	pos, err := svc.Positions().Get("MAIN", "XYZ:EQUITY")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 30, pos.Qty, 1e-9)
	assert.InDelta(t, 25, pos.AvgCost, 1e-9)
}

func TestValidationRejects(t *testing.T) {
	svc, _ := newTestService(t, 10_000)

	tests := []struct {
		name string
		req  TradeRequest
	}{
		{"missing account", TradeRequest{Symbol: "AAPL", Side: "BUY", Qty: 1, Price: 10}},
		{"ALL aggregate", TradeRequest{Account: "ALL", Symbol: "AAPL", Side: "BUY", Qty: 1, Price: 10}},
		{"bad side", TradeRequest{Account: "main", Symbol: "AAPL", Side: "HOLD", Qty: 1, Price: 10}},
		{"zero qty", TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 0, Price: 10}},
		{"negative price", TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 1, Price: -1}},
		{"zero price equity", TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 1, Price: 0}},
		{"bad trade date", TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 1, Price: 10, TradeDate: "17-01-2025"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.ApplyTrade(tt.req)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.NotEmpty(t, res.Message)
		})
	}

	// Rejected trades leave no trace
	trades, err := svc.Trades().ListByAccount("ALL", 100)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestInsufficientCashRejected(t *testing.T) {
	svc, _ := newTestService(t, 1_000)

	res, err := svc.ApplyTrade(TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 100})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "insufficient cash")

	// SkipCashCheck bypasses the gate
	res, err = svc.ApplyTrade(TradeRequest{
		Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 100, SkipCashCheck: true,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestRejectedBuyLeavesNoState(t *testing.T) {
	svc, _ := newTestService(t, 1_000)

	res, err := svc.ApplyTrade(TradeRequest{Account: "fresh", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 100})
	require.NoError(t, err)
	require.False(t, res.OK)

	// The rejection must not have materialized the account on the way
	acc, err := svc.Accounts().Get("FRESH")
	require.NoError(t, err)
	assert.Nil(t, acc)

	trades, err := svc.Trades().ListFilled("FRESH")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestShortProceedsLockReducesBuyingPower(t *testing.T) {
	svc, _ := newTestService(t, 10_000)

	// Short 10 @ 100 brings cash to 11000, but locks 1.5x the short MV
	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "XYZ", Side: "SELL", Qty: 10, Price: 100})

	cash, err := svc.CashBalance("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 11_000, cash, 1e-6)

	bp, err := svc.BuyingPower("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 11_000-1.5*1_000, bp, 1e-6)

	// A buy just over buying power is rejected, just under goes through
	res, err := svc.ApplyTrade(TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 1, Price: 9_600})
	require.NoError(t, err)
	assert.False(t, res.OK)

	res, err = svc.ApplyTrade(TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 1, Price: 9_400})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestOptionTradeNormalizesToOSI(t *testing.T) {
	svc, _ := newTestService(t, 100_000)

	// Individual terms assemble into the canonical symbol
	res := mustApply(t, svc, TradeRequest{
		Account:    "main",
		Symbol:     "AAPL",
		AssetClass: instruments.Option,
		Underlying: "AAPL",
		Expiry:     "2027-01-15",
		OptionType: "CALL",
		Strike:     150,
		Side:       "BUY",
		Qty:        2,
		Price:      5,
	})

	trade, err := svc.Trades().Get(res.TradeID)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, "AAPL270115C00150000", trade.Symbol)
	assert.Equal(t, 100.0, trade.Multiplier)
	// Option cash flow uses the contract multiplier
	assert.InDelta(t, -2*5*100, trade.CashFlow, 1e-9)
}

func TestZeroPriceOnlyForOptions(t *testing.T) {
	svc, _ := newTestService(t, 100_000)

	res, err := svc.ApplyTrade(TradeRequest{
		Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 1, Price: 0, AllowZeroPrice: true,
	})
	require.NoError(t, err)
	assert.False(t, res.OK)

	res, err = svc.ApplyTrade(TradeRequest{
		Account: "main", Symbol: "AAPL270115C00150000", Side: "BUY", Qty: 1, Price: 0, AllowZeroPrice: true,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestCloseExpiredOptions(t *testing.T) {
	svc, _ := newTestService(t, 100_000)

	// A long-dead contract, booked with an import-style trade
	mustApply(t, svc, TradeRequest{
		Account: "main", Symbol: "AAPL240119C00150000", Side: "BUY", Qty: 1, Price: 5,
		TradeDate: "2024-01-02", SkipCashCheck: true,
	})
	// A live equity position that must survive the sweep
	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "MSFT", Side: "BUY", Qty: 10, Price: 100})

	closed, err := svc.CloseExpiredOptions("MAIN")
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	pos, err := svc.Positions().Get("MAIN", "AAPL240119C00150000:OPTION")
	require.NoError(t, err)
	assert.Nil(t, pos)

	pos, err = svc.Positions().Get("MAIN", "MSFT:EQUITY")
	require.NoError(t, err)
	require.NotNil(t, pos)

	// The synthetic close is dated at expiry, at price zero, and the
	// full premium is realized as a loss
	trades, err := svc.Trades().ListByAccount("MAIN", 10)
	require.NoError(t, err)

	var expiryTrade *Trade
	for i := range trades {
		if trades[i].TradeType == TradeTypeExpiry {
			expiryTrade = &trades[i]
		}
	}
	require.NotNil(t, expiryTrade)
	assert.Equal(t, "2024-01-19", expiryTrade.TradeDate)
	assert.Equal(t, 0.0, expiryTrade.Price)
	assert.InDelta(t, -500, expiryTrade.RealizedPL, 1e-9) // 1 * (0-5) * 100

	// Sweep is idempotent
	closed, err = svc.CloseExpiredOptions("MAIN")
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

func TestSubmitMultiNetCredit(t *testing.T) {
	// Almost no cash: only the net of the spread must clear
	svc, _ := newTestService(t, 100)

	result, err := svc.SubmitMulti("main", "call spread", []TradeRequest{
		{Symbol: "AAPL270115C00150000", Side: "SELL", Qty: 1, Price: 10},
		{Symbol: "AAPL270115C00160000", Side: "BUY", Qty: 1, Price: 9.5},
	})
	require.NoError(t, err)
	require.True(t, result.OK, result.Message)
	assert.Len(t, result.TradeIDs, 2)
	assert.InDelta(t, 50, result.NetCash, 1e-9) // +1000 - 950

	// Both legs share the strategy id
	trades, err := svc.Trades().ListByAccount("MAIN", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, trades[0].StrategyID, trades[1].StrategyID)
	assert.Equal(t, result.StrategyID, trades[0].StrategyID)
}

func TestSubmitMultiNetDebitRejected(t *testing.T) {
	svc, _ := newTestService(t, 100)

	result, err := svc.SubmitMulti("main", "debit spread", []TradeRequest{
		{Symbol: "AAPL270115C00150000", Side: "BUY", Qty: 1, Price: 10},
		{Symbol: "AAPL270115C00160000", Side: "SELL", Qty: 1, Price: 5},
	})
	require.NoError(t, err)
	assert.False(t, result.OK)

	// Nothing was booked
	trades, err := svc.Trades().ListByAccount("MAIN", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestUpsertPositionIdempotent(t *testing.T) {
	svc, _ := newTestService(t, 10_000)

	pos := Position{
		Account:      "main",
		InstrumentID: "AAPL:EQUITY",
		Qty:          100,
		Price:        12,
		AvgCost:      10,
		Sector:       "Tech",
		EntryDate:    "2025-01-02",
	}

	require.NoError(t, svc.UpsertPosition(pos))
	require.NoError(t, svc.UpsertPosition(pos))

	positions, err := svc.Positions().ListByAccount("MAIN")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 100, positions[0].Qty, 1e-9)
	assert.Equal(t, "Tech", positions[0].Sector)
	assert.Equal(t, "2025-01-02", positions[0].EntryDate)

	// Re-upserting without enrichment keeps the stored fields
	require.NoError(t, svc.UpsertPosition(Position{
		Account:      "main",
		InstrumentID: "AAPL:EQUITY",
		Qty:          120,
		Price:        12,
		AvgCost:      10,
	}))

	positions, err = svc.Positions().ListByAccount("MAIN")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 120, positions[0].Qty, 1e-9)
	assert.Equal(t, "Tech", positions[0].Sector)
	assert.Equal(t, "2025-01-02", positions[0].EntryDate)

	// Zero qty removes the row
	require.NoError(t, svc.UpsertPosition(Position{Account: "main", InstrumentID: "AAPL:EQUITY", Qty: 0}))
	positions, err = svc.Positions().ListByAccount("MAIN")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCancelTradeDropsFromReplay(t *testing.T) {
	svc, _ := newTestService(t, 10_000)

	res := mustApply(t, svc, TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 10, Price: 100})

	cash, err := svc.CashBalance("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 9_000, cash, 1e-6)

	require.NoError(t, svc.CancelTrade(res.TradeID, "fat finger"))

	// Cancelled trades no longer move cash
	cash, err = svc.CashBalance("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 10_000, cash, 1e-6)

	// Cancelling twice fails
	require.Error(t, svc.CancelTrade(res.TradeID, "again"))
}

func TestReplaceTrade(t *testing.T) {
	svc, _ := newTestService(t, 10_000)

	res := mustApply(t, svc, TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 10, Price: 100})

	replaced, err := svc.ReplaceTrade(res.TradeID, TradeRequest{
		Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 10, Price: 95, SkipCashCheck: true,
	})
	require.NoError(t, err)
	require.True(t, replaced.OK)

	orig, err := svc.Trades().Get(res.TradeID)
	require.NoError(t, err)
	require.NotNil(t, orig)
	assert.Equal(t, StatusReplaced, orig.Status)

	// Only the replacement moves cash: 10000 - 950
	cash, err := svc.CashBalance("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 9_050, cash, 1e-6)
}

func TestCashFlowAndAnchorReplay(t *testing.T) {
	svc, _ := newTestService(t, 10_000)

	// Anchor MAIN at 50000 as of 2025-06-01
	require.NoError(t, svc.SetAccountBalance(Account{Account: "main", Cash: 50_000, AsOf: "2025-06-01"}))

	// A flow before the anchor is already inside it and must not replay
	_, err := svc.RecordCashFlow(CashFlow{Account: "main", Date: "2025-05-15", Amount: 7_000})
	require.NoError(t, err)
	// A flow after the anchor replays on top
	_, err = svc.RecordCashFlow(CashFlow{Account: "main", Date: "2025-06-15", Amount: 2_500})
	require.NoError(t, err)

	cash, err := svc.CashBalance("MAIN")
	require.NoError(t, err)
	assert.InDelta(t, 52_500, cash, 1e-6)
}

func TestAllAccountCashSumsRealAccounts(t *testing.T) {
	svc, _ := newTestService(t, 0)

	require.NoError(t, svc.SetAccountBalance(Account{Account: "alpha", Cash: 1_000, AsOf: "2025-01-01"}))
	require.NoError(t, svc.SetAccountBalance(Account{Account: "beta", Cash: 2_000, AsOf: "2025-01-01"}))

	cash, err := svc.CashBalance("ALL")
	require.NoError(t, err)
	assert.InDelta(t, 3_000, cash, 1e-6)
}

func TestSnapshotConcrete(t *testing.T) {
	svc, priceSvc := newTestService(t, 10_000)

	mustApply(t, svc, TradeRequest{Account: "main", Symbol: "AAPL", Side: "BUY", Qty: 100, Price: 10})

	// Mark at 21 with a prev close of 20
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	todayStr := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, priceSvc.Store().UpsertCloses("AAPL", []pricing.Close{
		{Date: yesterday, Close: 20},
		{Date: todayStr, Close: 21},
	}))

	snap, err := svc.Snapshot("main")
	require.NoError(t, err)

	assert.InDelta(t, 9_000, snap.Cash, 1e-6)
	assert.InDelta(t, 2_100, snap.GrossMV, 1e-6)
	assert.InDelta(t, 11_100, snap.NLV, 1e-6)
	assert.InDelta(t, 100, snap.DayPnL, 1e-6)      // 100 * (21 - 20)
	assert.InDelta(t, 1_100, snap.UnrealizedPL, 1e-6) // 100 * (21 - 10)
	assert.InDelta(t, 1_100, snap.TotalPnL, 1e-6)
	assert.InDelta(t, 1.0, snap.NetExposure, 1e-9)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "AAPL", snap.Positions[0].Symbol)
	assert.InDelta(t, 100, snap.Positions[0].Weight, 1e-6)
}

func TestSnapshotAccountValueOverride(t *testing.T) {
	svc, _ := newTestService(t, 0)

	value := 123_456.0
	require.NoError(t, svc.SetAccountBalance(Account{
		Account: "static", Cash: 1_000, AsOf: "2025-01-01", AccountValue: &value,
	}))

	snap, err := svc.Snapshot("static")
	require.NoError(t, err)
	assert.InDelta(t, value, snap.NLV, 1e-6)
}
