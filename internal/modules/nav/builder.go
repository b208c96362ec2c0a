package nav

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navledger/internal/modules/instruments"
	"github.com/aristath/navledger/internal/modules/ledger"
	"github.com/aristath/navledger/internal/modules/pricing"
	"github.com/aristath/navledger/pkg/formulas"
)

// twrEpsilon guards the chain-link denominator; a day starting at ~zero
// NAV carries a factor of 1 instead of exploding
const twrEpsilon = 1e-12

// Builder reconstructs the daily NAV series for an account from the
// trade blotter, external flows and cached closes. Nothing here takes
// the ledger write lock; the builder reads whatever state is committed.
type Builder struct {
	ledger     *ledger.Service
	pricing    *pricing.Service
	benchStart string
	log        zerolog.Logger
}

// NewBuilder creates a NAV builder
func NewBuilder(ledgerSvc *ledger.Service, pricingSvc *pricing.Service, benchStart string, log zerolog.Logger) *Builder {
	return &Builder{
		ledger:     ledgerSvc,
		pricing:    pricingSvc,
		benchStart: benchStart,
		log:        log.With().Str("service", "nav_builder").Logger(),
	}
}

// seriesData is one account's raw daily NAV plus its external flows,
// kept separate so the aggregate can re-derive time-weighted returns
type seriesData struct {
	dates []string
	nav   map[string]float64
	flow  map[string]float64
}

// Build reconstructs the full series for an account. ALL sums the real
// accounts day by day.
func (b *Builder) Build(ctx context.Context, account string) ([]Point, error) {
	account = ledger.NormalizeAccount(account)

	benchCloses, _ := b.pricing.BenchSeries(ctx, b.benchStart)
	benchMap := make(map[string]float64, len(benchCloses))
	benchDates := make([]string, 0, len(benchCloses))
	for _, c := range benchCloses {
		benchMap[c.Date] = c.Close
		benchDates = append(benchDates, c.Date)
	}

	var data seriesData
	if account == ledger.AllAccounts || account == "" {
		accounts, err := b.ledger.Accounts().List()
		if err != nil {
			return nil, err
		}
		parts := make([]seriesData, 0, len(accounts))
		for _, acc := range accounts {
			part, err := b.buildAccount(acc.Account, benchDates)
			if err != nil {
				return nil, err
			}
			if len(part.dates) > 0 {
				parts = append(parts, part)
			}
		}
		data = combine(parts)
	} else {
		var err error
		data, err = b.buildAccount(account, benchDates)
		if err != nil {
			return nil, err
		}
	}

	return assemble(data, benchMap), nil
}

func (b *Builder) buildAccount(account string, benchDates []string) (seriesData, error) {
	account = ledger.NormalizeAccount(account)

	acc, err := b.ledger.Accounts().Get(account)
	if err != nil {
		return seriesData{}, err
	}

	anchorCash, anchor := 0.0, ""
	if acc != nil {
		anchorCash = acc.Cash
		anchor = acc.AsOf
	} else {
		// Never anchored: current balance is the best constant we have
		anchorCash, err = b.ledger.CashBalance(account)
		if err != nil {
			return seriesData{}, err
		}
	}

	trades, err := b.ledger.Trades().ListFilled(account)
	if err != nil {
		return seriesData{}, err
	}
	positions, err := b.ledger.Positions().ListByAccount(account)
	if err != nil {
		return seriesData{}, err
	}
	flows, err := b.ledger.Flows().ListAfter(account, anchor)
	if err != nil {
		return seriesData{}, err
	}

	start := b.startDate(anchor, trades, positions)
	calendar := clipCalendar(benchDates, start)
	if len(calendar) == 0 {
		calendar = businessDays(start, today())
	}
	if len(calendar) == 0 {
		return seriesData{}, nil
	}

	// Accounts with a stated value report it flat; there is nothing to
	// reconstruct and the time-weighted return is identically 1
	if acc != nil && acc.AccountValue != nil {
		data := seriesData{nav: make(map[string]float64), flow: make(map[string]float64)}
		for _, d := range calendar {
			data.dates = append(data.dates, d)
			data.nav[d] = *acc.AccountValue
		}
		return data, nil
	}

	// Quantity reconstruction: the residual absorbs whatever the blotter
	// does not explain (imports, manual corrections), so the final
	// reconstructed quantity always matches the live position. It is
	// applied from the instrument's entry date, not from day one; an
	// imported holding contributes nothing before it existed.
	instIDs, residual, residualStart, tradesByInst := quantityBaseline(trades, positions)

	prices := make(map[string]*priceLookup, len(instIDs))
	mults := make(map[string]float64, len(instIDs))
	for _, id := range instIDs {
		symbol, class, err := instruments.SplitID(id)
		if err != nil {
			continue
		}
		mults[id] = instruments.Multiplier(symbol, class)
		prices[id] = b.newPriceLookup(symbol, start, tradesByInst[id])
	}

	data := seriesData{
		nav:  make(map[string]float64, len(calendar)),
		flow: make(map[string]float64, len(calendar)),
	}

	qty := make(map[string]float64, len(instIDs))
	tradeIdx := make(map[string]int, len(instIDs))
	flowIdx := 0
	cash := anchorCash

	for _, d := range calendar {
		for _, id := range instIDs {
			if r, pending := residual[id]; pending && residualStart[id] <= d {
				qty[id] += r
				delete(residual, id)
			}
			legs := tradesByInst[id]
			for tradeIdx[id] < len(legs) && legs[tradeIdx[id]].TradeDate <= d {
				t := legs[tradeIdx[id]]
				qty[id] += t.Side.SignedQty(t.Qty)
				if !t.IsImport() && (anchor == "" || t.TradeDate > anchor) {
					cash += t.CashFlow
				}
				tradeIdx[id]++
			}
		}
		// Off-calendar flows (weekend deposits) land on the next session
		for flowIdx < len(flows) && flows[flowIdx].Date <= d {
			cash += flows[flowIdx].Amount
			data.flow[d] += flows[flowIdx].Amount
			flowIdx++
		}

		mv := 0.0
		for _, id := range instIDs {
			q := qty[id]
			if math.Abs(q) <= 1e-12 {
				continue
			}
			px := prices[id].at(d)
			mv += math.Abs(q) * px * mults[id]
		}

		data.dates = append(data.dates, d)
		data.nav[d] = cash + mv
	}

	return data, nil
}

// startDate picks the earliest date the series must cover
func (b *Builder) startDate(anchor string, trades []ledger.Trade, positions []ledger.Position) string {
	start := ""
	consider := func(d string) {
		if d != "" && (start == "" || d < start) {
			start = d
		}
	}

	consider(anchor)
	if len(trades) > 0 {
		consider(trades[0].TradeDate)
	}
	for _, pos := range positions {
		consider(pos.EntryDate)
	}

	if start == "" || start < b.benchStart {
		start = b.benchStart
	}
	return start
}

// quantityBaseline splits the blotter by instrument and computes the
// per-instrument residual: current qty minus the net signed trade qty.
// Each residual carries the date it takes effect, the position's entry
// date when known, else the instrument's first trade date.
func quantityBaseline(trades []ledger.Trade, positions []ledger.Position) ([]string, map[string]float64, map[string]string, map[string][]ledger.Trade) {
	tradesByInst := make(map[string][]ledger.Trade)
	netQty := make(map[string]float64)
	firstTrade := make(map[string]string)
	for _, t := range trades {
		tradesByInst[t.InstrumentID] = append(tradesByInst[t.InstrumentID], t)
		netQty[t.InstrumentID] += t.Side.SignedQty(t.Qty)
		if d, ok := firstTrade[t.InstrumentID]; !ok || t.TradeDate < d {
			firstTrade[t.InstrumentID] = t.TradeDate
		}
	}

	currentQty := make(map[string]float64)
	entryDate := make(map[string]string)
	for _, pos := range positions {
		currentQty[pos.InstrumentID] = pos.Qty
		entryDate[pos.InstrumentID] = pos.EntryDate
	}

	seen := make(map[string]bool)
	var instIDs []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			instIDs = append(instIDs, id)
		}
	}
	for _, pos := range positions {
		add(pos.InstrumentID)
	}
	for _, t := range trades {
		add(t.InstrumentID)
	}
	sort.Strings(instIDs)

	residual := make(map[string]float64, len(instIDs))
	residualStart := make(map[string]string, len(instIDs))
	for _, id := range instIDs {
		residual[id] = currentQty[id] - netQty[id]
		start := entryDate[id]
		if start == "" {
			start = firstTrade[id]
		}
		residualStart[id] = start
	}

	return instIDs, residual, residualStart, tradesByInst
}

// priceLookup answers "close on or before date d" over a forward- and
// back-filled series, falling back to trade prices when the cache has
// nothing for the symbol
type priceLookup struct {
	dates  []string
	closes []float64
}

func (b *Builder) newPriceLookup(symbol, start string, trades []ledger.Trade) *priceLookup {
	lk := &priceLookup{}

	closes, err := b.pricing.Store().Series(symbol, start)
	if err != nil {
		b.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read price series")
	}
	for _, c := range closes {
		lk.dates = append(lk.dates, c.Date)
		lk.closes = append(lk.closes, c.Close)
	}
	if len(lk.dates) > 0 {
		return lk
	}

	// No cached closes (typically an option marked only at its trades)
	for _, t := range trades {
		if t.Price > 0 {
			lk.dates = append(lk.dates, t.TradeDate)
			lk.closes = append(lk.closes, t.Price)
		}
	}
	return lk
}

// at forward-fills within the series and back-fills before it
func (lk *priceLookup) at(date string) float64 {
	if len(lk.dates) == 0 {
		return 0
	}
	idx := sort.SearchStrings(lk.dates, date)
	if idx < len(lk.dates) && lk.dates[idx] == date {
		return lk.closes[idx]
	}
	if idx == 0 {
		return lk.closes[0]
	}
	return lk.closes[idx-1]
}

// combine sums per-account series onto the union calendar. Before an
// account's first date its earliest value stands in; after its last,
// the latest one does.
func combine(parts []seriesData) seriesData {
	seen := make(map[string]bool)
	var dates []string
	for _, part := range parts {
		for _, d := range part.dates {
			if !seen[d] {
				seen[d] = true
				dates = append(dates, d)
			}
		}
	}
	sort.Strings(dates)

	out := seriesData{
		dates: dates,
		nav:   make(map[string]float64, len(dates)),
		flow:  make(map[string]float64, len(dates)),
	}
	for _, d := range dates {
		for _, part := range parts {
			out.nav[d] += part.valueOn(d)
			out.flow[d] += part.flow[d]
		}
	}
	return out
}

func (sd *seriesData) valueOn(date string) float64 {
	if len(sd.dates) == 0 {
		return 0
	}
	if v, ok := sd.nav[date]; ok {
		return v
	}
	idx := sort.SearchStrings(sd.dates, date)
	if idx == 0 {
		return sd.nav[sd.dates[0]]
	}
	return sd.nav[sd.dates[idx-1]]
}

// assemble chain-links the time-weighted return over the raw series and
// attaches the benchmark close, forward-filled. When no benchmark series
// exists at all Bench stays 0 so downstream analytics can tell it apart
// from a real close.
func assemble(data seriesData, benchMap map[string]float64) []Point {
	if len(data.dates) == 0 {
		return nil
	}

	var benchDates []string
	for d := range benchMap {
		benchDates = append(benchDates, d)
	}
	sort.Strings(benchDates)
	benchAt := func(date string) (float64, bool) {
		if len(benchDates) == 0 {
			return 0, false
		}
		idx := sort.SearchStrings(benchDates, date)
		if idx < len(benchDates) && benchDates[idx] == date {
			return benchMap[date], true
		}
		if idx == 0 {
			return benchMap[benchDates[0]], true
		}
		return benchMap[benchDates[idx-1]], true
	}

	points := make([]Point, 0, len(data.dates))
	index := 1.0
	prev := 0.0
	base := data.nav[data.dates[0]]

	for i, d := range data.dates {
		nav := data.nav[d]
		dayPL := 0.0
		if i > 0 {
			dayPL = nav - prev
			if math.Abs(prev) > twrEpsilon {
				// External flows are not performance; strip them before linking
				index *= (nav - data.flow[d]) / prev
			}
		}
		prev = nav

		ret := 0.0
		if base > 0 {
			ret = nav/base - 1
		}

		bench := 0.0
		if bv, ok := benchAt(d); ok {
			bench = bv
		}

		points = append(points, Point{
			Date:  d,
			NAV:   formulas.Round(nav, 2),
			DayPL: formulas.Round(dayPL, 2),
			Ret:   formulas.Round(ret, 6),
			Bench: formulas.Round(bench, 2),
			TWR:   formulas.Round(index, 6),
		})
	}
	return points
}

// clipCalendar keeps benchmark dates on or after start
func clipCalendar(dates []string, start string) []string {
	idx := sort.SearchStrings(dates, start)
	if idx >= len(dates) {
		return nil
	}
	return dates[idx:]
}

// businessDays generates a Monday-Friday calendar when no benchmark
// series exists yet
func businessDays(start, end string) []string {
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil || to.Before(from) {
		return nil
	}

	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
