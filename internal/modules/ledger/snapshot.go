package ledger

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/navledger/internal/modules/instruments"
	"github.com/aristath/navledger/pkg/formulas"
)

// Snapshot builds the live state of an account (or the ALL aggregate):
// positions marked to the freshest price, day and total P&L, cash and
// buying power. Expired options are swept first so a snapshot never
// shows a dead contract as open.
func (s *Service) Snapshot(account string) (AccountSnapshot, error) {
	account = NormalizeAccount(account)
	if account == "" {
		account = AllAccounts
	}

	if _, err := s.CloseExpiredOptions(account); err != nil {
		return AccountSnapshot{}, err
	}

	positions, err := s.positions.ListByAccount(account)
	if err != nil {
		return AccountSnapshot{}, err
	}

	cash, err := s.CashBalance(account)
	if err != nil {
		return AccountSnapshot{}, err
	}

	todayStr := today()
	quality := DataQuality{Positions: len(positions)}

	grossMV, netMV := 0.0, 0.0
	dayPnL, unrealized := 0.0, 0.0
	views := make([]PositionView, 0, len(positions))

	for _, pos := range positions {
		symbol := pos.Symbol()
		class := pos.AssetClass()
		mult := instruments.Multiplier(symbol, class)

		last := 0.0
		if s.pricing != nil {
			if px, ok := s.pricing.LastPrice(symbol); ok && px > 0 {
				last = px
			}
		}
		if last == 0 {
			quality.MissingMarks++
			last = pos.Price
			if last == 0 {
				last = pos.AvgCost
			}
			quality.StaleFallback++
		}

		prevClose := last
		if s.pricing != nil {
			if px, ok, err := s.pricing.Store().PrevClose(symbol, todayStr); err == nil && ok && px > 0 {
				prevClose = px
			}
		}

		mv := math.Abs(pos.Qty) * last * mult
		grossMV += mv
		netMV += pos.Qty * last * mult

		posDay := pos.Qty * (last - prevClose) * mult
		posUnreal := pos.Qty * (last - pos.AvgCost) * mult
		dayPnL += posDay
		unrealized += posUnreal

		views = append(views, PositionView{
			Position:     pos,
			Symbol:       symbol,
			AssetClass:   string(class),
			Last:         formulas.Round(last, 4),
			PrevClose:    formulas.Round(prevClose, 4),
			Multiplier:   mult,
			DayPnL:       formulas.Round(posDay, 2),
			UnrealizedPL: formulas.Round(posUnreal, 2),
		})
	}

	for i := range views {
		if grossMV > 0 {
			views[i].Weight = formulas.Round(math.Abs(views[i].Qty)*views[i].Last*views[i].Multiplier/grossMV*100, 2)
		}
	}
	sort.Slice(views, func(i, j int) bool {
		return math.Abs(views[i].Qty)*views[i].Last*views[i].Multiplier >
			math.Abs(views[j].Qty)*views[j].Last*views[j].Multiplier
	})

	realized, err := s.trades.SumRealized(account)
	if err != nil {
		return AccountSnapshot{}, err
	}

	nlv := cash + grossMV
	if account != AllAccounts {
		if acc, err := s.accounts.Get(account); err == nil && acc != nil && acc.AccountValue != nil {
			// Static accounts report their stated value, not the
			// reconstructed one
			nlv = *acc.AccountValue
		}
	}

	buyingPower, err := s.cashAvailable(account)
	if err != nil {
		return AccountSnapshot{}, err
	}

	netExposure := 0.0
	if grossMV > 0 {
		netExposure = netMV / grossMV
	}

	return AccountSnapshot{
		Account:      account,
		AsOf:         time.Now().UTC().Format(time.RFC3339),
		NLV:          formulas.Round(nlv, 2),
		Cash:         formulas.Round(cash, 2),
		BuyingPower:  formulas.Round(buyingPower, 2),
		GrossMV:      formulas.Round(grossMV, 2),
		NetMV:        formulas.Round(netMV, 2),
		NetExposure:  formulas.Round(netExposure, 4),
		DayPnL:       formulas.Round(dayPnL, 2),
		UnrealizedPL: formulas.Round(unrealized, 2),
		RealizedPL:   formulas.Round(realized, 2),
		TotalPnL:     formulas.Round(unrealized+realized, 2),
		Positions:    views,
		DataQuality:  quality,
	}, nil
}
