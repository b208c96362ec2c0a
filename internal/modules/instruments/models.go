package instruments

import (
	"fmt"
	"strings"
)

// AssetClass is the closed set of instrument kinds the ledger handles.
// Every switch over AssetClass must cover all three members.
type AssetClass string

const (
	Equity AssetClass = "EQUITY"
	Option AssetClass = "OPTION"
	Future AssetClass = "FUTURE"
)

// ParseAssetClass normalizes a class label, accepting the short aliases
// used by import feeds.
func ParseAssetClass(s string) (AssetClass, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EQUITY", "EQ", "STOCK":
		return Equity, nil
	case "OPTION", "OPT":
		return Option, nil
	case "FUTURE", "FUT":
		return Future, nil
	default:
		return "", fmt.Errorf("unknown asset class: %q", s)
	}
}

// IsValid reports whether the class is a member of the closed set
func (c AssetClass) IsValid() bool {
	switch c {
	case Equity, Option, Future:
		return true
	}
	return false
}

// Instrument is one row of the instrument reference table.
// ID is "<SYMBOL>:<CLASS>", e.g. "AAPL:EQUITY".
type Instrument struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
	Underlying string     `json:"underlying,omitempty"`
	Expiry     string     `json:"expiry,omitempty"` // YYYY-MM-DD
	Strike     float64    `json:"strike,omitempty"`
	OptionType string     `json:"option_type,omitempty"` // C or P
	Multiplier float64    `json:"multiplier"`
	Exchange   string     `json:"exchange,omitempty"`
	Currency   string     `json:"currency,omitempty"`
}

// InstrumentID builds the canonical instrument id for a symbol and class
func InstrumentID(symbol string, class AssetClass) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(strings.TrimSpace(symbol)), class)
}

// SplitID splits an instrument id back into symbol and class.
// Falls back to EQUITY when the id carries no class suffix.
func SplitID(id string) (string, AssetClass, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if idx := strings.LastIndex(id, ":"); idx >= 0 {
		class, err := ParseAssetClass(id[idx+1:])
		if err != nil {
			return "", "", fmt.Errorf("invalid instrument id %q: %w", id, err)
		}
		return id[:idx], class, nil
	}
	return id, Equity, nil
}

// Multiplier returns the contract multiplier for a symbol of the given
// class: options are 100-share contracts, futures use the spec table,
// everything else is 1.
func Multiplier(symbol string, class AssetClass) float64 {
	switch class {
	case Option:
		return 100
	case Future:
		return FutureMultiplier(symbol)
	case Equity:
		return 1
	}
	return 1
}

// Derive builds the full Instrument record from a raw symbol and class,
// decoding option and future symbols into their contract fields.
func Derive(symbol string, class AssetClass) Instrument {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	inst := Instrument{
		ID:         InstrumentID(symbol, class),
		Symbol:     symbol,
		AssetClass: class,
		Multiplier: Multiplier(symbol, class),
		Currency:   "USD",
	}

	switch class {
	case Option:
		if opt, err := ParseOSI(symbol); err == nil {
			inst.Underlying = opt.Underlying
			inst.Expiry = opt.Expiry
			inst.Strike = opt.Strike
			inst.OptionType = opt.OptionType
		}
	case Future:
		if fut, err := ParseFutureSymbol(symbol); err == nil {
			inst.Underlying = fut.Root
			inst.Expiry = fut.Expiry
		}
	case Equity:
		inst.Underlying = symbol
	}

	return inst
}
