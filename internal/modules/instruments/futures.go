package instruments

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Standard futures month codes
var monthCodes = map[byte]int{
	'F': 1, 'G': 2, 'H': 3, 'J': 4, 'K': 5, 'M': 6,
	'N': 7, 'Q': 8, 'U': 9, 'V': 10, 'X': 11, 'Z': 12,
}

// contractSpec describes a futures root
type contractSpec struct {
	Name       string
	Multiplier float64
}

// Per-root contract specs. Unknown roots fall back to multiplier 1 so an
// unrecognized contract degrades to notional-per-point accounting instead
// of failing.
var contractSpecs = map[string]contractSpec{
	"GC":  {Name: "Gold", Multiplier: 100},
	"MGC": {Name: "Micro Gold", Multiplier: 10},
	"QO":  {Name: "E-mini Gold", Multiplier: 50},
	"1OZ": {Name: "1-Ounce Gold", Multiplier: 1},
	"SI":  {Name: "Silver", Multiplier: 5000},
	"HG":  {Name: "Copper", Multiplier: 25000},
	"CL":  {Name: "Crude Oil", Multiplier: 1000},
	"NG":  {Name: "Natural Gas", Multiplier: 10000},
	"ES":  {Name: "E-mini S&P 500", Multiplier: 50},
	"NQ":  {Name: "E-mini Nasdaq-100", Multiplier: 20},
	"YM":  {Name: "E-mini Dow", Multiplier: 5},
	"RTY": {Name: "E-mini Russell 2000", Multiplier: 50},
}

var futurePattern = regexp.MustCompile(`^/?([A-Z0-9]{1,4}?)([FGHJKMNQUVXZ])(\d{1,2})$`)

// FutureFields holds the decoded terms of a futures contract symbol
type FutureFields struct {
	Root       string
	MonthCode  string
	Month      int
	Year       int
	Expiry     string // first of the contract month, YYYY-MM-DD
	Multiplier float64
}

// ParseFutureSymbol decodes a futures symbol like GCZ25 or /ESH6.
// Two-digit years below 70 map to 20xx, the rest to 19xx.
func ParseFutureSymbol(symbol string) (FutureFields, error) {
	m := futurePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(symbol)))
	if m == nil {
		return FutureFields{}, fmt.Errorf("not a futures symbol: %q", symbol)
	}

	root := m[1]
	month := monthCodes[m[2][0]]

	yy, err := strconv.Atoi(m[3])
	if err != nil {
		return FutureFields{}, fmt.Errorf("invalid year in futures symbol %q: %w", symbol, err)
	}
	if len(m[3]) == 1 {
		// Single-digit year resolves within the current decade
		yy += 20
	}
	year := 1900 + yy
	if yy < 70 {
		year = 2000 + yy
	}

	return FutureFields{
		Root:       root,
		MonthCode:  m[2],
		Month:      month,
		Year:       year,
		Expiry:     fmt.Sprintf("%04d-%02d-01", year, month),
		Multiplier: FutureMultiplier(root),
	}, nil
}

// FutureMultiplier returns the contract multiplier for a futures symbol
// or bare root
func FutureMultiplier(symbol string) float64 {
	root := strings.ToUpper(strings.TrimSpace(symbol))
	if fut, err := ParseFutureSymbol(root); err == nil {
		root = fut.Root
	}
	if spec, ok := contractSpecs[root]; ok {
		return spec.Multiplier
	}
	return 1
}

// FutureSpecName returns the human name for a known root, or the root
// itself
func FutureSpecName(root string) string {
	if spec, ok := contractSpecs[strings.ToUpper(root)]; ok {
		return spec.Name
	}
	return strings.ToUpper(root)
}
