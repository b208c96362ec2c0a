package instruments

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OSI compact format: underlying (1-6 chars), YYMMDD expiry, C/P flag,
// strike in thousandths padded to 8 digits. e.g. AAPL250117C00150000
var osiPattern = regexp.MustCompile(`^([A-Z0-9]{1,6})(\d{6})([CP])(\d{8})$`)

// OptionFields holds the decoded contract terms of an OSI symbol
type OptionFields struct {
	Underlying string
	Expiry     string // YYYY-MM-DD
	OptionType string // C or P
	Strike     float64
}

// IsOSI reports whether a symbol parses as an OSI option symbol
func IsOSI(symbol string) bool {
	return osiPattern.MatchString(strings.ToUpper(strings.TrimSpace(symbol)))
}

// ParseOSI decodes an OSI option symbol into its contract fields
func ParseOSI(symbol string) (OptionFields, error) {
	m := osiPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(symbol)))
	if m == nil {
		return OptionFields{}, fmt.Errorf("not an OSI option symbol: %q", symbol)
	}

	yymmdd := m[2]
	expiry := fmt.Sprintf("20%s-%s-%s", yymmdd[0:2], yymmdd[2:4], yymmdd[4:6])
	if _, err := time.Parse("2006-01-02", expiry); err != nil {
		return OptionFields{}, fmt.Errorf("invalid expiry in option symbol %q: %w", symbol, err)
	}

	thousandths, err := strconv.Atoi(m[4])
	if err != nil {
		return OptionFields{}, fmt.Errorf("invalid strike in option symbol %q: %w", symbol, err)
	}

	return OptionFields{
		Underlying: m[1],
		Expiry:     expiry,
		OptionType: m[3],
		Strike:     float64(thousandths) / 1000.0,
	}, nil
}

// BuildOSI encodes contract terms into an OSI option symbol.
// Strikes are stored in integer thousandths, so any strike with at most
// three decimals round-trips exactly.
func BuildOSI(underlying, expiry, optionType string, strike float64) (string, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" || len(underlying) > 6 {
		return "", fmt.Errorf("invalid underlying: %q", underlying)
	}

	exp, err := parseExpiry(expiry)
	if err != nil {
		return "", err
	}

	optionType = strings.ToUpper(strings.TrimSpace(optionType))
	switch optionType {
	case "C", "CALL":
		optionType = "C"
	case "P", "PUT":
		optionType = "P"
	default:
		return "", fmt.Errorf("invalid option type: %q", optionType)
	}

	if strike < 0 {
		return "", fmt.Errorf("invalid strike: %f", strike)
	}

	return fmt.Sprintf("%s%s%s%08d",
		underlying,
		exp.Format("060102"),
		optionType,
		int(math.Round(strike*1000)),
	), nil
}

// NormalizeOptionFields resolves an option either from a ready OSI symbol
// or from its individual contract terms, returning the canonical symbol
// plus decoded fields.
func NormalizeOptionFields(symbol, underlying, expiry, optionType string, strike float64) (string, OptionFields, error) {
	if IsOSI(symbol) {
		fields, err := ParseOSI(symbol)
		if err != nil {
			return "", OptionFields{}, err
		}
		return strings.ToUpper(strings.TrimSpace(symbol)), fields, nil
	}

	if underlying == "" {
		underlying = symbol
	}
	osi, err := BuildOSI(underlying, expiry, optionType, strike)
	if err != nil {
		return "", OptionFields{}, fmt.Errorf("failed to build option symbol: %w", err)
	}

	fields, err := ParseOSI(osi)
	if err != nil {
		return "", OptionFields{}, err
	}
	return osi, fields, nil
}

// parseExpiry accepts the date formats import feeds actually send
func parseExpiry(expiry string) (time.Time, error) {
	expiry = strings.TrimSpace(expiry)
	for _, layout := range []string{"2006-01-02", "01-02-2006", "01/02/2006"} {
		if t, err := time.Parse(layout, expiry); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expiry date: %q", expiry)
}
