package instruments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFutureSymbol(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		root       string
		month      int
		year       int
		expiry     string
		multiplier float64
		wantErr    bool
	}{
		{
			name:       "gold december",
			symbol:     "GCZ25",
			root:       "GC",
			month:      12,
			year:       2025,
			expiry:     "2025-12-01",
			multiplier: 100,
		},
		{
			name:       "leading slash",
			symbol:     "/ESH26",
			root:       "ES",
			month:      3,
			year:       2026,
			expiry:     "2026-03-01",
			multiplier: 50,
		},
		{
			name:       "micro gold",
			symbol:     "MGCM25",
			root:       "MGC",
			month:      6,
			year:       2025,
			expiry:     "2025-06-01",
			multiplier: 10,
		},
		{
			name:       "old year maps to 19xx",
			symbol:     "CLF99",
			root:       "CL",
			month:      1,
			year:       1999,
			expiry:     "1999-01-01",
			multiplier: 1000,
		},
		{
			name:       "unknown root falls back to multiplier 1",
			symbol:     "ZZZH25",
			root:       "ZZZ",
			month:      3,
			year:       2025,
			expiry:     "2025-03-01",
			multiplier: 1,
		},
		{
			name:    "equity symbol",
			symbol:  "AAPL",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFutureSymbol(tt.symbol)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.root, got.Root)
			assert.Equal(t, tt.month, got.Month)
			assert.Equal(t, tt.year, got.Year)
			assert.Equal(t, tt.expiry, got.Expiry)
			assert.Equal(t, tt.multiplier, got.Multiplier)
		})
	}
}

func TestFutureMultiplier(t *testing.T) {
	assert.Equal(t, 100.0, FutureMultiplier("GC"))
	assert.Equal(t, 100.0, FutureMultiplier("GCZ25"))
	assert.Equal(t, 5000.0, FutureMultiplier("SIH26"))
	assert.Equal(t, 1.0, FutureMultiplier("UNKNOWN"))
}

func TestMultiplierByClass(t *testing.T) {
	assert.Equal(t, 1.0, Multiplier("AAPL", Equity))
	assert.Equal(t, 100.0, Multiplier("AAPL250117C00150000", Option))
	assert.Equal(t, 100.0, Multiplier("GCZ25", Future))
}

func TestDerive(t *testing.T) {
	inst := Derive("AAPL250117C00150000", Option)
	assert.Equal(t, "AAPL250117C00150000:OPTION", inst.ID)
	assert.Equal(t, "AAPL", inst.Underlying)
	assert.Equal(t, "2025-01-17", inst.Expiry)
	assert.Equal(t, 150.0, inst.Strike)
	assert.Equal(t, 100.0, inst.Multiplier)

	inst = Derive("gcz25", Future)
	assert.Equal(t, "GCZ25:FUTURE", inst.ID)
	assert.Equal(t, "GC", inst.Underlying)
	assert.Equal(t, "2025-12-01", inst.Expiry)
	assert.Equal(t, 100.0, inst.Multiplier)

	inst = Derive("msft", Equity)
	assert.Equal(t, "MSFT:EQUITY", inst.ID)
	assert.Equal(t, 1.0, inst.Multiplier)
}

func TestSplitID(t *testing.T) {
	symbol, class, err := SplitID("AAPL:EQUITY")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", symbol)
	assert.Equal(t, Equity, class)

	symbol, class, err = SplitID("GCZ25:FUT")
	require.NoError(t, err)
	assert.Equal(t, "GCZ25", symbol)
	assert.Equal(t, Future, class)

	// Bare symbol defaults to equity
	symbol, class, err = SplitID("MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", symbol)
	assert.Equal(t, Equity, class)

	_, _, err = SplitID("MSFT:WIDGET")
	require.Error(t, err)
}
