package instruments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOSI(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		underlying string
		expiry     string
		optionType string
		strike     float64
		wantErr    bool
	}{
		{
			name:       "standard call",
			symbol:     "AAPL250117C00150000",
			underlying: "AAPL",
			expiry:     "2025-01-17",
			optionType: "C",
			strike:     150,
		},
		{
			name:       "put with fractional strike",
			symbol:     "SPY260320P00412500",
			underlying: "SPY",
			expiry:     "2026-03-20",
			optionType: "P",
			strike:     412.5,
		},
		{
			name:       "single char underlying",
			symbol:     "F251219C00012000",
			underlying: "F",
			expiry:     "2025-12-19",
			optionType: "C",
			strike:     12,
		},
		{
			name:    "plain equity symbol",
			symbol:  "AAPL",
			wantErr: true,
		},
		{
			name:    "bad expiry date",
			symbol:  "AAPL251340C00150000",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOSI(tt.symbol)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.underlying, got.Underlying)
			assert.Equal(t, tt.expiry, got.Expiry)
			assert.Equal(t, tt.optionType, got.OptionType)
			assert.InDelta(t, tt.strike, got.Strike, 1e-9)
		})
	}
}

func TestBuildOSIRoundTrip(t *testing.T) {
	// Any strike with at most three decimals must round-trip exactly
	strikes := []float64{1, 12.5, 150, 412.5, 0.125, 99999.999}

	for _, strike := range strikes {
		symbol, err := BuildOSI("AAPL", "2025-01-17", "CALL", strike)
		require.NoError(t, err)

		fields, err := ParseOSI(symbol)
		require.NoError(t, err)
		assert.Equal(t, strike, fields.Strike, "strike round-trip for %v", strike)
		assert.Equal(t, "2025-01-17", fields.Expiry)
	}
}

func TestBuildOSIExpiryFormats(t *testing.T) {
	for _, expiry := range []string{"2025-01-17", "01-17-2025", "01/17/2025"} {
		symbol, err := BuildOSI("MSFT", expiry, "P", 300)
		require.NoError(t, err)
		assert.Equal(t, "MSFT250117P00300000", symbol)
	}
}

func TestNormalizeOptionFields(t *testing.T) {
	// Ready OSI symbol passes through
	symbol, fields, err := NormalizeOptionFields("aapl250117c00150000", "", "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "AAPL250117C00150000", symbol)
	assert.Equal(t, "AAPL", fields.Underlying)

	// Individual terms are assembled
	symbol, fields, err = NormalizeOptionFields("", "TSLA", "2025-06-20", "PUT", 200)
	require.NoError(t, err)
	assert.Equal(t, "TSLA250620P00200000", symbol)
	assert.Equal(t, 200.0, fields.Strike)

	_, _, err = NormalizeOptionFields("", "TSLA", "not-a-date", "P", 200)
	require.Error(t, err)
}

func TestIsOSI(t *testing.T) {
	assert.True(t, IsOSI("AAPL250117C00150000"))
	assert.False(t, IsOSI("AAPL"))
	assert.False(t, IsOSI("GCZ25"))
}
