package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		in       []Close
		maxJump  float64
		expected []Close
	}{
		{
			name: "clean series passes through",
			in: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 101},
			},
			maxJump: MaxDailyJumpStock,
			expected: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 101},
			},
		},
		{
			name: "non-positive closes dropped",
			in: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 0},
				{Date: "2025-01-06", Close: -5},
				{Date: "2025-01-07", Close: 102},
			},
			maxJump: MaxDailyJumpStock,
			expected: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-07", Close: 102},
			},
		},
		{
			name: "corrupt spike forward-filled",
			in: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 900}, // 9x print
				{Date: "2025-01-06", Close: 101},
			},
			maxJump: MaxDailyJumpStock,
			expected: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 100},
				{Date: "2025-01-06", Close: 101},
			},
		},
		{
			name: "bench threshold is tighter",
			in: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 140}, // +40% fine for a stock, not a benchmark
			},
			maxJump: MaxDailyJumpBench,
			expected: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 100},
			},
		},
		{
			name: "unsorted input sorted by date",
			in: []Close{
				{Date: "2025-01-03", Close: 101},
				{Date: "2025-01-02", Close: 100},
			},
			maxJump: MaxDailyJumpStock,
			expected: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-03", Close: 101},
			},
		},
		{
			name: "duplicate dates keep later write",
			in: []Close{
				{Date: "2025-01-02", Close: 100},
				{Date: "2025-01-02", Close: 105},
			},
			maxJump:  MaxDailyJumpStock,
			expected: []Close{{Date: "2025-01-02", Close: 105}},
		},
		{
			name:     "NaN dropped",
			in:       []Close{{Date: "2025-01-02", Close: math.NaN()}},
			maxJump:  MaxDailyJumpStock,
			expected: []Close{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in, tt.maxJump)
			require.Len(t, got, len(tt.expected))
			for i := range tt.expected {
				assert.Equal(t, tt.expected[i].Date, got[i].Date)
				assert.InDelta(t, tt.expected[i].Close, got[i].Close, 1e-9)
			}
		})
	}
}

func TestIsCorrupt(t *testing.T) {
	clean := []Close{
		{Date: "2025-01-02", Close: 100},
		{Date: "2025-01-03", Close: 102},
	}
	assert.False(t, IsCorrupt(clean, MaxDailyJumpStock))

	spike := []Close{
		{Date: "2025-01-02", Close: 100},
		{Date: "2025-01-03", Close: 300},
	}
	assert.True(t, IsCorrupt(spike, MaxDailyJumpStock))

	nonPositive := []Close{{Date: "2025-01-02", Close: 0}}
	assert.True(t, IsCorrupt(nonPositive, MaxDailyJumpStock))
}

func TestIsOptionSymbol(t *testing.T) {
	assert.True(t, isOptionSymbol("AAPL250117C00150000"))
	assert.False(t, isOptionSymbol("AAPL"))
	assert.False(t, isOptionSymbol("^GSPC"))
}
