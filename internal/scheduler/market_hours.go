package scheduler

import (
	"time"

	"github.com/rs/zerolog"
)

// TradingWindow is a single trading period within a day
type TradingWindow struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// MarketHoursService answers whether US equity markets are trading.
// Closes are end-of-day data, so this only gates live quote snapshots.
type MarketHoursService struct {
	timezone *time.Location
	window   TradingWindow
	holidays []time.Time
	log      zerolog.Logger
}

// NewMarketHoursService creates a market hours service with the NYSE
// calendar
func NewMarketHoursService(log zerolog.Logger) *MarketHoursService {
	nyLoc, err := time.LoadLocation("America/New_York")
	if err != nil {
		nyLoc = time.UTC
	}

	return &MarketHoursService{
		timezone: nyLoc,
		window:   TradingWindow{OpenHour: 9, OpenMinute: 30, CloseHour: 16, CloseMinute: 0},
		holidays: []time.Time{
			time.Date(2026, 1, 1, 0, 0, 0, 0, nyLoc),   // New Year's Day
			time.Date(2026, 1, 19, 0, 0, 0, 0, nyLoc),  // MLK Day
			time.Date(2026, 2, 16, 0, 0, 0, 0, nyLoc),  // Presidents Day
			time.Date(2026, 4, 3, 0, 0, 0, 0, nyLoc),   // Good Friday
			time.Date(2026, 5, 25, 0, 0, 0, 0, nyLoc),  // Memorial Day
			time.Date(2026, 6, 19, 0, 0, 0, 0, nyLoc),  // Juneteenth
			time.Date(2026, 7, 3, 0, 0, 0, 0, nyLoc),   // Independence Day (observed)
			time.Date(2026, 9, 7, 0, 0, 0, 0, nyLoc),   // Labor Day
			time.Date(2026, 11, 26, 0, 0, 0, 0, nyLoc), // Thanksgiving
			time.Date(2026, 12, 25, 0, 0, 0, 0, nyLoc), // Christmas
		},
		log: log.With().Str("component", "market_hours").Logger(),
	}
}

// IsMarketOpen checks whether the market is currently trading
func (s *MarketHoursService) IsMarketOpen() bool {
	now := time.Now().In(s.timezone)

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.timezone)
	for _, holiday := range s.holidays {
		if holiday.Equal(today) {
			return false
		}
	}

	currentMinutes := now.Hour()*60 + now.Minute()
	openMinutes := s.window.OpenHour*60 + s.window.OpenMinute
	closeMinutes := s.window.CloseHour*60 + s.window.CloseMinute

	return currentMinutes >= openMinutes && currentMinutes < closeMinutes
}
