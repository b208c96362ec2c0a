package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	TradeApplied   EventType = "TRADE_APPLIED"
	TradeRejected  EventType = "TRADE_REJECTED"
	TradeCancelled EventType = "TRADE_CANCELLED"
	TradeReplaced  EventType = "TRADE_REPLACED"
	ErrorOccurred  EventType = "ERROR_OCCURRED"

	// Position events
	PositionUpserted EventType = "POSITION_UPSERTED"
	PositionDeleted  EventType = "POSITION_DELETED"
	OptionExpired    EventType = "OPTION_EXPIRED"

	// Cash events
	CashFlowRecorded EventType = "CASH_FLOW_RECORDED"
	BalanceSet       EventType = "BALANCE_SET"

	// Pricing and NAV events
	PriceRefreshComplete EventType = "PRICE_REFRESH_COMPLETE"
	HistoryBackfilled    EventType = "HISTORY_BACKFILLED"
	NavRebuilt           EventType = "NAV_REBUILT"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission and logging
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	// Log event
	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
