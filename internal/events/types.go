package events

import (
	"github.com/shopspring/decimal"

	"papertrade-core/pkg/db"
)

// Event enumerates topics published on the bus.
type Event string

const (
	EventTradeOpened Event = "trade.opened"
	EventTradeClosed Event = "trade.closed"
)

// TradeEvent is the payload of trade.opened and trade.closed.
type TradeEvent struct {
	Type      Event  `json:"type"`
	AccountID string `json:"account_id"`
	Lot       db.Lot `json:"lot"`
	// Set on close only.
	RemainingQuantity *decimal.Decimal `json:"remaining_quantity,omitempty"`
	FullyClosed       bool             `json:"fully_closed,omitempty"`
}
