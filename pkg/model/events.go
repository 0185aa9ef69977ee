package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Envelope is the canonical event envelope published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	AccountID     string          `json:"account_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// QuoteEvent is the payload of quote lifecycle events.
type QuoteEvent struct {
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id,omitempty"`
	State     State     `json:"state"`
	Quote     *Quote    `json:"quote,omitempty"`
	Error     *Error    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Balance is the cached balance of one coin on one account.
type Balance struct {
	AccountID   string          `json:"account_id"`
	CoinID      string          `json:"coin_id"`
	Available   decimal.Decimal `json:"available"`
	Held        decimal.Decimal `json:"held"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Total returns available plus held.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Held)
}

// TradeRecord is an executed quote as persisted in the trade log.
type TradeRecord struct {
	QuoteID    string          `json:"quote_id"`
	SessionID  string          `json:"session_id"`
	AccountID  string          `json:"account_id"`
	Mode       TradeMode       `json:"mode"`
	FromCoinID string          `json:"from_coin_id"`
	ToCoinID   string          `json:"to_coin_id"`
	Price      decimal.Decimal `json:"price"`
	FromAmount decimal.Decimal `json:"from_amount"`
	ToAmount   decimal.Decimal `json:"to_amount"`
	Cost       decimal.Decimal `json:"cost"`
	Proceeds   decimal.Decimal `json:"proceeds"`
	ExecutedAt time.Time       `json:"executed_at"`
}

func NewUUID() uuid.UUID {
	return uuid.New()
}
