package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeMode is the focus of the trading widget.
type TradeMode string

const (
	ModeBuy     TradeMode = "buy"
	ModeSell    TradeMode = "sell"
	ModeConvert TradeMode = "convert"
)

// WidgetContext carries the widget focus and coin selection a session is opened with.
// Coins given here are the defaults for triggers that omit them.
type WidgetContext struct {
	AccountID  string    `json:"accountId,omitempty"`
	Mode       TradeMode `json:"mode"`
	FromCoinID string    `json:"fromCoinId,omitempty"`
	ToCoinID   string    `json:"toCoinId,omitempty"`
}

// TriggerInput is the raw user input before normalization.
// A nil or blank amount means the field is empty.
type TriggerInput struct {
	FromCoinID string  `json:"fromCoinId"`
	ToCoinID   string  `json:"toCoinId"`
	FromAmount *string `json:"fromAmount,omitempty"`
	ToAmount   *string `json:"toAmount,omitempty"`
}

// DrivingSide names which amount of a trigger drives the quote.
type DrivingSide string

const (
	DriveFrom DrivingSide = "from"
	DriveTo   DrivingSide = "to"
)

// TradeTrigger is the normalized intent that a quote is requested for.
// Exactly one side's amount is set.
type TradeTrigger struct {
	FromCoinID string          `json:"fromCoinId"`
	ToCoinID   string          `json:"toCoinId"`
	Side       DrivingSide     `json:"side"`
	Amount     decimal.Decimal `json:"amount"`
}

// FromAmount returns the driving amount when the from side drives.
func (t TradeTrigger) FromAmount() (decimal.Decimal, bool) {
	return t.Amount, t.Side == DriveFrom
}

// ToAmount returns the driving amount when the to side drives.
func (t TradeTrigger) ToAmount() (decimal.Decimal, bool) {
	return t.Amount, t.Side == DriveTo
}

// Quote is a server-issued, time-bounded price offer. It is never mutated after receipt.
type Quote struct {
	ID         string          `json:"id"`
	FromCoinID string          `json:"fromCoinId"`
	ToCoinID   string          `json:"toCoinId"`
	Price      decimal.Decimal `json:"price"`
	FromAmount decimal.Decimal `json:"fromAmount"`
	ToAmount   decimal.Decimal `json:"toAmount"`
	Cost       decimal.Decimal `json:"cost"`
	Proceeds   decimal.Decimal `json:"proceeds"`
	Expiry     time.Time       `json:"expiry"`
	Filled     bool            `json:"filled"`
	Expired    bool            `json:"expired"`
}

// ExpiredAt reports whether the quote is past its expiry at now.
func (q *Quote) ExpiredAt(now time.Time) bool {
	return q.Expired || !now.Before(q.Expiry)
}

// State is a quote session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateSoliciting State = "soliciting"
	StateQuoted     State = "quoted"
	StateAccepting  State = "accepting"
	StateAccepted   State = "accepted"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
)
