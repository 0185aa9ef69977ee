package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

//
// ────────────────────────────────────────────────
//   Quote Request / Response
// ────────────────────────────────────────────────
//

// QuoteRequest is the payload for POST /quote. Exactly one amount is set.
type QuoteRequest struct {
	FromCoinID string `json:"fromCoinId"`
	ToCoinID   string `json:"toCoinId"`
	FromAmount string `json:"fromAmount,omitempty"`
	ToAmount   string `json:"toAmount,omitempty"`
}

// QuoteResponse is the response from POST /quote. Amounts travel as strings.
type QuoteResponse struct {
	ID         string    `json:"id"`
	FromCoinID string    `json:"fromCoinId"`
	ToCoinID   string    `json:"toCoinId"`
	Price      string    `json:"price"`
	FromAmount string    `json:"fromAmount"`
	ToAmount   string    `json:"toAmount"`
	Cost       string    `json:"cost"`
	Proceeds   string    `json:"proceeds"`
	Expiry     Timestamp `json:"expiry"`
	Filled     bool      `json:"filled"`
	Expired    bool      `json:"expired"`
}

//
// ────────────────────────────────────────────────
//   Accept
// ────────────────────────────────────────────────
//

// AcceptResponse is the response from POST /quote/{id}/accept.
type AcceptResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

//
// ────────────────────────────────────────────────
//   Balances
// ────────────────────────────────────────────────
//

// BalanceEntry is one row of GET /balances.
type BalanceEntry struct {
	CoinID    string `json:"coinId"`
	Available string `json:"available"`
	Held      string `json:"held"`
}

//
// ────────────────────────────────────────────────
//   Errors
// ────────────────────────────────────────────────
//

// Error codes returned in ErrorResponse.Code.
const (
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodePairUnavailable   = "PAIR_UNAVAILABLE"
	CodeBelowMinimum      = "BELOW_MINIMUM"
	CodeExpired           = "EXPIRED"
	CodeAlreadyFilled     = "ALREADY_FILLED"
)

// ErrorResponse is the body of every 4xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Timestamp decodes either an RFC3339 string or a number of epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid epoch millis %s: %w", b, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
