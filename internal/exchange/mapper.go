package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/quote-session/internal/httpclient"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

//
// ────────────────────────────────────────────────
//   Canonical → exchange
// ────────────────────────────────────────────────
//

// ToQuoteRequest builds the POST /quote body. Only the driving amount is sent.
func ToQuoteRequest(t model.TradeTrigger) QuoteRequest {
	req := QuoteRequest{
		FromCoinID: t.FromCoinID,
		ToCoinID:   t.ToCoinID,
	}
	if amt, ok := t.FromAmount(); ok {
		req.FromAmount = amt.String()
	} else if amt, ok := t.ToAmount(); ok {
		req.ToAmount = amt.String()
	}
	return req
}

//
// ────────────────────────────────────────────────
//   Exchange → canonical
// ────────────────────────────────────────────────
//

// FromQuoteResponse converts a quote payload, rejecting malformed numbers or a
// missing id or expiry.
func FromQuoteResponse(r *QuoteResponse) (*model.Quote, error) {
	if r.ID == "" {
		return nil, errors.New("quote response missing id")
	}
	if r.Expiry.IsZero() {
		return nil, fmt.Errorf("quote %s missing expiry", r.ID)
	}

	q := &model.Quote{
		ID:         r.ID,
		FromCoinID: strings.ToUpper(r.FromCoinID),
		ToCoinID:   strings.ToUpper(r.ToCoinID),
		Expiry:     r.Expiry.Time,
		Filled:     r.Filled,
		Expired:    r.Expired,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price", r.Price, &q.Price},
		{"fromAmount", r.FromAmount, &q.FromAmount},
		{"toAmount", r.ToAmount, &q.ToAmount},
		{"cost", r.Cost, &q.Cost},
		{"proceeds", r.Proceeds, &q.Proceeds},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.raw)
		if err != nil {
			return nil, fmt.Errorf("quote %s field %s: %w", r.ID, f.name, err)
		}
		*f.dst = d
	}
	return q, nil
}

// FromBalances converts GET /balances rows.
func FromBalances(accountID string, rows []BalanceEntry, now time.Time) ([]model.Balance, error) {
	out := make([]model.Balance, 0, len(rows))
	for _, row := range rows {
		avail, err := parseDecimal(row.Available)
		if err != nil {
			return nil, fmt.Errorf("balance %s available: %w", row.CoinID, err)
		}
		held, err := parseDecimal(row.Held)
		if err != nil {
			return nil, fmt.Errorf("balance %s held: %w", row.CoinID, err)
		}
		out = append(out, model.Balance{
			AccountID:   accountID,
			CoinID:      strings.ToUpper(row.CoinID),
			Available:   avail,
			Held:        held,
			LastUpdated: now,
		})
	}
	return out, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

//
// ────────────────────────────────────────────────
//   Errors
// ────────────────────────────────────────────────
//

// errorFromResponse maps a 4xx body to a typed error.
func errorFromResponse(op string, status int, body []byte) *model.Error {
	var er ErrorResponse
	_ = json.Unmarshal(body, &er)

	msg := er.Message
	if msg == "" && er.Code == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch strings.ToUpper(er.Code) {
	case CodeInsufficientFunds:
		return model.Rejected(model.ReasonInsufficientFunds, op, msg)
	case CodePairUnavailable:
		return model.Rejected(model.ReasonPairUnavailable, op, msg)
	case CodeBelowMinimum:
		return model.Rejected(model.ReasonBelowMinimum, op, msg)
	case CodeExpired:
		return &model.Error{Kind: model.KindQuoteExpired, Op: op, Message: msg}
	case CodeAlreadyFilled:
		return &model.Error{Kind: model.KindAlreadyFilled, Op: op, Message: msg}
	}

	switch status {
	case http.StatusGone:
		return &model.Error{Kind: model.KindQuoteExpired, Op: op, Message: msg}
	case http.StatusConflict:
		return &model.Error{Kind: model.KindAlreadyFilled, Op: op, Message: msg}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &model.Error{Kind: model.KindValidation, Op: op, Message: fmt.Sprintf("%d %s", status, msg)}
	}
	return &model.Error{Kind: model.KindUnknown, Op: op, Message: fmt.Sprintf("exchange returned %d: %s", status, msg)}
}

// classify turns anything the executor returns into a typed error.
func classify(op string, err error) *model.Error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return me
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		if se.Status >= 500 {
			return model.NewError(model.KindNetwork, op, err)
		}
		return errorFromResponse(op, se.Status, se.Body)
	}
	if errors.Is(err, httpclient.ErrTransport) {
		return model.NewError(model.KindNetwork, op, err)
	}
	return model.NewError(model.KindUnknown, op, err)
}
