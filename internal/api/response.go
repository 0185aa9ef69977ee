package api

import (
	"github.com/Checker-Finance/quote-session/internal/quote"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// SessionResponse is returned when a session is opened.
type SessionResponse struct {
	SessionID string     `json:"sessionId"`
	View      quote.View `json:"view"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Kind   model.ErrorKind `json:"kind,omitempty"`
	Reason model.Reason    `json:"reason,omitempty"`
}

// BalancesResponse lists an account's cached balances.
type BalancesResponse struct {
	AccountID string          `json:"accountId"`
	Balances  []model.Balance `json:"balances"`
}
