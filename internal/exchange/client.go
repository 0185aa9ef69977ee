package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/internal/httpclient"
	"github.com/Checker-Finance/quote-session/internal/rate"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// Config holds the exchange connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client wraps HTTP communication with the exchange trading API.
// One Client serves every account; ForAccount binds the per-account token
// and rate limit key.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	tokens  TokenSource
	baseURL string
}

// NewClient constructs an exchange client. Quote and accept traffic is never
// retried automatically: a retried accept could double-execute.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, cfg Config, tokens TokenSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	exec := httpclient.New(logger, rateMgr, httpClient, 0, "exchange", func(status int, body []byte) error {
		var errResp ErrorResponse
		_ = json.Unmarshal(body, &errResp)
		logger.Warn("exchange.client_error",
			zap.Int("status", status),
			zap.String("code", errResp.Code),
			zap.String("message", errResp.Message))
		return &httpclient.StatusError{Status: status, Body: body}
	})
	return &Client{
		logger:  logger,
		exec:    exec,
		tokens:  tokens,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Account is the exchange API as seen by one account.
type Account struct {
	c  *Client
	id string
}

// ForAccount returns the API bound to accountID.
func (c *Client) ForAccount(accountID string) *Account {
	return &Account{c: c, id: accountID}
}

// ID returns the bound account.
func (a *Account) ID() string { return a.id }

// RequestQuote asks for an executable quote.
// POST /quote
func (a *Account) RequestQuote(ctx context.Context, t model.TradeTrigger) (*model.Quote, error) {
	const op = "exchange.quote"
	var resp QuoteResponse
	if err := a.c.do(ctx, a.id, http.MethodPost, "quote", "/quote", ToQuoteRequest(t), &resp); err != nil {
		return nil, classify(op, err)
	}
	q, err := FromQuoteResponse(&resp)
	if err != nil {
		return nil, &model.Error{Kind: model.KindUnknown, Op: op, Message: "malformed quote response", Err: err}
	}
	return q, nil
}

// AcceptQuote executes an issued quote.
// POST /quote/{id}/accept
func (a *Account) AcceptQuote(ctx context.Context, quoteID string) error {
	const op = "exchange.accept"
	var resp AcceptResponse
	path := "/quote/" + url.PathEscape(quoteID) + "/accept"
	if err := a.c.do(ctx, a.id, http.MethodPost, "accept", path, nil, &resp); err != nil {
		return classify(op, err)
	}
	if !resp.Success {
		return &model.Error{Kind: model.KindUnknown, Op: op, Message: "exchange did not confirm execution: " + resp.Message}
	}
	return nil
}

// GetBalances returns the account's balances.
// GET /balances
func (a *Account) GetBalances(ctx context.Context) ([]model.Balance, error) {
	const op = "exchange.balances"
	var rows []BalanceEntry
	if err := a.c.do(ctx, a.id, http.MethodGet, "balances", "/balances", nil, &rows); err != nil {
		return nil, classify(op, err)
	}
	balances, err := FromBalances(a.id, rows, time.Now().UTC())
	if err != nil {
		return nil, &model.Error{Kind: model.KindUnknown, Op: op, Message: "malformed balances response", Err: err}
	}
	return balances, nil
}

// Balances fetches balances for accountID. It lets the Client serve as the
// balances source for every account.
func (c *Client) Balances(ctx context.Context, accountID string) ([]model.Balance, error) {
	return c.ForAccount(accountID).GetBalances(ctx)
}

// do performs an authenticated request and decodes the JSON response.
func (c *Client) do(ctx context.Context, accountID, method, endpoint, path string, body, out any) error {
	token, err := c.tokens.Token(ctx, accountID)
	if err != nil {
		return fmt.Errorf("exchange: get auth token: %w", err)
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	var req *http.Request
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	setHeaders(req, token, accountID)

	err = c.exec.DoJSON(ctx, endpoint, req, accountID, out)
	if se, ok := asStatus(err); ok && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		if inv, ok := c.tokens.(Invalidator); ok {
			inv.Invalidate(accountID)
			c.logger.Warn("exchange.token_invalidated", zap.String("account", accountID))
		}
	}
	return err
}

func asStatus(err error) (*httpclient.StatusError, bool) {
	var se *httpclient.StatusError
	ok := errors.As(err, &se)
	return se, ok
}

// setHeaders sets required headers for exchange API requests.
func setHeaders(req *http.Request, bearerToken, accountID string) {
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
	}
}
