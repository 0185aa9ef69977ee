package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/pkg/model"
	pkgsecrets "github.com/Checker-Finance/quote-session/pkg/secrets"
)

func newTestClient(t *testing.T, h http.HandlerFunc, tokens TokenSource) *Account {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	if tokens == nil {
		tokens = StaticToken("test-token")
	}
	return NewClient(zap.NewNop(), nil, Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, tokens).ForAccount("acct-1")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func usdToBTC(amount string) model.TradeTrigger {
	return model.TradeTrigger{FromCoinID: "USD", ToCoinID: "BTC", Side: model.DriveFrom, Amount: decimal.RequireFromString(amount)}
}

// ─── RequestQuote ─────────────────────────────────────────────────────────────

func TestRequestQuote_Success(t *testing.T) {
	var body QuoteRequest
	a := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "acct-1", r.Header.Get("X-Account-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		writeJSON(w, http.StatusOK, map[string]any{
			"id":         "q-123",
			"fromCoinId": "usd",
			"toCoinId":   "btc",
			"price":      "50000.00",
			"fromAmount": "100",
			"toAmount":   "0.002",
			"cost":       "100.35",
			"proceeds":   "0.002",
			"expiry":     "2026-03-01T12:00:10Z",
		})
	}, nil)

	q, err := a.RequestQuote(context.Background(), usdToBTC("100"))
	require.NoError(t, err)

	assert.Equal(t, QuoteRequest{FromCoinID: "USD", ToCoinID: "BTC", FromAmount: "100"}, body)
	assert.Equal(t, "q-123", q.ID)
	assert.Equal(t, "USD", q.FromCoinID)
	assert.True(t, q.Cost.Equal(decimal.RequireFromString("100.35")))
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC), q.Expiry.UTC())
}

func TestRequestQuote_ToSideDrives(t *testing.T) {
	var body map[string]any
	a := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"id": "q", "expiry": 1772366410000})
	}, nil)

	trig := model.TradeTrigger{FromCoinID: "USD", ToCoinID: "BTC", Side: model.DriveTo, Amount: decimal.RequireFromString("0.5")}
	q, err := a.RequestQuote(context.Background(), trig)
	require.NoError(t, err)

	assert.Equal(t, "0.5", body["toAmount"])
	_, hasFrom := body["fromAmount"]
	assert.False(t, hasFrom)
	assert.Equal(t, int64(1772366410000), q.Expiry.UnixMilli())
}

func TestRequestQuote_RejectionCodes(t *testing.T) {
	cases := []struct {
		code   string
		status int
		want   error
	}{
		{CodeInsufficientFunds, http.StatusUnprocessableEntity, model.ErrInsufficientFunds},
		{CodePairUnavailable, http.StatusBadRequest, model.ErrPairUnavailable},
		{CodeBelowMinimum, http.StatusBadRequest, model.ErrBelowMinimum},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			a := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tc.status, ErrorResponse{Code: tc.code, Message: "nope"})
			}, nil)

			_, err := a.RequestQuote(context.Background(), usdToBTC("1"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)

			var me *model.Error
			require.ErrorAs(t, err, &me)
			assert.Equal(t, "nope", me.Message)
		})
	}
}

func TestRequestQuote_ServerErrorIsNetworkAndNotRetried(t *testing.T) {
	var calls atomic.Int32
	a := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := a.RequestQuote(context.Background(), usdToBTC("1"))
	assert.True(t, errors.Is(err, model.ErrNetwork), "got %v", err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRequestQuote_MalformedResponse(t *testing.T) {
	a := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "q", "price": "abc", "expiry": "2026-03-01T12:00:10Z"})
	}, nil)

	_, err := a.RequestQuote(context.Background(), usdToBTC("1"))
	assert.True(t, errors.Is(err, model.ErrUnknown), "got %v", err)
}

func TestRequestQuote_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	a := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, nil)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := a.RequestQuote(ctx, usdToBTC("1"))
	assert.True(t, errors.Is(err, model.ErrNetwork), "got %v", err)
}

// ─── AcceptQuote ──────────────────────────────────────────────────────────────

func TestAcceptQuote_Success(t *testing.T) {
	var path string
	a := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		assert.Empty(t, b)
		writeJSON(w, http.StatusOK, AcceptResponse{Success: true})
	}, nil)

	require.NoError(t, a.AcceptQuote(context.Background(), "q-1"))
	assert.Equal(t, "/quote/q-1/accept", path)
}

func TestAcceptQuote_ErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{CodeExpired, model.ErrQuoteExpired},
		{CodeAlreadyFilled, model.ErrAlreadyFilled},
		{CodeInsufficientFunds, model.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			a := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: tc.code})
			}, nil)
			err := a.AcceptQuote(context.Background(), "q-1")
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestAcceptQuote_Unconfirmed(t *testing.T) {
	a := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, AcceptResponse{Success: false, Message: "pending"})
	}, nil)
	err := a.AcceptQuote(context.Background(), "q-1")
	assert.True(t, errors.Is(err, model.ErrUnknown))
	assert.Contains(t, err.Error(), "pending")
}

// ─── GetBalances ──────────────────────────────────────────────────────────────

func TestGetBalances(t *testing.T) {
	a := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/balances", r.URL.Path)
		writeJSON(w, http.StatusOK, []BalanceEntry{
			{CoinID: "usd", Available: "1000.50", Held: "0"},
			{CoinID: "BTC", Available: "0.1", Held: "0.05"},
		})
	}, nil)

	bals, err := a.GetBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, bals, 2)
	assert.Equal(t, "USD", bals[0].CoinID)
	assert.Equal(t, "acct-1", bals[0].AccountID)
	assert.True(t, bals[1].Total().Equal(decimal.RequireFromString("0.15")))
}

// ─── Tokens ───────────────────────────────────────────────────────────────────

func TestSecretTokens_InvalidatedOnUnauthorized(t *testing.T) {
	provider := pkgsecrets.NewStaticProvider(map[string]map[string]string{
		"dev/acct-1/exchange": {"api_token": "old"},
	})
	tokens := NewSecretTokens(zap.NewNop(), "dev", provider, pkgsecrets.NewCache[Credentials](time.Hour))

	var seen []string
	a := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") == "Bearer old" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, []BalanceEntry{})
	}, tokens)

	_, err := a.GetBalances(context.Background())
	require.Error(t, err)

	provider.Set("dev/acct-1/exchange", map[string]string{"api_token": "new"})
	_, err = a.GetBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer old", "Bearer new"}, seen)
}

func TestStaticToken_Empty(t *testing.T) {
	_, err := StaticToken("").Token(context.Background(), "acct")
	assert.Error(t, err)
}

func TestParseCredentials(t *testing.T) {
	c, err := parseCredentials(map[string]string{"api_token": " abc "})
	require.NoError(t, err)
	assert.Equal(t, "abc", c.APIToken)

	_, err = parseCredentials(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_token")
}
