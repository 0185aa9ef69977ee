package hooks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/internal/publisher"
	"github.com/Checker-Finance/quote-session/internal/quote"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// BalanceRefresher refetches an account's balances.
type BalanceRefresher interface {
	Refetch(ctx context.Context, accountID, trigger string) error
}

// TradeRecorder persists executed quotes.
type TradeRecorder interface {
	Record(ctx context.Context, r model.TradeRecord) (bool, error)
}

// EventPublisher publishes quote lifecycle events.
type EventPublisher interface {
	PublishQuoteEvent(ctx context.Context, subject, eventType, correlationID string, ev model.QuoteEvent) error
}

// BalanceRefetch invalidates the account's balances after every fill.
func BalanceRefetch(b BalanceRefresher) quote.SuccessHook {
	return func(ctx context.Context, e quote.Execution) error {
		return b.Refetch(ctx, e.Widget.AccountID, "accept")
	}
}

// TradeLog records the execution.
func TradeLog(r TradeRecorder) quote.SuccessHook {
	return func(ctx context.Context, e quote.Execution) error {
		_, err := r.Record(ctx, TradeRecord(e))
		return err
	}
}

// PublishAccepted emits quote.accepted for the execution.
func PublishAccepted(p EventPublisher) quote.SuccessHook {
	return func(ctx context.Context, e quote.Execution) error {
		q := e.Quote
		return p.PublishQuoteEvent(ctx, publisher.SubjectQuoteAccepted, "quote.accepted", e.SessionID, model.QuoteEvent{
			SessionID: e.SessionID,
			AccountID: e.Widget.AccountID,
			State:     model.StateAccepted,
			Quote:     &q,
			At:        e.ExecutedAt,
		})
	}
}

// TradeRecord maps an execution onto its trade log row.
func TradeRecord(e quote.Execution) model.TradeRecord {
	return model.TradeRecord{
		QuoteID:    e.Quote.ID,
		SessionID:  e.SessionID,
		AccountID:  e.Widget.AccountID,
		Mode:       e.Widget.Mode,
		FromCoinID: e.Quote.FromCoinID,
		ToCoinID:   e.Quote.ToCoinID,
		Price:      e.Quote.Price,
		FromAmount: e.Quote.FromAmount,
		ToAmount:   e.Quote.ToAmount,
		Cost:       e.Quote.Cost,
		Proceeds:   e.Quote.Proceeds,
		ExecutedAt: e.ExecutedAt,
	}
}

// LifecycleEvents returns a session observer that publishes quote.expired and
// quote.failed. Publishing is detached from the session and bounded by timeout.
func LifecycleEvents(p EventPublisher, logger *zap.Logger, timeout time.Duration) func(quote.View) {
	return func(v quote.View) {
		var subject, eventType string
		switch v.State {
		case model.StateExpired:
			subject, eventType = publisher.SubjectQuoteExpired, "quote.expired"
		case model.StateFailed:
			subject, eventType = publisher.SubjectQuoteFailed, "quote.failed"
		default:
			return
		}

		ev := model.QuoteEvent{
			SessionID: v.SessionID,
			AccountID: v.Widget.AccountID,
			State:     v.State,
			Quote:     v.Quote,
			Error:     v.Error,
			At:        time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.PublishQuoteEvent(ctx, subject, eventType, v.SessionID, ev); err != nil {
			logger.Warn("hooks.lifecycle_publish_failed",
				zap.String("session", v.SessionID),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}
}
