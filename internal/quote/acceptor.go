package quote

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/internal/metrics"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// Execution describes a quote that the backend has filled.
type Execution struct {
	SessionID string
	Widget    model.WidgetContext
	Quote     model.Quote
	// AlreadyFilled is set when the backend reported the quote as filled by an
	// earlier request instead of filling it now.
	AlreadyFilled bool
	ExecutedAt    time.Time
}

// SuccessHook is a side effect run once per successful acceptance.
// Errors are logged and never fail the acceptance.
type SuccessHook func(ctx context.Context, e Execution) error

// AcceptQuote executes the held quote. It is only valid while quoted.
// A call while another execution is still in flight returns
// DuplicateSubmission without touching the network, even when a trigger
// change has since moved the session on. A lapsed quote returns QuoteExpired.
//
// The execution call is detached from ctx cancellation and bounded by the
// accept timeout, so the session always resolves out of accepting.
func (s *Session) AcceptQuote(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}
	if s.acceptInFlight || s.state == model.StateAccepting {
		s.mu.Unlock()
		metrics.IncAcceptance("duplicate")
		return &model.Error{Kind: model.KindDuplicateSubmission, Op: "quote.accept", Message: "acceptance already in progress"}
	}
	switch s.state {
	case model.StateQuoted:
	case model.StateExpired:
		s.mu.Unlock()
		metrics.IncAcceptance("expired")
		return &model.Error{Kind: model.KindQuoteExpired, Op: "quote.accept"}
	default:
		state := s.state
		s.mu.Unlock()
		return model.Validationf("no active quote to accept (state %s)", state)
	}

	q := *s.quote
	if q.ExpiredAt(s.opts.Clock.Now()) {
		s.expireLocked("quote.accept")
		s.mu.Unlock()
		s.flush()
		metrics.IncAcceptance("expired")
		return &model.Error{Kind: model.KindQuoteExpired, Op: "quote.accept"}
	}

	s.acceptInFlight = true
	s.setState(model.StateAccepting)
	epoch := s.epoch
	s.mu.Unlock()
	s.flush()

	s.logger.Info("quote.accept.start", zap.String("quote_id", q.ID))

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.AcceptTimeout)
	err := s.api.AcceptQuote(actx, q.ID)
	cancel()

	return s.onAcceptResult(ctx, epoch, q, err)
}

func (s *Session) onAcceptResult(ctx context.Context, epoch uint64, q model.Quote, err error) error {
	var alreadyFilled bool
	if err != nil {
		aerr := classify("quote.accept", err)
		if !errors.Is(aerr, model.ErrAlreadyFilled) {
			return s.failAccept(epoch, q, aerr)
		}
		alreadyFilled = true
		s.logger.Warn("quote.accept.already_filled", zap.String("quote_id", q.ID))
	}

	filled := q
	filled.Filled = true

	s.mu.Lock()
	s.acceptInFlight = false
	current := !s.closed && epoch == s.epoch
	var acceptedEpoch uint64
	if current {
		s.quote = &filled
		s.err = nil
		s.setState(model.StateAccepted)
		acceptedEpoch = s.epoch
	}
	s.mu.Unlock()
	s.flush()

	if alreadyFilled {
		metrics.IncAcceptance("already_filled")
	} else {
		metrics.IncAcceptance("accepted")
	}
	s.logger.Info("quote.accept.success",
		zap.String("quote_id", q.ID),
		zap.Bool("already_filled", alreadyFilled),
		zap.Bool("session_current", current))

	s.runHooks(ctx, Execution{
		SessionID:     s.id,
		Widget:        s.widget,
		Quote:         filled,
		AlreadyFilled: alreadyFilled,
		ExecutedAt:    s.opts.Clock.Now().UTC(),
	})

	s.mu.Lock()
	if current && !s.closed && acceptedEpoch == s.epoch {
		s.trigger = nil
		s.quote = nil
		s.setState(model.StateIdle)
	}
	s.mu.Unlock()
	s.flush()
	return nil
}

// failAccept records a rejected or failed execution. The trigger is kept so
// the user can re-solicit.
func (s *Session) failAccept(epoch uint64, q model.Quote, aerr *model.Error) error {
	s.mu.Lock()
	s.acceptInFlight = false
	if !s.closed && epoch == s.epoch {
		s.quote = nil
		s.err = aerr
		s.setState(model.StateFailed)
	}
	s.mu.Unlock()
	s.flush()

	metrics.IncAcceptance("rejected")
	s.logger.Warn("quote.accept.failed",
		zap.String("quote_id", q.ID),
		zap.String("kind", string(aerr.Kind)),
		zap.Error(aerr))
	return aerr
}

func (s *Session) runHooks(ctx context.Context, e Execution) {
	if len(s.opts.Hooks) == 0 {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.HookTimeout)
	defer cancel()

	for i, hook := range s.opts.Hooks {
		if err := hook(hctx, e); err != nil {
			s.logger.Warn("quote.accept.hook_failed",
				zap.Int("hook", i),
				zap.String("quote_id", e.Quote.ID),
				zap.Error(err))
		}
	}
}
