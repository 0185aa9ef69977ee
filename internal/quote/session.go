package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/internal/metrics"
	"github.com/Checker-Finance/quote-session/internal/trigger"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

const (
	defaultSolicitTimeout = 15 * time.Second
	defaultAcceptTimeout  = 30 * time.Second
	defaultHookTimeout    = 10 * time.Second
)

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Clock          Clock
	Logger         *zap.Logger
	SolicitTimeout time.Duration
	AcceptTimeout  time.Duration
	HookTimeout    time.Duration
	// Hooks run once after every successful acceptance (balance refetch, trade log, events).
	Hooks []SuccessHook
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.SolicitTimeout <= 0 {
		o.SolicitTimeout = defaultSolicitTimeout
	}
	if o.AcceptTimeout <= 0 {
		o.AcceptTimeout = defaultAcceptTimeout
	}
	if o.HookTimeout <= 0 {
		o.HookTimeout = defaultHookTimeout
	}
	return o
}

// View is the read model handed to the presentation layer.
type View struct {
	SessionID          string              `json:"sessionId"`
	Widget             model.WidgetContext `json:"widget"`
	State              model.State         `json:"state"`
	IsLoading          bool                `json:"isLoading"`
	AcceptQuoteLoading bool                `json:"acceptQuoteLoading"`
	Trigger            *model.TradeTrigger `json:"trigger,omitempty"`
	Quote              *model.Quote        `json:"quote,omitempty"`
	Error              *model.Error        `json:"error,omitempty"`
}

// Session drives one trading widget's quote lifecycle:
//
//	idle → soliciting → quoted → accepting → accepted → idle
//	                          ↘ expired     ↘ failed
//
// All state is guarded by mu. The lock is never held across network calls,
// hooks or observer callbacks. Every transition bumps epoch; asynchronous
// completions (fetch results, expiry timers, accept results) carry the epoch
// they were started under and are dropped when it no longer matches.
type Session struct {
	id     string
	widget model.WidgetContext
	api    QuoteAPI
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     model.State
	epoch     uint64
	trigger   *model.TradeTrigger
	quote     *model.Quote
	err       *model.Error
	fetch     fetcher
	expiry    expiryClock
	closed    bool
	observers map[int]func(View)
	nextObs   int
	pending   []View
	draining  bool

	// acceptInFlight spans the execution call regardless of epoch.
	acceptInFlight bool
}

// NewSession creates an idle session bound to one widget instance.
func NewSession(id string, wc model.WidgetContext, api QuoteAPI, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		widget:    wc,
		api:       api,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("session", id)),
		ctx:       ctx,
		cancel:    cancel,
		state:     model.StateIdle,
		fetch:     fetcher{api: api, timeout: opts.SolicitTimeout},
		expiry:    expiryClock{clock: opts.Clock},
		observers: make(map[int]func(View)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Widget returns the widget context the session was opened with.
func (s *Session) Widget() model.WidgetContext { return s.widget }

// View returns a snapshot of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// State returns the current lifecycle state.
func (s *Session) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive a View after every transition, in order.
// Callbacks run outside the session lock and may call back into the session.
func (s *Session) Subscribe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// SetTrigger feeds new widget input into the session. A changed, active
// trigger starts a new solicitation and supersedes any pending one. An inert
// trigger returns the session to idle. Invalid input is rejected synchronously,
// before any network call, and clears the previous quote.
func (s *Session) SetTrigger(in model.TriggerInput) error {
	t, verr := trigger.Normalize(s.widget, in)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}

	switch {
	case verr != nil:
		s.clearLocked()
		s.err = model.AsError(verr)
		s.setState(model.StateIdle)
	case t == nil:
		s.clearLocked()
		s.setState(model.StateIdle)
	case trigger.Equal(t, s.trigger) && s.busyLocked():
		s.mu.Unlock()
		return nil
	default:
		s.trigger = t
		s.solicitLocked()
	}
	s.mu.Unlock()
	s.flush()
	return verr
}

// SolicitQuote requests a fresh quote for the current trigger. This is the
// user-initiated retry after a failure or expiry; the core never retries on its own.
func (s *Session) SolicitQuote() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}
	if s.trigger == nil {
		s.mu.Unlock()
		return model.Validationf("no active trigger to solicit")
	}
	if s.state == model.StateAccepting {
		s.mu.Unlock()
		return &model.Error{Kind: model.KindDuplicateSubmission, Op: "quote.solicit", Message: "acceptance in progress"}
	}
	s.solicitLocked()
	s.mu.Unlock()
	s.flush()
	return nil
}

// ResetQuote returns the session to idle from any state. Pending work is
// cancelled and its late results are ignored.
func (s *Session) ResetQuote() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == model.StateIdle && s.trigger == nil && s.quote == nil && s.err == nil {
		s.fetch.abort()
		s.epoch++
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	s.setState(model.StateIdle)
	s.mu.Unlock()
	s.flush()
}

// Dispose tears the session down: in-flight requests are aborted, the expiry
// timer is cleared and observers are dropped. It is safe to call twice.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.fetch.abort()
	s.expiry.disarm()
	s.epoch++
	s.observers = make(map[int]func(View))
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.logger.Debug("quote.session.disposed")
}

// solicitLocked discards the current quote and starts a request for s.trigger.
func (s *Session) solicitLocked() {
	t := *s.trigger
	s.quote = nil
	s.err = nil
	s.setState(model.StateSoliciting)
	epoch := s.epoch

	s.logger.Info("quote.solicit.start",
		zap.String("from", t.FromCoinID),
		zap.String("to", t.ToCoinID),
		zap.String("side", string(t.Side)),
		zap.String("amount", t.Amount.String()))

	s.fetch.begin(s.ctx, t, func(r fetchResult) {
		s.onQuoteResult(epoch, r)
	})
}

func (s *Session) onQuoteResult(epoch uint64, r fetchResult) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		metrics.IncSolicitation("superseded")
		s.logger.Debug("quote.solicit.superseded")
		return
	}
	s.fetch.abort()

	switch {
	case r.err != nil:
		s.err = classify("quote.solicit", r.err)
		s.setState(model.StateFailed)
		metrics.IncSolicitation("failed")
		s.logger.Warn("quote.solicit.failed", zap.Error(s.err))

	case r.quote == nil:
		s.err = &model.Error{Kind: model.KindUnknown, Op: "quote.solicit", Message: "empty quote response"}
		s.setState(model.StateFailed)
		metrics.IncSolicitation("failed")

	case r.quote.ExpiredAt(s.opts.Clock.Now()) || r.quote.Filled:
		s.expireLocked("quote.solicit")
		metrics.IncSolicitation("expired")
		s.logger.Warn("quote.solicit.expired_on_arrival",
			zap.String("quote_id", r.quote.ID),
			zap.Time("expiry", r.quote.Expiry))

	default:
		q := *r.quote
		s.quote = &q
		s.setState(model.StateQuoted)
		quotedEpoch := s.epoch
		if !s.expiry.arm(q.Expiry, func() { s.onExpiry(quotedEpoch) }) {
			s.expireLocked("quote.expiry")
		}
		metrics.IncSolicitation("quoted")
		s.logger.Info("quote.solicit.quoted",
			zap.String("quote_id", q.ID),
			zap.String("price", q.Price.String()),
			zap.Time("expiry", q.Expiry))
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Session) onExpiry(epoch uint64) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch || s.state != model.StateQuoted {
		s.mu.Unlock()
		return
	}
	s.expiry.timer = nil
	quoteID := s.quote.ID
	s.expireLocked("quote.expiry")
	s.mu.Unlock()

	s.logger.Info("quote.expired", zap.String("quote_id", quoteID))
	s.flush()
}

// expireLocked drops the held quote and moves to expired.
func (s *Session) expireLocked(op string) {
	s.quote = nil
	s.err = &model.Error{Kind: model.KindQuoteExpired, Op: op}
	s.setState(model.StateExpired)
	metrics.QuoteExpirations.Inc()
}

// clearLocked cancels pending work and forgets trigger, quote and error.
func (s *Session) clearLocked() {
	s.fetch.abort()
	s.trigger = nil
	s.quote = nil
	s.err = nil
}

// busyLocked reports whether the current trigger already has work attached.
func (s *Session) busyLocked() bool {
	switch s.state {
	case model.StateSoliciting, model.StateQuoted, model.StateAccepting:
		return true
	}
	return false
}

// setState records a transition. Leaving quoted always disarms the expiry timer.
func (s *Session) setState(to model.State) {
	from := s.state
	if from == model.StateQuoted && to != model.StateQuoted {
		s.expiry.disarm()
	}
	s.state = to
	s.epoch++
	s.pending = append(s.pending, s.viewLocked())
	metrics.IncTransition(string(from), string(to))
	s.logger.Debug("quote.session.transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (s *Session) viewLocked() View {
	v := View{
		SessionID:          s.id,
		Widget:             s.widget,
		State:              s.state,
		IsLoading:          s.state == model.StateSoliciting,
		AcceptQuoteLoading: s.state == model.StateAccepting,
		Error:              s.err,
	}
	if s.trigger != nil {
		t := *s.trigger
		v.Trigger = &t
	}
	if s.quote != nil {
		q := *s.quote
		v.Quote = &q
	}
	return v
}

// flush delivers queued views to observers. Only one goroutine drains at a
// time; views queued meanwhile are picked up by the active drainer, so
// delivery order matches transition order.
func (s *Session) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		obs := make([]func(View), 0, len(s.observers))
		for i := 0; i < s.nextObs; i++ {
			if fn, ok := s.observers[i]; ok {
				obs = append(obs, fn)
			}
		}
		s.mu.Unlock()

		for _, v := range batch {
			for _, fn := range obs {
				fn(v)
			}
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// classify turns any error from the quote API into a typed error.
func classify(op string, err error) *model.Error {
	var e *model.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.NewError(model.KindNetwork, op, err)
	}
	return model.NewError(model.KindUnknown, op, err)
}
