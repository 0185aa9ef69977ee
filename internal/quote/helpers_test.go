package quote

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/pkg/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ─── Fake clock ───────────────────────────────────────────────────────────────

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every timer that came due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Set moves time without firing timers, simulating a late timer.
func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// activeTimers returns the number of timers neither stopped nor fired.
func (c *fakeClock) activeTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ─── Scripted quote API ───────────────────────────────────────────────────────

type pendingCall struct {
	trigger model.TradeTrigger
	ctx     context.Context
	reply   chan fetchResult
}

func (c *pendingCall) respond(q *model.Quote, err error) {
	c.reply <- fetchResult{quote: q, err: err}
}

// scriptedAPI hands every RequestQuote call to the test through calls and
// blocks until the test replies. With ignoreCancel the call keeps waiting
// after its context is cancelled, like a transport that cannot abort.
type scriptedAPI struct {
	calls        chan *pendingCall
	ignoreCancel bool

	acceptCount atomic.Int32
	acceptIDs   chan string
	acceptFn    func(ctx context.Context, quoteID string) error
}

func newScriptedAPI() *scriptedAPI {
	return &scriptedAPI{
		calls:     make(chan *pendingCall, 32),
		acceptIDs: make(chan string, 32),
	}
}

func (a *scriptedAPI) RequestQuote(ctx context.Context, t model.TradeTrigger) (*model.Quote, error) {
	c := &pendingCall{trigger: t, ctx: ctx, reply: make(chan fetchResult, 1)}
	a.calls <- c
	if a.ignoreCancel {
		r := <-c.reply
		return r.quote, r.err
	}
	select {
	case r := <-c.reply:
		return r.quote, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *scriptedAPI) AcceptQuote(ctx context.Context, quoteID string) error {
	a.acceptCount.Add(1)
	a.acceptIDs <- quoteID
	if a.acceptFn != nil {
		return a.acceptFn(ctx, quoteID)
	}
	return nil
}

func (a *scriptedAPI) nextCall(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-a.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a quote request")
		return nil
	}
}

func (a *scriptedAPI) requireNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-a.calls:
		t.Fatalf("unexpected quote request for %+v", c.trigger)
	case <-time.After(20 * time.Millisecond):
	}
}

// ─── Session helpers ──────────────────────────────────────────────────────────

// recorder captures every view an observer receives.
type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) observe(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]View(nil), r.views...)
}

func (r *recorder) states() []model.State {
	var out []model.State
	for _, v := range r.snapshot() {
		out = append(out, v.State)
	}
	return out
}

func newTestSession(t *testing.T, api QuoteAPI, clock Clock, hooks ...SuccessHook) (*Session, *recorder) {
	t.Helper()
	s := NewSession("sess-1", model.WidgetContext{AccountID: "acct-1", Mode: model.ModeBuy}, api, Options{
		Clock:         clock,
		Logger:        zap.NewNop(),
		AcceptTimeout: time.Second,
		Hooks:         hooks,
	})
	rec := &recorder{}
	s.Subscribe(rec.observe)
	t.Cleanup(s.Dispose)
	return s, rec
}

func waitState(t *testing.T, s *Session, want model.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, time.Second, 2*time.Millisecond, "session never reached %s (now %s)", want, s.State())
}

func amount(s string) *string { return &s }

func usdToBTC(from string) model.TriggerInput {
	return model.TriggerInput{FromCoinID: "USD", ToCoinID: "BTC", FromAmount: amount(from)}
}

func testQuote(id string, expiry time.Time) *model.Quote {
	return &model.Quote{
		ID:         id,
		FromCoinID: "USD",
		ToCoinID:   "BTC",
		Price:      decimal.RequireFromString("50000"),
		FromAmount: decimal.RequireFromString("100"),
		ToAmount:   decimal.RequireFromString("0.002"),
		Cost:       decimal.RequireFromString("100"),
		Proceeds:   decimal.RequireFromString("0.002"),
		Expiry:     expiry,
	}
}

// quoted drives a fresh session to quoted with a quote expiring at expiry.
func quoted(t *testing.T, s *Session, api *scriptedAPI, id string, expiry time.Time) {
	t.Helper()
	require.NoError(t, s.SetTrigger(usdToBTC("100")))
	api.nextCall(t).respond(testQuote(id, expiry), nil)
	waitState(t, s, model.StateQuoted)
}
