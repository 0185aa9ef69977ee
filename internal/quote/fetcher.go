package quote

import (
	"context"
	"time"

	"github.com/Checker-Finance/quote-session/pkg/model"
)

// QuoteAPI is the backend trading API the session talks to.
type QuoteAPI interface {
	// RequestQuote asks for a priced, time-bounded quote for the trigger.
	RequestQuote(ctx context.Context, t model.TradeTrigger) (*model.Quote, error)
	// AcceptQuote executes a previously issued quote.
	AcceptQuote(ctx context.Context, quoteID string) error
}

// fetcher tracks the one solicit request a session may have in flight.
// Starting a new request aborts the previous one. Guarded by the session lock.
type fetcher struct {
	api     QuoteAPI
	timeout time.Duration
	cancel  context.CancelFunc
}

type fetchResult struct {
	quote *model.Quote
	err   error
}

// begin aborts the in-flight request and starts a new one for t.
// done runs on the request goroutine once the call returns.
func (f *fetcher) begin(parent context.Context, t model.TradeTrigger, done func(fetchResult)) {
	f.abort()

	ctx, cancel := context.WithTimeout(parent, f.timeout)
	f.cancel = cancel

	go func() {
		defer cancel()
		q, err := f.api.RequestQuote(ctx, t)
		done(fetchResult{quote: q, err: err})
	}()
}

// abort cancels the in-flight request. Its result, if it still arrives, is
// discarded by the session's epoch check.
func (f *fetcher) abort() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *fetcher) inFlight() bool { return f.cancel != nil }
