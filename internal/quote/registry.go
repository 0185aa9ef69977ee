package quote

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/internal/metrics"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// APIResolver returns the quote API a session for accountID talks to.
type APIResolver func(accountID string) QuoteAPI

// Static resolves every account to api.
func Static(api QuoteAPI) APIResolver {
	return func(string) QuoteAPI { return api }
}

// Registry holds the live session of every open widget instance.
type Registry struct {
	apis   APIResolver
	opts   Options
	logger *zap.Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	observers []func(View)
}

// NewRegistry creates a registry whose sessions share opts and get their API from apis.
func NewRegistry(apis APIResolver, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		apis:     apis,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Observe subscribes fn to every session opened after the call.
func (r *Registry) Observe(fn func(View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Open creates a session for a widget instance.
func (r *Registry) Open(wc model.WidgetContext) *Session {
	id := uuid.NewString()
	s := NewSession(id, wc, r.apis(wc.AccountID), r.opts)

	r.mu.Lock()
	for _, fn := range r.observers {
		s.Subscribe(fn)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	metrics.OpenSessions.Inc()
	r.logger.Info("quote.session.opened",
		zap.String("session", id),
		zap.String("account", wc.AccountID),
		zap.String("mode", string(wc.Mode)))
	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close disposes and forgets a session. It reports whether the id was known.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Dispose()
	metrics.OpenSessions.Dec()
	r.logger.Info("quote.session.closed", zap.String("session", id))
	return true
}

// CloseAll disposes every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
		metrics.OpenSessions.Dec()
	}
	r.logger.Info("quote.registry.closed", zap.Int("sessions", len(sessions)))
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
