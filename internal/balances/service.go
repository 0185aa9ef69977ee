package balances

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/quote-session/internal/metrics"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// Source fetches authoritative balances for an account.
type Source interface {
	Balances(ctx context.Context, accountID string) ([]model.Balance, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, accountID string) ([]model.Balance, error)

func (f SourceFunc) Balances(ctx context.Context, accountID string) ([]model.Balance, error) {
	return f(ctx, accountID)
}

// Service owns the account balance state. The quote core never touches it
// directly; it only asks for a Refetch after an execution.
type Service struct {
	logger  *zap.Logger
	source  Source
	cache   *Cache
	timeout time.Duration
	group   singleflight.Group
}

func NewService(logger *zap.Logger, source Source, cache *Cache, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{logger: logger, source: source, cache: cache, timeout: timeout}
}

// Refetch reloads the account's balances from the source into the cache.
// Concurrent refetches of one account share a single upstream call.
// trigger labels the caller in metrics (accept, poll, api).
func (s *Service) Refetch(ctx context.Context, accountID, trigger string) error {
	_, err, shared := s.group.Do(accountID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		start := time.Now()
		bals, err := s.source.Balances(fctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("balances: fetch %s: %w", accountID, err)
		}
		if err := s.cache.Replace(fctx, accountID, bals); err != nil {
			return nil, err
		}
		s.logger.Debug("balances.refetched",
			zap.String("account", accountID),
			zap.Int("coins", len(bals)),
			zap.Duration("elapsed", time.Since(start)))
		return nil, nil
	})

	result := "ok"
	if err != nil {
		result = "error"
		s.logger.Warn("balances.refetch_failed",
			zap.String("account", accountID),
			zap.String("trigger", trigger),
			zap.Error(err))
	}
	if !shared {
		metrics.IncBalanceRefresh(trigger, result)
	}
	return err
}

// Get returns a cached balance, refetching once on a miss.
func (s *Service) Get(ctx context.Context, accountID, coinID string) (*model.Balance, error) {
	b, err := s.cache.Get(ctx, accountID, coinID)
	if err != nil || b != nil {
		return b, err
	}
	if err := s.Refetch(ctx, accountID, "api"); err != nil {
		return nil, err
	}
	return s.cache.Get(ctx, accountID, coinID)
}

// All returns every cached balance, refetching when no snapshot is cached.
// An account whose last snapshot was empty is served from cache.
func (s *Service) All(ctx context.Context, accountID string) ([]model.Balance, error) {
	bals, err := s.cache.All(ctx, accountID)
	if err != nil || len(bals) > 0 {
		return bals, err
	}
	synced, err := s.cache.Synced(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if synced {
		return bals, nil
	}
	if err := s.Refetch(ctx, accountID, "api"); err != nil {
		return nil, err
	}
	return s.cache.All(ctx, accountID)
}

// HealthCheck reports cache availability.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.cache.HealthCheck(ctx)
}
