package balances

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AccountLister returns the accounts to keep warm.
type AccountLister func(ctx context.Context) ([]string, error)

// Poller periodically refetches balances for every known account so the
// cache stays fresh between executions.
type Poller struct {
	logger   *zap.Logger
	svc      *Service
	accounts AccountLister
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPoller(logger *zap.Logger, svc *Service, accounts AccountLister, interval time.Duration) *Poller {
	return &Poller{
		logger:   logger,
		svc:      svc,
		accounts: accounts,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is done or Stop is called.
// A non-positive interval disables polling.
func (p *Poller) Start(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("balances.poller.disabled")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("balances.poller.started", zap.Duration("interval", p.interval))
	p.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-p.stopCh:
			p.logger.Info("balances.poller.stopped", zap.String("reason", "stop"))
			return
		case <-ctx.Done():
			p.logger.Info("balances.poller.stopped", zap.String("reason", "context"))
			return
		}
	}
}

// Stop halts the poller. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Poller) runOnce(ctx context.Context) {
	ids, err := p.accounts(ctx)
	if err != nil {
		p.logger.Warn("balances.poller.list_failed", zap.Error(err))
		return
	}
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := p.svc.Refetch(ctx, id, "poll"); err != nil {
			failed++
		}
	}
	p.logger.Debug("balances.poller.cycle",
		zap.Int("accounts", len(ids)),
		zap.Int("failed", failed))
}
