package balances

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-session/pkg/model"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb, ttl), mr
}

func bal(account, coin, avail string) model.Balance {
	return model.Balance{
		AccountID:   account,
		CoinID:      coin,
		Available:   decimal.RequireFromString(avail),
		Held:        decimal.Zero,
		LastUpdated: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// fakeSource serves scripted balances and counts calls.
type fakeSource struct {
	mu    sync.Mutex
	data  map[string][]model.Balance
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeSource) Balances(_ context.Context, accountID string) ([]model.Balance, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.data[accountID], nil
}

func (f *fakeSource) set(accountID string, b ...model.Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = map[string][]model.Balance{}
	}
	f.data[accountID] = b
}

// --- Cache ---

func TestCache_ReplaceAndRead(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Replace(ctx, "acct-1", []model.Balance{bal("acct-1", "usd", "100"), bal("acct-1", "BTC", "0.5")}))

	assert.True(t, mr.Exists("balance:acct-1:USD"))
	assert.True(t, mr.Exists("balance:acct-1:BTC"))
	assert.Equal(t, time.Minute, mr.TTL("balance:acct-1:USD"))

	got, err := c.Get(ctx, "acct-1", "usd")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Available.Equal(decimal.RequireFromString("100")))

	all, err := c.All(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BTC", all[0].CoinID)
}

func TestCache_ReplaceDropsVanishedCoins(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Replace(ctx, "acct-1", []model.Balance{bal("acct-1", "USD", "1"), bal("acct-1", "ETH", "2")}))
	require.NoError(t, c.Replace(ctx, "acct-1", []model.Balance{bal("acct-1", "USD", "3")}))

	assert.False(t, mr.Exists("balance:acct-1:ETH"))
	all, err := c.All(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "3", all[0].Available.String())
}

func TestCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	got, err := c.Get(context.Background(), "acct-1", "USD")
	require.NoError(t, err)
	assert.Nil(t, got)

	all, err := c.All(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCache_ExpiredEntriesSkipped(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Replace(ctx, "acct-1", []model.Balance{bal("acct-1", "USD", "1")}))

	mr.FastForward(2 * time.Minute)
	got, err := c.Get(ctx, "acct-1", "USD")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_HealthCheck(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	require.NoError(t, c.HealthCheck(context.Background()))

	mr.Close()
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")

	assert.Error(t, (&Cache{}).HealthCheck(context.Background()))
}

// --- Service ---

func TestService_RefetchWritesCache(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	src := &fakeSource{}
	src.set("acct-1", bal("acct-1", "USD", "250"))
	svc := NewService(zap.NewNop(), src, c, time.Second)

	require.NoError(t, svc.Refetch(context.Background(), "acct-1", "accept"))

	got, err := c.Get(context.Background(), "acct-1", "USD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "250", got.Available.String())
}

func TestService_RefetchError(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	src := &fakeSource{err: errors.New("exchange down")}
	svc := NewService(zap.NewNop(), src, c, time.Second)

	err := svc.Refetch(context.Background(), "acct-1", "accept")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange down")
}

func TestService_ConcurrentRefetchesCoalesce(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	src := &fakeSource{gate: make(chan struct{})}
	src.set("acct-1", bal("acct-1", "USD", "1"))
	svc := NewService(zap.NewNop(), src, c, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Refetch(context.Background(), "acct-1", "accept")
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(5))
	assert.GreaterOrEqual(t, src.calls.Load(), int32(1))
}

func TestService_GetRefetchesOnMiss(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	src := &fakeSource{}
	src.set("acct-1", bal("acct-1", "BTC", "0.1"))
	svc := NewService(zap.NewNop(), src, c, time.Second)

	got, err := svc.Get(context.Background(), "acct-1", "btc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, src.calls.Load())

	_, err = svc.Get(context.Background(), "acct-1", "BTC")
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load(), "served from cache")

	all, err := svc.All(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestService_AllServesEmptySnapshotFromCache(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	var calls atomic.Int32
	src := SourceFunc(func(_ context.Context, accountID string) ([]model.Balance, error) {
		calls.Add(1)
		assert.Equal(t, "acct-empty", accountID)
		return nil, nil
	})
	svc := NewService(zap.NewNop(), src, c, time.Second)

	for i := 0; i < 3; i++ {
		all, err := svc.All(context.Background(), "acct-empty")
		require.NoError(t, err)
		assert.Empty(t, all)
	}
	assert.EqualValues(t, 1, calls.Load(), "empty snapshot is cached")

	synced, err := c.Synced(context.Background(), "acct-empty")
	require.NoError(t, err)
	assert.True(t, synced)

	mr.FastForward(2 * time.Minute)
	_, err = svc.All(context.Background(), "acct-empty")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "refetched once the snapshot expires")
}

func TestCache_SyncedBeforeAnySnapshot(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	synced, err := c.Synced(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, synced)
}

// --- Poller ---

func TestPoller_RefetchesEveryAccount(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	src := &fakeSource{}
	src.set("a", bal("a", "USD", "1"))
	src.set("b", bal("b", "USD", "2"))
	svc := NewService(zap.NewNop(), src, c, time.Second)

	p := NewPoller(zap.NewNop(), svc, func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	}, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()
	<-done

	got, err := c.Get(context.Background(), "b", "USD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2", got.Available.String())
}

func TestPoller_StopsOnContextCancel(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	svc := NewService(zap.NewNop(), &fakeSource{}, c, time.Second)
	p := NewPoller(zap.NewNop(), svc, func(context.Context) ([]string, error) {
		return nil, errors.New("secrets unavailable")
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
