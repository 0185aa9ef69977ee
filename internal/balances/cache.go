package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Checker-Finance/quote-session/pkg/model"
)

// Cache is the Redis-backed balance cache.
//
// Keys:
//
//	balance:{account}:{coin}   JSON model.Balance
//	balances:{account}         set of cached coin ids
//	balances-synced:{account}  time of the last snapshot, present even when it was empty
type Cache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCache wraps a Redis client. A non-positive ttl keeps entries until overwritten.
func NewCache(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func balanceKey(accountID, coinID string) string {
	return fmt.Sprintf("balance:%s:%s", accountID, strings.ToUpper(coinID))
}

func indexKey(accountID string) string {
	return "balances:" + accountID
}

func syncedKey(accountID string) string {
	return "balances-synced:" + accountID
}

// Replace writes a full balance snapshot for an account, dropping coins no
// longer reported.
func (c *Cache) Replace(ctx context.Context, accountID string, balances []model.Balance) error {
	old, err := c.rdb.SMembers(ctx, indexKey(accountID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("balances: read index: %w", err)
	}

	keep := make(map[string]struct{}, len(balances))
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, b := range balances {
			data, err := json.Marshal(b)
			if err != nil {
				return err
			}
			coin := strings.ToUpper(b.CoinID)
			keep[coin] = struct{}{}
			p.Set(ctx, balanceKey(accountID, coin), data, c.ttl)
		}
		for _, coin := range old {
			if _, ok := keep[coin]; !ok {
				p.Del(ctx, balanceKey(accountID, coin))
			}
		}
		p.Del(ctx, indexKey(accountID))
		if len(keep) > 0 {
			members := make([]any, 0, len(keep))
			for coin := range keep {
				members = append(members, coin)
			}
			p.SAdd(ctx, indexKey(accountID), members...)
			if c.ttl > 0 {
				p.Expire(ctx, indexKey(accountID), c.ttl)
			}
		}
		p.Set(ctx, syncedKey(accountID), time.Now().UTC().Format(time.RFC3339Nano), c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("balances: write snapshot: %w", err)
	}
	return nil
}

// Get returns one cached balance, or nil when it is not cached.
func (c *Cache) Get(ctx context.Context, accountID, coinID string) (*model.Balance, error) {
	data, err := c.rdb.Get(ctx, balanceKey(accountID, coinID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var b model.Balance
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("balances: decode %s: %w", coinID, err)
	}
	return &b, nil
}

// All returns every cached balance for the account, sorted by coin.
func (c *Cache) All(ctx context.Context, accountID string) ([]model.Balance, error) {
	coins, err := c.rdb.SMembers(ctx, indexKey(accountID)).Result()
	if err != nil {
		return nil, err
	}
	if len(coins) == 0 {
		return nil, nil
	}
	sort.Strings(coins)

	keys := make([]string, len(coins))
	for i, coin := range coins {
		keys[i] = balanceKey(accountID, coin)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.Balance, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SMEMBERS and MGET
		}
		var b model.Balance
		if err := json.Unmarshal([]byte(s), &b); err != nil {
			return nil, fmt.Errorf("balances: decode %s: %w", coins[i], err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Synced reports whether a snapshot for the account is cached, including an
// empty one.
func (c *Cache) Synced(ctx context.Context, accountID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, syncedKey(accountID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HealthCheck pings Redis.
func (c *Cache) HealthCheck(ctx context.Context) error {
	if c.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
