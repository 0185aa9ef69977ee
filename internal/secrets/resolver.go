package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/quote-session/pkg/secrets"
)

// Resolver resolves per-account configuration from a secrets provider,
// caching results locally. It is generic over the resolved type T.
//
// Secret naming convention: {env}/{accountID}/{service}
type Resolver[T any] struct {
	logger   *zap.Logger
	env      string
	service  string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
	parse    func(map[string]string) (T, error)
}

// NewResolver constructs a resolver. parse extracts T from the raw secret map
// and should validate required fields.
func NewResolver[T any](
	logger *zap.Logger,
	env string,
	service string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
	parse func(map[string]string) (T, error),
) *Resolver[T] {
	return &Resolver[T]{
		logger:   logger,
		env:      strings.ToLower(env),
		service:  strings.ToLower(service),
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

// SecretName returns the provider key for an account.
func (r *Resolver[T]) SecretName(accountID string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, accountID, r.service))
}

// Resolve returns the cached value for accountID or fetches it.
func (r *Resolver[T]) Resolve(ctx context.Context, accountID string) (T, error) {
	name := r.SecretName(accountID)
	if v, ok := r.cache.Get(name); ok {
		return v, nil
	}

	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve %s config for %q: %w", r.service, accountID, err)
	}

	v, err := r.parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(name, v)
	r.logger.Info("secrets.resolved",
		zap.String("account", accountID),
		zap.String("service", r.service))
	return v, nil
}

// Invalidate drops the cached value so the next Resolve refetches it.
func (r *Resolver[T]) Invalidate(accountID string) {
	r.cache.Bust(r.SecretName(accountID))
}

// DiscoverAccounts lists every account with a secret for this service,
// by matching "{env}/{accountID}/{service}" names.
func (r *Resolver[T]) DiscoverAccounts(ctx context.Context) ([]string, error) {
	prefix := r.env + "/"
	suffix := "/" + r.service

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover accounts: %w", err)
	}

	var accounts []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, suffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if id != "" && !strings.Contains(id, "/") {
			accounts = append(accounts, id)
		}
	}

	r.logger.Debug("secrets.accounts_discovered",
		zap.String("service", r.service),
		zap.Int("count", len(accounts)))
	return accounts, nil
}
