package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	intsecrets "github.com/Checker-Finance/quote-session/internal/secrets"
	pkgsecrets "github.com/Checker-Finance/quote-session/pkg/secrets"
)

// secretService is the {service} segment of exchange credential secret names.
const secretService = "exchange"

// TokenSource returns the bearer token the exchange expects for an account.
type TokenSource interface {
	Token(ctx context.Context, accountID string) (string, error)
}

// Invalidator is implemented by token sources that cache, so a rejected
// token can be dropped and refetched.
type Invalidator interface {
	Invalidate(accountID string)
}

// StaticToken uses the same token for every account, for single-account
// deployments and local runs.
type StaticToken string

func (s StaticToken) Token(context.Context, string) (string, error) {
	if s == "" {
		return "", errors.New("exchange: no api token configured")
	}
	return string(s), nil
}

// Credentials is the per-account exchange secret.
// Secret JSON format: {"api_token": "..."}
type Credentials struct {
	APIToken string
}

// SecretTokens resolves per-account tokens from the secrets provider.
// Secret naming convention: {env}/{accountID}/exchange
type SecretTokens struct {
	resolver *intsecrets.Resolver[Credentials]
}

// NewSecretTokens builds a token source backed by provider with a local cache.
func NewSecretTokens(logger *zap.Logger, env string, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[Credentials]) *SecretTokens {
	return &SecretTokens{
		resolver: intsecrets.NewResolver(logger, env, secretService, provider, cache, parseCredentials),
	}
}

func (s *SecretTokens) Token(ctx context.Context, accountID string) (string, error) {
	creds, err := s.resolver.Resolve(ctx, accountID)
	if err != nil {
		return "", err
	}
	return creds.APIToken, nil
}

func (s *SecretTokens) Invalidate(accountID string) { s.resolver.Invalidate(accountID) }

// Accounts lists accounts with exchange credentials configured.
func (s *SecretTokens) Accounts(ctx context.Context) ([]string, error) {
	return s.resolver.DiscoverAccounts(ctx)
}

func parseCredentials(m map[string]string) (Credentials, error) {
	c := Credentials{APIToken: strings.TrimSpace(m["api_token"])}
	if c.APIToken == "" {
		return Credentials{}, fmt.Errorf("missing required field 'api_token'")
	}
	return c, nil
}
