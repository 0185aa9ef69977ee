package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider defines a generic secrets manager interface.
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)

	// ListSecrets returns the names of all secrets whose name starts with prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}

// StaticProvider serves secrets from memory. It backs local runs where
// credentials come from the environment instead of AWS.
type StaticProvider struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

// NewStaticProvider creates a provider seeded with secrets keyed by name.
func NewStaticProvider(seed map[string]map[string]string) *StaticProvider {
	p := &StaticProvider{secrets: make(map[string]map[string]string, len(seed))}
	for k, v := range seed {
		p.Set(k, v)
	}
	return p
}

// Set stores or replaces a secret.
func (p *StaticProvider) Set(key string, value map[string]string) {
	cp := make(map[string]string, len(value))
	for k, v := range value {
		cp[k] = v
	}
	p.mu.Lock()
	p.secrets[strings.ToLower(key)] = cp
	p.mu.Unlock()
}

func (p *StaticProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.secrets[strings.ToLower(key)]
	if !ok {
		return nil, fmt.Errorf("secret [%s] not found", key)
	}
	cp := make(map[string]string, len(v))
	for k, val := range v {
		cp[k] = val
	}
	return cp, nil
}

func (p *StaticProvider) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prefix = strings.ToLower(prefix)
	var names []string
	for k := range p.secrets {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}
