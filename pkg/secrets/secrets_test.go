package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Cache ────────────────────────────────────────────────────────────────────

func TestCache_PutGetExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry removed on read")
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	c := NewCache[int](0)
	c.now = func() time.Time { return now }
	c.Put("k", 7)

	now = now.Add(24 * time.Hour)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestCache_Bust(t *testing.T) {
	c := NewCache[string](time.Hour)
	c.Put("k", "v")
	c.Bust("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_Cleaner(t *testing.T) {
	now := time.Now()
	c := NewCache[string](time.Millisecond)
	c.now = func() time.Time { return now }
	c.Put("a", "1")
	c.Put("b", "2")
	now = now.Add(time.Second)

	c.cleanupExpired()
	assert.Zero(t, c.Len())
}

// ─── Static provider ──────────────────────────────────────────────────────────

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(map[string]map[string]string{
		"dev/acct-1/exchange":  {"api_token": "t1"},
		"dev/acct-2/exchange":  {"api_token": "t2"},
		"prod/acct-3/exchange": {"api_token": "t3"},
	})

	m, err := p.GetSecret(context.Background(), "DEV/acct-1/exchange")
	require.NoError(t, err)
	assert.Equal(t, "t1", m["api_token"])

	m["api_token"] = "mutated"
	again, _ := p.GetSecret(context.Background(), "dev/acct-1/exchange")
	assert.Equal(t, "t1", again["api_token"], "callers get a copy")

	names, err := p.ListSecrets(context.Background(), "dev/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/acct-1/exchange", "dev/acct-2/exchange"}, names)

	_, err = p.GetSecret(context.Background(), "dev/missing/exchange")
	assert.Error(t, err)
}

// ─── AWS provider ─────────────────────────────────────────────────────────────

type fakeSM struct {
	values map[string]string
	pages  [][]string
	calls  int
}

func (f *fakeSM) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (f *fakeSM) ListSecrets(_ context.Context, _ *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	page := f.pages[f.calls]
	f.calls++
	out := &secretsmanager.ListSecretsOutput{}
	for _, n := range page {
		out.SecretList = append(out.SecretList, types.SecretListEntry{Name: aws.String(n)})
	}
	if f.calls < len(f.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func TestAWSProvider_GetSecret(t *testing.T) {
	p := &AWSSecretsManagerProvider{client: &fakeSM{values: map[string]string{
		"dev/acct-1/exchange": `{"api_token":"abc","base_url":"https://x"}`,
		"dev/bad/exchange":    `not-json`,
	}}}

	m, err := p.GetSecret(context.Background(), "dev/acct-1/exchange")
	require.NoError(t, err)
	assert.Equal(t, "abc", m["api_token"])

	_, err = p.GetSecret(context.Background(), "dev/bad/exchange")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid secret format")

	_, err = p.GetSecret(context.Background(), "dev/none/exchange")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch secret")
}

func TestAWSProvider_ListSecretsPaginates(t *testing.T) {
	sm := &fakeSM{pages: [][]string{{"dev/a/exchange", "dev/b/exchange"}, {"dev/c/exchange"}}}
	p := &AWSSecretsManagerProvider{client: sm}

	names, err := p.ListSecrets(context.Background(), "dev/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/a/exchange", "dev/b/exchange", "dev/c/exchange"}, names)
	assert.Equal(t, 2, sm.calls)
}
