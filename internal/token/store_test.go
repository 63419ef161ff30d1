package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithRedis(t *testing.T, construct func(*redis.Client) *Store) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return construct(client)
}

func TestStoreIssueLookup(t *testing.T) {
	s := newStoreWithRedis(t, NewVerificationStore)
	ctx := context.Background()

	issued, err := s.Issue(ctx, "alice@example.com", nil)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Value)

	got, err := s.Lookup(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Empty(t, got.Payload)
	assert.WithinDuration(t, time.Now().Add(VerificationTTL), got.ExpiresAt, 5*time.Second)
}

func TestStoreIssueCarriesPayload(t *testing.T) {
	s := newStoreWithRedis(t, NewLinkAccountStore)
	ctx := context.Background()

	issued, err := s.Issue(ctx, "alice@example.com", []byte(`{"provider":"google"}`))
	require.NoError(t, err)

	got, err := s.Lookup(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, `{"provider":"google"}`, string(got.Payload))
}

func TestStoreIssueReplacesPriorToken(t *testing.T) {
	s := newStoreWithRedis(t, NewVerificationStore)
	ctx := context.Background()

	first, err := s.Issue(ctx, "alice@example.com", nil)
	require.NoError(t, err)
	second, err := s.Issue(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	_, err = s.Lookup(ctx, first.Value)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Lookup(ctx, second.Value)
	assert.NoError(t, err)
}

func TestStoreIssueConcurrentLeavesOneLiveToken(t *testing.T) {
	s := newStoreWithRedis(t, NewVerificationStore)
	ctx := context.Background()

	const issuers = 8
	values := make([]string, issuers)

	var wg sync.WaitGroup
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issued, err := s.Issue(ctx, "race@example.com", nil)
			if err == nil {
				values[i] = issued.Value
			}
		}(i)
	}
	wg.Wait()

	live := 0
	for _, v := range values {
		require.NotEmpty(t, v)
		if _, err := s.Lookup(ctx, v); err == nil {
			live++
		}
	}
	assert.Equal(t, 1, live, "at most one live token per email")
}

func TestStoreConsumeSingleUse(t *testing.T) {
	s := newStoreWithRedis(t, NewVerificationStore)
	ctx := context.Background()

	issued, err := s.Issue(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, s.Consume(ctx, issued.Value))

	_, err = s.Lookup(ctx, issued.Value)
	assert.ErrorIs(t, err, ErrNotFound)

	// Consuming an absent token is a no-op.
	assert.NoError(t, s.Consume(ctx, issued.Value))
}

func TestStoreConsumeKeepsNewerIndex(t *testing.T) {
	s := newStoreWithRedis(t, NewVerificationStore)
	ctx := context.Background()

	first, err := s.Issue(ctx, "alice@example.com", nil)
	require.NoError(t, err)
	second, err := s.Issue(ctx, "alice@example.com", nil)
	require.NoError(t, err)

	// A stale consume of the replaced token must not take the email index
	// (and with it the current token) down.
	require.NoError(t, s.Consume(ctx, first.Value))

	got, err := s.Lookup(ctx, second.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestStoreLookupUnknown(t *testing.T) {
	s := newStoreWithRedis(t, NewVerificationStore)

	_, err := s.Lookup(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreNamespaces(t *testing.T) {
	verify := NewVerificationStore(nil)
	assert.Equal(t, time.Hour, verify.TTL())

	link := NewLinkAccountStore(nil)
	assert.Equal(t, 10*time.Minute, link.TTL())

	// Namespaces must not collide: the same value issued in both stores maps
	// to distinct keys.
	hash := hashValue("some-value")
	assert.NotEqual(t, verify.tokenKey(hash), link.tokenKey(hash))
	assert.NotEqual(t, verify.emailKey("a@example.com"), link.emailKey("a@example.com"))
}

func TestTokenKeyUsesHash(t *testing.T) {
	s := NewVerificationStore(nil)

	// A Redis dump must never expose usable token values.
	key := s.tokenKey(hashValue("secret-token-value"))
	assert.NotContains(t, key, "secret-token-value")
}

func TestTokenExpired(t *testing.T) {
	live := &Token{ExpiresAt: time.Now().Add(time.Minute)}
	assert.False(t, live.Expired())

	dead := &Token{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, dead.Expired())
}

func TestGenerateValue(t *testing.T) {
	v1, err := generateValue()
	require.NoError(t, err)
	v2, err := generateValue()
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
	assert.GreaterOrEqual(t, len(v1), 43, "32 random bytes base64-encoded")
}

func TestHashValue(t *testing.T) {
	h := hashValue("abc")
	assert.Len(t, h, 64, "hex-encoded sha256")
	assert.Equal(t, h, hashValue("abc"))
	assert.NotEqual(t, h, hashValue("abd"))
}
