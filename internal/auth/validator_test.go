package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vexgate/internal/store"
	"vexgate/internal/types"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (l *mockLogger) Debug(msg string, fields ...any) {}
func (l *mockLogger) Info(msg string, fields ...any)  {}
func (l *mockLogger) Warn(msg string, fields ...any)  {}
func (l *mockLogger) Error(msg string, fields ...any) {}
func (l *mockLogger) With(fields ...any) types.Logger { return l }

// fakeProvider counts upstream calls and returns a canned answer
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	token *types.ValidatedToken
	err   error
}

func (f *fakeProvider) Validate(ctx context.Context, rawToken string) (*types.ValidatedToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	dup := *f.token
	return &dup, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// brokenStore fails every operation, simulating a store outage
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) (string, error) {
	return "", types.ErrStoreUnavailable
}
func (brokenStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return types.ErrStoreUnavailable
}
func (brokenStore) Delete(ctx context.Context, key string) error { return types.ErrStoreUnavailable }
func (brokenStore) Incr(ctx context.Context, key string) (int64, error) {
	return 0, types.ErrStoreUnavailable
}
func (brokenStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, types.ErrStoreUnavailable
}
func (brokenStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return types.ErrStoreUnavailable
}
func (brokenStore) Ping(ctx context.Context) error { return nil }
func (brokenStore) Close() error                   { return nil }

func testToken(clk clock.Clock, lifetime time.Duration) *types.ValidatedToken {
	now := clk.Now().UTC()
	return &types.ValidatedToken{
		UserID:    "user-42",
		Email:     "dev@example.com",
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}
}

func newTestValidator(t *testing.T, provider IdentityProvider, cfg ValidatorConfig) (*Validator, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	kv := store.NewMemoryWithClock(clk)
	return NewValidator(kv, provider, cfg, &mockLogger{}, WithClock(clk)), clk
}

func TestValidateCachesClaims(t *testing.T) {
	clk := clock.NewMock()
	provider := &fakeProvider{token: testToken(clk, time.Hour)}
	v, _ := newTestValidator(t, provider, ValidatorConfig{})
	ctx := context.Background()

	first, err := v.Validate(ctx, "raw-token")
	require.NoError(t, err)
	assert.Equal(t, "user-42", first.UserID)
	assert.Equal(t, 1, provider.callCount())

	second, err := v.Validate(ctx, "raw-token")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount(), "the second validate must be served from cache")
	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())
}

func TestValidateEmptyToken(t *testing.T) {
	provider := &fakeProvider{token: testToken(clock.NewMock(), time.Hour)}
	v, _ := newTestValidator(t, provider, ValidatorConfig{})

	_, err := v.Validate(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrUnauthenticated)
	assert.Equal(t, 0, provider.callCount())
}

func TestInvalidateForcesRevalidation(t *testing.T) {
	clk := clock.NewMock()
	provider := &fakeProvider{token: testToken(clk, time.Hour)}
	v, _ := newTestValidator(t, provider, ValidatorConfig{})
	ctx := context.Background()

	_, err := v.Validate(ctx, "raw-token")
	require.NoError(t, err)
	require.NoError(t, v.Invalidate(ctx, "raw-token"))

	_, err = v.Validate(ctx, "raw-token")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(), "invalidate must trigger exactly one new upstream call")
}

func TestNegativeCacheShortCircuitsRejections(t *testing.T) {
	provider := &fakeProvider{err: types.ErrUnauthenticated}
	v, clk := newTestValidator(t, provider, ValidatorConfig{NegativeCacheTTL: 30 * time.Second})
	ctx := context.Background()

	_, err := v.Validate(ctx, "bad-token")
	require.ErrorIs(t, err, types.ErrUnauthenticated)
	require.Equal(t, 1, provider.callCount())

	_, err = v.Validate(ctx, "bad-token")
	require.ErrorIs(t, err, types.ErrUnauthenticated)
	assert.Equal(t, 1, provider.callCount(), "a recently rejected token must not reach the provider")

	clk.Add(31 * time.Second)
	_, err = v.Validate(ctx, "bad-token")
	require.ErrorIs(t, err, types.ErrUnauthenticated)
	assert.Equal(t, 2, provider.callCount(), "negative entries expire")
}

func TestNegativeCacheDisabled(t *testing.T) {
	provider := &fakeProvider{err: types.ErrUnauthenticated}
	v, _ := newTestValidator(t, provider, ValidatorConfig{})
	ctx := context.Background()

	_, _ = v.Validate(ctx, "bad-token")
	_, _ = v.Validate(ctx, "bad-token")
	assert.Equal(t, 2, provider.callCount(), "every attempt revalidates when negative caching is off")
}

func TestProviderOutageNotNegativelyCached(t *testing.T) {
	provider := &fakeProvider{err: types.ErrUpstreamUnavailable}
	v, _ := newTestValidator(t, provider, ValidatorConfig{NegativeCacheTTL: 30 * time.Second})
	ctx := context.Background()

	_, err := v.Validate(ctx, "token")
	require.ErrorIs(t, err, types.ErrUpstreamUnavailable)

	_, err = v.Validate(ctx, "token")
	require.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.Equal(t, 2, provider.callCount(), "outages are transient and must be retried")
}

func TestCacheTTLClampedToTokenLifetime(t *testing.T) {
	clk := clock.NewMock()
	provider := &fakeProvider{token: testToken(clk, 10*time.Second)}
	kv := store.NewMemoryWithClock(clk)
	v := NewValidator(kv, provider, ValidatorConfig{CacheTTL: 300 * time.Second}, &mockLogger{}, WithClock(clk))
	ctx := context.Background()

	_, err := v.Validate(ctx, "short-lived")
	require.NoError(t, err)
	require.Equal(t, 1, provider.callCount())

	clk.Add(5 * time.Second)
	_, err = v.Validate(ctx, "short-lived")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount(), "still within the token lifetime")

	clk.Add(6 * time.Second)
	provider.mu.Lock()
	provider.token = testToken(clk, time.Hour)
	provider.mu.Unlock()

	_, err = v.Validate(ctx, "short-lived")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(), "the cache entry must not outlive the token")
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	clk := clock.NewMock()
	provider := &fakeProvider{token: testToken(clk, 24*time.Hour)}
	kv := store.NewMemoryWithClock(clk)
	v := NewValidator(kv, provider, ValidatorConfig{CacheTTL: 300 * time.Second}, &mockLogger{}, WithClock(clk))
	ctx := context.Background()

	_, err := v.Validate(ctx, "raw-token")
	require.NoError(t, err)

	clk.Add(301 * time.Second)
	_, err = v.Validate(ctx, "raw-token")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount())
}

func TestCacheReadFailureFallsThrough(t *testing.T) {
	clk := clock.NewMock()
	provider := &fakeProvider{token: testToken(clk, time.Hour)}
	v := NewValidator(brokenStore{}, provider, ValidatorConfig{}, &mockLogger{}, WithClock(clk))
	ctx := context.Background()

	token, err := v.Validate(ctx, "raw-token")
	require.NoError(t, err, "a cache outage must not reject valid tokens")
	assert.Equal(t, "user-42", token.UserID)

	_, err = v.Validate(ctx, "raw-token")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(), "without a cache every call validates upstream")
}

func TestInvalidateMissingEntry(t *testing.T) {
	provider := &fakeProvider{token: testToken(clock.NewMock(), time.Hour)}
	v, _ := newTestValidator(t, provider, ValidatorConfig{})

	assert.NoError(t, v.Invalidate(context.Background(), "never-seen"))
	assert.NoError(t, v.Invalidate(context.Background(), ""))
}
