package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/blake2b"

	"vexgate/internal/types"
)

// Cache key prefixes; only token hashes are stored, never raw tokens
const (
	tokenKeyPrefix  = "auth:token:"
	rejectKeyPrefix = "auth:reject:"
)

// Default cache lifetimes
const (
	DefaultCacheTTL         = 300 * time.Second
	DefaultNegativeCacheTTL = 30 * time.Second
)

// Validator answers token validations from the shared cache, falling
// through to the identity provider on a miss. Cache read failures are never
// fatal: the request revalidates upstream instead.
type Validator struct {
	store       types.KeyValueStore
	provider    IdentityProvider
	ttl         time.Duration
	negativeTTL time.Duration
	clock       clock.Clock
	logger      types.Logger
}

// ValidatorConfig holds cache lifetimes
type ValidatorConfig struct {
	CacheTTL time.Duration
	// NegativeCacheTTL bounds how long a rejected token fails fast without
	// an upstream call. Zero disables negative caching.
	NegativeCacheTTL time.Duration
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithClock injects the clock used for expiry math
func WithClock(clk clock.Clock) ValidatorOption {
	return func(v *Validator) { v.clock = clk }
}

// NewValidator creates a validator backed by the shared store
func NewValidator(store types.KeyValueStore, provider IdentityProvider, cfg ValidatorConfig, logger types.Logger, opts ...ValidatorOption) *Validator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	v := &Validator{
		store:       store,
		provider:    provider,
		ttl:         cfg.CacheTTL,
		negativeTTL: cfg.NegativeCacheTTL,
		clock:       clock.New(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// hashToken derives the cache key material from a raw token
func hashToken(rawToken string) string {
	sum := blake2b.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Validate returns the claims for a token. It fails with ErrUnauthenticated
// when the provider rejects the token and ErrUpstreamUnavailable when the
// provider cannot be reached.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*types.ValidatedToken, error) {
	if rawToken == "" {
		return nil, types.ErrUnauthenticated
	}
	hash := hashToken(rawToken)

	if token := v.cached(ctx, hash); token != nil {
		return token, nil
	}

	if v.negativeTTL > 0 {
		if _, err := v.store.Get(ctx, rejectKeyPrefix+hash); err == nil {
			return nil, types.ErrUnauthenticated
		}
	}

	token, err := v.provider.Validate(ctx, rawToken)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) && v.negativeTTL > 0 {
			if serr := v.store.Set(ctx, rejectKeyPrefix+hash, "1", v.negativeTTL); serr != nil {
				v.logger.Warn("Failed to record rejected token", "error", serr)
			}
		}
		return nil, err
	}

	v.cache(ctx, hash, token)
	return token, nil
}

// Invalidate removes a token's cache entry (used on logout)
func (v *Validator) Invalidate(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	return v.store.Delete(ctx, tokenKeyPrefix+hashToken(rawToken))
}

// cached returns the live cache entry for a token hash, if any
func (v *Validator) cached(ctx context.Context, hash string) *types.ValidatedToken {
	data, err := v.store.Get(ctx, tokenKeyPrefix+hash)
	if err != nil {
		if !errors.Is(err, types.ErrKeyNotFound) {
			v.logger.Warn("Token cache read failed, validating upstream", "error", err)
		}
		return nil
	}

	var token types.ValidatedToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		v.logger.Warn("Dropping undecodable token cache entry", "error", err)
		_ = v.store.Delete(ctx, tokenKeyPrefix+hash)
		return nil
	}
	if token.Expired(v.clock.Now()) {
		_ = v.store.Delete(ctx, tokenKeyPrefix+hash)
		return nil
	}
	return &token
}

// cache stores validated claims. The TTL is clamped to the token's own
// remaining lifetime so a cached entry can never outlive its token.
func (v *Validator) cache(ctx context.Context, hash string, token *types.ValidatedToken) {
	ttl := v.ttl
	if !token.ExpiresAt.IsZero() {
		remaining := token.RemainingLifetime(v.clock.Now())
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}

	data, err := json.Marshal(token)
	if err != nil {
		v.logger.Warn("Failed to encode token claims", "error", err)
		return
	}
	if err := v.store.Set(ctx, tokenKeyPrefix+hash, string(data), ttl); err != nil {
		v.logger.Warn("Failed to cache token claims", "error", err)
	}
}
