// Package auth validates bearer credentials against the identity provider,
// caching validated claims in the shared store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"vexgate/internal/types"
)

// DefaultProviderTimeout bounds each identity-provider call
const DefaultProviderTimeout = 5 * time.Second

// IdentityProvider is the upstream validation contract
type IdentityProvider interface {
	Validate(ctx context.Context, rawToken string) (*types.ValidatedToken, error)
}

// Client calls the external identity provider over HTTP. The call is
// guarded by a circuit breaker so a provider outage fails fast; rejected
// tokens are definitive answers and never count as provider failures.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  types.Logger
}

// NewClient creates an identity-provider client
func NewClient(baseURL string, timeout time.Duration, logger types.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}

	settings := gobreaker.Settings{
		Name:        "identity-provider",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// claimsPayload is the provider's wire format; timestamps are epoch seconds
type claimsPayload struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (p claimsPayload) toToken() *types.ValidatedToken {
	token := &types.ValidatedToken{
		UserID: p.UserID,
		Email:  p.Email,
	}
	if p.IssuedAt > 0 {
		token.IssuedAt = time.Unix(p.IssuedAt, 0).UTC()
	}
	if p.ExpiresAt > 0 {
		token.ExpiresAt = time.Unix(p.ExpiresAt, 0).UTC()
	}
	return token
}

// validateOutcome carries a definitive rejection through the breaker
// without counting it as a failure.
type validateOutcome struct {
	claims   *types.ValidatedToken
	rejected bool
}

// Validate posts the token to the provider. It returns ErrUnauthenticated
// for rejected tokens and ErrUpstreamUnavailable when the provider cannot
// answer (unreachable, 5xx, or circuit open).
func (c *Client) Validate(ctx context.Context, rawToken string) (*types.ValidatedToken, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+rawToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("identity provider unreachable: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var payload claimsPayload
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return nil, fmt.Errorf("decoding claims: %w", err)
			}
			return &validateOutcome{claims: payload.toToken()}, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return &validateOutcome{rejected: true}, nil
		default:
			return nil, fmt.Errorf("identity provider returned %d", resp.StatusCode)
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("Identity provider circuit open, failing fast")
			return nil, fmt.Errorf("%w: identity provider circuit open", types.ErrUpstreamUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}

	outcome := out.(*validateOutcome)
	if outcome.rejected {
		return nil, types.ErrUnauthenticated
	}
	return outcome.claims, nil
}
