package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vexgate/internal/types"
)

func claimsBody(issued, expires time.Time) string {
	return fmt.Sprintf(`{"userId":"user-42","email":"dev@example.com","issuedAt":%d,"expiresAt":%d}`,
		issued.Unix(), expires.Unix())
}

func TestClientValidateOK(t *testing.T) {
	issued := time.Unix(1700000000, 0).UTC()
	expires := issued.Add(time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/validate", r.URL.Path)
		assert.Equal(t, "Bearer raw-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, claimsBody(issued, expires))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, &mockLogger{})
	token, err := client.Validate(context.Background(), "raw-token")
	require.NoError(t, err)
	assert.Equal(t, "user-42", token.UserID)
	assert.Equal(t, "dev@example.com", token.Email)
	assert.Equal(t, issued.Unix(), token.IssuedAt.Unix())
	assert.Equal(t, expires.Unix(), token.ExpiresAt.Unix())
}

func TestClientValidateRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			client := NewClient(server.URL, 0, &mockLogger{})
			_, err := client.Validate(context.Background(), "bad-token")
			assert.ErrorIs(t, err, types.ErrUnauthenticated)
		})
	}
}

func TestClientValidateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, &mockLogger{})
	_, err := client.Validate(context.Background(), "token")
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
}

func TestClientValidateUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, time.Second, &mockLogger{})
	_, err := client.Validate(context.Background(), "token")
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
}

func TestClientValidateMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, &mockLogger{})
	_, err := client.Validate(context.Background(), "token")
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
}

func TestClientRejectionsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 10 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		issued := time.Now().UTC()
		json.NewEncoder(w).Encode(map[string]any{
			"userId":    "user-42",
			"email":     "dev@example.com",
			"issuedAt":  issued.Unix(),
			"expiresAt": issued.Add(time.Hour).Unix(),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, &mockLogger{})
	for i := 0; i < 10; i++ {
		_, err := client.Validate(context.Background(), "bad-token")
		require.ErrorIs(t, err, types.ErrUnauthenticated)
	}
	assert.EqualValues(t, 10, hits.Load(), "rejections must keep reaching the provider")

	token, err := client.Validate(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-42", token.UserID)
}

func TestClientBreakerOpensOnOutage(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, &mockLogger{})
	for i := 0; i < 5; i++ {
		_, err := client.Validate(context.Background(), "token")
		require.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	}
	require.EqualValues(t, 5, hits.Load())

	_, err := client.Validate(context.Background(), "token")
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.EqualValues(t, 5, hits.Load(), "an open breaker must stop hitting the provider")
}
