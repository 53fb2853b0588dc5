package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskbridge/internal/auth"
	"github.com/gosuda/taskbridge/internal/server/middleware"
)

const testJWTSecret = "test-jwt-secret-for-middleware-tests"

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { //nolint:gochecknoglobals // test fixture
	w.WriteHeader(http.StatusOK)
})

// contextHandler records what OperatorAuth put in the request context.
type contextHandler struct {
	operator string
	method   string
	called   bool
}

func (h *contextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.operator, _ = middleware.OperatorFromContext(r.Context())
	h.method, _ = middleware.AuthMethodFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func setOperator(r *http.Request, operator string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.ContextKeyOperator, operator)
	return r.WithContext(ctx)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ===========================================================================
// 1. Context helpers
// ===========================================================================

func TestOperatorFromContext(t *testing.T) {
	t.Parallel()

	t.Run("present", func(t *testing.T) {
		t.Parallel()

		ctx := context.WithValue(context.Background(), middleware.ContextKeyOperator, "ops")
		got, ok := middleware.OperatorFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "ops", got)
	})

	t.Run("absent", func(t *testing.T) {
		t.Parallel()

		_, ok := middleware.OperatorFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("empty subject", func(t *testing.T) {
		t.Parallel()

		ctx := context.WithValue(context.Background(), middleware.ContextKeyOperator, "")
		_, ok := middleware.OperatorFromContext(ctx)
		assert.False(t, ok)
	})
}

// ===========================================================================
// 2. Rate limiting
// ===========================================================================

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	// Very low rate (effectively zero refill during the test) with burst of 2.
	handler := middleware.RateLimitByIP(t.Context(), 0.001, 2)(okHandler)

	fromIP := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = ip
		return req
	}

	for i := range 2 {
		require.Equalf(t, http.StatusOK, serve(handler, fromIP("10.0.0.1")).Code, "request %d should pass", i+1)
	}

	rec := serve(handler, fromIP("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusOK, serve(handler, fromIP("10.0.0.2")).Code, "other IPs keep their own bucket")
}

func TestRateLimitByOperator_NoOperator_PassesThrough(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByOperator(t.Context(), 0.001, 1)(okHandler)

	for range 3 {
		assert.Equal(t, http.StatusOK, serve(handler, httptest.NewRequest(http.MethodGet, "/", http.NoBody)).Code)
	}
}

func TestRateLimitByOperator_IndependentPerOperator(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByOperator(t.Context(), 0.001, 1)(okHandler)
	req := func(op string) *http.Request {
		return setOperator(httptest.NewRequest(http.MethodGet, "/", http.NoBody), op)
	}

	require.Equal(t, http.StatusOK, serve(handler, req("alice")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, req("alice")).Code)
	assert.Equal(t, http.StatusOK, serve(handler, req("bob")).Code)
}

// ===========================================================================
// 3. OperatorAuth
// ===========================================================================

func TestOperatorAuth_Token_PopulatesContext(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueOperatorToken(testJWTSecret, "ops@example.com", 15*time.Minute)
	require.NoError(t, err)

	capture := &contextHandler{}
	handler := middleware.OperatorAuth(testJWTSecret, nil)(capture)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(handler, req)

	require.True(t, capture.called, "inner handler must be called")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", capture.operator)
	assert.Equal(t, middleware.AuthMethodToken, capture.method)
}

func TestOperatorAuth_BearerFormat(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueOperatorToken(testJWTSecret, "ops", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "standard", header: "Bearer " + token, want: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, want: http.StatusOK},
		{name: "missing scheme", header: token, want: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "scheme only", header: "Bearer ", want: http.StatusUnauthorized},
	}

	handler := middleware.OperatorAuth(testJWTSecret, nil)(okHandler)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", tc.header)
			assert.Equal(t, tc.want, serve(handler, req).Code)
		})
	}
}

func TestOperatorAuth_RejectedTokens(t *testing.T) {
	t.Parallel()

	session, _, err := auth.IssueSessionToken(testJWTSecret, auth.Session{ID: uuid.New(), TaskID: "maze"}, time.Hour)
	require.NoError(t, err)
	expired, err := auth.IssueOperatorToken(testJWTSecret, "ops", -time.Minute)
	require.NoError(t, err)
	wrongSecret, err := auth.IssueOperatorToken("a-completely-different-secret-value", "ops", time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":       "totally.invalid.token",
		"session token": session,
		"expired":       expired,
		"wrong secret":  wrongSecret,
	}

	handler := middleware.OperatorAuth(testJWTSecret, nil)(okHandler)
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", "Bearer "+tok)
			rec := serve(handler, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "Unauthorized")
		})
	}
}

func TestOperatorAuth_APIKey(t *testing.T) {
	t.Parallel()

	rawKey, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	otherKey, _, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	t.Run("valid key populates context", func(t *testing.T) {
		t.Parallel()

		capture := &contextHandler{}
		handler := middleware.OperatorAuth(testJWTSecret, []string{hash})(capture)

		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("X-API-Key", rawKey)
		rec := serve(handler, req)

		require.True(t, capture.called)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, middleware.AuthMethodAPIKey, capture.method)
		assert.NotEmpty(t, capture.operator)
	})

	t.Run("unknown key", func(t *testing.T) {
		t.Parallel()

		handler := middleware.OperatorAuth(testJWTSecret, []string{hash})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("X-API-Key", otherKey)
		assert.Equal(t, http.StatusUnauthorized, serve(handler, req).Code)
	})

	t.Run("no hashes configured", func(t *testing.T) {
		t.Parallel()

		handler := middleware.OperatorAuth(testJWTSecret, nil)(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("X-API-Key", rawKey)
		assert.Equal(t, http.StatusUnauthorized, serve(handler, req).Code)
	})
}

func TestOperatorAuth_NoCredentials_Returns401(t *testing.T) {
	t.Parallel()

	handler := middleware.OperatorAuth(testJWTSecret, nil)(okHandler)
	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
