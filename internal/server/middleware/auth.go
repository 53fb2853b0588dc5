package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/auth"
)

const (
	AuthMethodToken  = "token"
	AuthMethodAPIKey = "api_key"

	apiKeySubject = "api-key"
)

// OperatorAuth admits requests carrying an operator bearer token signed with
// secret, or an X-API-Key matching one of apiKeyHashes. Session tokens are
// rejected: they belong to task documents, not operators.
func OperatorAuth(secret string, apiKeyHashes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try Bearer token first.
			if tok := extractBearer(r); tok != "" {
				if ctx, ok := authenticateToken(r.Context(), tok, secret); ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			// Try API key.
			if key := r.Header.Get("X-API-Key"); key != "" && len(apiKeyHashes) > 0 {
				if ctx, ok := authenticateAPIKey(r.Context(), key, apiKeyHashes); ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func authenticateToken(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims, err := auth.ValidateOperatorToken(secret, tokenStr)
	if err != nil || claims.Subject == "" {
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyOperator, claims.Subject)
	ctx = context.WithValue(ctx, ContextKeyAuthMethod, AuthMethodToken)
	return ctx, true
}

func authenticateAPIKey(ctx context.Context, rawKey string, hashes []string) (context.Context, bool) {
	if err := auth.VerifyAPIKey(rawKey, hashes); err != nil {
		log.Debug().Err(err).Msg("auth: api key rejected")
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyOperator, apiKeySubject)
	ctx = context.WithValue(ctx, ContextKeyAuthMethod, AuthMethodAPIKey)
	return ctx, true
}
