package v1_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/taskbridge/internal/api/v1"
	"github.com/gosuda/taskbridge/internal/auth"
)

type sessionBody struct {
	SessionID uuid.UUID `json:"session_id"`
	Token     string    `json:"token"`
	CSRF      string    `json:"csrf"`
	ExpiresAt time.Time `json:"expires_at"`
	EmbedURL  string    `json:"embed_url"`
}

func newSessionAPI(t *testing.T) humatest.TestAPI {
	t.Helper()

	_, api := humatest.New(t)
	v1.RegisterSessionRoutes(api, v1.SessionConfig{Secret: sessionSecret, TTL: time.Hour})
	return api
}

// ---------------------------------------------------------------------------
// TestCreateSession
// ---------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api := newSessionAPI(t)
		resp := api.Post("/sessions", map[string]any{
			"task_id":     "maze",
			"platform_id": "contest-1",
		})
		require.Equal(t, http.StatusOK, resp.Code)

		var body sessionBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEqual(t, uuid.Nil, body.SessionID)
		assert.Len(t, body.CSRF, 32)
		assert.Empty(t, body.EmbedURL)
		assert.WithinDuration(t, time.Now().Add(time.Hour), body.ExpiresAt, time.Minute)

		claims, err := auth.ValidateSessionToken(sessionSecret, body.Token)
		require.NoError(t, err)
		assert.Equal(t, body.SessionID.String(), claims.SessionID)
		assert.Equal(t, "maze", claims.TaskID)
		assert.Equal(t, "contest-1", claims.PlatformID)
		assert.Equal(t, body.CSRF, claims.CSRF)
	})

	t.Run("reuses_session_and_builds_embed_url", func(t *testing.T) {
		t.Parallel()

		api := newSessionAPI(t)
		sessionID := uuid.New()
		resp := api.Post("/sessions", map[string]any{
			"task_id":      "maze",
			"session_id":   sessionID.String(),
			"base_url":     "https://tasks.example/maze/index.html",
			"scope_prefix": "t1_",
		})
		require.Equal(t, http.StatusOK, resp.Code)

		var body sessionBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, sessionID, body.SessionID)

		u, err := url.Parse(body.EmbedURL)
		require.NoError(t, err)
		assert.Equal(t, body.Token, u.Query().Get("sToken"))
		assert.Regexp(t, `^t1_\d+$`, u.Query().Get("channelId"))
	})

	t.Run("missing_task_id", func(t *testing.T) {
		t.Parallel()

		api := newSessionAPI(t)
		resp := api.Post("/sessions", map[string]any{"platform_id": "p"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// TestBuildEmbedURL
// ---------------------------------------------------------------------------

func TestBuildEmbedURL(t *testing.T) {
	t.Parallel()

	api := newSessionAPI(t)
	resp := api.Post("/embed-url", map[string]any{
		"base_url":      "https://tasks.example/maze/?lang=fr",
		"session_token": "a b",
		"platform_id":   "pf",
		"scope_prefix":  "x",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		URL   string `json:"url"`
		Scope string `json:"scope"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Regexp(t, `^https://tasks\.example/maze/\?lang=fr&sToken=a%20b&sPlatform=pf&channelId=x\d+$`, body.URL)
	assert.Regexp(t, `^x\d+$`, body.Scope)
}
