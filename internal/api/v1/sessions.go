package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/taskbridge/internal/auth"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

// SessionConfig controls the session tokens issued to task documents.
type SessionConfig struct {
	Secret string //nolint:gosec // G117: session signing secret config
	TTL    time.Duration
}

type CreateSessionInput struct {
	Body struct {
		TaskID      string     `json:"task_id" minLength:"1" maxLength:"255" doc:"Task identifier"`
		PlatformID  string     `json:"platform_id,omitempty" maxLength:"255" doc:"Platform identifier passed as sPlatform"`
		SessionID   *uuid.UUID `json:"session_id,omitempty" doc:"Reuse an existing session id"`
		BaseURL     string     `json:"base_url,omitempty" doc:"Task document URL; when set, an embed URL is returned"`
		ScopePrefix string     `json:"scope_prefix,omitempty" maxLength:"64" doc:"Prefix of the generated channelId"`
	}
}

type CreateSessionOutput struct {
	Body struct {
		SessionID uuid.UUID `json:"session_id"`
		Token     string    `json:"token"` //nolint:gosec // G117: session token response DTO
		CSRF      string    `json:"csrf"`
		ExpiresAt time.Time `json:"expires_at"`
		EmbedURL  string    `json:"embed_url,omitempty"`
	}
}

type EmbedURLInput struct {
	Body struct {
		BaseURL      string `json:"base_url" minLength:"1" doc:"Task document URL"`
		SessionToken string `json:"session_token,omitempty" doc:"Value of sToken"`
		PlatformID   string `json:"platform_id,omitempty" doc:"Value of sPlatform"`
		ScopePrefix  string `json:"scope_prefix,omitempty" maxLength:"64" doc:"Prefix of the generated channelId"`
	}
}

type EmbedURLOutput struct {
	Body struct {
		URL   string `json:"url"`
		Scope string `json:"scope"`
	}
}

func RegisterSessionRoutes(api huma.API, cfg SessionConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Issue a session token for a task document",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		session := auth.Session{
			ID:         uuid.New(),
			TaskID:     input.Body.TaskID,
			PlatformID: input.Body.PlatformID,
		}
		if input.Body.SessionID != nil && *input.Body.SessionID != uuid.Nil {
			session.ID = *input.Body.SessionID
		}

		expiresAt := time.Now().Add(cfg.TTL)
		token, csrf, err := auth.IssueSessionToken(cfg.Secret, session, cfg.TTL)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to issue session token", err)
		}

		out := &CreateSessionOutput{}
		out.Body.SessionID = session.ID
		out.Body.Token = token
		out.Body.CSRF = csrf
		out.Body.ExpiresAt = expiresAt.UTC()
		if input.Body.BaseURL != "" {
			out.Body.EmbedURL = taskproxy.BuildEmbedURL(input.Body.BaseURL, token, session.PlatformID, input.Body.ScopePrefix)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "build-embed-url",
		Method:      http.MethodPost,
		Path:        "/embed-url",
		Summary:     "Build the URL a task document is embedded with",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *EmbedURLInput) (*EmbedURLOutput, error) {
		u := taskproxy.BuildEmbedURL(input.Body.BaseURL, input.Body.SessionToken, input.Body.PlatformID, input.Body.ScopePrefix)

		out := &EmbedURLOutput{}
		out.Body.URL = u
		out.Body.Scope = taskproxy.ScopeFromSource(u)
		return out, nil
	})
}
