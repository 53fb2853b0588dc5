// Package ws attaches embedded task documents to the host over websockets.
package ws

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/auth"
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

// Hub registers websocket-connected task documents as frames.
type Hub struct {
	frames        *frame.Directory
	proxies       *taskproxy.Registry
	sessionSecret string
	accept        *websocket.AcceptOptions
}

// NewHub creates a hub. originPatterns lists the hosts allowed to open
// cross-origin connections; nil allows same-origin only.
func NewHub(frames *frame.Directory, proxies *taskproxy.Registry, sessionSecret string, originPatterns []string) *Hub {
	return &Hub{
		frames:        frames,
		proxies:       proxies,
		sessionSecret: sessionSecret,
		accept:        &websocket.AcceptOptions{OriginPatterns: originPatterns},
	}
}

// ServeFrame handles GET /ws/frames/{frameID}?sToken=...&channelId=...
// The connection becomes the frame's window until it closes. A reconnect
// under the same id replaces the frame and resets its proxy.
func (h *Hub) ServeFrame(w http.ResponseWriter, r *http.Request) {
	frameID := chi.URLParam(r, "frameID")
	if frameID == "" {
		http.Error(w, "missing frame id", http.StatusBadRequest)
		return
	}

	claims, err := auth.ValidateSessionToken(h.sessionSecret, r.URL.Query().Get("sToken"))
	if err != nil {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	// Server read/write timeouts would cut long-lived frames.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	win := NewWindow(conn, r.Header.Get("Origin"))
	f := frame.New(frameID, r.URL.String(), win)

	if _, replaced := h.frames.Attach(f); replaced {
		h.proxies.Reset(frameID)
	}
	log.Info().
		Str("frame_id", frameID).
		Str("session_id", claims.SessionID).
		Str("scope", taskproxy.ScopeFromSource(f.Src())).
		Msg("frame attached")

	runErr := win.Run(ctx)

	if h.frames.Detach(f) {
		h.proxies.Delete(frameID)
	}
	if runErr != nil {
		log.Debug().Err(runErr).Str("frame_id", frameID).Msg("websocket read")
	}
	log.Info().Str("frame_id", frameID).Msg("frame detached")

	_ = conn.Close(websocket.StatusNormalClosure, "frame detached")
}
