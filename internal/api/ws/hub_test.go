package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskbridge/internal/api/ws"
	"github.com/gosuda/taskbridge/internal/auth"
	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

const sessionSecret = "ws-test-session-secret-long-enough!!"

type fixture struct {
	srv     *httptest.Server
	frames  *frame.Directory
	proxies *taskproxy.Registry
	token   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	frames := frame.NewDirectory()
	proxies := taskproxy.NewRegistry(frames, taskproxy.WithHandshakeTick(10*time.Millisecond))
	t.Cleanup(proxies.Close)

	hub := ws.NewHub(frames, proxies, sessionSecret, nil)
	r := chi.NewRouter()
	r.Get("/ws/frames/{frameID}", hub.ServeFrame)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, _, err := auth.IssueSessionToken(sessionSecret, auth.Session{ID: uuid.New(), TaskID: "maze"}, time.Minute)
	require.NoError(t, err)

	return &fixture{srv: srv, frames: frames, proxies: proxies, token: token}
}

func (f *fixture) url(frameID, token, scope string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/frames/" + frameID + "?sToken=" + token + "&channelId=" + scope
}

func TestHub_RejectsInvalidToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, resp, err := websocket.Dial(context.Background(), f.url("f1", "garbage", "c1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.frames.Len())
}

func TestHub_AttachCallDetach(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, f.url("f1", f.token, "c1"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	// Task side of the frame.
	win := ws.NewWindow(conn, f.srv.URL)
	go func() { _ = win.Run(ctx) }()

	task := channel.Build(channel.Options{Window: win, Origin: channel.AnyOrigin, Scope: "c1"})
	t.Cleanup(task.Destroy)
	require.NoError(t, task.Bind("task.getMetaData", func(*channel.Transaction, json.RawMessage) (any, error) {
		return map[string]any{"id": "maze", "language": "en"}, nil
	}))

	require.Eventually(t, func() bool {
		_, ok := f.frames.Lookup("f1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()

	proxy, err := f.proxies.GetOrCreate("f1", false, nil, nil).Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, taskproxy.StateReady, proxy.State())

	meta, err := proxy.GetMetaData(nil, nil).Wait(waitCtx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"maze","language":"en"}`, string(meta))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	assert.Eventually(t, func() bool {
		return f.frames.Len() == 0 && f.proxies.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}
