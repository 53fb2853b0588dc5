package v1_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

const (
	waitFor       = 2 * time.Second
	sessionSecret = "v1-test-session-secret-long-enough!!"
)

// ---------------------------------------------------------------------------
// Frames backed by in-memory pipes
// ---------------------------------------------------------------------------

type frames struct {
	dir *frame.Directory
	reg *taskproxy.Registry
}

func newFrames(t *testing.T, tick time.Duration) *frames {
	t.Helper()

	dir := frame.NewDirectory()
	reg := taskproxy.NewRegistry(dir, taskproxy.WithHandshakeTick(tick))
	t.Cleanup(reg.Close)

	return &frames{dir: dir, reg: reg}
}

// attachTask attaches a frame whose document runs a task-side channel.
func (f *frames) attachTask(t *testing.T, frameID, scope string) *channel.Channel {
	t.Helper()

	hostEnd, taskEnd := channel.NewPipe("https://host.example", "https://tasks.example")
	t.Cleanup(func() {
		_ = hostEnd.Close()
		_ = taskEnd.Close()
	})

	f.dir.Attach(frame.New(frameID, "https://tasks.example/maze/index.html?channelId="+scope, hostEnd))

	task := channel.Build(channel.Options{Window: taskEnd, Origin: channel.AnyOrigin, Scope: scope})
	t.Cleanup(task.Destroy)
	return task
}

// attachSilent attaches a frame nobody answers on.
func (f *frames) attachSilent(t *testing.T, frameID string) {
	t.Helper()

	hostEnd, other := channel.NewPipe("https://host.example", "https://tasks.example")
	t.Cleanup(func() {
		_ = hostEnd.Close()
		_ = other.Close()
	})
	f.dir.Attach(frame.New(frameID, "https://tasks.example/index.html?channelId=silent", hostEnd))
}

func taskCall(t *testing.T, task *channel.Channel, method string, params any) (json.RawMessage, error) {
	t.Helper()

	type outcome struct {
		res json.RawMessage
		err error
	}
	out := make(chan outcome, 1)
	task.Call(channel.CallOptions{
		Method:  method,
		Params:  params,
		Timeout: time.Second,
		Success: func(r json.RawMessage) { out <- outcome{res: r} },
		Error:   func(err error) { out <- outcome{err: err} },
	})

	select {
	case o := <-out:
		return o.res, o.err
	case <-time.After(waitFor):
		t.Fatal("task call did not complete")
		return nil, nil
	}
}

func bind(t *testing.T, task *channel.Channel, method string, result any) {
	t.Helper()

	require.NoError(t, task.Bind(method, func(*channel.Transaction, json.RawMessage) (any, error) {
		return result, nil
	}))
}

// ---------------------------------------------------------------------------
// Mock RemoteFrames
// ---------------------------------------------------------------------------

type mockRemote struct {
	mu         sync.Mutex
	attachFunc func(frameID, src string) (*frame.Frame, error)
	detached   []string
	known      map[string]bool
}

func (m *mockRemote) Attach(frameID, src string) (*frame.Frame, error) {
	return m.attachFunc(frameID, src)
}

func (m *mockRemote) Detach(frameID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detached = append(m.detached, frameID)
	return m.known[frameID]
}
