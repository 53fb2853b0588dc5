package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/frame"
	"github.com/gosuda/taskbridge/internal/remote"
	redisstore "github.com/gosuda/taskbridge/internal/store/redis"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

type memBroker struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
	fail error
}

func newMemBroker() *memBroker {
	return &memBroker{subs: make(map[string][]chan []byte)}
}

func (b *memBroker) Publish(_ context.Context, ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[ch] {
		select {
		case sub <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (b *memBroker) Subscribe(ctx context.Context, ch string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fail != nil {
		return nil, nil, b.fail
	}

	in := make(chan []byte, 64)
	out := make(chan []byte, 64)
	b.subs[ch] = append(b.subs[ch], in)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-in:
				out <- msg
			}
		}
	}()

	return out, func() {}, nil
}

type fixture struct {
	broker  *memBroker
	frames  *frame.Directory
	proxies *taskproxy.Registry
	remote  *remote.Frames
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := newMemBroker()
	frames := frame.NewDirectory()
	proxies := taskproxy.NewRegistry(frames, taskproxy.WithHandshakeTick(10*time.Millisecond))
	t.Cleanup(proxies.Close)

	r := remote.NewFrames(ctx, broker, frames, proxies, "https://host.example")
	t.Cleanup(r.Close)

	return &fixture{broker: broker, frames: frames, proxies: proxies, remote: r}
}

// taskSide builds the channel a remote task document would run.
func (f *fixture) taskSide(t *testing.T, frameID, scope string) *channel.Channel {
	t.Helper()

	win, err := redisstore.NewWindow(context.Background(), f.broker, frameID, redisstore.SideTask, "https://tasks.example")
	require.NoError(t, err)
	t.Cleanup(func() { _ = win.Close() })

	ch := channel.Build(channel.Options{Window: win, Origin: channel.AnyOrigin, Scope: scope})
	t.Cleanup(ch.Destroy)
	return ch
}

func TestFrames_AttachCallDetach(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	task := f.taskSide(t, "r1", "c9")
	require.NoError(t, task.Bind("task.getMetaData", func(*channel.Transaction, json.RawMessage) (any, error) {
		return map[string]any{"id": "remote"}, nil
	}))

	fr, err := f.remote.Attach("r1", "https://tasks.example/maze/?channelId=c9")
	require.NoError(t, err)
	assert.Equal(t, "r1", fr.ID())
	assert.Equal(t, 1, f.remote.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	proxy, err := f.proxies.GetOrCreate("r1", false, nil, nil).Wait(ctx)
	require.NoError(t, err)

	meta, err := proxy.GetMetaData(nil, nil).Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"remote"}`, string(meta))

	assert.True(t, f.remote.Detach("r1"))
	assert.False(t, f.remote.Detach("r1"))
	assert.Zero(t, f.remote.Len())
	assert.Zero(t, f.frames.Len())
	assert.Zero(t, f.proxies.Len())
}

func TestFrames_ReattachResetsProxy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.taskSide(t, "r2", "c1")

	first, err := f.remote.Attach("r2", "https://tasks.example/?channelId=c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = f.proxies.GetOrCreate("r2", false, nil, nil).Wait(ctx)
	require.NoError(t, err)

	second, err := f.remote.Attach("r2", "https://tasks.example/?channelId=c1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	got, ok := f.frames.Lookup("r2")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Zero(t, f.proxies.Len(), "the proxy bound to the old window is gone")
	assert.Equal(t, 1, f.remote.Len())
}

func TestFrames_AttachErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.remote.Attach("", "https://tasks.example/")
	require.Error(t, err)

	f.broker.fail = errors.New("connection refused")
	_, err = f.remote.Attach("r3", "https://tasks.example/")
	require.Error(t, err)
	assert.Zero(t, f.frames.Len())
}
