package taskproxy

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/frame"
)

// silentChannel never becomes ready on its own.
type silentChannel struct {
	opts      channel.Options
	destroyed atomic.Int32
}

func (c *silentChannel) Bind(string, channel.Handler) error { return nil }
func (c *silentChannel) Call(channel.CallOptions)           {}
func (c *silentChannel) Destroy()                           { c.destroyed.Add(1) }

func newSilentProxy(t *testing.T, onReady func(), onError func(error)) (*Proxy, *silentChannel) {
	t.Helper()

	ch := &silentChannel{}
	f := frame.New("f1", "https://tasks.example/t.html?channelId=c1", nil)
	p := newProxy(f, nopObserver{})
	p.start(proxyConfig{
		build: func(opts channel.Options) Channel {
			ch.opts = opts
			return ch
		},
		tick:     time.Hour,
		observer: nopObserver{},
	}, onReady, onError)
	t.Cleanup(p.destroy)

	return p, ch
}

func TestProxy_StartArmsWatchdogBeforeBuild(t *testing.T) {
	t.Parallel()

	f := frame.New("f1", "https://tasks.example/t.html?channelId=c1", nil)
	p := newProxy(f, nopObserver{})
	t.Cleanup(p.destroy)

	var armed bool
	p.start(proxyConfig{
		build: func(channel.Options) Channel {
			p.mu.Lock()
			armed = p.ticker != nil
			p.mu.Unlock()
			return &silentChannel{}
		},
		tick:     time.Hour,
		observer: nopObserver{},
	}, func() {}, func(error) {})

	assert.True(t, armed, "watchdog must run while the channel is built")
}

func TestProxy_ReadyDuringBuild(t *testing.T) {
	t.Parallel()

	var readies atomic.Int32
	f := frame.New("f1", "https://tasks.example/t.html?channelId=c1", nil)
	p := newProxy(f, nopObserver{})
	t.Cleanup(p.destroy)

	ch := &silentChannel{}
	p.start(proxyConfig{
		build: func(opts channel.Options) Channel {
			opts.OnReady()
			assert.Equal(t, StateConnecting, p.State(), "ready waits for the channel")
			return ch
		},
		tick:     time.Hour,
		observer: nopObserver{},
	}, func() { readies.Add(1) }, func(error) { t.Error("timeout must not fire") })

	assert.EqualValues(t, 1, readies.Load())
	assert.Equal(t, StateReady, p.State())
	assert.Same(t, Channel(ch), p.channel())
}

func TestProxy_DestroyedDuringBuild(t *testing.T) {
	t.Parallel()

	f := frame.New("f1", "https://tasks.example/t.html?channelId=c1", nil)
	p := newProxy(f, nopObserver{})

	ch := &silentChannel{}
	p.start(proxyConfig{
		build: func(channel.Options) Channel {
			p.destroy()
			return ch
		},
		tick:     time.Hour,
		observer: nopObserver{},
	}, func() { t.Error("ready must not fire") }, func(error) { t.Error("timeout must not fire") })

	assert.EqualValues(t, 1, ch.destroyed.Load())
	assert.Nil(t, p.channel())

	var builds atomic.Int32
	p.start(proxyConfig{
		build: func(channel.Options) Channel {
			builds.Add(1)
			return ch
		},
		tick:     time.Hour,
		observer: nopObserver{},
	}, func() {}, func(error) {})
	assert.Zero(t, builds.Load(), "destroyed proxies never build")
}

func TestProxy_InvokeBeforeBuild(t *testing.T) {
	t.Parallel()

	f := frame.New("f1", "https://tasks.example/t.html?channelId=c1", nil)
	p := newProxy(f, nopObserver{})

	failed := make(chan error, 1)
	call := p.GetState(nil, func(err error) { failed <- err })

	select {
	case <-call.Done():
	default:
		t.Fatal("call must resolve immediately")
	}
	_, err := call.Wait(t.Context())
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, <-failed, ErrNotConnected)
}

func TestProxy_HandshakeTimeout(t *testing.T) {
	t.Parallel()

	var failures atomic.Int32
	onError := func(err error) {
		failures.Add(1)
		assert.ErrorIs(t, err, ErrHandshakeTimeout)
	}
	p, ch := newSilentProxy(t, func() { t.Error("ready must not fire") }, onError)

	for range handshakeMaxTicks {
		require.False(t, p.tick(onError))
	}
	assert.Equal(t, StateConnecting, p.State())
	assert.Zero(t, failures.Load())

	require.True(t, p.tick(onError))
	assert.Equal(t, StateTimedOut, p.State())
	assert.EqualValues(t, 1, failures.Load())

	require.True(t, p.tick(onError))
	ch.opts.OnReady()
	assert.EqualValues(t, 1, failures.Load())
	assert.Equal(t, StateTimedOut, p.State())
}

func TestProxy_ReadyOnce(t *testing.T) {
	t.Parallel()

	var readies atomic.Int32
	onError := func(error) { t.Error("timeout must not fire") }
	p, ch := newSilentProxy(t, func() { readies.Add(1) }, onError)

	assert.Equal(t, "c1", ch.opts.Scope)
	assert.Equal(t, channel.AnyOrigin, ch.opts.Origin)

	ch.opts.OnReady()
	ch.opts.OnReady()

	assert.EqualValues(t, 1, readies.Load())
	assert.Equal(t, StateReady, p.State())
	assert.True(t, p.tick(onError), "watchdog stops once ready")
}

func TestProxy_DestroyAbandonsHandshake(t *testing.T) {
	t.Parallel()

	onError := func(error) { t.Error("timeout must not fire") }
	p, ch := newSilentProxy(t, func() { t.Error("ready must not fire") }, onError)

	p.destroy()
	p.destroy()

	assert.EqualValues(t, 1, ch.destroyed.Load())
	assert.True(t, p.tick(onError))
	ch.opts.OnReady()
	assert.Equal(t, StateConnecting, p.State())
}

func TestScopeFromSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  string
		want string
	}{
		{src: "https://t.example/a.html?channelId=abc", want: "abc"},
		{src: "https://t.example/a.html?x=1&channelId=g123&y=2", want: "g123"},
		{src: "https://t.example/a.html?channelId=a+b%21", want: "a b!"},
		{src: "https://t.example/a.html", want: ""},
		{src: "https://t.example/a.html#channelId=nope", want: ""},
		{src: "://bad", want: ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, ScopeFromSource(tc.src), tc.src)
	}
}

func TestKeyDefault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  string
		wantKey string
		wantDef any
	}{
		{name: "absent", params: ``},
		{name: "null", params: `null`},
		{name: "key only", params: `["maxScore"]`, wantKey: "maxScore"},
		{name: "key and default", params: `["bogusKey","fallback"]`, wantKey: "bogusKey", wantDef: "fallback"},
		{name: "null key", params: `[null, 3]`, wantDef: json.Number("3")},
		{name: "numeric key", params: `[7]`, wantKey: "7"},
		{name: "bare string", params: `"readOnly"`, wantKey: "readOnly"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			key, def := keyDefault(json.RawMessage(tc.params))
			assert.Equal(t, tc.wantKey, key)
			assert.Equal(t, tc.wantDef, def)
		})
	}
}

func TestParamString(t *testing.T) {
	t.Parallel()

	assert.Empty(t, paramString(nil))
	assert.Empty(t, paramString(json.RawMessage(`null`)))
	assert.Equal(t, "done", paramString(json.RawMessage(`"done"`)))
	assert.Equal(t, `{"a":1}`, paramString(json.RawMessage(`{"a":1}`)))
}

func TestEncodeURIComponent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a%20b%2Bc%2Fd", encodeURIComponent("a b+c/d"))
	assert.Equal(t, "-_.!~*'()", encodeURIComponent("-_.!~*'()"))
	assert.Equal(t, "%C3%A9%3D%26%3F", encodeURIComponent("é=&?"))
}
