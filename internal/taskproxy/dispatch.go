package taskproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/platform"
)

type inboundFunc func(ctx context.Context, a platform.Adapter, params json.RawMessage) (any, error)

type inboundMethod struct {
	name string
	fn   inboundFunc
}

var errNoPlatform = errors.New("taskproxy: no platform attached") //nolint:gochecknoglobals // sentinel error

func platformMethods() []inboundMethod {
	return []inboundMethod{
		{name: "platform.validate", fn: func(ctx context.Context, a platform.Adapter, params json.RawMessage) (any, error) {
			return a.Validate(ctx, paramString(params))
		}},
		{name: "platform.getTaskParams", fn: func(ctx context.Context, a platform.Adapter, params json.RawMessage) (any, error) {
			key, def := keyDefault(params)
			return a.GetTaskParams(ctx, key, def)
		}},
		{name: "platform.showView", fn: func(ctx context.Context, a platform.Adapter, params json.RawMessage) (any, error) {
			return a.ShowView(ctx, params)
		}},
		{name: "platform.askHint", fn: func(ctx context.Context, a platform.Adapter, params json.RawMessage) (any, error) {
			return a.AskHint(ctx, paramString(params))
		}},
		{name: "platform.updateHeight", fn: func(ctx context.Context, a platform.Adapter, params json.RawMessage) (any, error) {
			return nil, a.UpdateHeight(ctx, params)
		}},
		{name: "platform.openUrl", fn: func(ctx context.Context, a platform.Adapter, params json.RawMessage) (any, error) {
			return nil, a.OpenURL(ctx, paramString(params))
		}},
	}
}

func (p *Proxy) bindPlatform(ch Channel) {
	for _, m := range platformMethods() {
		if err := ch.Bind(m.name, p.dispatch(m.name, m.fn)); err != nil {
			log.Error().Err(err).Str("frame_id", p.frame.ID()).Str("method", m.name).Msg("bind platform method")
		}
	}
}

// dispatch defers the transaction and forwards it to whichever adapter is
// attached when the request arrives. Adapter errors are sent as the error
// code, with no message.
func (p *Proxy) dispatch(method string, fn inboundFunc) channel.Handler {
	return func(tx *channel.Transaction, params json.RawMessage) (any, error) {
		tx.DelayReturn(true)

		adapter := p.Platform()
		if adapter == nil {
			p.observer.InboundHandled(method, errNoPlatform)
			tx.Error(errNoPlatform.Error(), "")
			return nil, nil
		}

		v, err := fn(tx.Context(), adapter, params)
		p.observer.InboundHandled(method, err)
		if err != nil {
			tx.Error(err.Error(), "")
			return nil, nil
		}

		tx.Complete(v)
		return nil, nil
	}
}

// paramString reads a scalar parameter. Strings are unquoted, null or absent
// is empty and anything else is passed through as JSON text.
func paramString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// keyDefault reads getTaskParams parameters: [key, default], a bare key, or
// nothing at all.
func keyDefault(raw json.RawMessage) (string, any) {
	v := decodeAny(raw)

	arr, ok := v.([]any)
	if !ok {
		return keyString(v), nil
	}

	var key string
	var def any
	if len(arr) > 0 {
		key = keyString(arr[0])
	}
	if len(arr) > 1 {
		def = arr[1]
	}
	return key, def
}

func keyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	default:
		return fmt.Sprint(k)
	}
}

func decodeAny(raw json.RawMessage) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
