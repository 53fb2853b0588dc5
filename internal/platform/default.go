package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// heightPadding is added to the height reported by the task before resizing.
const heightPadding = 40

var errNoOwner = errors.New("platform: adapter has no owning task") //nolint:gochecknoglobals // sentinel error

// Default implements Adapter with the behavior hosts get when they override
// nothing: validate, showView, askHint and openUrl are undefined, updateHeight
// resizes the owning frame and getTaskParams serves DefaultTaskParams.
type Default struct {
	owner Resizer
}

var _ Adapter = (*Default)(nil)

// NewDefault creates a default adapter for the task owning it.
func NewDefault(owner Resizer) *Default {
	return &Default{owner: owner}
}

func (d *Default) Validate(context.Context, string) (any, error) {
	return nil, &NotDefinedError{Method: "platform.validate"}
}

func (d *Default) ShowView(context.Context, json.RawMessage) (any, error) {
	return nil, &NotDefinedError{Method: "platform.showView"}
}

func (d *Default) AskHint(context.Context, string) (any, error) {
	return nil, &NotDefinedError{Method: "platform.askHint"}
}

func (d *Default) OpenURL(context.Context, string) error {
	return &NotDefinedError{Method: "platform.openUrl"}
}

func (d *Default) UpdateHeight(_ context.Context, height json.RawMessage) error {
	if d.owner == nil {
		return fmt.Errorf("platform.Default.UpdateHeight: %w", errNoOwner)
	}

	px, err := ParseHeight(height)
	if err != nil {
		return fmt.Errorf("platform.Default.UpdateHeight: %w", err)
	}

	d.owner.Resize(px + heightPadding)
	return nil
}

func (d *Default) GetTaskParams(_ context.Context, key string, defaultValue any) (any, error) {
	return DefaultTaskParams().Lookup(key, defaultValue), nil
}

// ParseHeight reads a height sent by a task document. Numbers are truncated;
// strings are read like parseInt, so "120px" is 120.
func ParseHeight(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("invalid height %s: %w", raw, err)
	}

	switch h := v.(type) {
	case float64:
		if math.IsNaN(h) || math.IsInf(h, 0) {
			return 0, fmt.Errorf("invalid height %v", h)
		}
		return int(math.Trunc(h)), nil
	case string:
		return parseLeadingInt(h)
	default:
		return 0, fmt.Errorf("invalid height %s", raw)
	}
}

func parseLeadingInt(s string) (int, error) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("invalid height %q", s)
	}

	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, fmt.Errorf("invalid height %q: %w", s, err)
	}
	return n, nil
}
