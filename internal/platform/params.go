package platform

import (
	"context"
	"maps"
)

// TaskParams is the parameter bag returned by platform.getTaskParams.
type TaskParams struct {
	MinScore   int            `json:"minScore" toml:"min_score"`
	MaxScore   int            `json:"maxScore" toml:"max_score"`
	RandomSeed int            `json:"randomSeed" toml:"random_seed"`
	NoScore    int            `json:"noScore" toml:"no_score"`
	ReadOnly   bool           `json:"readOnly" toml:"read_only"`
	Options    map[string]any `json:"options" toml:"options"`
}

// DefaultTaskParams is the bag served when the host configures nothing.
func DefaultTaskParams() TaskParams {
	return TaskParams{
		MinScore:   -3,
		MaxScore:   10,
		RandomSeed: 0,
		NoScore:    0,
		ReadOnly:   false,
		Options:    map[string]any{},
	}
}

// Lookup resolves a getTaskParams request. An empty key returns the whole
// bag. Otherwise top-level fields win over options entries, and unknown keys
// yield defaultValue (nil when the task sent none).
func (p TaskParams) Lookup(key string, defaultValue any) any {
	if key == "" {
		out := p
		out.Options = make(map[string]any, len(p.Options))
		maps.Copy(out.Options, p.Options)
		return out
	}

	switch key {
	case "minScore":
		return p.MinScore
	case "maxScore":
		return p.MaxScore
	case "randomSeed":
		return p.RandomSeed
	case "noScore":
		return p.NoScore
	case "readOnly":
		return p.ReadOnly
	}

	if v, ok := p.Options[key]; ok {
		return v
	}
	return defaultValue
}

// Static serves a host-configured parameter bag and defaults for everything
// else.
type Static struct {
	*Default
	params TaskParams
}

// NewStatic creates an adapter serving params.
func NewStatic(owner Resizer, params TaskParams) *Static {
	if params.Options == nil {
		params.Options = map[string]any{}
	}
	return &Static{Default: NewDefault(owner), params: params}
}

func (s *Static) GetTaskParams(_ context.Context, key string, defaultValue any) (any, error) {
	return s.params.Lookup(key, defaultValue), nil
}
