package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/platform"
	"github.com/gosuda/taskbridge/internal/taskproxy"
)

// methodGradeTask is accepted as an alias of gradeAnswer.
const methodGradeTask = "gradeTask"

type FrameView struct {
	FrameID string `json:"frame_id"`
	Src     string `json:"src"`
	Scope   string `json:"scope"`
	Height  int    `json:"height"`
	State   string `json:"state,omitempty" doc:"Proxy state; empty when the frame has no proxy"`
}

type GetFrameInput struct {
	FrameID string `path:"frameID" doc:"Frame ID"`
}

type GetFrameOutput struct {
	Body FrameView
}

type OpenProxyInput struct {
	FrameID string `path:"frameID" doc:"Frame ID"`
	Force   bool   `query:"force" doc:"Destroy the existing proxy and handshake again"`
}

type OpenProxyOutput struct {
	Body FrameView
}

type DeleteProxyInput struct {
	FrameID string `path:"frameID" doc:"Frame ID"`
}

type CallTaskInput struct {
	FrameID string `path:"frameID" doc:"Frame ID"`
	Method  string `path:"method" enum:"load,unload,getHeight,updateToken,getMetaData,getAnswer,reloadAnswer,getState,reloadState,getViews,showViews,gradeAnswer,gradeTask,getResources" doc:"Task method"`
	Body    struct {
		Params any `json:"params,omitempty" doc:"Call parameters; gradeAnswer takes [answer, answerToken]"`
	} `required:"false"`
}

type CallTaskOutput struct {
	Body struct {
		Method string `json:"method"`
		Result any    `json:"result"`
	}
}

// PlatformParams overrides fields of the configured task parameter bag.
type PlatformParams struct {
	MinScore   *int           `json:"minScore,omitempty"`
	MaxScore   *int           `json:"maxScore,omitempty"`
	RandomSeed *int           `json:"randomSeed,omitempty"`
	NoScore    *int           `json:"noScore,omitempty"`
	ReadOnly   *bool          `json:"readOnly,omitempty"`
	Options    map[string]any `json:"options,omitempty" doc:"Replaces the configured options when set"`
}

func (p *PlatformParams) apply(base platform.TaskParams) platform.TaskParams {
	if p == nil {
		return base
	}
	if p.MinScore != nil {
		base.MinScore = *p.MinScore
	}
	if p.MaxScore != nil {
		base.MaxScore = *p.MaxScore
	}
	if p.RandomSeed != nil {
		base.RandomSeed = *p.RandomSeed
	}
	if p.NoScore != nil {
		base.NoScore = *p.NoScore
	}
	if p.ReadOnly != nil {
		base.ReadOnly = *p.ReadOnly
	}
	if p.Options != nil {
		base.Options = p.Options
	}
	return base
}

type SetPlatformInput struct {
	FrameID string `path:"frameID" doc:"Frame ID"`
	Body    struct {
		Params *PlatformParams `json:"params,omitempty" doc:"Overrides of the configured task parameters"`
	} `required:"false"`
}

type SetPlatformOutput struct {
	Body struct {
		FrameID string              `json:"frame_id"`
		Params  platform.TaskParams `json:"params"`
	}
}

// frameResizer resizes whichever frame is attached under id when the
// platform adapter is asked to.
type frameResizer struct {
	frames FrameLocator
	id     string
}

func (r frameResizer) Resize(px int) {
	if f, ok := r.frames.Lookup(r.id); ok {
		f.SetHeight(px)
	}
}

func RegisterFrameRoutes(api huma.API, frames FrameLocator, proxies ProxyManager, defaults platform.TaskParams) {
	view := func(frameID string) (FrameView, bool) {
		f, ok := frames.Lookup(frameID)
		if !ok {
			return FrameView{}, false
		}
		v := FrameView{
			FrameID: f.ID(),
			Src:     f.Src(),
			Scope:   taskproxy.ScopeFromSource(f.Src()),
			Height:  f.Height(),
		}
		if p, ok := proxies.Get(frameID); ok {
			v.State = p.State().String()
		}
		return v, true
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-frame",
		Method:      http.MethodGet,
		Path:        "/frames/{frameID}",
		Summary:     "Get an attached frame",
		Tags:        []string{"Frames"},
	}, func(_ context.Context, input *GetFrameInput) (*GetFrameOutput, error) {
		v, ok := view(input.FrameID)
		if !ok {
			return nil, huma.Error404NotFound("frame not found")
		}
		return &GetFrameOutput{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-proxy",
		Method:      http.MethodPut,
		Path:        "/frames/{frameID}/proxy",
		Summary:     "Get or create the task proxy of a frame and wait for its handshake",
		Tags:        []string{"Frames"},
	}, func(ctx context.Context, input *OpenProxyInput) (*OpenProxyOutput, error) {
		if _, err := proxies.GetOrCreate(input.FrameID, input.Force, nil, discard).Wait(ctx); err != nil {
			return nil, taskError(err)
		}
		v, ok := view(input.FrameID)
		if !ok {
			return nil, huma.Error404NotFound("frame not found")
		}
		return &OpenProxyOutput{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-proxy",
		Method:      http.MethodDelete,
		Path:        "/frames/{frameID}/proxy",
		Summary:     "Destroy the task proxy of a frame",
		Tags:        []string{"Frames"},
	}, func(_ context.Context, input *DeleteProxyInput) (*struct{}, error) {
		proxies.Delete(input.FrameID)
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "call-task",
		Method:      http.MethodPost,
		Path:        "/frames/{frameID}/calls/{method}",
		Summary:     "Call a task method",
		Tags:        []string{"Frames"},
	}, func(ctx context.Context, input *CallTaskInput) (*CallTaskOutput, error) {
		proxy, err := proxies.GetOrCreate(input.FrameID, false, nil, discard).Wait(ctx)
		if err != nil {
			return nil, taskError(err)
		}

		out := &CallTaskOutput{}
		out.Body.Method = input.Method

		switch input.Method {
		case taskproxy.MethodGradeAnswer, methodGradeTask:
			answer, answerToken, err := gradeParams(input.Body.Params)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
			res, err := proxy.GradeAnswer(answer, answerToken, nil, discard).Wait(ctx)
			if err != nil {
				return nil, taskError(err)
			}
			out.Body.Result = res.Args
		default:
			raw, err := proxy.Invoke(input.Method, input.Body.Params, nil, discard).Wait(ctx)
			if err != nil {
				return nil, taskError(err)
			}
			out.Body.Result = raw
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-platform",
		Method:      http.MethodPut,
		Path:        "/frames/{frameID}/platform",
		Summary:     "Register the platform adapter answering a frame's callbacks",
		Tags:        []string{"Frames"},
	}, func(_ context.Context, input *SetPlatformInput) (*SetPlatformOutput, error) {
		params := input.Body.Params.apply(defaults)

		adapter := platform.NewStatic(frameResizer{frames: frames, id: input.FrameID}, params)
		proxies.RegisterPlatform(input.FrameID, adapter)

		out := &SetPlatformOutput{}
		out.Body.FrameID = input.FrameID
		out.Body.Params = params
		return out, nil
	})
}

// discard replaces the logging failure continuation; errors reach the
// client instead.
func discard(error) {}

var errGradeParams = errors.New("params must be [answer, answerToken]") //nolint:gochecknoglobals // sentinel error

func gradeParams(params any) (answer, answerToken any, err error) {
	switch p := params.(type) {
	case nil:
		return nil, nil, nil
	case []any:
		if len(p) > 2 {
			return nil, nil, errGradeParams
		}
		if len(p) > 0 {
			answer = p[0]
		}
		if len(p) > 1 {
			answerToken = p[1]
		}
		return answer, answerToken, nil
	default:
		return nil, nil, errGradeParams
	}
}

// taskError maps proxy and channel failures to HTTP errors.
func taskError(err error) error {
	var callErr *channel.CallError
	switch {
	case errors.Is(err, taskproxy.ErrFrameNotFound):
		return huma.Error404NotFound("frame not found", err)
	case errors.Is(err, taskproxy.ErrHandshakeTimeout):
		return huma.Error504GatewayTimeout("task did not complete its handshake", err)
	case errors.Is(err, channel.ErrTimeout):
		return huma.Error504GatewayTimeout(err.Error())
	case errors.As(err, &callErr):
		return huma.Error502BadGateway("task returned an error", callErr)
	case errors.Is(err, taskproxy.ErrProxyClosed), errors.Is(err, channel.ErrDestroyed):
		return huma.Error409Conflict("task proxy was closed", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request ended before the task answered", err)
	default:
		return huma.Error500InternalServerError("task call failed", err)
	}
}
