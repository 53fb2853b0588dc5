package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/taskbridge/internal/taskproxy"
)

type AttachRemoteInput struct {
	Body struct {
		FrameID string `json:"frame_id,omitempty" maxLength:"128" doc:"Frame ID; generated when empty"`
		Src     string `json:"src" minLength:"1" doc:"Source URL of the remote task document, carrying its channelId"`
	}
}

type AttachRemoteOutput struct {
	Body struct {
		FrameID string `json:"frame_id"`
		Scope   string `json:"scope"`
	}
}

type DetachRemoteInput struct {
	FrameID string `path:"frameID" doc:"Frame ID"`
}

func RegisterRemoteRoutes(api huma.API, remote RemoteFrames) {
	huma.Register(api, huma.Operation{
		OperationID: "attach-remote-frame",
		Method:      http.MethodPost,
		Path:        "/frames/remote",
		Summary:     "Attach a task document reachable over Redis pub/sub",
		Tags:        []string{"Frames"},
	}, func(_ context.Context, input *AttachRemoteInput) (*AttachRemoteOutput, error) {
		frameID := input.Body.FrameID
		if frameID == "" {
			frameID = uuid.NewString()
		}

		f, err := remote.Attach(frameID, input.Body.Src)
		if err != nil {
			return nil, huma.Error503ServiceUnavailable("failed to subscribe to remote frame", err)
		}

		out := &AttachRemoteOutput{}
		out.Body.FrameID = f.ID()
		out.Body.Scope = taskproxy.ScopeFromSource(f.Src())
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-remote-frame",
		Method:      http.MethodDelete,
		Path:        "/frames/remote/{frameID}",
		Summary:     "Detach a remote task document",
		Tags:        []string{"Frames"},
	}, func(_ context.Context, input *DetachRemoteInput) (*struct{}, error) {
		if !remote.Detach(input.FrameID) {
			return nil, huma.Error404NotFound("remote frame not found")
		}
		return nil, nil
	})
}
