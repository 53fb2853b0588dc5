package taskproxy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskbridge/internal/channel"
)

// Per-method timeouts of the task.* calls.
const (
	TimeoutLoad         = 10000 * time.Millisecond
	TimeoutUnload       = 1000 * time.Millisecond
	TimeoutGetHeight    = 100 * time.Millisecond
	TimeoutUpdateToken  = 10000 * time.Millisecond
	TimeoutGetMetaData  = 500 * time.Millisecond
	TimeoutGetAnswer    = 1000 * time.Millisecond
	TimeoutReloadAnswer = 1000 * time.Millisecond
	TimeoutGetState     = 1000 * time.Millisecond
	TimeoutReloadState  = 1000 * time.Millisecond
	TimeoutGetViews     = 1000 * time.Millisecond
	TimeoutShowViews    = 1000 * time.Millisecond
	TimeoutGradeAnswer  = 30000 * time.Millisecond
	TimeoutGetResources = 2000 * time.Millisecond
)

// Method names without the task. prefix, as accepted by Invoke.
const (
	MethodLoad         = "load"
	MethodUnload       = "unload"
	MethodGetHeight    = "getHeight"
	MethodUpdateToken  = "updateToken"
	MethodGetMetaData  = "getMetaData"
	MethodGetAnswer    = "getAnswer"
	MethodReloadAnswer = "reloadAnswer"
	MethodGetState     = "getState"
	MethodReloadState  = "reloadState"
	MethodGetViews     = "getViews"
	MethodShowViews    = "showViews"
	MethodGradeAnswer  = "gradeAnswer"
	MethodGetResources = "getResources"
)

// Timeouts maps each task method to its call timeout.
func Timeouts() map[string]time.Duration {
	return map[string]time.Duration{
		MethodLoad:         TimeoutLoad,
		MethodUnload:       TimeoutUnload,
		MethodGetHeight:    TimeoutGetHeight,
		MethodUpdateToken:  TimeoutUpdateToken,
		MethodGetMetaData:  TimeoutGetMetaData,
		MethodGetAnswer:    TimeoutGetAnswer,
		MethodReloadAnswer: TimeoutReloadAnswer,
		MethodGetState:     TimeoutGetState,
		MethodReloadState:  TimeoutReloadState,
		MethodGetViews:     TimeoutGetViews,
		MethodShowViews:    TimeoutShowViews,
		MethodGradeAnswer:  TimeoutGradeAnswer,
		MethodGetResources: TimeoutGetResources,
	}
}

// Success and failure continuations may be nil. A nil failure continuation
// logs the error.

func (p *Proxy) Load(views any, success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodLoad, TimeoutLoad, views, success, failure)
}

func (p *Proxy) Unload(success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodUnload, TimeoutUnload, nil, success, failure)
}

func (p *Proxy) GetHeight(success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodGetHeight, TimeoutGetHeight, nil, success, failure)
}

func (p *Proxy) UpdateToken(token any, success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodUpdateToken, TimeoutUpdateToken, token, success, failure)
}

func (p *Proxy) GetMetaData(success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodGetMetaData, TimeoutGetMetaData, nil, success, failure)
}

func (p *Proxy) GetAnswer(success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodGetAnswer, TimeoutGetAnswer, nil, success, failure)
}

func (p *Proxy) ReloadAnswer(answer any, success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodReloadAnswer, TimeoutReloadAnswer, answer, success, failure)
}

func (p *Proxy) GetState(success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodGetState, TimeoutGetState, nil, success, failure)
}

func (p *Proxy) ReloadState(state any, success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodReloadState, TimeoutReloadState, state, success, failure)
}

func (p *Proxy) GetViews(success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodGetViews, TimeoutGetViews, nil, success, failure)
}

func (p *Proxy) ShowViews(views any, success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodShowViews, TimeoutShowViews, views, success, failure)
}

// GetResources always sends an empty params array.
func (p *Proxy) GetResources(success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	return p.invoke(MethodGetResources, TimeoutGetResources, []any{}, success, failure)
}

// GradeAnswer asks the task to grade answer. The result is normalized into a
// GradeResult before success runs.
func (p *Proxy) GradeAnswer(answer, answerToken any, success func(GradeResult), failure func(error)) *Call[GradeResult] {
	call := newCall[GradeResult]()
	failure = p.orLog(MethodGradeAnswer, failure)

	p.invoke(MethodGradeAnswer, TimeoutGradeAnswer, []any{answer, answerToken},
		func(raw json.RawMessage) {
			res, err := NormalizeGrade(raw)
			if err != nil {
				call.resolve(GradeResult{}, err)
				failure(err)
				return
			}
			call.resolve(res, nil)
			if success != nil {
				success(res)
			}
		},
		func(err error) {
			call.resolve(GradeResult{}, err)
			failure(err)
		},
	)

	return call
}

// GradeTask is an alias of GradeAnswer.
func (p *Proxy) GradeTask(answer, answerToken any, success func(GradeResult), failure func(error)) *Call[GradeResult] {
	return p.GradeAnswer(answer, answerToken, success, failure)
}

// Invoke calls a task method by name with its configured timeout. Unknown
// methods are sent with the grade timeout.
func (p *Proxy) Invoke(method string, params any, success func(json.RawMessage), failure func(error)) *Call[json.RawMessage] {
	timeout, ok := Timeouts()[method]
	if !ok {
		timeout = TimeoutGradeAnswer
	}
	return p.invoke(method, timeout, params, success, failure)
}

func (p *Proxy) invoke(method string, timeout time.Duration, params any,
	success func(json.RawMessage), failure func(error),
) *Call[json.RawMessage] {
	call := newCall[json.RawMessage]()
	failure = p.orLog(method, failure)
	started := time.Now()

	ch := p.channel()
	if ch == nil {
		err := fmt.Errorf("taskproxy.Proxy.invoke(%q): %w", method, ErrNotConnected)
		call.resolve(nil, err)
		go failure(err)
		return call
	}

	ch.Call(channel.CallOptions{
		Method:  "task." + method,
		Params:  params,
		Timeout: timeout,
		Success: func(result json.RawMessage) {
			p.observer.CallFinished(method, nil, time.Since(started))
			call.resolve(result, nil)
			if success != nil {
				success(result)
			}
		},
		Error: func(err error) {
			p.observer.CallFinished(method, err, time.Since(started))
			call.resolve(nil, err)
			failure(err)
		},
	})

	return call
}

func (p *Proxy) orLog(method string, failure func(error)) func(error) {
	if failure != nil {
		return failure
	}
	frameID := p.frame.ID()
	return func(err error) {
		log.Error().Err(err).Str("frame_id", frameID).Str("method", method).Msg("task call failed")
	}
}
