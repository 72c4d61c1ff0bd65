package engine

import (
	"fmt"

	"github.com/flowlattice/qengine/pkg/ids"
)

// Code enumerates the §7 error kinds the engine produces or forwards.
type Code string

const (
	CodeInvalidPlan            Code = "INVALID_PLAN"
	CodeOutOfBuffers           Code = "OUT_OF_BUFFERS"
	CodeUnsupportedOperation   Code = "UNSUPPORTED_OPERATION"
	CodePipelineStartFailure   Code = "PIPELINE_START_FAILURE"
	CodePipelineStopFailure    Code = "PIPELINE_STOP_FAILURE"
	CodePipelineExecuteFailure Code = "PIPELINE_EXECUTE_FAILURE"
	CodeSourceFailure          Code = "SOURCE_FAILURE"
)

// Error is the engine's structured error type: a stable Code plus the
// query and pipeline it concerns, wrapping the underlying Cause.
type Error struct {
	Code     Code
	Message  string
	Query    ids.QueryId
	Pipeline ids.PipelineId
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, query ids.QueryId, pipeline ids.PipelineId, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Query: query, Pipeline: pipeline, Cause: cause}
}

func invalidPlanError(query ids.QueryId, msg string) *Error {
	return newError(CodeInvalidPlan, query, ids.InvalidPipelineId, msg, nil)
}

func pipelineStartError(query ids.QueryId, pipeline ids.PipelineId, cause error) *Error {
	return newError(CodePipelineStartFailure, query, pipeline, "pipeline start failed", cause)
}

func pipelineStopError(query ids.QueryId, pipeline ids.PipelineId, cause error) *Error {
	return newError(CodePipelineStopFailure, query, pipeline, "pipeline stop failed", cause)
}

func pipelineExecuteError(query ids.QueryId, pipeline ids.PipelineId, cause error) *Error {
	return newError(CodePipelineExecuteFailure, query, pipeline, "pipeline execute failed", cause)
}

func sourceFailureError(query ids.QueryId, cause error) *Error {
	return newError(CodeSourceFailure, query, ids.InvalidPipelineId, "source failed", cause)
}
