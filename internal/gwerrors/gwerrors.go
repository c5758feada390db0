// Package gwerrors defines the gateway's wire error taxonomy (spec §6.4):
// every error the gateway returns to a client carries a status code and a
// {kind, error} message body.
package gwerrors

import "fmt"

// Kind is one of the recognized wire error kinds (spec §6.4).
type Kind string

const (
	KindChatCompletion            Kind = "chat_completion"
	KindUpstreamError              Kind = "upstream_error"
	KindNoUpstreamsFound            Kind = "no_upstreams_found"
	KindFetchEnsembleLlm            Kind = "fetch_ensemble_llm"
	KindEnsembleLlmNotFound         Kind = "ensemble_llm_not_found"
	KindInvalidEnsembleLlm          Kind = "invalid_ensemble_llm"
	KindMultipleErrors              Kind = "multiple_errors"
	KindOpenRouterProviderError     Kind = "openrouter.provider_error"
	KindEmptyStream                 Kind = "empty_stream"
	KindDeserialization              Kind = "deserialization"
	KindBadStatus                   Kind = "bad_status"
	KindStreamError                 Kind = "stream_error"
	KindStreamTimeout               Kind = "stream_timeout"
	KindInsufficientCredits         Kind = "insufficient_credits"
	KindVector                      Kind = "vector"
	KindFunctionNotFound             Kind = "function_not_found"
	KindInputSchemaMismatch          Kind = "input_schema_mismatch"
	KindInvalidScalarOutput          Kind = "invalid_scalar_output"
	KindInvalidVectorOutput          Kind = "invalid_vector_output"
	KindNoValidTaskOutputs           Kind = "no_valid_task_outputs"
	KindTaskOutputExpressionErrors   Kind = "task_output_expression_errors"
)

// defaultStatus maps a Kind to its default HTTP status when the caller
// doesn't override it (e.g. BadStatus passes through the upstream's own
// code instead).
var defaultStatus = map[Kind]int{
	KindChatCompletion:          500,
	KindUpstreamError:           502,
	KindNoUpstreamsFound:        400,
	KindFetchEnsembleLlm:        500,
	KindEnsembleLlmNotFound:     404,
	KindInvalidEnsembleLlm:      400,
	KindMultipleErrors:          500,
	KindOpenRouterProviderError: 502,
	KindEmptyStream:             500,
	KindDeserialization:         500,
	KindBadStatus:               502,
	KindStreamError:             500,
	KindStreamTimeout:           500,
	KindInsufficientCredits:     402,
	KindVector:                  400,
	KindFunctionNotFound:        404,
	KindInputSchemaMismatch:     400,
	KindInvalidScalarOutput:     400,
	KindInvalidVectorOutput:     400,
	KindNoValidTaskOutputs:      400,
	KindTaskOutputExpressionErrors: 400,
}

// Error is the gateway's wire error: {status, message: {kind, error}}.
type Error struct {
	Status  int `json:"status"`
	Message struct {
		Kind  Kind `json:"kind"`
		Error any  `json:"error"`
	} `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (status %d): %v", e.Message.Kind, e.Status, e.Message.Error)
}

// New builds an Error for kind with the default status and detail as the
// error payload.
func New(kind Kind, detail any) *Error {
	return WithStatus(kind, defaultStatus[kind], detail)
}

// WithStatus builds an Error for kind with an explicit status, used for
// BadStatus passthrough and provider-specific overrides.
func WithStatus(kind Kind, status int, detail any) *Error {
	e := &Error{Status: status}
	e.Message.Kind = kind
	e.Message.Error = detail
	return e
}

// Retryable reports whether kind belongs to the transient-upstream-error
// class the RetryController sweeps past rather than surfacing immediately
// (spec §7.3).
func Retryable(kind Kind) bool {
	switch kind {
	case KindStreamTimeout, KindEmptyStream, KindUpstreamError, KindOpenRouterProviderError, KindBadStatus:
		return true
	default:
		return false
	}
}

// MultipleErrors aggregates a sweep's per-provider/per-model errors into a
// single KindMultipleErrors error (spec §4.5, §4.6, §7.3).
func MultipleErrors(errs []error) *Error {
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		details = append(details, err.Error())
	}
	return New(KindMultipleErrors, details)
}
