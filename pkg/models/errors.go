package models

import (
	"fmt"
	"net/http"
)

// Stable error codes. These are a wire contract shared with every client.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
	CodeReplayWindowExceeded = "replay_window_exceeded"
	CodeRateLimited          = "rate_limited"
	CodeLimitExceeded        = "limit_exceeded"
	CodeBackpressure         = "backpressure"
	CodeInternal             = "internal"
)

// GatewayError is a typed domain error carrying a stable code and optional
// structured detail. All domain errors cross the transport boundary as one
// of these; handlers convert anything else to CodeInternal.
type GatewayError struct {
	Code    string
	Message string
	Detail  map[string]any
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Body returns the wire representation {code, message, ...detail}.
func (e *GatewayError) Body() map[string]any {
	body := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	for k, v := range e.Detail {
		body[k] = v
	}
	return body
}

// HTTPStatus maps the error code to its HTTP status.
func (e *GatewayError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeReplayWindowExceeded:
		return http.StatusGone
	case CodeRateLimited, CodeLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrInvalidRequest builds an invalid_request error.
func ErrInvalidRequest(format string, args ...any) *GatewayError {
	return &GatewayError{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// ErrUnauthorized builds an unauthorized error.
func ErrUnauthorized(message string) *GatewayError {
	return &GatewayError{Code: CodeUnauthorized, Message: message}
}

// ErrForbidden builds a forbidden error.
func ErrForbidden(format string, args ...any) *GatewayError {
	return &GatewayError{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound builds a not_found error.
func ErrNotFound(format string, args ...any) *GatewayError {
	return &GatewayError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// ErrConflict builds a conflict error.
func ErrConflict(format string, args ...any) *GatewayError {
	return &GatewayError{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// ErrLimitExceeded builds a limit_exceeded error.
func ErrLimitExceeded(format string, args ...any) *GatewayError {
	return &GatewayError{Code: CodeLimitExceeded, Message: fmt.Sprintf(format, args...)}
}

// ErrInternal wraps an unexpected failure. The underlying error is never
// exposed on the wire.
func ErrInternal() *GatewayError {
	return &GatewayError{Code: CodeInternal, Message: "internal error"}
}

// ErrRateLimited builds a rate_limited error carrying retry_after_s.
func ErrRateLimited(retryAfterS int) *GatewayError {
	return &GatewayError{
		Code:    CodeRateLimited,
		Message: "rate limit exceeded",
		Detail:  map[string]any{"retry_after_s": retryAfterS},
	}
}

// RetryAfterS extracts the retry hint from a rate_limited error (0 if absent).
func (e *GatewayError) RetryAfterS() int {
	if v, ok := e.Detail["retry_after_s"].(int); ok {
		return v
	}
	return 0
}

// ErrReplayWindowExceeded builds the structured replay-window error. Clients
// are expected to resubscribe at earliest_seq.
func ErrReplayWindowExceeded(convID string, requestedFromSeq, earliestSeq, latestSeq int64) *GatewayError {
	return &GatewayError{
		Code:    CodeReplayWindowExceeded,
		Message: "requested history has been pruned",
		Detail: map[string]any{
			"conv_id":            convID,
			"requested_from_seq": requestedFromSeq,
			"earliest_seq":       earliestSeq,
			"latest_seq":         latestSeq,
		},
	}
}

// AsGatewayError converts err to a *GatewayError, wrapping unknown errors as
// internal so stack detail never leaks to clients.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return ErrInternal()
}
