package async

import (
	"context"
	"strings"

	"github.com/teranos/pressline/errors"
)

// ErrorCode represents the classification of a pipeline failure
type ErrorCode string

const (
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeRateLimited     ErrorCode = "rate_limited"
	ErrorCodeUpstreamError   ErrorCode = "upstream_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodePanic           ErrorCode = "panic"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage   string    // Pipeline phase when the error occurred
	Code    ErrorCode // Error classification
	Message string    // Human-readable message
}

// ErrPipelinePanic marks a failure recovered from a panicking pipeline
var ErrPipelinePanic = errors.New("pipeline panicked")

// ClassifyError categorizes a failure so the retry reason is queryable.
// Classification never changes whether a job is retried.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{Stage: stage, Message: err.Error()}
	errLower := strings.ToLower(ctx.Message)

	switch {
	case errors.Is(err, ErrPipelinePanic):
		ctx.Code = ErrorCodePanic

	case errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(errLower, "deadline exceeded") || strings.Contains(errLower, "timed out"):
		ctx.Code = ErrorCodeTimeout

	case strings.Contains(errLower, "429") || strings.Contains(errLower, "rate limit"):
		ctx.Code = ErrorCodeRateLimited

	case strings.Contains(errLower, "connection") || strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "no such host") || strings.Contains(errLower, "eof"):
		ctx.Code = ErrorCodeNetworkError

	case strings.Contains(errLower, "status 5") || strings.Contains(errLower, "upstream"):
		ctx.Code = ErrorCodeUpstreamError

	case strings.Contains(errLower, "validation") || strings.Contains(errLower, "invalid"):
		ctx.Code = ErrorCodeValidationError

	default:
		ctx.Code = ErrorCodeUnknown
	}

	return ctx
}
