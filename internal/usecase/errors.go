package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"whatsapp-relay/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrorDuplicate             ErrorCode = "DUPLICATE"
	ErrorCompletionUnavailable ErrorCode = "COMPLETION_UNAVAILABLE"
	ErrorCompletionTransient   ErrorCode = "COMPLETION_TRANSIENT"
	ErrorStoreNotFound         ErrorCode = "STORE_NOT_FOUND"
)

// User-facing replies returned when the completion service fails.
const (
	ConfigApology    = "I'm sorry, but the AI service is not properly configured. Please contact support."
	TransientApology = "I'm sorry, I'm having trouble processing your request right now. Please try again in a moment."
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classifyCompletionError maps a completion failure onto the configuration
// or transient branch of the taxonomy.
func classifyCompletionError(err error) *Error {
	switch {
	case errors.Is(err, domain.ErrCompletionConfig):
		return newError(ErrorCompletionUnavailable, "completion_not_configured", err)
	case errors.Is(err, domain.ErrCompletionRateLimited):
		return newError(ErrorCompletionTransient, "completion_rate_limited", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorCompletionTransient, "completion_canceled", err)
	}
	if status, ok := upstreamStatusCode(err); ok {
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(ErrorCompletionUnavailable, "completion_unauthorized", err)
		case http.StatusTooManyRequests:
			return newError(ErrorCompletionTransient, "completion_rate_limited", err)
		}
	}
	return newError(ErrorCompletionTransient, "completion_provider_error", err)
}

// apologyFor returns the fixed reply sent to the user for a completion failure.
func apologyFor(e *Error) string {
	if e.Code == ErrorCompletionUnavailable {
		return ConfigApology
	}
	return TransientApology
}
