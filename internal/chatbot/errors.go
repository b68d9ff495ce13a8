package chatbot

import (
	"context"
	"errors"
	"fmt"
)

// Transport-level failure conditions. Callers classify with errors.Is.
var (
	ErrServiceUnavailable = errors.New("agent service unavailable")
	ErrSessionLost        = errors.New("session not found")
	ErrRateLimited        = errors.New("rate limited by agent service")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNetwork            = errors.New("network error")
	ErrRequestCancelled   = errors.New("request cancelled")
	ErrEmptyResponse      = errors.New("empty response from agent")
)

// APIError is a non-2xx response that matches no other condition.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent API error: status %d: %s", e.Status, truncate(e.Body, 200))
}

// ErrorCode is the user-facing failure code returned by Service.SendMessage.
type ErrorCode string

const (
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeNetworkError       ErrorCode = "NETWORK_ERROR"
	CodeCancelled          ErrorCode = "CANCELLED"
	CodeEmptyResponse      ErrorCode = "EMPTY_RESPONSE"
	CodeUnknown            ErrorCode = "UNKNOWN_ERROR"
)

var userMessages = map[ErrorCode]string{
	CodeServiceUnavailable: "The legal assistant is temporarily unavailable. Please try again in a moment.",
	CodeSessionNotFound:    "Your conversation expired. A new chat has been started, please resend your question.",
	CodeRateLimited:        "Too many requests right now. Please wait a few seconds and try again.",
	CodeUnauthorized:       "You are not authorized to use the legal assistant. Please sign in again.",
	CodeNetworkError:       "Unable to reach the legal assistant. Please check your connection.",
	CodeCancelled:          "The request was cancelled.",
	CodeEmptyResponse:      "The assistant returned an empty answer. Please rephrase your question.",
	CodeUnknown:            "Something went wrong. Please try again.",
}

// UserMessage returns the human-readable text shown for code.
func UserMessage(code ErrorCode) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return userMessages[CodeUnknown]
}

// ClassifyError maps an internal failure to its user-facing code.
func ClassifyError(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRequestCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrSessionLost):
		return CodeSessionNotFound
	case errors.Is(err, ErrServiceUnavailable):
		return CodeServiceUnavailable
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return CodeNetworkError
	case errors.Is(err, ErrEmptyResponse):
		return CodeEmptyResponse
	default:
		// *APIError and anything unexpected.
		return CodeUnknown
	}
}

// isRetryable reports whether MakeRequest should try again after err.
func isRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetwork)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
