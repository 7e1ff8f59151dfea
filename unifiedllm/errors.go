package unifiedllm

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ResponseError is returned when the server answered with a non-2xx status.
// Body holds the raw response body for caller inspection.
type ResponseError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Body       []byte
	Retryable  bool
	RetryAfter *float64
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete response error types.

type AuthenticationError struct{ ResponseError }
type AccessDeniedError struct{ ResponseError }
type NotFoundError struct{ ResponseError }
type InvalidRequestError struct{ ResponseError }
type RateLimitError struct{ ResponseError }
type ServerError struct{ ResponseError }
type ContextLengthError struct{ ResponseError }

// RequestError means the request never reached the server.
type RequestError struct{ SDKError }

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type ConfigurationError struct{ SDKError }
type NoObjectGeneratedError struct{ SDKError }

// MalformedInputError reports caller input that cannot be represented in
// the wire format. It is raised before any network call.
type MalformedInputError struct {
	SDKError
	Field string
}

func (e *MalformedInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed input at %s: %s", e.Field, e.SDKError.Error())
	}
	return "malformed input: " + e.SDKError.Error()
}

// MalformedOutputError reports a server response, stream chunk or tool-call
// argument string that failed validation.
type MalformedOutputError struct {
	SDKError
	Field string
}

func (e *MalformedOutputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed output at %s: %s", e.Field, e.SDKError.Error())
	}
	return "malformed output: " + e.SDKError.Error()
}

// NewMalformedInput builds a MalformedInputError for field.
func NewMalformedInput(field, message string) error {
	return &MalformedInputError{SDKError: SDKError{Message: message}, Field: field}
}

// NewMalformedOutput builds a MalformedOutputError for field.
func NewMalformedOutput(field, message string, cause error) error {
	return &MalformedOutputError{SDKError: SDKError{Message: message, Cause: cause}, Field: field}
}

// ErrorFromStatusCode maps an HTTP status code and raw body to the
// appropriate error type. The message is taken from the body's
// error.message when present.
func ErrorFromStatusCode(statusCode int, body []byte, provider string, retryAfter *float64) error {
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", statusCode)
	}
	re := ResponseError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  gjson.GetBytes(body, "error.code").String(),
		Body:       body,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ResponseError: re}
	case 401:
		return &AuthenticationError{ResponseError: re}
	case 403:
		return &AccessDeniedError{ResponseError: re}
	case 404:
		return &NotFoundError{ResponseError: re}
	case 408:
		re.Retryable = true
		return &re
	case 413:
		return &ContextLengthError{ResponseError: re}
	case 429:
		re.Retryable = true
		return &RateLimitError{ResponseError: re}
	case 500, 502, 503, 504:
		re.Retryable = true
		return &ServerError{ResponseError: re}
	default:
		re.Retryable = statusCode >= 500
		return &re
	}
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		malformedIn  *MalformedInputError
		malformedOut *MalformedOutputError
		config       *ConfigurationError
		abort        *AbortError
		noObject     *NoObjectGeneratedError
	)
	switch {
	case errors.As(err, &malformedIn), errors.As(err, &malformedOut),
		errors.As(err, &config), errors.As(err, &abort), errors.As(err, &noObject):
		return false
	}

	if re := AsResponseError(err); re != nil {
		return re.Retryable
	}

	var (
		reqErr  *RequestError
		timeout *RequestTimeoutError
	)
	if errors.As(err, &reqErr) || errors.As(err, &timeout) {
		return true
	}

	// Unknown errors default to retryable.
	return true
}

// AsResponseError extracts the ResponseError carried by err, whichever
// concrete status type wraps it.
func AsResponseError(err error) *ResponseError {
	var (
		auth     *AuthenticationError
		denied   *AccessDeniedError
		notFound *NotFoundError
		invalid  *InvalidRequestError
		rate     *RateLimitError
		server   *ServerError
		ctxLen   *ContextLengthError
		plain    *ResponseError
	)
	switch {
	case errors.As(err, &auth):
		return &auth.ResponseError
	case errors.As(err, &denied):
		return &denied.ResponseError
	case errors.As(err, &notFound):
		return &notFound.ResponseError
	case errors.As(err, &invalid):
		return &invalid.ResponseError
	case errors.As(err, &rate):
		return &rate.ResponseError
	case errors.As(err, &server):
		return &server.ResponseError
	case errors.As(err, &ctxLen):
		return &ctxLen.ResponseError
	case errors.As(err, &plain):
		return plain
	}
	return nil
}
