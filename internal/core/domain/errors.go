package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors shared across components.
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateName        = errors.New("duplicate provider name")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnconfiguredProvider = errors.New("provider has no active configuration")
	ErrUnsupportedFamily    = errors.New("no adapter for provider family")
	ErrUnknownOverride      = errors.New("unknown runtime override model")
)

// ErrorType represents the category of an upstream API error.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypePermission     ErrorType = "permission"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeOverloaded     ErrorType = "overloaded"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeServer         ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
	ErrorCodeModelNotFound     ErrorCode = "model_not_found"
	ErrorCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
)

// APIError is a canonical upstream error returned by adapters.
type APIError struct {
	Type       ErrorType `json:"type"`
	Code       ErrorCode `json:"code,omitempty"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Family     Family    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithStatusCode records the upstream HTTP status.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithFamily records which adapter family produced the error.
func (e *APIError) WithFamily(f Family) *APIError {
	e.Family = f
	return e
}

// ErrorTypeFromStatus maps an upstream HTTP status to an error type.
func ErrorTypeFromStatus(status int) ErrorType {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeInvalidRequest
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusForbidden:
		return ErrorTypePermission
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrorTypeOverloaded
	case status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	default:
		return ErrorTypeServer
	}
}

var modelGoneMarkers = []string{
	"model_not_found",
	"not found",
	"does not exist",
	"no longer available",
	"has been deprecated",
	"is not supported",
}

// IsModelGone reports whether err signals that the model no longer exists
// upstream, as opposed to a transient or credential failure.
func IsModelGone(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == ErrorCodeModelNotFound || apiErr.Type == ErrorTypeNotFound {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range modelGoneMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// FailureKind discriminates dispatch failures.
type FailureKind string

const (
	FailureUnconfiguredProvider FailureKind = "unconfigured_provider"
	FailureUnsupportedFamily    FailureKind = "unsupported_family"
	FailureAdapter              FailureKind = "adapter_failure"
)

// Failure is the normalized, renderable failure object returned to callers
// of the dispatch gateway instead of content.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Provider  string      `json:"provider,omitempty"`
	Model     string      `json:"model,omitempty"`
	Message   string      `json:"message"`
	Upstream  ErrorType   `json:"upstream_type,omitempty"`
	Retryable bool        `json:"retryable"`
}

// DispatchError is the only error type the dispatch gateway returns.
type DispatchError struct {
	Kind     FailureKind
	Provider string
	Model    string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s/%s: %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel corresponding to the failure kind.
func (e *DispatchError) Is(target error) bool {
	switch e.Kind {
	case FailureUnconfiguredProvider:
		return target == ErrUnconfiguredProvider
	case FailureUnsupportedFamily:
		return target == ErrUnsupportedFamily
	}
	return false
}

// Failure renders the error as a normalized failure object.
func (e *DispatchError) Failure() Failure {
	f := Failure{
		Kind:     e.Kind,
		Provider: e.Provider,
		Model:    e.Model,
	}
	if e.Err != nil {
		f.Message = e.Err.Error()
	}
	var apiErr *APIError
	if errors.As(e.Err, &apiErr) {
		f.Upstream = apiErr.Type
		f.Message = apiErr.Message
		switch apiErr.Type {
		case ErrorTypeRateLimit, ErrorTypeOverloaded, ErrorTypeTimeout, ErrorTypeServer:
			f.Retryable = true
		}
	}
	return f
}

// HTTPStatusCode returns the status an HTTP surface should use for the failure.
func (e *DispatchError) HTTPStatusCode() int {
	switch e.Kind {
	case FailureUnconfiguredProvider, FailureUnsupportedFamily:
		return http.StatusUnprocessableEntity
	}
	var apiErr *APIError
	if errors.As(e.Err, &apiErr) && apiErr.Type == ErrorTypeRateLimit {
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}
