package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeInvalidRequest, Message: "bad request"},
			expected: "invalid_request: bad request",
		},
		{
			name:     "error with type, code, and message",
			err:      &APIError{Type: ErrorTypeNotFound, Code: ErrorCodeModelNotFound, Message: "gone"},
			expected: "not_found (model_not_found): gone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorTypeFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusBadRequest, ErrorTypeInvalidRequest},
		{http.StatusUnauthorized, ErrorTypeAuthentication},
		{http.StatusForbidden, ErrorTypePermission},
		{http.StatusNotFound, ErrorTypeNotFound},
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusServiceUnavailable, ErrorTypeOverloaded},
		{http.StatusGatewayTimeout, ErrorTypeTimeout},
		{http.StatusInternalServerError, ErrorTypeServer},
	}
	for _, tt := range tests {
		if got := ErrorTypeFromStatus(tt.status); got != tt.want {
			t.Errorf("ErrorTypeFromStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestIsModelGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"api not found", NewAPIError(ErrorTypeNotFound, "nope"), true},
		{"model_not_found code", NewAPIError(ErrorTypeInvalidRequest, "x").WithCode(ErrorCodeModelNotFound), true},
		{"wrapped", fmt.Errorf("probe: %w", NewAPIError(ErrorTypeNotFound, "x")), true},
		{"message marker", errors.New("The model `gpt-3` does not exist"), true},
		{"auth", NewAPIError(ErrorTypeAuthentication, "bad key"), false},
		{"timeout", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsModelGone(tt.err); got != tt.want {
				t.Errorf("IsModelGone() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDispatchError_IsAndFailure(t *testing.T) {
	err := error(&DispatchError{Kind: FailureUnconfiguredProvider, Provider: "acme", Err: ErrNotFound})
	if !errors.Is(err, ErrUnconfiguredProvider) {
		t.Error("expected errors.Is(err, ErrUnconfiguredProvider)")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected wrapped ErrNotFound to be reachable")
	}
	if errors.Is(err, ErrUnsupportedFamily) {
		t.Error("did not expect ErrUnsupportedFamily")
	}

	upstream := &DispatchError{
		Kind:     FailureAdapter,
		Provider: "acme",
		Model:    "m1",
		Err:      NewAPIError(ErrorTypeRateLimit, "slow down").WithStatusCode(429),
	}
	f := upstream.Failure()
	if f.Kind != FailureAdapter || f.Upstream != ErrorTypeRateLimit || !f.Retryable {
		t.Errorf("Failure() = %+v", f)
	}
	if f.Message != "slow down" {
		t.Errorf("Message = %q, want %q", f.Message, "slow down")
	}
	if upstream.HTTPStatusCode() != http.StatusTooManyRequests {
		t.Errorf("HTTPStatusCode() = %d", upstream.HTTPStatusCode())
	}
}

func TestClassifyLatency(t *testing.T) {
	tests := []struct {
		ms   int64
		want LatencyTier
	}{
		{0, TierFast},
		{499, TierFast},
		{500, TierBalanced},
		{1999, TierBalanced},
		{2000, TierComplex},
		{9000, TierComplex},
	}
	for _, tt := range tests {
		if got := ClassifyLatency(tt.ms); got != tt.want {
			t.Errorf("ClassifyLatency(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestActorFrom(t *testing.T) {
	if got := ActorFrom(context.Background()); got != SystemActor {
		t.Errorf("ActorFrom(empty) = %q, want %q", got, SystemActor)
	}
	ctx := WithActor(context.Background(), "admin@example.com")
	if got := ActorFrom(ctx); got != "admin@example.com" {
		t.Errorf("ActorFrom() = %q", got)
	}
}
