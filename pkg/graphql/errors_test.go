package graphql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Sternrassler/search-harvester/pkg/task"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without wrapped error",
			err:  &Error{StatusCode: 502, ErrorClass: ErrorClassServer, Message: "Server Error"},
			want: "graphql server error (status 502): Server Error",
		},
		{
			name: "with wrapped error",
			err:  &Error{StatusCode: 403, ErrorClass: ErrorClassSecondaryRateLimit, Message: "slow down", Err: task.ErrSecondaryRateLimit},
			want: "graphql secondary_rate_limit error (status 403): slow down: secondary rate limit reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := fmt.Errorf("query: %w", &Error{ErrorClass: ErrorClassRateLimit, Err: task.ErrPrimaryRateLimit})
	if !errors.Is(err, task.ErrPrimaryRateLimit) {
		t.Error("errors.Is() should find the wrapped sentinel")
	}
	if Class(err) != ErrorClassRateLimit {
		t.Errorf("Class() = %q, want rate_limit", Class(err))
	}
	if Class(errors.New("plain")) != "" {
		t.Error("Class() of a plain error should be empty")
	}
}

func TestResponseError(t *testing.T) {
	full := &ResponseError{Errors: []GraphQLError{{Message: "a"}, {Message: "b"}}}
	if full.PartialResponse() {
		t.Error("PartialResponse() = true without data")
	}
	if got := full.Error(); got != "graphql errors: a; b" {
		t.Errorf("Error() = %q", got)
	}

	partial := &ResponseError{Errors: []GraphQLError{{Message: "a"}}, Partial: true}
	if !task.IsPartialResponse(fmt.Errorf("wrap: %w", partial)) {
		t.Error("IsPartialResponse() should see a wrapped partial response")
	}
	if got := partial.Error(); got != "partial response: a" {
		t.Errorf("Error() = %q", got)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassNetwork, true},
		{ErrorClassServer, false},
		{ErrorClassClient, false},
		{ErrorClassRateLimit, false},
		{ErrorClassSecondaryRateLimit, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.want {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}
