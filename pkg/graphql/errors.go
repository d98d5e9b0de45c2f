package graphql

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrEmptyResponse is returned when a response carries neither data nor
	// errors.
	ErrEmptyResponse = errors.New("response has no data")
)

// ErrorClass represents a classification of transport errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents an exhausted primary quota.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassSecondaryRateLimit represents abuse-detection throttling.
	ErrorClassSecondaryRateLimit ErrorClass = "secondary_rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Error is a transport error with its classification. Rate limit errors wrap
// task.ErrPrimaryRateLimit or task.ErrSecondaryRateLimit.
type Error struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graphql %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("graphql %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Class returns the classification of err, or "" when err is not an *Error.
func Class(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrorClass
	}
	return ""
}

// GraphQLError is one entry of the errors member of a response.
type GraphQLError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// ResponseError reports the errors member of a response. When the response
// also carried data, the data was decoded and the error is partial.
type ResponseError struct {
	Errors  []GraphQLError
	Partial bool
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Message
	}
	kind := "graphql errors"
	if e.Partial {
		kind = "partial response"
	}
	return fmt.Sprintf("%s: %s", kind, strings.Join(msgs, "; "))
}

// PartialResponse reports whether data accompanied the errors.
func (e *ResponseError) PartialResponse() bool {
	return e.Partial
}

// shouldRetry determines if an error should be retried based on its
// classification. Everything except network errors is left to the caller,
// which counts failed attempts itself.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
