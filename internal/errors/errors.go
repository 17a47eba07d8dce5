// Package errors provides error classification and handling for shellyfleet.
package errors

import (
	"fmt"
	"net"
	"strings"
)

// ErrorType represents the classification of errors
type ErrorType int

const (
	// PreconditionErrorType represents configuration or address-list errors
	// detected before any network activity
	PreconditionErrorType ErrorType = iota

	// TransportErrorType represents network-level failures (DNS, refused,
	// reset, timeout)
	TransportErrorType

	// HTTPErrorType represents a non-2xx response from a device
	HTTPErrorType

	// PartialFailureType represents the fleet-level condition of one or
	// more devices having failed
	PartialFailureType

	// UnknownErrorType represents unclassified errors
	UnknownErrorType
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case PreconditionErrorType:
		return "precondition"
	case TransportErrorType:
		return "transport"
	case HTTPErrorType:
		return "http"
	case PartialFailureType:
		return "partial-failure"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with classification information
type ClassifiedError struct {
	Type      ErrorType
	Original  error
	Message   string
	Retryable bool
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Original != nil {
		return ce.Original.Error()
	}
	return "unknown error"
}

// Unwrap returns the original error for error unwrapping
func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// IsRetryable returns whether this error should be retried
func (ce *ClassifiedError) IsRetryable() bool {
	return ce.Retryable
}

// ClassifyError analyzes an error and returns its classification.
// Only transport-class failures are retryable: a non-2xx response is a
// single observed outcome of the device, and precondition errors abort
// the run before any call is made.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	if ce, ok := err.(*ClassifiedError); ok {
		return ce
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return &ClassifiedError{Type: TransportErrorType, Original: err, Retryable: true}
	}

	errStr := strings.ToLower(err.Error())

	if isPreconditionError(errStr) {
		return &ClassifiedError{Type: PreconditionErrorType, Original: err, Retryable: false}
	}

	if isTransportError(errStr) {
		return &ClassifiedError{Type: TransportErrorType, Original: err, Retryable: true}
	}

	if isHTTPError(errStr) {
		return &ClassifiedError{Type: HTTPErrorType, Original: err, Retryable: false}
	}

	return &ClassifiedError{Type: UnknownErrorType, Original: err, Retryable: false}
}

// isPreconditionError checks if an error is related to setup/configuration
func isPreconditionError(errStr string) bool {
	preconditionKeywords := []string{
		"configuration",
		"validation failed",
		"no such file",
		"file not found",
		"empty address list",
		"no valid devices",
		"missing required",
		"malformed",
	}

	for _, keyword := range preconditionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isTransportError checks if an error is a network-level failure
func isTransportError(errStr string) bool {
	transportKeywords := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"connection closed",
		"network unreachable",
		"no route to host",
		"host unreachable",
		"broken pipe",
		"no such host",
		"unexpected eof",
	}

	for _, keyword := range transportKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isHTTPError checks if an error represents a non-2xx device response
func isHTTPError(errStr string) bool {
	return strings.Contains(errStr, "http ") || strings.Contains(errStr, "status code")
}

// NewPreconditionError creates a new precondition error
func NewPreconditionError(message string, original error) *ClassifiedError {
	return &ClassifiedError{
		Type:      PreconditionErrorType,
		Original:  original,
		Message:   message,
		Retryable: false,
	}
}

// NewTransportError creates a new transport error
func NewTransportError(message string, original error) *ClassifiedError {
	return &ClassifiedError{
		Type:      TransportErrorType,
		Original:  original,
		Message:   message,
		Retryable: true,
	}
}

// NewHTTPError creates a new HTTP error for a non-2xx device response
func NewHTTPError(status int, body string) *ClassifiedError {
	return &ClassifiedError{
		Type:      HTTPErrorType,
		Message:   fmt.Sprintf("HTTP %d - %s", status, strings.TrimSpace(body)),
		Retryable: false,
	}
}

// ErrorCollector collects and categorizes multiple errors
type ErrorCollector struct {
	errors map[ErrorType][]error
	count  int
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[ErrorType][]error),
	}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}

	classified := ClassifyError(err)
	ec.errors[classified.Type] = append(ec.errors[classified.Type], err)
	ec.count++
}

// Count returns the total number of errors
func (ec *ErrorCollector) Count() int {
	return ec.count
}

// CountByType returns the number of errors of a specific type
func (ec *ErrorCollector) CountByType(errorType ErrorType) int {
	return len(ec.errors[errorType])
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	return ec.count > 0
}

// Summary returns a summary of all collected errors
func (ec *ErrorCollector) Summary() string {
	if ec.count == 0 {
		return "no errors"
	}

	var parts []string
	for _, errorType := range []ErrorType{PreconditionErrorType, TransportErrorType, HTTPErrorType, PartialFailureType, UnknownErrorType} {
		if n := len(ec.errors[errorType]); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, errorType.String()))
		}
	}

	return fmt.Sprintf("total: %d errors (%s)", ec.count, strings.Join(parts, ", "))
}
