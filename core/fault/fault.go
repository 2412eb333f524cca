// Package fault holds the error taxonomy shared by the dispatcher and the resource graph.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

type (
	// ConfigError reports a missing credential or a malformed descriptor. It is never retried.
	ConfigError struct {
		Field  string
		Reason string
	}

	// APIError is a non-success HTTP status returned by the remote service.
	APIError struct {
		Method       string
		URL          string
		StatusCode   int
		RequestBody  []byte
		ResponseBody []byte
	}

	// TransportError is a network-level failure; no response was received.
	TransportError struct {
		Method string
		URL    string
		Err    error
	}

	// UnsupportedOperationError is raised by operations a resource kind disables
	// and by accessors for fields its descriptor does not declare.
	UnsupportedOperationError struct {
		Kind      string
		Operation string
		Reason    string
	}

	// NotFoundError reports an id that is absent locally or remotely.
	NotFoundError struct {
		Kind  string
		ID    string
		Cause error
	}
)

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Reason
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s returned %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if len(e.ResponseBody) > 0 {
		msg += ": " + truncate(string(e.ResponseBody), 512)
	}
	return msg
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *UnsupportedOperationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s does not support %s", e.Kind, e.Operation)
	}
	return fmt.Sprintf("%s does not support %s: %s", e.Kind, e.Operation, e.Reason)
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.ID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return e.Cause }

// Config builds a ConfigError.
func Config(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Unsupported builds an UnsupportedOperationError.
func Unsupported(kind, operation, reason string) error {
	return &UnsupportedOperationError{Kind: kind, Operation: operation, Reason: reason}
}

// NotFound builds a NotFoundError, optionally wrapping the remote cause.
func NotFound(kind, id string, cause error) error {
	return &NotFoundError{Kind: kind, ID: id, Cause: cause}
}

// IsNotFound is true for NotFoundError and for a remote 404.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsUnsupported(err error) bool {
	var ue *UnsupportedOperationError
	return errors.As(err, &ue)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
