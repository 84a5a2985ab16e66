// Package errors defines mailtrace's standardized error type and the five
// error kinds from the system's error handling design: ConfigError,
// AuthError, AggregatorError, ParseError, ExtractError.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Kind classifies an AppError per the error handling design.
type Kind string

const (
	KindConfig     Kind = "CONFIG"
	KindAuth       Kind = "AUTH"
	KindAggregator Kind = "AGGREGATOR"
	KindParse      Kind = "PARSE"
	KindExtract    Kind = "EXTRACT"
)

// Severity levels for errors.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AppError is the standardized error type threaded through every
// component. Component/Operation identify where the error occurred;
// Severity and Kind drive the propagation policy in the error handling
// design (terminate, skip-and-continue, retry, or silently count).
type AppError struct {
	Kind      Kind
	Message   string
	Component string
	Operation string
	Cause     error
	Location  string
	Metadata  map[string]interface{}
	Timestamp time.Time
	Severity  Severity
}

func newError(kind Kind, severity Severity, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(2)
	return &AppError{
		Kind:      kind,
		Message:   message,
		Component: component,
		Operation: operation,
		Location:  fmt.Sprintf("%s:%d", file, line),
		Metadata:  make(map[string]interface{}),
		Timestamp: time.Now(),
		Severity:  severity,
	}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Wrap sets the underlying cause and returns e for chaining.
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a key/value pair, e.g. host or queue_id, useful
// for structured logging at the call site.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Recoverable reports whether the propagation policy in the error
// handling design allows the caller to log and continue rather than
// abort. ConfigError always terminates the process; the rest are
// recoverable at some scope (skip-host, retry-with-backoff, or
// silently-counted).
func (e *AppError) Recoverable() bool {
	return e.Kind != KindConfig
}

// ToFields converts the error into a flat map suitable for
// logrus.WithFields.
func (e *AppError) ToFields() map[string]interface{} {
	fields := map[string]interface{}{
		"error_kind":      string(e.Kind),
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_severity":  string(e.Severity),
	}
	if e.Cause != nil {
		fields["error_cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		fields["error_meta_"+k] = v
	}
	return fields
}

// ConfigError reports a missing or invalid configuration value. It
// terminates the CLI per spec §7.
func ConfigError(operation, message string) *AppError {
	return newError(KindConfig, SeverityCritical, "config", operation, message)
}

// AuthError reports bad credentials or insufficient privilege against an
// aggregator backend. The one-shot tracer (run/graph) logs it and skips
// the host like any other aggregator failure, so it does not end those
// commands; the continuous pipeline retries it with backoff before
// skipping the host. ShellAggregator returns dial failures, including
// these, wrapped in an AggregatorError.
func AuthError(operation, message string) *AppError {
	return newError(KindAuth, SeverityHigh, "aggregator", operation, message)
}

// AggregatorError reports a transport failure, unreachable host, or
// malformed backend response. The tracer and pipeline log it and skip
// the offending host.
func AggregatorError(operation, message string) *AppError {
	return newError(KindAggregator, SeverityMedium, "aggregator", operation, message)
}

// ParseError reports a malformed log line. Always discarded silently by
// the caller; never propagated past the parser.
func ParseError(operation, message string) *AppError {
	return newError(KindParse, SeverityLow, "parser", operation, message)
}

// ExtractError reports a recognized event shape with missing fields. The
// extractor downgrades the event to OTHER rather than raising this.
func ExtractError(operation, message string) *AppError {
	return newError(KindExtract, SeverityLow, "extractor", operation, message)
}

// As reports whether err is an *AppError, returning it if so.
func As(err error) (*AppError, bool) {
	ae, ok := err.(*AppError)
	return ae, ok
}
