package errors

import (
	"fmt"
	"runtime"
	"time"
)

// AppError represents a standardized application error
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   Severity               `json:"severity"`
}

// Severity levels for errors
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Error codes
const (
	CodeConfigInvalid = "CONFIG_INVALID"

	// Pipeline error taxonomy
	CodeParseFailure      = "PARSE_FAILURE"
	CodeTranslateMiss     = "TRANSLATE_MISS"
	CodeMissingSourceType = "MISSING_SOURCE_TYPE"
	CodeUnknownSourceType = "UNKNOWN_SOURCE_TYPE"
	CodeRuleLoadError     = "RULE_LOAD_ERROR"
	CodeSchemaLoadError   = "SCHEMA_LOAD_ERROR"
)

// New creates a new standardized error
func New(code, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	return &AppError{
		Code:       code,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
		Severity:   SeverityMedium, // Default severity
	}
}

// NewCritical creates a critical error
func NewCritical(code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = SeverityCritical
	return err
}

// NewWithSeverity creates an error with specific severity
func NewWithSeverity(severity Severity, code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = severity
	return err
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Wrap wraps another error as the cause
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ConfigError creates a configuration error
func ConfigError(operation, message string) *AppError {
	return New(CodeConfigInvalid, "config", operation, message)
}

// ParseFailure creates a parser error (a vendor parser rejected the raw
// event text). Non-fatal: the caller drops the event and continues.
func ParseFailure(sourceType, message string) *AppError {
	return New(CodeParseFailure, "processor", sourceType, message)
}

// RuleLoadError creates a fatal rule-compilation error (bad JSON or an
// unknown rewrite operator). Startup must abort on this error.
func RuleLoadError(ruleFile, message string) *AppError {
	return NewCritical(CodeRuleLoadError, "rules", ruleFile, message)
}

// SchemaLoadError creates a fatal schema-catalog load error (unreadable
// or malformed schema document). Startup must abort on this error.
func SchemaLoadError(document string, cause error) *AppError {
	return NewCritical(CodeSchemaLoadError, "schema", document, "failed to load schema document").Wrap(cause)
}

// UnknownSourceType creates a warning-level error logged once per
// source type that has no registered parser or translator.
func UnknownSourceType(sourceType string) *AppError {
	return NewWithSeverity(SeverityLow, CodeUnknownSourceType, "demuxer", sourceType, "no parser/translator registered for source type")
}

// MissingSourceType creates a warning-level error for a raw event that
// carries no sourceType attribute at all. The event is forwarded to the
// raw side-sink rather than dropped.
func MissingSourceType(eventID string) *AppError {
	return NewWithSeverity(SeverityLow, CodeMissingSourceType, "demuxer", eventID, "event has no sourceType attribute")
}

// TranslateMiss creates a warning-level error for a parsed event that no
// registered translator's guard matched.
func TranslateMiss(sourceType string) *AppError {
	return NewWithSeverity(SeverityLow, CodeTranslateMiss, "processor", sourceType, "no translator rule matched parsed event")
}
