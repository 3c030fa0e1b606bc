// Package errors defines the tagged error kinds used across the watcher,
// filter and trigger-dispatch pipeline, and the common context (Ctx)
// every kind wraps: a trace id, a message, optional metadata, and an
// optional wrapped cause.
package errors

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the top-level error families a caller can type-switch on.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindChainClient Kind = "chain_client"
	KindRepository  Kind = "repository"
	KindFilter      Kind = "filter"
	KindEvaluation  Kind = "evaluation"
	KindBlockWatcher Kind = "block_watcher"
	KindNotifier    Kind = "notifier"
	KindOther       Kind = "other"
)

// Code is a kind-scoped sub-classification. The zero value CodeUnspecified
// is valid for kinds that don't subdivide further.
type Code string

const (
	CodeUnspecified Code = ""

	// Transport
	CodeHTTP                 Code = "http"
	CodeNetwork              Code = "network"
	CodeResponseParse        Code = "response_parse"
	CodeRequestSerialization Code = "request_serialization"
	CodeURLRotation          Code = "url_rotation"

	// ChainClient
	CodeInvalidInput              Code = "invalid_input"
	CodeOutsideRetentionWindow    Code = "outside_retention_window"
	CodeRPCError                  Code = "rpc_error"
	CodeUnexpectedResponseStruct  Code = "unexpected_response_structure"
	CodeChainResponseParseError   Code = "chain_response_parse_error"

	// Repository
	CodeValidationError Code = "validation_error"
	CodeLoadError       Code = "load_error"
	CodeInternalError   Code = "internal_error"

	// Filter
	CodeBlockTypeMismatch Code = "block_type_mismatch"
	CodeDecodingError     Code = "decoding_error"
	CodeEvaluationError   Code = "evaluation_error"

	// Evaluation
	CodeTypeMismatch      Code = "type_mismatch"
	CodeUnsupportedOperator Code = "unsupported_operator"
	CodeParseError        Code = "parse_error"
	CodeVariableNotFound   Code = "variable_not_found"

	// BlockWatcher
	CodeSchedulerError Code = "scheduler_error"
	CodeOther          Code = "other"
)

// Ctx is the common context every AppError carries: a message, a trace id
// that survives wrapping, optional structured metadata and an optional cause.
type Ctx struct {
	Kind     Kind                   `json:"kind"`
	Code     Code                   `json:"code,omitempty"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	TraceID  string                 `json:"trace_id"`
	Time     time.Time              `json:"time"`
	Cause    error                  `json:"-"`
}

// AppError is the concrete error type returned by every component. Kind and
// Code together identify the failure family; Ctx carries the rest.
type AppError struct {
	Ctx
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// ToJSON renders the error context as JSON, dropping the unwrapped cause
// (which is logged separately via WithCause in telemetry).
func (e *AppError) ToJSON() string {
	b, err := json.Marshal(e.Ctx)
	if err != nil {
		return fmt.Sprintf(`{"kind":%q,"message":%q}`, e.Kind, e.Message)
	}
	return string(b)
}

// WithMetadata attaches structured metadata and returns the same error for chaining.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// traceIDFor implements spec.md §7's trace-id propagation rule: wrapping an
// error that already carries a *AppError preserves its trace id; anything
// else (including a fresh top-level error) gets a new one.
func traceIDFor(cause error) string {
	if cause != nil {
		var inner *AppError
		if asAppError(cause, &inner) {
			return inner.TraceID
		}
	}
	return uuid.NewString()
}

func asAppError(err error, target **AppError) bool {
	for err != nil {
		if ae, ok := err.(*AppError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newErr(kind Kind, code Code, cause error, format string, args ...interface{}) *AppError {
	return &AppError{Ctx{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		TraceID: traceIDFor(cause),
		Time:    time.Now().UTC(),
		Cause:   cause,
	}}
}

// --- Transport -------------------------------------------------------------

func NewHTTPError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindTransport, CodeHTTP, cause, format, args...)
}

func NewNetworkError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindTransport, CodeNetwork, cause, format, args...)
}

func NewResponseParseError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindTransport, CodeResponseParse, cause, format, args...)
}

func NewRequestSerializationError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindTransport, CodeRequestSerialization, cause, format, args...)
}

func NewURLRotationError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindTransport, CodeURLRotation, cause, format, args...)
}

// --- ChainClient -------------------------------------------------------------

func NewInvalidInputError(format string, args ...interface{}) *AppError {
	return newErr(KindChainClient, CodeInvalidInput, nil, format, args...)
}

func NewOutsideRetentionWindowError(format string, args ...interface{}) *AppError {
	return newErr(KindChainClient, CodeOutsideRetentionWindow, nil, format, args...)
}

func NewRPCError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindChainClient, CodeRPCError, cause, format, args...)
}

func NewUnexpectedResponseStructureError(format string, args ...interface{}) *AppError {
	return newErr(KindChainClient, CodeUnexpectedResponseStruct, nil, format, args...)
}

func NewChainResponseParseError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindChainClient, CodeChainResponseParseError, cause, format, args...)
}

// --- Repository -------------------------------------------------------------

func NewValidationError(format string, args ...interface{}) *AppError {
	return newErr(KindRepository, CodeValidationError, nil, format, args...)
}

func NewLoadError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindRepository, CodeLoadError, cause, format, args...)
}

func NewInternalError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindRepository, CodeInternalError, cause, format, args...)
}

// --- Filter -------------------------------------------------------------

func NewBlockTypeMismatchError(format string, args ...interface{}) *AppError {
	return newErr(KindFilter, CodeBlockTypeMismatch, nil, format, args...)
}

func NewDecodingError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindFilter, CodeDecodingError, cause, format, args...)
}

func NewFilterEvaluationError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindFilter, CodeEvaluationError, cause, format, args...)
}

// --- Evaluation -------------------------------------------------------------

func NewTypeMismatchError(format string, args ...interface{}) *AppError {
	return newErr(KindEvaluation, CodeTypeMismatch, nil, format, args...)
}

func NewUnsupportedOperatorError(format string, args ...interface{}) *AppError {
	return newErr(KindEvaluation, CodeUnsupportedOperator, nil, format, args...)
}

func NewEvalParseError(format string, args ...interface{}) *AppError {
	return newErr(KindEvaluation, CodeParseError, nil, format, args...)
}

func NewVariableNotFoundError(format string, args ...interface{}) *AppError {
	return newErr(KindEvaluation, CodeVariableNotFound, nil, format, args...)
}

// --- BlockWatcher -------------------------------------------------------------

func NewSchedulerError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindBlockWatcher, CodeSchedulerError, cause, format, args...)
}

func NewBlockWatcherOtherError(cause error, format string, args ...interface{}) *AppError {
	return newErr(KindBlockWatcher, CodeOther, cause, format, args...)
}

// --- Notifier -------------------------------------------------------------

// NotifierError additionally classifies whether TriggerDispatcher should retry.
type NotifierError struct {
	AppError
	Retryable bool
}

func (e *NotifierError) Error() string {
	if e.Retryable {
		return "retryable: " + e.AppError.Error()
	}
	return "terminal: " + e.AppError.Error()
}

func NewNotifierError(retryable bool, cause error, format string, args ...interface{}) *NotifierError {
	return &NotifierError{
		AppError:  *newErr(KindNotifier, CodeUnspecified, cause, format, args...),
		Retryable: retryable,
	}
}

// --- Generic -----------------------------------------------------------------

// NewOtherError wraps an arbitrary error with a fresh trace id, matching
// spec.md §7's rule for anyhow-style catch-all wrapping.
func NewOtherError(cause error, format string, args ...interface{}) *AppError {
	e := newErr(KindOther, CodeOther, nil, format, args...)
	e.TraceID = uuid.NewString()
	e.Cause = cause
	return e
}

// Is reports whether err is an *AppError (at any depth) of the given kind.
func Is(err error, kind Kind) bool {
	var ae *AppError
	if !asAppError(err, &ae) {
		return false
	}
	return ae.Kind == kind
}

// TraceIDOf extracts the trace id from err, if it wraps an *AppError.
func TraceIDOf(err error) (string, bool) {
	var ae *AppError
	if !asAppError(err, &ae) {
		return "", false
	}
	return ae.TraceID, true
}
