// Package errors provides unified error handling with structured error codes
// shared between the orchestration engine and the transport layer.
package errors

import (
	"fmt"
	"net/http"
)

// Code classifies a failure for callers and for the HTTP boundary.
type Code int

const (
	Unknown Code = iota
	Internal
	Unavailable
	Timeout

	// Synchronous API failures.
	Conflict     // duplicate meeting id on start
	NotFound     // unknown meeting id
	InvalidState // operation not valid for current meeting status

	// Capture failures.
	DeviceError // capture device unavailable or misconfigured
	StreamError // capture loop failure mid-recording

	// Degraded-but-absorbed conditions.
	MixingDegraded     // mixing fallback chain used
	TranscriptionError // per-tick transcription failure; fatal only on model init
	SummarizationError // summarizer failed, fallback text substituted

	// Finalize pipeline failures.
	ArtifactWriteError // fatal for the pipeline, meeting transitions to error
)

var codeNames = map[Code]string{
	Unknown:            "UNKNOWN",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	Timeout:            "TIMEOUT",
	Conflict:           "CONFLICT",
	NotFound:           "NOT_FOUND",
	InvalidState:       "INVALID_STATE",
	DeviceError:        "DEVICE_ERROR",
	StreamError:        "STREAM_ERROR",
	MixingDegraded:     "MIXING_DEGRADED",
	TranscriptionError: "TRANSCRIPTION_ERROR",
	SummarizationError: "SUMMARIZATION_ERROR",
	ArtifactWriteError: "ARTIFACT_WRITE_ERROR",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// httpStatusMap maps codes to HTTP status codes at the API boundary.
var httpStatusMap = map[Code]int{
	Conflict:           http.StatusConflict,
	NotFound:           http.StatusNotFound,
	InvalidState:       http.StatusConflict,
	DeviceError:        http.StatusServiceUnavailable,
	Unavailable:        http.StatusServiceUnavailable,
	Timeout:            http.StatusGatewayTimeout,
	TranscriptionError: http.StatusBadGateway,
	SummarizationError: http.StatusBadGateway,
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the HTTP status code for the API boundary.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// IsCode checks if an error carries a specific error code.
func IsCode(err error, code Code) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the code from an error, Unknown for foreign errors.
func CodeOf(err error) Code {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return Unknown
}

// IsRetryable returns true if the operation is worth retrying.
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, TranscriptionError, SummarizationError:
		return true
	default:
		return false
	}
}
