// Package apperr classifies failures into the kinds the HTTP boundary and
// the sync/ingest loops branch on. Each kind is a distinct error type with
// Unwrap support; HTTPStatus maps kinds onto response codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError rejects malformed request payloads or parameters.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidation builds a ValidationError with a printf-formatted reason.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthRequiredError indicates no principal could be resolved outside demo mode.
type AuthRequiredError struct {
	Msg string
}

func (e *AuthRequiredError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "authentication required"
}

// NotFoundError indicates a missing token, job, or record.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// NewNotFound builds a NotFoundError with a printf-formatted reason.
func NewNotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// MisconfiguredError surfaces missing server configuration with field names.
type MisconfiguredError struct {
	Fields []string
}

func (e *MisconfiguredError) Error() string {
	return "server misconfiguration: " + strings.Join(e.Fields, ", ") + " missing"
}

// NewMisconfigured names the configuration fields that are absent.
func NewMisconfigured(fields ...string) *MisconfiguredError {
	return &MisconfiguredError{Fields: fields}
}

// UpstreamError wraps LMS, LLM, KB, OCR, or object store failures.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstream wraps err as a failure of the named upstream operation.
func NewUpstream(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

// GuardrailBlockedError marks a model response intercepted by the guardrail
// policy layer. Chat renders it as a safe refusal; elsewhere it is upstream.
type GuardrailBlockedError struct {
	Msg string
}

func (e *GuardrailBlockedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "response blocked by content guardrail"
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsGuardrailBlocked reports whether err is (or wraps) a GuardrailBlockedError.
func IsGuardrailBlocked(err error) bool {
	var target *GuardrailBlockedError
	return errors.As(err, &target)
}

// HTTPStatus maps an error kind to the response status the boundary emits.
// Unknown kinds map to 502: everything unclassified at the boundary is an
// upstream dependency failing.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		auth       *AuthRequiredError
		notFound   *NotFoundError
		misconfig  *MisconfiguredError
		guardrail  *GuardrailBlockedError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &misconfig):
		return http.StatusInternalServerError
	case errors.As(err, &guardrail):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
