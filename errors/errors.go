// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package errors provides the service error taxonomy. Every failure that crosses a
// package boundary is one of the kinds below; the transport layer owns the only
// mapping from kind to HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Error kinds for structured error handling
const (
	KindInvalid         = "invalid"
	KindUnauthenticated = "unauthenticated"
	KindForbidden       = "forbidden"
	KindNotFound        = "not_found"
	KindConflict        = "conflict"
	KindRateLimited     = "rate_limited"
	KindUnavailable     = "unavailable"
	KindInternal        = "internal"
)

// FieldError describes a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ServiceError represents a structured error with kind and context
type ServiceError struct {
	Kind          string
	Op            string // Operation that failed
	Message       string // Human-readable message
	Fields        []FieldError
	RetryAfter    int    // Seconds, for rate-limited errors
	CorrelationID string // Set for internal errors
	Err           error  // Underlying error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	msg := e.FullMessage()
	switch {
	case e.Err != nil && msg != "":
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, msg)
	}
}

// FullMessage returns the message with field-level detail appended, so a
// validation failure names the offending fields wherever the error surfaces.
func (e *ServiceError) FullMessage() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Message
	}
	detail := strings.Join(parts, "; ")
	if e.Message == "" {
		return detail
	}
	return e.Message + ": " + detail
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Op == "" || e.Op == t.Op)
}

// New creates a new ServiceError without wrapping an existing error
func New(kind, op, message string) error {
	return &ServiceError{Kind: kind, Op: op, Message: message}
}

// Newf creates a new ServiceError with formatted message
func Newf(kind, op, format string, args ...interface{}) error {
	return &ServiceError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with operation context and kind
func Wrap(err error, kind, op, message string) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Kind: kind, Op: op, Message: message, Err: err}
}

// IsKind checks if an error belongs to a specific kind
func IsKind(err error, kind string) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind == kind
	}
	return false
}

// GetKind extracts the kind from an error. Unrecognized errors are internal.
func GetKind(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// As extracts the ServiceError from an error chain, if present.
func As(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	ok := errors.As(err, &svcErr)
	return svcErr, ok
}

// IsRetryable determines if an error should be retried
func IsRetryable(err error) bool {
	switch GetKind(err) {
	case KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error kind to its response status code.
func HTTPStatus(err error) int {
	switch GetKind(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors for frequently used patterns

// Invalid creates a validation error
func Invalid(op, message string) error {
	return New(KindInvalid, op, message)
}

// Invalidf creates a validation error with formatting
func Invalidf(op, format string, args ...interface{}) error {
	return Newf(KindInvalid, op, format, args...)
}

// InvalidFields creates a validation error carrying field-level messages
func InvalidFields(op, message string, fields ...FieldError) error {
	return &ServiceError{Kind: KindInvalid, Op: op, Message: message, Fields: fields}
}

// Unauthenticated creates a missing/invalid-credential error
func Unauthenticated(op, message string) error {
	return New(KindUnauthenticated, op, message)
}

// Forbidden creates a permission-denied error
func Forbidden(op, message string) error {
	return New(KindForbidden, op, message)
}

// Forbiddenf creates a permission-denied error with formatting
func Forbiddenf(op, format string, args ...interface{}) error {
	return Newf(KindForbidden, op, format, args...)
}

// NotFound creates a missing-entity error
func NotFound(op, entity, id string) error {
	return Newf(KindNotFound, op, "%s not found: %s", entity, id)
}

// Conflict creates a precondition-violated error
func Conflict(op, message string) error {
	return New(KindConflict, op, message)
}

// RateLimited creates a throttling error with a retry hint in seconds
func RateLimited(op string, retryAfter int) error {
	return &ServiceError{
		Kind:       KindRateLimited,
		Op:         op,
		Message:    "too many requests",
		RetryAfter: retryAfter,
	}
}

// Unavailable wraps a transient downstream failure
func Unavailable(op string, err error) error {
	return Wrap(err, KindUnavailable, op, "")
}

// Internal wraps an unexpected failure and attaches a correlation id.
func Internal(op string, err error) error {
	return &ServiceError{
		Kind:          KindInternal,
		Op:            op,
		Message:       "internal error",
		CorrelationID: uuid.NewString(),
		Err:           err,
	}
}
