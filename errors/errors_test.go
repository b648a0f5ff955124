// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     string
		op       string
		contains string
	}{
		{
			name:     "basic error",
			err:      Invalid("createIncident", "title is required"),
			kind:     KindInvalid,
			op:       "createIncident",
			contains: "[invalid] createIncident: title is required",
		},
		{
			name:     "wrapped error",
			err:      Wrap(errors.New("connection refused"), KindUnavailable, "storeIncident", "store unreachable"),
			kind:     KindUnavailable,
			op:       "storeIncident",
			contains: "[unavailable] storeIncident: store unreachable: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.contains {
				t.Errorf("Error() = %q, want %q", got, tt.contains)
			}
			if got := GetKind(tt.err); got != tt.kind {
				t.Errorf("GetKind() = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	base := errors.New("row locked")
	wrapped := Unavailable("assignIncident", base)
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match the base error via errors.Is")
	}
}

func TestIsKind(t *testing.T) {
	err := Forbidden("updateStatus", "user does not have permission to update this incident")
	if !IsKind(err, KindForbidden) {
		t.Error("expected forbidden kind")
	}
	if IsKind(err, KindInvalid) {
		t.Error("forbidden error should not match invalid kind")
	}
	if IsKind(errors.New("plain"), KindForbidden) {
		t.Error("plain error should not match any kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Invalid("op", "bad"), http.StatusBadRequest},
		{Unauthenticated("op", "no token"), http.StatusUnauthorized},
		{Forbidden("op", "no permission"), http.StatusForbidden},
		{NotFound("op", "incident", "abc"), http.StatusNotFound},
		{Conflict("op", "already escalated"), http.StatusConflict},
		{RateLimited("op", 60), http.StatusTooManyRequests},
		{Unavailable("op", errors.New("down")), http.StatusServiceUnavailable},
		{Internal("op", errors.New("bug")), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(Invalid("op", "bad")) {
		t.Error("validation errors are never retryable")
	}
	if IsRetryable(Forbidden("op", "no")) {
		t.Error("authorization errors are never retryable")
	}
	if !IsRetryable(Unavailable("op", errors.New("down"))) {
		t.Error("unavailable errors are retryable")
	}
}

func TestInternalCorrelationID(t *testing.T) {
	err := Internal("op", errors.New("bug"))
	svcErr, ok := As(err)
	if !ok {
		t.Fatal("expected a ServiceError")
	}
	if svcErr.CorrelationID == "" {
		t.Error("internal errors must carry a correlation id")
	}
}

func TestInvalidFields(t *testing.T) {
	err := InvalidFields("createIncident", "validation failed",
		FieldError{Field: "title", Message: "required"},
		FieldError{Field: "location_address", Message: "required"},
	)
	svcErr, _ := As(err)
	if len(svcErr.Fields) != 2 {
		t.Fatalf("expected 2 field errors, got %d", len(svcErr.Fields))
	}
	if svcErr.Fields[0].Field != "title" {
		t.Errorf("unexpected field: %s", svcErr.Fields[0].Field)
	}
}

func TestInvalidFieldsMessageCarriesDetail(t *testing.T) {
	err := InvalidFields("escalateIncident", "validation failed",
		FieldError{Field: "reason", Message: "an escalation reason is required"},
	)
	want := "[invalid] escalateIncident: validation failed: an escalation reason is required"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	svcErr, _ := As(err)
	if got := svcErr.FullMessage(); got != "validation failed: an escalation reason is required" {
		t.Errorf("FullMessage() = %q", got)
	}

	// Without fields the message passes through untouched.
	plain, _ := As(Invalid("op", "title is required"))
	if got := plain.FullMessage(); got != "title is required" {
		t.Errorf("FullMessage() = %q", got)
	}
}
