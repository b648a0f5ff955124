// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dispatch-core/errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Message       string              `json:"message"`
	Errors        []errors.FieldError `json:"errors,omitempty"`
	RetryAfter    int                 `json:"retryAfter,omitempty"`
	CorrelationID string              `json:"correlationId,omitempty"`
}

// respondError maps a service error to its HTTP status and wire shape. The
// internal detail stays in the log; clients get the correlation id only.
func (s *Server) respondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Message: "internal error"}

	if svcErr, ok := errors.As(err); ok {
		body.Message = svcErr.FullMessage()
		body.Errors = svcErr.Fields
		body.RetryAfter = svcErr.RetryAfter
		body.CorrelationID = svcErr.CorrelationID
		if svcErr.Kind == errors.KindInternal {
			body.Message = "internal error"
		}
		if body.Message == "" {
			body.Message = http.StatusText(status)
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("correlationId", body.CorrelationID),
			zap.Error(err))
	}
	if body.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	c.AbortWithStatusJSON(status, body)
}
