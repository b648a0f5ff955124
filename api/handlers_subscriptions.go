// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch-core/errors"
	"dispatch-core/incident"
	"dispatch-core/models"
	"dispatch-core/subscription"
)

type followUpBody struct {
	Email                  string `json:"email"`
	Phone                  string `json:"phone"`
	NotificationPreference string `json:"notificationPreference"`
}

func (s *Server) handleFollowUp(c *gin.Context) {
	var body followUpBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.followUp", "malformed request body"))
		return
	}
	sub, err := s.incidents.RegisterFollowUp(c.Request.Context(), c.Param("id"), incident.FollowUpRequest{
		Email:                  body.Email,
		Phone:                  body.Phone,
		NotificationPreference: body.NotificationPreference,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

type subscribeBody struct {
	PushToken               string                         `json:"pushToken"`
	Email                   string                         `json:"email"`
	Phone                   string                         `json:"phone"`
	NotificationPreferences models.NotificationPreferences `json:"notificationPreferences"`
}

func (s *Server) handleSubscribe(c *gin.Context) {
	var body subscribeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.subscribe", "malformed request body"))
		return
	}
	sub, err := s.subs.Subscribe(c.Request.Context(), c.Param("id"), subscription.Request{
		PushToken:   body.PushToken,
		Email:       body.Email,
		Phone:       body.Phone,
		Preferences: body.NotificationPreferences,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	err := s.subs.Unsubscribe(c.Request.Context(), c.Param("id"), c.Param("subscriptionId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
