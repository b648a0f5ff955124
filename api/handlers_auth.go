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

	"dispatch-core/auth"
	"dispatch-core/errors"
	"dispatch-core/events"
	"dispatch-core/models"
)

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var body loginBody
	// The limiter already buffered the body to read the email.
	if err := c.ShouldBindBodyWithJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.login", "malformed request body"))
		return
	}
	token, user, err := s.auth.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

type inviteBody struct {
	Email          string      `json:"email"`
	Role           models.Role `json:"role"`
	OrganisationID string      `json:"organisationId"`
	StationID      string      `json:"stationId"`
}

func (s *Server) handleCreateInvitation(c *gin.Context) {
	var body inviteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.createInvitation", "malformed request body"))
		return
	}
	inv, err := s.auth.CreateInvitation(c.Request.Context(), principal(c), auth.InviteRequest{
		Email:          body.Email,
		Role:           body.Role,
		OrganisationID: body.OrganisationID,
		StationID:      body.StationID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

type acceptBody struct {
	Token     string `json:"token"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

func (s *Server) handleAcceptInvitation(c *gin.Context) {
	var body acceptBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.acceptInvitation", "malformed request body"))
		return
	}
	if body.Token == "" {
		s.respondError(c, errors.InvalidFields("api.acceptInvitation", "validation failed",
			errors.FieldError{Field: "token", Message: "invitation token is required"}))
		return
	}
	user, err := s.auth.AcceptInvitation(c.Request.Context(), body.Token, auth.AcceptRequest{
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Password:  body.Password,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.bus.Publish(c.Request.Context(), events.Event{
		Type:           events.EventEntityChanged,
		ActorID:        user.ID,
		EntityType:     "user",
		EntityID:       user.ID,
		OrganisationID: user.OrganisationID,
		StationID:      user.StationID,
		Title:          "New staff account",
		Message:        user.Email + " joined as " + string(user.Role),
	})
	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleRevokeInvitation(c *gin.Context) {
	err := s.auth.RevokeInvitation(c.Request.Context(), principal(c), s.gate, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListNotifications(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	notifications, err := s.store.ListNotifications(c.Request.Context(), principal(c).UserID, unreadOnly)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	if err := s.store.MarkNotificationRead(c.Request.Context(), c.Param("id"), principal(c).UserID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
