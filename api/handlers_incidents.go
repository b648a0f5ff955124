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

	"dispatch-core/errors"
	"dispatch-core/incident"
	"dispatch-core/models"
)

// handleCitizenReport is the anonymous intake path. The form is multipart so
// mobile clients can attach media alongside the text fields.
func (s *Server) handleCitizenReport(c *gin.Context) {
	rep := incident.Report{
		Title:           c.PostForm("title"),
		Description:     c.PostForm("description"),
		LocationAddress: c.PostForm("location_address"),
		Priority:        models.Priority(c.PostForm("priority")),
		ReporterName:    c.PostForm("reporter_name"),
		ReporterEmail:   c.PostForm("reporter_email"),
		ReporterPhone:   c.PostForm("reporter_phone"),
	}
	var fields []errors.FieldError
	if raw := c.PostForm("location_lat"); raw != "" {
		lat, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fields = append(fields, errors.FieldError{Field: "location_lat", Message: "must be a number"})
		} else {
			rep.Lat = &lat
		}
	}
	if raw := c.PostForm("location_lng"); raw != "" {
		lng, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fields = append(fields, errors.FieldError{Field: "location_lng", Message: "must be a number"})
		} else {
			rep.Lng = &lng
		}
	}
	if len(fields) > 0 {
		s.respondError(c, errors.InvalidFields("api.citizenReport", "validation failed", fields...))
		return
	}

	inc, err := s.incidents.CreateFromCitizen(c.Request.Context(), rep)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inc)
}

type staffReportBody struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	LocationAddress string          `json:"locationAddress"`
	Priority        models.Priority `json:"priority"`
	LocationLat     *float64        `json:"locationLat"`
	LocationLng     *float64        `json:"locationLng"`
}

func (s *Server) handleStaffCreate(c *gin.Context) {
	var body staffReportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.staffCreate", "malformed request body"))
		return
	}
	inc, err := s.incidents.CreateAuthenticated(c.Request.Context(), principal(c), incident.Report{
		Title:           body.Title,
		Description:     body.Description,
		LocationAddress: body.LocationAddress,
		Priority:        body.Priority,
		Lat:             body.LocationLat,
		Lng:             body.LocationLng,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inc)
}

func (s *Server) handlePublicFeed(c *gin.Context) {
	limit := defaultFeedLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < defaultFeedLimit {
			limit = n
		}
	}
	feed, err := s.incidents.PublicFeed(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": feed})
}

func (s *Server) handleUpvote(c *gin.Context) {
	actorKey := c.ClientIP()
	if p := principal(c); p.UserID != "" {
		actorKey = p.UserID
	}
	count, err := s.incidents.Upvote(c.Request.Context(), c.Param("id"), actorKey)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upvotes": count})
}

func (s *Server) handleListIncidents(c *gin.Context) {
	q := incident.ListQuery{
		Status:   models.IncidentStatus(c.Query("status")),
		Priority: models.Priority(c.Query("priority")),
		Search:   c.Query("search"),
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			q.Limit = n
		}
	}
	incidents, err := s.incidents.List(c.Request.Context(), principal(c), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

func (s *Server) handleGetIncident(c *gin.Context) {
	inc, err := s.incidents.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

type patchBody struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Priority    *models.Priority `json:"priority"`
}

func (s *Server) handlePatchIncident(c *gin.Context) {
	var body patchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.patchIncident", "malformed request body"))
		return
	}
	inc, err := s.incidents.Patch(c.Request.Context(), principal(c), c.Param("id"), incident.PatchRequest{
		Title:       body.Title,
		Description: body.Description,
		Priority:    body.Priority,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

type assignBody struct {
	AssignedToID string          `json:"assignedToId"`
	Priority     models.Priority `json:"priority"`
	Notes        string          `json:"notes"`
}

func (s *Server) handleAssign(c *gin.Context) {
	var body assignBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.assign", "malformed request body"))
		return
	}
	inc, err := s.incidents.Assign(c.Request.Context(), principal(c), c.Param("id"), incident.AssignRequest{
		AssignedToID: body.AssignedToID,
		Priority:     body.Priority,
		Notes:        body.Notes,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

type statusBody struct {
	Status     models.IncidentStatus `json:"status"`
	Resolution string                `json:"resolution"`
	Notes      string                `json:"notes"`
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.updateStatus", "malformed request body"))
		return
	}
	inc, err := s.incidents.UpdateStatus(c.Request.Context(), principal(c), c.Param("id"),
		body.Status, body.Resolution, body.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

type escalateBody struct {
	Reason      string `json:"reason"`
	TargetLevel *int   `json:"targetLevel"`
}

func (s *Server) handleEscalate(c *gin.Context) {
	var body escalateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.escalate", "malformed request body"))
		return
	}
	inc, err := s.incidents.Escalate(c.Request.Context(), principal(c), c.Param("id"),
		body.Reason, body.TargetLevel)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

type progressBody struct {
	Status   models.IncidentStatus `json:"status"`
	Message  string                `json:"message"`
	Priority models.Priority       `json:"priority"`
}

func (s *Server) handleProgressUpdate(c *gin.Context) {
	var body progressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.progressUpdate", "malformed request body"))
		return
	}
	inc, err := s.incidents.ProgressUpdate(c.Request.Context(), principal(c), c.Param("id"),
		body.Status, body.Message, body.Priority)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

type resolveBody struct {
	ResolutionSummary string   `json:"resolutionSummary"`
	ActionsTaken      []string `json:"actionsTaken"`
	TimeToResolution  string   `json:"timeToResolution"`
}

func (s *Server) handleResolve(c *gin.Context) {
	var body resolveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, errors.Invalid("api.resolve", "malformed request body"))
		return
	}
	inc, err := s.incidents.Resolve(c.Request.Context(), principal(c), c.Param("id"), incident.ResolveRequest{
		ResolutionSummary: body.ResolutionSummary,
		ActionsTaken:      body.ActionsTaken,
		TimeToResolution:  body.TimeToResolution,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}
