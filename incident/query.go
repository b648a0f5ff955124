// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package incident

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dispatch-core/errors"
	"dispatch-core/events"
	"dispatch-core/models"
	"dispatch-core/notify"
	"dispatch-core/store"
)

// ListQuery narrows a scoped incident listing.
type ListQuery struct {
	Status   models.IncidentStatus
	Priority models.Priority
	Search   string
	Limit    int
}

// Get returns one incident if the principal may see it.
func (s *Service) Get(ctx context.Context, p models.Principal, id string) (*models.Incident, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanView(p, inc) {
		return nil, errors.Forbidden("incident.Get", "user does not have permission to view this incident")
	}
	return inc, nil
}

// List returns incidents visible to the principal, narrowed by the query.
func (s *Service) List(ctx context.Context, p models.Principal, q ListQuery) ([]*models.Incident, error) {
	filter, err := s.gate.VisibilityFilter(p)
	if err != nil {
		return nil, err
	}
	if q.Status != "" {
		if !q.Status.Valid() {
			return nil, errors.Invalidf("incident.List", "unknown status %q", q.Status)
		}
		filter.Statuses = []models.IncidentStatus{q.Status}
	}
	if q.Priority != "" {
		if !q.Priority.Valid() {
			return nil, errors.Invalidf("incident.List", "unknown priority %q", q.Priority)
		}
		filter.Priorities = []models.Priority{q.Priority}
	}
	filter.Search = q.Search
	filter.Limit = q.Limit
	return s.store.ListIncidents(ctx, filter)
}

// PublicIncident is the projection exposed on the public feed. Reporter
// contact and internal assignment fields never leave the scoped surface.
type PublicIncident struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Type        models.Category       `json:"type"`
	Priority    models.Priority       `json:"priority"`
	Status      models.IncidentStatus `json:"status"`
	Location    *models.Location      `json:"location,omitempty"`
	Upvotes     int                   `json:"upvotes"`
	CreatedAt   time.Time             `json:"createdAt"`
}

// PublicFeed lists active incidents as public projections, newest first.
func (s *Service) PublicFeed(ctx context.Context, limit int) ([]PublicIncident, error) {
	incidents, err := s.store.ListIncidents(ctx, store.IncidentFilter{
		Statuses: []models.IncidentStatus{
			models.StatusReported,
			models.StatusAssigned,
			models.StatusInProgress,
		},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	feed := make([]PublicIncident, 0, len(incidents))
	for _, inc := range incidents {
		feed = append(feed, PublicIncident{
			ID:          inc.ID,
			Title:       inc.Title,
			Description: inc.Description,
			Type:        inc.Type,
			Priority:    inc.Priority,
			Status:      inc.Status,
			Location:    inc.Location,
			Upvotes:     inc.Upvotes,
			CreatedAt:   inc.CreatedAt,
		})
	}
	return feed, nil
}

// PatchRequest carries the editable incident fields. Nil pointers leave the
// field unchanged.
type PatchRequest struct {
	Title       *string
	Description *string
	Priority    *models.Priority
}

// Patch edits incident fields in place without moving the lifecycle. The
// assignee and admins within scope may edit.
func (s *Service) Patch(ctx context.Context, p models.Principal, incidentID string, req PatchRequest) (*models.Incident, error) {
	const op = "incident.Patch"

	var fields []errors.FieldError
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		fields = append(fields, errors.FieldError{Field: "title", Message: "title cannot be empty"})
	}
	if req.Description != nil && strings.TrimSpace(*req.Description) == "" {
		fields = append(fields, errors.FieldError{Field: "description", Message: "description cannot be empty"})
	}
	if req.Priority != nil && !req.Priority.Valid() {
		fields = append(fields, errors.FieldError{Field: "priority", Message: "unknown priority"})
	}
	if len(fields) > 0 {
		return nil, errors.InvalidFields(op, "validation failed", fields...)
	}
	if req.Title == nil && req.Description == nil && req.Priority == nil {
		return nil, errors.Invalid(op, "no fields to update")
	}

	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanUpdateStatus(p, inc); err != nil {
		return nil, err
	}

	if req.Title != nil {
		inc.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		inc.Description = strings.TrimSpace(*req.Description)
	}
	if req.Priority != nil {
		inc.Priority = *req.Priority
	}
	inc.UpdatedAt = s.now()
	if err := s.store.UpdateIncident(ctx, inc); err != nil {
		return nil, errors.Unavailable(op, err)
	}

	s.record(p.UserID, "incident.patch", inc.ID, map[string]any{
		"priority": inc.Priority,
	})
	s.bus.Publish(ctx, events.Event{
		Type:     events.EventIncidentUpdated,
		Incident: inc,
		ActorID:  p.UserID,
		Title:    "Incident details updated",
		Message:  inc.Title,
	})
	return inc, nil
}

// ProgressUpdate posts a progress message to citizen subscribers, optionally
// moving the status and priority along the way.
func (s *Service) ProgressUpdate(ctx context.Context, p models.Principal, incidentID string, status models.IncidentStatus, message string, priority models.Priority) (*models.Incident, error) {
	const op = "incident.ProgressUpdate"
	if strings.TrimSpace(message) == "" {
		return nil, errors.InvalidFields(op, "validation failed",
			errors.FieldError{Field: "message", Message: "a progress message is required"})
	}

	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanUpdateStatus(p, inc); err != nil {
		return nil, err
	}

	now := s.now()
	if status != "" && status != inc.Status {
		if !status.Valid() {
			return nil, errors.Invalidf(op, "unknown status %q", status)
		}
		if !inc.Status.CanTransition(status) {
			return nil, errors.Conflict(op,
				fmt.Sprintf("cannot transition from %s to %s", inc.Status, status))
		}
		inc.Status = status
		inc.StatusUpdatedBy = p.UserID
		inc.StatusUpdatedAt = &now
	}
	if priority != "" {
		if !priority.Valid() {
			return nil, errors.Invalidf(op, "unknown priority %q", priority)
		}
		inc.Priority = priority
	}
	inc.UpdatedAt = now
	if err := s.store.UpdateIncident(ctx, inc); err != nil {
		return nil, errors.Unavailable(op, err)
	}

	s.record(p.UserID, "incident.progress_update", inc.ID, map[string]any{
		"status": inc.Status, "message": message,
	})
	s.bus.Publish(ctx, events.Event{
		Type:     events.EventIncidentUpdated,
		Incident: inc,
		ActorID:  p.UserID,
		Title:    "Incident progress update",
		Message:  message,
	})
	s.bus.PublishToSubscribers(ctx, inc.ID, events.SubscriberMessage{
		Title: "Incident update",
		Body:  notify.StatusUpdateMessage(inc, message),
	})
	return inc, nil
}

// ResolveRequest carries the rich resolution payload.
type ResolveRequest struct {
	ResolutionSummary string
	ActionsTaken      []string
	TimeToResolution  string
}

// Resolve closes the incident and emails subscribers the full resolution
// report (resolver, timing, actions taken).
func (s *Service) Resolve(ctx context.Context, p models.Principal, incidentID string, req ResolveRequest) (*models.Incident, error) {
	const op = "incident.Resolve"
	if strings.TrimSpace(req.ResolutionSummary) == "" {
		return nil, errors.InvalidFields(op, "validation failed",
			errors.FieldError{Field: "resolutionSummary", Message: "a resolution summary is required"})
	}

	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanUpdateStatus(p, inc); err != nil {
		return nil, err
	}
	if !inc.Status.CanTransition(models.StatusResolved) {
		return nil, errors.Conflict(op,
			fmt.Sprintf("cannot resolve incident in status %s", inc.Status))
	}

	now := s.now()
	inc.Status = models.StatusResolved
	inc.Resolution = req.ResolutionSummary
	inc.ResolvedBy = p.UserID
	inc.ResolvedAt = &now
	inc.StatusUpdatedBy = p.UserID
	inc.StatusUpdatedAt = &now
	inc.UpdatedAt = now
	if err := s.store.UpdateIncident(ctx, inc); err != nil {
		return nil, errors.Unavailable(op, err)
	}

	if s.metrics != nil {
		s.metrics.RecordResolution()
	}
	s.record(p.UserID, "incident.resolve", inc.ID, map[string]any{
		"summary": req.ResolutionSummary, "actions": req.ActionsTaken,
	})
	s.bus.Publish(ctx, events.Event{
		Type:     events.EventIncidentUpdated,
		Incident: inc,
		ActorID:  p.UserID,
		Title:    "Incident resolved",
		Message:  inc.Title,
	})

	resolverName := p.UserID
	if resolver, err := s.store.GetUser(ctx, p.UserID); err == nil {
		resolverName = strings.TrimSpace(resolver.FirstName + " " + resolver.LastName)
	}
	subject, body := notify.ResolutionEmail(inc, notify.Resolution{
		Summary:          req.ResolutionSummary,
		ActionsTaken:     req.ActionsTaken,
		TimeToResolution: req.TimeToResolution,
		ResolverName:     resolverName,
		ResolvedAt:       now,
	})
	s.bus.PublishToSubscribers(ctx, inc.ID, events.SubscriberMessage{
		Title:        "Incident resolved",
		Body:         notify.StatusUpdateMessage(inc, req.ResolutionSummary),
		EmailSubject: subject,
		EmailBody:    body,
	})
	return inc, nil
}
