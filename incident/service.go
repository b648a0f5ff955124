// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package incident owns the incident lifecycle: intake, assignment, status
// transitions, escalation and resolution. All mutations go through Service so
// the state machine, authorization and notification fan-out stay in one place.
package incident

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispatch-core/audit"
	"dispatch-core/authz"
	"dispatch-core/classifier"
	"dispatch-core/errors"
	"dispatch-core/events"
	"dispatch-core/models"
	"dispatch-core/notify"
	"dispatch-core/routing"
	"dispatch-core/store"
	"dispatch-core/subscription"
)

const maxEscalationLevel = 3

// Classifier tags a report with a responder category.
type Classifier interface {
	Classify(title, description string) classifier.Result
}

// StationSelector picks the responding station for a classified report.
type StationSelector interface {
	SelectOptimalStation(ctx context.Context, category models.Category, loc *models.Location, urgency models.Priority) (*routing.StationRoute, error)
}

// Publisher is the notification fan-out; implemented by events.Bus.
// All publishing is best-effort and never fails the owning mutation.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
	PublishToSubscribers(ctx context.Context, incidentID string, msg events.SubscriberMessage)
}

// MetricsRecorder receives lifecycle observations. Implemented by
// metrics.DispatchMetrics; nil disables recording.
type MetricsRecorder interface {
	RecordIncidentCreated(category, priority string)
	RecordClassifierFallback()
	RecordAssignment()
	RecordResolution()
	RecordEscalation(trigger string, level int)
	RecordUpvote()
}

// Service implements the incident lifecycle operations.
type Service struct {
	store      store.Store
	classifier Classifier
	selector   StationSelector
	gate       *authz.Gate
	bus        Publisher
	subs       *subscription.Registry
	audit      *audit.Recorder
	metrics    MetricsRecorder
	logger     *zap.Logger
	now        func() time.Time

	// anonymousID is the sentinel reporter id for unauthenticated reports.
	anonymousID string
}

// NewService wires the incident service. audit may be nil in tests.
func NewService(st store.Store, cls Classifier, sel StationSelector, gate *authz.Gate,
	bus Publisher, subs *subscription.Registry, rec *audit.Recorder, logger *zap.Logger) *Service {
	return &Service{
		store:       st,
		classifier:  cls,
		selector:    sel,
		gate:        gate,
		bus:         bus,
		subs:        subs,
		audit:       rec,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		anonymousID: models.AnonymousUserID,
	}
}

// SetAnonymousUserID overrides the reporter id recorded on unauthenticated
// reports. Empty values keep the default.
func (s *Service) SetAnonymousUserID(id string) {
	if id != "" {
		s.anonymousID = id
	}
}

// SetMetrics wires an optional metrics recorder. Must be called before the
// service handles requests.
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Report is the intake payload shared by citizen and staff creation.
type Report struct {
	Title           string
	Description     string
	LocationAddress string
	Lat             *float64
	Lng             *float64
	Priority        models.Priority

	ReporterName  string
	ReporterEmail string
	ReporterPhone string
}

func (r Report) validate(op string) error {
	var fields []errors.FieldError
	if strings.TrimSpace(r.Title) == "" {
		fields = append(fields, errors.FieldError{Field: "title", Message: "title is required"})
	}
	if strings.TrimSpace(r.Description) == "" {
		fields = append(fields, errors.FieldError{Field: "description", Message: "description is required"})
	}
	if strings.TrimSpace(r.LocationAddress) == "" {
		fields = append(fields, errors.FieldError{Field: "location_address", Message: "location address is required"})
	}
	if r.Priority != "" && !r.Priority.Valid() {
		fields = append(fields, errors.FieldError{Field: "priority", Message: "unknown priority"})
	}
	if len(fields) > 0 {
		return errors.InvalidFields(op, "validation failed", fields...)
	}
	return nil
}

func (r Report) location() *models.Location {
	loc := &models.Location{Address: strings.TrimSpace(r.LocationAddress)}
	if r.Lat != nil && r.Lng != nil {
		loc.Lat, loc.Lng = *r.Lat, *r.Lng
	}
	return loc
}

// CreateFromCitizen handles the anonymous public intake path: classify, route
// to the optimal station, persist as reported, notify station admins.
func (s *Service) CreateFromCitizen(ctx context.Context, rep Report) (*models.Incident, error) {
	const op = "incident.CreateFromCitizen"
	if err := rep.validate(op); err != nil {
		return nil, err
	}
	return s.create(ctx, op, rep, s.anonymousID, "", "")
}

// CreateAuthenticated is the staff intake path. The incident defaults to the
// principal's station and organisation when they carry one; otherwise routing
// decides, same as the citizen path.
func (s *Service) CreateAuthenticated(ctx context.Context, p models.Principal, rep Report) (*models.Incident, error) {
	const op = "incident.CreateAuthenticated"
	if err := rep.validate(op); err != nil {
		return nil, err
	}
	return s.create(ctx, op, rep, p.UserID, p.StationID, p.OrganisationID)
}

func (s *Service) create(ctx context.Context, op string, rep Report, reporterID, stationID, orgID string) (*models.Incident, error) {
	result := s.classifier.Classify(rep.Title, rep.Description)

	priority := rep.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	loc := rep.location()
	now := s.now()
	inc := &models.Incident{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(rep.Title),
		Description:   strings.TrimSpace(rep.Description),
		Type:          result.Category,
		Priority:      priority,
		Status:        models.StatusReported,
		Location:      loc,
		StationID:     stationID,
		ReportedByID:  reporterID,
		ReporterName:  rep.ReporterName,
		ReporterEmail: rep.ReporterEmail,
		ReporterPhone: rep.ReporterPhone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inc.OrganisationID = orgID

	if inc.StationID == "" {
		route, err := s.selector.SelectOptimalStation(ctx, result.Category, loc, priority)
		switch {
		case err == nil:
			inc.StationID = route.StationID
			if station, serr := s.store.GetStation(ctx, route.StationID); serr == nil {
				inc.OrganisationID = station.OrganisationID
			}
			s.logger.Info("Incident routed",
				zap.String("incident", inc.ID),
				zap.String("station", route.StationID),
				zap.Float64("etaMin", route.EmergencyETA))
		default:
			// Intake must not be lost when no responder is configured;
			// the incident stays unrouted for manual triage.
			s.logger.Warn("Station selection failed, incident left unrouted",
				zap.String("incident", inc.ID), zap.Error(err))
		}
	}

	if err := s.store.CreateIncident(ctx, inc); err != nil {
		return nil, errors.Unavailable(op, err)
	}

	if s.metrics != nil {
		s.metrics.RecordIncidentCreated(string(inc.Type), string(inc.Priority))
		if len(result.MatchedKeywords) == 1 && result.MatchedKeywords[0] == classifier.GeneralIncidentTag {
			s.metrics.RecordClassifierFallback()
		}
	}
	s.record(reporterID, "incident.create", inc.ID, map[string]any{
		"category":   result.Category,
		"confidence": result.Confidence,
		"priority":   priority,
		"stationId":  inc.StationID,
	})
	s.bus.Publish(ctx, events.Event{
		Type:     events.EventIncidentCreated,
		Incident: inc,
		ActorID:  reporterID,
		Title:    "New incident reported",
		Message:  fmt.Sprintf("%s (%s priority)", inc.Title, inc.Priority),
	})
	return inc, nil
}

// AssignRequest carries the assignment parameters.
type AssignRequest struct {
	AssignedToID string
	Priority     models.Priority
	Notes        string
}

// Assign moves the incident to assigned and notifies the assignee; station
// staff may only self-assign, admins assign within their scope.
func (s *Service) Assign(ctx context.Context, p models.Principal, incidentID string, req AssignRequest) (*models.Incident, error) {
	const op = "incident.Assign"
	if req.AssignedToID == "" {
		return nil, errors.InvalidFields(op, "validation failed",
			errors.FieldError{Field: "assignedToId", Message: "assignee is required"})
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, errors.Invalid(op, "unknown priority")
	}

	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanAssign(p, inc, req.AssignedToID); err != nil {
		return nil, err
	}
	if !inc.Status.CanTransition(models.StatusAssigned) {
		return nil, errors.Conflict(op,
			fmt.Sprintf("cannot assign incident in status %s", inc.Status))
	}

	target, err := s.store.GetUser(ctx, req.AssignedToID)
	if err != nil {
		return nil, err
	}
	if target.Role.Level() < 0 {
		return nil, errors.Invalid(op, "assignee must be a staff member")
	}
	if !target.IsActive {
		return nil, errors.Invalid(op, "assignee account is inactive")
	}

	now := s.now()
	inc.Status = models.StatusAssigned
	inc.AssignedTo = target.ID
	inc.AssignedBy = p.UserID
	inc.AssignedAt = &now
	inc.StatusUpdatedBy = p.UserID
	inc.StatusUpdatedAt = &now
	inc.UpdatedAt = now
	if req.Priority != "" {
		inc.Priority = req.Priority
	}
	if err := s.store.UpdateIncident(ctx, inc); err != nil {
		return nil, errors.Unavailable(op, err)
	}

	if s.metrics != nil {
		s.metrics.RecordAssignment()
	}
	s.record(p.UserID, "incident.assign", inc.ID, map[string]any{
		"assignedTo": target.ID, "notes": req.Notes,
	})

	evType := events.EventIncidentAssigned
	title := "Incident assigned to you"
	if target.ID == p.UserID {
		evType = events.EventIncidentSelfAssigned
		title = "Incident self-assigned"
	}
	s.bus.Publish(ctx, events.Event{
		Type:           evType,
		Incident:       inc,
		ActorID:        p.UserID,
		Title:          title,
		Message:        inc.Title,
		ActionRequired: evType == events.EventIncidentAssigned,
	})
	return inc, nil
}

// UpdateStatus applies one lifecycle transition. Resolving requires a
// resolution text; reopening (resolved to assigned) requires notes and a
// station admin or above.
func (s *Service) UpdateStatus(ctx context.Context, p models.Principal, incidentID string, newStatus models.IncidentStatus, resolution, notes string) (*models.Incident, error) {
	const op = "incident.UpdateStatus"
	if !newStatus.Valid() {
		return nil, errors.Invalidf(op, "unknown status %q", newStatus)
	}

	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	reopen := inc.Status == models.StatusResolved && newStatus == models.StatusAssigned
	if reopen {
		if err := s.gate.CanReopen(p, inc); err != nil {
			return nil, err
		}
		if strings.TrimSpace(notes) == "" {
			return nil, errors.Invalid(op, "a reopen reason is required")
		}
	} else if err := s.gate.CanUpdateStatus(p, inc); err != nil {
		return nil, err
	}

	if !inc.Status.CanTransition(newStatus) {
		return nil, errors.Conflict(op,
			fmt.Sprintf("cannot transition from %s to %s", inc.Status, newStatus))
	}

	now := s.now()
	from := inc.Status
	inc.Status = newStatus
	inc.StatusUpdatedBy = p.UserID
	inc.StatusUpdatedAt = &now
	inc.UpdatedAt = now

	if newStatus == models.StatusResolved {
		if strings.TrimSpace(resolution) == "" {
			return nil, errors.InvalidFields(op, "validation failed",
				errors.FieldError{Field: "resolution", Message: "resolution text is required"})
		}
		inc.ResolvedBy = p.UserID
		inc.ResolvedAt = &now
		inc.Resolution = resolution
	}

	if err := s.store.UpdateIncident(ctx, inc); err != nil {
		return nil, errors.Unavailable(op, err)
	}

	if newStatus == models.StatusResolved && s.metrics != nil {
		s.metrics.RecordResolution()
	}
	s.record(p.UserID, "incident.status", inc.ID, map[string]any{
		"from": from, "to": newStatus, "notes": notes,
	})
	s.bus.Publish(ctx, events.Event{
		Type:     events.EventIncidentUpdated,
		Incident: inc,
		ActorID:  p.UserID,
		Title:    "Incident status updated",
		Message:  fmt.Sprintf("%s is now %s", inc.Title, newStatus),
	})
	if newStatus == models.StatusResolved {
		s.bus.PublishToSubscribers(ctx, inc.ID, events.SubscriberMessage{
			Title: "Incident resolved",
			Body:  notify.StatusUpdateMessage(inc, resolution),
		})
	}
	return inc, nil
}

// Escalate bumps the escalation level by one (or to the requested level) and
// flips the status to escalated. Escalating to a level at or below the
// current one is a conflict; the actor's role must sit strictly below the
// target level.
func (s *Service) Escalate(ctx context.Context, p models.Principal, incidentID, reason string, targetLevel *int) (*models.Incident, error) {
	const op = "incident.Escalate"
	if strings.TrimSpace(reason) == "" {
		return nil, errors.InvalidFields(op, "validation failed",
			errors.FieldError{Field: "reason", Message: "an escalation reason is required"})
	}

	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	current := inc.EscalationLevel
	if current >= maxEscalationLevel {
		return nil, errors.Conflict(op, "incident is already at the highest escalation level")
	}
	newLevel := current + 1
	if targetLevel != nil {
		newLevel = *targetLevel
	}
	if newLevel > maxEscalationLevel {
		newLevel = maxEscalationLevel
	}
	if newLevel <= current {
		return nil, errors.Conflict(op,
			fmt.Sprintf("incident already escalated to level %d", current))
	}
	if err := s.gate.CanEscalate(p, inc, newLevel); err != nil {
		return nil, err
	}
	if inc.Status != models.StatusEscalated && !inc.Status.CanTransition(models.StatusEscalated) {
		return nil, errors.Conflict(op,
			fmt.Sprintf("cannot escalate incident in status %s", inc.Status))
	}

	err = s.store.Tx(ctx, func(tx store.Store) error {
		fresh, err := tx.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if fresh.EscalationLevel >= newLevel {
			return errors.Conflict(op,
				fmt.Sprintf("incident already escalated to level %d", fresh.EscalationLevel))
		}
		s.applyEscalation(fresh, newLevel, p.UserID, reason)
		inc = fresh
		return tx.UpdateIncident(ctx, fresh)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordEscalation("manual", newLevel)
	}
	s.record(p.UserID, "incident.escalate", inc.ID, map[string]any{
		"level": newLevel, "reason": reason,
	})
	s.publishEscalation(ctx, inc, p.UserID, newLevel)
	return inc, nil
}

// AutoEscalate is called by the scheduler when a rule threshold elapses. The
// incident is re-read inside the transaction so a tick racing a manual
// escalation applies at most one bump.
func (s *Service) AutoEscalate(ctx context.Context, incidentID string, rule models.EscalationRule) error {
	const op = "incident.AutoEscalate"

	var escalated *models.Incident
	err := s.store.Tx(ctx, func(tx store.Store) error {
		inc, err := tx.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		// Re-check: a concurrent mutation may have moved the incident on.
		if inc.Status != rule.FromStatus || inc.Priority != rule.Priority {
			return nil
		}
		if inc.EscalationLevel >= maxEscalationLevel {
			return nil
		}
		elapsed := int(s.now().Sub(inc.EscalationClock()).Minutes())
		if elapsed < rule.ThresholdMinutes {
			return nil
		}

		reason := fmt.Sprintf("Auto-escalated: %s for %d minutes (%s priority)",
			rule.FromStatus, elapsed, rule.Priority)
		s.applyEscalation(inc, inc.EscalationLevel+1, "", reason)
		escalated = inc
		return tx.UpdateIncident(ctx, inc)
	})
	if err != nil {
		return errors.Unavailable(op, err)
	}
	if escalated == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordEscalation("auto", escalated.EscalationLevel)
	}
	s.record("", "incident.auto_escalate", escalated.ID, map[string]any{
		"level": escalated.EscalationLevel, "reason": escalated.EscalationReason,
	})
	s.publishEscalation(ctx, escalated, "", escalated.EscalationLevel)
	return nil
}

func (s *Service) applyEscalation(inc *models.Incident, level int, actorID, reason string) {
	now := s.now()
	inc.Status = models.StatusEscalated
	inc.EscalationLevel = level
	inc.EscalatedBy = actorID
	inc.EscalatedAt = &now
	inc.EscalationReason = reason
	inc.StatusUpdatedBy = actorID
	inc.StatusUpdatedAt = &now
	inc.UpdatedAt = now
}

func (s *Service) publishEscalation(ctx context.Context, inc *models.Incident, actorID string, level int) {
	s.bus.Publish(ctx, events.Event{
		Type:           events.EventIncidentEscalated,
		Incident:       inc,
		ActorID:        actorID,
		TargetLevel:    level,
		Title:          fmt.Sprintf("Incident escalated to level %d", level),
		Message:        fmt.Sprintf("%s: %s", inc.Title, inc.EscalationReason),
		ActionRequired: true,
	})
}

// Upvote is idempotent per actor key; it returns the persisted count.
func (s *Service) Upvote(ctx context.Context, incidentID, actorKey string) (int, error) {
	const op = "incident.Upvote"
	if actorKey == "" {
		return 0, errors.Invalid(op, "actor key is required")
	}
	if _, err := s.store.GetIncident(ctx, incidentID); err != nil {
		return 0, err
	}
	count, added, err := s.store.AddUpvote(ctx, incidentID, actorKey)
	if err != nil {
		return 0, errors.Unavailable(op, err)
	}
	if added {
		if s.metrics != nil {
			s.metrics.RecordUpvote()
		}
		s.logger.Debug("Incident upvoted",
			zap.String("incident", incidentID), zap.Int("count", count))
	}
	return count, nil
}

// FollowUpRequest registers a citizen for updates on one incident.
type FollowUpRequest struct {
	Email                  string
	Phone                  string
	NotificationPreference string // "email" or "sms"
}

// RegisterFollowUp subscribes the reporter's contact to the incident over the
// requested channel.
func (s *Service) RegisterFollowUp(ctx context.Context, incidentID string, req FollowUpRequest) (*models.CitizenSubscription, error) {
	const op = "incident.RegisterFollowUp"
	if req.Email == "" && req.Phone == "" {
		return nil, errors.InvalidFields(op, "validation failed",
			errors.FieldError{Field: "email", Message: "at least one of email or phone is required"})
	}

	prefs := models.NotificationPreferences{}
	switch req.NotificationPreference {
	case "sms":
		prefs.SMS = true
	default:
		prefs.Email = true
	}
	return s.subs.Subscribe(ctx, incidentID, subscription.Request{
		Email:       req.Email,
		Phone:       req.Phone,
		Preferences: prefs,
	})
}

// record appends an audit entry when a recorder is wired.
func (s *Service) record(actorID, action, incidentID string, payload any) {
	if s.audit == nil {
		return
	}
	if actorID == "" {
		actorID = "system"
	}
	s.audit.Record(actorID, action, "incident", incidentID, payload)
}
