// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispatch-core/models"
	"dispatch-core/notify"
	"dispatch-core/store"
)

// LiveChannel is one authenticated live connection. Enqueue must never block;
// it returns false when the connection's buffer is full and the frame dropped.
type LiveChannel interface {
	UserID() string
	Enqueue(frame []byte) bool
}

// Bus fans events out to persistent notifications and live connections.
// Delivery is best-effort: the persistent record is authoritative, a dropped
// frame is not retried.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[LiveChannel]struct{}

	store  store.Store
	sender notify.MessageSender
	logger *zap.Logger
}

// NewBus creates the notification bus.
func NewBus(st store.Store, sender notify.MessageSender, logger *zap.Logger) *Bus {
	return &Bus{
		channels: make(map[string]map[LiveChannel]struct{}),
		store:    st,
		sender:   sender,
		logger:   logger,
	}
}

// Attach registers an authenticated live connection for its user.
func (b *Bus) Attach(ch LiveChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.channels[ch.UserID()]
	if !ok {
		set = make(map[LiveChannel]struct{})
		b.channels[ch.UserID()] = set
	}
	set[ch] = struct{}{}
}

// Detach removes a live connection; idempotent.
func (b *Bus) Detach(ch LiveChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.channels[ch.UserID()]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.channels, ch.UserID())
		}
	}
}

// ConnectedUsers returns the number of users with at least one live connection.
func (b *Bus) ConnectedUsers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// Publish resolves the audience, persists one Notification per recipient and
// pushes a live frame to connected recipients. Errors are logged, never
// returned: notification failure must not fail the owning mutation.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	recipients, err := b.audience(ctx, ev)
	if err != nil {
		b.logger.Warn("Audience resolution failed",
			zap.String("event", string(ev.Type)), zap.Error(err))
		return
	}

	entityType, entityID := ev.relatedEntity()
	for _, user := range recipients {
		n := &models.Notification{
			ID:                uuid.NewString(),
			UserID:            user.ID,
			Type:              ev.notificationType(),
			Title:             ev.Title,
			Message:           ev.Message,
			RelatedEntityType: entityType,
			RelatedEntityID:   entityID,
			ActionRequired:    ev.ActionRequired,
			CreatedAt:         time.Now().UTC(),
		}
		if err := b.store.CreateNotification(ctx, n); err != nil {
			b.logger.Warn("Failed to persist notification",
				zap.String("user", user.ID), zap.Error(err))
			continue
		}
		b.pushFrame(user.ID, n)
	}
}

// pushFrame delivers {type:"new_notification"} to every live connection of the
// user. Frames are enqueued in publish order per connection.
func (b *Bus) pushFrame(userID string, n *models.Notification) {
	frame, err := json.Marshal(map[string]any{
		"type":         "new_notification",
		"notification": n,
	})
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.channels[userID] {
		if !ch.Enqueue(frame) {
			b.logger.Debug("Live frame dropped, buffer full", zap.String("user", userID))
		}
	}
}

// SubscriberMessage is the payload dispatched to citizen subscribers. The
// email fields, when set, override Title/Body for the email channel.
type SubscriberMessage struct {
	Title        string
	Body         string
	EmailSubject string
	EmailBody    string
}

// PublishToSubscribers dispatches to every active subscription of the
// incident over the channels its preference mask enables. Best-effort.
func (b *Bus) PublishToSubscribers(ctx context.Context, incidentID string, msg SubscriberMessage) {
	subs, err := b.store.ListSubscriptions(ctx, incidentID, true)
	if err != nil {
		b.logger.Warn("Failed to list subscriptions",
			zap.String("incident", incidentID), zap.Error(err))
		return
	}

	for _, sub := range subs {
		if sub.Preferences.Push && sub.PushToken != "" {
			if err := b.sender.Push(ctx, sub.PushToken, msg.Title, msg.Body); err != nil {
				b.logger.Warn("Push delivery failed", zap.Error(err))
			}
		}
		if sub.Preferences.Email && sub.Email != "" {
			subject, body := msg.Title, msg.Body
			if msg.EmailSubject != "" {
				subject, body = msg.EmailSubject, msg.EmailBody
			}
			if err := b.sender.Email(ctx, sub.Email, subject, body); err != nil {
				b.logger.Warn("Email delivery failed", zap.Error(err))
			}
		}
		if sub.Preferences.SMS && sub.Phone != "" {
			if err := b.sender.SMS(ctx, sub.Phone, msg.Body); err != nil {
				b.logger.Warn("SMS delivery failed", zap.Error(err))
			}
		}
	}
}

// audience applies the per-event recipient rules. The actor is always
// excluded; recipients are deduplicated by user id.
func (b *Bus) audience(ctx context.Context, ev Event) ([]*models.User, error) {
	var out []*models.User

	switch ev.Type {
	case EventIncidentCreated:
		admins, err := b.stationAdmins(ctx, ev.Incident.StationID)
		if err != nil {
			return nil, err
		}
		out = admins

	case EventIncidentAssigned:
		assignee, err := b.store.GetUser(ctx, ev.Incident.AssignedTo)
		if err != nil {
			return nil, err
		}
		out = []*models.User{assignee}

	case EventIncidentSelfAssigned:
		admins, err := b.stationAdmins(ctx, ev.Incident.StationID)
		if err != nil {
			return nil, err
		}
		for _, u := range admins {
			if u.ID != ev.Incident.AssignedTo {
				out = append(out, u)
			}
		}

	case EventIncidentUpdated:
		admins, err := b.stationAdmins(ctx, ev.Incident.StationID)
		if err != nil {
			return nil, err
		}
		out = admins
		if id := ev.Incident.AssignedTo; id != "" {
			if assignee, err := b.store.GetUser(ctx, id); err == nil {
				out = append(out, assignee)
			}
		}

	case EventIncidentEscalated:
		users, err := b.escalationAudience(ctx, ev)
		if err != nil {
			return nil, err
		}
		out = users

	case EventEntityChanged:
		users, err := b.adminAudience(ctx, ev.OrganisationID, ev.StationID)
		if err != nil {
			return nil, err
		}
		out = users
	}

	return dedupeUsers(out, ev.ActorID), nil
}

func (b *Bus) stationAdmins(ctx context.Context, stationID string) ([]*models.User, error) {
	if stationID == "" {
		return nil, nil
	}
	return b.store.ListUsers(ctx, store.UserFilter{
		Role:       models.RoleStationAdmin,
		StationID:  stationID,
		ActiveOnly: true,
	})
}

// escalationAudience targets the role holding the newly-reached level, scoped
// to the incident's station or organisation depending on the level.
func (b *Bus) escalationAudience(ctx context.Context, ev Event) ([]*models.User, error) {
	role := models.RoleForLevel(ev.TargetLevel)
	if role == "" {
		return nil, nil
	}
	filter := store.UserFilter{Role: role, ActiveOnly: true}
	switch role {
	case models.RoleStationStaff, models.RoleStationAdmin:
		filter.StationID = ev.Incident.StationID
	case models.RoleSuperAdmin:
		filter.OrganisationID = ev.Incident.OrganisationID
	}
	// main_admin stays unscoped.
	return b.store.ListUsers(ctx, filter)
}

// adminAudience is main admins plus super admins of the affected organisation
// plus admins of the affected station.
func (b *Bus) adminAudience(ctx context.Context, orgID, stationID string) ([]*models.User, error) {
	out, err := b.store.ListUsers(ctx, store.UserFilter{Role: models.RoleMainAdmin, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	if orgID != "" {
		supers, err := b.store.ListUsers(ctx, store.UserFilter{
			Role: models.RoleSuperAdmin, OrganisationID: orgID, ActiveOnly: true,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, supers...)
	}
	if stationID != "" {
		admins, err := b.stationAdmins(ctx, stationID)
		if err != nil {
			return nil, err
		}
		out = append(out, admins...)
	}
	return out, nil
}

func dedupeUsers(users []*models.User, excludeID string) []*models.User {
	seen := make(map[string]struct{}, len(users))
	out := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u == nil || (excludeID != "" && u.ID == excludeID) {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}
