// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package events is the in-process notification fabric: the Bus resolves an
// event to its audience, persists one Notification per recipient and pushes a
// live frame to every connected recipient, best-effort. The Hub owns the
// websocket side.
package events

import (
	"dispatch-core/models"
)

// EventType discriminates bus events for audience resolution.
type EventType string

const (
	EventIncidentCreated      EventType = "incident_created"
	EventIncidentAssigned     EventType = "incident_assigned"
	EventIncidentSelfAssigned EventType = "incident_self_assigned"
	EventIncidentUpdated      EventType = "incident_updated"
	EventIncidentEscalated    EventType = "incident_escalated"
	EventEntityChanged        EventType = "entity_changed"
)

// Event is one publishable occurrence. Incident events carry the incident
// snapshot; entity events carry EntityType/EntityID plus the owning scope.
type Event struct {
	Type     EventType
	Incident *models.Incident

	// ActorID is the principal that caused the event; system-originated
	// events (auto-escalation) leave it empty. The actor never receives
	// their own notification.
	ActorID string

	Title          string
	Message        string
	ActionRequired bool

	// TargetLevel is the escalation level just reached, for escalated events.
	TargetLevel int

	// Entity scope for station/organisation admin events.
	EntityType     string
	EntityID       string
	OrganisationID string
	StationID      string
}

// notificationType maps the bus event to the persisted Notification.Type.
func (e Event) notificationType() string {
	return string(e.Type)
}

// relatedEntity returns the (type, id) pair stored on the Notification.
func (e Event) relatedEntity() (string, string) {
	if e.Incident != nil {
		return "incident", e.Incident.ID
	}
	return e.EntityType, e.EntityID
}
