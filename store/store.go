// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package store defines the persistence capability consumed by the pipeline and an
// in-memory reference implementation. The relational backend lives behind this
// interface; everything in here is typed operations, no SQL leaks upward.
package store

import (
	"context"
	"time"

	"dispatch-core/models"
)

// IncidentFilter narrows incident listings. Zero values mean "no constraint".
type IncidentFilter struct {
	Statuses       []models.IncidentStatus
	Priorities     []models.Priority
	StationID      string
	OrganisationID string
	ReportedByID   string
	// Search matches title or description, case-insensitive substring.
	Search string
	// CreatedAfter filters incidents created after this instant.
	CreatedAfter *time.Time
	// Limit restricts the number returned after sorting (0 = all).
	Limit int
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role           models.Role
	OrganisationID string
	StationID      string
	ActiveOnly     bool
}

// Store is the persistence capability. Implementations must be safe for
// concurrent use; per-incident mutations are serialized by the implementation.
type Store interface {
	// Incidents
	CreateIncident(ctx context.Context, inc *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]*models.Incident, error)

	// Upvotes. AddUpvote returns the persisted count and whether a new row was
	// written; duplicate (actorKey, incidentID) pairs are a silent no-op.
	AddUpvote(ctx context.Context, incidentID, actorKey string) (count int, added bool, err error)
	CountUpvotes(ctx context.Context, incidentID string) (int, error)

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error)

	// Organisations and stations
	CreateOrganisation(ctx context.Context, o *models.Organisation) error
	GetOrganisation(ctx context.Context, id string) (*models.Organisation, error)
	ListOrganisations(ctx context.Context) ([]*models.Organisation, error)
	CreateStation(ctx context.Context, s *models.Station) error
	GetStation(ctx context.Context, id string) (*models.Station, error)
	ListActiveStations(ctx context.Context, organisationID string) ([]*models.Station, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error

	// Citizen subscriptions
	CreateSubscription(ctx context.Context, s *models.CitizenSubscription) error
	UpdateSubscription(ctx context.Context, s *models.CitizenSubscription) error
	ListSubscriptions(ctx context.Context, incidentID string, activeOnly bool) ([]*models.CitizenSubscription, error)

	// Invitations
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error)
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	UpdateInvitation(ctx context.Context, inv *models.Invitation) error

	// Audit
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	// Tx runs fn atomically with respect to other Tx calls. Multi-entity
	// mutations (escalate-plus-notify, invitation-accept-plus-user-create)
	// go through here.
	Tx(ctx context.Context, fn func(tx Store) error) error
}

// AuditEntry is an append-only audit record. Details is a versioned envelope
// ({v, kind, payload}) serialized by the audit package.
type AuditEntry struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actorId"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Details    []byte    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
