// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package models defines the domain entities shared across the incident pipeline.
// Types here are dependency-light on purpose: classifier, routing, incident and the
// transport layer all import models, and models imports none of them.
package models

import (
	"time"
)

// AnonymousUserID is the sentinel reporter id for unauthenticated citizen reports.
const AnonymousUserID = "anonymous"

// Priority expresses incident severity ordering.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Valid reports whether the priority is one of the four known levels.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns the strict ordering position (low=0 .. critical=3).
func (p Priority) Rank() int {
	return priorityRank[p]
}

// UrgencyMultiplier is the ETA factor applied during station selection.
func (p Priority) UrgencyMultiplier() float64 {
	switch p {
	case PriorityCritical:
		return 0.6
	case PriorityHigh:
		return 0.75
	case PriorityMedium:
		return 0.9
	default:
		return 1.0
	}
}

// IncidentStatus models the incident lifecycle.
type IncidentStatus string

const (
	StatusReported   IncidentStatus = "reported"
	StatusAssigned   IncidentStatus = "assigned"
	StatusInProgress IncidentStatus = "in_progress"
	StatusResolved   IncidentStatus = "resolved"
	StatusEscalated  IncidentStatus = "escalated"
)

// Valid reports whether the status is a known lifecycle state.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusReported, StatusAssigned, StatusInProgress, StatusResolved, StatusEscalated:
		return true
	}
	return false
}

// Active reports whether the incident still needs attention (public-feed states).
func (s IncidentStatus) Active() bool {
	switch s {
	case StatusReported, StatusAssigned, StatusInProgress:
		return true
	}
	return false
}

// CanTransition checks the lifecycle table. Escalation is a flag-state reachable
// from any non-terminal state; reopen moves resolved back to assigned.
func (s IncidentStatus) CanTransition(to IncidentStatus) bool {
	switch to {
	case StatusAssigned:
		return s == StatusReported || s == StatusResolved || s == StatusEscalated
	case StatusInProgress:
		return s == StatusAssigned || s == StatusEscalated
	case StatusResolved:
		return s == StatusAssigned || s == StatusInProgress || s == StatusEscalated
	case StatusEscalated:
		return s == StatusReported || s == StatusAssigned || s == StatusInProgress
	}
	return false
}

// Role enumerates the staff hierarchy plus the citizen principal.
type Role string

const (
	RoleMainAdmin    Role = "main_admin"
	RoleSuperAdmin   Role = "super_admin"
	RoleStationAdmin Role = "station_admin"
	RoleStationStaff Role = "station_staff"
	RoleCitizen      Role = "citizen"
)

var roleLevel = map[Role]int{
	RoleStationStaff: 0,
	RoleStationAdmin: 1,
	RoleSuperAdmin:   2,
	RoleMainAdmin:    3,
}

// Valid reports whether the role is known. Unknown roles must be denied everywhere.
func (r Role) Valid() bool {
	if r == RoleCitizen {
		return true
	}
	_, ok := roleLevel[r]
	return ok
}

// Level returns the escalation-hierarchy level for staff roles (-1 for citizen/unknown).
func (r Role) Level() int {
	if lvl, ok := roleLevel[r]; ok {
		return lvl
	}
	return -1
}

// RoleForLevel maps an escalation level back to the role that handles it.
func RoleForLevel(level int) Role {
	switch level {
	case 0:
		return RoleStationStaff
	case 1:
		return RoleStationAdmin
	case 2:
		return RoleSuperAdmin
	case 3:
		return RoleMainAdmin
	}
	return ""
}

// Category is a classifier output determining the responder organization type.
type Category string

const (
	CategoryHealth        Category = "health"
	CategoryInvestigation Category = "investigation"
	CategoryPolice        Category = "police"
)

// Location is a geographic point with a free-text address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// HasCoordinates reports whether the location carries a usable point.
func (l *Location) HasCoordinates() bool {
	return l != nil && (l.Lat != 0 || l.Lng != 0)
}

// Incident is the central entity of the pipeline.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        Category       `json:"type"`
	Priority    Priority       `json:"priority"`
	Status      IncidentStatus `json:"status"`
	Location    *Location      `json:"location,omitempty"`

	StationID      string `json:"stationId,omitempty"`
	OrganisationID string `json:"organisationId,omitempty"`

	ReportedByID  string `json:"reportedById"`
	ReporterName  string `json:"reporterName,omitempty"`
	ReporterEmail string `json:"reporterEmail,omitempty"`
	ReporterPhone string `json:"reporterPhone,omitempty"`

	AssignedTo string     `json:"assignedTo,omitempty"`
	AssignedBy string     `json:"assignedBy,omitempty"`
	AssignedAt *time.Time `json:"assignedAt,omitempty"`

	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	Resolution string     `json:"resolution,omitempty"`

	EscalationLevel  int        `json:"escalationLevel"`
	EscalatedBy      string     `json:"escalatedBy,omitempty"`
	EscalatedAt      *time.Time `json:"escalatedAt,omitempty"`
	EscalationReason string     `json:"escalationReason,omitempty"`

	StatusUpdatedBy string     `json:"statusUpdatedBy,omitempty"`
	StatusUpdatedAt *time.Time `json:"statusUpdatedAt,omitempty"`

	Upvotes int `json:"upvotes"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EscalationClock returns the timestamp escalation thresholds are measured from.
func (i *Incident) EscalationClock() time.Time {
	clock := i.CreatedAt
	if i.AssignedAt != nil && i.AssignedAt.After(clock) {
		clock = *i.AssignedAt
	}
	if i.StatusUpdatedAt != nil && i.StatusUpdatedAt.After(clock) {
		clock = *i.StatusUpdatedAt
	}
	return clock
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (i *Incident) Clone() *Incident {
	cp := *i
	if i.Location != nil {
		loc := *i.Location
		cp.Location = &loc
	}
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	cp.AssignedAt = copyTime(i.AssignedAt)
	cp.ResolvedAt = copyTime(i.ResolvedAt)
	cp.EscalatedAt = copyTime(i.EscalatedAt)
	cp.StatusUpdatedAt = copyTime(i.StatusUpdatedAt)
	return &cp
}

// OrganisationType discriminates responder organizations for classifier matching.
type OrganisationType string

const (
	OrgHealth OrganisationType = "health"
	OrgPolice OrganisationType = "police"
	OrgRIB    OrganisationType = "investigation"
)

// Organisation is a responder organization (police, health, investigation bureau).
type Organisation struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Type      OrganisationType `json:"type"`
	CreatedAt time.Time        `json:"createdAt"`
}

// MatchesCategory reports whether this organization handles the classifier category.
func (o *Organisation) MatchesCategory(c Category) bool {
	switch c {
	case CategoryHealth:
		return o.Type == OrgHealth
	case CategoryInvestigation:
		return o.Type == OrgRIB
	case CategoryPolice:
		return o.Type == OrgPolice
	}
	return false
}

// Station is a responder unit belonging to exactly one organization.
type Station struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OrganisationID string    `json:"organisationId"`
	Location       Location  `json:"location"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// User is an authenticated staff member or registered citizen.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Role           Role      `json:"role"`
	OrganisationID string    `json:"organisationId,omitempty"`
	StationID      string    `json:"stationId,omitempty"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Principal is the validated identity attached to a request.
type Principal struct {
	UserID         string `json:"userId"`
	Role           Role   `json:"role"`
	OrganisationID string `json:"organisationId,omitempty"`
	StationID      string `json:"stationId,omitempty"`
}

// IsStaff reports whether the principal belongs to the staff hierarchy.
func (p Principal) IsStaff() bool {
	return p.Role.Level() >= 0
}

// InvitationStatus models the single-use invitation lifecycle.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// Invitation is a single-use, expiring token granting a role.
type Invitation struct {
	ID             string           `json:"id"`
	Token          string           `json:"-"`
	Email          string           `json:"email"`
	Role           Role             `json:"role"`
	OrganisationID string           `json:"organisationId,omitempty"`
	StationID      string           `json:"stationId,omitempty"`
	Status         InvitationStatus `json:"status"`
	InvitedBy      string           `json:"invitedBy"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Usable reports whether the invitation can still be accepted at the given time.
func (inv *Invitation) Usable(now time.Time) bool {
	return inv.Status == InvitationPending && now.Before(inv.ExpiresAt)
}

// Notification is a per-user persistent record, independently deliverable live.
type Notification struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Type              string    `json:"type"`
	Title             string    `json:"title"`
	Message           string    `json:"message"`
	RelatedEntityType string    `json:"relatedEntityType,omitempty"`
	RelatedEntityID   string    `json:"relatedEntityId,omitempty"`
	ActionRequired    bool      `json:"actionRequired"`
	IsRead            bool      `json:"isRead"`
	CreatedAt         time.Time `json:"createdAt"`
}

// NotificationPreferences is the per-subscription delivery mask.
type NotificationPreferences struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// CitizenSubscription is a citizen's standing request for updates on one incident.
type CitizenSubscription struct {
	ID          string                  `json:"id"`
	IncidentID  string                  `json:"incidentId"`
	PushToken   string                  `json:"pushToken,omitempty"`
	Email       string                  `json:"email,omitempty"`
	Phone       string                  `json:"phone,omitempty"`
	Preferences NotificationPreferences `json:"preferences"`
	IsActive    bool                    `json:"isActive"`
	CreatedAt   time.Time               `json:"createdAt"`
}

// EscalationRule is a static auto-escalation threshold loaded at startup.
type EscalationRule struct {
	Priority         Priority       `json:"priority"`
	FromStatus       IncidentStatus `json:"fromStatus"`
	ThresholdMinutes int            `json:"thresholdMinutes"`
	EscalateToRole   Role           `json:"escalateToRole"`
}

// Upvote is one citizen endorsement of an incident, unique per (actor, incident).
type Upvote struct {
	IncidentID string    `json:"incidentId"`
	ActorKey   string    `json:"actorKey"`
	CreatedAt  time.Time `json:"createdAt"`
}
