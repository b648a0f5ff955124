// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"dispatch-core/errors"
	"dispatch-core/models"
)

// MemoryStore is the in-memory reference implementation of Store. It backs tests
// and local development; the production deployment swaps in the relational
// implementation behind the same interface.
type MemoryStore struct {
	mu sync.RWMutex
	// txMu serializes Tx sections against each other.
	txMu sync.Mutex

	incidents     map[string]*models.Incident
	upvotes       map[string]map[string]time.Time // incidentID -> actorKey -> when
	users         map[string]*models.User
	usersByEmail  map[string]string
	organisations map[string]*models.Organisation
	stations      map[string]*models.Station
	notifications map[string][]*models.Notification // userID -> records, newest last
	subscriptions map[string]*models.CitizenSubscription
	invitations   map[string]*models.Invitation
	invByToken    map[string]string
	audit         []*AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents:     make(map[string]*models.Incident),
		upvotes:       make(map[string]map[string]time.Time),
		users:         make(map[string]*models.User),
		usersByEmail:  make(map[string]string),
		organisations: make(map[string]*models.Organisation),
		stations:      make(map[string]*models.Station),
		notifications: make(map[string][]*models.Notification),
		subscriptions: make(map[string]*models.CitizenSubscription),
		invitations:   make(map[string]*models.Invitation),
		invByToken:    make(map[string]string),
	}
}

// CreateIncident stores a new incident.
func (ms *MemoryStore) CreateIncident(ctx context.Context, inc *models.Incident) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.incidents[inc.ID]; exists {
		return errors.Conflict("store.CreateIncident", "incident already exists: "+inc.ID)
	}
	ms.incidents[inc.ID] = inc.Clone()
	return nil
}

// GetIncident returns a copy of the incident, including its upvote count.
func (ms *MemoryStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	inc, ok := ms.incidents[id]
	if !ok {
		return nil, errors.NotFound("store.GetIncident", "incident", id)
	}
	cp := inc.Clone()
	cp.Upvotes = len(ms.upvotes[id])
	return cp, nil
}

// UpdateIncident replaces the stored incident row.
func (ms *MemoryStore) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.incidents[inc.ID]; !ok {
		return errors.NotFound("store.UpdateIncident", "incident", inc.ID)
	}
	cp := inc.Clone()
	cp.UpdatedAt = time.Now().UTC()
	ms.incidents[inc.ID] = cp
	return nil
}

// ListIncidents returns filtered incidents, newest first.
func (ms *MemoryStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]*models.Incident, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*models.Incident
	for _, inc := range ms.incidents {
		if !matchesFilter(inc, filter) {
			continue
		}
		cp := inc.Clone()
		cp.Upvotes = len(ms.upvotes[inc.ID])
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(inc *models.Incident, f IncidentFilter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, inc.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, inc.Priority) {
		return false
	}
	if f.StationID != "" && inc.StationID != f.StationID {
		return false
	}
	if f.OrganisationID != "" && inc.OrganisationID != f.OrganisationID {
		return false
	}
	if f.ReportedByID != "" && inc.ReportedByID != f.ReportedByID {
		return false
	}
	if f.CreatedAfter != nil && !inc.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(inc.Title), needle) &&
			!strings.Contains(strings.ToLower(inc.Description), needle) {
			return false
		}
	}
	return true
}

func containsStatus(list []models.IncidentStatus, s models.IncidentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPriority(list []models.Priority, p models.Priority) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

// AddUpvote records one upvote per (actorKey, incident); duplicates are a no-op.
func (ms *MemoryStore) AddUpvote(ctx context.Context, incidentID, actorKey string) (int, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.incidents[incidentID]; !ok {
		return 0, false, errors.NotFound("store.AddUpvote", "incident", incidentID)
	}
	actors, ok := ms.upvotes[incidentID]
	if !ok {
		actors = make(map[string]time.Time)
		ms.upvotes[incidentID] = actors
	}
	if _, dup := actors[actorKey]; dup {
		return len(actors), false, nil
	}
	actors[actorKey] = time.Now().UTC()
	return len(actors), true, nil
}

// CountUpvotes returns the persisted upvote count for an incident.
func (ms *MemoryStore) CountUpvotes(ctx context.Context, incidentID string) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if _, ok := ms.incidents[incidentID]; !ok {
		return 0, errors.NotFound("store.CountUpvotes", "incident", incidentID)
	}
	return len(ms.upvotes[incidentID]), nil
}

// CreateUser stores a new user; emails are unique.
func (ms *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, exists := ms.usersByEmail[key]; exists {
		return errors.Conflict("store.CreateUser", "email already registered: "+u.Email)
	}
	cp := *u
	ms.users[u.ID] = &cp
	ms.usersByEmail[key] = u.ID
	return nil
}

// GetUser returns the user by id.
func (ms *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	u, ok := ms.users[id]
	if !ok {
		return nil, errors.NotFound("store.GetUser", "user", id)
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail returns the user by email, case-insensitive.
func (ms *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	id, ok := ms.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, errors.NotFound("store.GetUserByEmail", "user", email)
	}
	cp := *ms.users[id]
	return &cp, nil
}

// ListUsers returns users matching the filter, ordered by id for determinism.
func (ms *MemoryStore) ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*models.User
	for _, u := range ms.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.OrganisationID != "" && u.OrganisationID != filter.OrganisationID {
			continue
		}
		if filter.StationID != "" && u.StationID != filter.StationID {
			continue
		}
		if filter.ActiveOnly && !u.IsActive {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateOrganisation stores a responder organization.
func (ms *MemoryStore) CreateOrganisation(ctx context.Context, o *models.Organisation) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *o
	ms.organisations[o.ID] = &cp
	return nil
}

// GetOrganisation returns the organization by id.
func (ms *MemoryStore) GetOrganisation(ctx context.Context, id string) (*models.Organisation, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	o, ok := ms.organisations[id]
	if !ok {
		return nil, errors.NotFound("store.GetOrganisation", "organisation", id)
	}
	cp := *o
	return &cp, nil
}

// ListOrganisations returns all organizations ordered by id.
func (ms *MemoryStore) ListOrganisations(ctx context.Context) ([]*models.Organisation, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*models.Organisation, 0, len(ms.organisations))
	for _, o := range ms.organisations {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateStation stores a station.
func (ms *MemoryStore) CreateStation(ctx context.Context, s *models.Station) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.organisations[s.OrganisationID]; !ok {
		return errors.NotFound("store.CreateStation", "organisation", s.OrganisationID)
	}
	cp := *s
	ms.stations[s.ID] = &cp
	return nil
}

// GetStation returns the station by id.
func (ms *MemoryStore) GetStation(ctx context.Context, id string) (*models.Station, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.stations[id]
	if !ok {
		return nil, errors.NotFound("store.GetStation", "station", id)
	}
	cp := *s
	return &cp, nil
}

// ListActiveStations returns active stations, optionally scoped to one organization.
func (ms *MemoryStore) ListActiveStations(ctx context.Context, organisationID string) ([]*models.Station, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*models.Station
	for _, s := range ms.stations {
		if !s.IsActive {
			continue
		}
		if organisationID != "" && s.OrganisationID != organisationID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateNotification appends a per-user notification record.
func (ms *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *n
	ms.notifications[n.UserID] = append(ms.notifications[n.UserID], &cp)
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (ms *MemoryStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	records := ms.notifications[userID]
	out := make([]*models.Notification, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if unreadOnly && records[i].IsRead {
			continue
		}
		cp := *records[i]
		out = append(out, &cp)
	}
	return out, nil
}

// MarkNotificationRead flips the read flag; the record must belong to the user.
func (ms *MemoryStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, n := range ms.notifications[userID] {
		if n.ID == id {
			n.IsRead = true
			return nil
		}
	}
	return errors.NotFound("store.MarkNotificationRead", "notification", id)
}

// CreateSubscription stores a citizen subscription.
func (ms *MemoryStore) CreateSubscription(ctx context.Context, s *models.CitizenSubscription) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *s
	ms.subscriptions[s.ID] = &cp
	return nil
}

// UpdateSubscription replaces the stored subscription row.
func (ms *MemoryStore) UpdateSubscription(ctx context.Context, s *models.CitizenSubscription) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.subscriptions[s.ID]; !ok {
		return errors.NotFound("store.UpdateSubscription", "subscription", s.ID)
	}
	cp := *s
	ms.subscriptions[s.ID] = &cp
	return nil
}

// ListSubscriptions returns subscriptions for one incident, ordered by creation.
func (ms *MemoryStore) ListSubscriptions(ctx context.Context, incidentID string, activeOnly bool) ([]*models.CitizenSubscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*models.CitizenSubscription
	for _, s := range ms.subscriptions {
		if s.IncidentID != incidentID {
			continue
		}
		if activeOnly && !s.IsActive {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateInvitation stores a single-use invitation.
func (ms *MemoryStore) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *inv
	ms.invitations[inv.ID] = &cp
	ms.invByToken[inv.Token] = inv.ID
	return nil
}

// GetInvitationByToken looks up an invitation by its opaque token.
func (ms *MemoryStore) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	id, ok := ms.invByToken[token]
	if !ok {
		return nil, errors.NotFound("store.GetInvitationByToken", "invitation", "token")
	}
	cp := *ms.invitations[id]
	return &cp, nil
}

// GetInvitation returns the invitation by id.
func (ms *MemoryStore) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	inv, ok := ms.invitations[id]
	if !ok {
		return nil, errors.NotFound("store.GetInvitation", "invitation", id)
	}
	cp := *inv
	return &cp, nil
}

// UpdateInvitation replaces the stored invitation row.
func (ms *MemoryStore) UpdateInvitation(ctx context.Context, inv *models.Invitation) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.invitations[inv.ID]; !ok {
		return errors.NotFound("store.UpdateInvitation", "invitation", inv.ID)
	}
	cp := *inv
	ms.invitations[inv.ID] = &cp
	return nil
}

// AppendAudit appends an audit entry.
func (ms *MemoryStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *entry
	ms.audit = append(ms.audit, &cp)
	return nil
}

// AuditEntries returns a snapshot of the audit log (test helper).
func (ms *MemoryStore) AuditEntries() []*AuditEntry {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]*AuditEntry, len(ms.audit))
	copy(out, ms.audit)
	return out
}

// Tx serializes multi-entity sections against each other. The reference
// implementation provides atomicity between Tx sections, not rollback; the
// relational implementation maps this to a database transaction.
func (ms *MemoryStore) Tx(ctx context.Context, fn func(tx Store) error) error {
	ms.txMu.Lock()
	defer ms.txMu.Unlock()
	return fn(ms)
}
