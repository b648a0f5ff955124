// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-core/errors"
	"dispatch-core/models"
)

func newIncident(id string, status models.IncidentStatus, priority models.Priority) *models.Incident {
	now := time.Now().UTC()
	return &models.Incident{
		ID:          id,
		Title:       "Traffic accident on KN 3",
		Description: "Two vehicles collided near the roundabout",
		Type:        models.CategoryPolice,
		Priority:    priority,
		Status:      status,
		StationID:   "st-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestIncidentCRUD(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	inc := newIncident("i-1", models.StatusReported, models.PriorityHigh)
	require.NoError(t, ms.CreateIncident(ctx, inc))

	got, err := ms.GetIncident(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "Traffic accident on KN 3", got.Title)

	got.Status = models.StatusAssigned
	require.NoError(t, ms.UpdateIncident(ctx, got))

	again, err := ms.GetIncident(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, again.Status)
}

func TestCreateIncidentDuplicate(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, ms.CreateIncident(ctx, newIncident("i-1", models.StatusReported, models.PriorityLow)))
	err := ms.CreateIncident(ctx, newIncident("i-1", models.StatusReported, models.PriorityLow))
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestGetIncidentNotFound(t *testing.T) {
	ms := NewMemoryStore()
	_, err := ms.GetIncident(context.Background(), "missing")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestGetIncidentReturnsCopy(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.CreateIncident(ctx, newIncident("i-1", models.StatusReported, models.PriorityLow)))

	got, _ := ms.GetIncident(ctx, "i-1")
	got.Title = "mutated"

	again, _ := ms.GetIncident(ctx, "i-1")
	assert.Equal(t, "Traffic accident on KN 3", again.Title)
}

func TestListIncidentsFilter(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	a := newIncident("i-a", models.StatusReported, models.PriorityCritical)
	b := newIncident("i-b", models.StatusResolved, models.PriorityLow)
	c := newIncident("i-c", models.StatusReported, models.PriorityHigh)
	c.StationID = "st-2"
	c.Title = "House fire in Nyamirambo"
	for _, inc := range []*models.Incident{a, b, c} {
		require.NoError(t, ms.CreateIncident(ctx, inc))
	}

	byStatus, err := ms.ListIncidents(ctx, IncidentFilter{Statuses: []models.IncidentStatus{models.StatusReported}})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	byStation, err := ms.ListIncidents(ctx, IncidentFilter{StationID: "st-2"})
	require.NoError(t, err)
	require.Len(t, byStation, 1)
	assert.Equal(t, "i-c", byStation[0].ID)

	bySearch, err := ms.ListIncidents(ctx, IncidentFilter{Search: "fire"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "i-c", bySearch[0].ID)
}

func TestUpvoteIdempotence(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.CreateIncident(ctx, newIncident("i-1", models.StatusReported, models.PriorityLow)))

	count, added, err := ms.AddUpvote(ctx, "i-1", "device-9")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, count)

	count, added, err = ms.AddUpvote(ctx, "i-1", "device-9")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, count)

	count, added, err = ms.AddUpvote(ctx, "i-1", "device-10")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, count)

	_, _, err = ms.AddUpvote(ctx, "missing", "device-9")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestUsersUniqueEmail(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	u := &models.User{ID: "u-1", Email: "staff@station.rw", Role: models.RoleStationStaff, IsActive: true}
	require.NoError(t, ms.CreateUser(ctx, u))

	dup := &models.User{ID: "u-2", Email: "Staff@Station.RW"}
	err := ms.CreateUser(ctx, dup)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	got, err := ms.GetUserByEmail(ctx, "STAFF@station.rw")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
}

func TestListUsersScoped(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	users := []*models.User{
		{ID: "u-1", Email: "a@x.rw", Role: models.RoleStationAdmin, StationID: "st-1", IsActive: true},
		{ID: "u-2", Email: "b@x.rw", Role: models.RoleStationAdmin, StationID: "st-2", IsActive: true},
		{ID: "u-3", Email: "c@x.rw", Role: models.RoleStationStaff, StationID: "st-1", IsActive: true},
		{ID: "u-4", Email: "d@x.rw", Role: models.RoleStationAdmin, StationID: "st-1", IsActive: false},
	}
	for _, u := range users {
		require.NoError(t, ms.CreateUser(ctx, u))
	}

	admins, err := ms.ListUsers(ctx, UserFilter{Role: models.RoleStationAdmin, StationID: "st-1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "u-1", admins[0].ID)
}

func TestStationsRequireOrganisation(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	err := ms.CreateStation(ctx, &models.Station{ID: "st-1", OrganisationID: "missing"})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	require.NoError(t, ms.CreateOrganisation(ctx, &models.Organisation{ID: "org-1", Type: models.OrgPolice}))
	require.NoError(t, ms.CreateStation(ctx, &models.Station{ID: "st-1", OrganisationID: "org-1", IsActive: true}))
	require.NoError(t, ms.CreateStation(ctx, &models.Station{ID: "st-2", OrganisationID: "org-1", IsActive: false}))

	active, err := ms.ListActiveStations(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "st-1", active[0].ID)
}

func TestNotifications(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	for i, id := range []string{"n-1", "n-2"} {
		require.NoError(t, ms.CreateNotification(ctx, &models.Notification{
			ID:        id,
			UserID:    "u-1",
			Title:     "New incident",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := ms.ListNotifications(ctx, "u-1", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "n-2", all[0].ID) // newest first

	require.NoError(t, ms.MarkNotificationRead(ctx, "n-1", "u-1"))
	unread, err := ms.ListNotifications(ctx, "u-1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n-2", unread[0].ID)

	err = ms.MarkNotificationRead(ctx, "n-1", "someone-else")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSubscriptions(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	sub := &models.CitizenSubscription{
		ID:         "sub-1",
		IncidentID: "i-1",
		Email:      "a@x",
		Preferences: models.NotificationPreferences{
			Email: true,
		},
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	require.NoError(t, ms.CreateSubscription(ctx, sub))

	active, err := ms.ListSubscriptions(ctx, "i-1", true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	sub.IsActive = false
	require.NoError(t, ms.UpdateSubscription(ctx, sub))

	active, err = ms.ListSubscriptions(ctx, "i-1", true)
	require.NoError(t, err)
	assert.Len(t, active, 0)

	all, err := ms.ListSubscriptions(ctx, "i-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInvitations(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	inv := &models.Invitation{
		ID:        "inv-1",
		Token:     "tok-abc",
		Email:     "new@staff.rw",
		Role:      models.RoleStationStaff,
		Status:    models.InvitationPending,
		ExpiresAt: time.Now().Add(48 * time.Hour),
	}
	require.NoError(t, ms.CreateInvitation(ctx, inv))

	byToken, err := ms.GetInvitationByToken(ctx, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", byToken.ID)

	byToken.Status = models.InvitationAccepted
	require.NoError(t, ms.UpdateInvitation(ctx, byToken))

	got, err := ms.GetInvitation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, got.Status)
}

func TestTxSerialization(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ms.Tx(ctx, func(tx Store) error {
			return tx.CreateOrganisation(ctx, &models.Organisation{ID: "org-1"})
		})
	}()
	<-done

	_, err := ms.GetOrganisation(ctx, "org-1")
	assert.NoError(t, err)
}
