// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityOrdering(t *testing.T) {
	assert.True(t, PriorityLow.Rank() < PriorityMedium.Rank())
	assert.True(t, PriorityMedium.Rank() < PriorityHigh.Rank())
	assert.True(t, PriorityHigh.Rank() < PriorityCritical.Rank())
}

func TestPriorityValid(t *testing.T) {
	assert.True(t, PriorityCritical.Valid())
	assert.False(t, Priority("urgent").Valid())
}

func TestUrgencyMultiplier(t *testing.T) {
	tests := []struct {
		priority Priority
		want     float64
	}{
		{PriorityCritical, 0.6},
		{PriorityHigh, 0.75},
		{PriorityMedium, 0.9},
		{PriorityLow, 1.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.priority.UrgencyMultiplier(), string(tt.priority))
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    IncidentStatus
		to      IncidentStatus
		allowed bool
	}{
		{StatusReported, StatusAssigned, true},
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusResolved, true},
		{StatusInProgress, StatusResolved, true},
		{StatusResolved, StatusAssigned, true}, // reopen
		{StatusReported, StatusEscalated, true},
		{StatusAssigned, StatusEscalated, true},
		{StatusInProgress, StatusEscalated, true},
		{StatusReported, StatusResolved, false},
		{StatusReported, StatusInProgress, false},
		{StatusResolved, StatusEscalated, false},
		{StatusResolved, StatusInProgress, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestRoleLevels(t *testing.T) {
	assert.Equal(t, 0, RoleStationStaff.Level())
	assert.Equal(t, 1, RoleStationAdmin.Level())
	assert.Equal(t, 2, RoleSuperAdmin.Level())
	assert.Equal(t, 3, RoleMainAdmin.Level())
	assert.Equal(t, -1, RoleCitizen.Level())
	assert.Equal(t, -1, Role("intruder").Level())
}

func TestRoleForLevel(t *testing.T) {
	for lvl := 0; lvl <= 3; lvl++ {
		role := RoleForLevel(lvl)
		assert.Equal(t, lvl, role.Level())
	}
	assert.Equal(t, Role(""), RoleForLevel(7))
}

func TestEscalationClock(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	assigned := created.Add(30 * time.Minute)
	updated := created.Add(time.Hour)

	inc := &Incident{CreatedAt: created}
	assert.Equal(t, created, inc.EscalationClock())

	inc.AssignedAt = &assigned
	assert.Equal(t, assigned, inc.EscalationClock())

	inc.StatusUpdatedAt = &updated
	assert.Equal(t, updated, inc.EscalationClock())
}

func TestIncidentClone(t *testing.T) {
	now := time.Now()
	inc := &Incident{
		ID:         "i-1",
		Location:   &Location{Lat: -1.95, Lng: 30.06, Address: "Kigali"},
		AssignedAt: &now,
	}
	cp := inc.Clone()
	cp.Location.Address = "elsewhere"
	*cp.AssignedAt = now.Add(time.Hour)

	assert.Equal(t, "Kigali", inc.Location.Address)
	assert.Equal(t, now, *inc.AssignedAt)
}

func TestOrganisationMatchesCategory(t *testing.T) {
	police := &Organisation{Type: OrgPolice}
	health := &Organisation{Type: OrgHealth}
	rib := &Organisation{Type: OrgRIB}

	assert.True(t, police.MatchesCategory(CategoryPolice))
	assert.True(t, health.MatchesCategory(CategoryHealth))
	assert.True(t, rib.MatchesCategory(CategoryInvestigation))
	assert.False(t, police.MatchesCategory(CategoryHealth))
}

func TestInvitationUsable(t *testing.T) {
	now := time.Now()
	inv := &Invitation{Status: InvitationPending, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, inv.Usable(now))
	assert.False(t, inv.Usable(now.Add(2*time.Hour)))

	inv.Status = InvitationAccepted
	assert.False(t, inv.Usable(now))
}
