// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dispatch-core/authz"
	"dispatch-core/errors"
	"dispatch-core/models"
	"dispatch-core/store"
)

func newAuthFixture(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := NewService(ms, "test-secret", time.Hour, nil, zap.NewNop())

	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	require.NoError(t, ms.CreateUser(context.Background(), &models.User{
		ID: "admin-1", Email: "admin@example.com", PasswordHash: hash,
		FirstName: "Carol", LastName: "Ingabire",
		Role: models.RoleStationAdmin, OrganisationID: "org-1", StationID: "st-1",
		IsActive: true,
	}))
	return svc, ms
}

func TestLoginMintsValidatableToken(t *testing.T) {
	svc, _ := newAuthFixture(t)

	token, user, err := svc.Login(context.Background(), "Admin@Example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", user.ID)
	require.NotEmpty(t, token)

	p, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", p.UserID)
	assert.Equal(t, models.RoleStationAdmin, p.Role)
	assert.Equal(t, "org-1", p.OrganisationID)
	assert.Equal(t, "st-1", p.StationID)
}

func TestLoginRejectionsAreUniform(t *testing.T) {
	svc, ms := newAuthFixture(t)
	ctx := context.Background()

	_, _, wrongPassword := svc.Login(ctx, "admin@example.com", "nope")
	_, _, unknownEmail := svc.Login(ctx, "ghost@example.com", "nope")

	require.NoError(t, ms.CreateUser(ctx, &models.User{
		ID: "inactive-1", Email: "inactive@example.com", PasswordHash: "x",
		Role: models.RoleStationStaff, IsActive: false,
	}))
	_, _, inactive := svc.Login(ctx, "inactive@example.com", "whatever")

	for _, err := range []error{wrongPassword, unknownEmail, inactive} {
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindUnauthenticated))
		assert.Contains(t, err.Error(), "invalid credentials")
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	token, _, err := svc.Login(context.Background(), "admin@example.com", "correct horse battery")
	require.NoError(t, err)

	_, err = svc.Validate(token + "x")
	assert.True(t, errors.IsKind(err, errors.KindUnauthenticated))

	other := NewService(store.NewMemoryStore(), "different-secret", time.Hour, nil, zap.NewNop())
	_, err = other.Validate(token)
	assert.True(t, errors.IsKind(err, errors.KindUnauthenticated))
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	token, _, err := svc.Login(context.Background(), "admin@example.com", "correct horse battery")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	_, err = svc.Validate(token)
	assert.True(t, errors.IsKind(err, errors.KindUnauthenticated))
}

func TestInvitationLifecycle(t *testing.T) {
	svc, ms := newAuthFixture(t)
	ctx := context.Background()
	admin := models.Principal{UserID: "admin-1", Role: models.RoleStationAdmin, OrganisationID: "org-1", StationID: "st-1"}

	inv, err := svc.CreateInvitation(ctx, admin, InviteRequest{
		Email: "New.Staff@Example.com", Role: models.RoleStationStaff,
		OrganisationID: "org-1", StationID: "st-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "new.staff@example.com", inv.Email)
	assert.Equal(t, models.InvitationPending, inv.Status)
	assert.NotEmpty(t, inv.Token)

	user, err := svc.AcceptInvitation(ctx, inv.Token, AcceptRequest{
		FirstName: "New", LastName: "Staff", Password: "long enough pw",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStationStaff, user.Role)
	assert.Equal(t, "st-1", user.StationID)
	assert.True(t, user.IsActive)

	// The created account can log in.
	_, _, err = svc.Login(ctx, "new.staff@example.com", "long enough pw")
	require.NoError(t, err)

	// Single use: the token is spent.
	_, err = svc.AcceptInvitation(ctx, inv.Token, AcceptRequest{Password: "long enough pw"})
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	stored, err := ms.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, stored.Status)
}

func TestInvitationExpiry(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()
	admin := models.Principal{UserID: "admin-1", Role: models.RoleStationAdmin, OrganisationID: "org-1", StationID: "st-1"}

	inv, err := svc.CreateInvitation(ctx, admin, InviteRequest{
		Email: "late@example.com", Role: models.RoleStationStaff, StationID: "st-1",
	})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(DefaultInvitationTTL + time.Hour) }
	_, err = svc.AcceptInvitation(ctx, inv.Token, AcceptRequest{Password: "long enough pw"})
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestInviteRoleHierarchy(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()
	admin := models.Principal{UserID: "admin-1", Role: models.RoleStationAdmin, OrganisationID: "org-1", StationID: "st-1"}

	// A station admin cannot invite a peer or better.
	_, err := svc.CreateInvitation(ctx, admin, InviteRequest{
		Email: "x@example.com", Role: models.RoleStationAdmin, StationID: "st-1",
	})
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	// Nor invite outside their station.
	_, err = svc.CreateInvitation(ctx, admin, InviteRequest{
		Email: "x@example.com", Role: models.RoleStationStaff, StationID: "st-other",
	})
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	// Citizens are not invitable.
	_, err = svc.CreateInvitation(ctx, admin, InviteRequest{
		Email: "x@example.com", Role: models.RoleCitizen, StationID: "st-1",
	})
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
}

func TestRevokeInvitation(t *testing.T) {
	svc, _ := newAuthFixture(t)
	ctx := context.Background()
	admin := models.Principal{UserID: "admin-1", Role: models.RoleStationAdmin, OrganisationID: "org-1", StationID: "st-1"}

	inv, err := svc.CreateInvitation(ctx, admin, InviteRequest{
		Email: "r@example.com", Role: models.RoleStationStaff, StationID: "st-1",
	})
	require.NoError(t, err)

	gate := authz.NewGate()
	require.NoError(t, svc.RevokeInvitation(ctx, admin, gate, inv.ID))

	_, err = svc.AcceptInvitation(ctx, inv.Token, AcceptRequest{Password: "long enough pw"})
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	// Staff cannot revoke.
	inv2, err := svc.CreateInvitation(ctx, admin, InviteRequest{
		Email: "r2@example.com", Role: models.RoleStationStaff, StationID: "st-1",
	})
	require.NoError(t, err)
	staff := models.Principal{UserID: "staff-1", Role: models.RoleStationStaff, StationID: "st-1"}
	err = svc.RevokeInvitation(ctx, staff, gate, inv2.ID)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))
}
