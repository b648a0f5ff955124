// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispatch-core/authz"
	"dispatch-core/errors"
	"dispatch-core/models"
	"dispatch-core/store"
)

// DefaultInvitationTTL is how long an invitation stays acceptable.
const DefaultInvitationTTL = 72 * time.Hour

// InviteRequest describes a new staff invitation.
type InviteRequest struct {
	Email          string
	Role           models.Role
	OrganisationID string
	StationID      string
}

// CreateInvitation issues a single-use invitation. The inviter must hold a
// role strictly above the invited one; non-main admins invite only within
// their own scope.
func (s *Service) CreateInvitation(ctx context.Context, p models.Principal, req InviteRequest) (*models.Invitation, error) {
	const op = "auth.CreateInvitation"
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return nil, errors.InvalidFields(op, "validation failed",
			errors.FieldError{Field: "email", Message: "email is required"})
	}
	if !req.Role.Valid() || req.Role == models.RoleCitizen {
		return nil, errors.Invalid(op, "invited role must be a staff role")
	}
	if p.Role.Level() <= req.Role.Level() {
		return nil, errors.Forbidden(op, "inviter must hold a role above the invited one")
	}

	switch p.Role {
	case models.RoleSuperAdmin:
		if req.OrganisationID != p.OrganisationID {
			return nil, errors.Forbidden(op, "super admins may only invite within their organisation")
		}
	case models.RoleStationAdmin:
		if req.StationID != p.StationID {
			return nil, errors.Forbidden(op, "station admins may only invite within their station")
		}
	case models.RoleMainAdmin:
		// unrestricted
	default:
		return nil, errors.Forbidden(op, "user does not have permission to invite")
	}

	now := s.now()
	inv := &models.Invitation{
		ID:             uuid.NewString(),
		Token:          uuid.NewString(),
		Email:          req.Email,
		Role:           req.Role,
		OrganisationID: req.OrganisationID,
		StationID:      req.StationID,
		Status:         models.InvitationPending,
		InvitedBy:      p.UserID,
		ExpiresAt:      now.Add(DefaultInvitationTTL),
		CreatedAt:      now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, errors.Unavailable(op, err)
	}

	s.record(p.UserID, "auth.invite", inv.ID, map[string]any{
		"email": req.Email, "role": req.Role,
	})
	s.logger.Info("Invitation created",
		zap.String("invitation", inv.ID), zap.String("role", string(req.Role)))
	return inv, nil
}

// AcceptRequest completes an invitation into a user account.
type AcceptRequest struct {
	FirstName string
	LastName  string
	Password  string
}

// AcceptInvitation consumes the token and creates the staff account inside
// one transaction, so a token can never be used twice.
func (s *Service) AcceptInvitation(ctx context.Context, token string, req AcceptRequest) (*models.User, error) {
	const op = "auth.AcceptInvitation"
	if len(req.Password) < 8 {
		return nil, errors.InvalidFields(op, "validation failed",
			errors.FieldError{Field: "password", Message: "password must be at least 8 characters"})
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, errors.Internal(op, err)
	}

	var user *models.User
	err = s.store.Tx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvitationByToken(ctx, token)
		if err != nil {
			return errors.NotFound(op, "invitation", token)
		}
		now := s.now()
		if !inv.Usable(now) {
			if inv.Status == models.InvitationPending {
				inv.Status = models.InvitationExpired
				_ = tx.UpdateInvitation(ctx, inv)
			}
			return errors.Conflict(op, "invitation is no longer usable")
		}

		user = &models.User{
			ID:             uuid.NewString(),
			Email:          inv.Email,
			PasswordHash:   hash,
			FirstName:      strings.TrimSpace(req.FirstName),
			LastName:       strings.TrimSpace(req.LastName),
			Role:           inv.Role,
			OrganisationID: inv.OrganisationID,
			StationID:      inv.StationID,
			IsActive:       true,
			CreatedAt:      now,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}

		inv.Status = models.InvitationAccepted
		return tx.UpdateInvitation(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.record(user.ID, "auth.invitation_accepted", user.ID, map[string]any{"role": user.Role})
	s.logger.Info("Invitation accepted", zap.String("user", user.ID))
	return user, nil
}

// RevokeInvitation marks a pending invitation revoked. Scoped to station
// admins and above per the authorization gate.
func (s *Service) RevokeInvitation(ctx context.Context, p models.Principal, gate *authz.Gate, invitationID string) error {
	const op = "auth.RevokeInvitation"
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if err := gate.CanRevokeInvitation(p, inv); err != nil {
		return err
	}
	if inv.Status != models.InvitationPending {
		return errors.Conflict(op, "only pending invitations can be revoked")
	}

	inv.Status = models.InvitationRevoked
	if err := s.store.UpdateInvitation(ctx, inv); err != nil {
		return errors.Unavailable(op, err)
	}
	s.record(p.UserID, "auth.invitation_revoked", inv.ID, nil)
	return nil
}
