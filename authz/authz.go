// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package authz derives incident visibility and mutation permission from the
// principal's role and the incident ownership chain. Unknown roles always deny.
package authz

import (
	"dispatch-core/errors"
	"dispatch-core/models"
	"dispatch-core/store"
)

// Gate answers visibility and permission questions. It is stateless; all
// decisions derive from the principal and the entity passed in.
type Gate struct{}

// NewGate creates the authorization gate.
func NewGate() *Gate {
	return &Gate{}
}

// VisibilityFilter returns the server-side listing filter for the principal.
// Citizens only see the public-feed projection (handled by the caller); staff
// scopes narrow by organization or station.
func (g *Gate) VisibilityFilter(p models.Principal) (store.IncidentFilter, error) {
	switch p.Role {
	case models.RoleMainAdmin:
		return store.IncidentFilter{}, nil
	case models.RoleSuperAdmin:
		return store.IncidentFilter{OrganisationID: p.OrganisationID}, nil
	case models.RoleStationAdmin, models.RoleStationStaff:
		return store.IncidentFilter{StationID: p.StationID}, nil
	case models.RoleCitizen:
		return store.IncidentFilter{
			Statuses: []models.IncidentStatus{
				models.StatusReported,
				models.StatusAssigned,
				models.StatusInProgress,
			},
		}, nil
	default:
		return store.IncidentFilter{}, errors.Forbidden("authz.VisibilityFilter", "unknown role")
	}
}

// CanView reports whether the principal may read one incident.
func (g *Gate) CanView(p models.Principal, inc *models.Incident) bool {
	switch p.Role {
	case models.RoleMainAdmin:
		return true
	case models.RoleSuperAdmin:
		return inc.OrganisationID == p.OrganisationID
	case models.RoleStationAdmin, models.RoleStationStaff:
		return inc.StationID == p.StationID
	case models.RoleCitizen:
		return inc.Status.Active()
	default:
		return false
	}
}

// CanAssign checks the assignment rules: station_staff may only self-assign;
// station_admin assigns within their station; super_admin within their
// organization; main_admin anywhere.
func (g *Gate) CanAssign(p models.Principal, inc *models.Incident, targetUserID string) error {
	const op = "authz.CanAssign"
	if !g.CanView(p, inc) || !p.IsStaff() {
		return errors.Forbidden(op, "user does not have permission to assign this incident")
	}

	switch p.Role {
	case models.RoleStationStaff:
		if targetUserID != p.UserID {
			return errors.Forbidden(op, "station staff may only self-assign")
		}
	case models.RoleStationAdmin:
		if inc.StationID != p.StationID {
			return errors.Forbidden(op, "station admins may only assign within their station")
		}
	case models.RoleSuperAdmin:
		if inc.OrganisationID != p.OrganisationID {
			return errors.Forbidden(op, "super admins may only assign within their organisation")
		}
	case models.RoleMainAdmin:
		// unrestricted
	default:
		return errors.Forbidden(op, "unknown role")
	}
	return nil
}

// CanUpdateStatus gates lifecycle mutations. The assignee may progress their
// own incident; admins at or above station level act within their scope.
func (g *Gate) CanUpdateStatus(p models.Principal, inc *models.Incident) error {
	const op = "authz.CanUpdateStatus"
	if !p.IsStaff() || !g.CanView(p, inc) {
		return errors.Forbidden(op, "user does not have permission to update this incident")
	}
	if p.Role == models.RoleStationStaff && inc.AssignedTo != p.UserID {
		return errors.Forbidden(op, "user does not have permission to update this incident")
	}
	return nil
}

// CanReopen gates resolved→assigned; station_admin and above only.
func (g *Gate) CanReopen(p models.Principal, inc *models.Incident) error {
	const op = "authz.CanReopen"
	if p.Role.Level() < models.RoleStationAdmin.Level() {
		return errors.Forbidden(op, "reopening requires station admin or above")
	}
	if !g.CanView(p, inc) {
		return errors.Forbidden(op, "user does not have permission to reopen this incident")
	}
	return nil
}

// CanEscalate checks that the actor sits strictly below the target level and
// is scoped to the incident.
func (g *Gate) CanEscalate(p models.Principal, inc *models.Incident, targetLevel int) error {
	const op = "authz.CanEscalate"
	if !p.IsStaff() || !g.CanView(p, inc) {
		return errors.Forbidden(op, "user does not have permission to escalate this incident")
	}
	if p.Role.Level() >= targetLevel {
		return errors.Forbiddenf(op, "escalation to level %d requires a role below it", targetLevel)
	}
	return nil
}

// CanManageUsers gates user-management reads with the same station/org scoping
// as incident visibility.
func (g *Gate) CanManageUsers(p models.Principal, target *models.User) bool {
	switch p.Role {
	case models.RoleMainAdmin:
		return true
	case models.RoleSuperAdmin:
		return target.OrganisationID == p.OrganisationID
	case models.RoleStationAdmin:
		return target.StationID == p.StationID
	default:
		return false
	}
}

// CanRevokeInvitation gates invitation deletion: station_admin and above,
// scoped to the invitation's station or organisation.
func (g *Gate) CanRevokeInvitation(p models.Principal, inv *models.Invitation) error {
	const op = "authz.CanRevokeInvitation"
	switch p.Role {
	case models.RoleMainAdmin:
		return nil
	case models.RoleSuperAdmin:
		if inv.OrganisationID == p.OrganisationID {
			return nil
		}
	case models.RoleStationAdmin:
		if inv.StationID == p.StationID {
			return nil
		}
	}
	return errors.Forbidden(op, "user does not have permission to revoke this invitation")
}
