// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package subscription keeps the per-incident citizen subscription lists. The
// registry is a cache over the store and is rebuildable on restart.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispatch-core/errors"
	"dispatch-core/models"
	"dispatch-core/store"
)

// Request carries the contact details for one subscribe call. At least one
// contact channel must be present.
type Request struct {
	PushToken   string
	Email       string
	Phone       string
	Preferences models.NotificationPreferences
}

// Registry manages citizen subscriptions with per-incident locking: one
// incident's subscribe/unsubscribe calls are serialized, different incidents
// proceed in parallel.
type Registry struct {
	store  store.Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates the subscription registry.
func NewRegistry(st store.Store, logger *zap.Logger) *Registry {
	return &Registry{store: st, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) incidentLock(incidentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[incidentID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[incidentID] = l
	}
	return l
}

// Subscribe registers a citizen for updates on one incident. Subscribing is
// idempotent per push token: an existing active subscription with the same
// token is updated in place. Same-contact email/phone subscriptions may
// coexist.
func (r *Registry) Subscribe(ctx context.Context, incidentID string, req Request) (*models.CitizenSubscription, error) {
	const op = "subscription.Subscribe"
	if req.PushToken == "" && req.Email == "" && req.Phone == "" {
		return nil, errors.Invalid(op, "at least one of pushToken, email or phone is required")
	}
	if _, err := r.store.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}

	lock := r.incidentLock(incidentID)
	lock.Lock()
	defer lock.Unlock()

	if req.PushToken != "" {
		existing, err := r.findByPushToken(ctx, incidentID, req.PushToken)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.Email = req.Email
			existing.Phone = req.Phone
			existing.Preferences = req.Preferences
			existing.IsActive = true
			if err := r.store.UpdateSubscription(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	sub := &models.CitizenSubscription{
		ID:          uuid.NewString(),
		IncidentID:  incidentID,
		PushToken:   req.PushToken,
		Email:       req.Email,
		Phone:       req.Phone,
		Preferences: req.Preferences,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	r.logger.Debug("Citizen subscribed",
		zap.String("incident", incidentID), zap.String("subscription", sub.ID))
	return sub, nil
}

// Unsubscribe soft-deletes: the subscription stays in the store with
// isActive=false. Unknown ids are a NotFound.
func (r *Registry) Unsubscribe(ctx context.Context, incidentID, subscriptionID string) error {
	lock := r.incidentLock(incidentID)
	lock.Lock()
	defer lock.Unlock()

	subs, err := r.store.ListSubscriptions(ctx, incidentID, false)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.ID == subscriptionID {
			sub.IsActive = false
			return r.store.UpdateSubscription(ctx, sub)
		}
	}
	return errors.NotFound("subscription.Unsubscribe", "subscription", subscriptionID)
}

// ActiveSubscribers lists active subscriptions for one incident.
func (r *Registry) ActiveSubscribers(ctx context.Context, incidentID string) ([]*models.CitizenSubscription, error) {
	return r.store.ListSubscriptions(ctx, incidentID, true)
}

func (r *Registry) findByPushToken(ctx context.Context, incidentID, token string) (*models.CitizenSubscription, error) {
	subs, err := r.store.ListSubscriptions(ctx, incidentID, false)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.PushToken == token {
			return sub, nil
		}
	}
	return nil, nil
}
