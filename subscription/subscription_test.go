// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dispatch-core/errors"
	"dispatch-core/models"
	"dispatch-core/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateIncident(context.Background(), &models.Incident{
		ID: "inc-1", Title: "Fire", Status: models.StatusReported,
		Priority: models.PriorityHigh, Type: models.CategoryPolice,
		ReportedByID: models.AnonymousUserID,
	}))
	return NewRegistry(ms, zap.NewNop()), ms
}

func TestSubscribeRequiresContact(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Subscribe(context.Background(), "inc-1", Request{})
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
}

func TestSubscribeUnknownIncident(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Subscribe(context.Background(), "missing", Request{Email: "a@example.com"})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSubscribePushTokenIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Subscribe(ctx, "inc-1", Request{
		PushToken:   "tok-1",
		Preferences: models.NotificationPreferences{Push: true},
	})
	require.NoError(t, err)

	second, err := r.Subscribe(ctx, "inc-1", Request{
		PushToken:   "tok-1",
		Email:       "new@example.com",
		Preferences: models.NotificationPreferences{Push: true, Email: true},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new@example.com", second.Email)

	subs, err := r.ActiveSubscribers(ctx, "inc-1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSameEmailSubscriptionsCoexist(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.Subscribe(ctx, "inc-1", Request{
			Email:       "dup@example.com",
			Preferences: models.NotificationPreferences{Email: true},
		})
		require.NoError(t, err)
	}

	subs, err := r.ActiveSubscribers(ctx, "inc-1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestUnsubscribeSoftDeletes(t *testing.T) {
	r, ms := newTestRegistry(t)
	ctx := context.Background()

	sub, err := r.Subscribe(ctx, "inc-1", Request{Email: "a@example.com",
		Preferences: models.NotificationPreferences{Email: true}})
	require.NoError(t, err)

	require.NoError(t, r.Unsubscribe(ctx, "inc-1", sub.ID))

	active, err := r.ActiveSubscribers(ctx, "inc-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	// Record survives with the flag flipped.
	all, err := ms.ListSubscriptions(ctx, "inc-1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}

func TestUnsubscribeUnknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	err := r.Unsubscribe(context.Background(), "inc-1", "missing")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestRegistryRebuildableFromStore(t *testing.T) {
	r, ms := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, "inc-1", Request{Email: "a@example.com",
		Preferences: models.NotificationPreferences{Email: true}})
	require.NoError(t, err)

	// A fresh registry over the same store sees the subscription.
	fresh := NewRegistry(ms, zap.NewNop())
	subs, err := fresh.ActiveSubscribers(ctx, "inc-1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
