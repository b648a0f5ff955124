// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dispatch-core/store"
)

func TestRecorderWritesVersionedEnvelope(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewRecorder(ms, 16, zap.NewNop())

	r.Record("admin-1", "incident.assign", "incident", "inc-1",
		map[string]string{"assignedTo": "staff-1"})
	r.Close()

	entries := ms.AuditEntries()
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "admin-1", e.ActorID)
	assert.Equal(t, "incident.assign", e.Action)
	assert.Equal(t, "incident", e.EntityType)
	assert.Equal(t, "inc-1", e.EntityID)
	assert.NotEmpty(t, e.ID)

	env, err := DecodeEnvelope(e.Details)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.V)
	assert.Equal(t, "incident.assign", env.Kind)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "staff-1", payload["assignedTo"])
}

func TestRecorderNilPayload(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewRecorder(ms, 16, zap.NewNop())

	r.Record("system", "auth.login", "user", "u-1", nil)
	r.Close()

	entries := ms.AuditEntries()
	require.Len(t, entries, 1)

	env, err := DecodeEnvelope(entries[0].Details)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)
}

func TestCloseDrainsBuffer(t *testing.T) {
	ms := store.NewMemoryStore()
	r := NewRecorder(ms, 64, zap.NewNop())

	for i := 0; i < 20; i++ {
		r.Record("actor", "incident.update", "incident", "inc-1", nil)
	}
	r.Close()

	assert.Len(t, ms.AuditEntries(), 20)
}
