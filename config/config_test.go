// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load(zap.NewNop())
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 8*time.Second, cfg.SelectionBudget)
	assert.Equal(t, 5*time.Minute, cfg.EscalationInterval)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, "anonymous", cfg.AnonymousUserID)
	assert.Equal(t, 5, cfg.AuthRateLimit)
	assert.Equal(t, 100, cfg.WriteRateLimit)
	assert.Equal(t, 15*time.Minute, cfg.RateWindow)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ESCALATION_INTERVAL", "10m")

	cfg := Load(zap.NewNop())
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.EscalationInterval)
}

func TestFrontendURLIsDefaultOrigin(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://dispatch.example")

	cfg := Load(zap.NewNop())
	assert.Equal(t, []string{"https://dispatch.example"}, cfg.AllowedOrigins)

	// An explicit allow-list wins over the frontend default.
	t.Setenv("ALLOWED_ORIGINS", "https://ops.example")
	cfg = Load(zap.NewNop())
	assert.Equal(t, []string{"https://ops.example"}, cfg.AllowedOrigins)
}

func TestValidateClampsBadValues(t *testing.T) {
	t.Setenv("ROUTING_PROVIDER_TIMEOUT", "5h")
	t.Setenv("ESCALATION_INTERVAL", "5s")

	cfg := Load(zap.NewNop())
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 5*time.Minute, cfg.EscalationInterval)
}
