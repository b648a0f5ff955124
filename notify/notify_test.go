// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"dispatch-core/models"
)

func TestResolutionEmailContents(t *testing.T) {
	inc := &models.Incident{Title: "Broken streetlight on KN 5 Rd"}
	subject, body := ResolutionEmail(inc, Resolution{
		Summary:          "Light replaced and tested.",
		ActionsTaken:     []string{"Dispatched maintenance crew", "Replaced bulb"},
		TimeToResolution: "4 hours",
		ResolverName:     "Jean Bosco",
		ResolvedAt:       time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, subject, "Broken streetlight")
	assert.Contains(t, body, "Broken streetlight on KN 5 Rd")
	assert.Contains(t, body, "Jean Bosco")
	assert.Contains(t, body, "4 hours")
	assert.Contains(t, body, "Dispatched maintenance crew")
	assert.Contains(t, body, "Replaced bulb")
}

func TestResolutionEmailOmitsEmptySections(t *testing.T) {
	inc := &models.Incident{Title: "Noise complaint"}
	_, body := ResolutionEmail(inc, Resolution{ResolverName: "Officer K."})

	assert.NotContains(t, body, "Actions taken")
	assert.NotContains(t, body, "Time to resolution")
}

func TestStatusUpdateMessage(t *testing.T) {
	inc := &models.Incident{Title: "Flooded road", Status: models.StatusInProgress}

	assert.Contains(t, StatusUpdateMessage(inc, ""), "in_progress")
	assert.Contains(t, StatusUpdateMessage(inc, "Crew on site"), "Crew on site")
}

func TestLogSenderNeverFails(t *testing.T) {
	s := NewLogSender(zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, s.Push(ctx, "fcm-token-1234567890", "title", "body"))
	assert.NoError(t, s.Email(ctx, "a@example.com", "subject", "body"))
	assert.NoError(t, s.SMS(ctx, "+250788000000", "body"))
}
