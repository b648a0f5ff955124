// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dispatch-core/models"
)

// stubProvider is a scriptable Provider for chain tests.
type stubProvider struct {
	name       string
	factor     float64
	confidence float64
	distanceKm float64
	duration   float64
	inTraffic  *float64
	err        error
	calls      int
}

func (s *stubProvider) Name() string             { return s.name }
func (s *stubProvider) EmergencyFactor() float64 { return s.factor }
func (s *stubProvider) BaseConfidence() float64  { return s.confidence }

func (s *stubProvider) FetchRoute(ctx context.Context, origin, dest models.Location) (float64, float64, *float64, error) {
	s.calls++
	if s.err != nil {
		return 0, 0, nil, s.err
	}
	return s.distanceKm, s.duration, s.inTraffic, nil
}

var (
	kigaliCenter = models.Location{Lat: -1.9441, Lng: 30.0619}
	remera       = models.Location{Lat: -1.9546, Lng: 30.1059}
)

func newTestEngine(providers ...Provider) *Engine {
	return NewEngine(providers, nil, 5*time.Second, zap.NewNop())
}

func TestComputeRouteFirstProviderWins(t *testing.T) {
	first := &stubProvider{name: "first", factor: 0.7, confidence: 95, distanceKm: 10, duration: 12}
	second := &stubProvider{name: "second", factor: 0.75, confidence: 85, distanceKm: 11, duration: 14}

	route := newTestEngine(first, second).ComputeRoute(context.Background(), kigaliCenter, remera, false)
	require.NotNil(t, route)
	assert.Equal(t, "first", route.Provider)
	assert.Equal(t, 0, second.calls)
	assert.Equal(t, 12.0, route.DurationMin)
	assert.False(t, route.IsEmergencyOptimized)
}

func TestComputeRouteFallsThroughChain(t *testing.T) {
	first := &stubProvider{name: "first", factor: 0.7, confidence: 95, err: errors.New("quota exceeded")}
	second := &stubProvider{name: "second", factor: 0.75, confidence: 85, distanceKm: 11, duration: 14}

	route := newTestEngine(first, second).ComputeRoute(context.Background(), kigaliCenter, remera, false)
	require.NotNil(t, route)
	assert.Equal(t, "second", route.Provider)
	assert.Equal(t, 1, first.calls)
}

func TestComputeRouteEmergencyFactor(t *testing.T) {
	inTraffic := 20.0
	p := &stubProvider{name: "p", factor: 0.7, confidence: 95, distanceKm: 10, duration: 15, inTraffic: &inTraffic}

	route := newTestEngine(p).ComputeRoute(context.Background(), kigaliCenter, remera, true)
	require.NotNil(t, route)
	assert.True(t, route.IsEmergencyOptimized)
	assert.InDelta(t, 15*0.7, route.DurationMin, 1e-9)
	require.NotNil(t, route.DurationInTrafficMin)
	assert.InDelta(t, 20*0.7, *route.DurationInTrafficMin, 1e-9)
}

func TestComputeRouteFallbackEstimate(t *testing.T) {
	p := &stubProvider{name: "p", factor: 0.7, confidence: 95, err: errors.New("down")}

	route := newTestEngine(p).ComputeRoute(context.Background(), kigaliCenter, remera, true)
	require.NotNil(t, route)
	assert.Equal(t, FallbackProviderName, route.Provider)
	assert.Equal(t, QualityFair, route.Quality)
	assert.Equal(t, fallbackRouteConfidence, route.Confidence)

	directKm := haversineKm(kigaliCenter, remera)
	assert.InDelta(t, directKm*roadFactor, route.DistanceKm, 1e-9)
	assert.InDelta(t, route.DistanceKm/emergencySpeedKmh*60, route.DurationMin, 1e-9)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failing := &stubProvider{name: "flaky", factor: 0.7, confidence: 95, err: errors.New("down")}
	engine := newTestEngine(failing)

	for i := 0; i < 5; i++ {
		engine.ComputeRoute(context.Background(), kigaliCenter, remera, false)
	}
	// Breaker trips after 3 consecutive failures; later calls short-circuit.
	assert.Equal(t, 3, failing.calls)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Kigali city center to Remera is roughly 5km as the crow flies.
	d := haversineKm(kigaliCenter, remera)
	assert.InDelta(t, 5.0, d, 1.0)

	assert.InDelta(t, 0, haversineKm(kigaliCenter, kigaliCenter), 1e-9)
}

func TestClassifyQuality(t *testing.T) {
	withTraffic := func(v float64) *float64 { return &v }
	tests := []struct {
		name      string
		distance  float64
		duration  float64
		inTraffic *float64
		want      RouteQuality
	}{
		{"fast free-flow", 60, 60, nil, QualityExcellent},
		{"fast but congested", 60, 60, withTraffic(80), QualityGood},
		{"congestion at the good boundary", 60, 60, withTraffic(90), QualityFair},
		{"moderate", 20, 30, nil, QualityGood},
		{"slow urban", 10, 25, nil, QualityFair},
		{"crawl", 5, 40, nil, QualityPoor},
		{"zero duration", 5, 0, nil, QualityPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyQuality(tt.distance, tt.duration, tt.inTraffic))
		})
	}
}

func TestPriorityScore(t *testing.T) {
	base := priorityScore(10, 20, QualityFair)
	assert.InDelta(t, 0.4*10+0.6*20, base, 1e-9)
	assert.Less(t, priorityScore(10, 20, QualityExcellent), base)
	assert.Greater(t, priorityScore(10, 20, QualityPoor), base)
}
