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
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dispatch-core/models"
	"dispatch-core/store"
)

// Sentinel errors for station selection.
var (
	ErrNoStationsAvailable = errors.New("no active stations available for category")
	ErrAllRoutesFailed     = errors.New("no route to any candidate station succeeded")
)

// maxParallelRoutes bounds concurrent vendor calls during one selection.
const maxParallelRoutes = 8

// Selector picks the optimal responding station for a classified incident.
type Selector struct {
	engine  *Engine
	store   store.Store
	budget  time.Duration // total wall-clock budget for one selection
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewSelector creates a station selector with the given total budget.
func NewSelector(engine *Engine, st store.Store, budget time.Duration, logger *zap.Logger) *Selector {
	return &Selector{engine: engine, store: st, budget: budget, logger: logger}
}

// SetMetrics wires an optional metrics recorder.
func (s *Selector) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

func (s *Selector) recordSelection(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSelection(outcome)
	}
}

// SelectOptimalStation routes to every active station of the category's
// organizations in parallel and returns the lowest-priority-score candidate.
// Ties break by lexicographic station id.
func (s *Selector) SelectOptimalStation(ctx context.Context, category models.Category, loc *models.Location, urgency models.Priority) (*StationRoute, error) {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	stations, err := s.candidateStations(ctx, category)
	if err != nil {
		s.recordSelection("store_error")
		return nil, err
	}
	if len(stations) == 0 {
		s.recordSelection("no_stations")
		return nil, ErrNoStationsAvailable
	}

	// Reports carrying only a street address cannot be routed; the first
	// active station (stable by id) takes them and staff re-triage on scene.
	if !loc.HasCoordinates() {
		s.logger.Info("Incident has no coordinates, selecting first active station",
			zap.String("station", stations[0].ID))
		s.recordSelection("no_coordinates")
		return &StationRoute{
			StationID:   stations[0].ID,
			StationName: stations[0].Name,
			Route: &Route{
				Quality:    QualityFair,
				Provider:   FallbackProviderName,
				Confidence: fallbackRouteConfidence,
			},
		}, nil
	}

	candidates := s.routeAll(ctx, stations, *loc, urgency)
	if len(candidates) == 0 {
		s.recordSelection("no_routes")
		return nil, ErrAllRoutesFailed
	}
	s.recordSelection("ok")

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority < best.Priority ||
			(c.Priority == best.Priority && c.StationID < best.StationID) {
			best = c
		}
	}
	s.logger.Info("Optimal station selected",
		zap.String("station", best.StationID),
		zap.Float64("priority", best.Priority),
		zap.Float64("etaMin", best.EmergencyETA),
	)
	return best, nil
}

// candidateStations returns active stations of all organizations matching the category.
func (s *Selector) candidateStations(ctx context.Context, category models.Category) ([]*models.Station, error) {
	orgs, err := s.store.ListOrganisations(ctx)
	if err != nil {
		return nil, err
	}

	var stations []*models.Station
	for _, org := range categoryOrganisations(orgs, category) {
		list, err := s.store.ListActiveStations(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		stations = append(stations, list...)
	}
	return stations, nil
}

// routeAll fans out emergency route computation across candidates.
func (s *Selector) routeAll(ctx context.Context, stations []*models.Station, loc models.Location, urgency models.Priority) []*StationRoute {
	var (
		mu         sync.Mutex
		candidates []*StationRoute
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRoutes)

	for _, station := range stations {
		station := station
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			route := s.engine.ComputeRoute(gctx, loc, station.Location, true)
			if route == nil || route.DurationMin <= 0 && route.DistanceKm <= 0 {
				return nil // unroutable candidate, drop it
			}

			eta := route.effectiveDuration() * urgency.UrgencyMultiplier()
			mu.Lock()
			candidates = append(candidates, &StationRoute{
				StationID:    station.ID,
				StationName:  station.Name,
				Route:        route,
				EmergencyETA: eta,
				Priority:     priorityScore(route.DistanceKm, eta, route.Quality),
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures just drop candidates

	return candidates
}
