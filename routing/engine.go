// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package routing

import (
	"context"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"dispatch-core/models"
)

const (
	// roadFactor converts great-circle distance to an estimated road distance.
	roadFactor = 1.4
	// emergencySpeedKmh and normalSpeedKmh back the fallback duration estimate.
	emergencySpeedKmh = 60.0
	normalSpeedKmh    = 40.0
	// fallbackRouteConfidence is attached to estimated (non-provider) routes.
	fallbackRouteConfidence = 60.0
	// FallbackProviderName identifies estimated routes in the Route envelope.
	FallbackProviderName = "estimate"
)

// MetricsRecorder receives routing observations. Implemented by
// metrics.DispatchMetrics; nil disables recording.
type MetricsRecorder interface {
	RecordRoute(provider, outcome string, elapsed time.Duration)
	RecordCacheLookup(result string)
	RecordSelection(outcome string)
}

// Engine computes routes through an ordered provider chain with per-provider
// circuit breakers and a great-circle fallback.
type Engine struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	cache     Cache
	timeout   time.Duration // per-provider deadline
	metrics   MetricsRecorder
	logger    *zap.Logger
}

// NewEngine creates a routing engine. Providers are tried in the given order;
// nil cache disables caching.
func NewEngine(providers []Provider, cache Cache, timeout time.Duration, logger *zap.Logger) *Engine {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    p.Name(),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &Engine{
		providers: providers,
		breakers:  breakers,
		cache:     cache,
		timeout:   timeout,
		logger:    logger,
	}
}

// SetMetrics wires an optional metrics recorder. Must be called before the
// engine serves requests.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.metrics = m
}

// ComputeRoute tries each provider in order; the first route within the
// per-provider deadline wins. When every provider fails, a great-circle
// estimate is returned instead of an error.
func (e *Engine) ComputeRoute(ctx context.Context, origin, dest models.Location, emergency bool) *Route {
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, cacheKey(origin, dest, emergency)); ok {
			e.recordCache("hit")
			return cached
		}
		e.recordCache("miss")
	}

	for _, p := range e.providers {
		route, err := e.tryProvider(ctx, p, origin, dest, emergency)
		if err != nil {
			e.logger.Warn("Routing provider failed",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break // overall deadline exhausted, stop walking the chain
			}
			continue
		}
		if e.cache != nil {
			e.cache.Set(ctx, cacheKey(origin, dest, emergency), route)
		}
		return route
	}

	e.logger.Warn("All routing providers failed, using great-circle estimate")
	if e.metrics != nil {
		e.metrics.RecordRoute(FallbackProviderName, "fallback", 0)
	}
	return e.fallbackRoute(origin, dest, emergency)
}

func (e *Engine) recordCache(result string) {
	if e.metrics != nil {
		e.metrics.RecordCacheLookup(result)
	}
}

func (e *Engine) tryProvider(ctx context.Context, p Provider, origin, dest models.Location, emergency bool) (*Route, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()

	result, err := e.breakers[p.Name()].Execute(func() (interface{}, error) {
		distanceKm, durationMin, inTraffic, err := p.FetchRoute(callCtx, origin, dest)
		if err != nil {
			return nil, err
		}
		if distanceKm <= 0 || durationMin <= 0 {
			return nil, &ProviderError{Provider: p.Name(), Err: errEmptyRoute}
		}

		quality := classifyQuality(distanceKm, durationMin, inTraffic)
		if emergency {
			durationMin *= p.EmergencyFactor()
			if inTraffic != nil {
				weighted := *inTraffic * p.EmergencyFactor()
				inTraffic = &weighted
			}
		}
		return &Route{
			DistanceKm:           distanceKm,
			DurationMin:          durationMin,
			DurationInTrafficMin: inTraffic,
			Quality:              quality,
			IsEmergencyOptimized: emergency,
			Provider:             p.Name(),
			Confidence:           p.BaseConfidence(),
		}, nil
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordRoute(p.Name(), "error", time.Since(start))
		}
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	if e.metrics != nil {
		e.metrics.RecordRoute(p.Name(), "ok", time.Since(start))
	}
	return result.(*Route), nil
}

// fallbackRoute estimates from great-circle distance when no provider answered.
func (e *Engine) fallbackRoute(origin, dest models.Location, emergency bool) *Route {
	distanceKm := haversineKm(origin, dest) * roadFactor
	speed := normalSpeedKmh
	if emergency {
		speed = emergencySpeedKmh
	}
	durationMin := distanceKm / speed * 60

	return &Route{
		DistanceKm:           distanceKm,
		DurationMin:          durationMin,
		Quality:              QualityFair,
		IsEmergencyOptimized: emergency,
		Provider:             FallbackProviderName,
		Confidence:           fallbackRouteConfidence,
	}
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(a, b models.Location) float64 {
	const earthRadiusKm = 6371.0

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

var errEmptyRoute = &emptyRouteError{}

type emptyRouteError struct{}

func (*emptyRouteError) Error() string { return "provider returned an empty route" }
