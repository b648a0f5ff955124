// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package metrics holds the Prometheus instrumentation for the dispatch
// pipeline.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics holds all Prometheus metrics for the service.
type DispatchMetrics struct {
	// Intake and lifecycle
	IncidentsCreatedTotal   *prometheus.CounterVec // by category, priority
	IncidentsAssignedTotal  prometheus.Counter
	IncidentsResolvedTotal  prometheus.Counter
	EscalationsTotal        *prometheus.CounterVec // by trigger (manual|auto), level
	UpvotesTotal            prometheus.Counter
	ClassifierFallbackTotal prometheus.Counter

	// Routing
	RouteRequestsTotal    *prometheus.CounterVec   // by provider, outcome
	RouteDuration         *prometheus.HistogramVec // by provider
	StationSelectionTotal *prometheus.CounterVec   // by outcome
	RouteCacheHitsTotal   *prometheus.CounterVec   // by result (hit|miss)

	// Transport
	HTTPRequestsTotal   *prometheus.CounterVec // by method, route, status
	HTTPRequestDuration *prometheus.HistogramVec
	LiveConnections     prometheus.Gauge
	RateLimitedTotal    *prometheus.CounterVec // by limiter

	// Notifications
	NotificationsTotal *prometheus.CounterVec // by channel, outcome
}

var (
	instance *DispatchMetrics
	once     sync.Once
)

// NewDispatchMetrics creates and registers the metric set exactly once; later
// calls return the same instance so tests and wiring cannot double-register.
func NewDispatchMetrics() *DispatchMetrics {
	once.Do(func() {
		instance = newDispatchMetrics(prometheus.DefaultRegisterer)
	})
	return instance
}

func newDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		IncidentsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_incidents_created_total",
			Help: "Incidents created, by classifier category and priority",
		}, []string{"category", "priority"}),
		IncidentsAssignedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_incidents_assigned_total",
			Help: "Assignment operations that succeeded",
		}),
		IncidentsResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_incidents_resolved_total",
			Help: "Incidents moved to resolved",
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_escalations_total",
			Help: "Escalations applied, by trigger and reached level",
		}, []string{"trigger", "level"}),
		UpvotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_upvotes_total",
			Help: "Distinct upvotes recorded",
		}),
		ClassifierFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_classifier_fallback_total",
			Help: "Reports that fell back to the general police category",
		}),
		RouteRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_route_requests_total",
			Help: "Provider route computations, by provider and outcome",
		}, []string{"provider", "outcome"}),
		RouteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_route_duration_seconds",
			Help:    "Provider route computation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		StationSelectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_station_selection_total",
			Help: "Station selections, by outcome",
		}, []string{"outcome"}),
		RouteCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_route_cache_total",
			Help: "Route cache lookups, by result",
		}, []string{"result"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_live_connections",
			Help: "Users with at least one live websocket connection",
		}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by limiter name",
		}, []string{"limiter"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_notifications_total",
			Help: "Outbound notifications, by channel and outcome",
		}, []string{"channel", "outcome"}),
	}

	reg.MustRegister(
		m.IncidentsCreatedTotal, m.IncidentsAssignedTotal, m.IncidentsResolvedTotal,
		m.EscalationsTotal, m.UpvotesTotal, m.ClassifierFallbackTotal,
		m.RouteRequestsTotal, m.RouteDuration, m.StationSelectionTotal, m.RouteCacheHitsTotal,
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.LiveConnections, m.RateLimitedTotal,
		m.NotificationsTotal,
	)
	return m
}

// RecordIncidentCreated increments the intake counter.
func (m *DispatchMetrics) RecordIncidentCreated(category, priority string) {
	m.IncidentsCreatedTotal.WithLabelValues(category, priority).Inc()
}

// RecordEscalation increments the escalation counter.
func (m *DispatchMetrics) RecordEscalation(trigger string, level int) {
	m.EscalationsTotal.WithLabelValues(trigger, strconv.Itoa(level)).Inc()
}

// RecordAssignment increments the assignment counter.
func (m *DispatchMetrics) RecordAssignment() {
	m.IncidentsAssignedTotal.Inc()
}

// RecordResolution increments the resolved counter.
func (m *DispatchMetrics) RecordResolution() {
	m.IncidentsResolvedTotal.Inc()
}

// RecordUpvote increments the upvote counter.
func (m *DispatchMetrics) RecordUpvote() {
	m.UpvotesTotal.Inc()
}

// RecordClassifierFallback counts reports that no category matched.
func (m *DispatchMetrics) RecordClassifierFallback() {
	m.ClassifierFallbackTotal.Inc()
}

// RecordRoute tracks one provider route computation.
func (m *DispatchMetrics) RecordRoute(provider, outcome string, elapsed time.Duration) {
	m.RouteRequestsTotal.WithLabelValues(provider, outcome).Inc()
	m.RouteDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordCacheLookup tracks one route-cache lookup ("hit" or "miss").
func (m *DispatchMetrics) RecordCacheLookup(result string) {
	m.RouteCacheHitsTotal.WithLabelValues(result).Inc()
}

// RecordSelection tracks one station selection by outcome.
func (m *DispatchMetrics) RecordSelection(outcome string) {
	m.StationSelectionTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest tracks one served request.
func (m *DispatchMetrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordRateLimited counts one rejected request per limiter.
func (m *DispatchMetrics) RecordRateLimited(limiter string) {
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// RecordNotification counts one outbound notification attempt.
func (m *DispatchMetrics) RecordNotification(channel, outcome string) {
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}
