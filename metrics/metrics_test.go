// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordersIncrementCounters(t *testing.T) {
	m := newDispatchMetrics(prometheus.NewRegistry())

	m.RecordIncidentCreated("police", "high")
	m.RecordIncidentCreated("police", "high")
	m.RecordIncidentCreated("health", "critical")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IncidentsCreatedTotal.WithLabelValues("police", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncidentsCreatedTotal.WithLabelValues("health", "critical")))

	m.RecordEscalation("auto", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("auto", "1")))

	m.RecordRoute("google_maps", "ok", 120*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RouteRequestsTotal.WithLabelValues("google_maps", "ok")))

	m.RecordHTTPRequest("POST", "/api/incidents/citizen", 201, 30*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/incidents/citizen", "201")))
}

func TestNewDispatchMetricsIsSingleton(t *testing.T) {
	assert.Same(t, NewDispatchMetrics(), NewDispatchMetrics())
}
