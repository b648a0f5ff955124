// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package routing computes road distance and ETA between incidents and candidate
// stations, and selects the optimal responding station. Multiple external
// providers are tried in order behind circuit breakers; a great-circle estimate
// is the terminal fallback.
package routing

import (
	"dispatch-core/models"
)

// RouteQuality is a derived categorical assessment of a computed route.
type RouteQuality string

const (
	QualityExcellent RouteQuality = "excellent"
	QualityGood      RouteQuality = "good"
	QualityFair      RouteQuality = "fair"
	QualityPoor      RouteQuality = "poor"
)

// qualityBonus contributes to the station priority score (lower is better).
func (q RouteQuality) bonus() float64 {
	switch q {
	case QualityExcellent:
		return -2
	case QualityGood:
		return -1
	case QualityPoor:
		return 2
	default:
		return 0
	}
}

// Route is a computed road route between two points.
type Route struct {
	DistanceKm           float64      `json:"distanceKm"`
	DurationMin          float64      `json:"durationMin"`
	DurationInTrafficMin *float64     `json:"durationInTrafficMin,omitempty"`
	Quality              RouteQuality `json:"quality"`
	IsEmergencyOptimized bool         `json:"isEmergencyOptimized"`
	Provider             string       `json:"provider"`
	Confidence           float64      `json:"confidence"` // 0..100
}

// effectiveDuration prefers the in-traffic estimate when the provider gave one.
func (r *Route) effectiveDuration() float64 {
	if r.DurationInTrafficMin != nil {
		return *r.DurationInTrafficMin
	}
	return r.DurationMin
}

// StationRoute is the station-selection result for one candidate.
type StationRoute struct {
	StationID    string  `json:"stationId"`
	StationName  string  `json:"stationName"`
	Route        *Route  `json:"route"`
	EmergencyETA float64 `json:"emergencyEta"` // minutes, urgency-weighted
	Priority     float64 `json:"priority"`     // lower is better
}

// classifyQuality derives the categorical quality from speed and congestion.
// Speed is km/h; trafficFactor is in-traffic over free-flow duration (1 when
// the provider reported no traffic data).
func classifyQuality(distanceKm, durationMin float64, durationInTrafficMin *float64) RouteQuality {
	if durationMin <= 0 {
		return QualityPoor
	}
	speed := distanceKm / (durationMin / 60)
	trafficFactor := 1.0
	if durationInTrafficMin != nil && durationMin > 0 {
		trafficFactor = *durationInTrafficMin / durationMin
	}
	switch {
	case speed > 50 && trafficFactor < 1.2:
		return QualityExcellent
	case speed > 35 && trafficFactor < 1.5:
		return QualityGood
	case speed > 20 && trafficFactor < 2.0:
		return QualityFair
	default:
		return QualityPoor
	}
}

// priorityScore combines distance, weighted ETA and route quality.
// 0.4·distance + 0.6·emergencyETA + qualityBonus; lower wins.
func priorityScore(distanceKm, emergencyETA float64, quality RouteQuality) float64 {
	return 0.4*distanceKm + 0.6*emergencyETA + quality.bonus()
}

// categoryOrganisations returns organizations handling the given category.
func categoryOrganisations(orgs []*models.Organisation, category models.Category) []*models.Organisation {
	var out []*models.Organisation
	for _, o := range orgs {
		if o.MatchesCategory(category) {
			out = append(out, o)
		}
	}
	return out
}
