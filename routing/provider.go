// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"dispatch-core/models"
)

// Provider computes a road route between two points. Implementations wrap one
// external routing vendor; they return raw durations (no emergency weighting).
type Provider interface {
	Name() string
	// EmergencyFactor is the vendor-specific duration multiplier applied when a
	// route is emergency-optimized.
	EmergencyFactor() float64
	// BaseConfidence is the trust score attached to this vendor's routes.
	BaseConfidence() float64
	FetchRoute(ctx context.Context, origin, dest models.Location) (distanceKm, durationMin float64, durationInTrafficMin *float64, err error)
}

// ProviderError marks a failure of one provider in the chain so callers can
// distinguish vendor outages from programming errors.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// httpDoer lets tests substitute the transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GoogleMapsProvider wraps the Maps distance-matrix vendor.
type GoogleMapsProvider struct {
	apiKey  string
	baseURL string
	client  httpDoer
}

// NewGoogleMapsProvider creates the Maps vendor client.
func NewGoogleMapsProvider(apiKey string, client *http.Client) *GoogleMapsProvider {
	return &GoogleMapsProvider{
		apiKey:  apiKey,
		baseURL: "https://maps.googleapis.com/maps/api/distancematrix/json",
		client:  client,
	}
}

func (p *GoogleMapsProvider) Name() string             { return "google_maps" }
func (p *GoogleMapsProvider) EmergencyFactor() float64 { return 0.7 }
func (p *GoogleMapsProvider) BaseConfidence() float64  { return 95 }

type googleMatrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Value float64 `json:"value"` // meters
			} `json:"distance"`
			Duration struct {
				Value float64 `json:"value"` // seconds
			} `json:"duration"`
			DurationInTraffic *struct {
				Value float64 `json:"value"`
			} `json:"duration_in_traffic"`
		} `json:"elements"`
	} `json:"rows"`
}

// FetchRoute queries the distance matrix for a single origin/destination pair.
func (p *GoogleMapsProvider) FetchRoute(ctx context.Context, origin, dest models.Location) (float64, float64, *float64, error) {
	q := url.Values{}
	q.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lng))
	q.Set("destinations", fmt.Sprintf("%f,%f", dest.Lat, dest.Lng))
	q.Set("departure_time", "now")
	q.Set("key", p.apiKey)

	var resp googleMatrixResponse
	if err := p.getJSON(ctx, p.baseURL+"?"+q.Encode(), &resp); err != nil {
		return 0, 0, nil, err
	}
	if resp.Status != "OK" || len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, 0, nil, fmt.Errorf("no route in response (status %q)", resp.Status)
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, 0, nil, fmt.Errorf("element status %q", el.Status)
	}

	distanceKm := el.Distance.Value / 1000
	durationMin := el.Duration.Value / 60
	var inTraffic *float64
	if el.DurationInTraffic != nil {
		v := el.DurationInTraffic.Value / 60
		inTraffic = &v
	}
	return distanceKm, durationMin, inTraffic, nil
}

func (p *GoogleMapsProvider) getJSON(ctx context.Context, rawURL string, out any) error {
	return getJSON(ctx, p.client, rawURL, nil, out)
}

// OpenRouteProvider wraps the open routing vendor.
type OpenRouteProvider struct {
	apiKey  string
	baseURL string
	client  httpDoer
}

// NewOpenRouteProvider creates the open-routing vendor client.
func NewOpenRouteProvider(apiKey string, client *http.Client) *OpenRouteProvider {
	return &OpenRouteProvider{
		apiKey:  apiKey,
		baseURL: "https://api.openrouteservice.org/v2/directions/driving-car",
		client:  client,
	}
}

func (p *OpenRouteProvider) Name() string             { return "openroute" }
func (p *OpenRouteProvider) EmergencyFactor() float64 { return 0.75 }
func (p *OpenRouteProvider) BaseConfidence() float64  { return 85 }

type openRouteResponse struct {
	Features []struct {
		Properties struct {
			Summary struct {
				Distance float64 `json:"distance"` // meters
				Duration float64 `json:"duration"` // seconds
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}

// FetchRoute queries the directions endpoint. The vendor reports no traffic data.
func (p *OpenRouteProvider) FetchRoute(ctx context.Context, origin, dest models.Location) (float64, float64, *float64, error) {
	q := url.Values{}
	q.Set("start", fmt.Sprintf("%f,%f", origin.Lng, origin.Lat))
	q.Set("end", fmt.Sprintf("%f,%f", dest.Lng, dest.Lat))

	headers := map[string]string{"Authorization": p.apiKey}
	var resp openRouteResponse
	if err := getJSON(ctx, p.client, p.baseURL+"?"+q.Encode(), headers, &resp); err != nil {
		return 0, 0, nil, err
	}
	if len(resp.Features) == 0 {
		return 0, 0, nil, fmt.Errorf("no route in response")
	}
	summary := resp.Features[0].Properties.Summary
	return summary.Distance / 1000, summary.Duration / 60, nil, nil
}

// MapboxProvider wraps the second commercial vendor.
type MapboxProvider struct {
	apiKey  string
	baseURL string
	client  httpDoer
}

// NewMapboxProvider creates the Mapbox vendor client.
func NewMapboxProvider(apiKey string, client *http.Client) *MapboxProvider {
	return &MapboxProvider{
		apiKey:  apiKey,
		baseURL: "https://api.mapbox.com/directions/v5/mapbox/driving-traffic",
		client:  client,
	}
}

func (p *MapboxProvider) Name() string             { return "mapbox" }
func (p *MapboxProvider) EmergencyFactor() float64 { return 0.8 }
func (p *MapboxProvider) BaseConfidence() float64  { return 80 }

type mapboxResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance        float64  `json:"distance"` // meters
		Duration        float64  `json:"duration"` // seconds
		DurationTypical *float64 `json:"duration_typical"`
	} `json:"routes"`
}

// FetchRoute queries the driving-traffic profile. Duration already reflects
// live traffic; duration_typical is free-flow, so the pair is inverted
// relative to the Maps vendor.
func (p *MapboxProvider) FetchRoute(ctx context.Context, origin, dest models.Location) (float64, float64, *float64, error) {
	coords := fmt.Sprintf("%f,%f;%f,%f", origin.Lng, origin.Lat, dest.Lng, dest.Lat)
	q := url.Values{}
	q.Set("access_token", p.apiKey)
	q.Set("overview", "false")

	var resp mapboxResponse
	if err := getJSON(ctx, p.client, p.baseURL+"/"+coords+"?"+q.Encode(), nil, &resp); err != nil {
		return 0, 0, nil, err
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return 0, 0, nil, fmt.Errorf("no route in response (code %q)", resp.Code)
	}
	rt := resp.Routes[0]

	distanceKm := rt.Distance / 1000
	inTraffic := rt.Duration / 60
	durationMin := inTraffic
	if rt.DurationTypical != nil {
		durationMin = *rt.DurationTypical / 60
	}
	return distanceKm, durationMin, &inTraffic, nil
}

func getJSON(ctx context.Context, client httpDoer, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
