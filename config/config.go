// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads service configuration from the environment. Every knob has a
// default; invalid values log a warning and keep the default rather than aborting.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the dispatch backend
type Config struct {
	// HTTP surface
	Port           int
	FrontendURL    string
	AllowedOrigins []string

	// Auth
	JWTSecret       string
	TokenTTL        time.Duration
	AnonymousUserID string

	// Routing providers (keys empty = provider disabled)
	GoogleMapsAPIKey string
	OpenRouteAPIKey  string
	MapboxAPIKey     string
	ProviderTimeout  time.Duration // per-provider deadline
	SelectionBudget  time.Duration // total budget for one station selection

	// Optional shared route cache
	RedisURL      string
	RouteCacheTTL time.Duration

	// Escalation scheduler
	EscalationInterval time.Duration
	EscalationTickMax  time.Duration
	EscalationLookback time.Duration

	// Live channel
	PingInterval   time.Duration
	SendBufferSize int

	// Message transports (consumed by the concrete MessageSender wiring)
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMSAccountID string
	SMSAuthToken string
	FCMServerKey string

	// Operational
	LogLevel       string
	MetricsEnabled bool

	// Rate limits (requests per window)
	AuthRateLimit   int
	WriteRateLimit  int
	UploadRateLimit int
	ResetRateLimit  int
	RateWindow      time.Duration
	UploadWindow    time.Duration
}

// Load initializes the configuration from environment variables
func Load(log *zap.Logger) *Config {
	v := viper.New()
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		Port:               v.GetInt("PORT"),
		FrontendURL:        v.GetString("FRONTEND_URL"),
		AllowedOrigins:     splitList(v.GetString("ALLOWED_ORIGINS")),
		JWTSecret:          v.GetString("JWT_SECRET"),
		TokenTTL:           v.GetDuration("TOKEN_TTL"),
		AnonymousUserID:    v.GetString("ANONYMOUS_USER_ID"),
		GoogleMapsAPIKey:   v.GetString("GOOGLE_MAPS_API_KEY"),
		OpenRouteAPIKey:    v.GetString("OPENROUTE_API_KEY"),
		MapboxAPIKey:       v.GetString("MAPBOX_API_KEY"),
		ProviderTimeout:    v.GetDuration("ROUTING_PROVIDER_TIMEOUT"),
		SelectionBudget:    v.GetDuration("ROUTING_SELECTION_BUDGET"),
		RedisURL:           v.GetString("REDIS_URL"),
		RouteCacheTTL:      v.GetDuration("ROUTE_CACHE_TTL"),
		EscalationInterval: v.GetDuration("ESCALATION_INTERVAL"),
		EscalationTickMax:  v.GetDuration("ESCALATION_TICK_MAX"),
		EscalationLookback: v.GetDuration("ESCALATION_LOOKBACK"),
		PingInterval:       v.GetDuration("WS_PING_INTERVAL"),
		SendBufferSize:     v.GetInt("WS_SEND_BUFFER"),
		SMTPHost:           v.GetString("SMTP_HOST"),
		SMTPPort:           v.GetInt("SMTP_PORT"),
		SMTPUser:           v.GetString("SMTP_USER"),
		SMTPPassword:       v.GetString("SMTP_PASSWORD"),
		SMSAccountID:       v.GetString("SMS_ACCOUNT_ID"),
		SMSAuthToken:       v.GetString("SMS_AUTH_TOKEN"),
		FCMServerKey:       v.GetString("FCM_SERVER_KEY"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		MetricsEnabled:     v.GetBool("METRICS_ENABLED"),
		AuthRateLimit:      v.GetInt("AUTH_RATE_LIMIT"),
		WriteRateLimit:     v.GetInt("WRITE_RATE_LIMIT"),
		UploadRateLimit:    v.GetInt("UPLOAD_RATE_LIMIT"),
		ResetRateLimit:     v.GetInt("RESET_RATE_LIMIT"),
		RateWindow:         v.GetDuration("RATE_WINDOW"),
		UploadWindow:       v.GetDuration("UPLOAD_WINDOW"),
	}

	cfg.validate(log)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("TOKEN_TTL", 24*time.Hour)
	v.SetDefault("ANONYMOUS_USER_ID", "anonymous")
	v.SetDefault("ROUTING_PROVIDER_TIMEOUT", 5*time.Second)
	v.SetDefault("ROUTING_SELECTION_BUDGET", 8*time.Second)
	v.SetDefault("ROUTE_CACHE_TTL", 2*time.Minute)
	v.SetDefault("ESCALATION_INTERVAL", 5*time.Minute)
	v.SetDefault("ESCALATION_TICK_MAX", 60*time.Second)
	v.SetDefault("ESCALATION_LOOKBACK", 24*time.Hour)
	v.SetDefault("WS_PING_INTERVAL", 30*time.Second)
	v.SetDefault("WS_SEND_BUFFER", 32)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("AUTH_RATE_LIMIT", 5)
	v.SetDefault("WRITE_RATE_LIMIT", 100)
	v.SetDefault("UPLOAD_RATE_LIMIT", 20)
	v.SetDefault("RESET_RATE_LIMIT", 3)
	v.SetDefault("RATE_WINDOW", 15*time.Minute)
	v.SetDefault("UPLOAD_WINDOW", time.Hour)
}

// validate fixes up out-of-range values and warns about risky settings.
func (c *Config) validate(log *zap.Logger) {
	if c.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set; authenticated endpoints will reject all tokens")
	}
	if len(c.AllowedOrigins) == 0 && c.FrontendURL != "" {
		// Without an explicit allow-list the frontend is the only trusted origin.
		c.AllowedOrigins = []string{c.FrontendURL}
	}
	if c.ProviderTimeout <= 0 || c.ProviderTimeout > 30*time.Second {
		log.Warn("Invalid ROUTING_PROVIDER_TIMEOUT, using 5s",
			zap.Duration("value", c.ProviderTimeout))
		c.ProviderTimeout = 5 * time.Second
	}
	if c.SelectionBudget < c.ProviderTimeout {
		log.Warn("ROUTING_SELECTION_BUDGET below provider timeout, using 8s",
			zap.Duration("value", c.SelectionBudget))
		c.SelectionBudget = 8 * time.Second
	}
	if c.EscalationInterval < time.Minute {
		log.Warn("ESCALATION_INTERVAL below 1m, using 5m",
			zap.Duration("value", c.EscalationInterval))
		c.EscalationInterval = 5 * time.Minute
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 32
	}
	if !hasProvider(c) {
		log.Warn("No routing provider keys configured; only the haversine fallback will be used")
	}
}

func hasProvider(c *Config) bool {
	return c.GoogleMapsAPIKey != "" || c.OpenRouteAPIKey != "" || c.MapboxAPIKey != ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
