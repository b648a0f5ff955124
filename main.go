// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// dispatch-core is the emergency-incident intake and dispatch backend: citizen
// reports come in over HTTP, get classified and routed to the optimal
// responder station, and flow through an escalating lifecycle with live
// notifications to staff and subscribed citizens.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dispatch-core/api"
	"dispatch-core/audit"
	"dispatch-core/auth"
	"dispatch-core/authz"
	"dispatch-core/classifier"
	"dispatch-core/config"
	"dispatch-core/escalation"
	"dispatch-core/events"
	"dispatch-core/health"
	"dispatch-core/incident"
	"dispatch-core/metrics"
	"dispatch-core/notify"
	"dispatch-core/routing"
	"dispatch-core/store"
	"dispatch-core/subscription"
)

const shutdownGrace = 20 * time.Second

func main() {
	_ = godotenv.Load()

	logger := buildLogger(os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	cfg := config.Load(logger)
	var m *metrics.DispatchMetrics
	if cfg.MetricsEnabled {
		m = metrics.NewDispatchMetrics()
	}
	checker := health.NewChecker("store", "scheduler")

	st := store.NewMemoryStore()
	checker.UpdateComponentStatus("store", true, "in-memory store ready")

	recorder := audit.NewRecorder(st, 0, logger)

	var sender notify.MessageSender = notify.NewLogSender(logger)
	if m != nil {
		sender = notify.InstrumentSender(sender, m)
	}
	bus := events.NewBus(st, sender, logger)

	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.TokenTTL, recorder, logger)
	hub := events.NewHub(bus, authSvc, events.HubConfig{
		PingInterval:   cfg.PingInterval,
		SendBuffer:     cfg.SendBufferSize,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	engine := routing.NewEngine(buildProviders(cfg), buildRouteCache(cfg, logger), cfg.ProviderTimeout, logger)
	selector := routing.NewSelector(engine, st, cfg.SelectionBudget, logger)

	gate := authz.NewGate()
	subs := subscription.NewRegistry(st, logger)
	incidents := incident.NewService(st, classifier.New(), selector, gate, bus, subs, recorder, logger)
	incidents.SetAnonymousUserID(cfg.AnonymousUserID)
	if m != nil {
		engine.SetMetrics(m)
		selector.SetMetrics(m)
		incidents.SetMetrics(m)
	}

	scheduler := escalation.NewScheduler(st, incidents, escalation.DefaultRules(), escalation.Config{
		Interval:    cfg.EscalationInterval,
		TickTimeout: cfg.EscalationTickMax,
		Lookback:    cfg.EscalationLookback,
	}, logger)
	scheduler.Start()
	checker.UpdateComponentStatus("scheduler", true, "running")

	srv := api.NewServer(api.Deps{
		Incidents:      incidents,
		Auth:           authSvc,
		Gate:           gate,
		Subscriptions:  subs,
		Bus:            bus,
		Hub:            hub,
		Store:          st,
		Health:         checker,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins,
		Limits: api.Limits{
			Auth:         cfg.AuthRateLimit,
			Write:        cfg.WriteRateLimit,
			Upload:       cfg.UploadRateLimit,
			Reset:        cfg.ResetRateLimit,
			Window:       cfg.RateWindow,
			UploadWindow: cfg.UploadWindow,
		},
		Logger: logger,
	})

	// Sample the live-connection gauge; the hub itself stays metrics-free.
	gaugeStop := make(chan struct{})
	if m != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.LiveConnections.Set(float64(bus.ConnectedUsers()))
				case <-gaugeStop:
					return
				}
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(cfg.Port) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	scheduler.Stop()
	close(gaugeStop)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	recorder.Close()
	logger.Info("Shutdown complete")
}

// buildProviders returns the routing vendor chain in preference order; vendors
// without a key are skipped.
func buildProviders(cfg *config.Config) []routing.Provider {
	client := &http.Client{Timeout: cfg.ProviderTimeout}
	var providers []routing.Provider
	if cfg.GoogleMapsAPIKey != "" {
		providers = append(providers, routing.NewGoogleMapsProvider(cfg.GoogleMapsAPIKey, client))
	}
	if cfg.OpenRouteAPIKey != "" {
		providers = append(providers, routing.NewOpenRouteProvider(cfg.OpenRouteAPIKey, client))
	}
	if cfg.MapboxAPIKey != "" {
		providers = append(providers, routing.NewMapboxProvider(cfg.MapboxAPIKey, client))
	}
	return providers
}

// buildRouteCache prefers the shared Redis cache when configured and falls
// back to the in-process one.
func buildRouteCache(cfg *config.Config, logger *zap.Logger) routing.Cache {
	if cfg.RedisURL != "" {
		cache, err := routing.NewRedisCache(cfg.RedisURL, cfg.RouteCacheTTL)
		if err == nil {
			logger.Info("Using shared route cache", zap.String("url", cfg.RedisURL))
			return cache
		}
		logger.Warn("Shared route cache unavailable, using in-process cache", zap.Error(err))
	}
	return routing.NewMemoryCache(cfg.RouteCacheTTL)
}

func buildLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil && level != "" {
		lvl = parsed
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
