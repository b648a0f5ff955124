// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package api is the HTTP and websocket surface of the dispatch backend. It
// binds requests, enforces rate limits and maps service errors to statuses;
// all domain decisions live in the services it fronts.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dispatch-core/auth"
	"dispatch-core/authz"
	"dispatch-core/events"
	"dispatch-core/health"
	"dispatch-core/incident"
	"dispatch-core/metrics"
	"dispatch-core/store"
	"dispatch-core/subscription"
)

const (
	serverReadHeaderTimeout = 30 * time.Second
	serverReadTimeout       = 60 * time.Second
	serverWriteTimeout      = 60 * time.Second
	serverIdleTimeout       = 180 * time.Second

	defaultFeedLimit = 100
)

// Limits configures the fixed-window rate limiters. Zero values get the
// production defaults.
type Limits struct {
	Auth         int
	Write        int
	Upload       int
	Reset        int
	Window       time.Duration
	UploadWindow time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.Auth <= 0 {
		l.Auth = 5
	}
	if l.Write <= 0 {
		l.Write = 100
	}
	if l.Upload <= 0 {
		l.Upload = 20
	}
	if l.Reset <= 0 {
		l.Reset = 3
	}
	if l.Window <= 0 {
		l.Window = 15 * time.Minute
	}
	if l.UploadWindow <= 0 {
		l.UploadWindow = time.Hour
	}
	return l
}

// Deps carries everything the server fronts.
type Deps struct {
	Incidents      *incident.Service
	Auth           *auth.Service
	Gate           *authz.Gate
	Subscriptions  *subscription.Registry
	Bus            *events.Bus
	Hub            *events.Hub
	Store          store.Store
	Health         *health.Checker
	Metrics        *metrics.DispatchMetrics
	AllowedOrigins []string
	Limits         Limits
	Logger         *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	incidents *incident.Service
	auth      *auth.Service
	gate      *authz.Gate
	subs      *subscription.Registry
	bus       *events.Bus
	hub       *events.Hub
	store     store.Store
	checker   *health.Checker
	metrics   *metrics.DispatchMetrics
	logger    *zap.Logger

	allowedOrigins []string
	authLimiter    *fixedWindow
	writeLimiter   *fixedWindow
	uploadLimiter  *fixedWindow
	resetLimiter   *fixedWindow

	engine *gin.Engine
	httpd  *http.Server
}

// NewServer builds the router with all routes and middleware registered.
func NewServer(deps Deps) *Server {
	limits := deps.Limits.withDefaults()
	s := &Server{
		incidents:      deps.Incidents,
		auth:           deps.Auth,
		gate:           deps.Gate,
		subs:           deps.Subscriptions,
		bus:            deps.Bus,
		hub:            deps.Hub,
		store:          deps.Store,
		checker:        deps.Health,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		allowedOrigins: deps.AllowedOrigins,
		authLimiter:    newFixedWindow("auth", limits.Auth, limits.Window),
		writeLimiter:   newFixedWindow("write", limits.Write, limits.Window),
		uploadLimiter:  newFixedWindow("upload", limits.Upload, limits.UploadWindow),
		resetLimiter:   newFixedWindow("credential", limits.Reset, limits.UploadWindow),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.observe(), s.cors())
	s.routes(engine)
	s.engine = engine
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", gin.WrapF(s.hub.HandleConnection))

	api := r.Group("/api")

	// Public surface.
	api.POST("/auth/login",
		s.rateLimit(s.authLimiter, credentialKey), s.handleLogin)
	api.POST("/invitations/accept",
		s.rateLimit(s.resetLimiter, clientKey), s.handleAcceptInvitation)
	api.POST("/incidents/citizen",
		s.rateLimit(s.uploadLimiter, clientKey), s.handleCitizenReport)
	api.GET("/incidents/public", s.handlePublicFeed)
	api.POST("/incidents/:id/upvote",
		s.rateLimit(s.writeLimiter, clientKey), s.optionalAuth(), s.handleUpvote)
	api.POST("/incidents/:id/follow-up",
		s.rateLimit(s.writeLimiter, clientKey), s.handleFollowUp)
	api.POST("/incidents/:id/subscribe",
		s.rateLimit(s.writeLimiter, clientKey), s.handleSubscribe)
	api.DELETE("/incidents/:id/subscriptions/:subscriptionId",
		s.rateLimit(s.writeLimiter, clientKey), s.handleUnsubscribe)

	// Staff surface.
	staff := api.Group("", s.requireAuth())
	staff.GET("/incidents", s.handleListIncidents)
	staff.GET("/incidents/:id", s.handleGetIncident)
	staff.POST("/incidents",
		s.rateLimit(s.writeLimiter, clientKey), s.handleStaffCreate)
	staff.PUT("/incidents/:id",
		s.rateLimit(s.writeLimiter, clientKey), s.handlePatchIncident)
	staff.PUT("/incidents/:id/assign",
		s.rateLimit(s.writeLimiter, clientKey), s.handleAssign)
	staff.PUT("/incidents/:id/status",
		s.rateLimit(s.writeLimiter, clientKey), s.handleUpdateStatus)
	staff.POST("/incidents/:id/escalate",
		s.rateLimit(s.writeLimiter, clientKey), s.handleEscalate)
	staff.POST("/incidents/:id/progress-update",
		s.rateLimit(s.writeLimiter, clientKey), s.handleProgressUpdate)
	staff.POST("/incidents/:id/resolve",
		s.rateLimit(s.writeLimiter, clientKey), s.handleResolve)
	staff.POST("/invitations",
		s.rateLimit(s.writeLimiter, clientKey), s.handleCreateInvitation)
	staff.DELETE("/invitations/:id",
		s.rateLimit(s.writeLimiter, clientKey), s.handleRevokeInvitation)
	staff.GET("/notifications", s.handleListNotifications)
	staff.PUT("/notifications/:id/read", s.handleMarkNotificationRead)
}

// Router exposes the configured engine for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(port int) error {
	s.httpd = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
	s.logger.Info("API server listening", zap.Int("port", port))
	if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes live connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpd != nil {
		err = s.httpd.Shutdown(ctx)
	}
	s.hub.Close()
	return err
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	components := s.checker.ComponentStatuses()
	if !s.checker.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}
