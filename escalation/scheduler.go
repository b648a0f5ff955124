// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package escalation runs the periodic auto-escalation sweep. Rules are
// static configuration; the actual state change goes through the incident
// service, which re-reads the incident so a racing manual escalation wins.
package escalation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dispatch-core/models"
	"dispatch-core/store"
)

// Escalator is the incident-service hook the scheduler drives.
type Escalator interface {
	AutoEscalate(ctx context.Context, incidentID string, rule models.EscalationRule) error
}

// DefaultRules ships the baseline threshold table, in minutes.
func DefaultRules() []models.EscalationRule {
	return []models.EscalationRule{
		{Priority: models.PriorityCritical, FromStatus: models.StatusReported, ThresholdMinutes: 15, EscalateToRole: models.RoleStationAdmin},
		{Priority: models.PriorityHigh, FromStatus: models.StatusReported, ThresholdMinutes: 30, EscalateToRole: models.RoleStationAdmin},
		{Priority: models.PriorityCritical, FromStatus: models.StatusAssigned, ThresholdMinutes: 20, EscalateToRole: models.RoleStationAdmin},
		{Priority: models.PriorityHigh, FromStatus: models.StatusAssigned, ThresholdMinutes: 45, EscalateToRole: models.RoleStationAdmin},
		{Priority: models.PriorityMedium, FromStatus: models.StatusAssigned, ThresholdMinutes: 120, EscalateToRole: models.RoleStationAdmin},
		{Priority: models.PriorityCritical, FromStatus: models.StatusInProgress, ThresholdMinutes: 60, EscalateToRole: models.RoleStationAdmin},
		{Priority: models.PriorityHigh, FromStatus: models.StatusInProgress, ThresholdMinutes: 120, EscalateToRole: models.RoleStationAdmin},
		{Priority: models.PriorityMedium, FromStatus: models.StatusInProgress, ThresholdMinutes: 240, EscalateToRole: models.RoleStationAdmin},
	}
}

// Config tunes the scheduler loop.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// TickTimeout bounds one sweep.
	TickTimeout time.Duration
	// Lookback limits the sweep to recently created incidents.
	Lookback time.Duration
}

// Scheduler is the cooperative background task that applies escalation rules.
type Scheduler struct {
	store     store.Store
	escalator Escalator
	rules     []models.EscalationRule
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates the scheduler. Zero config fields get the defaults
// (5m interval, 60s tick bound, 24h lookback); nil rules get DefaultRules.
func NewScheduler(st store.Store, esc Escalator, rules []models.EscalationRule, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &Scheduler{
		store:     st,
		escalator: esc,
		rules:     rules,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to shut down; in-flight work of
// the current tick finishes before Stop returns.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("Escalation scheduler started",
			zap.Duration("interval", s.cfg.Interval))
		for {
			select {
			case <-ticker.C:
				s.Tick(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop signals shutdown and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.logger.Info("Escalation scheduler stopped")
}

// Tick runs one bounded sweep. Exported so operators can trigger it manually.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.Lookback)
	incidents, err := s.store.ListIncidents(ctx, store.IncidentFilter{
		Statuses: []models.IncidentStatus{
			models.StatusReported,
			models.StatusAssigned,
			models.StatusInProgress,
		},
		CreatedAfter: &cutoff,
	})
	if err != nil {
		s.logger.Warn("Escalation sweep failed to list incidents", zap.Error(err))
		return
	}

	var applied int
	for _, inc := range incidents {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.logger.Warn("Escalation sweep timed out",
				zap.Int("applied", applied), zap.Int("total", len(incidents)))
			return
		default:
		}

		rule, ok := s.matchRule(inc)
		if !ok {
			continue
		}
		if err := s.escalator.AutoEscalate(ctx, inc.ID, rule); err != nil {
			s.logger.Warn("Auto-escalation failed",
				zap.String("incident", inc.ID), zap.Error(err))
			continue
		}
		applied++
	}
	if applied > 0 {
		s.logger.Info("Escalation sweep applied rules", zap.Int("count", applied))
	}
}

// matchRule finds the rule for the incident's (status, priority) pair whose
// threshold has elapsed. The clock is the latest of creation, assignment and
// status update.
func (s *Scheduler) matchRule(inc *models.Incident) (models.EscalationRule, bool) {
	elapsed := s.now().Sub(inc.EscalationClock())
	for _, rule := range s.rules {
		if rule.FromStatus != inc.Status || rule.Priority != inc.Priority {
			continue
		}
		if elapsed >= time.Duration(rule.ThresholdMinutes)*time.Minute {
			return rule, true
		}
	}
	return models.EscalationRule{}, false
}
