// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package health tracks component liveness for the /healthz and /readyz
// endpoints.
package health

import (
	"sync"
	"time"
)

// ComponentStatus is the last known state of one component.
type ComponentStatus struct {
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"lastChecked"`
	Message     string    `json:"message"`
}

// Checker aggregates component statuses. Components report in via
// UpdateComponentStatus; readiness requires all of them healthy.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*ComponentStatus
}

// NewChecker registers the given components as not-yet-ready.
func NewChecker(components ...string) *Checker {
	c := &Checker{components: make(map[string]*ComponentStatus, len(components))}
	for _, name := range components {
		c.components[name] = &ComponentStatus{
			Healthy:     false,
			LastChecked: time.Now().UTC(),
			Message:     "not initialized",
		}
	}
	return c
}

// UpdateComponentStatus records the state of one component.
func (c *Checker) UpdateComponentStatus(component string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.components[component]
	if !ok {
		status = &ComponentStatus{}
		c.components[component] = status
	}
	status.Healthy = healthy
	status.LastChecked = time.Now().UTC()
	status.Message = message
}

// ComponentStatuses returns a copy of every component status.
func (c *Checker) ComponentStatuses() map[string]ComponentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ComponentStatus, len(c.components))
	for name, status := range c.components {
		out[name] = *status
	}
	return out
}

// Ready reports whether every registered component is healthy.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, status := range c.components {
		if !status.Healthy {
			return false
		}
	}
	return true
}
