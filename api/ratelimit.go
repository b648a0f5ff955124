// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package api

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch-core/errors"
)

// fixedWindow is a per-key fixed-window counter. Entries reset when their
// window elapses; stale entries are pruned lazily on access.
type fixedWindow struct {
	name   string
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	start time.Time
	count int
}

func newFixedWindow(name string, limit int, window time.Duration) *fixedWindow {
	return &fixedWindow{
		name:    name,
		limit:   limit,
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]*windowEntry),
	}
}

// allow counts one request against the key. When the limit is hit it returns
// false and the seconds until the window resets.
func (w *fixedWindow) allow(key string) (bool, int) {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	if !ok || now.Sub(e.start) >= w.window {
		w.entries[key] = &windowEntry{start: now, count: 1}
		if len(w.entries) > 4096 {
			w.prune(now)
		}
		return true, 0
	}
	if e.count >= w.limit {
		retry := int(math.Ceil(e.start.Add(w.window).Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}
	e.count++
	return true, 0
}

// prune drops expired windows; caller holds the lock.
func (w *fixedWindow) prune(now time.Time) {
	for key, e := range w.entries {
		if now.Sub(e.start) >= w.window {
			delete(w.entries, key)
		}
	}
}

// rateLimit rejects requests over the limiter's budget with 429 and a retry
// hint. keyFn derives the bucket key from the request.
func (s *Server) rateLimit(w *fixedWindow, keyFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := w.allow(keyFn(c))
		if !ok {
			if s.metrics != nil {
				s.metrics.RecordRateLimited(w.name)
			}
			s.respondError(c, errors.RateLimited("api."+w.name, retryAfter))
			return
		}
		c.Next()
	}
}

// clientKey buckets by client address.
func clientKey(c *gin.Context) string {
	return c.ClientIP()
}

// credentialKey buckets login attempts by (address, email) so one address
// cannot lock out an account and one account cannot be probed broadly.
func credentialKey(c *gin.Context) string {
	var body struct {
		Email string `json:"email"`
	}
	// ShouldBindBodyWith buffers the body so the handler can bind it again.
	_ = c.ShouldBindBodyWithJSON(&body)
	return c.ClientIP() + "|" + strings.ToLower(strings.TrimSpace(body.Email))
}
