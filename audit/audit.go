// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package audit appends versioned audit records for incident and auth
// mutations. Recording is asynchronous and best-effort; a full buffer drops
// the record rather than blocking the mutation.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispatch-core/store"
)

// EnvelopeVersion is bumped when the payload layout changes.
const EnvelopeVersion = 1

// Envelope wraps every audit payload so readers can dispatch on version and kind.
type Envelope struct {
	V       int             `json:"v"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Recorder buffers audit records and writes them to the store in the
// background. Close drains the buffer.
type Recorder struct {
	store  store.Store
	logger *zap.Logger

	records chan *store.AuditEntry
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewRecorder starts the background writer. bufferSize <= 0 gets a default.
func NewRecorder(st store.Store, bufferSize int, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		store:   st,
		logger:  logger,
		records: make(chan *store.AuditEntry, bufferSize),
		stop:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.process()
	return r
}

// Record enqueues one audit entry. The payload is marshalled into the
// versioned envelope; marshal failures degrade to an envelope without payload.
func (r *Recorder) Record(actorID, action, entityType, entityID string, payload any) {
	env := Envelope{V: EnvelopeVersion, Kind: action}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			env.Payload = raw
		} else {
			r.logger.Warn("Failed to marshal audit payload",
				zap.String("action", action), zap.Error(err))
		}
	}
	details, err := json.Marshal(env)
	if err != nil {
		return
	}

	entry := &store.AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}

	select {
	case r.records <- entry:
	default:
		r.logger.Warn("Audit buffer full, dropping record", zap.String("action", action))
	}
}

func (r *Recorder) process() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.records:
			r.write(entry)
		case <-r.stop:
			for {
				select {
				case entry := <-r.records:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *store.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		r.logger.Warn("Failed to append audit record",
			zap.String("action", entry.Action), zap.Error(err))
	}
}

// Close drains buffered records and stops the writer.
func (r *Recorder) Close() {
	close(r.stop)
	r.wg.Wait()
}

// DecodeEnvelope parses the details column back into the envelope.
func DecodeEnvelope(details []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(details, &env)
	return env, err
}
