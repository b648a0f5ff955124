// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package notify abstracts outbound citizen-facing delivery. Real FCM, SMTP
// and SMS gateways plug in behind MessageSender; the shipped sender logs.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dispatch-core/models"
)

// MessageSender delivers one message over one channel. Implementations must
// be safe for concurrent use.
type MessageSender interface {
	Push(ctx context.Context, token, title, body string) error
	Email(ctx context.Context, to, subject, body string) error
	SMS(ctx context.Context, phone, body string) error
}

// LogSender writes every outbound message to the structured log instead of a
// real gateway. Useful for development and as the default wiring.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Push(ctx context.Context, token, title, body string) error {
	s.logger.Info("Push notification sent",
		zap.String("token", truncateToken(token)),
		zap.String("title", title))
	return nil
}

func (s *LogSender) Email(ctx context.Context, to, subject, body string) error {
	s.logger.Info("Email sent",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("bodyBytes", len(body)))
	return nil
}

func (s *LogSender) SMS(ctx context.Context, phone, body string) error {
	s.logger.Info("SMS sent",
		zap.String("phone", phone),
		zap.Int("bodyBytes", len(body)))
	return nil
}

// DeliveryRecorder counts outbound delivery attempts per channel. Implemented
// by metrics.DispatchMetrics.
type DeliveryRecorder interface {
	RecordNotification(channel, outcome string)
}

type instrumentedSender struct {
	next MessageSender
	rec  DeliveryRecorder
}

// InstrumentSender wraps a sender so every delivery attempt is counted.
func InstrumentSender(next MessageSender, rec DeliveryRecorder) MessageSender {
	return &instrumentedSender{next: next, rec: rec}
}

func (s *instrumentedSender) Push(ctx context.Context, token, title, body string) error {
	err := s.next.Push(ctx, token, title, body)
	s.rec.RecordNotification("push", outcome(err))
	return err
}

func (s *instrumentedSender) Email(ctx context.Context, to, subject, body string) error {
	err := s.next.Email(ctx, to, subject, body)
	s.rec.RecordNotification("email", outcome(err))
	return err
}

func (s *instrumentedSender) SMS(ctx context.Context, phone, body string) error {
	err := s.next.SMS(ctx, phone, body)
	s.rec.RecordNotification("sms", outcome(err))
	return err
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func truncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

// Resolution carries everything the closing email needs beyond the incident itself.
type Resolution struct {
	Summary          string
	ActionsTaken     []string
	TimeToResolution string
	ResolverName     string
	ResolvedAt       time.Time
}

// ResolutionEmail renders the subject and body for the incident-resolved
// message sent to citizen subscribers.
func ResolutionEmail(inc *models.Incident, res Resolution) (subject, body string) {
	subject = fmt.Sprintf("Incident resolved: %s", inc.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "Good news! The incident you reported or followed has been resolved.\n\n")
	fmt.Fprintf(&b, "Incident: %s\n", inc.Title)
	fmt.Fprintf(&b, "Resolved by: %s\n", res.ResolverName)
	if !res.ResolvedAt.IsZero() {
		fmt.Fprintf(&b, "Resolved at: %s\n", res.ResolvedAt.UTC().Format(time.RFC1123))
	}
	if res.TimeToResolution != "" {
		fmt.Fprintf(&b, "Time to resolution: %s\n", res.TimeToResolution)
	}
	if res.Summary != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", res.Summary)
	}
	if len(res.ActionsTaken) > 0 {
		b.WriteString("\nActions taken:\n")
		for _, action := range res.ActionsTaken {
			fmt.Fprintf(&b, "  - %s\n", action)
		}
	}
	b.WriteString("\nThank you for helping keep your community safe.\n")
	return subject, b.String()
}

// StatusUpdateMessage renders the short body used for push and SMS updates.
func StatusUpdateMessage(inc *models.Incident, message string) string {
	if message == "" {
		return fmt.Sprintf("Update on incident %q: status is now %s.", inc.Title, inc.Status)
	}
	return fmt.Sprintf("Update on incident %q: %s", inc.Title, message)
}
