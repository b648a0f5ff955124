// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package auth handles credentials: password login, bearer-token minting and
// validation, and the staff invitation lifecycle.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"dispatch-core/audit"
	"dispatch-core/errors"
	"dispatch-core/models"
	"dispatch-core/store"
)

// DefaultTokenTTL is the bearer-token lifetime.
const DefaultTokenTTL = 24 * time.Hour

// Service implements authentication and invitation management.
type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	audit  *audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the auth service. rec may be nil in tests.
func NewService(st store.Store, secret string, ttl time.Duration, rec *audit.Recorder, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		store:  st,
		secret: []byte(secret),
		ttl:    ttl,
		audit:  rec,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HashPassword derives the stored password hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login verifies the credentials and mints a bearer token. Unknown emails,
// wrong passwords and inactive accounts all yield the same unauthenticated
// error so the response does not leak which accounts exist.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	const op = "auth.Login"
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, errors.Invalid(op, "email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, errors.Unauthenticated(op, "invalid credentials")
	}
	if !user.IsActive {
		return "", nil, errors.Unauthenticated(op, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("Login rejected", zap.String("email", email))
		return "", nil, errors.Unauthenticated(op, "invalid credentials")
	}

	token, err := s.mint(user)
	if err != nil {
		return "", nil, errors.Internal(op, err)
	}

	s.record(user.ID, "auth.login", user.ID, nil)
	s.logger.Info("User logged in", zap.String("user", user.ID), zap.String("role", string(user.Role)))
	return token, user, nil
}

func (s *Service) mint(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	}
	if user.OrganisationID != "" {
		claims["org"] = user.OrganisationID
	}
	if user.StationID != "" {
		claims["station"] = user.StationID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a bearer token into a Principal. Implements the live
// channel's token validator.
func (s *Service) Validate(token string) (models.Principal, error) {
	const op = "auth.Validate"

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return models.Principal{}, errors.Unauthenticated(op, "invalid or expired token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.Principal{}, errors.Unauthenticated(op, "invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	p := models.Principal{UserID: sub, Role: models.Role(role)}
	if org, ok := claims["org"].(string); ok {
		p.OrganisationID = org
	}
	if station, ok := claims["station"].(string); ok {
		p.StationID = station
	}
	if p.UserID == "" || !p.Role.Valid() {
		return models.Principal{}, errors.Unauthenticated(op, "invalid token claims")
	}
	return p, nil
}

func (s *Service) record(actorID, action, entityID string, payload any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(actorID, action, "user", entityID, payload)
}
