// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/pkg/errutil"
)

// Default response delay range for reset requests, known email or not.
const (
	DefaultJitterMin = 150 * time.Millisecond
	DefaultJitterMax = 400 * time.Millisecond
)

// PasswordResetService handles the password reset flow.
type PasswordResetService struct {
	users  UserRepository
	resets PasswordResetRepository
	tokens *TokenService
	tx     Transactor
	hasher SlowHash
	mailer Mailer

	ttl       time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger

	inflight sync.WaitGroup
}

// ResetServiceOption configures a PasswordResetService.
type ResetServiceOption func(*PasswordResetService)

// WithResetTTL overrides how long a reset code stays usable.
func WithResetTTL(ttl time.Duration) ResetServiceOption {
	return func(s *PasswordResetService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithJitter sets the response delay range of RequestReset.
func WithJitter(minDelay, maxDelay time.Duration) ResetServiceOption {
	return func(s *PasswordResetService) {
		if minDelay >= 0 && maxDelay >= minDelay {
			s.jitterMin, s.jitterMax = minDelay, maxDelay
		}
	}
}

// WithResetClock sets the time source used for expiry decisions.
func WithResetClock(now func() time.Time) ResetServiceOption {
	return func(s *PasswordResetService) { s.now = now }
}

// WithResetSleep replaces the delay function, mainly for tests.
func WithResetSleep(sleep func(ctx context.Context, d time.Duration) error) ResetServiceOption {
	return func(s *PasswordResetService) { s.sleep = sleep }
}

// WithResetLogger sets the logger used for mail failures.
func WithResetLogger(logger *slog.Logger) ResetServiceOption {
	return func(s *PasswordResetService) { s.logger = logger }
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(
	users UserRepository,
	resets PasswordResetRepository,
	tokens *TokenService,
	tx Transactor,
	hasher SlowHash,
	mailer Mailer,
	opts ...ResetServiceOption,
) (*PasswordResetService, error) {
	if users == nil || resets == nil || tokens == nil || tx == nil || hasher == nil || mailer == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("all dependencies are required")
	}
	s := &PasswordResetService{
		users:     users,
		resets:    resets,
		tokens:    tokens,
		tx:        tx,
		hasher:    hasher,
		mailer:    mailer,
		ttl:       DefaultResetTTL,
		jitterMin: DefaultJitterMin,
		jitterMax: DefaultJitterMax,
		now:       time.Now,
		sleep:     sleepContext,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestReset starts a reset for email. For a known user it stores a
// record and emails the code in the background; mail failures are logged
// only. For an unknown email nothing is written and a synthetic summary of
// the same shape is returned. Either way the call returns no earlier than
// one jittered delay after it started.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (*ResetSummary, error) {
	start := s.now()
	delay := s.drawDelay()

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if err := s.waitUntil(ctx, start, delay); err != nil {
				return nil, err
			}
			return s.syntheticSummary(normalized), nil
		}
		return nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	code, hash, err := GenerateOneTimeCode()
	if err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").Wrap(err)
	}

	now := s.now().UTC()
	reset := &PasswordReset{
		ID:        ulid.Make(),
		UserID:    user.ID,
		Email:     user.Email,
		CodeHash:  hash,
		IsValid:   true,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "create reset").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.dispatch(ctx, user, reset, code)
	if err := s.waitUntil(ctx, start, delay); err != nil {
		return nil, err
	}
	return reset.Summary(), nil
}

// drawDelay picks a response delay uniformly from [jitterMin, jitterMax].
func (s *PasswordResetService) drawDelay() time.Duration {
	delay := s.jitterMin
	if span := s.jitterMax - s.jitterMin; span > 0 {
		delay += rand.N(span + 1) //nolint:gosec // timing jitter, not a secret
	}
	return delay
}

// waitUntil sleeps for whatever part of delay has not elapsed since start.
func (s *PasswordResetService) waitUntil(ctx context.Context, start time.Time, delay time.Duration) error {
	remaining := max(delay-s.now().Sub(start), 0)
	if err := s.sleep(ctx, remaining); err != nil {
		return oops.Code("RESET_REQUEST_CANCELLED").Wrap(err)
	}
	return nil
}

func (s *PasswordResetService) syntheticSummary(email string) *ResetSummary {
	now := s.now().UTC()
	return &ResetSummary{
		ID:        ulid.Make(),
		Email:     email,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
}

func (s *PasswordResetService) dispatch(ctx context.Context, user *User, reset *PasswordReset, code string) {
	to, name := recipient(user)
	msg := Message{
		To:      to,
		Name:    name,
		Subject: "Password reset",
		Body: fmt.Sprintf(
			"Hi %s,\n\nUse the following details to reset your password.\n\nReset ID: %s\nCode: %s\n\nThis code expires at %s.\n",
			user.FirstName, reset.ID, code, reset.ExpiresAt.Format(time.RFC1123),
		),
	}

	sendCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.mailer.Send(sendCtx, msg); err != nil {
			errutil.LogErrorContext(sendCtx, s.logger, "password reset email failed",
				oops.Code("RESET_MAIL_FAILED").
					With("reset_id", reset.ID.String()).
					With("user_id", user.ID.String()).
					Wrap(err))
		}
	}()
}

// Drain blocks until every background email has been attempted.
func (s *PasswordResetService) Drain() {
	s.inflight.Wait()
}

// ConfirmReset sets a new password using a reset code. In one transaction it
// consumes the record, replaces the digest and revokes all tokens of the
// user. Any unusable or already consumed record yields ErrNotFound.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, id ulid.ULID, email, code, newPassword string) (*User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if newPassword == "" || code == "" {
		return nil, oops.Code("RESET_INVALID_INPUT").Wrapf(ErrInvalidInput, "code and new password are required")
	}

	reset, err := s.resets.FindUsable(ctx, id, normalized, HashOneTimeCode(code), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("RESET_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "find reset").
			With("reset_id", id.String()).
			Wrap(err)
	}

	digest, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.users.Lock(ctx, reset.UserID); err != nil {
			return err
		}
		if err := s.resets.Consume(ctx, reset.ID, s.now().UTC()); err != nil {
			return err
		}
		if err := s.users.UpdatePassword(ctx, reset.UserID, digest); err != nil {
			return err
		}
		_, err := s.tokens.InvalidateAll(ctx, reset.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("RESET_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("reset_id", id.String()).
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, reset.UserID)
	if err != nil {
		return nil, oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "reload user").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}
	return user, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
