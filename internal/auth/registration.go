// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RegisterInput is a new account request.
type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// RegistrationService creates accounts and confirms their email addresses.
type RegistrationService struct {
	users         UserRepository
	verifications VerificationRepository
	tx            Transactor
	hasher        SlowHash
	mailer        Mailer
	ttl           time.Duration
	now           func() time.Time
}

// RegistrationOption configures a RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithVerificationTTL overrides how long a verification code stays usable.
func WithVerificationTTL(ttl time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRegistrationClock sets the time source used for expiry decisions.
func WithRegistrationClock(now func() time.Time) RegistrationOption {
	return func(s *RegistrationService) { s.now = now }
}

// NewRegistrationService creates a RegistrationService.
func NewRegistrationService(
	users UserRepository,
	verifications VerificationRepository,
	tx Transactor,
	hasher SlowHash,
	mailer Mailer,
	opts ...RegistrationOption,
) (*RegistrationService, error) {
	if users == nil || verifications == nil || tx == nil || hasher == nil || mailer == nil {
		return nil, oops.Code("REGISTRATION_SERVICE_INVALID").Errorf("all dependencies are required")
	}
	s := &RegistrationService{
		users:         users,
		verifications: verifications,
		tx:            tx,
		hasher:        hasher,
		mailer:        mailer,
		ttl:           DefaultVerificationTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an unverified user and emails a verification code.
// If the email cannot be sent the account still exists; the created user is
// returned together with ErrMailUndelivered.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if in.Password == "" {
		return nil, oops.Code("REGISTRATION_INVALID_INPUT").Wrapf(ErrInvalidInput, "password is required")
	}
	// Validate before paying for the hash.
	if _, err := validateProfile(in.Email, in.FirstName, in.LastName); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, oops.Code("REGISTRATION_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	user, err := NewUser(in.Email, in.FirstName, in.LastName, digest)
	if err != nil {
		return nil, err
	}

	code, hash, err := GenerateOneTimeCode()
	if err != nil {
		return nil, oops.Code("REGISTRATION_FAILED").Wrap(err)
	}
	now := s.now().UTC()
	verification := &EmailVerification{
		ID:        ulid.Make(),
		UserID:    user.ID,
		Email:     user.Email,
		CodeHash:  hash,
		IsValid:   true,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.verifications.Create(ctx, verification)
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code("REGISTRATION_EMAIL_TAKEN").
				With("email", user.Email).
				Wrap(ErrEmailTaken)
		}
		return nil, oops.Code("REGISTRATION_FAILED").
			With("email", user.Email).
			Wrap(err)
	}
	user.PasswordDigest = ""

	to, name := recipient(user)
	msg := Message{
		To:      to,
		Name:    name,
		Subject: "Email verification",
		Body: fmt.Sprintf(
			"Hey there %s,\n\nThank you for signing up.\n\nVerification ID: %s\nCode: %s\n",
			user.FirstName, verification.ID, code,
		),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return user, oops.Code("REGISTRATION_MAIL_FAILED").
			With("user_id", user.ID.String()).
			With("cause", err.Error()).
			Wrap(ErrMailUndelivered)
	}
	return user, nil
}

// VerifyEmail consumes a verification code and marks the owner verified.
func (s *RegistrationService) VerifyEmail(ctx context.Context, id ulid.ULID, code string) (*User, error) {
	if code == "" {
		return nil, oops.Code("VERIFICATION_INVALID_INPUT").Wrapf(ErrInvalidInput, "code is required")
	}

	v, err := s.verifications.FindUsable(ctx, id, HashOneTimeCode(code), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("VERIFICATION_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, oops.Code("VERIFICATION_FAILED").
			With("verification_id", id.String()).
			Wrap(err)
	}

	verified := true
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.verifications.Consume(ctx, v.ID, s.now().UTC()); err != nil {
			return err
		}
		return s.users.UpdateFlags(ctx, v.UserID, FlagUpdate{IsVerified: &verified})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("VERIFICATION_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, oops.Code("VERIFICATION_FAILED").
			With("verification_id", id.String()).
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, v.UserID)
	if err != nil {
		return nil, oops.Code("VERIFICATION_FAILED").
			With("operation", "reload user").
			Wrap(err)
	}
	return user, nil
}
