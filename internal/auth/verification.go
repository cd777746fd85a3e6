// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultVerificationTTL is how long an email verification code stays usable.
const DefaultVerificationTTL = 7 * 24 * time.Hour

// EmailVerification is a one-time grant that confirms ownership of an email.
type EmailVerification struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Email     string
	CodeHash  string
	IsValid   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// VerificationRepository persists email verification records.
type VerificationRepository interface {
	// Create stores a new verification record.
	Create(ctx context.Context, v *EmailVerification) error

	// FindUsable returns the record matching id and codeHash that is valid
	// and unexpired at now. Returns ErrNotFound otherwise.
	FindUsable(ctx context.Context, id ulid.ULID, codeHash string, now time.Time) (*EmailVerification, error)

	// Consume clears the validity flag only if the record is still usable at
	// now. Returns ErrNotFound if another caller consumed it first.
	Consume(ctx context.Context, id ulid.ULID, now time.Time) error
}
