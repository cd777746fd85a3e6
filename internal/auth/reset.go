// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// One-time code configuration.
const (
	ResetCodeBytes  = 64
	DefaultResetTTL = 10 * time.Minute
)

// PasswordReset is a one-time password reset grant.
type PasswordReset struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Email     string // snapshot at request time
	CodeHash  string
	IsValid   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Summary returns the fields that may be shown to the requester.
func (r *PasswordReset) Summary() *ResetSummary {
	return &ResetSummary{
		ID:        r.ID,
		Email:     r.Email,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}

// ResetSummary is the public view of a reset request. Real and synthetic
// summaries have the same shape.
type ResetSummary struct {
	ID        ulid.ULID
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// GenerateOneTimeCode creates a random code and its hash.
// The plaintext code is emailed; only the hash is stored.
func GenerateOneTimeCode() (code, hash string, err error) {
	raw := make([]byte, ResetCodeBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code("ONE_TIME_CODE_GENERATE_FAILED").Wrap(err)
	}
	code = base64.URLEncoding.EncodeToString([]byte(hex.EncodeToString(raw)))
	return code, HashOneTimeCode(code), nil
}

// HashOneTimeCode computes the stored form of a one-time code.
func HashOneTimeCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// PasswordResetRepository persists password reset records.
type PasswordResetRepository interface {
	// Create stores a new reset record.
	Create(ctx context.Context, reset *PasswordReset) error

	// FindUsable returns the record matching id, email and codeHash that is
	// valid and unexpired at now. Returns ErrNotFound otherwise.
	FindUsable(ctx context.Context, id ulid.ULID, email, codeHash string, now time.Time) (*PasswordReset, error)

	// Consume clears the validity flag only if the record is still usable at
	// now. Returns ErrNotFound if another caller consumed it first.
	Consume(ctx context.Context, id ulid.ULID, now time.Time) error
}
