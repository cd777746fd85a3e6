// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

// VerificationRepository implements auth.VerificationRepository using PostgreSQL.
type VerificationRepository struct {
	db DB
}

var _ auth.VerificationRepository = (*VerificationRepository)(nil)

// NewVerificationRepository creates a new VerificationRepository.
func NewVerificationRepository(db DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func (r *VerificationRepository) Create(ctx context.Context, v *auth.EmailVerification) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO email_verifications (id, user_id, email, code_hash, is_valid, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID.String(), v.UserID.String(), v.Email, v.CodeHash, v.IsValid, v.ExpiresAt, v.CreatedAt)
	if err != nil {
		return oops.Code("VERIFICATION_CREATE_FAILED").
			With("operation", "insert email verification").
			With("user_id", v.UserID.String()).
			Wrap(err)
	}
	return nil
}

func (r *VerificationRepository) FindUsable(ctx context.Context, id ulid.ULID, codeHash string, now time.Time) (*auth.EmailVerification, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, email, code_hash, is_valid, expires_at, created_at
		FROM email_verifications
		WHERE id = $1 AND code_hash = $2 AND is_valid AND expires_at > $3
	`, id.String(), codeHash, now)

	var (
		v            auth.EmailVerification
		idStr, owner string
	)
	err := row.Scan(&idStr, &owner, &v.Email, &v.CodeHash, &v.IsValid, &v.ExpiresAt, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("VERIFICATION_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	if v.ID, err = parseID(idStr, "verification_id"); err != nil {
		return nil, oops.Code("VERIFICATION_GET_FAILED").Wrap(err)
	}
	if v.UserID, err = parseID(owner, "user_id"); err != nil {
		return nil, oops.Code("VERIFICATION_GET_FAILED").Wrap(err)
	}
	return &v, nil
}

func (r *VerificationRepository) Consume(ctx context.Context, id ulid.ULID, now time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE email_verifications SET is_valid = FALSE, consumed_at = $2
		WHERE id = $1 AND is_valid AND expires_at > $2
	`, id.String(), now)
	if err != nil {
		return oops.Code("VERIFICATION_CONSUME_FAILED").With("id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("VERIFICATION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}
