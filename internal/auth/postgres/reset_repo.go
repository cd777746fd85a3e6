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

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	db DB
}

var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create stores a new reset record. Only the code hash is persisted.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO password_resets (id, user_id, email, code_hash, is_valid, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		reset.ID.String(),
		reset.UserID.String(),
		reset.Email,
		reset.CodeHash,
		reset.IsValid,
		reset.ExpiresAt,
		reset.CreatedAt,
	)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password reset").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}
	return nil
}

// FindUsable returns the record matching id, email and code hash while it is
// valid and unexpired.
func (r *PasswordResetRepository) FindUsable(ctx context.Context, id ulid.ULID, email, codeHash string, now time.Time) (*auth.PasswordReset, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, email, code_hash, is_valid, expires_at, created_at
		FROM password_resets
		WHERE id = $1 AND email = $2 AND code_hash = $3 AND is_valid AND expires_at > $4
	`, id.String(), email, codeHash, now)

	var (
		reset        auth.PasswordReset
		idStr, owner string
	)
	err := row.Scan(&idStr, &owner, &reset.Email, &reset.CodeHash, &reset.IsValid, &reset.ExpiresAt, &reset.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "find usable reset").
			With("id", id.String()).
			Wrap(err)
	}
	if reset.ID, err = parseID(idStr, "reset_id"); err != nil {
		return nil, oops.Code("RESET_GET_FAILED").Wrap(err)
	}
	if reset.UserID, err = parseID(owner, "user_id"); err != nil {
		return nil, oops.Code("RESET_GET_FAILED").Wrap(err)
	}
	return &reset, nil
}

// Consume invalidates the record if it is still usable at now. Losing a
// concurrent race yields auth.ErrNotFound.
func (r *PasswordResetRepository) Consume(ctx context.Context, id ulid.ULID, now time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE password_resets SET is_valid = FALSE, consumed_at = $2
		WHERE id = $1 AND is_valid AND expires_at > $2
	`, id.String(), now)
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "consume password reset").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}
