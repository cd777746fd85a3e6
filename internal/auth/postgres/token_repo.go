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

// TokenRepository implements auth.TokenRepository using PostgreSQL.
// Tokens are never deleted, only invalidated.
type TokenRepository struct {
	db DB
}

var _ auth.TokenRepository = (*TokenRepository)(nil)

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a new login token.
func (r *TokenRepository) Create(ctx context.Context, token *auth.LoginToken) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO login_tokens (id, user_id, value, is_valid, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.Value,
		token.IsValid,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert login token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// FindUsable returns the valid, unexpired token with the given value.
func (r *TokenRepository) FindUsable(ctx context.Context, value string, now time.Time) (*auth.LoginToken, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, value, is_valid, expires_at, created_at
		FROM login_tokens
		WHERE value = $1 AND is_valid AND expires_at > $2
	`, value, now)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "find usable token").
			Wrap(err)
	}
	return token, nil
}

// ExistsWithRole reports whether a usable token with the given value belongs
// to a user holding role.
func (r *TokenRepository) ExistsWithRole(ctx context.Context, value string, role auth.Role, now time.Time) (bool, error) {
	var roleFilter string
	switch role {
	case auth.RoleAdmin:
		roleFilter = " AND u.is_admin"
	case auth.RoleMember:
		roleFilter = " AND u.is_member"
	case auth.RoleAuthenticated:
	default:
		return false, oops.Code("TOKEN_UNKNOWN_ROLE").With("role", int(role)).Errorf("unknown role")
	}

	var exists bool
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM login_tokens t
			JOIN users u ON u.id = t.user_id
			WHERE t.value = $1 AND t.is_valid AND t.expires_at > $2`+roleFilter+`
		)
	`, value, now).Scan(&exists)
	if err != nil {
		return false, oops.Code("TOKEN_ROLE_CHECK_FAILED").
			With("operation", "check token role").
			With("role", role.String()).
			Wrap(err)
	}
	return exists, nil
}

// Invalidate marks one token invalid. Unknown or already invalid tokens are
// left untouched without error.
func (r *TokenRepository) Invalidate(ctx context.Context, id ulid.ULID) error {
	_, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE login_tokens SET is_valid = FALSE WHERE id = $1 AND is_valid`, id.String())
	if err != nil {
		return oops.Code("TOKEN_INVALIDATE_FAILED").
			With("operation", "invalidate token").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// InvalidateAllForUser marks every valid token of the user invalid in one
// statement and returns how many changed.
func (r *TokenRepository) InvalidateAllForUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE login_tokens SET is_valid = FALSE WHERE user_id = $1 AND is_valid`, userID.String())
	if err != nil {
		return 0, oops.Code("TOKEN_INVALIDATE_ALL_FAILED").
			With("operation", "invalidate user tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*auth.LoginToken, error) {
	var (
		token        auth.LoginToken
		idStr, owner string
	)
	if err := row.Scan(&idStr, &owner, &token.Value, &token.IsValid, &token.ExpiresAt, &token.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if token.ID, err = parseID(idStr, "token_id"); err != nil {
		return nil, err
	}
	if token.UserID, err = parseID(owner, "user_id"); err != nil {
		return nil, err
	}
	return &token, nil
}
