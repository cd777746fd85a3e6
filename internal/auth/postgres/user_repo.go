// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

const userColumns = `id, email, first_name, last_name, password_digest,
	is_admin, is_verified, is_member, is_banned, is_public, created_at, updated_at`

// activeFilter restricts a lookup to users that may log in.
const activeFilter = ` AND NOT is_banned AND is_verified`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

var _ auth.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user. A duplicate email is reported as auth.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID.String(),
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordDigest,
		user.IsAdmin,
		user.IsVerified,
		user.IsMember,
		user.IsBanned,
		user.IsPublic,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_EMAIL_TAKEN").With("email", user.Email).Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID, opts ...auth.LookupOption) (*auth.User, error) {
	o := auth.ApplyLookupOptions(opts...)
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if o.ActiveOnly {
		query += activeFilter
	}

	user, err := scanUser(conn(ctx, r.db).QueryRow(ctx, query, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return project(user, o), nil
}

// GetByEmail retrieves a user by normalized email address. The predicate
// matches the users_email_key expression index.
func (r *UserRepository) GetByEmail(ctx context.Context, email string, opts ...auth.LookupOption) (*auth.User, error) {
	o := auth.ApplyLookupOptions(opts...)
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	if o.ActiveOnly {
		query += activeFilter
	}

	user, err := scanUser(conn(ctx, r.db).QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return project(user, o), nil
}

// UpdateFlags sets the flags present in update. An empty update is a no-op.
func (r *UserRepository) UpdateFlags(ctx context.Context, id ulid.ULID, update auth.FlagUpdate) error {
	if update.Empty() {
		return nil
	}

	sets := make([]string, 0, 5)
	args := []any{id.String()}
	add := func(column string, v *bool) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("is_admin", update.IsAdmin)
	add("is_verified", update.IsVerified)
	add("is_member", update.IsMember)
	add("is_banned", update.IsBanned)
	sets = append(sets, "updated_at = now()")

	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user flags").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateProfile sets the details present in update. An empty update is a no-op.
func (r *UserRepository) UpdateProfile(ctx context.Context, id ulid.ULID, update auth.ProfileUpdate) error {
	if update.Empty() {
		return nil
	}

	sets := make([]string, 0, 4)
	args := []any{id.String()}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.FirstName != nil {
		add("first_name", *update.FirstName)
	}
	if update.LastName != nil {
		add("last_name", *update.LastName)
	}
	if update.IsPublic != nil {
		add("is_public", *update.IsPublic)
	}
	sets = append(sets, "updated_at = now()")

	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user profile").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword replaces the stored password digest.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, digest string) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET password_digest = $2, updated_at = now()
		WHERE id = $1
	`, id.String(), digest)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Lock takes a row lock on the user for the rest of the transaction carried
// by ctx and returns the row including its digest.
func (r *UserRepository) Lock(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if !inTx(ctx) {
		return nil, oops.Code("USER_LOCK_OUTSIDE_TX").With("id", id.String()).Errorf("lock requires a transaction")
	}

	user, err := scanUser(conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_LOCK_FAILED").
			With("operation", "lock user").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

func project(user *auth.User, o auth.LookupOptions) *auth.User {
	if !o.WithDigest {
		user.PasswordDigest = ""
	}
	return user
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		user  auth.User
		idStr string
	)
	if err := row.Scan(
		&idStr,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordDigest,
		&user.IsAdmin,
		&user.IsVerified,
		&user.IsMember,
		&user.IsBanned,
		&user.IsPublic,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	id, err := parseID(idStr, "user_id")
	if err != nil {
		return nil, err
	}
	user.ID = id
	return &user, nil
}
