// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User is a registered account and its authentication-relevant flags.
type User struct {
	ID             ulid.ULID
	Email          string
	FirstName      string
	LastName       string
	PasswordDigest string // empty unless loaded WithDigest
	IsAdmin        bool
	IsVerified     bool
	IsMember       bool
	IsBanned       bool
	IsPublic       bool // profile listed to other members
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Role is a privilege a token's owner may hold.
type Role int

const (
	// RoleAuthenticated is held by any user with a usable token.
	RoleAuthenticated Role = iota
	RoleAdmin
	RoleMember
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMember:
		return "member"
	default:
		return "authenticated"
	}
}

// HasRole reports whether the user's flags grant role.
func (u *User) HasRole(role Role) bool {
	switch role {
	case RoleAdmin:
		return u.IsAdmin
	case RoleMember:
		return u.IsMember
	default:
		return true
	}
}

// NewUser creates a validated, unverified User.
func NewUser(email, firstName, lastName, passwordDigest string) (*User, error) {
	normalized, err := validateProfile(email, firstName, lastName)
	if err != nil {
		return nil, err
	}
	if passwordDigest == "" {
		return nil, oops.Code("USER_INVALID_DIGEST").Errorf("password digest cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:             ulid.Make(),
		Email:          normalized,
		FirstName:      strings.TrimSpace(firstName),
		LastName:       strings.TrimSpace(lastName),
		PasswordDigest: passwordDigest,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func validateProfile(email, firstName, lastName string) (string, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(firstName) == "" || strings.TrimSpace(lastName) == "" {
		return "", oops.Code("USER_INVALID_NAME").Wrapf(ErrInvalidInput, "first and last name are required")
	}
	return normalized, nil
}

// NormalizeEmail validates an address and returns it trimmed and lowercased.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", oops.Code("USER_INVALID_EMAIL").Wrapf(ErrInvalidInput, "email cannot be empty")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", oops.Code("USER_INVALID_EMAIL").With("email", trimmed).Wrapf(ErrInvalidInput, "malformed email address")
	}
	return strings.ToLower(trimmed), nil
}

// LookupOptions narrows a user lookup.
type LookupOptions struct {
	// ActiveOnly restricts the lookup to verified, non-banned users.
	ActiveOnly bool
	// WithDigest includes the password digest in the result.
	WithDigest bool
}

// LookupOption configures LookupOptions.
type LookupOption func(*LookupOptions)

// ActiveOnly restricts a lookup to verified, non-banned users.
func ActiveOnly() LookupOption {
	return func(o *LookupOptions) { o.ActiveOnly = true }
}

// WithDigest includes the password digest, which is excluded by default.
func WithDigest() LookupOption {
	return func(o *LookupOptions) { o.WithDigest = true }
}

// ApplyLookupOptions folds opts into a LookupOptions value.
func ApplyLookupOptions(opts ...LookupOption) LookupOptions {
	var o LookupOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FlagUpdate changes the non-nil flags of a user.
type FlagUpdate struct {
	IsAdmin    *bool
	IsVerified *bool
	IsMember   *bool
	IsBanned   *bool
}

// Empty reports whether the update changes nothing.
func (f FlagUpdate) Empty() bool {
	return f.IsAdmin == nil && f.IsVerified == nil && f.IsMember == nil && f.IsBanned == nil
}

// Apply sets the non-nil flags on u.
func (f FlagUpdate) Apply(u *User) {
	if f.IsAdmin != nil {
		u.IsAdmin = *f.IsAdmin
	}
	if f.IsVerified != nil {
		u.IsVerified = *f.IsVerified
	}
	if f.IsMember != nil {
		u.IsMember = *f.IsMember
	}
	if f.IsBanned != nil {
		u.IsBanned = *f.IsBanned
	}
}

// ProfileUpdate changes the non-nil profile details of a user.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	IsPublic  *bool
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.IsPublic == nil
}

// Normalize trims the given names and rejects blank ones.
func (p ProfileUpdate) Normalize() (ProfileUpdate, error) {
	trim := func(field string, v *string) (*string, error) {
		if v == nil {
			return nil, nil
		}
		t := strings.TrimSpace(*v)
		if t == "" {
			return nil, oops.Code("USER_INVALID_NAME").With("field", field).Wrapf(ErrInvalidInput, "%s cannot be blank", field)
		}
		return &t, nil
	}
	var err error
	if p.FirstName, err = trim("first_name", p.FirstName); err != nil {
		return ProfileUpdate{}, err
	}
	if p.LastName, err = trim("last_name", p.LastName); err != nil {
		return ProfileUpdate{}, err
	}
	return p, nil
}

// Apply sets the non-nil details on u.
func (p ProfileUpdate) Apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.IsPublic != nil {
		u.IsPublic = *p.IsPublic
	}
}

// UserRepository is the credential store.
type UserRepository interface {
	// Create stores a new user. Returns ErrEmailTaken if the email exists.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID, opts ...LookupOption) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user matches.
	GetByEmail(ctx context.Context, email string, opts ...LookupOption) (*User, error)

	// UpdateFlags sets the non-nil flags of a user.
	UpdateFlags(ctx context.Context, id ulid.ULID, update FlagUpdate) error

	// UpdateProfile sets the non-nil profile details of a user.
	UpdateProfile(ctx context.Context, id ulid.ULID, update ProfileUpdate) error

	// UpdatePassword replaces the password digest.
	UpdatePassword(ctx context.Context, id ulid.ULID, digest string) error

	// Lock takes a row lock on the user for the rest of the surrounding
	// transaction and returns the locked row.
	Lock(ctx context.Context, id ulid.ULID) (*User, error)
}
