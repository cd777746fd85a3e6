// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Guard decides whether an Authorization header grants access.
type Guard struct {
	tokens *TokenService
}

// NewGuard creates a Guard backed by the token authority.
func NewGuard(tokens *TokenService) *Guard {
	return &Guard{tokens: tokens}
}

// ParseBearer extracts the token from an Authorization header value of the
// form "Bearer <token>". The scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Allow reports whether header carries a usable token whose owner holds
// role. Malformed headers are denied without touching the store.
func (g *Guard) Allow(ctx context.Context, header string, role Role) bool {
	value, ok := ParseBearer(header)
	if !ok {
		return false
	}
	return g.tokens.VerifyWithRole(ctx, value, role)
}

// Authenticate resolves header to its token and owner. Every failure other
// than a store error is ErrForbidden.
func (g *Guard) Authenticate(ctx context.Context, header string) (*LoginToken, *User, error) {
	value, ok := ParseBearer(header)
	if !ok {
		return nil, nil, oops.Code("GUARD_MALFORMED_HEADER").Wrap(ErrForbidden)
	}
	token, user, err := g.tokens.ResolveWithUser(ctx, value)
	if err != nil {
		return nil, nil, forbiddenOr(err)
	}
	return token, user, nil
}

// RequireRole returns ErrForbidden unless user holds role.
func RequireRole(user *User, role Role) error {
	if user == nil || !user.HasRole(role) {
		return oops.Code("GUARD_ROLE_REQUIRED").
			With("role", role.String()).
			Wrap(ErrForbidden)
	}
	return nil
}

func forbiddenOr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code("GUARD_TOKEN_REJECTED").Wrap(ErrForbidden)
	}
	return oops.Code("GUARD_FAILED").Wrap(err)
}
