// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	TokenNonceBytes   = 32 // 256-bit nonce
	DefaultSessionTTL = 3 * 30 * 24 * time.Hour
	maxTokenValueLen  = 512
)

// LoginToken is an opaque bearer credential bound to a user. Tokens are never
// deleted; logout, ban and password change clear IsValid.
type LoginToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Value     string
	IsValid   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UsableAt reports whether the token can authenticate a request at t.
func (t *LoginToken) UsableAt(now time.Time) bool {
	return t.IsValid && now.Before(t.ExpiresAt)
}

// newTokenNonce returns a hex-encoded random nonce that seeds a token value.
func newTokenNonce() (string, error) {
	nonce := make([]byte, TokenNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", oops.Code("TOKEN_NONCE_FAILED").
			With("requested_bytes", TokenNonceBytes).
			Wrap(err)
	}
	return hex.EncodeToString(nonce), nil
}

// encodeTokenValue turns a slow-hash digest into the bearer value.
func encodeTokenValue(digest string) string {
	return base64.StdEncoding.EncodeToString([]byte(digest))
}

// wellFormedTokenValue reports whether value could have been produced by
// encodeTokenValue. Anything else cannot exist in the store.
func wellFormedTokenValue(value string) bool {
	if value == "" || len(value) > maxTokenValueLen {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(value)
	return err == nil
}

// TokenRepository persists login tokens.
type TokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *LoginToken) error

	// FindUsable returns the token with value if it is valid and unexpired
	// at now. Returns ErrNotFound otherwise.
	FindUsable(ctx context.Context, value string, now time.Time) (*LoginToken, error)

	// ExistsWithRole reports whether a usable token with value exists whose
	// owner holds role.
	ExistsWithRole(ctx context.Context, value string, role Role, now time.Time) (bool, error)

	// Invalidate clears the validity flag of one token. Invalidating an
	// already invalid or unknown token is not an error.
	Invalidate(ctx context.Context, id ulid.ULID) error

	// InvalidateAllForUser clears the validity flag of every token owned by
	// userID in one statement and returns how many were still valid.
	InvalidateAllForUser(ctx context.Context, userID ulid.ULID) (int64, error)
}
