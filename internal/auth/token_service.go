// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/pkg/errutil"
)

// TokenService is the session token authority. It issues, verifies and
// revokes login tokens.
type TokenService struct {
	users  UserRepository
	tokens TokenRepository
	tx     Transactor
	hasher SlowHash
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithSessionTTL overrides the lifetime of issued tokens.
func WithSessionTTL(ttl time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTokenClock sets the time source used for expiry decisions.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

// WithTokenLogger sets the logger used for store failures during verification.
func WithTokenLogger(logger *slog.Logger) TokenServiceOption {
	return func(s *TokenService) { s.logger = logger }
}

// NewTokenService creates a TokenService.
func NewTokenService(users UserRepository, tokens TokenRepository, tx Transactor, hasher SlowHash, opts ...TokenServiceOption) (*TokenService, error) {
	if users == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("token repository is required")
	}
	if tx == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("transactor is required")
	}
	if hasher == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("hasher is required")
	}
	s := &TokenService{
		users:  users,
		tokens: tokens,
		tx:     tx,
		hasher: hasher,
		ttl:    DefaultSessionTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a token for userID. The returned value is the bearer
// credential and is only ever handed out here.
//
// The user row is locked while the token is written and banned users are
// refused, so a concurrent Ban either sees this token or prevents it.
func (s *TokenService) Issue(ctx context.Context, userID ulid.ULID) (*LoginToken, error) {
	nonce, err := newTokenNonce()
	if err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(ctx, nonce)
	if err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "hash nonce").
			With("user_id", userID.String()).
			Wrap(err)
	}

	now := s.now().UTC()
	token := &LoginToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Value:     encodeTokenValue(digest),
		IsValid:   true,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := s.users.Lock(ctx, userID)
		if err != nil {
			return err
		}
		if user.IsBanned {
			return oops.Code("TOKEN_USER_BANNED").
				With("user_id", userID.String()).
				Wrap(ErrInvalidCredentials)
		}
		return s.tokens.Create(ctx, token)
	})
	if err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, nil
}

// Resolve returns the usable token with value. Malformed, unknown, revoked
// and expired values all yield ErrNotFound.
func (s *TokenService) Resolve(ctx context.Context, value string) (*LoginToken, error) {
	if !wellFormedTokenValue(value) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(ErrNotFound)
	}
	token, err := s.tokens.FindUsable(ctx, value, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, oops.Code("TOKEN_RESOLVE_FAILED").Wrap(err)
	}
	return token, nil
}

// ResolveUser returns the owner of a usable token.
func (s *TokenService) ResolveUser(ctx context.Context, value string) (*User, error) {
	_, user, err := s.ResolveWithUser(ctx, value)
	return user, err
}

// ResolveWithUser returns a usable token together with its owner.
func (s *TokenService) ResolveWithUser(ctx context.Context, value string) (*LoginToken, *User, error) {
	token, err := s.Resolve(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, oops.Code("TOKEN_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, nil, oops.Code("TOKEN_RESOLVE_FAILED").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return token, user, nil
}

// Verify reports whether value is a usable token. Store failures are logged
// and reported as false.
func (s *TokenService) Verify(ctx context.Context, value string) bool {
	_, err := s.Resolve(ctx, value)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrNotFound) {
		errutil.LogErrorContext(ctx, s.logger, "token verification failed", err)
	}
	return false
}

// VerifyWithRole reports whether value is a usable token whose owner holds
// role. RoleAuthenticated behaves like Verify.
func (s *TokenService) VerifyWithRole(ctx context.Context, value string, role Role) bool {
	if role == RoleAuthenticated {
		return s.Verify(ctx, value)
	}
	if !wellFormedTokenValue(value) {
		return false
	}
	ok, err := s.tokens.ExistsWithRole(ctx, value, role, s.now().UTC())
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "token role verification failed",
			oops.Code("TOKEN_VERIFY_FAILED").With("role", role.String()).Wrap(err))
		return false
	}
	return ok
}

// Invalidate revokes a single token. Revoking an already revoked token is a
// no-op.
func (s *TokenService) Invalidate(ctx context.Context, tokenID ulid.ULID) error {
	if err := s.tokens.Invalidate(ctx, tokenID); err != nil {
		return oops.Code("TOKEN_INVALIDATE_FAILED").
			With("token_id", tokenID.String()).
			Wrap(err)
	}
	return nil
}

// InvalidateAll revokes every token of userID. It joins the caller's
// transaction when ctx carries one.
func (s *TokenService) InvalidateAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	n, err := s.tokens.InvalidateAllForUser(ctx, userID)
	if err != nil {
		return 0, oops.Code("TOKEN_INVALIDATE_ALL_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return n, nil
}
