// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
)

// Service provides login and logout on top of the token authority.
type Service struct {
	users  UserRepository
	tokens *TokenService
	hasher SlowHash

	dummyOnce   sync.Once
	dummyDigest string
	dummyErr    error
}

// NewAuthService creates a new Service.
func NewAuthService(users UserRepository, tokens *TokenService, hasher SlowHash) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token service is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("hasher is required")
	}
	return &Service{users: users, tokens: tokens, hasher: hasher}, nil
}

// dummyPasswordDigest returns a digest produced by the configured hasher for
// a password nobody knows. Unknown emails are verified against it so they
// cost the same as known ones.
func (s *Service) dummyPasswordDigest(ctx context.Context) (string, error) {
	s.dummyOnce.Do(func() {
		nonce, err := newTokenNonce()
		if err != nil {
			s.dummyErr = err
			return
		}
		s.dummyDigest, s.dummyErr = s.hasher.Hash(context.WithoutCancel(ctx), nonce)
	})
	return s.dummyDigest, s.dummyErr
}

// Login authenticates a user by email and password and issues a token.
// Unknown email, wrong password, banned and unverified accounts all return
// ErrInvalidCredentials after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *LoginToken, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, nil, err
	}

	user, lookupErr := s.users.GetByEmail(ctx, normalized, WithDigest())
	var targetDigest string
	switch {
	case lookupErr == nil:
		targetDigest = user.PasswordDigest
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
		targetDigest, err = s.dummyPasswordDigest(ctx)
		if err != nil {
			return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "prepare dummy digest").
				Wrap(err)
		}
	default:
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(ctx, targetDigest, password)
	if verifyErr != nil {
		if user == nil {
			return nil, nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	// Account state is checked after verification to keep timing uniform.
	if user == nil || !valid || user.IsBanned || !user.IsVerified {
		return nil, nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	user.PasswordDigest = ""
	return user, token, nil
}

// Logout revokes the token with value. Unusable values return ErrForbidden.
func (s *Service) Logout(ctx context.Context, value string) error {
	token, err := s.tokens.Resolve(ctx, value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_LOGOUT_FORBIDDEN").Wrap(ErrForbidden)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").Wrap(err)
	}
	if err := s.tokens.Invalidate(ctx, token.ID); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("token_id", token.ID.String()).
			Wrap(err)
	}
	return nil
}
