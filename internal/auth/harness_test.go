// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/internal/auth/authtest"
)

type harness struct {
	store   *authtest.Store
	hasher  auth.SlowHash
	clock   *authtest.Clock
	mailer  *authtest.Mailer
	tokens  *auth.TokenService
	auth    *auth.Service
	resets  *auth.PasswordResetService
	coord   *auth.Coordinator
	reg     *auth.RegistrationService
	guard   *auth.Guard
	slept   []time.Duration
	sleepFn func(ctx context.Context, d time.Duration) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  authtest.NewStore(),
		hasher: authtest.FastHasher(),
		clock:  authtest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		mailer: &authtest.Mailer{},
	}
	h.sleepFn = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}

	var err error
	h.tokens, err = auth.NewTokenService(h.store.Users(), h.store.Tokens(), h.store, h.hasher,
		auth.WithTokenClock(h.clock.Now))
	require.NoError(t, err)

	h.auth, err = auth.NewAuthService(h.store.Users(), h.tokens, h.hasher)
	require.NoError(t, err)

	h.resets, err = auth.NewPasswordResetService(h.store.Users(), h.store.Resets(), h.tokens, h.store, h.hasher, h.mailer,
		auth.WithResetClock(h.clock.Now),
		auth.WithResetSleep(func(ctx context.Context, d time.Duration) error { return h.sleepFn(ctx, d) }))
	require.NoError(t, err)
	t.Cleanup(h.resets.Drain)

	h.coord, err = auth.NewCoordinator(h.store.Users(), h.tokens, h.store.Events(), h.store, h.hasher, nil)
	require.NoError(t, err)

	h.reg, err = auth.NewRegistrationService(h.store.Users(), h.store.Verifications(), h.store, h.hasher, h.mailer,
		auth.WithRegistrationClock(h.clock.Now))
	require.NoError(t, err)

	h.guard = auth.NewGuard(h.tokens)
	return h
}

func (h *harness) seed(t *testing.T, spec authtest.UserSpec) *auth.User {
	t.Helper()
	return authtest.SeedUser(t, h.store, h.hasher, spec)
}

func (h *harness) issue(t *testing.T, user *auth.User) *auth.LoginToken {
	t.Helper()
	token, err := h.tokens.Issue(context.Background(), user.ID)
	require.NoError(t, err)
	return token
}
