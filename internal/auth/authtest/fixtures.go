// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package authtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

// FastHasher returns an argon2id hasher with minimal cost parameters.
func FastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasher(auth.Argon2Params{Memory: 64, Time: 1, Threads: 1}, 4)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Mailer records messages and optionally fails.
type Mailer struct {
	mu   sync.Mutex
	sent []auth.Message
	err  error
}

// FailWith makes subsequent sends return err. A nil err restores delivery.
func (m *Mailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send implements auth.Mailer.
func (m *Mailer) Send(_ context.Context, msg auth.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (m *Mailer) Sent() []auth.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]auth.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// UserSpec describes a seeded user.
type UserSpec struct {
	Email      string
	Password   string
	IsAdmin    bool
	IsMember   bool
	IsBanned   bool
	Unverified bool
}

// SeedUser stores a user whose password digest was produced by hasher.
func SeedUser(t *testing.T, store *Store, hasher auth.SlowHash, spec UserSpec) *auth.User {
	t.Helper()
	ctx := context.Background()

	password := spec.Password
	if password == "" {
		password = "password123"
	}
	digest, err := hasher.Hash(ctx, password)
	require.NoError(t, err)

	user, err := auth.NewUser(spec.Email, "Test", "User", digest)
	require.NoError(t, err)
	user.IsAdmin = spec.IsAdmin
	user.IsMember = spec.IsMember
	user.IsBanned = spec.IsBanned
	user.IsVerified = !spec.Unverified

	require.NoError(t, store.Users().Create(ctx, user))
	return user
}
