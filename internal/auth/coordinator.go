// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// OrganizedResources invalidates resources a user owns as organizer, such as
// space events.
type OrganizedResources interface {
	// InvalidateByOrganizer clears the validity flag of every resource
	// organized by userID and returns how many changed.
	InvalidateByOrganizer(ctx context.Context, userID ulid.ULID) (int64, error)
}

// Coordinator runs account state changes that must revoke sessions as a side
// effect. Every cascade commits or aborts as a whole.
type Coordinator struct {
	users     UserRepository
	tokens    *TokenService
	resources OrganizedResources
	tx        Transactor
	hasher    SlowHash
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	users UserRepository,
	tokens *TokenService,
	resources OrganizedResources,
	tx Transactor,
	hasher SlowHash,
	logger *slog.Logger,
) (*Coordinator, error) {
	if users == nil || tokens == nil || resources == nil || tx == nil || hasher == nil {
		return nil, oops.Code("COORDINATOR_INVALID").Errorf("all dependencies are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		users:     users,
		tokens:    tokens,
		resources: resources,
		tx:        tx,
		hasher:    hasher,
		logger:    logger,
	}, nil
}

// Ban revokes every token of the user, invalidates the events they organize
// and sets the banned flag, in that order and in one transaction.
func (c *Coordinator) Ban(ctx context.Context, userID ulid.ULID) (*User, error) {
	var revoked, events int64
	banned := true
	err := c.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := c.users.Lock(ctx, userID); err != nil {
			return err
		}
		var err error
		if revoked, err = c.tokens.InvalidateAll(ctx, userID); err != nil {
			return err
		}
		if events, err = c.resources.InvalidateByOrganizer(ctx, userID); err != nil {
			return err
		}
		return c.users.UpdateFlags(ctx, userID, FlagUpdate{IsBanned: &banned})
	})
	if err != nil {
		return nil, oops.Code("USER_BAN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}

	c.logger.InfoContext(ctx, "user banned",
		"user_id", userID.String(),
		"tokens_revoked", revoked,
		"events_invalidated", events)

	return c.reload(ctx, userID, "USER_BAN_FAILED")
}

// ChangePassword replaces the password after checking the old one and
// revokes all tokens. A mismatching old password returns ErrWrongPassword.
func (c *Coordinator) ChangePassword(ctx context.Context, userID ulid.ULID, oldPassword, newPassword string) (*User, error) {
	if oldPassword == "" || newPassword == "" {
		return nil, oops.Code("PASSWORD_CHANGE_INVALID_INPUT").Wrapf(ErrInvalidInput, "old and new password are required")
	}

	user, err := c.users.GetByID(ctx, userID, WithDigest())
	if err != nil {
		return nil, oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "get user").
			With("user_id", userID.String()).
			Wrap(err)
	}

	ok, err := c.hasher.Verify(ctx, user.PasswordDigest, oldPassword)
	if err != nil {
		return nil, oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "verify old password").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !ok {
		return nil, oops.Code("PASSWORD_CHANGE_WRONG_PASSWORD").
			With("user_id", userID.String()).
			Wrap(ErrWrongPassword)
	}

	digest, err := c.hasher.Hash(ctx, newPassword)
	if err != nil {
		return nil, oops.Code("PASSWORD_CHANGE_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	err = c.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := c.users.Lock(ctx, userID); err != nil {
			return err
		}
		if err := c.users.UpdatePassword(ctx, userID, digest); err != nil {
			return err
		}
		_, err := c.tokens.InvalidateAll(ctx, userID)
		return err
	})
	if err != nil {
		return nil, oops.Code("PASSWORD_CHANGE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}

	return c.reload(ctx, userID, "PASSWORD_CHANGE_FAILED")
}

// UpdateDetails changes the user's names and profile visibility. Fields left
// nil keep their value; blank names return ErrInvalidInput.
func (c *Coordinator) UpdateDetails(ctx context.Context, userID ulid.ULID, update ProfileUpdate) (*User, error) {
	update, err := update.Normalize()
	if err != nil {
		return nil, err
	}
	if err := c.users.UpdateProfile(ctx, userID, update); err != nil {
		return nil, oops.Code("USER_DETAILS_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return c.reload(ctx, userID, "USER_DETAILS_FAILED")
}

// SetMembership grants or revokes the member flag.
func (c *Coordinator) SetMembership(ctx context.Context, userID ulid.ULID, member bool) (*User, error) {
	if err := c.users.UpdateFlags(ctx, userID, FlagUpdate{IsMember: &member}); err != nil {
		return nil, oops.Code("USER_MEMBERSHIP_FAILED").
			With("user_id", userID.String()).
			With("member", member).
			Wrap(err)
	}
	return c.reload(ctx, userID, "USER_MEMBERSHIP_FAILED")
}

func (c *Coordinator) reload(ctx context.Context, userID ulid.ULID, code string) (*User, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, oops.Code(code).
			With("operation", "reload user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return user, nil
}
