// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import "errors"

// Error kinds. Services wrap these with oops codes and context; callers
// classify with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist or is
	// no longer usable. Expired, revoked and missing records all map here.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed input detected before any
	// authority logic runs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials covers unknown email, wrong password, banned and
	// unverified accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrForbidden is returned when a token is missing, invalid or lacks the
	// required role.
	ErrForbidden = errors.New("forbidden")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrWrongPassword is the distinguished result of a password change whose
	// old password does not match.
	ErrWrongPassword = errors.New("incorrect old password")

	// ErrMailUndelivered is returned when a mandatory email could not be sent.
	ErrMailUndelivered = errors.New("email not delivered")
)
