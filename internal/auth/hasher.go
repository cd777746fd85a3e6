// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// Default argon2id parameters. They are written into every digest, so
// changing them only affects new digests.
const (
	DefaultArgon2Memory  = 15 * 1024 // KiB
	DefaultArgon2Time    = 2
	DefaultArgon2Threads = 1
	argon2SaltLen        = 16
	argon2KeyLen         = 32
)

// ErrEmptyPassword is returned when attempting to hash an empty secret.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// SlowHash is a deliberately expensive one-way hash used for passwords and
// session token derivation.
type SlowHash interface {
	// Hash produces a self-describing digest of secret.
	Hash(ctx context.Context, secret string) (string, error)

	// Verify reports whether secret matches digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error if
	// the digest cannot be parsed.
	Verify(ctx context.Context, digest, secret string) (bool, error)
}

// Argon2Params are the memory-hard cost parameters of a digest.
type Argon2Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
}

// DefaultArgon2Params returns the production parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:  DefaultArgon2Memory,
		Time:    DefaultArgon2Time,
		Threads: DefaultArgon2Threads,
	}
}

// Argon2idHasher implements SlowHash with argon2id. At most maxConcurrent
// computations run at once; further callers wait for a slot.
type Argon2idHasher struct {
	params Argon2Params
	slots  *semaphore.Weighted
}

// NewArgon2idHasher creates a hasher. A zero maxConcurrent uses GOMAXPROCS.
func NewArgon2idHasher(params Argon2Params, maxConcurrent int) *Argon2idHasher {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	if params.Memory == 0 || params.Time == 0 || params.Threads == 0 {
		params = DefaultArgon2Params()
	}
	return &Argon2idHasher{
		params: params,
		slots:  semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Hash produces an argon2id digest in PHC string format:
// $argon2id$v=19$m=15360,t=2,p=1$<salt>$<hash>
func (h *Argon2idHasher) Hash(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, argon2KeyLen)
	h.slots.Release(1)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest with the parameters stored in it and compares
// in constant time.
func (h *Argon2idHasher) Verify(ctx context.Context, digest, secret string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	keyLen := len(expected)
	if keyLen == 0 || keyLen > 1024 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}
	computed := argon2.IDKey([]byte(secret), salt, time, memory, uint8(threads), uint32(keyLen))
	h.slots.Release(1)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// Compile-time interface check.
var _ SlowHash = (*Argon2idHasher)(nil)
