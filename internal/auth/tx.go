// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import "context"

// Transactor runs fn as one unit of work. Repository calls made with the
// context passed to fn join the transaction; the work commits only if fn
// returns nil and is rolled back otherwise.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
