// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

// Transactor implements auth.Transactor on a connection pool. The open
// pgx.Tx travels in the context so every repository call made by fn joins it.
type Transactor struct {
	db DB
}

var _ auth.Transactor = (*Transactor)(nil)

// NewTransactor creates a Transactor backed by db.
func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// InTransaction runs fn in a transaction and commits when it returns nil.
// A context that already carries a transaction is passed through unchanged.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}

	// A failed Commit has already ended the transaction.
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	finished = true
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}
