// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default connection settings.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
)

// PoolOptions tunes Connect. Zero values select the defaults.
type PoolOptions struct {
	MaxConns        int32
	ConnectAttempts uint64
	ConnectBackoff  time.Duration
	Logger          *slog.Logger
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pool for databaseURL and pings it with exponential backoff
// until the database answers or the attempts run out.
func Connect(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := waitReady(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitReady(ctx context.Context, db pinger, opts PoolOptions) error {
	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	backoff := opts.ConnectBackoff
	if backoff <= 0 {
		backoff = DefaultConnectBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	try := 0
	err := retry.Do(ctx, retry.WithMaxRetries(attempts-1, retry.NewExponential(backoff)), func(ctx context.Context) error {
		try++
		if err := db.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", try, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("attempts", try).Wrap(err)
	}
	return nil
}
