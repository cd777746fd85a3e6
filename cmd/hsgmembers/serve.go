// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/internal/auth/postgres"
	"github.com/hackerspacesg/hsgmembers/internal/config"
	"github.com/hackerspacesg/hsgmembers/internal/httpapi"
	"github.com/hackerspacesg/hsgmembers/internal/logging"
	"github.com/hackerspacesg/hsgmembers/internal/mail"
	"github.com/hackerspacesg/hsgmembers/internal/observability"
	"github.com/hackerspacesg/hsgmembers/internal/store"
	"github.com/hackerspacesg/hsgmembers/internal/throttle"
)

const serviceName = "hsgmembers"

// serveDeps holds the collaborators runServe reaches outside the process
// for. Nil fields use the real implementations.
type serveDeps struct {
	Connect func(ctx context.Context, url string, opts store.PoolOptions) (*pgxpool.Pool, error)
	Migrate func(url string) error
}

func (d *serveDeps) withDefaults() *serveDeps {
	if d == nil {
		d = &serveDeps{}
	}
	if d.Connect == nil {
		d.Connect = store.Connect
	}
	if d.Migrate == nil {
		d.Migrate = migrateUp
	}
	return d
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the membership API server",
		Long: `Start the public HTTP API together with the metrics and health server.
Settings come from --config, then command line flags, then DATABASE_URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveConfigFile()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path, cmd.Flags())
			if err != nil {
				return oops.With("operation", "load configuration").Wrap(err)
			}
			return runServe(cmd.Context(), cmd, cfg, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg config.Config, deps *serveDeps) error {
	deps = deps.withDefaults()

	logger, err := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}
	gin.SetMode(gin.ReleaseMode)

	logger.Info("starting membership server",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"log_format", cfg.Log.Format,
	)

	if cfg.Database.AutoMigrate {
		if err := deps.Migrate(cfg.Database.URL); err != nil {
			return oops.With("operation", "auto-migrate").Wrap(err)
		}
		logger.Info("database migrations applied")
	}

	pool, err := deps.Connect(ctx, cfg.Database.URL, store.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		Logger:   logger,
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obsServer := observability.NewServer(cfg.Metrics.Addr, pool.Ping, logger)

	limiter := throttle.New(throttle.Config{
		Window: cfg.Throttle.Window,
		Limit:  cfg.Throttle.Limit,
	}, throttle.WithRegistry(obsServer.Registry()))
	defer limiter.Close()

	services, resets, err := buildServices(cfg, pool, logger)
	if err != nil {
		return err
	}
	// Background reset mails finish before the pool closes.
	defer resets.Drain()

	router, err := httpapi.NewRouter(services, httpapi.Options{
		Limiter:        limiter,
		Metrics:        obsServer.Metrics(),
		Logger:         logger,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		return oops.With("operation", "build router").Wrap(err)
	}

	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cmd.Println("Membership server started")
	logger.Info("membership server ready", "addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		serveErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return serveErr
}

// buildServices wires the credential authority onto the pool.
func buildServices(cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (httpapi.Services, *auth.PasswordResetService, error) {
	users := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewTokenRepository(pool)
	tx := postgres.NewTransactor(pool)
	hasher := auth.NewArgon2idHasher(auth.DefaultArgon2Params(), cfg.Auth.HashConcurrency)

	mailer, err := mail.New(cfg.SMTP, logger)
	if err != nil {
		return httpapi.Services{}, nil, oops.With("operation", "configure mail").Wrap(err)
	}

	tokens, err := auth.NewTokenService(users, tokenRepo, tx, hasher,
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithTokenLogger(logger))
	if err != nil {
		return httpapi.Services{}, nil, err
	}

	authSvc, err := auth.NewAuthService(users, tokens, hasher)
	if err != nil {
		return httpapi.Services{}, nil, err
	}

	resets, err := auth.NewPasswordResetService(users, postgres.NewPasswordResetRepository(pool), tokens, tx, hasher, mailer,
		auth.WithResetTTL(cfg.Auth.ResetTTL),
		auth.WithJitter(cfg.Auth.JitterMin, cfg.Auth.JitterMax),
		auth.WithResetLogger(logger))
	if err != nil {
		return httpapi.Services{}, nil, err
	}

	registration, err := auth.NewRegistrationService(users, postgres.NewVerificationRepository(pool), tx, hasher, mailer,
		auth.WithVerificationTTL(cfg.Auth.VerificationTTL))
	if err != nil {
		return httpapi.Services{}, nil, err
	}

	coordinator, err := auth.NewCoordinator(users, tokens, postgres.NewEventRepository(pool), tx, hasher, logger)
	if err != nil {
		return httpapi.Services{}, nil, err
	}

	return httpapi.Services{
		Auth:         authSvc,
		Resets:       resets,
		Registration: registration,
		Coordinator:  coordinator,
		Guard:        auth.NewGuard(tokens),
	}, resets, nil
}

func stopObservability(s *observability.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when errCh reports a server failure.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
