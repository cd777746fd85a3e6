// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package httpapi exposes the credential and session authority over HTTP.
//
// Public credential endpoints sit behind the request throttle. Profile and
// admin endpoints sit behind the privilege guard, which resolves the bearer
// token once per request and stores the token and its owner on the gin
// context.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/internal/observability"
	"github.com/hackerspacesg/hsgmembers/internal/throttle"
)

// Services are the authority operations the handlers call.
type Services struct {
	Auth         *auth.Service
	Resets       *auth.PasswordResetService
	Registration *auth.RegistrationService
	Coordinator  *auth.Coordinator
	Guard        *auth.Guard
}

func (s Services) validate() error {
	if s.Auth == nil || s.Resets == nil || s.Registration == nil || s.Coordinator == nil || s.Guard == nil {
		return oops.Code("HTTPAPI_SERVICES_MISSING").Errorf("all services are required")
	}
	return nil
}

// Options configures the router's cross-cutting middleware. Nil fields turn
// the corresponding middleware off, except Logger which defaults to
// slog.Default.
type Options struct {
	Limiter throttle.Limiter
	Metrics *observability.Metrics
	Logger  *slog.Logger
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers decide the client IP. Empty means the peer address is the client.
	TrustedProxies []string
}

type handlers struct {
	svc    Services
	logger *slog.Logger
	events *observability.Metrics
}

// NewRouter builds the gin engine serving the API.
func NewRouter(svc Services, opts Options) (*gin.Engine, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	useJSONFieldNames()

	h := &handlers{svc: svc, logger: logger, events: opts.Metrics}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, oops.Code("HTTPAPI_PROXIES_INVALID").With("proxies", opts.TrustedProxies).Wrap(err)
	}
	r.Use(
		recovery(logger),
		requestID(),
		accessLog(logger),
		observe(opts.Metrics),
	)
	r.NoRoute(func(c *gin.Context) { writeStatus(c, http.StatusNotFound, "not found") })
	r.NoMethod(func(c *gin.Context) { writeStatus(c, http.StatusMethodNotAllowed, "method not allowed") })

	throttled := throttleClients(opts.Limiter, opts.Metrics)

	login := r.Group("/user-auth", throttled)
	login.POST("/login", h.login)
	login.DELETE("/logout", h.requireRole(auth.RoleAuthenticated), h.logout)

	resets := r.Group("/password-resets", throttled)
	resets.POST("", h.requestReset)
	resets.POST("/:id", h.confirmReset)

	r.POST("/user-registration", throttled, h.register)
	r.POST("/user-email-verifications/:id", h.verifyEmail)

	profiles := r.Group("/user-profiles", h.requireRole(auth.RoleAuthenticated))
	profiles.GET("/self", h.self)
	profiles.POST("/update-details", h.updateDetails)
	profiles.POST("/update-password", h.updatePassword)

	admin := r.Group("/admin", h.requireRole(auth.RoleAdmin))
	admin.GET("/is-admin", h.isAdmin)
	admin.POST("/user-management/:id/add-membership", h.setMembership(true))
	admin.POST("/user-management/:id/remove-membership", h.setMembership(false))
	admin.POST("/user-management/:id/ban", h.ban)

	return r, nil
}

func (h *handlers) record(event, outcome string) {
	if h.events != nil {
		h.events.RecordAuthEvent(event, outcome)
	}
}
