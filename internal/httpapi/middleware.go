// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/internal/logging"
	"github.com/hackerspacesg/hsgmembers/internal/observability"
	"github.com/hackerspacesg/hsgmembers/internal/throttle"
	"github.com/hackerspacesg/hsgmembers/pkg/errutil"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-ID"

const (
	requestIDKey = "request_id"
	tokenKey     = "auth_token"
	userKey      = "auth_user"
)

// unmatchedRoute labels requests that hit no route.
const unmatchedRoute = "unmatched"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ulid.Make().String()
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", route(c)),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

func observe(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		metrics.ObserveRequest(route(c), c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic serving request",
			"route", route(c),
			"panic", recovered,
		)
		writeStatus(c, http.StatusInternalServerError, "internal server error")
	})
}

// throttleClients admits requests per client IP through limiter. A nil
// limiter admits everything.
func throttleClients(limiter throttle.Limiter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Admit(c.ClientIP()) {
			c.Next()
			return
		}
		if metrics != nil {
			metrics.RecordAuthEvent("throttle", "rejected")
		}
		writeStatus(c, http.StatusTooManyRequests, "too many requests")
	}
}

// requireRole authenticates the bearer token and checks its owner holds
// role. Any failure other than a store error is 403 with no reason given.
func (h *handlers) requireRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		token, user, err := h.svc.Guard.Authenticate(ctx, c.GetHeader("Authorization"))
		if err == nil {
			err = auth.RequireRole(user, role)
		}
		if err != nil {
			if !errors.Is(err, auth.ErrForbidden) {
				errutil.LogErrorContext(ctx, h.logger, "guard failed", err)
				writeStatus(c, http.StatusInternalServerError, "internal server error")
				return
			}
			h.record("guard", "denied")
			writeStatus(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Set(tokenKey, token)
		c.Set(userKey, user)
		c.Next()
	}
}

func currentToken(c *gin.Context) *auth.LoginToken {
	if v, ok := c.Get(tokenKey); ok {
		if token, ok := v.(*auth.LoginToken); ok {
			return token
		}
	}
	return nil
}

func currentUser(c *gin.Context) *auth.User {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(*auth.User); ok {
			return user
		}
	}
	return nil
}
