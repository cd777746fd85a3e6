// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/pkg/errutil"
)

type errorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeStatus(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, RequestID: c.GetString(requestIDKey)})
}

// writeBindError reports a request body that failed to decode or validate.
func writeBindError(c *gin.Context, err error) {
	resp := errorResponse{Error: "invalid request", RequestID: c.GetString(requestIDKey)}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Fields[fe.Field()] = fe.Tag()
		}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}

// statusFor maps an authority error to its HTTP status and public message.
// Unrecognised errors are 500 and never leak their text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnprocessableEntity, "incorrect login details"
	case errors.Is(err, auth.ErrWrongPassword):
		return http.StatusUnprocessableEntity, "incorrect old password"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, auth.ErrMailUndelivered):
		return http.StatusInternalServerError, "email could not be sent"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError responds for err and logs it when it is a server fault.
func (h *handlers) writeError(c *gin.Context, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(c.Request.Context(), h.logger, op+" failed", err)
	}
	writeStatus(c, status, msg)
}
