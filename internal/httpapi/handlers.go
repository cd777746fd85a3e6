// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, token, err := h.svc.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.record("login", "rejected")
		h.writeError(c, "login", err)
		return
	}

	h.record("login", "issued")
	c.JSON(http.StatusCreated, newLoginResponse(user, token))
}

func (h *handlers) logout(c *gin.Context) {
	token := currentToken(c)
	if err := h.svc.Auth.Logout(c.Request.Context(), token.Value); err != nil {
		h.writeError(c, "logout", err)
		return
	}

	h.record("logout", "revoked")
	c.Status(http.StatusNoContent)
}

func (h *handlers) requestReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	summary, err := h.svc.Resets.RequestReset(c.Request.Context(), req.Email)
	if err != nil {
		h.writeError(c, "request password reset", err)
		return
	}

	c.JSON(http.StatusCreated, newResetResponse(summary))
}

func (h *handlers) confirmReset(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		// Malformed ids are reported like unusable ones.
		writeStatus(c, http.StatusNotFound, "not found")
		return
	}
	var req resetConfirmation
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.svc.Resets.ConfirmReset(c.Request.Context(), id, req.Email, req.Code, req.NewPassword)
	if err != nil {
		h.record("password_reset", "rejected")
		h.writeError(c, "confirm password reset", err)
		return
	}

	h.record("password_reset", "confirmed")
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handlers) register(c *gin.Context) {
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.svc.Registration.Register(c.Request.Context(), auth.RegisterInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrMailUndelivered) && user != nil {
			h.logger.WarnContext(c.Request.Context(), "registered without verification mail",
				"user_id", user.ID.String())
		}
		h.writeError(c, "register", err)
		return
	}

	c.JSON(http.StatusCreated, newUserResponse(user))
}

func (h *handlers) verifyEmail(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeStatus(c, http.StatusNotFound, "not found")
		return
	}
	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.svc.Registration.VerifyEmail(c.Request.Context(), id, req.Code)
	if err != nil {
		h.writeError(c, "verify email", err)
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handlers) self(c *gin.Context) {
	c.JSON(http.StatusOK, newUserResponse(currentUser(c)))
}

func (h *handlers) updateDetails(c *gin.Context) {
	var req profileDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.svc.Coordinator.UpdateDetails(c.Request.Context(), currentUser(c).ID, req.update())
	if err != nil {
		h.writeError(c, "update details", err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handlers) updatePassword(c *gin.Context) {
	var req passwordChange
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.svc.Coordinator.ChangePassword(c.Request.Context(), currentUser(c).ID, req.OldPassword, req.NewPassword)
	if err != nil {
		h.writeError(c, "change password", err)
		return
	}

	h.record("password_change", "applied")
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handlers) isAdmin(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"is_admin": true})
}

func (h *handlers) setMembership(member bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c)
		if err != nil {
			h.writeError(c, "set membership", err)
			return
		}

		user, err := h.svc.Coordinator.SetMembership(c.Request.Context(), id, member)
		if err != nil {
			h.writeError(c, "set membership", err)
			return
		}

		c.JSON(http.StatusOK, newUserResponse(user))
	}
}

func (h *handlers) ban(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.writeError(c, "ban", err)
		return
	}

	user, err := h.svc.Coordinator.Ban(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "ban", err)
		return
	}

	h.record("ban", "applied")
	h.logger.InfoContext(c.Request.Context(), "admin action",
		"action", "ban",
		"user_id", user.ID.String(),
		"admin_id", currentUser(c).ID.String())
	c.JSON(http.StatusOK, newUserResponse(user))
}
