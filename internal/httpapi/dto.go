// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package httpapi

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

var jsonNamesOnce sync.Once

// useJSONFieldNames makes validation errors name fields by their JSON key.
func useJSONFieldNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type resetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetConfirmation struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type registrationRequest struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

type verificationRequest struct {
	Code string `json:"code" binding:"required"`
}

type passwordChange struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// profileDetails is a partial update; omitted fields keep their value and
// unknown fields such as email are ignored.
type profileDetails struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	IsPublic  *bool   `json:"is_public"`
}

func (p profileDetails) update() auth.ProfileUpdate {
	return auth.ProfileUpdate{FirstName: p.FirstName, LastName: p.LastName, IsPublic: p.IsPublic}
}

// pathID parses the :id route parameter.
func pathID(c *gin.Context) (ulid.ULID, error) {
	raw := c.Param("id")
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code("HTTPAPI_BAD_ID").With("id", raw).Wrap(auth.ErrInvalidInput)
	}
	return id, nil
}

type userResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	IsAdmin    bool      `json:"is_admin"`
	IsVerified bool      `json:"is_verified"`
	IsMember   bool      `json:"is_member"`
	IsBanned   bool      `json:"is_banned"`
	IsPublic   bool      `json:"is_public"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:         u.ID.String(),
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsAdmin:    u.IsAdmin,
		IsVerified: u.IsVerified,
		IsMember:   u.IsMember,
		IsBanned:   u.IsBanned,
		IsPublic:   u.IsPublic,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

type tokenResponse struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type loginResponse struct {
	User       userResponse  `json:"user"`
	LoginToken tokenResponse `json:"login_token"`
}

func newLoginResponse(u *auth.User, t *auth.LoginToken) loginResponse {
	return loginResponse{
		User: newUserResponse(u),
		LoginToken: tokenResponse{
			ID:        t.ID.String(),
			Value:     t.Value,
			ExpiresAt: t.ExpiresAt,
			CreatedAt: t.CreatedAt,
		},
	}
}

type resetResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func newResetResponse(s *auth.ResetSummary) resetResponse {
	return resetResponse{
		ID:        s.ID.String(),
		Email:     s.Email,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}
}
