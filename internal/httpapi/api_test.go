// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package httpapi_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackerspacesg/hsgmembers/internal/auth/authtest"
	"github.com/hackerspacesg/hsgmembers/internal/httpapi"
	"github.com/hackerspacesg/hsgmembers/pkg/errutil"
)

func TestNewRouter_RequiresServices(t *testing.T) {
	_, err := httpapi.NewRouter(httpapi.Services{}, httpapi.Options{})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	api := newAPI(t)
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org", Password: "analytical"})

	t.Run("issues a token", func(t *testing.T) {
		resp := api.do(t, http.MethodPost, "/user-auth/login", "", gin.H{
			"email": "Ada@Example.org", "password": "analytical",
		})
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

		body := resp.decode(t)
		u := body["user"].(map[string]any)
		assert.Equal(t, user.ID.String(), u["id"])
		assert.Equal(t, "ada@example.org", u["email"])
		assert.NotContains(t, u, "password_digest")

		token := body["login_token"].(map[string]any)
		assert.NotEmpty(t, token["value"])
		assert.NotEmpty(t, token["expires_at"])
	})

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"wrong password", gin.H{"email": "ada@example.org", "password": "difference"}, http.StatusUnprocessableEntity},
		{"unknown email", gin.H{"email": "nobody@example.org", "password": "analytical"}, http.StatusUnprocessableEntity},
		{"missing password", gin.H{"email": "ada@example.org"}, http.StatusBadRequest},
		{"malformed email", gin.H{"email": "ada", "password": "analytical"}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.do(t, http.MethodPost, "/user-auth/login", "", tt.body)
			assert.Equal(t, tt.wantStatus, resp.Code, resp.Body.String())
			assert.Contains(t, resp.decode(t), "error")
		})
	}
}

func TestLogin_BannedAndUnverifiedLookLikeBadCredentials(t *testing.T) {
	api := newAPI(t)
	api.seed(t, authtest.UserSpec{Email: "banned@example.org", IsBanned: true})
	api.seed(t, authtest.UserSpec{Email: "new@example.org", Unverified: true})

	for _, email := range []string{"banned@example.org", "new@example.org"} {
		resp := api.do(t, http.MethodPost, "/user-auth/login", "", gin.H{"email": email, "password": "password123"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code, email)
		assert.Equal(t, "incorrect login details", resp.decode(t)["error"])
	}
}

func TestValidationErrorsNameJSONFields(t *testing.T) {
	api := newAPI(t)

	resp := api.do(t, http.MethodPost, "/user-registration", "", gin.H{"email": "x@example.org", "password": "pw"})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	fields := resp.decode(t)["fields"].(map[string]any)
	assert.Equal(t, "required", fields["first_name"])
	assert.Equal(t, "required", fields["last_name"])
}

func TestThrottle(t *testing.T) {
	api := newAPI(t, withLimit(2))
	api.seed(t, authtest.UserSpec{Email: "ada@example.org"})
	creds := gin.H{"email": "ada@example.org", "password": "password123"}

	assert.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/user-auth/login", "", creds).Code)
	assert.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/user-auth/login", "", creds).Code)

	resp := api.do(t, http.MethodPost, "/user-auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)

	// The key is the client, not the route.
	resp = api.do(t, http.MethodPost, "/password-resets", "", gin.H{"email": "ada@example.org"})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		api.metrics.HTTPRequests.WithLabelValues("/user-auth/login", http.MethodPost, "429")))
	assert.Equal(t, 2.0, testutil.ToFloat64(api.metrics.AuthEvents.WithLabelValues("throttle", "rejected")))
}

func TestThrottle_IgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	api := newAPI(t, withLimit(1))
	body := `{"email":"nobody@example.org"}`

	codes := make([]int, 0, 2)
	for _, forwarded := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodPost, "/password-resets", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.RemoteAddr = "203.0.113.7:40000"
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestNewRouter_RejectsBadTrustedProxies(t *testing.T) {
	api := newAPI(t)
	_, err := httpapi.NewRouter(api.services, httpapi.Options{TrustedProxies: []string{"not-an-ip"}})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "HTTPAPI_PROXIES_INVALID")
}

func TestThrottle_GuardedRoutesAreNotThrottled(t *testing.T) {
	api := newAPI(t, withLimit(1))
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org"})
	bearer := api.bearer(t, user)

	for range 3 {
		assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/user-profiles/self", bearer, nil).Code)
	}
}

func TestLogout(t *testing.T) {
	api := newAPI(t)
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org"})
	bearer := api.bearer(t, user)

	resp := api.do(t, http.MethodDelete, "/user-auth/logout", bearer, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodDelete, "/user-auth/logout", bearer, nil).Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodDelete, "/user-auth/logout", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/user-profiles/self", bearer, nil).Code)
}

func TestGuard_HeaderForms(t *testing.T) {
	api := newAPI(t)
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org"})
	bearer := api.bearer(t, user)
	value := bearer[len("Bearer "):]

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"canonical", "Bearer " + value, http.StatusOK},
		{"lowercase scheme", "bearer " + value, http.StatusOK},
		{"missing scheme", value, http.StatusForbidden},
		{"wrong scheme", "Basic " + value, http.StatusForbidden},
		{"extra part", "Bearer " + value + " x", http.StatusForbidden},
		{"unknown token", "Bearer bm9wZQ==", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, api.do(t, http.MethodGet, "/user-profiles/self", tt.header, nil).Code)
		})
	}
}

func TestGuard_StoreFailureIsServerError(t *testing.T) {
	api := newAPI(t)
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org"})
	bearer := api.bearer(t, user)

	api.store.FailOn("Tokens.FindUsable", errors.New("connection reset"))
	resp := api.do(t, http.MethodGet, "/user-profiles/self", bearer, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "connection reset")
}

func TestPasswordReset(t *testing.T) {
	api := newAPI(t)
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org", Password: "old-secret"})
	oldBearer := api.bearer(t, user)

	known := api.do(t, http.MethodPost, "/password-resets", "", gin.H{"email": "ada@example.org"})
	require.Equal(t, http.StatusCreated, known.Code, known.Body.String())
	knownBody := known.decode(t)

	unknown := api.do(t, http.MethodPost, "/password-resets", "", gin.H{"email": "ghost@example.org"})
	require.Equal(t, http.StatusCreated, unknown.Code)
	unknownBody := unknown.decode(t)

	for _, key := range []string{"id", "email", "expires_at", "created_at"} {
		assert.Contains(t, knownBody, key)
		assert.Contains(t, unknownBody, key)
	}
	assert.Len(t, unknownBody, len(knownBody), "responses have the same shape")
	assert.Equal(t, "ghost@example.org", unknownBody["email"])

	mail := api.lastMail(t)
	id := match(t, resetIDPattern, mail)
	code := match(t, codePattern, mail)
	assert.Equal(t, knownBody["id"], id)

	confirm := gin.H{"email": "ada@example.org", "code": code, "new_password": "new-secret"}

	resp := api.do(t, http.MethodPost, "/password-resets/"+id, "", gin.H{"email": "ada@example.org", "code": "guess", "new_password": "x"})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.do(t, http.MethodPost, "/password-resets/"+id, "", confirm)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, user.ID.String(), resp.decode(t)["id"])

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/password-resets/"+id, "", confirm).Code, "single use")
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/user-profiles/self", oldBearer, nil).Code)

	login := api.do(t, http.MethodPost, "/user-auth/login", "", gin.H{"email": "ada@example.org", "password": "new-secret"})
	assert.Equal(t, http.StatusCreated, login.Code)
}

func TestPasswordReset_BadRequests(t *testing.T) {
	api := newAPI(t)
	id := ulid.Make().String()

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"request without email", "/password-resets", gin.H{}, http.StatusBadRequest},
		{"request with malformed email", "/password-resets", gin.H{"email": "nope"}, http.StatusBadRequest},
		{"confirm with malformed id", "/password-resets/not-an-id", gin.H{"email": "a@example.org", "code": "c", "new_password": "p"}, http.StatusNotFound},
		{"confirm without code", "/password-resets/" + id, gin.H{"email": "a@example.org", "new_password": "p"}, http.StatusBadRequest},
		{"confirm unknown id", "/password-resets/" + id, gin.H{"email": "a@example.org", "code": "c", "new_password": "p"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, api.do(t, http.MethodPost, tt.path, "", tt.body).Code)
		})
	}
}

func TestRegistrationAndVerification(t *testing.T) {
	api := newAPI(t)
	input := gin.H{"email": "grace@example.org", "first_name": "Grace", "last_name": "Hopper", "password": "cobol"}

	resp := api.do(t, http.MethodPost, "/user-registration", "", input)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	body := resp.decode(t)
	assert.Equal(t, false, body["is_verified"])

	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodPost, "/user-registration", "", input).Code)

	mail := api.mailer.Sent()[0].Body
	id := match(t, verificationPattern, mail)
	code := match(t, codePattern, mail)

	assert.Equal(t, http.StatusBadRequest,
		api.do(t, http.MethodPost, "/user-email-verifications/"+id, "", gin.H{}).Code)
	assert.Equal(t, http.StatusNotFound,
		api.do(t, http.MethodPost, "/user-email-verifications/"+id, "", gin.H{"code": "wrong"}).Code)

	resp = api.do(t, http.MethodPost, "/user-email-verifications/"+id, "", gin.H{"code": code})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, true, resp.decode(t)["is_verified"])

	assert.Equal(t, http.StatusNotFound,
		api.do(t, http.MethodPost, "/user-email-verifications/"+id, "", gin.H{"code": code}).Code)

	login := api.do(t, http.MethodPost, "/user-auth/login", "", gin.H{"email": "grace@example.org", "password": "cobol"})
	assert.Equal(t, http.StatusCreated, login.Code)
}

func TestRegistration_MailDown(t *testing.T) {
	api := newAPI(t)
	api.mailer.FailWith(errors.New("smtp unavailable"))

	resp := api.do(t, http.MethodPost, "/user-registration", "", gin.H{
		"email": "grace@example.org", "first_name": "Grace", "last_name": "Hopper", "password": "cobol",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "email could not be sent", resp.decode(t)["error"])
}

func TestProfiles(t *testing.T) {
	api := newAPI(t)
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org", Password: "old-secret"})
	bearer := api.bearer(t, user)

	resp := api.do(t, http.MethodGet, "/user-profiles/self", bearer, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ada@example.org", resp.decode(t)["email"])

	resp = api.do(t, http.MethodPost, "/user-profiles/update-password", bearer,
		gin.H{"old_password": "not-it", "new_password": "new-secret"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "incorrect old password", resp.decode(t)["error"])

	resp = api.do(t, http.MethodPost, "/user-profiles/update-password", bearer, gin.H{"old_password": "old-secret"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.do(t, http.MethodPost, "/user-profiles/update-password", bearer,
		gin.H{"old_password": "old-secret", "new_password": "new-secret"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/user-profiles/self", bearer, nil).Code,
		"password change revokes every token")
}

func TestProfiles_UpdateDetails(t *testing.T) {
	api := newAPI(t)
	user := api.seed(t, authtest.UserSpec{Email: "ada@example.org"})
	bearer := api.bearer(t, user)

	resp := api.do(t, http.MethodPost, "/user-profiles/update-details", bearer, gin.H{"first_name": "Augusta"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := resp.decode(t)
	assert.Equal(t, user.ID.String(), body["id"])
	assert.Equal(t, "Augusta", body["first_name"])
	assert.Equal(t, "User", body["last_name"])
	assert.NotContains(t, body, "password_digest")

	resp = api.do(t, http.MethodPost, "/user-profiles/update-details", bearer, gin.H{"email": "other@example.org"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ada@example.org", resp.decode(t)["email"], "email is not a profile detail")

	resp = api.do(t, http.MethodPost, "/user-profiles/update-details", bearer, gin.H{"is_public": true, "last_name": "King"})
	require.Equal(t, http.StatusOK, resp.Code)
	body = resp.decode(t)
	assert.Equal(t, true, body["is_public"])
	assert.Equal(t, "King", body["last_name"])
	assert.Equal(t, "Augusta", body["first_name"])

	resp = api.do(t, http.MethodPost, "/user-profiles/update-details", bearer, gin.H{"first_name": " "})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.do(t, http.MethodPost, "/user-profiles/update-details", bearer, gin.H{"is_public": "yes"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.do(t, http.MethodPost, "/user-profiles/update-details", "", gin.H{"first_name": "Eve"})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = api.do(t, http.MethodGet, "/user-profiles/self", bearer, nil)
	assert.Equal(t, "Augusta", resp.decode(t)["first_name"])
}

func TestAdmin(t *testing.T) {
	api := newAPI(t)
	admin := api.seed(t, authtest.UserSpec{Email: "root@example.org", IsAdmin: true})
	member := api.seed(t, authtest.UserSpec{Email: "ada@example.org"})
	adminBearer := api.bearer(t, admin)
	memberBearer := api.bearer(t, member)
	event := api.store.AddEvent(member.ID)

	t.Run("is-admin", func(t *testing.T) {
		resp := api.do(t, http.MethodGet, "/admin/is-admin", adminBearer, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, true, resp.decode(t)["is_admin"])

		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/admin/is-admin", memberBearer, nil).Code)
		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/admin/is-admin", "", nil).Code)
	})

	t.Run("membership", func(t *testing.T) {
		path := "/admin/user-management/" + member.ID.String()

		resp := api.do(t, http.MethodPost, path+"/add-membership", adminBearer, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, true, resp.decode(t)["is_member"])

		resp = api.do(t, http.MethodPost, path+"/remove-membership", adminBearer, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, false, resp.decode(t)["is_member"])

		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, path+"/add-membership", memberBearer, nil).Code)
	})

	t.Run("bad ids", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest,
			api.do(t, http.MethodPost, "/admin/user-management/zzz/ban", adminBearer, nil).Code)
		assert.Equal(t, http.StatusNotFound,
			api.do(t, http.MethodPost, "/admin/user-management/"+ulid.Make().String()+"/add-membership", adminBearer, nil).Code)
	})

	t.Run("ban cascades", func(t *testing.T) {
		resp := api.do(t, http.MethodPost, "/admin/user-management/"+member.ID.String()+"/ban", adminBearer, nil)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.Equal(t, true, resp.decode(t)["is_banned"])

		for _, token := range api.store.TokensFor(member.ID) {
			assert.False(t, token.IsValid)
		}
		ev, ok := api.store.Event(event)
		require.True(t, ok)
		assert.False(t, ev.IsValid)

		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/user-profiles/self", memberBearer, nil).Code)
		login := api.do(t, http.MethodPost, "/user-auth/login", "", gin.H{"email": "ada@example.org", "password": "password123"})
		assert.Equal(t, http.StatusUnprocessableEntity, login.Code)
	})
}

func TestRequestIDAndUnknownRoutes(t *testing.T) {
	api := newAPI(t)

	resp := api.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	id := resp.Header().Get(httpapi.RequestIDHeader)
	require.NotEmpty(t, id)
	_, err := ulid.ParseStrict(id)
	assert.NoError(t, err)
	assert.Equal(t, id, resp.decode(t)["request_id"])

	resp = api.do(t, http.MethodGet, "/user-auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}
