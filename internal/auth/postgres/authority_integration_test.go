// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

//go:build integration

package postgres_test

import (
	"context"
	"regexp"
	"sync"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/internal/auth/authtest"
	"github.com/hackerspacesg/hsgmembers/internal/auth/postgres"
)

var (
	codePattern = regexp.MustCompile(`Code: (\S+)`)
	idPattern   = regexp.MustCompile(`(?:Reset|Verification) ID: (\S+)`)
)

type authority struct {
	users  *postgres.UserRepository
	tokens *auth.TokenService
	login  *auth.Service
	resets *auth.PasswordResetService
	reg    *auth.RegistrationService
	coord  *auth.Coordinator
	mailer *authtest.Mailer
}

func newAuthority() *authority {
	hasher := authtest.FastHasher()
	tx := postgres.NewTransactor(testPool)
	users := postgres.NewUserRepository(testPool)
	mailer := &authtest.Mailer{}

	tokens, err := auth.NewTokenService(users, postgres.NewTokenRepository(testPool), tx, hasher)
	Expect(err).NotTo(HaveOccurred())
	login, err := auth.NewAuthService(users, tokens, hasher)
	Expect(err).NotTo(HaveOccurred())
	resets, err := auth.NewPasswordResetService(users, postgres.NewPasswordResetRepository(testPool), tokens, tx, hasher, mailer)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(resets.Drain)
	reg, err := auth.NewRegistrationService(users, postgres.NewVerificationRepository(testPool), tx, hasher, mailer)
	Expect(err).NotTo(HaveOccurred())
	coord, err := auth.NewCoordinator(users, tokens, postgres.NewEventRepository(testPool), tx, hasher, nil)
	Expect(err).NotTo(HaveOccurred())

	return &authority{users: users, tokens: tokens, login: login, resets: resets, reg: reg, coord: coord, mailer: mailer}
}

// registerVerified registers email and confirms it through the mailed code.
func (a *authority) registerVerified(ctx context.Context, email string) *auth.User {
	_, err := a.reg.Register(ctx, auth.RegisterInput{
		Email: email, FirstName: "Test", LastName: "User", Password: "password123",
	})
	Expect(err).NotTo(HaveOccurred())
	id, code := a.lastCode(email)
	user, err := a.reg.VerifyEmail(ctx, id, code)
	Expect(err).NotTo(HaveOccurred())
	return user
}

func (a *authority) lastCode(email string) (ulid.ULID, string) {
	sent := a.mailer.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].To == email {
			return ulid.MustParse(idPattern.FindStringSubmatch(sent[i].Body)[1]),
				codePattern.FindStringSubmatch(sent[i].Body)[1]
		}
	}
	Fail("no mail sent to " + email)
	return ulid.ULID{}, ""
}

var _ = Describe("Credential and session authority on PostgreSQL", func() {
	var a *authority

	BeforeEach(func() {
		a = newAuthority()
	})

	It("rejects a duplicate email regardless of case", func(ctx SpecContext) {
		a.registerVerified(ctx, "dup@example.org")
		_, err := a.reg.Register(ctx, auth.RegisterInput{
			Email: "DUP@example.org", FirstName: "A", LastName: "B", Password: "x",
		})
		Expect(err).To(MatchError(auth.ErrEmailTaken))
	})

	It("looks up users by email regardless of case", func(ctx SpecContext) {
		user := a.registerVerified(ctx, "lookup@example.org")
		found, err := a.users.GetByEmail(ctx, "LookUp@Example.org")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(user.ID))
	})

	It("updates profile details without touching sessions", func(ctx SpecContext) {
		user := a.registerVerified(ctx, "details@example.org")
		_, token, err := a.login.Login(ctx, "details@example.org", "password123")
		Expect(err).NotTo(HaveOccurred())

		name, public := "Augusta", true
		updated, err := a.coord.UpdateDetails(ctx, user.ID, auth.ProfileUpdate{FirstName: &name, IsPublic: &public})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.FirstName).To(Equal("Augusta"))
		Expect(updated.LastName).To(Equal("User"))
		Expect(updated.IsPublic).To(BeTrue())
		Expect(a.tokens.Verify(ctx, token.Value)).To(BeTrue())
	})

	It("issues tokens that carry the owner's roles", func(ctx SpecContext) {
		user := a.registerVerified(ctx, "roles@example.org")
		_, token, err := a.login.Login(ctx, "roles@example.org", "password123")
		Expect(err).NotTo(HaveOccurred())

		Expect(a.tokens.Verify(ctx, token.Value)).To(BeTrue())
		Expect(a.tokens.VerifyWithRole(ctx, token.Value, auth.RoleMember)).To(BeFalse())

		_, err = a.coord.SetMembership(ctx, user.ID, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.tokens.VerifyWithRole(ctx, token.Value, auth.RoleMember)).To(BeTrue())
		Expect(a.tokens.VerifyWithRole(ctx, token.Value, auth.RoleAdmin)).To(BeFalse())
	})

	It("bans atomically against concurrent logins", func(ctx SpecContext) {
		user := a.registerVerified(ctx, "banned@example.org")
		eventID := ulid.Make()
		_, err := testPool.Exec(ctx,
			`INSERT INTO space_events (id, organizer_id, title) VALUES ($1, $2, 'Soldering night')`,
			eventID.String(), user.ID.String())
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, _, _ = a.login.Login(ctx, "banned@example.org", "password123")
			}()
		}
		banned, err := a.coord.Ban(ctx, user.ID)
		wg.Wait()
		Expect(err).NotTo(HaveOccurred())
		Expect(banned.IsBanned).To(BeTrue())

		var usable int
		Expect(testPool.QueryRow(ctx,
			`SELECT count(*) FROM login_tokens WHERE user_id = $1 AND is_valid`, user.ID.String()).
			Scan(&usable)).To(Succeed())
		Expect(usable).To(BeZero())

		var eventValid bool
		Expect(testPool.QueryRow(ctx,
			`SELECT is_valid FROM space_events WHERE id = $1`, eventID.String()).
			Scan(&eventValid)).To(Succeed())
		Expect(eventValid).To(BeFalse())
	})

	It("confirms a reset exactly once under concurrency", func(ctx SpecContext) {
		a.registerVerified(ctx, "reset@example.org")
		_, before, err := a.login.Login(ctx, "reset@example.org", "password123")
		Expect(err).NotTo(HaveOccurred())

		_, err = a.resets.RequestReset(ctx, "reset@example.org")
		Expect(err).NotTo(HaveOccurred())
		a.resets.Drain()
		id, code := a.lastCode("reset@example.org")

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for range 6 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				if _, err := a.resets.ConfirmReset(ctx, id, "reset@example.org", code, "fresh-password"); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(successes).To(Equal(1))
		Expect(a.tokens.Verify(ctx, before.Value)).To(BeFalse())
		_, _, err = a.login.Login(ctx, "reset@example.org", "fresh-password")
		Expect(err).NotTo(HaveOccurred())
	})

	It("changes a password and revokes every session", func(ctx SpecContext) {
		user := a.registerVerified(ctx, "change@example.org")
		_, token, err := a.login.Login(ctx, "change@example.org", "password123")
		Expect(err).NotTo(HaveOccurred())

		_, err = a.coord.ChangePassword(ctx, user.ID, "wrong", "next-password")
		Expect(err).To(MatchError(auth.ErrWrongPassword))
		Expect(a.tokens.Verify(ctx, token.Value)).To(BeTrue())

		_, err = a.coord.ChangePassword(ctx, user.ID, "password123", "next-password")
		Expect(err).NotTo(HaveOccurred())
		Expect(a.tokens.Verify(ctx, token.Value)).To(BeFalse())
	})
})
