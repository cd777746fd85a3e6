// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package authtest provides in-memory implementations of the auth
// repositories for service tests.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
)

// Event is the slice of a space event the ban cascade touches.
type Event struct {
	ID          ulid.ULID
	OrganizerID ulid.ULID
	IsValid     bool
}

type state struct {
	users         map[ulid.ULID]auth.User
	tokens        map[ulid.ULID]auth.LoginToken
	resets        map[ulid.ULID]auth.PasswordReset
	verifications map[ulid.ULID]auth.EmailVerification
	events        map[ulid.ULID]Event
}

func (s state) clone() state {
	c := state{
		users:         make(map[ulid.ULID]auth.User, len(s.users)),
		tokens:        make(map[ulid.ULID]auth.LoginToken, len(s.tokens)),
		resets:        make(map[ulid.ULID]auth.PasswordReset, len(s.resets)),
		verifications: make(map[ulid.ULID]auth.EmailVerification, len(s.verifications)),
		events:        make(map[ulid.ULID]Event, len(s.events)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.resets {
		c.resets[k] = v
	}
	for k, v := range s.verifications {
		c.verifications[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

// Store is an in-memory credential store. It implements every auth
// repository plus auth.Transactor. Transactions are serialized and rolled
// back by restoring a snapshot.
type Store struct {
	txMu sync.Mutex // held for the whole of a transaction

	mu    sync.Mutex
	data  state
	fails map[string]error
}

type txMarker struct{}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		data: state{
			users:         make(map[ulid.ULID]auth.User),
			tokens:        make(map[ulid.ULID]auth.LoginToken),
			resets:        make(map[ulid.ULID]auth.PasswordReset),
			verifications: make(map[ulid.ULID]auth.EmailVerification),
			events:        make(map[ulid.ULID]Event),
		},
		fails: make(map[string]error),
	}
}

// FailOn makes the named repository method return err until cleared with a
// nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fails, method)
		return
	}
	s.fails[method] = err
}

// fail must be called with mu held.
func (s *Store) fail(method string) error {
	if err, ok := s.fails[method]; ok {
		return oops.With("method", method).Wrap(err)
	}
	return nil
}

// InTransaction implements auth.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
	}
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		rollback()
		return err
	}
	return nil
}

// Users returns a UserRepository view of the store.
func (s *Store) Users() auth.UserRepository { return userRepo{s} }

// Tokens returns a TokenRepository view of the store.
func (s *Store) Tokens() auth.TokenRepository { return tokenRepo{s} }

// Resets returns a PasswordResetRepository view of the store.
func (s *Store) Resets() auth.PasswordResetRepository { return resetRepo{s} }

// Verifications returns a VerificationRepository view of the store.
func (s *Store) Verifications() auth.VerificationRepository { return verificationRepo{s} }

// Events returns an OrganizedResources view of the store.
func (s *Store) Events() auth.OrganizedResources { return eventRepo{s} }

// AddEvent stores a valid event organized by organizerID.
func (s *Store) AddEvent(organizerID ulid.ULID) ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.Make()
	s.data.events[id] = Event{ID: id, OrganizerID: organizerID, IsValid: true}
	return id
}

// Event returns a stored event.
func (s *Store) Event(id ulid.ULID) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.events[id]
	return e, ok
}

// Token returns a stored token regardless of validity.
func (s *Store) Token(id ulid.ULID) (auth.LoginToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.tokens[id]
	return t, ok
}

// TokensFor returns every stored token of userID.
func (s *Store) TokensFor(userID ulid.ULID) []auth.LoginToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.LoginToken
	for _, t := range s.data.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// Reset returns a stored reset record.
func (s *Store) Reset(id ulid.ULID) (auth.PasswordReset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.resets[id]
	return r, ok
}

// ResetCount returns how many reset records exist.
func (s *Store) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.resets)
}

// VerificationsFor returns every verification record of userID.
func (s *Store) VerificationsFor(userID ulid.ULID) []auth.EmailVerification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.EmailVerification
	for _, v := range s.data.verifications {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	return out
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *auth.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Users.Create"); err != nil {
		return err
	}
	for _, u := range r.s.data.users {
		if strings.EqualFold(u.Email, user.Email) {
			return oops.Code("USER_EMAIL_TAKEN").With("email", user.Email).Wrap(auth.ErrEmailTaken)
		}
	}
	r.s.data.users[user.ID] = *user
	return nil
}

func project(u auth.User, o auth.LookupOptions) (*auth.User, bool) {
	if o.ActiveOnly && (u.IsBanned || !u.IsVerified) {
		return nil, false
	}
	if !o.WithDigest {
		u.PasswordDigest = ""
	}
	return &u, true
}

func (r userRepo) GetByID(_ context.Context, id ulid.ULID, opts ...auth.LookupOption) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Users.GetByID"); err != nil {
		return nil, err
	}
	if u, ok := r.s.data.users[id]; ok {
		if out, ok := project(u, auth.ApplyLookupOptions(opts...)); ok {
			return out, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
}

func (r userRepo) GetByEmail(_ context.Context, email string, opts ...auth.LookupOption) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Users.GetByEmail"); err != nil {
		return nil, err
	}
	for _, u := range r.s.data.users {
		if strings.EqualFold(u.Email, email) {
			if out, ok := project(u, auth.ApplyLookupOptions(opts...)); ok {
				return out, nil
			}
			break
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r userRepo) UpdateFlags(_ context.Context, id ulid.ULID, update auth.FlagUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Users.UpdateFlags"); err != nil {
		return err
	}
	u, ok := r.s.data.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	update.Apply(&u)
	u.UpdatedAt = time.Now().UTC()
	r.s.data.users[id] = u
	return nil
}

func (r userRepo) UpdateProfile(_ context.Context, id ulid.ULID, update auth.ProfileUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Users.UpdateProfile"); err != nil {
		return err
	}
	u, ok := r.s.data.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	update.Apply(&u)
	u.UpdatedAt = time.Now().UTC()
	r.s.data.users[id] = u
	return nil
}

func (r userRepo) UpdatePassword(_ context.Context, id ulid.ULID, digest string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Users.UpdatePassword"); err != nil {
		return err
	}
	u, ok := r.s.data.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.PasswordDigest = digest
	u.UpdatedAt = time.Now().UTC()
	r.s.data.users[id] = u
	return nil
}

// Lock returns the row; transactions are already serialized by the store.
func (r userRepo) Lock(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if ctx.Value(txMarker{}) == nil {
		return nil, oops.Code("USER_LOCK_OUTSIDE_TX").Errorf("lock requires a transaction")
	}
	return r.GetByID(ctx, id, auth.WithDigest())
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(_ context.Context, token *auth.LoginToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tokens.Create"); err != nil {
		return err
	}
	for _, t := range r.s.data.tokens {
		if t.Value == token.Value {
			return oops.Code("TOKEN_DUPLICATE").Errorf("duplicate token value")
		}
	}
	r.s.data.tokens[token.ID] = *token
	return nil
}

func (r tokenRepo) FindUsable(_ context.Context, value string, now time.Time) (*auth.LoginToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tokens.FindUsable"); err != nil {
		return nil, err
	}
	for _, t := range r.s.data.tokens {
		if t.Value == value && t.UsableAt(now) {
			return &t, nil
		}
	}
	return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r tokenRepo) ExistsWithRole(_ context.Context, value string, role auth.Role, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tokens.ExistsWithRole"); err != nil {
		return false, err
	}
	for _, t := range r.s.data.tokens {
		if t.Value != value || !t.UsableAt(now) {
			continue
		}
		u, ok := r.s.data.users[t.UserID]
		return ok && u.HasRole(role), nil
	}
	return false, nil
}

func (r tokenRepo) Invalidate(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tokens.Invalidate"); err != nil {
		return err
	}
	if t, ok := r.s.data.tokens[id]; ok {
		t.IsValid = false
		r.s.data.tokens[id] = t
	}
	return nil
}

func (r tokenRepo) InvalidateAllForUser(_ context.Context, userID ulid.ULID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Tokens.InvalidateAllForUser"); err != nil {
		return 0, err
	}
	var n int64
	for id, t := range r.s.data.tokens {
		if t.UserID == userID && t.IsValid {
			t.IsValid = false
			r.s.data.tokens[id] = t
			n++
		}
	}
	return n, nil
}

type resetRepo struct{ s *Store }

func (r resetRepo) Create(_ context.Context, reset *auth.PasswordReset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Resets.Create"); err != nil {
		return err
	}
	r.s.data.resets[reset.ID] = *reset
	return nil
}

func (r resetRepo) FindUsable(_ context.Context, id ulid.ULID, email, codeHash string, now time.Time) (*auth.PasswordReset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Resets.FindUsable"); err != nil {
		return nil, err
	}
	rec, ok := r.s.data.resets[id]
	if !ok || !rec.IsValid || !now.Before(rec.ExpiresAt) ||
		!strings.EqualFold(rec.Email, email) || rec.CodeHash != codeHash {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &rec, nil
}

func (r resetRepo) Consume(_ context.Context, id ulid.ULID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Resets.Consume"); err != nil {
		return err
	}
	rec, ok := r.s.data.resets[id]
	if !ok || !rec.IsValid || !now.Before(rec.ExpiresAt) {
		return oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	rec.IsValid = false
	r.s.data.resets[id] = rec
	return nil
}

type verificationRepo struct{ s *Store }

func (r verificationRepo) Create(_ context.Context, v *auth.EmailVerification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Verifications.Create"); err != nil {
		return err
	}
	r.s.data.verifications[v.ID] = *v
	return nil
}

func (r verificationRepo) FindUsable(_ context.Context, id ulid.ULID, codeHash string, now time.Time) (*auth.EmailVerification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.data.verifications[id]
	if !ok || !v.IsValid || !now.Before(v.ExpiresAt) || v.CodeHash != codeHash {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &v, nil
}

func (r verificationRepo) Consume(_ context.Context, id ulid.ULID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.data.verifications[id]
	if !ok || !v.IsValid || !now.Before(v.ExpiresAt) {
		return oops.Code("VERIFICATION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	v.IsValid = false
	r.s.data.verifications[id] = v
	return nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) InvalidateByOrganizer(_ context.Context, userID ulid.ULID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Events.InvalidateByOrganizer"); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range r.s.data.events {
		if e.OrganizerID == userID && e.IsValid {
			e.IsValid = false
			r.s.data.events[id] = e
			n++
		}
	}
	return n, nil
}

// Compile-time interface checks.
var (
	_ auth.Transactor              = (*Store)(nil)
	_ auth.UserRepository          = userRepo{}
	_ auth.TokenRepository         = tokenRepo{}
	_ auth.PasswordResetRepository = resetRepo{}
	_ auth.VerificationRepository  = verificationRepo{}
	_ auth.OrganizedResources      = eventRepo{}
)
