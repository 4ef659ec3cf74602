package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingFields      = errors.New("missing required fields")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrPasswordTooLong    = errors.New("password too long")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service implements registration and login on top of a Store.
type Service struct {
	store Store
	cost  int
	now   func() time.Time
	// dummyHash is compared against when the email is unknown so both
	// failure paths take the same time.
	dummyHash []byte
}

// NewService creates a Service. cost <= 0 selects bcrypt.DefaultCost.
func NewService(store Store, cost int) *Service {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("truthtag-dummy"), cost)
	return &Service{store: store, cost: cost, now: time.Now, dummyHash: dummy}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, email, password, name string) (*User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" || name == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, ErrPasswordTooLong
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks credentials. Unknown email and wrong password both
// return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	u, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns the user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// RecordVerification bumps the user's verification counter.
func (s *Service) RecordVerification(ctx context.Context, id string) error {
	return s.store.IncrementVerifications(ctx, id)
}
