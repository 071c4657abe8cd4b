// Package authpw provides email/password sign-up and sign-in for members.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"artive/api/internal/store"
	"artive/api/internal/util"
)

const minPasswordLength = 8

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports a request that failed input checks.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost returns a copy of the service hashing with the given bcrypt cost.
func (s *Service) WithCost(cost int) *Service {
	next := *s
	next.cost = cost
	return &next
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a member account and returns it without its password hash.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return store.User{}, &ValidationError{Message: "email, password, and display name are required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, &ValidationError{Message: "email is not valid"}
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, &ValidationError{Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return store.User{}, ErrEmailTaken
	case !errors.Is(err, sql.ErrNoRows):
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID(),
		DisplayName:  name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "member",
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	user.PasswordHash = ""
	return user, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return store.User{}, &ValidationError{Message: "email and password are required"}
	}

	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}
