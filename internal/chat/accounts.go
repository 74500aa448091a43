package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/PaulBabatuyi/pairchat/internal/auth"
	"github.com/PaulBabatuyi/pairchat/internal/data"
	"github.com/PaulBabatuyi/pairchat/internal/normalize"
	"go.uber.org/zap"
)

const minPasswordLen = 6

// Session is returned by Register and Login.
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      data.PublicUser `json:"user"`
}

// UserStatus is a directory entry with live presence.
type UserStatus struct {
	data.PublicUser
	Online bool `json:"online"`
}

func validateCredentials(email, password string) (string, error) {
	email = normalize.Email(email)
	if email == "" || password == "" {
		return "", apperr.Validation("email and password are required")
	}
	if !strings.Contains(email, "@") {
		return "", apperr.Validation("email is invalid")
	}
	return email, nil
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, apperr.Validationf("password must be at least %d characters", minPasswordLen)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}
	user, err := s.store.CreateUser(ctx, email, hash)
	if errors.Is(err, data.ErrDuplicate) {
		return nil, apperr.Conflict("email already registered")
	}
	if err != nil {
		return nil, apperr.Storage("create user", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID))
	return s.session(user)
}

// Login checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.Auth(apperr.AuthInvalid, "invalid credentials", nil)
	}
	if err != nil {
		return nil, apperr.Storage("find user", err)
	}
	if err := auth.CheckPassword(user.Password, password); err != nil {
		return nil, apperr.Auth(apperr.AuthInvalid, "invalid credentials", nil)
	}
	return s.session(user)
}

func (s *Service) session(user *data.User) (*Session, error) {
	token, exp, err := s.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	return &Session{Token: token, ExpiresAt: exp, User: user.Public()}, nil
}

// Me returns the caller's public profile.
func (s *Service) Me(ctx context.Context, userID string) (*data.PublicUser, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Storage("find user", err)
	}
	p := user.Public()
	return &p, nil
}

// ListUsers returns everyone but the caller, annotated with presence.
func (s *Service) ListUsers(ctx context.Context, userID string) ([]UserStatus, error) {
	users, err := s.store.ListUsersExcept(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("list users", err)
	}
	out := make([]UserStatus, 0, len(users))
	for _, u := range users {
		out = append(out, UserStatus{PublicUser: u.Public(), Online: s.hub.IsOnline(u.ID)})
	}
	return out, nil
}
