package services

import (
	"context"
	"errors"
	"strings"

	"github.com/medreq/apiserver/internal/store"
	"github.com/medreq/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// Session is the explicit per-request session object. Its identifier is
// the id of the authenticated user; there is no server-side session
// state beyond the users table.
type Session struct {
	UserID int
}

// NewSession returns the session of an authenticated user.
func NewSession(user types.User) Session {
	return Session{UserID: user.ID}
}

// ID returns the opaque session identifier.
func (s Session) ID() int {
	return s.UserID
}

// Valid reports whether the session carries an identifier at all.
func (s Session) Valid() bool {
	return s.UserID > 0
}

// SessionManager authenticates users and resolves sessions.
type SessionManager struct {
	repo      UserRepository
	hashCost  int
	dummyHash []byte
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) SessionOption {
	return func(s *SessionManager) {
		s.hashCost = cost
	}
}

func NewSessionManager(repo UserRepository, opts ...SessionOption) *SessionManager {
	s := &SessionManager{
		repo:     repo,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Compared against on unknown emails so both failure paths cost one
	// bcrypt comparison.
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("medreq-unknown-account"), s.hashCost)
	return s
}

// maxPasswordBytes is the longest password bcrypt will hash.
const maxPasswordBytes = 72

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and returns it. The returned user's id is
// the new session identifier.
func (s *SessionManager) Register(ctx context.Context, email, password string, role types.Role) (types.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, ErrMissingCredentials
	}
	if len(password) > maxPasswordBytes {
		return types.User{}, ErrPasswordTooLong
	}
	role, ok := types.ParseRole(string(role))
	if !ok {
		return types.User{}, ErrInvalidRole
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Role:         role,
		PasswordHash: string(hashed),
	})
	switch {
	case errors.Is(err, store.ErrDuplicateEmail):
		return types.User{}, ErrDuplicateEmail
	case errors.Is(err, store.ErrManagerExists):
		return types.User{}, ErrManagerAlreadyExists
	case err != nil:
		return types.User{}, err
	}
	return user, nil
}

// Login verifies credentials and returns the matching user.
func (s *SessionManager) Login(ctx context.Context, email, password string) (types.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, ErrMissingCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Resolve maps a session identifier back to its user. ok is false when
// the identifier no longer resolves; the caller must then clear the
// client-held session value.
func (s *SessionManager) Resolve(ctx context.Context, sessionID int) (types.User, bool, error) {
	if sessionID < 1 {
		return types.User{}, false, nil
	}
	user, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, false, nil
		}
		return types.User{}, false, err
	}
	return user, true, nil
}

// Logout clears the session value. There is no server-side state to
// invalidate.
func (s *SessionManager) Logout(session *Session) {
	if session != nil {
		*session = Session{}
	}
}
