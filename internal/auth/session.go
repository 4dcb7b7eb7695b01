package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/errs"
	"github.com/org/teamvault/internal/storage"
	"github.com/org/teamvault/pkg/models"
)

// DefaultSessionTTL is used when no TTL is configured.
const DefaultSessionTTL = 12 * time.Hour

// SessionService issues and validates opaque bearer sessions. Only the
// SHA-256 hash of a token is ever persisted.
type SessionService struct {
	store storage.Backend
	ttl   time.Duration
}

// NewSessionService creates a SessionService backed by the given storage.
func NewSessionService(store storage.Backend, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{store: store, ttl: ttl}
}

// Login verifies credentials and issues a new session. Returns the user and
// the plaintext token (shown once to the caller). Inactive accounts and bad
// credentials are indistinguishable to the caller.
func (s *SessionService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: incorrect email or password", errs.ErrForbidden)
		}
		return nil, "", err
	}
	if !user.IsActive || !crypto.VerifyPassword(password, user.PasswordHash) {
		return nil, "", fmt.Errorf("%w: incorrect email or password", errs.ErrForbidden)
	}

	plaintext, err := crypto.NewSessionToken()
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, session, crypto.HashToken(plaintext)); err != nil {
		return nil, "", fmt.Errorf("persisting session: %w", err)
	}
	return user, plaintext, nil
}

// Validate resolves a bearer token to its user. Fails for unknown, expired
// or revoked sessions and for deactivated users.
func (s *SessionService) Validate(ctx context.Context, plaintext string) (*models.User, *models.Session, error) {
	session, err := s.store.GetSessionByTokenHash(ctx, crypto.HashToken(plaintext))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errors.New("invalid session token")
		}
		return nil, nil, err
	}
	if session.IsRevoked() {
		return nil, nil, errors.New("session has been revoked")
	}
	if session.IsExpired() {
		return nil, nil, errors.New("session has expired")
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, errors.New("invalid session token")
	}
	if !user.IsActive {
		return nil, nil, errors.New("account is deactivated")
	}
	return user, session, nil
}

// Logout revokes the session.
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	return s.store.RevokeSession(ctx, sessionID)
}
